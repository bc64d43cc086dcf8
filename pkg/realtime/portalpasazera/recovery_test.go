package portalpasazera

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBatch = `{"type":1,"target":"TrainStatus","arguments":["PL",[{"s":52.1,"d":21.0,"n":"101","p":"EIC","pr":"IC","t":4411,"c":"12:00:01"}]]}`

func TestParseMessageDirect(t *testing.T) {
	result := ParseMessage([]byte(testBatch))

	require.Len(t, result.Batches, 1)
	assert.Equal(t, testBatch, string(result.Batches[0]))
	assert.False(t, result.Malformed)
}

func TestParseMessageControlFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{name: "handshake response", frame: `{}`},
		{name: "whitespace", frame: "  \n"},
		{name: "acknowledgement", frame: `{"type":3,"invocationId":"0","result":null}`},
		{name: "ping", frame: `{"type":6}`},
		{name: "other invocation", frame: `{"type":1,"target":"Notice","arguments":[]}`},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := ParseMessage([]byte(test.frame))

			assert.True(t, result.Control)
			assert.Empty(t, result.Batches)
			assert.Empty(t, result.Updates)
			assert.False(t, result.Malformed)
		})
	}
}

func TestParseMessageClose(t *testing.T) {
	result := ParseMessage([]byte(`{"type":7,"error":"Server shutting down","allowReconnect":true}`))

	assert.True(t, result.Close)
}

func TestParseMessageSingleTrain(t *testing.T) {
	result := ParseMessage([]byte(`{"s":52.1,"d":21.0,"n":"101","p":"EIC"}`))

	require.Len(t, result.Updates, 1)
	assert.Empty(t, result.Batches)
}

func TestParseMessageConcatenated(t *testing.T) {
	frame := `{"type":3,"invocationId":"0","result":null}` + testBatch

	result := ParseMessage([]byte(frame))

	require.Len(t, result.Batches, 1)
	assert.Equal(t, testBatch, string(result.Batches[0]))
	assert.True(t, result.Control)
}

func TestParseMessageTrailingGarbage(t *testing.T) {
	result := ParseMessage([]byte(testBatch + `,"trunc`))

	require.Len(t, result.Batches, 1)
	assert.Equal(t, testBatch, string(result.Batches[0]))
}

func TestParseMessageUnbalancedPrefix(t *testing.T) {
	// The broken ping never closes so the split finds no top level object
	frame := `{"type":6,` + testBatch

	result := ParseMessage([]byte(frame))

	require.Len(t, result.Batches, 1)
	assert.Equal(t, testBatch, string(result.Batches[0]))
}

func TestParseMessageTruncatedStringPrefix(t *testing.T) {
	// Tail of the previous buffer, cut inside a quoted value
	frame := `abc","n":"5"}]]}` + testBatch

	result := ParseMessage([]byte(frame))

	require.Len(t, result.Batches, 1)
	assert.Equal(t, testBatch, string(result.Batches[0]))
	assert.False(t, result.Malformed)
}

func TestParseMessageMalformed(t *testing.T) {
	tests := []string{
		`not json at all`,
		`{"type":1,"target":"TrainStatus","arguments":["PL",[{"s":1`,
	}

	for _, frame := range tests {
		result := ParseMessage([]byte(frame))

		assert.True(t, result.Malformed, frame)
		assert.Empty(t, result.Batches)
	}
}

func TestSplitConcatenatedObjects(t *testing.T) {
	t.Run("two objects", func(t *testing.T) {
		objects := SplitConcatenatedObjects([]byte(`{"a":1}{"b":{"c":2}}`))

		require.Len(t, objects, 2)
		assert.Equal(t, `{"a":1}`, string(objects[0]))
		assert.Equal(t, `{"b":{"c":2}}`, string(objects[1]))
	})

	t.Run("braces and escaped quotes in strings", func(t *testing.T) {
		objects := SplitConcatenatedObjects([]byte(`{"a":"x}\"{y"}{"b":"\\"}`))

		require.Len(t, objects, 2)
		assert.Equal(t, `{"a":"x}\"{y"}`, string(objects[0]))
		assert.Equal(t, `{"b":"\\"}`, string(objects[1]))
	})

	t.Run("stray closing brace", func(t *testing.T) {
		objects := SplitConcatenatedObjects([]byte(`}{"a":1}`))

		require.Len(t, objects, 1)
		assert.Equal(t, `{"a":1}`, string(objects[0]))
	})

	t.Run("incomplete object returned whole", func(t *testing.T) {
		objects := SplitConcatenatedObjects([]byte(`{"a":1`))

		require.Len(t, objects, 1)
		assert.Equal(t, `{"a":1`, string(objects[0]))
	})

	t.Run("no object", func(t *testing.T) {
		assert.Empty(t, SplitConcatenatedObjects([]byte(`garbage`)))
	})
}

func TestExtractEnclosingObject(t *testing.T) {
	data := []byte(`{"type":6}{"target":"TrainStatus","arguments":[{"n":"}"}]}{"type":6}`)
	index := 11

	object, ok := ExtractEnclosingObject(data, index)
	require.True(t, ok)
	assert.Equal(t, `{"target":"TrainStatus","arguments":[{"n":"}"}]}`, string(object))

	_, ok = ExtractEnclosingObject([]byte(`"target":"TrainStatus"}`), 0)
	assert.False(t, ok)

	_, ok = ExtractEnclosingObject([]byte(`{"target":"TrainStatus"`), 1)
	assert.False(t, ok)

	truncated := []byte(`"x"}{"n":"{"}` + `{"a":{"b":1},"target":"TrainStatus"}`)
	object, ok = ExtractEnclosingObject(truncated, len(truncated)-23)
	require.True(t, ok)
	assert.Equal(t, `{"a":{"b":1},"target":"TrainStatus"}`, string(object))
}

func TestTrimTrailingGarbage(t *testing.T) {
	cleaned, ok := TrimTrailingGarbage([]byte(`{"a":1}xyz`))
	require.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(cleaned))

	_, ok = TrimTrailingGarbage([]byte(`{"a":1}`))
	assert.False(t, ok)

	_, ok = TrimTrailingGarbage([]byte(`{"a":}xyz`))
	assert.False(t, ok)
}
