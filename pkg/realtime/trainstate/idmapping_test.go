package trainstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDMapping(t *testing.T) {
	mapping := NewIDMapping()

	assert.True(t, mapping.Set("101", 4411))
	assert.False(t, mapping.Set("", 12))
	assert.False(t, mapping.Set("102", 0))

	id, ok := mapping.TrainIDFor("101")
	assert.True(t, ok)
	assert.Equal(t, int64(4411), id)

	_, ok = mapping.TrainIDFor("102")
	assert.False(t, ok)

	mapping.Set("101", 5000)
	id, _ = mapping.TrainIDFor("101")
	assert.Equal(t, int64(5000), id)
	assert.Equal(t, 1, mapping.Len())
}

func TestHistoryKey(t *testing.T) {
	assert.Equal(t, "101", HistoryKey("101", true))
	assert.Equal(t, "101#schedule", HistoryKey("101", false))
}
