package portalpasazera

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeFrame(t *testing.T) {
	assert.Equal(t, []byte("{\"protocol\":\"json\",\"version\":1}\x1e"), HandshakeFrame())
}

func TestRegisterFrame(t *testing.T) {
	frame, err := RegisterFrame(DefaultRegion, 0)
	require.NoError(t, err)

	expected := `{"arguments":["PL",6.7,48.35,10.5,55.53,28.3,0,true,"ATM",""],"invocationId":"0","target":"RegisterParams","type":1}` + "\x1e"
	assert.Equal(t, expected, string(frame))
}

func TestRegisterFrameCustomRegion(t *testing.T) {
	region := DefaultRegion
	region.Zoom = 9
	region.Query = "IC 5310"

	frame, err := RegisterFrame(region, 3)
	require.NoError(t, err)

	expected := `{"arguments":["PL",9,48.35,10.5,55.53,28.3,0,true,"ATM","IC 5310"],"invocationId":"3","target":"RegisterParams","type":1}` + "\x1e"
	assert.Equal(t, expected, string(frame))
}
