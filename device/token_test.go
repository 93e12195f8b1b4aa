package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseToken(t *testing.T) {
	assert.Equal(t, TokenReady, ParseToken("READY"))
	assert.Equal(t, TokenReady, ParseToken(" READY\r"))
	assert.Equal(t, TokenCalibrated, ParseToken("CALIBRATED"))
	assert.Equal(t, TokenOK, ParseToken("OK\n"))
	assert.Equal(t, TokenBufferFull, ParseToken("BUFFER_FULL"))

	assert.Equal(t, TokenUnknown, ParseToken("ok"))
	assert.Equal(t, TokenUnknown, ParseToken("motor 1 at 12.5"))
	assert.Equal(t, TokenUnknown, ParseToken(""))

	assert.Equal(t, "BUFFER_FULL", TokenBufferFull.String())
	assert.Equal(t, "UNKNOWN", TokenUnknown.String())
}
