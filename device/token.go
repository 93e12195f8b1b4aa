package device

import "strings"

// Token is a line the device sends that carries protocol meaning.
type Token int

const (
	// TokenUnknown is any line outside the vocabulary. The firmware prints
	// diagnostic text, so these are ignored rather than treated as errors.
	TokenUnknown Token = iota
	TokenReady
	TokenCalibrated
	TokenOK
	TokenBufferFull
)

// Host commands.
const (
	CmdCalibrate = "CALIBRATE"
)

var tokenNames = map[string]Token{
	"READY":       TokenReady,
	"CALIBRATED":  TokenCalibrated,
	"OK":          TokenOK,
	"BUFFER_FULL": TokenBufferFull,
}

// ParseToken will classify a line received from the device.
func ParseToken(line string) Token {
	return tokenNames[strings.TrimSpace(line)]
}

func (t Token) String() string {
	switch t {
	case TokenReady:
		return "READY"
	case TokenCalibrated:
		return "CALIBRATED"
	case TokenOK:
		return "OK"
	case TokenBufferFull:
		return "BUFFER_FULL"
	}
	return "UNKNOWN"
}
