package dispatch

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is matched by every TimeoutError.
var ErrTimeout = errors.New("timeout")

// TimeoutError is returned when the device stops responding.
type TimeoutError struct {
	// Phase is "ready" while waiting for the device to come up,
	// or "ack" while waiting for an acknowledgment with the window full.
	Phase string
	After time.Duration

	InFlight int
	Pending  int
}

func (e *TimeoutError) Error() string {
	if e.Phase == PhaseReady {
		return fmt.Sprintf("no READY from device after %s", e.After)
	}
	return fmt.Sprintf("no acknowledgment after %s (in flight: %d, pending: %d)", e.After, e.InFlight, e.Pending)
}
func (e *TimeoutError) Unwrap() error { return ErrTimeout }

const (
	PhaseReady = "ready"
	PhaseAck   = "ack"
)
