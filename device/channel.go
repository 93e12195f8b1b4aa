// Package device implements the line-oriented link to the pan/tilt controller.
package device

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

var logger = log.WithFields(log.Fields{
	"pkg": "device",
})

// ErrClosed is returned when the channel was closed before the operation.
var ErrClosed = errors.New("channel closed")

// Event is a single line received from the device, or a transport failure.
type Event struct {
	Line string
	Err  error
}

// A Channel is an open, exclusive link to the device.
//
// Events may be closed once the channel is closed or the transport fails.
type Channel interface {
	Events() <-chan Event
	WriteLine(string) error
	Close() error
}

// An Opener creates a new Channel for each session.
type Opener interface {
	Open() (Channel, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func() (Channel, error)

func (fn OpenerFunc) Open() (Channel, error) { return fn() }

// ChannelError wraps a transport failure.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string { return fmt.Sprintf("channel %s: %v", e.Op, e.Err) }
func (e *ChannelError) Unwrap() error { return e.Err }
