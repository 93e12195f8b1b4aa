// Package device provides in-memory stand-ins for the pan/tilt controller.
package device

import (
	"strings"
	"sync"

	"github.com/mastercactapus/pantilt/device"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithFields(log.Fields{
	"pkg": "fake/device",
})

// Channel is a device.Channel that records every write and delivers
// whatever events are queued with Emit or Fail, in order.
type Channel struct {
	// OnWrite, if set, is called after each successful write.
	OnWrite func(c *Channel, line string)

	// WriteErr, if set, is returned by every write.
	WriteErr error

	// CloseErr, if set, is returned by every Close.
	CloseErr error

	mx      sync.Mutex
	written []string
	closes  int
	pending []device.Event

	wake   chan struct{}
	events chan device.Event
	done   chan struct{}
	once   sync.Once
}

var _ device.Channel = &Channel{}

func NewChannel() *Channel {
	c := &Channel{
		wake:   make(chan struct{}, 1),
		events: make(chan device.Event),
		done:   make(chan struct{}),
	}
	go c.loop()
	return c
}

func (c *Channel) loop() {
	defer close(c.events)
	for {
		c.mx.Lock()
		var next device.Event
		ok := len(c.pending) > 0
		if ok {
			next = c.pending[0]
			c.pending = c.pending[1:]
		}
		c.mx.Unlock()

		if !ok {
			select {
			case <-c.wake:
				continue
			case <-c.done:
				return
			}
		}

		select {
		case c.events <- next:
		case <-c.done:
			return
		}
	}
}

func (c *Channel) push(e device.Event) {
	c.mx.Lock()
	c.pending = append(c.pending, e)
	c.mx.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Emit queues lines as if the device had sent them.
func (c *Channel) Emit(lines ...string) {
	for _, l := range lines {
		c.push(device.Event{Line: l})
	}
}

// Fail queues a transport error.
func (c *Channel) Fail(err error) {
	c.push(device.Event{Err: &device.ChannelError{Op: "read", Err: err}})
}

func (c *Channel) Events() <-chan device.Event { return c.events }

func (c *Channel) WriteLine(s string) error {
	if c.WriteErr != nil {
		return &device.ChannelError{Op: "write", Err: c.WriteErr}
	}
	c.mx.Lock()
	c.written = append(c.written, s)
	c.mx.Unlock()
	if c.OnWrite != nil {
		c.OnWrite(c, s)
	}
	return nil
}

func (c *Channel) Close() error {
	c.mx.Lock()
	c.closes++
	c.mx.Unlock()
	c.once.Do(func() { close(c.done) })
	return c.CloseErr
}

// Written returns a copy of every line written so far.
func (c *Channel) Written() []string {
	c.mx.Lock()
	defer c.mx.Unlock()
	return append([]string(nil), c.written...)
}

// Closes returns the number of times Close was called.
func (c *Channel) Closes() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.closes
}

// Simulator pretends to be a working controller: it announces READY when
// opened, acknowledges every motion command, and finishes calibration
// immediately.
type Simulator struct {
	mx     sync.Mutex
	opened []*Channel
}

var _ device.Opener = &Simulator{}

func (s *Simulator) Open() (device.Channel, error) {
	c := NewChannel()
	c.OnWrite = func(c *Channel, line string) {
		switch {
		case line == device.CmdCalibrate:
			c.Emit("calibrating...", "CALIBRATED")
		case strings.HasPrefix(line, "G"):
			c.Emit("OK")
		}
	}
	c.Emit("READY")
	logger.Debugln("simulated device opened")

	s.mx.Lock()
	s.opened = append(s.opened, c)
	s.mx.Unlock()
	return c, nil
}

// Channels returns every channel opened so far.
func (s *Simulator) Channels() []*Channel {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]*Channel(nil), s.opened...)
}
