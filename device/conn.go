package device

import (
	"bufio"
	"io"
	"strings"
	"sync"
)

// Conn adapts a ReadWriteCloser carrying newline-terminated text into a Channel.
type Conn struct {
	rw io.ReadWriteCloser

	events  chan Event
	closeCh chan struct{}

	mx        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

var _ Channel = &Conn{}

// NewConn creates a new Conn and starts reading lines from rw.
func NewConn(rw io.ReadWriteCloser) *Conn {
	c := &Conn{
		rw:      rw,
		events:  make(chan Event, 16),
		closeCh: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) Events() <-chan Event { return c.events }

func (c *Conn) isClosed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

func (c *Conn) send(e Event) bool {
	select {
	case c.events <- e:
		return true
	case <-c.closeCh:
		return false
	}
}

func (c *Conn) readLoop() {
	defer close(c.events)

	scan := bufio.NewScanner(c.rw)
	for scan.Scan() {
		line := strings.TrimRight(scan.Text(), "\r")
		logger.WithField("line", line).Debugln("received")
		if !c.send(Event{Line: line}) {
			return
		}
	}
	if c.isClosed() {
		return
	}

	err := scan.Err()
	if err == nil {
		err = io.EOF
	}
	c.send(Event{Err: &ChannelError{Op: "read", Err: err}})
}

// WriteLine will write s followed by a newline.
func (c *Conn) WriteLine(s string) error {
	if c.isClosed() {
		return &ChannelError{Op: "write", Err: ErrClosed}
	}

	c.mx.Lock()
	_, err := io.WriteString(c.rw, s+"\n")
	c.mx.Unlock()
	if err != nil {
		return &ChannelError{Op: "write", Err: err}
	}
	logger.WithField("line", s).Debugln("sent")
	return nil
}

// Close will stop delivering events and close the underlying
// ReadWriteCloser. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.closeErr = c.rw.Close()
	})
	return c.closeErr
}
