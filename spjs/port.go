package spjs

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mastercactapus/pantilt/device"
)

var lastID int64

func nextID() string {
	id := atomic.AddInt64(&lastID, 1)
	return "pt_" + strconv.FormatInt(id, 36)
}

// Opener opens Port on the server for each session.
type Opener struct {
	Client   *Client
	Port     string
	BaudRate int
}

var _ device.Opener = Opener{}

func (o Opener) Open() (device.Channel, error) {
	p := &Port{
		c:      o.Client,
		name:   o.Port,
		events: make(chan device.Event, 64),
		done:   make(chan struct{}),
	}

	o.Client.mx.Lock()
	if o.Client.ports[o.Port] != nil {
		o.Client.mx.Unlock()
		return nil, &device.ChannelError{Op: "open", Err: fmt.Errorf("port %s already open", o.Port)}
	}
	o.Client.ports[o.Port] = p
	o.Client.mx.Unlock()

	err := o.Client.WriteString(fmt.Sprintf("open %s %d", o.Port, o.BaudRate))
	if err != nil {
		p.unregister()
		return nil, &device.ChannelError{Op: "open", Err: err}
	}
	logger.WithField("port", o.Port).Infoln("opened remote port")
	return p, nil
}

// Port is a device.Channel carried over the server connection.
type Port struct {
	c    *Client
	name string

	mx  sync.Mutex
	buf strings.Builder

	events chan device.Event
	done   chan struct{}
	once   sync.Once
}

var _ device.Channel = &Port{}

func (p *Port) Events() <-chan device.Event { return p.events }

func (p *Port) send(e device.Event) {
	select {
	case p.events <- e:
	case <-p.done:
	}
}

// data reassembles frames into lines.
func (p *Port) data(s string) {
	p.mx.Lock()
	p.buf.WriteString(s)
	all := p.buf.String()
	idx := strings.LastIndexByte(all, '\n')
	if idx == -1 {
		p.mx.Unlock()
		return
	}
	p.buf.Reset()
	p.buf.WriteString(all[idx+1:])
	p.mx.Unlock()

	for _, line := range strings.Split(all[:idx], "\n") {
		line = strings.TrimRight(line, "\r")
		logger.WithField("line", line).Debugln("recv")
		p.send(device.Event{Line: line})
	}
}

func (p *Port) fail(err error) {
	p.send(device.Event{Err: &device.ChannelError{Op: "read", Err: err}})
}

func (p *Port) WriteLine(s string) error {
	select {
	case <-p.done:
		return &device.ChannelError{Op: "write", Err: device.ErrClosed}
	default:
	}
	logger.WithField("line", s).Debugln("send")
	err := p.c.SendJSON(JSON{Port: p.name, Data: []Data{{Data: s + "\n", ID: nextID()}}})
	if err != nil {
		return &device.ChannelError{Op: "write", Err: err}
	}
	return nil
}

func (p *Port) unregister() {
	p.c.mx.Lock()
	if p.c.ports[p.name] == p {
		delete(p.c.ports, p.name)
	}
	p.c.mx.Unlock()
}

func (p *Port) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		p.unregister()
		err = p.c.WriteString("close " + p.name)
		if err != nil {
			err = &device.ChannelError{Op: "close", Err: err}
		}
	})
	return err
}
