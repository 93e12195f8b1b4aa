// Package session drives a protocol reducer against an open device channel.
//
// A reducer owns all of a session's state. Run feeds it line, error, and
// timer inputs in delivery order, performs the writes it asks for, and
// releases the timer and the channel when it reaches a terminal state.
package session

import (
	"sync"
	"time"

	"github.com/mastercactapus/pantilt/device"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithFields(log.Fields{
	"pkg": "session",
})

type InputKind int

const (
	// InputLine is a line received from the device.
	InputLine InputKind = iota
	// InputTick means the reducer deadline may have passed.
	InputTick
	// InputError is a transport failure or a closed channel.
	InputError
)

type Input struct {
	Kind InputKind
	Line string
	Err  error
	At   time.Time
}

// Effects are the writes a reducer wants performed, in order.
type Effects struct {
	Send []string
}

// A Reducer is a protocol state machine.
type Reducer interface {
	// Step applies one input and returns the resulting effects. It must be
	// a no-op once Done returns true.
	Step(Input) Effects

	// Deadline returns the time the reducer wants a tick, if any.
	Deadline() (time.Time, bool)

	Done() bool
}

type Options struct {
	// Now is the clock used to stamp inputs. Defaults to time.Now.
	Now func() time.Time

	// OnStep is called after every input has been applied.
	OnStep func(Input)
}

// Run will block until r is done. The channel is closed exactly once
// before Run returns.
func Run(ch device.Channel, r Reducer, opt Options) {
	if opt.Now == nil {
		opt.Now = time.Now
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			err := ch.Close()
			if err != nil {
				logger.WithError(err).Warnln("close channel")
			}
		})
	}
	defer release()

	events := ch.Events()
	for !r.Done() {
		var timer *time.Timer
		var expire <-chan time.Time
		if d, ok := r.Deadline(); ok {
			timer = time.NewTimer(d.Sub(opt.Now()))
			expire = timer.C
		}

		var in Input
		select {
		case e, ok := <-events:
			switch {
			case !ok:
				events = nil
				in = Input{Kind: InputError, Err: &device.ChannelError{Op: "read", Err: device.ErrClosed}}
			case e.Err != nil:
				in = Input{Kind: InputError, Err: e.Err}
			default:
				in = Input{Kind: InputLine, Line: e.Line}
			}
		case <-expire:
			in = Input{Kind: InputTick}
		}
		if timer != nil {
			timer.Stop()
		}

		in.At = opt.Now()
		apply(ch, r, in, opt)
	}
}

func apply(ch device.Channel, r Reducer, in Input, opt Options) {
	eff := r.Step(in)
	if opt.OnStep != nil {
		opt.OnStep(in)
	}

	for _, line := range eff.Send {
		err := ch.WriteLine(line)
		if err != nil {
			apply(ch, r, Input{Kind: InputError, Err: err, At: opt.Now()}, opt)
			return
		}
	}
}
