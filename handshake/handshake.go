// Package handshake implements the calibration exchange with the device.
package handshake

import (
	"sync"
	"time"

	"github.com/mastercactapus/pantilt/device"
	"github.com/mastercactapus/pantilt/session"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithFields(log.Fields{
	"pkg": "handshake",
})

// DefaultTimeout bounds the whole calibration, from open to CALIBRATED.
const DefaultTimeout = 30 * time.Second

type State int

const (
	StateWaitReady State = iota
	StateCalibrating
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateWaitReady:
		return "wait-ready"
	case StateCalibrating:
		return "calibrating"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Calibration waits for READY, requests a calibration, and waits for
// CALIBRATED. It resolves exactly once.
type Calibration struct {
	// OnResolve, if set, is called once with the outcome.
	OnResolve func(ok bool)

	state    State
	deadline time.Time
	reason   string
	once     sync.Once
}

var _ session.Reducer = &Calibration{}

// NewCalibration creates a calibration that fails if it has not
// completed within timeout of start.
func NewCalibration(start time.Time, timeout time.Duration) *Calibration {
	return &Calibration{deadline: start.Add(timeout)}
}

func (c *Calibration) State() State { return c.state }

// Reason describes why the calibration failed.
func (c *Calibration) Reason() string { return c.reason }

func (c *Calibration) Done() bool {
	return c.state == StateDone || c.state == StateFailed
}

// OK reports a successful calibration.
func (c *Calibration) OK() bool { return c.state == StateDone }

func (c *Calibration) Deadline() (time.Time, bool) {
	if c.Done() {
		return time.Time{}, false
	}
	return c.deadline, true
}

func (c *Calibration) Step(in session.Input) session.Effects {
	if c.Done() {
		return session.Effects{}
	}

	switch in.Kind {
	case session.InputLine:
		tok := device.ParseToken(in.Line)
		switch {
		case c.state == StateWaitReady && tok == device.TokenReady:
			logger.Infoln("device ready, sending calibration command")
			c.state = StateCalibrating
			return session.Effects{Send: []string{device.CmdCalibrate}}
		case c.state == StateCalibrating && tok == device.TokenCalibrated:
			c.resolve(StateDone, "")
		}
	case session.InputTick:
		if !in.At.Before(c.deadline) {
			c.resolve(StateFailed, "timeout during "+c.state.String())
		}
	case session.InputError:
		c.resolve(StateFailed, in.Err.Error())
	}
	return session.Effects{}
}

func (c *Calibration) resolve(s State, reason string) {
	c.once.Do(func() {
		c.state = s
		c.reason = reason
		if s == StateDone {
			logger.Infoln("calibration complete")
		} else {
			logger.WithField("reason", reason).Errorln("calibration failed")
		}
		if c.OnResolve != nil {
			c.OnResolve(s == StateDone)
		}
	})
}

// Calibrate will run a calibration over ch and report the outcome.
// The channel is closed before it returns.
func Calibrate(ch device.Channel, timeout time.Duration, opt session.Options) bool {
	now := time.Now
	if opt.Now != nil {
		now = opt.Now
	}
	c := NewCalibration(now(), timeout)
	session.Run(ch, c, opt)
	return c.OK()
}
