// Package dispatch streams command lines to the device without overrunning
// its input buffer.
//
// A Session keeps at most Capacity commands unacknowledged. Every OK from
// the device frees one slot and lets the next batch go out. BUFFER_FULL
// pauses sending until the next OK. If the window stays full with no
// acknowledgment for AckTimeout the session fails and the rest of the
// queue is dropped.
package dispatch

import (
	"time"

	"github.com/mastercactapus/pantilt/device"
	"github.com/mastercactapus/pantilt/session"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithFields(log.Fields{
	"pkg": "dispatch",
})

// Config holds the flow control settings for a session.
type Config struct {
	// Capacity is the number of commands the device firmware can buffer.
	Capacity int

	// BatchSize is the most commands sent at once.
	BatchSize int

	AckTimeout   time.Duration
	ReadyTimeout time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Capacity:     20,
		BatchSize:    15,
		AckTimeout:   5 * time.Second,
		ReadyTimeout: 10 * time.Second,
	}
}

type State int

const (
	StateWaitReady State = iota
	StateSending
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateWaitReady:
		return "wait-ready"
	case StateSending:
		return "sending"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Progress is a snapshot of a session.
type Progress struct {
	State    State `json:"state"`
	Total    int   `json:"total"`
	Sent     int   `json:"sent"`
	Acked    int   `json:"acked"`
	Pending  int   `json:"pending"`
	InFlight int   `json:"inFlight"`
}

// Session is the dispatch state for one connection. It is only
// modified through its methods.
type Session struct {
	cfg   Config
	queue Queue

	inFlight     int
	opened       time.Time
	lastActivity time.Time
	ready        bool
	throttled    bool

	state State
	err   error

	total, sent, acked int
}

var _ session.Reducer = &Session{}

// NewSession creates a session for a channel opened at start.
func NewSession(cfg Config, start time.Time) *Session {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Session{
		cfg:          cfg,
		opened:       start,
		lastActivity: start,
	}
}

// EnqueueAll installs the commands for the session. It must be called
// once, before the device reports READY.
func (s *Session) EnqueueAll(lines []string) error {
	err := s.queue.EnqueueAll(lines)
	if err != nil {
		return err
	}
	s.total = len(lines)
	return nil
}

// SendableNow reports if there is both room on the device and a command to send.
func (s *Session) SendableNow() bool {
	return s.cfg.Capacity-s.inFlight > 0 && s.queue.Len() > 0
}

// NextBatch removes up to maxBatch commands from the queue, limited by the free
// space on the device, and counts them as in flight. The caller must
// transmit every returned line.
func (s *Session) NextBatch(maxBatch int, now time.Time) []string {
	n := maxBatch
	if free := s.cfg.Capacity - s.inFlight; free < n {
		n = free
	}
	batch := s.queue.Take(n)
	if len(batch) == 0 {
		return nil
	}
	s.inFlight += len(batch)
	s.sent += len(batch)
	s.lastActivity = now
	return batch
}

func (s *Session) InFlight() int { return s.inFlight }
func (s *Session) State() State  { return s.state }

// Err returns the reason the session failed, if it did.
func (s *Session) Err() error { return s.err }

func (s *Session) Done() bool {
	return s.state == StateSucceeded || s.state == StateFailed
}

func (s *Session) Progress() Progress {
	return Progress{
		State:    s.state,
		Total:    s.total,
		Sent:     s.sent,
		Acked:    s.acked,
		Pending:  s.queue.Len(),
		InFlight: s.inFlight,
	}
}

// stalled is true when nothing can be sent until the device responds.
func (s *Session) stalled() bool {
	return s.throttled || !s.SendableNow()
}

func (s *Session) Deadline() (time.Time, bool) {
	switch {
	case s.Done():
		return time.Time{}, false
	case !s.ready:
		return s.opened.Add(s.cfg.ReadyTimeout), true
	case s.stalled():
		return s.lastActivity.Add(s.cfg.AckTimeout), true
	}
	return time.Time{}, false
}

func (s *Session) Step(in session.Input) session.Effects {
	if s.Done() {
		return session.Effects{}
	}

	switch in.Kind {
	case session.InputLine:
		return s.line(in)
	case session.InputTick:
		s.checkTimeout(in.At)
	case session.InputError:
		s.fail(in.Err)
	}
	return session.Effects{}
}

func (s *Session) line(in session.Input) session.Effects {
	switch device.ParseToken(in.Line) {
	case device.TokenReady:
		if s.ready {
			logger.Debugln("ignoring repeated READY")
			return session.Effects{}
		}
		logger.Infoln("device ready, sending commands")
		s.ready = true
		s.state = StateSending
		s.lastActivity = in.At
		return s.pump(in.At)
	case device.TokenOK:
		if !s.ready || s.inFlight == 0 {
			logger.Debugln("ignoring unexpected OK")
			return session.Effects{}
		}
		s.inFlight--
		s.acked++
		s.throttled = false
		s.lastActivity = in.At
		return s.pump(in.At)
	case device.TokenBufferFull:
		if s.ready {
			logger.WithField("inFlight", s.inFlight).Debugln("device buffer full, holding")
			s.throttled = true
		}
	}
	return session.Effects{}
}

func (s *Session) pump(now time.Time) session.Effects {
	if s.queue.Len() == 0 && s.inFlight == 0 {
		s.state = StateSucceeded
		logger.WithField("sent", s.sent).Infoln("all commands sent")
		return session.Effects{}
	}
	if s.stalled() {
		return session.Effects{}
	}
	return session.Effects{Send: s.NextBatch(s.cfg.BatchSize, now)}
}

func (s *Session) checkTimeout(now time.Time) {
	if !s.ready {
		if !now.Before(s.opened.Add(s.cfg.ReadyTimeout)) {
			s.fail(&TimeoutError{Phase: PhaseReady, After: s.cfg.ReadyTimeout, Pending: s.queue.Len()})
		}
		return
	}
	if s.stalled() && now.Sub(s.lastActivity) >= s.cfg.AckTimeout {
		s.fail(&TimeoutError{
			Phase:    PhaseAck,
			After:    s.cfg.AckTimeout,
			InFlight: s.inFlight,
			Pending:  s.queue.Len(),
		})
	}
}

func (s *Session) fail(err error) {
	s.state = StateFailed
	s.err = err
	dropped := s.queue.Discard()
	logger.WithError(err).WithFields(log.Fields{
		"inFlight": s.inFlight,
		"dropped":  dropped,
	}).Errorln("dispatch failed")
}

// Run will stream the session over ch until it succeeds or fails.
// The channel is closed before Run returns.
func Run(ch device.Channel, s *Session, opt session.Options) error {
	session.Run(ch, s, opt)
	return s.Err()
}
