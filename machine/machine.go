// Package machine owns the device connection and runs one job on it at a time.
package machine

import (
	"errors"
	"sync"
	"time"

	"github.com/mastercactapus/pantilt/coord"
	"github.com/mastercactapus/pantilt/device"
	"github.com/mastercactapus/pantilt/dispatch"
	"github.com/mastercactapus/pantilt/handshake"
	"github.com/mastercactapus/pantilt/kinematics"
	"github.com/mastercactapus/pantilt/program"
	"github.com/mastercactapus/pantilt/session"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithFields(log.Fields{
	"pkg": "machine",
})

var (
	ErrBusy       = errors.New("job queue is full")
	ErrClosed     = errors.New("machine closed")
	ErrNoCommands = errors.New("no commands to send")
)

type Config struct {
	Opener   device.Opener
	Dispatch dispatch.Config

	CalibrationTimeout time.Duration

	// Precision is the number of decimals in generated commands.
	Precision int

	// Limit is the maximum absolute joint angle. Zero means no limit.
	Limit float64

	// QueueDepth is the number of jobs that may wait for the device.
	QueueDepth int

	Reporter Reporter
}

type Machine struct {
	cfg  Config
	jobs chan *job

	mx     sync.Mutex
	closed bool
	lastID int64
	active *JobStatus

	wg sync.WaitGroup
}

type job struct {
	id     int64
	source string
	cmds   []string

	calibrate bool
	result    chan bool
}

// JobStatus describes the job that currently owns the device.
type JobStatus struct {
	Job       int64             `json:"job"`
	Source    string            `json:"source"`
	Calibrate bool              `json:"calibrate,omitempty"`
	Progress  dispatch.Progress `json:"progress"`
}

type Status struct {
	Active *JobStatus `json:"active"`
	Queued int        `json:"queued"`
}

type DrawRequest struct {
	Points []coord.Point

	// Distance from the pivot to the drawing plane.
	Distance float64

	// Repeat is the number of passes. Values below 1 mean a single pass.
	Repeat int
}

type DrawResult struct {
	Job      int64
	Commands []string
}

func NewMachine(cfg Config) *Machine {
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 1
	}
	if cfg.CalibrationTimeout <= 0 {
		cfg.CalibrationTimeout = handshake.DefaultTimeout
	}
	if cfg.Reporter == nil {
		cfg.Reporter = nopReporter{}
	}
	m := &Machine{
		cfg:  cfg,
		jobs: make(chan *job, cfg.QueueDepth),
	}
	m.wg.Add(1)
	go m.loop()
	return m
}

func (m *Machine) enqueue(j *job) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.lastID++
	j.id = m.lastID
	select {
	case m.jobs <- j:
	default:
		m.lastID--
		return ErrBusy
	}
	logger.WithFields(log.Fields{"job": j.id, "source": j.source}).Infoln("queued")
	m.cfg.Reporter.Report(Event{Job: j.id, Kind: EventQueued, Source: j.source})
	return nil
}

// Draw will translate the path and queue it for the device. Translation
// errors are returned before anything is queued. The commands are sent
// in the background; the outcome is only reported as events.
func (m *Machine) Draw(req DrawRequest) (*DrawResult, error) {
	t := kinematics.Translator{
		Distance:  req.Distance,
		Precision: m.cfg.Precision,
		Limit:     m.cfg.Limit,
	}
	cmds, err := t.Translate(req.Points, req.Repeat)
	if err != nil {
		return nil, err
	}

	j := &job{source: "draw", cmds: cmds}
	err = m.enqueue(j)
	if err != nil {
		return nil, err
	}
	return &DrawResult{Job: j.id, Commands: cmds}, nil
}

// Run will queue a list of commands, trimmed and with blank lines removed.
func (m *Machine) Run(name string, cmds []string) (int64, error) {
	cmds = program.Clean(cmds)
	if len(cmds) == 0 {
		return 0, ErrNoCommands
	}
	j := &job{source: name, cmds: cmds}
	err := m.enqueue(j)
	if err != nil {
		return 0, err
	}
	return j.id, nil
}

// Calibrate will wait for a calibration of the device and report whether it succeeded.
func (m *Machine) Calibrate() bool {
	j := &job{source: "calibrate", calibrate: true, result: make(chan bool, 1)}
	err := m.enqueue(j)
	if err != nil {
		logger.WithError(err).Errorln("calibrate")
		return false
	}
	return <-j.result
}

func (m *Machine) Status() Status {
	m.mx.Lock()
	defer m.mx.Unlock()
	var s Status
	if m.active != nil {
		a := *m.active
		s.Active = &a
	}
	s.Queued = len(m.jobs)
	return s
}

// Close stops accepting jobs and waits for queued jobs to finish.
func (m *Machine) Close() error {
	m.mx.Lock()
	if m.closed {
		m.mx.Unlock()
		return nil
	}
	m.closed = true
	close(m.jobs)
	m.mx.Unlock()

	m.wg.Wait()
	return nil
}

func (m *Machine) loop() {
	defer m.wg.Done()
	for j := range m.jobs {
		m.setActive(&JobStatus{Job: j.id, Source: j.source, Calibrate: j.calibrate})
		m.run(j)
		m.setActive(nil)
	}
}

func (m *Machine) setActive(s *JobStatus) {
	m.mx.Lock()
	m.active = s
	m.mx.Unlock()
}

func (m *Machine) setProgress(p dispatch.Progress) {
	m.mx.Lock()
	if m.active != nil {
		m.active.Progress = p
	}
	m.mx.Unlock()
}

func (m *Machine) run(j *job) {
	l := logger.WithFields(log.Fields{"job": j.id, "source": j.source})
	m.cfg.Reporter.Report(Event{Job: j.id, Kind: EventStarted, Source: j.source})

	ch, err := m.cfg.Opener.Open()
	if err != nil {
		l.WithError(err).Errorln("open device")
		m.cfg.Reporter.Report(Event{Job: j.id, Kind: EventFailed, Source: j.source, Error: err.Error()})
		if j.result != nil {
			j.result <- false
		}
		return
	}

	if j.calibrate {
		m.runCalibration(l, j, ch)
		return
	}
	m.runDispatch(l, j, ch)
}

func (m *Machine) runCalibration(l *log.Entry, j *job, ch device.Channel) {
	c := handshake.NewCalibration(time.Now(), m.cfg.CalibrationTimeout)
	c.OnResolve = func(ok bool) {
		if ok {
			m.cfg.Reporter.Report(Event{Job: j.id, Kind: EventCalibrated, Source: j.source})
			return
		}
		m.cfg.Reporter.Report(Event{Job: j.id, Kind: EventFailed, Source: j.source, Error: c.Reason()})
	}
	session.Run(ch, c, session.Options{})
	l.WithField("ok", c.OK()).Infoln("calibration finished")
	j.result <- c.OK()
}

func (m *Machine) runDispatch(l *log.Entry, j *job, ch device.Channel) {
	s := dispatch.NewSession(m.cfg.Dispatch, time.Now())
	err := s.EnqueueAll(j.cmds)
	if err != nil {
		l.WithError(err).Errorln("enqueue")
		closeChannel(l, ch)
		m.cfg.Reporter.Report(Event{Job: j.id, Kind: EventFailed, Source: j.source, Error: err.Error()})
		return
	}

	last := s.Progress()
	m.setProgress(last)
	err = dispatch.Run(ch, s, session.Options{
		OnStep: func(session.Input) {
			p := s.Progress()
			if p == last {
				return
			}
			last = p
			m.setProgress(p)
			if !s.Done() {
				m.cfg.Reporter.Report(Event{Job: j.id, Kind: EventProgress, Source: j.source, Progress: &p})
			}
		},
	})

	p := s.Progress()
	if err != nil {
		l.WithError(err).Errorln("dispatch failed")
		m.cfg.Reporter.Report(Event{Job: j.id, Kind: EventFailed, Source: j.source, Progress: &p, Error: err.Error()})
		return
	}
	l.WithField("sent", p.Sent).Infoln("dispatch complete")
	m.cfg.Reporter.Report(Event{Job: j.id, Kind: EventSucceeded, Source: j.source, Progress: &p})
}

func closeChannel(l *log.Entry, ch device.Channel) {
	err := ch.Close()
	if err != nil {
		l.WithError(err).Warnln("close channel")
	}
}
