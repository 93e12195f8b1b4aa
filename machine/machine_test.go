package machine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mastercactapus/pantilt/coord"
	"github.com/mastercactapus/pantilt/device"
	"github.com/mastercactapus/pantilt/dispatch"
	fakedevice "github.com/mastercactapus/pantilt/fake/device"
	"github.com/mastercactapus/pantilt/kinematics"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mx     sync.Mutex
	events []Event
	ch     chan Event
}

func newRecorder() *recorder { return &recorder{ch: make(chan Event, 1000)} }

func (r *recorder) Report(e Event) {
	r.mx.Lock()
	r.events = append(r.events, e)
	r.mx.Unlock()
	r.ch <- e
}

// waitFor returns the first event of kind for job.
func (r *recorder) waitFor(t *testing.T, job int64, kinds ...EventKind) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-r.ch:
			if e.Job != job {
				continue
			}
			for _, k := range kinds {
				if e.Kind == k {
					return e
				}
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %v on job %d", kinds, job)
		}
	}
}

func testConfig(o device.Opener, r Reporter) Config {
	return Config{
		Opener: o,
		Dispatch: dispatch.Config{
			Capacity:     4,
			BatchSize:    3,
			AckTimeout:   100 * time.Millisecond,
			ReadyTimeout: 100 * time.Millisecond,
		},
		CalibrationTimeout: 100 * time.Millisecond,
		Precision:          kinematics.DefaultPrecision,
		QueueDepth:         2,
		Reporter:           r,
	}
}

func TestMachine_Draw(t *testing.T) {
	sim := &fakedevice.Simulator{}
	rec := newRecorder()
	m := NewMachine(testConfig(sim, rec))
	defer m.Close()

	res, err := m.Draw(DrawRequest{
		Points:   []coord.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}},
		Distance: 100,
	})
	require.NoError(t, err)
	assert.Len(t, res.Commands, 4)
	assert.Equal(t, "G1 X0.0 Y0.0", res.Commands[0])

	e := rec.waitFor(t, res.Job, EventSucceeded, EventFailed)
	assert.Equal(t, EventSucceeded, e.Kind)
	require.NotNil(t, e.Progress)
	assert.Equal(t, 4, e.Progress.Acked)

	chs := sim.Channels()
	require.Len(t, chs, 1)
	assert.Equal(t, res.Commands, chs[0].Written())
	assert.Equal(t, 1, chs[0].Closes())
}

func TestMachine_DrawUnreachable(t *testing.T) {
	opened := 0
	o := device.OpenerFunc(func() (device.Channel, error) {
		opened++
		return fakedevice.NewChannel(), nil
	})
	cfg := testConfig(o, nil)
	cfg.Limit = 10
	m := NewMachine(cfg)
	defer m.Close()

	_, err := m.Draw(DrawRequest{Points: []coord.Point{{X: 0, Y: 0}, {X: 100, Y: 0}}, Distance: 100})
	assert.ErrorIs(t, err, kinematics.ErrUnreachable)

	_, err = m.Draw(DrawRequest{Points: []coord.Point{{X: 0, Y: 0}}, Distance: 0})
	assert.ErrorIs(t, err, kinematics.ErrInvalidDistance)

	assert.Equal(t, Status{}, m.Status())
	m.Close()
	assert.Equal(t, 0, opened)
}

func TestMachine_Run(t *testing.T) {
	sim := &fakedevice.Simulator{}
	rec := newRecorder()
	m := NewMachine(testConfig(sim, rec))
	defer m.Close()

	_, err := m.Run("blank", []string{"", "  "})
	assert.ErrorIs(t, err, ErrNoCommands)

	id, err := m.Run("square", []string{" G1 X5.0 Y0.0", "", "G1 X0.0 Y5.0\r"})
	require.NoError(t, err)
	e := rec.waitFor(t, id, EventSucceeded, EventFailed)
	assert.Equal(t, EventSucceeded, e.Kind)
	assert.Equal(t, "square", e.Source)
	assert.Equal(t, []string{"G1 X5.0 Y0.0", "G1 X0.0 Y5.0"}, sim.Channels()[0].Written())
}

func TestMachine_DispatchTimeout(t *testing.T) {
	// a device that never says READY
	o := device.OpenerFunc(func() (device.Channel, error) { return fakedevice.NewChannel(), nil })
	rec := newRecorder()
	m := NewMachine(testConfig(o, rec))
	defer m.Close()

	id, err := m.Run("test", []string{"G1 X1.0 Y1.0"})
	require.NoError(t, err)
	e := rec.waitFor(t, id, EventSucceeded, EventFailed)
	assert.Equal(t, EventFailed, e.Kind)
	assert.Contains(t, e.Error, "READY")
	assert.Equal(t, 0, e.Progress.Pending)
}

func TestMachine_Calibrate(t *testing.T) {
	sim := &fakedevice.Simulator{}
	rec := newRecorder()
	m := NewMachine(testConfig(sim, rec))
	defer m.Close()

	assert.True(t, m.Calibrate())
	assert.Equal(t, []string{device.CmdCalibrate}, sim.Channels()[0].Written())

	calibrated := 0
	rec.mx.Lock()
	for _, e := range rec.events {
		if e.Kind == EventCalibrated {
			calibrated++
		}
	}
	rec.mx.Unlock()
	assert.Equal(t, 1, calibrated)
}

func TestMachine_CalibrateFail(t *testing.T) {
	o := device.OpenerFunc(func() (device.Channel, error) { return nil, errors.New("no such port") })
	m := NewMachine(testConfig(o, nil))
	defer m.Close()
	assert.False(t, m.Calibrate())

	// silent device
	m2 := NewMachine(testConfig(device.OpenerFunc(func() (device.Channel, error) { return fakedevice.NewChannel(), nil }), nil))
	defer m2.Close()
	assert.False(t, m2.Calibrate())
}

func TestMachine_Busy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	o := device.OpenerFunc(func() (device.Channel, error) {
		started <- struct{}{}
		<-release
		return nil, errors.New("unplugged")
	})
	rec := newRecorder()
	m := NewMachine(testConfig(o, rec))

	id1, err := m.Run("a", []string{"G1 X1.0 Y0.0"})
	require.NoError(t, err)
	<-started

	st := m.Status()
	require.NotNil(t, st.Active)
	assert.Equal(t, id1, st.Active.Job)

	_, err = m.Run("b", []string{"G1 X1.0 Y0.0"})
	require.NoError(t, err)
	_, err = m.Run("c", []string{"G1 X1.0 Y0.0"})
	require.NoError(t, err)
	_, err = m.Run("d", []string{"G1 X1.0 Y0.0"})
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, 2, m.Status().Queued)

	go func() {
		for range started {
		}
	}()
	close(release)
	require.NoError(t, m.Close())
	close(started)

	_, err = m.Run("e", []string{"G1 X1.0 Y0.0"})
	assert.ErrorIs(t, err, ErrClosed)

	failed := 0
	rec.mx.Lock()
	for _, e := range rec.events {
		if e.Kind == EventFailed {
			failed++
		}
	}
	rec.mx.Unlock()
	assert.Equal(t, 3, failed)
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	a, stopA := b.Subscribe(1)
	c, stopC := b.Subscribe(1)

	b.Report(Event{Job: 1, Kind: EventQueued})
	b.Report(Event{Job: 2, Kind: EventQueued}) // dropped, buffers are full

	assert.Equal(t, int64(1), (<-a).Job)
	assert.Equal(t, int64(1), (<-c).Job)

	stopA()
	stopA()
	b.Report(Event{Job: 3})
	_, ok := <-a
	assert.False(t, ok)
	assert.Equal(t, int64(3), (<-c).Job)
	stopC()
}

func TestCloseChannel(t *testing.T) {
	l, hook := test.NewNullLogger()

	ch := fakedevice.NewChannel()
	ch.CloseErr = errors.New("port vanished")
	closeChannel(l.WithField("job", 1), ch)

	require.Len(t, hook.Entries, 1)
	e := hook.LastEntry()
	assert.Equal(t, log.WarnLevel, e.Level)
	assert.Equal(t, "close channel", e.Message)
	assert.Equal(t, ch.CloseErr, e.Data[log.ErrorKey])
	assert.Equal(t, 1, ch.Closes())

	hook.Reset()
	closeChannel(l.WithField("job", 2), fakedevice.NewChannel())
	assert.Empty(t, hook.Entries)
}
