package dispatch

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/mastercactapus/pantilt/device"
	fakedevice "github.com/mastercactapus/pantilt/fake/device"
	"github.com/mastercactapus/pantilt/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func commands(n int) []string {
	res := make([]string, n)
	for i := range res {
		res[i] = fmt.Sprintf("G1 X%d.0 Y0.0", i)
	}
	return res
}

func line(s string, at time.Time) session.Input {
	return session.Input{Kind: session.InputLine, Line: s, At: at}
}

func newSession(t *testing.T, cfg Config, n int) *Session {
	s := NewSession(cfg, t0)
	require.NoError(t, s.EnqueueAll(commands(n)))
	return s
}

func TestSession_Window(t *testing.T) {
	cfg := Config{Capacity: 20, BatchSize: 15, AckTimeout: time.Second, ReadyTimeout: time.Second}
	s := newSession(t, cfg, 50)
	now := t0

	eff := s.Step(line("READY", now))
	assert.Equal(t, commands(50)[:15], eff.Send)
	assert.Equal(t, 15, s.InFlight())

	// the first ack fills the window
	eff = s.Step(line("OK", now))
	assert.Len(t, eff.Send, 6)
	assert.Equal(t, 20, s.InFlight())

	// then one command per ack
	var sent []string
	sent = append(sent, commands(50)[:21]...)
	for i := 0; i < 29; i++ {
		now = now.Add(time.Millisecond)
		eff = s.Step(line("OK", now))
		require.Len(t, eff.Send, 1)
		sent = append(sent, eff.Send...)
		assert.Equal(t, 20, s.InFlight())
	}
	assert.Equal(t, commands(50), sent)
	assert.Equal(t, 0, s.Progress().Pending)

	for i := 0; i < 20; i++ {
		assert.False(t, s.Done())
		eff = s.Step(line("OK", now))
		assert.Empty(t, eff.Send)
	}
	assert.True(t, s.Done())
	assert.Equal(t, StateSucceeded, s.State())
	assert.NoError(t, s.Err())
	assert.Equal(t, Progress{State: StateSucceeded, Total: 50, Sent: 50, Acked: 50}, s.Progress())
}

func TestSession_OneAtATime(t *testing.T) {
	s := newSession(t, Config{Capacity: 1, BatchSize: 1, AckTimeout: time.Second, ReadyTimeout: time.Second}, 3)

	eff := s.Step(line("READY", t0))
	assert.Equal(t, []string{"G1 X0.0 Y0.0"}, eff.Send)
	eff = s.Step(line("OK", t0))
	assert.Equal(t, []string{"G1 X1.0 Y0.0"}, eff.Send)
	eff = s.Step(line("OK", t0))
	assert.Equal(t, []string{"G1 X2.0 Y0.0"}, eff.Send)
	eff = s.Step(line("OK", t0))
	assert.Empty(t, eff.Send)
	assert.Equal(t, StateSucceeded, s.State())
}

func TestSession_WaitsForReady(t *testing.T) {
	s := newSession(t, DefaultConfig(), 3)

	eff := s.Step(line("OK", t0))
	assert.Empty(t, eff.Send)
	eff = s.Step(line("booting v1.2", t0))
	assert.Empty(t, eff.Send)
	assert.Equal(t, StateWaitReady, s.State())

	eff = s.Step(line("READY", t0))
	assert.Len(t, eff.Send, 3)

	// repeated READY does not resend
	eff = s.Step(line("READY", t0))
	assert.Empty(t, eff.Send)
	assert.Equal(t, 3, s.Progress().Sent)
}

func TestSession_Empty(t *testing.T) {
	s := newSession(t, DefaultConfig(), 0)

	eff := s.Step(line("READY", t0))
	assert.Empty(t, eff.Send)
	assert.Equal(t, StateSucceeded, s.State())
}

func TestSession_SpuriousOK(t *testing.T) {
	s := newSession(t, Config{Capacity: 2, BatchSize: 2, AckTimeout: time.Second, ReadyTimeout: time.Second}, 2)
	s.Step(line("READY", t0))
	s.Step(line("OK", t0))
	s.Step(line("OK", t0))
	require.True(t, s.Done())

	// no effect after the session is done
	eff := s.Step(line("OK", t0))
	assert.Empty(t, eff.Send)
	assert.Equal(t, 0, s.InFlight())
	assert.Equal(t, 2, s.Progress().Acked)
}

func TestSession_BufferFull(t *testing.T) {
	s := newSession(t, Config{Capacity: 4, BatchSize: 4, AckTimeout: time.Second, ReadyTimeout: time.Second}, 6)
	s.Step(line("READY", t0))

	eff := s.Step(line("BUFFER_FULL", t0))
	assert.Empty(t, eff.Send)
	assert.False(t, s.Done())

	d, ok := s.Deadline()
	assert.True(t, ok)
	assert.Equal(t, t0.Add(time.Second), d)

	eff = s.Step(line("OK", t0.Add(10*time.Millisecond)))
	assert.Len(t, eff.Send, 1)
	assert.Equal(t, 4, s.InFlight())
}

func TestSession_AckTimeout(t *testing.T) {
	s := newSession(t, Config{Capacity: 4, BatchSize: 4, AckTimeout: time.Second, ReadyTimeout: time.Second}, 10)
	s.Step(line("READY", t0))
	s.Step(line("OK", t0.Add(100*time.Millisecond)))

	d, ok := s.Deadline()
	require.True(t, ok)
	assert.Equal(t, t0.Add(1100*time.Millisecond), d)

	// early tick is ignored
	s.Step(session.Input{Kind: session.InputTick, At: t0.Add(time.Second)})
	assert.False(t, s.Done())

	s.Step(session.Input{Kind: session.InputTick, At: d})
	assert.Equal(t, StateFailed, s.State())

	var te *TimeoutError
	require.True(t, errors.As(s.Err(), &te))
	assert.Equal(t, PhaseAck, te.Phase)
	assert.Equal(t, 4, te.InFlight)
	assert.Equal(t, 5, te.Pending)
	assert.True(t, errors.Is(s.Err(), ErrTimeout))

	// remaining commands are dropped
	assert.Equal(t, 0, s.Progress().Pending)
	_, ok = s.Deadline()
	assert.False(t, ok)
}

func TestSession_ReadyTimeout(t *testing.T) {
	s := newSession(t, Config{Capacity: 4, BatchSize: 4, AckTimeout: time.Second, ReadyTimeout: 2 * time.Second}, 3)

	d, ok := s.Deadline()
	require.True(t, ok)
	assert.Equal(t, t0.Add(2*time.Second), d)

	s.Step(session.Input{Kind: session.InputTick, At: d})
	var te *TimeoutError
	require.True(t, errors.As(s.Err(), &te))
	assert.Equal(t, PhaseReady, te.Phase)
	assert.Equal(t, 0, s.Progress().Sent)
}

func TestSession_ChannelError(t *testing.T) {
	s := newSession(t, DefaultConfig(), 30)
	s.Step(line("READY", t0))

	cerr := &device.ChannelError{Op: "read", Err: errors.New("device unplugged")}
	s.Step(session.Input{Kind: session.InputError, Err: cerr, At: t0})

	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, cerr, s.Err())
	assert.Equal(t, 0, s.Progress().Pending)
}

func TestSession_EnqueueOnce(t *testing.T) {
	s := newSession(t, DefaultConfig(), 1)
	assert.Equal(t, ErrAlreadyQueued, s.EnqueueAll(commands(2)))
}

// The device acknowledges, throttles, and chatters in random order.
// The window must never overflow and success must mean fully drained.
func TestSession_RandomInterleaving(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		capacity := 1 + rnd.Intn(25)
		cfg := Config{
			Capacity:     capacity,
			BatchSize:    1 + rnd.Intn(capacity+5),
			AckTimeout:   time.Hour,
			ReadyTimeout: time.Hour,
		}
		n := rnd.Intn(120)
		s := newSession(t, cfg, n)

		var transmitted, unacked int
		eff := s.Step(line("READY", t0))
		for steps := 0; !s.Done(); steps++ {
			require.True(t, steps < 10000, "session did not finish")

			transmitted += len(eff.Send)
			unacked += len(eff.Send)
			require.True(t, s.InFlight() <= capacity, "in flight %d > capacity %d", s.InFlight(), capacity)
			require.Equal(t, unacked, s.InFlight())
			require.True(t, transmitted <= n)

			switch rnd.Intn(5) {
			case 0:
				eff = s.Step(line("BUFFER_FULL", t0))
			case 1:
				eff = s.Step(line("debug: hello", t0))
			default:
				if unacked > 0 {
					unacked--
				}
				eff = s.Step(line("OK", t0))
			}
		}

		assert.Equal(t, StateSucceeded, s.State())
		assert.Equal(t, n, transmitted)
		assert.Equal(t, 0, s.Progress().Pending)
		assert.Equal(t, 0, s.InFlight())
	}
}

func TestRun(t *testing.T) {
	sim := &fakedevice.Simulator{}
	ch, err := sim.Open()
	require.NoError(t, err)

	s := newSession(t, Config{Capacity: 3, BatchSize: 2, AckTimeout: time.Second, ReadyTimeout: time.Second}, 25)

	var steps int
	err = Run(ch, s, session.Options{OnStep: func(session.Input) {
		steps++
		assert.True(t, s.InFlight() <= 3)
	}})
	assert.NoError(t, err)
	assert.True(t, steps > 25)

	fc := sim.Channels()[0]
	assert.Equal(t, commands(25), fc.Written())
	assert.Equal(t, 1, fc.Closes())
}

func TestRun_Stalled(t *testing.T) {
	ch := fakedevice.NewChannel()
	ch.Emit("READY", "OK")

	s := newSession(t, Config{Capacity: 3, BatchSize: 3, AckTimeout: 20 * time.Millisecond, ReadyTimeout: time.Second}, 10)
	err := Run(ch, s, session.Options{})

	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, commands(10)[:4], ch.Written())
	assert.Equal(t, 1, ch.Closes())
}
