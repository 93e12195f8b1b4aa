package machine

import (
	"sync"

	"github.com/mastercactapus/pantilt/dispatch"
)

type EventKind string

const (
	EventQueued     EventKind = "queued"
	EventStarted    EventKind = "started"
	EventProgress   EventKind = "progress"
	EventSucceeded  EventKind = "succeeded"
	EventFailed     EventKind = "failed"
	EventCalibrated EventKind = "calibrated"
)

// Event describes a job transition.
type Event struct {
	Job      int64              `json:"job"`
	Kind     EventKind          `json:"kind"`
	Source   string             `json:"source"`
	Progress *dispatch.Progress `json:"progress,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// A Reporter receives every event published by the machine. Report is
// called from the machine worker and must not block.
type Reporter interface {
	Report(Event)
}

type ReporterFunc func(Event)

func (fn ReporterFunc) Report(e Event) { fn(e) }

type nopReporter struct{}

func (nopReporter) Report(Event) {}

// Broadcaster fans events out to any number of subscribers. Slow
// subscribers miss events rather than stall the machine.
type Broadcaster struct {
	mx   sync.Mutex
	subs map[chan Event]struct{}
}

var _ Reporter = &Broadcaster{}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

// Subscribe returns a channel of events and a function to stop receiving them.
func (b *Broadcaster) Subscribe(buf int) (<-chan Event, func()) {
	ch := make(chan Event, buf)
	b.mx.Lock()
	b.subs[ch] = struct{}{}
	b.mx.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mx.Lock()
			delete(b.subs, ch)
			b.mx.Unlock()
			close(ch)
		})
	}
}

func (b *Broadcaster) Report(e Event) {
	b.mx.Lock()
	defer b.mx.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
