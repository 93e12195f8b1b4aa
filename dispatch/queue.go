package dispatch

import "errors"

// ErrAlreadyQueued is returned when a queue is filled a second time.
var ErrAlreadyQueued = errors.New("commands already queued for this session")

// Queue is the ordered backlog of command lines for one session.
//
// It is filled once and then only drained from the front.
type Queue struct {
	lines  []string
	filled bool
}

// EnqueueAll installs the full command list.
func (q *Queue) EnqueueAll(lines []string) error {
	if q.filled {
		return ErrAlreadyQueued
	}
	q.filled = true
	q.lines = append([]string(nil), lines...)
	return nil
}

func (q *Queue) Len() int { return len(q.lines) }

// Take removes up to n lines from the front.
func (q *Queue) Take(n int) []string {
	if n > len(q.lines) {
		n = len(q.lines)
	}
	if n <= 0 {
		return nil
	}
	res := q.lines[:n:n]
	q.lines = q.lines[n:]
	return res
}

// Discard drops every remaining line and returns how many there were.
func (q *Queue) Discard() int {
	n := len(q.lines)
	q.lines = nil
	return n
}
