package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mastercactapus/pantilt/dispatch"
	"github.com/mastercactapus/pantilt/machine"
)

const barWidth = 30

type calibratedMsg bool

type model struct {
	title    string
	job      int64
	state    string
	progress dispatch.Progress
	err      string
	done     bool
	ok       bool
}

func newModel(title string) model {
	return model{title: title, state: "waiting for device"}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case calibratedMsg:
		m.done = true
		m.ok = bool(msg)
		if m.ok {
			m.state = "calibrated"
		} else if m.err == "" {
			m.state = "calibration failed"
		}
		return m, tea.Quit
	case machine.Event:
		if m.job != 0 && msg.Job != m.job {
			return m, nil
		}
		m.job = msg.Job
		if msg.Progress != nil {
			m.progress = *msg.Progress
		}
		m.state = string(msg.Kind)
		switch msg.Kind {
		case machine.EventSucceeded:
			m.done, m.ok = true, true
			return m, tea.Quit
		case machine.EventFailed:
			m.err = msg.Error
			if msg.Source != "calibrate" {
				m.done = true
				return m, tea.Quit
			}
		}
	}
	return m, nil
}

func bar(done, total int) string {
	if total == 0 {
		return "[" + strings.Repeat(" ", barWidth) + "]"
	}
	n := done * barWidth / total
	return "[" + strings.Repeat("#", n) + strings.Repeat(" ", barWidth-n) + "]"
}

func (m model) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", m.title)
	fmt.Fprintf(&b, "  state: %s\n", m.state)
	if m.progress.Total > 0 {
		p := m.progress
		fmt.Fprintf(&b, "  %s %d/%d acked, %d in flight, %d pending\n", bar(p.Acked, p.Total), p.Acked, p.Total, p.InFlight, p.Pending)
	}
	if m.err != "" {
		fmt.Fprintf(&b, "  error: %s\n", m.err)
	}
	if !m.done {
		b.WriteString("\n  q to quit\n")
	}
	return b.String()
}
