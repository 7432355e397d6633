package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/avriley/syncopate/internal/batch"
)

var (
	progressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
	doneStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
)

// consoleSink renders progress events as single lines on a terminal writer.
// Events are advisory, so a failed write is swallowed rather than surfaced.
type consoleSink struct {
	out io.Writer
	mu  sync.Mutex
}

func newConsoleSink(out io.Writer) *consoleSink {
	return &consoleSink{out: out}
}

// Publish renders one event. Safe for concurrent use; never blocks on
// anything but the write itself.
func (s *consoleSink) Publish(ev batch.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Type {
	case batch.BatchStarted:
		fmt.Fprintln(s.out, progressStyle.Render(
			fmt.Sprintf("batch %d/%d started (%d items)", ev.Batch, ev.Batches, ev.Total)))
	case batch.BatchProgress:
		fmt.Fprintln(s.out, progressStyle.Render(
			fmt.Sprintf("batch %d/%d: %d/%d done", ev.Batch, ev.Batches, ev.Completed, ev.Total)))
	case batch.BatchCompleted:
		line := fmt.Sprintf("batch %d done: %d ok, %d failed", ev.Batch, ev.Succeeded, ev.Failed)
		if ev.Message != "" {
			line = ev.Message
		}
		fmt.Fprintln(s.out, doneStyle.Render(line))
	}
}
