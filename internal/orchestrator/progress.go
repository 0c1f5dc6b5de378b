package orchestrator

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dusk-indust/orchestra/internal/workgraph"
)

// ProgressEvent reports a unit or request state change. UnitID is empty for
// request-level events.
type ProgressEvent struct {
	RequestID string
	UnitID    workgraph.UnitID
	Status    string
	Attempt   int
	WorkerID  string
	Message   string
}

const progressBuffer = 64

// ProgressReporter is a lossy event feed. Emit never blocks the scheduler;
// events that do not fit in the buffer are counted and discarded.
type ProgressReporter struct {
	mu      sync.RWMutex
	closed  bool
	ch      chan ProgressEvent
	dropped atomic.Int64
}

// NewProgressReporter creates a reporter with a 64-event buffer.
func NewProgressReporter() *ProgressReporter {
	return &ProgressReporter{ch: make(chan ProgressEvent, progressBuffer)}
}

// Emit queues event unless the reporter is closed or its buffer is full.
func (pr *ProgressReporter) Emit(event ProgressEvent) {
	pr.mu.RLock()
	defer pr.mu.RUnlock()
	if pr.closed {
		return
	}
	select {
	case pr.ch <- event:
	default:
		pr.dropped.Add(1)
	}
}

// Subscribe returns the event channel. It is closed by Close.
func (pr *ProgressReporter) Subscribe() <-chan ProgressEvent { return pr.ch }

// Dropped returns how many events were discarded because nobody drained the
// channel fast enough.
func (pr *ProgressReporter) Dropped() int64 { return pr.dropped.Load() }

// Close closes the channel. Later calls and later Emits are no-ops.
func (pr *ProgressReporter) Close() {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.closed {
		return
	}
	pr.closed = true
	close(pr.ch)
}

var unitLines = map[string]func(ProgressEvent) string{
	"pending": func(ev ProgressEvent) string { return "○ " + string(ev.UnitID) + " (pending)" },
	"running": func(ev ProgressEvent) string {
		return fmt.Sprintf("● %s on %s (attempt %d)...", ev.UnitID, ev.WorkerID, ev.Attempt)
	},
	"succeeded": func(ev ProgressEvent) string { return "✓ " + string(ev.UnitID) + " complete" },
	"failed":    func(ev ProgressEvent) string { return "✗ " + string(ev.UnitID) + " failed: " + ev.Message },
	"skipped":   func(ev ProgressEvent) string { return "- " + string(ev.UnitID) + " skipped: " + ev.Message },
	"cancelled": func(ev ProgressEvent) string { return "- " + string(ev.UnitID) + " cancelled" },
}

// FormatProgress renders an event as one line. Unit events are indented under
// their request.
func FormatProgress(ev ProgressEvent) string {
	if ev.UnitID == "" {
		var b strings.Builder
		fmt.Fprintf(&b, "[%s] %s", ev.RequestID, ev.Status)
		if ev.Message != "" {
			b.WriteString(": " + ev.Message)
		}
		return b.String()
	}
	if line, ok := unitLines[ev.Status]; ok {
		return "  " + line(ev)
	}
	return "  ? " + string(ev.UnitID) + " (unknown status)"
}
