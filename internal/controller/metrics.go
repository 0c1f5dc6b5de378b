package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/dusk-indust/orchestra/internal/outcome"
	"github.com/dusk-indust/orchestra/internal/tuning"
	"github.com/dusk-indust/orchestra/internal/worker"
)

// Metrics is one sensed snapshot: outcomes appended since the previous
// sense plus current pool and knob values.
type Metrics struct {
	At          time.Time
	Attempts    int
	Failures    int
	Retries     int // attempts after the first
	RetryWins   int // retries that succeeded
	MeanLatency time.Duration
	// MeanSpan is the mean wall-clock span of requests seen in the window.
	MeanSpan    time.Duration
	ByWorker    map[string]WorkerWindow
	Workers     []worker.Snapshot
	Parallelism int
	RetryBudget int
}

// WorkerWindow counts one worker's attempts within the window.
type WorkerWindow struct {
	Attempts int
	Failures int
}

// FailureRate is Failures/Attempts, zero when idle.
func (m Metrics) FailureRate() float64 {
	if m.Attempts == 0 {
		return 0
	}
	return float64(m.Failures) / float64(m.Attempts)
}

func (m Metrics) String() string {
	return fmt.Sprintf("attempts=%d failures=%d latency=%s span=%s parallelism=%d retries=%d",
		m.Attempts, m.Failures, m.MeanLatency, m.MeanSpan, m.Parallelism, m.RetryBudget)
}

// Env is what controllers observe and adjust.
type Env struct {
	Log   outcome.Log
	Pool  *worker.Pool
	Knobs *tuning.Knobs
}

// sensor reads the outcome log incrementally.
type sensor struct {
	env    Env
	cursor int64
}

func (s *sensor) sense(ctx context.Context) (Metrics, error) {
	outs, err := s.env.Log.Since(ctx, s.cursor)
	if err != nil {
		return Metrics{}, fmt.Errorf("controller: sense: %w", err)
	}
	m := Metrics{
		At:          time.Now(),
		ByWorker:    make(map[string]WorkerWindow),
		Parallelism: s.env.Knobs.Parallelism(),
		RetryBudget: s.env.Knobs.RetryBudget(),
	}
	if s.env.Pool != nil {
		m.Workers = s.env.Pool.Snapshot()
	}

	var latency time.Duration
	type span struct{ start, end time.Time }
	spans := make(map[string]span)
	for _, o := range outs {
		s.cursor = max(s.cursor, o.Seq)
		m.Attempts++
		latency += o.Latency
		if o.Attempt > 1 {
			m.Retries++
			if o.Success {
				m.RetryWins++
			}
		}
		w := m.ByWorker[o.WorkerID]
		w.Attempts++
		if !o.Success {
			m.Failures++
			w.Failures++
		}
		m.ByWorker[o.WorkerID] = w

		begin := o.Timestamp.Add(-o.Latency)
		sp, ok := spans[o.RequestID]
		if !ok || begin.Before(sp.start) {
			sp.start = begin
		}
		if o.Timestamp.After(sp.end) {
			sp.end = o.Timestamp
		}
		spans[o.RequestID] = sp
	}
	if m.Attempts > 0 {
		m.MeanLatency = latency / time.Duration(m.Attempts)
	}
	if len(spans) > 0 {
		var total time.Duration
		for _, sp := range spans {
			total += sp.end.Sub(sp.start)
		}
		m.MeanSpan = total / time.Duration(len(spans))
	}
	return m, nil
}
