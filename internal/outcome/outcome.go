// Package outcome holds the append-only record of unit execution attempts.
// Feedback controllers read it; nothing rewrites it.
package outcome

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome is the immutable record of one execution attempt.
type Outcome struct {
	Seq        int64         `json:"seq"`
	ID         string        `json:"id"`
	RequestID  string        `json:"requestId"`
	UnitID     string        `json:"unitId"`
	WorkerID   string        `json:"workerId,omitempty"`
	Capability string        `json:"capability,omitempty"`
	Attempt    int           `json:"attempt"`
	Success    bool          `json:"success"`
	Payload    string        `json:"payload,omitempty"`
	Error      string        `json:"error,omitempty"`
	ErrorKind  string        `json:"errorKind,omitempty"`
	Latency    time.Duration `json:"latencyNs"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Log is an append-only outcome store. Append is atomic: concurrent appends
// never interleave and each receives a distinct, increasing Seq.
type Log interface {
	Append(ctx context.Context, o Outcome) (Outcome, error)
	// Since returns outcomes with Seq greater than seq, in Seq order.
	Since(ctx context.Context, seq int64) ([]Outcome, error)
}

// NewID returns a time-ordered outcome id.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func stamp(o *Outcome) {
	if o.ID == "" {
		o.ID = NewID()
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now().UTC()
	}
}

var _ Log = (*MemLog)(nil)

// MemLog is an in-memory Log.
type MemLog struct {
	mu   sync.RWMutex
	recs []Outcome
}

// NewMemLog creates an empty log.
func NewMemLog() *MemLog {
	return &MemLog{}
}

// Append assigns Seq (and ID and Timestamp when unset) and stores o.
func (l *MemLog) Append(_ context.Context, o Outcome) (Outcome, error) {
	stamp(&o)
	l.mu.Lock()
	defer l.mu.Unlock()
	o.Seq = int64(len(l.recs)) + 1
	l.recs = append(l.recs, o)
	return o, nil
}

func (l *MemLog) Since(_ context.Context, seq int64) ([]Outcome, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq < 0 {
		seq = 0
	}
	if seq >= int64(len(l.recs)) {
		return nil, nil
	}
	return append([]Outcome(nil), l.recs[seq:]...), nil
}

// Len returns the number of records.
func (l *MemLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.recs)
}

// Filter returns outcomes for which keep is true, in Seq order.
func Filter(outs []Outcome, keep func(Outcome) bool) []Outcome {
	var res []Outcome
	for _, o := range outs {
		if keep(o) {
			res = append(res, o)
		}
	}
	return res
}
