package bootstrap

import (
	"sync"
	"time"
)

// Pattern records what a successful stage looked like.
type Pattern struct {
	Stage    string
	Attempts int
	Env      map[string]string
	At       time.Time
}

// PatternStore keeps success patterns.
type PatternStore interface {
	Record(p Pattern)
	Patterns(stage string) []Pattern
}

// MemPatterns is an in-memory PatternStore.
type MemPatterns struct {
	mu   sync.Mutex
	byID map[string][]Pattern
}

var _ PatternStore = (*MemPatterns)(nil)

// NewMemPatterns creates an empty store.
func NewMemPatterns() *MemPatterns {
	return &MemPatterns{byID: make(map[string][]Pattern)}
}

func (m *MemPatterns) Record(p Pattern) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[p.Stage] = append(m.byID[p.Stage], p)
}

func (m *MemPatterns) Patterns(stage string) []Pattern {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Pattern(nil), m.byID[stage]...)
}
