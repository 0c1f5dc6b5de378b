package orchestrator

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNotFound means no request has the given id.
	ErrNotFound = errors.New("orchestrator: request not found")

	// errFrozen is returned when updating a request that is already terminal.
	errFrozen = errors.New("orchestrator: request is terminal")
)

type storedRequest struct {
	report StatusReport
	done   chan struct{}
}

// RequestStore is a concurrency-safe in-memory store of request reports.
// A slice keeps insertion order for deterministic pagination.
type RequestStore struct {
	mu       sync.RWMutex
	requests map[string]*storedRequest
	orderIDs []string
}

// NewRequestStore returns an empty store.
func NewRequestStore() *RequestStore {
	return &RequestStore{requests: make(map[string]*storedRequest)}
}

// Create stores a new report.
func (s *RequestStore) Create(r StatusReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[r.RequestID]; exists {
		return fmt.Errorf("orchestrator: request %q already exists", r.RequestID)
	}
	s.requests[r.RequestID] = &storedRequest{report: copyReport(&r), done: make(chan struct{})}
	s.orderIDs = append(s.orderIDs, r.RequestID)
	return nil
}

// Get returns a copy of the report.
func (s *RequestStore) Get(id string) (StatusReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.requests[id]
	if !ok {
		return StatusReport{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return copyReport(&r.report), nil
}

// Update applies fn to the stored report under the write lock. Terminal
// reports are frozen: fn is not called and errFrozen is returned. When fn
// moves the report to a terminal status the done channel is closed.
func (s *RequestStore) Update(id string, fn func(*StatusReport)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.requests[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if r.report.Status.Terminal() {
		return errFrozen
	}
	fn(&r.report)
	if r.report.Status.Terminal() {
		close(r.done)
	}
	return nil
}

// Done returns a channel closed once the request is terminal.
func (s *RequestStore) Done(id string) (<-chan struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.done, nil
}

// ListFilter selects and paginates reports.
type ListFilter struct {
	Status    Status
	PageSize  int
	PageToken string
}

// ListResult is one page of reports.
type ListResult struct {
	Requests      []StatusReport `json:"requests"`
	TotalSize     int            `json:"totalSize"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

// List returns reports in submission order. PageToken is the id of the last
// report of the previous page; PageSize <= 0 returns everything.
func (s *RequestStore) List(filter ListFilter) (*ListResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	startIdx := 0
	if filter.PageToken != "" {
		found := false
		for i, id := range s.orderIDs {
			if id == filter.PageToken {
				startIdx = i + 1
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("orchestrator: invalid page token %q", filter.PageToken)
		}
	}

	total := 0
	matched := []StatusReport{}
	for i, id := range s.orderIDs {
		r := s.requests[id]
		if filter.Status != "" && r.report.Status != filter.Status {
			continue
		}
		total++
		if i >= startIdx {
			matched = append(matched, copyReport(&r.report))
		}
	}

	var next string
	if filter.PageSize > 0 && len(matched) > filter.PageSize {
		next = matched[filter.PageSize-1].RequestID
		matched = matched[:filter.PageSize]
	}
	return &ListResult{Requests: matched, TotalSize: total, NextPageToken: next}, nil
}
