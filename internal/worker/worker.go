// Package worker binds capability providers to schedulable workers and
// tracks their lifecycle, load and statistics in a Pool.
package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/dusk-indust/orchestra/internal/capability"
	"github.com/dusk-indust/orchestra/internal/workgraph"
)

// Assignment is one attempt at a unit, with the outputs of its dependencies.
type Assignment struct {
	RequestID string
	Unit      workgraph.Unit
	Attempt   int
	Inputs    []string
}

// Worker executes units for a fixed set of capabilities. Specialisation is
// data: the capability list and the provider binding.
type Worker interface {
	ID() string
	Capabilities() []string
	Submit(ctx context.Context, a Assignment) (string, error)
	Validate(ctx context.Context) error
}

var _ Worker = (*ProviderWorker)(nil)

// ProviderWorker is a Worker backed by a capability.Provider.
type ProviderWorker struct {
	id       string
	caps     []string
	provider capability.Provider
}

// NewProviderWorker creates a worker advertising caps.
func NewProviderWorker(id string, caps []string, provider capability.Provider) *ProviderWorker {
	return &ProviderWorker{
		id:       id,
		caps:     append([]string(nil), caps...),
		provider: provider,
	}
}

func (w *ProviderWorker) ID() string { return w.id }

func (w *ProviderWorker) Capabilities() []string { return append([]string(nil), w.caps...) }

// Submit invokes the unit's primary capability with its payload. The
// description stands in when the payload is empty.
func (w *ProviderWorker) Submit(ctx context.Context, a Assignment) (string, error) {
	payload := a.Unit.Payload
	if strings.TrimSpace(payload) == "" {
		payload = a.Unit.Description
	}
	opts := capability.Options{
		Inputs: a.Inputs,
		Metadata: map[string]string{
			"request": a.RequestID,
			"unit":    string(a.Unit.ID),
			"attempt": fmt.Sprint(a.Attempt),
		},
	}
	return w.provider.Invoke(ctx, a.Unit.Capability(), payload, opts)
}

// Validate runs the provider's health check when it has one.
func (w *ProviderWorker) Validate(ctx context.Context) error {
	if hc, ok := w.provider.(capability.HealthChecker); ok {
		return hc.Check(ctx)
	}
	return nil
}
