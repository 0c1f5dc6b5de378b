// Package capability defines the boundary to capability providers: opaque
// services that, given a capability name and a payload, return a result or
// fail with a transient or permanent error.
package capability

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider executes named capabilities.
type Provider interface {
	Invoke(ctx context.Context, capability, payload string, opts Options) (string, error)
}

// HealthChecker is implemented by providers that can report reachability
// without doing work. Workers use it during validation.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// Options carries per-invocation settings.
type Options struct {
	// Timeout bounds the invocation when the caller's context has no
	// earlier deadline. Zero means no additional bound.
	Timeout time.Duration

	// Inputs are the outputs of the unit's dependencies in dependency order.
	Inputs []string

	Metadata map[string]string
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, capability, payload string, opts Options) (string, error)

// Invoke calls f.
func (f ProviderFunc) Invoke(ctx context.Context, capability, payload string, opts Options) (string, error) {
	return f(ctx, capability, payload, opts)
}

// ErrorKind classifies provider failures for the retry policy.
type ErrorKind int

const (
	// Transient errors are worth retrying.
	Transient ErrorKind = iota
	// Permanent errors fail the unit immediately.
	Permanent
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// ErrUnsupported means the provider does not implement the capability.
var ErrUnsupported = errors.New("unsupported capability")

// Error is a classified provider failure.
type Error struct {
	Kind       ErrorKind
	Capability string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("capability %s: %s: %v", e.Capability, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// TransientError wraps err as a retryable failure of capability.
func TransientError(capability string, err error) error {
	return &Error{Kind: Transient, Capability: capability, Err: err}
}

// PermanentError wraps err as a non-retryable failure of capability.
func PermanentError(capability string, err error) error {
	return &Error{Kind: Permanent, Capability: capability, Err: err}
}

// KindOf classifies err. Unclassified errors are transient.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return Transient
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	return err != nil && KindOf(err) == Permanent
}
