package capability

import (
	"context"
	"sort"
	"strings"
)

var _ Provider = (*Local)(nil)

// HandlerFunc implements one capability in process.
type HandlerFunc func(ctx context.Context, payload string, opts Options) (string, error)

// Local dispatches capabilities to in-process handlers.
type Local struct {
	handlers map[string]HandlerFunc
}

// NewLocal creates a provider serving the given handlers.
func NewLocal(handlers map[string]HandlerFunc) *Local {
	l := &Local{handlers: make(map[string]HandlerFunc, len(handlers))}
	for name, h := range handlers {
		l.handlers[name] = h
	}
	return l
}

// Capabilities returns the served capability names, sorted.
func (l *Local) Capabilities() []string {
	names := make([]string, 0, len(l.handlers))
	for name := range l.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the handler for capability. Unknown capabilities fail
// permanently.
func (l *Local) Invoke(ctx context.Context, capability, payload string, opts Options) (string, error) {
	h, ok := l.handlers[capability]
	if !ok {
		return "", PermanentError(capability, ErrUnsupported)
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return "", TransientError(capability, err)
	}
	return h(ctx, payload, opts)
}

// Builtin returns the provider used by the default echo worker. It serves
// "echo", "compute" (integer arithmetic found in the payload) and "format"
// (renders dependency inputs as "Result: ...").
func Builtin() *Local {
	return NewLocal(map[string]HandlerFunc{
		"echo": func(_ context.Context, payload string, opts Options) (string, error) {
			if len(opts.Inputs) > 0 {
				return payload + "\n" + strings.Join(opts.Inputs, "\n"), nil
			}
			return payload, nil
		},
		"compute": func(_ context.Context, payload string, _ Options) (string, error) {
			v, err := EvalArithmetic(payload)
			if err != nil {
				return "", PermanentError("compute", err)
			}
			return v, nil
		},
		"format": func(_ context.Context, payload string, opts Options) (string, error) {
			body := strings.Join(opts.Inputs, " ")
			if body == "" {
				body = payload
			}
			return "Result: " + body, nil
		},
	})
}
