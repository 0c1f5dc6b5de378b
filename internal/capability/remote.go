package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dusk-indust/orchestra/internal/a2a"
)

var (
	_ Provider      = (*Remote)(nil)
	_ HealthChecker = (*Remote)(nil)
)

// invocation is the message metadata carried to a remote agent.
type invocation struct {
	Capability string            `json:"capability"`
	Inputs     []string          `json:"inputs,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Remote invokes capabilities on an A2A agent.
type Remote struct {
	client   a2a.Client
	endpoint string
}

// NewRemote creates a provider backed by the agent at endpoint.
func NewRemote(client a2a.Client, endpoint string) *Remote {
	return &Remote{client: client, endpoint: endpoint}
}

// Invoke sends payload as a blocking message/send and returns the text of
// the completed task's artifacts.
func (r *Remote) Invoke(ctx context.Context, capability, payload string, opts Options) (string, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	meta, err := json.Marshal(invocation{Capability: capability, Inputs: opts.Inputs, Metadata: opts.Metadata})
	if err != nil {
		return "", PermanentError(capability, fmt.Errorf("encode metadata: %w", err))
	}

	task, err := r.client.SendMessage(ctx, r.endpoint, a2a.SendMessageRequest{
		Message: a2a.Message{
			MessageID: a2a.NewID(),
			Role:      a2a.RoleUser,
			Parts:     []a2a.Part{a2a.TextPart(payload)},
			Metadata:  meta,
		},
		Configuration: &a2a.SendMessageConfig{Blocking: true},
	})
	if err != nil {
		return "", &Error{Kind: classifyA2A(err), Capability: capability, Err: err}
	}

	switch task.Status.State {
	case a2a.TaskStateCompleted:
		return task.Text(), nil
	case a2a.TaskStateRejected:
		return "", PermanentError(capability, fmt.Errorf("task %s rejected: %s", task.ID, statusText(task)))
	default:
		return "", TransientError(capability, fmt.Errorf("task %s ended %s: %s", task.ID, task.Status.State, statusText(task)))
	}
}

// Check discovers the agent card.
func (r *Remote) Check(ctx context.Context) error {
	if _, err := r.client.DiscoverAgent(ctx, r.endpoint); err != nil {
		return fmt.Errorf("capability: agent %s unreachable: %w", r.endpoint, err)
	}
	return nil
}

// Capabilities returns the skill ids advertised by the agent.
func (r *Remote) Capabilities(ctx context.Context) ([]string, error) {
	card, err := r.client.DiscoverAgent(ctx, r.endpoint)
	if err != nil {
		return nil, err
	}
	return card.SkillIDs(), nil
}

func classifyA2A(err error) ErrorKind {
	var rpcErr *a2a.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case a2a.ErrCodeMethodNotFound, a2a.ErrCodeInvalidParams, a2a.ErrCodeUnsupportedCapability:
			return Permanent
		}
		return Transient
	}
	var te *a2a.TransportError
	if errors.As(err, &te) && te.Status >= 400 && te.Status < 500 {
		switch te.Status {
		case http.StatusRequestTimeout, http.StatusTooManyRequests:
			return Transient
		}
		return Permanent
	}
	return Transient
}

func statusText(task *a2a.Task) string {
	if task.Status.Message == nil {
		return "no detail"
	}
	return task.Status.Message.Text()
}
