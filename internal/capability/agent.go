package capability

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/dusk-indust/orchestra/internal/a2a"
)

var _ a2a.Handler = (*Agent)(nil)

// Agent exposes a Provider as an A2A agent. Each message/send runs one
// invocation; the capability name travels in the message metadata.
type Agent struct {
	provider Provider
	card     a2a.AgentCard
	logger   *slog.Logger
}

// NewAgent creates an agent advertising one skill per capability.
func NewAgent(name, version string, provider Provider, capabilities []string, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	card := a2a.AgentCard{
		Name:        name,
		Description: "capability provider",
		Version:     version,
	}
	for _, c := range capabilities {
		card.Skills = append(card.Skills, a2a.AgentSkill{ID: c, Name: c})
	}
	return &Agent{
		provider: provider,
		card:     card,
		logger:   logger.With("component", "agent"),
	}
}

// Card returns the agent card.
func (a *Agent) Card() a2a.AgentCard { return a.card }

// Server returns an A2A server for the agent.
func (a *Agent) Server() *a2a.Server { return a2a.NewServer(a.card, a) }

// HandleSendMessage runs the requested capability and reports the result as
// a terminal task. Permanent failures are rejected tasks, transient ones are
// failed tasks.
func (a *Agent) HandleSendMessage(ctx context.Context, req a2a.SendMessageRequest) (*a2a.Task, error) {
	var inv invocation
	if len(req.Message.Metadata) > 0 {
		if err := json.Unmarshal(req.Message.Metadata, &inv); err != nil {
			return nil, &a2a.RPCError{Code: a2a.ErrCodeInvalidParams, Message: "metadata: " + err.Error()}
		}
	}
	if inv.Capability == "" {
		return nil, &a2a.RPCError{Code: a2a.ErrCodeInvalidParams, Message: "metadata: capability is required"}
	}

	task := &a2a.Task{ID: a2a.NewID(), ContextID: req.Message.ContextID}
	start := time.Now()
	out, err := a.provider.Invoke(ctx, inv.Capability, req.Message.Text(), Options{Inputs: inv.Inputs, Metadata: inv.Metadata})
	a.logger.Debug("invocation finished", "capability", inv.Capability, "task", task.ID, "latency", time.Since(start), "err", err)

	switch {
	case errors.Is(err, ErrUnsupported):
		return nil, &a2a.RPCError{Code: a2a.ErrCodeUnsupportedCapability, Message: err.Error()}
	case err != nil:
		state := a2a.TaskStateFailed
		if IsPermanent(err) {
			state = a2a.TaskStateRejected
		}
		task.Status = a2a.TaskStatus{
			State:     state,
			Timestamp: time.Now().UTC(),
			Message:   &a2a.Message{MessageID: a2a.NewID(), Role: a2a.RoleAgent, Parts: []a2a.Part{a2a.TextPart(err.Error())}},
		}
		return task, nil
	}

	task.Status = a2a.TaskStatus{State: a2a.TaskStateCompleted, Timestamp: time.Now().UTC()}
	task.Artifacts = []a2a.Artifact{{
		ArtifactID: a2a.NewID(),
		Name:       inv.Capability,
		Parts:      []a2a.Part{a2a.TextPart(out)},
	}}
	return task, nil
}
