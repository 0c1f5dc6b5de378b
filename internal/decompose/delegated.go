package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dusk-indust/orchestra/internal/capability"
	"github.com/dusk-indust/orchestra/internal/workgraph"
)

// DecomposeCapability is the capability a delegated strategy invokes.
const DecomposeCapability = "decompose"

// proposal is the JSON document a provider returns for a delegated split.
type proposal struct {
	Units []struct {
		ID           string   `json:"id"`
		Description  string   `json:"description"`
		Payload      string   `json:"payload"`
		Capabilities []string `json:"capabilities"`
		DependsOn    []string `json:"dependsOn"`
	} `json:"units"`
}

// Delegated asks a capability provider to propose a split.
type Delegated struct {
	provider   capability.Provider
	capability string
}

var _ Strategy = (*Delegated)(nil)

// NewDelegated creates the strategy. An empty capability uses
// DecomposeCapability.
func NewDelegated(p capability.Provider, capabilityName string) *Delegated {
	if capabilityName == "" {
		capabilityName = DecomposeCapability
	}
	return &Delegated{provider: p, capability: capabilityName}
}

func (d *Delegated) Name() string { return "delegated" }

// Propose invokes the provider and decodes its JSON proposal. Output may be
// wrapped in a fenced code block.
func (d *Delegated) Propose(ctx context.Context, text string) ([]workgraph.Unit, error) {
	out, err := d.provider.Invoke(ctx, d.capability, Normalize(text), capability.Options{})
	if err != nil {
		return nil, fmt.Errorf("decompose: delegated: %w", err)
	}

	var p proposal
	if err := json.Unmarshal([]byte(stripFence(out)), &p); err != nil {
		return nil, fmt.Errorf("decompose: delegated: decode proposal: %w", err)
	}
	if len(p.Units) == 0 {
		return nil, fmt.Errorf("decompose: delegated: proposal has no units")
	}

	units := make([]workgraph.Unit, 0, len(p.Units))
	for _, pu := range p.Units {
		u := workgraph.Unit{
			ID:                   workgraph.UnitID(pu.ID),
			Description:          pu.Description,
			Payload:              pu.Payload,
			RequiredCapabilities: pu.Capabilities,
		}
		if u.Payload == "" {
			u.Payload = u.Description
		}
		for _, dep := range pu.DependsOn {
			u.DependsOn = append(u.DependsOn, workgraph.UnitID(dep))
		}
		units = append(units, u)
	}
	return units, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
