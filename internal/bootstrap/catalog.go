package bootstrap

import (
	"context"
	"fmt"
)

// Declaration is the configuration form of a stage: checks and remedies
// are referenced by name and resolved against a Catalog.
type Declaration struct {
	Name      string   `yaml:"name"`
	DependsOn []string `yaml:"dependsOn"`
	Critical  bool     `yaml:"critical"`
	Check     string   `yaml:"check"`
	Remediate string   `yaml:"remediate"`
	Unlocks   []string `yaml:"unlocks"`
}

// Catalog holds the named checks and remedies available to declarations.
type Catalog struct {
	Checks   map[string]func(ctx context.Context) Result
	Remedies map[string]func(ctx context.Context, failed Result) error
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		Checks:   make(map[string]func(ctx context.Context) Result),
		Remedies: make(map[string]func(ctx context.Context, failed Result) error),
	}
}

// Stages resolves declarations into runnable stages. A declaration without
// a check uses the check named after the stage.
func (c *Catalog) Stages(decls []Declaration) ([]Stage, error) {
	out := make([]Stage, 0, len(decls))
	for _, d := range decls {
		checkName := d.Check
		if checkName == "" {
			checkName = d.Name
		}
		check, ok := c.Checks[checkName]
		if !ok {
			return nil, fmt.Errorf("bootstrap: stage %q: unknown check %q", d.Name, checkName)
		}
		st := Stage{
			Name:      d.Name,
			DependsOn: d.DependsOn,
			Critical:  d.Critical,
			Validate:  check,
			Unlocks:   d.Unlocks,
		}
		if d.Remediate != "" {
			remedy, ok := c.Remedies[d.Remediate]
			if !ok {
				return nil, fmt.Errorf("bootstrap: stage %q: unknown remedy %q", d.Name, d.Remediate)
			}
			st.Remediate = remedy
		}
		out = append(out, st)
	}
	return out, nil
}
