// Package config loads orchestra.yml. A missing file yields defaults; a
// present file is validated against an embedded CUE schema before it is
// decoded over the defaults.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/dusk-indust/orchestra/internal/bootstrap"
	"github.com/dusk-indust/orchestra/internal/controller"
	"github.com/dusk-indust/orchestra/internal/scheduler"
	"github.com/dusk-indust/orchestra/internal/worker"
)

//go:embed schema.cue
var schemaSource string

// FileNames are the names Load looks for, in order.
var FileNames = []string{"orchestra.yml", "orchestra.yaml"}

// Provider kinds for configured workers.
const (
	ProviderBuiltin = "builtin"
	ProviderA2A     = "a2a"
)

// Store drivers for outcomes and graphstore.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverKuzu   = "kuzu"
)

// Config is the whole configuration document.
type Config struct {
	Scheduler   Scheduler      `yaml:"scheduler"`
	Scoring     worker.Weights `yaml:"scoring"`
	Health      Health         `yaml:"health"`
	Decompose   Decompose      `yaml:"decompose"`
	Bootstrap   Bootstrap      `yaml:"bootstrap"`
	Controllers Controllers    `yaml:"controllers"`
	Workers     []Worker       `yaml:"workers"`
	Agents      Agents         `yaml:"agents"`
	Outcomes    Store          `yaml:"outcomes"`
	GraphStore  Store          `yaml:"graphstore"`
}

type Scheduler struct {
	Parallelism           int           `yaml:"parallelism"`
	RetryBudget           int           `yaml:"retryBudget"`
	MaxConcurrentRequests int           `yaml:"maxConcurrentRequests"`
	UnitTimeout           time.Duration `yaml:"unitTimeout"`
	RequestTimeout        time.Duration `yaml:"requestTimeout"`
	BackoffBase           time.Duration `yaml:"backoffBase"`
	BackoffCap            time.Duration `yaml:"backoffCap"`
	MergePolicy           string        `yaml:"mergePolicy"`
	Separator             string        `yaml:"separator"`
}

// SchedulerConfig converts the section into a scheduler.Config.
func (s Scheduler) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		UnitTimeout:    s.UnitTimeout,
		RequestTimeout: s.RequestTimeout,
		BackoffBase:    s.BackoffBase,
		BackoffCap:     s.BackoffCap,
		MergePolicy:    scheduler.MergePolicy(s.MergePolicy),
		Separator:      s.Separator,
	}
}

// Health controls worker degradation. A worker is degraded after
// DegradeAfter consecutive transient failures and revalidated every
// Interval; zero disables either.
type Health struct {
	Interval     time.Duration `yaml:"interval"`
	DegradeAfter int           `yaml:"degradeAfter"`
}

type Decompose struct {
	Threshold int    `yaml:"threshold"`
	MaxDepth  int    `yaml:"maxDepth"`
	Strategy  string `yaml:"strategy"`
	// DelegateWorker names the configured worker whose provider proposes
	// splits for the delegated and hybrid strategies.
	DelegateWorker     string `yaml:"delegateWorker"`
	DelegateCapability string `yaml:"delegateCapability"`
}

type Bootstrap struct {
	MaxAttempts int                     `yaml:"maxAttempts"`
	BackoffUnit time.Duration           `yaml:"backoffUnit"`
	Stages      []bootstrap.Declaration `yaml:"stages"`
}

type Controllers struct {
	Enabled  bool               `yaml:"enabled"`
	Interval time.Duration      `yaml:"interval"`
	Cooldown time.Duration      `yaml:"cooldown"`
	Targets  controller.Targets `yaml:"targets"`
}

// Worker declares one pool member.
type Worker struct {
	ID           string   `yaml:"id"`
	Provider     string   `yaml:"provider"`
	Capabilities []string `yaml:"capabilities"`
	Endpoint     string   `yaml:"endpoint"`
}

// Agents lists A2A endpoints probed during bootstrap. A port range on Host
// is added to Endpoints when both ports are set.
type Agents struct {
	Endpoints []string `yaml:"endpoints"`
	Host      string   `yaml:"host"`
	FromPort  int      `yaml:"fromPort"`
	ToPort    int      `yaml:"toPort"`
}

type Store struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	sc := scheduler.DefaultConfig()
	return &Config{
		Scheduler: Scheduler{
			Parallelism:           4,
			RetryBudget:           3,
			MaxConcurrentRequests: 4,
			UnitTimeout:           sc.UnitTimeout,
			RequestTimeout:        sc.RequestTimeout,
			BackoffBase:           sc.BackoffBase,
			BackoffCap:            sc.BackoffCap,
			MergePolicy:           string(sc.MergePolicy),
			Separator:             sc.Separator,
		},
		Scoring: worker.DefaultWeights(),
		Health: Health{
			Interval:     15 * time.Second,
			DegradeAfter: worker.DefaultDegradeAfter,
		},
		Decompose: Decompose{
			Threshold:          1,
			MaxDepth:           4,
			Strategy:           "fixed",
			DelegateCapability: "decompose",
		},
		Bootstrap: Bootstrap{
			MaxAttempts: 3,
			BackoffUnit: time.Second,
		},
		Controllers: Controllers{
			Enabled:  true,
			Interval: 30 * time.Second,
			Cooldown: 10 * time.Second,
			Targets:  controller.DefaultTargets(),
		},
		Workers: []Worker{
			{ID: "local", Provider: ProviderBuiltin, Capabilities: []string{"echo", "compute", "format"}},
		},
		Outcomes:   Store{Driver: DriverMemory},
		GraphStore: Store{Driver: DriverMemory},
	}
}

// Load reads orchestra.yml or orchestra.yaml from dir. It returns defaults
// (not an error) if neither exists.
func Load(dir string) (*Config, error) {
	for _, name := range FileNames {
		cfg, err := LoadFile(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		return cfg, err
	}
	return Default(), nil
}

// LoadFile reads and parses one configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates data and decodes it over the defaults.
func Parse(data []byte) (*Config, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks a YAML document against the embedded schema.
func Validate(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("config: decode: %w", err)
	}
	if doc == nil {
		return nil
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config: schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(doc))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// check enforces the rules the schema cannot express.
func (c *Config) check() error {
	if c.Scheduler.BackoffBase > c.Scheduler.BackoffCap {
		return fmt.Errorf("config: scheduler.backoffBase %s exceeds backoffCap %s", c.Scheduler.BackoffBase, c.Scheduler.BackoffCap)
	}
	seen := make(map[string]bool, len(c.Workers))
	for _, w := range c.Workers {
		if seen[w.ID] {
			return fmt.Errorf("config: duplicate worker id %q", w.ID)
		}
		seen[w.ID] = true
	}
	if c.Decompose.Strategy != "fixed" && !seen[c.Decompose.DelegateWorker] {
		return fmt.Errorf("config: decompose.strategy %s needs delegateWorker naming a configured worker", c.Decompose.Strategy)
	}
	if (c.Agents.FromPort == 0) != (c.Agents.ToPort == 0) || c.Agents.FromPort > c.Agents.ToPort {
		return fmt.Errorf("config: agents port range %d..%d is invalid", c.Agents.FromPort, c.Agents.ToPort)
	}
	if c.Outcomes.Driver == DriverSQLite && c.Outcomes.Path == "" {
		return errors.New("config: outcomes.path is required for the sqlite driver")
	}
	return nil
}
