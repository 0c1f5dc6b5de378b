package decompose

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/dusk-indust/orchestra/internal/workgraph"
)

var (
	// stepSplit matches sequencing connectives between steps.
	stepSplit = regexp.MustCompile(`(?i)\s*(?:;|\n+|,?\s+and then\s+|,?\s+after that,?\s+|,?\s+then\s+|,?\s+finally,?\s+)\s*`)
	// numbered matches "1." / "2)" step markers.
	numbered = regexp.MustCompile(`(?m)(?:^|\s)\d+[.)]\s+`)
	// andSplit separates parallel clauses within one step.
	andSplit = regexp.MustCompile(`(?i)\s+and\s+`)
)

// DefaultVerbs maps leading verbs to capabilities.
func DefaultVerbs() map[string]string {
	return map[string]string{
		"compute":   "compute",
		"calculate": "compute",
		"evaluate":  "compute",
		"sum":       "compute",
		"format":    "format",
		"render":    "format",
		"present":   "format",
		"fetch":     "fetch",
		"download":  "fetch",
		"retrieve":  "fetch",
		"search":    "search",
		"find":      "search",
		"summarize": "summarize",
		"summarise": "summarize",
		"translate": "translate",
		"echo":      "echo",
	}
}

// FixedRule splits requests by pattern: sequencing connectives ("then",
// "and then", "after that", ";", numbered steps) separate steps, and "and"
// between two recognised verbs separates parallel clauses within a step.
// Each clause becomes a unit whose capability comes from its leading verb.
// Every clause of a step depends on every clause of the previous step.
type FixedRule struct {
	verbs    map[string]string
	fallback string
}

var _ Strategy = (*FixedRule)(nil)

// NewFixedRule creates the strategy. Clauses with an unknown verb get the
// fallback capability.
func NewFixedRule(verbs map[string]string, fallback string) *FixedRule {
	if verbs == nil {
		verbs = DefaultVerbs()
	}
	if fallback == "" {
		fallback = "echo"
	}
	return &FixedRule{verbs: verbs, fallback: fallback}
}

func (f *FixedRule) Name() string { return "fixed-rule" }

// Propose splits text. A text with one clause yields one unit.
func (f *FixedRule) Propose(_ context.Context, text string) ([]workgraph.Unit, error) {
	steps := f.steps(text)
	if len(steps) == 0 {
		return nil, fmt.Errorf("decompose: empty request")
	}

	var units []workgraph.Unit
	ids := newIDAllocator()
	var prev []workgraph.UnitID
	for _, step := range steps {
		var cur []workgraph.UnitID
		for _, clause := range step {
			c := f.Classify(clause)
			id := ids.next(c)
			units = append(units, workgraph.Unit{
				ID:                   id,
				Description:          clause,
				Payload:              clause,
				RequiredCapabilities: []string{c},
				DependsOn:            append([]workgraph.UnitID(nil), prev...),
			})
			cur = append(cur, id)
		}
		prev = cur
	}
	return units, nil
}

// Classify returns the capability for a clause from its leading verb.
func (f *FixedRule) Classify(clause string) string {
	fields := strings.Fields(strings.ToLower(clause))
	if len(fields) == 0 {
		return f.fallback
	}
	verb := strings.Trim(fields[0], ".,:;!?\"'")
	if c, ok := f.verbs[verb]; ok {
		return c
	}
	return f.fallback
}

// Clauses returns the number of clauses in text.
func (f *FixedRule) Clauses(text string) int {
	n := 0
	for _, step := range f.steps(text) {
		n += len(step)
	}
	return n
}

func (f *FixedRule) steps(text string) [][]string {
	text = Normalize(text)
	text = numbered.ReplaceAllString(text, "\n")

	var steps [][]string
	for _, raw := range stepSplit.Split(text, -1) {
		raw = cleanClause(raw)
		if raw == "" {
			continue
		}
		steps = append(steps, f.parallel(raw))
	}
	return steps
}

// parallel splits a step on "and" only when every resulting clause starts
// with a recognised verb.
func (f *FixedRule) parallel(step string) []string {
	parts := andSplit.Split(step, -1)
	if len(parts) < 2 {
		return []string{step}
	}
	var out []string
	for _, p := range parts {
		p = cleanClause(p)
		if p == "" || !f.known(p) {
			return []string{step}
		}
		out = append(out, p)
	}
	return out
}

func (f *FixedRule) known(clause string) bool {
	fields := strings.Fields(strings.ToLower(clause))
	if len(fields) == 0 {
		return false
	}
	_, ok := f.verbs[strings.Trim(fields[0], ".,:;!?\"'")]
	return ok
}

// Normalize applies NFC and collapses whitespace runs other than newlines.
func Normalize(text string) string {
	text = norm.NFC.String(text)
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.Join(strings.Fields(l), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func cleanClause(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ".,;:")
	lower := strings.ToLower(s)
	for _, prefix := range []string{"and ", "then ", "finally "} {
		if strings.HasPrefix(lower, prefix) {
			s = strings.TrimSpace(s[len(prefix):])
			lower = strings.ToLower(s)
		}
	}
	return s
}

type idAllocator struct {
	seen map[string]int
}

func newIDAllocator() *idAllocator { return &idAllocator{seen: make(map[string]int)} }

// next returns base for its first use and base-2, base-3, ... after that.
func (a *idAllocator) next(base string) workgraph.UnitID {
	a.seen[base]++
	if n := a.seen[base]; n > 1 {
		return workgraph.UnitID(fmt.Sprintf("%s-%d", base, n))
	}
	return workgraph.UnitID(base)
}
