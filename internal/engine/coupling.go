package engine

import (
	"log/slog"
	"sort"

	"github.com/miradorstack/mirador-resilience/internal/models"
)

// Coupling kinds.
const (
	// CouplingUndeclared: the component degraded although it has no declared path to the root.
	CouplingUndeclared = "undeclared"
	// CouplingPropagated: a declared dependent degraded with the root.
	CouplingPropagated = "propagated"
	// CouplingContained: a declared dependent stayed healthy.
	CouplingContained = "contained"
)

// CouplingFinding relates one observed (root, component) pair to the declared topology.
type CouplingFinding struct {
	Root        string `json:"root"`
	Component   string `json:"component"`
	Kind        string `json:"kind"`
	Occurrences int    `json:"occurrences"`
}

// CouplingResult summarises cascades against the declared topology.
type CouplingResult struct {
	Findings []CouplingFinding `json:"findings"`
	// Containment is contained / (contained + propagated) over declared dependents, in [0,1].
	Containment float64  `json:"containment"`
	Notes       []string `json:"notes,omitempty"`
}

// Undeclared returns only the undeclared-coupling findings.
func (r CouplingResult) Undeclared() []CouplingFinding {
	out := make([]CouplingFinding, 0)
	for _, f := range r.Findings {
		if f.Kind == CouplingUndeclared {
			out = append(out, f)
		}
	}
	return out
}

// CouplingAnalyzer compares observed cascades with declared dependencies.
type CouplingAnalyzer struct {
	logger *slog.Logger
}

// NewCouplingAnalyzer constructs a CouplingAnalyzer.
func NewCouplingAnalyzer(logger *slog.Logger) *CouplingAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &CouplingAnalyzer{logger: logger}
}

// Evaluate classifies every effect and resilient component of every cascade.
// topology maps a component to the components it depends on.
func (a *CouplingAnalyzer) Evaluate(cascades []models.FailureCascade, topology map[string][]string) CouplingResult {
	result := CouplingResult{Findings: make([]CouplingFinding, 0)}
	if len(cascades) == 0 {
		return result
	}

	dependents := reverse(topology)
	counts := make(map[CouplingFinding]int)
	contained, propagated := 0, 0
	for _, c := range cascades {
		reach := downstream(c.Root, dependents)
		for _, e := range c.Effects {
			kind := CouplingUndeclared
			if reach[e] {
				kind = CouplingPropagated
				propagated++
			}
			counts[CouplingFinding{Root: c.Root, Component: e, Kind: kind}]++
		}
		for _, r := range c.ResilientComponents {
			if !reach[r] {
				continue
			}
			contained++
			counts[CouplingFinding{Root: c.Root, Component: r, Kind: CouplingContained}]++
		}
	}

	for f, n := range counts {
		f.Occurrences = n
		result.Findings = append(result.Findings, f)
		if f.Kind == CouplingUndeclared {
			result.Notes = append(result.Notes, f.Component+" degrades when "+f.Root+" fails without a declared dependency")
		}
	}
	sort.Slice(result.Findings, func(i, j int) bool {
		a, b := result.Findings[i], result.Findings[j]
		if a.Root != b.Root {
			return a.Root < b.Root
		}
		if a.Component != b.Component {
			return a.Component < b.Component
		}
		return a.Kind < b.Kind
	})
	sort.Strings(result.Notes)

	if total := contained + propagated; total > 0 {
		result.Containment = clamp(float64(contained)/float64(total), 0, 1)
	}
	a.logger.Debug("coupling evaluated",
		slog.Int("findings", len(result.Findings)),
		slog.Float64("containment", result.Containment),
	)
	return result
}

func reverse(topology map[string][]string) map[string][]string {
	out := make(map[string][]string, len(topology))
	for component, deps := range topology {
		for _, d := range deps {
			out[d] = append(out[d], component)
		}
	}
	return out
}

// downstream returns every component with a declared path to root, excluding root.
func downstream(root string, dependents map[string][]string) map[string]bool {
	seen := map[string]bool{root: true}
	queue := []string{root}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for _, d := range dependents[next] {
			if seen[d] {
				continue
			}
			seen[d] = true
			queue = append(queue, d)
		}
	}
	delete(seen, root)
	return seen
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
