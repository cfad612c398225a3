package engine

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-resilience/internal/models"
)

// DefaultFailureTypes are injected when a plan names none.
var DefaultFailureTypes = []string{"latency", "error", "crash", "timeout"}

// Chaos level bounds.
const (
	MinChaosLevel = 1
	MaxChaosLevel = 5
)

// Plan is a reproducible list of tests for one run.
type Plan struct {
	RunID       string            `json:"runId"`
	Seed        uint64            `json:"seed"`
	ChaosLevel  int               `json:"chaosLevel"`
	FailureRate float64           `json:"failureRate"`
	Duration    time.Duration     `json:"duration"`
	Cases       []models.TestCase `json:"cases"`
}

// TestsPerSecond spreads the plan's cases across its duration; zero when unpaced.
func (p Plan) TestsPerSecond() float64 {
	if p.Duration <= 0 || len(p.Cases) == 0 {
		return 0
	}
	return float64(len(p.Cases)) / p.Duration.Seconds()
}

// Planner selects tests from components x failure types.
type Planner struct {
	FailureTypes []string
	// TestsPerComponent is multiplied by the chaos level to size the plan.
	TestsPerComponent int
}

// NewPlanner returns a planner over failureTypes (DefaultFailureTypes when empty).
func NewPlanner(failureTypes []string) *Planner {
	if len(failureTypes) == 0 {
		failureTypes = DefaultFailureTypes
	}
	return &Planner{FailureTypes: append([]string(nil), failureTypes...), TestsPerComponent: 2}
}

// FailureRateFor maps a chaos level (1-5) onto the injection probability.
func FailureRateFor(level int) float64 {
	if level < MinChaosLevel {
		level = MinChaosLevel
	}
	if level > MaxChaosLevel {
		level = MaxChaosLevel
	}
	return float64(level) / MaxChaosLevel
}

// Build draws a plan. The same seed, level and components always give the same cases.
// A planner without failure types draws from DefaultFailureTypes.
func (p *Planner) Build(components []string, level int, seed uint64, duration time.Duration) (Plan, error) {
	if len(components) == 0 {
		return Plan{}, fmt.Errorf("plan requires at least one component")
	}
	if level < MinChaosLevel || level > MaxChaosLevel {
		return Plan{}, fmt.Errorf("chaos level %d outside [%d,%d]", level, MinChaosLevel, MaxChaosLevel)
	}
	sorted := append([]string(nil), components...)
	sort.Strings(sorted)
	types := p.FailureTypes
	if len(types) == 0 {
		types = DefaultFailureTypes
	}
	types = append([]string(nil), types...)
	sort.Strings(types)

	perComponent := p.TestsPerComponent
	if perComponent <= 0 {
		perComponent = 1
	}
	count := len(sorted) * perComponent * level

	rng := rand.New(rand.NewPCG(seed, ^seed))
	cases := make([]models.TestCase, 0, count)
	// Every component is exercised at least once before random draws.
	for i, c := range sorted {
		cases = append(cases, models.TestCase{Component: c, FailureType: types[i%len(types)]})
	}
	for len(cases) < count {
		cases = append(cases, models.TestCase{
			Component:   sorted[rng.IntN(len(sorted))],
			FailureType: types[rng.IntN(len(types))],
		})
	}

	return Plan{
		RunID:       uuid.NewString(),
		Seed:        seed,
		ChaosLevel:  level,
		FailureRate: FailureRateFor(level),
		Duration:    duration,
		Cases:       cases,
	}, nil
}
