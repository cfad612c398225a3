package models

import "time"

// NotRecovered is the RecoveryTimeMs sentinel for tests whose component never returned to baseline.
const NotRecovered = -1.0

// Failure type tags reserved by the harness.
const (
	FailureInfrastructure = "infrastructure"
	FailureDeferred       = "deferred"
)

// TestCase names one requested fault injection.
type TestCase struct {
	Component   string `json:"component" yaml:"component"`
	FailureType string `json:"failureType" yaml:"failureType"`
}

// TestOutcome is the result of a single harness test.
type TestOutcome struct {
	RunID          string       `json:"runId,omitempty"`
	Component      string       `json:"component"`
	FailureType    string       `json:"failureType"`
	Passed         bool         `json:"passed"`
	RecoveryTimeMs float64      `json:"recoveryTimeMs"`
	Injected       bool         `json:"injected"`
	Deferred       bool         `json:"deferred,omitempty"`
	// Control outcomes exercised the component without a fault because the injection gate was not taken.
	// They count as skipped injections, never as tests.
	Control        bool         `json:"control,omitempty"`
	Error          string       `json:"error,omitempty"`
	StartedAt      time.Time    `json:"startedAt"`
	Degradation    *Degradation `json:"degradation,omitempty"`
}

// Recovered reports whether the outcome carries a real recovery time.
func (o TestOutcome) Recovered() bool {
	return o.Passed && o.RecoveryTimeMs >= 0
}

// Breakdown counts tests for one component or failure type.
type Breakdown struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// RecoveryRate returns Passed/Total, or 0 when nothing ran.
func (b Breakdown) RecoveryRate() float64 {
	if b.Total == 0 {
		return 0
	}
	return float64(b.Passed) / float64(b.Total)
}

// Summary aggregates the outcomes of a run. Score fields are filled by the scorer afterwards.
type Summary struct {
	RunID               string               `json:"runId,omitempty"`
	TotalTests          int                  `json:"totalTests"`
	PassedTests         int                  `json:"passedTests"`
	FailedTests         int                  `json:"failedTests"`
	DeferredTests       int                  `json:"deferredTests"`
	SkippedInjections   int                  `json:"skippedInjections"`
	RecoverySuccessRate float64              `json:"recoverySuccessRate"`
	AverageRecoveryTime float64              `json:"averageRecoveryTime"`
	P95RecoveryTime     float64              `json:"p95RecoveryTime"`
	TestsByComponent    map[string]Breakdown `json:"testsByComponent"`
	TestsByFailureType  map[string]Breakdown `json:"testsByFailureType"`
	ResilienceScore     *int                 `json:"resilienceScore,omitempty"`
	ResilienceRating    string               `json:"resilienceRating,omitempty"`
	Missing             []string             `json:"missing,omitempty"`
	StartedAt           time.Time            `json:"startedAt"`
	FinishedAt          time.Time            `json:"finishedAt"`
}

// NewSummary returns an empty summary with initialised breakdown maps.
func NewSummary() Summary {
	return Summary{
		TestsByComponent:   make(map[string]Breakdown),
		TestsByFailureType: make(map[string]Breakdown),
	}
}

// Components returns the components present in the per-component breakdown.
func (s Summary) Components() []string {
	out := make([]string, 0, len(s.TestsByComponent))
	for name := range s.TestsByComponent {
		out = append(out, name)
	}
	return out
}

// Annotate records that a piece of report context was unavailable.
func (s *Summary) Annotate(missing string) {
	for _, m := range s.Missing {
		if m == missing {
			return
		}
	}
	s.Missing = append(s.Missing, missing)
}
