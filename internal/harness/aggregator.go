package harness

import (
	"sync"
	"time"

	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

// Aggregator folds outcomes into a Summary. Many producers may call Add concurrently.
type Aggregator struct {
	mu       sync.Mutex
	summary  models.Summary
	outcomes []models.TestOutcome
	recovery *utils.LatencyTracker
}

// NewAggregator returns an empty aggregator for runID.
func NewAggregator(runID string) *Aggregator {
	s := models.NewSummary()
	s.RunID = runID
	s.StartedAt = time.Now().UTC()
	return &Aggregator{summary: s, recovery: utils.NewLatencyTracker(1 << 16)}
}

// Add folds one outcome. Control outcomes only count as skipped injections.
func (a *Aggregator) Add(o models.TestOutcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.outcomes = append(a.outcomes, o)
	s := &a.summary
	if o.Control {
		s.SkippedInjections++
		return
	}
	s.TotalTests++
	if o.Passed {
		s.PassedTests++
	} else {
		s.FailedTests++
	}
	if o.Deferred {
		s.DeferredTests++
	}
	if o.Injected && o.Recovered() {
		a.recovery.Observe(utils.FromMillis(o.RecoveryTimeMs))
	}

	s.TestsByComponent[o.Component] = tally(s.TestsByComponent[o.Component], o.Passed)
	s.TestsByFailureType[o.FailureType] = tally(s.TestsByFailureType[o.FailureType], o.Passed)
}

// Summary returns the folded summary with derived rates filled in.
func (a *Aggregator) Summary() models.Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.summary
	s.TestsByComponent = copyBreakdown(a.summary.TestsByComponent)
	s.TestsByFailureType = copyBreakdown(a.summary.TestsByFailureType)
	s.Missing = append([]string(nil), a.summary.Missing...)
	s.RecoverySuccessRate = utils.SafeRatio(float64(s.PassedTests), float64(s.TotalTests))
	s.AverageRecoveryTime = utils.Millis(a.recovery.Mean())
	s.P95RecoveryTime = utils.Millis(a.recovery.Percentile(95))
	s.FinishedAt = time.Now().UTC()
	return s
}

// Outcomes returns every folded outcome in fold order.
func (a *Aggregator) Outcomes() []models.TestOutcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.TestOutcome(nil), a.outcomes...)
}

func tally(b models.Breakdown, passed bool) models.Breakdown {
	b.Total++
	if passed {
		b.Passed++
	} else {
		b.Failed++
	}
	return b
}

func copyBreakdown(in map[string]models.Breakdown) map[string]models.Breakdown {
	out := make(map[string]models.Breakdown, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
