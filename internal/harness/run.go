package harness

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/scoring"
)

// Report is the result of a whole run.
type Report struct {
	Summary   models.Summary
	Outcomes  []models.TestOutcome
	UXImpacts []models.UXImpact
}

type pending struct {
	tc       models.TestCase
	attempts int
}

// Run executes every case concurrently and folds the outcomes. Deferred tests are re-queued up to
// MaxDeferrals times and then recorded as failed with failure type "deferred"; no case is dropped.
func (h *Harness) Run(ctx context.Context, runID string, cases []models.TestCase) Report {
	agg := NewAggregator(runID)
	queue := make([]pending, 0, len(cases))
	for _, tc := range cases {
		queue = append(queue, pending{tc: tc})
	}

	h.logger.Info("run started", slog.String("run_id", runID), slog.Int("tests", len(cases)))
	for round := 0; len(queue) > 0; round++ {
		if round > 0 {
			time.Sleep(h.cfg.PollInterval)
		}
		queue = h.runRound(ctx, runID, queue, agg)
	}

	summary := agg.Summary()
	outcomes := agg.Outcomes()
	h.logger.Info("run finished",
		slog.String("run_id", runID),
		slog.Int("total", summary.TotalTests),
		slog.Int("passed", summary.PassedTests),
		slog.Int("deferred", summary.DeferredTests),
	)
	return Report{Summary: summary, Outcomes: outcomes, UXImpacts: UXImpacts(outcomes)}
}

func (h *Harness) runRound(ctx context.Context, runID string, queue []pending, agg *Aggregator) []pending {
	var (
		mu   sync.Mutex
		next []pending
	)
	g := new(errgroup.Group)
	g.SetLimit(h.cfg.Workers)

	for _, p := range queue {
		if h.pacer != nil {
			if err := h.pacer.Wait(ctx); err != nil {
				agg.Add(h.abandon(ctx, runID, p, err))
				continue
			}
		} else if err := ctx.Err(); err != nil {
			agg.Add(h.abandon(ctx, runID, p, err))
			continue
		}

		g.Go(func() error {
			outcome := h.runTest(ctx, runID, p.tc.Component, p.tc.FailureType)
			if !outcome.Deferred {
				agg.Add(outcome)
				return nil
			}
			p.attempts++
			if p.attempts > h.cfg.MaxDeferrals {
				agg.Add(h.abandon(ctx, runID, p, ErrNoCapacity))
				return nil
			}
			mu.Lock()
			next = append(next, p)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return next
}

// abandon records a test that could not be started as a failed deferred outcome.
func (h *Harness) abandon(ctx context.Context, runID string, p pending, cause error) models.TestOutcome {
	outcome := models.TestOutcome{
		RunID:          runID,
		Component:      p.tc.Component,
		FailureType:    models.FailureDeferred,
		Deferred:       true,
		RecoveryTimeMs: models.NotRecovered,
		Error:          fmt.Sprintf("%s not run after %d attempts: %v", p.tc.FailureType, p.attempts, cause),
		StartedAt:      time.Now().UTC(),
	}
	h.logger.Warn("test abandoned",
		slog.String("component", p.tc.Component),
		slog.String("failure_type", p.tc.FailureType),
		slog.Any("error", cause),
	)
	h.appendJournal(context.WithoutCancel(ctx), outcome)
	return outcome
}

// UXImpacts grades every injected outcome's degradation. Tests that never recovered rate one step worse.
// Outcomes without user-facing degradation produce no impact.
func UXImpacts(outcomes []models.TestOutcome) []models.UXImpact {
	impacts := make([]models.UXImpact, 0)
	for _, o := range outcomes {
		if !o.Injected || o.Degradation == nil {
			continue
		}
		sev := scoring.SeverityFromDegradation(*o.Degradation)
		if !o.Passed && sev > 0 && sev < models.MaxUXSeverity {
			sev++
		}
		if sev == 0 {
			continue
		}
		impacts = append(impacts, models.UXImpact{
			Component:      o.Component,
			FailureType:    o.FailureType,
			Severity:       sev,
			RecoveryTimeMs: o.RecoveryTimeMs,
		})
	}
	return impacts
}
