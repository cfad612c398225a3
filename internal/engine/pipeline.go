package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/mirador-resilience/internal/alerting"
	"github.com/miradorstack/mirador-resilience/internal/anomaly"
	"github.com/miradorstack/mirador-resilience/internal/harness"
	"github.com/miradorstack/mirador-resilience/internal/history"
	"github.com/miradorstack/mirador-resilience/internal/metrics"
	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/patterns"
	"github.com/miradorstack/mirador-resilience/internal/recovery"
	"github.com/miradorstack/mirador-resilience/internal/report"
	"github.com/miradorstack/mirador-resilience/internal/scoring"
	"github.com/miradorstack/mirador-resilience/internal/store"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

// ErrNoSummary is returned when a run produced no test outcomes to score.
var ErrNoSummary = errors.New("no tests ran")

// Annotations recorded on the summary when report context is unavailable.
const (
	MissingHistory       = "no prior history: trend comparison unavailable"
	MissingTelemetry     = "no telemetry captured: performance pass rate is 0"
	MissingRecoveryPaths = "no recovery paths cataloged"
	MissingPersistence   = "one or more records could not be persisted"
	HistoryUnreadable    = "history record unreadable: history not updated"
	RunInterrupted       = "run interrupted before every test executed: history not updated"
)

// DefaultWeakSpotRate is the recovery rate below which an uncovered component is a weak spot.
const DefaultWeakSpotRate = 0.8

// RunResult bundles everything one run produced.
type RunResult struct {
	Plan            Plan                    `json:"plan"`
	Summary         models.Summary          `json:"summary"`
	Outcomes        []models.TestOutcome    `json:"outcomes"`
	UX              models.UXReport         `json:"uxImpact"`
	Anomalies       models.AnomalyReport    `json:"anomalies"`
	PerfPassRate    float64                 `json:"performanceBenchmarkPassRate"`
	Comparison      models.Comparison       `json:"comparison"`
	History         []models.HistoryEntry   `json:"history"`
	Trend           string                  `json:"trend"`
	Cascades        []models.FailureCascade `json:"cascades"`
	RecoveryPaths   []models.RecoveryPath   `json:"recoveryPaths"`
	WeakSpots       []recovery.WeakSpot     `json:"weakSpots"`
	Patterns        []models.FailurePattern `json:"patterns"`
	Coupling        CouplingResult          `json:"coupling"`
	Recommendations []string                `json:"recommendations"`
	Alert           *alerting.Alert         `json:"alert,omitempty"`
	CascadeGraph    report.Graph            `json:"cascadeGraph"`
	RecoveryGraph   report.Graph            `json:"recoveryGraph"`
	Report          string                  `json:"-"`
	GeneratedAt     time.Time               `json:"generatedAt"`
}

// ReportInput assembles the emitter input for this result.
func (r RunResult) ReportInput() report.Input {
	ux := r.UX
	anomalies := r.Anomalies
	in := report.Input{
		Summary:         r.Summary,
		UX:              &ux,
		Anomalies:       &anomalies,
		PerfPassRate:    r.PerfPassRate,
		History:         r.History,
		Trend:           r.Trend,
		WeakSpots:       r.WeakSpots,
		Patterns:        r.Patterns,
		Recommendations: r.Recommendations,
		GeneratedAt:     r.GeneratedAt,
	}
	if r.Comparison.HasPrior {
		cmp := r.Comparison
		in.Comparison = &cmp
	}
	return in
}

// Pipeline runs a plan end to end: harness, detection, scoring, history, alerts, persistence and reporting.
type Pipeline struct {
	mu           sync.Mutex
	logger       *slog.Logger
	harness      *harness.Harness
	detector     *anomaly.Detector
	registry     *recovery.Registry
	evaluator    *alerting.Evaluator
	miner        *patterns.Miner
	rulesEngine  *RuleEngine
	coupling     *CouplingAnalyzer
	store        store.Store
	weakSpotRate float64
}

// NewPipeline constructs a new run pipeline. Only the harness is required.
func NewPipeline(
	logger *slog.Logger,
	h *harness.Harness,
	st store.Store,
	detector *anomaly.Detector,
	registry *recovery.Registry,
	evaluator *alerting.Evaluator,
	rulesEngine *RuleEngine,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if detector == nil {
		detector = anomaly.NewDetector(anomaly.DefaultThreshold)
	}
	if registry == nil {
		registry = recovery.NewRegistry(logger)
	}
	if rulesEngine == nil {
		rulesEngine = &RuleEngine{logger: logger}
	}
	var patternStore patterns.Store
	if st != nil {
		patternStore = patterns.RecordStore(st)
	}

	return &Pipeline{
		logger:       logger,
		harness:      h,
		detector:     detector,
		registry:     registry,
		evaluator:    evaluator,
		miner:        patterns.NewMiner(logger, patternStore),
		rulesEngine:  rulesEngine,
		coupling:     NewCouplingAnalyzer(logger),
		store:        st,
		weakSpotRate: DefaultWeakSpotRate,
	}
}

// SetWeakSpotRate overrides the weak spot recovery-rate cutoff.
func (p *Pipeline) SetWeakSpotRate(rate float64) {
	if rate > 0 {
		p.weakSpotRate = rate
	}
}

// Registry returns the recovery path registry.
func (p *Pipeline) Registry() *recovery.Registry { return p.registry }

// Store returns the record store, which may be nil.
func (p *Pipeline) Store() store.Store { return p.store }

// Components lists the components the harness can exercise.
func (p *Pipeline) Components() []string {
	if p.harness == nil {
		return nil
	}
	return p.harness.Targets().Names()
}

// Run executes the plan. Runs are serialized because they share the collector and cascade mapper.
func (p *Pipeline) Run(ctx context.Context, plan Plan) (RunResult, error) {
	if p.harness == nil {
		return RunResult{}, utils.NewAppError("pipeline.Run", "harness not configured", nil)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	result, err := p.run(ctx, plan)
	outcome := metrics.RunSuccess
	if err != nil {
		outcome = metrics.RunError
		p.logger.Error("run failed", slog.String("run_id", plan.RunID), slog.Any("error", err))
	}
	metrics.ObserveRun(time.Since(start), outcome)
	return result, err
}

func (p *Pipeline) run(ctx context.Context, plan Plan) (RunResult, error) {
	collector := p.harness.Collector()
	cascades := p.harness.Cascades()
	collector.Reset()
	cascades.Reset()

	runHarness := p.harness.ForRun(plan.FailureRate, plan.TestsPerSecond(), plan.Seed)
	hr := runHarness.Run(ctx, plan.RunID, plan.Cases)
	if scoring.Executed(hr.Summary) == 0 {
		return RunResult{}, utils.NewAppError("pipeline.Run", "nothing to score", ErrNoSummary)
	}
	interrupted := ctx.Err() != nil
	// Scoring and persistence of what did execute finish even after the caller gave up.
	ctx = context.WithoutCancel(ctx)

	result := RunResult{
		Plan:        plan,
		Summary:     hr.Summary,
		Outcomes:    hr.Outcomes,
		GeneratedAt: time.Now().UTC(),
	}
	summary := &result.Summary

	detected := p.detector.DetectAll(collector.Series())
	result.Anomalies = detected.Report()
	perMetric := make(map[string]int, len(models.Metrics))
	for _, a := range detected.Anomalies {
		perMetric[a.Metric]++
	}
	for _, m := range models.Metrics {
		metrics.ObserveAnomalies(m, perMetric[m])
	}
	if detected.Observed == 0 {
		summary.Annotate(MissingTelemetry)
	}

	result.UX = scoring.AggregateUX(hr.UXImpacts)
	result.PerfPassRate = scoring.Apply(summary, result.UX, len(detected.Anomalies), detected.Observed)
	score := *summary.ResilienceScore

	tracker, err := history.Open(ctx, p.store, p.logger)
	if err != nil {
		p.logger.Error("history not updated", slog.String("run_id", plan.RunID), slog.Any("error", err))
		summary.Annotate(HistoryUnreadable)
		tracker = nil
	}
	if interrupted {
		summary.Annotate(RunInterrupted)
	}
	entry := models.HistoryEntry{
		Timestamp:                    summary.FinishedAt,
		RunID:                        plan.RunID,
		ResilienceScore:              score,
		RecoverySuccessRate:          summary.RecoverySuccessRate,
		AvgUXSeverity:                result.UX.AvgSeverity,
		PerformanceBenchmarkPassRate: result.PerfPassRate,
		AnomalyCount:                 len(detected.Anomalies),
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = result.GeneratedAt
	}
	view := tracker
	if view == nil {
		view = history.NewTracker(p.logger)
	}
	result.Comparison = view.CompareToLatest(entry)
	if !result.Comparison.HasPrior {
		summary.Annotate(MissingHistory)
	}
	if interrupted {
		tracker = nil
	}
	if tracker != nil {
		if err := tracker.Append(entry); err != nil {
			p.logger.Warn("history entry not appended", slog.String("run_id", plan.RunID), slog.Any("error", err))
		}
	}
	result.History = view.Entries()
	result.Trend = view.Trend()

	result.RecoveryPaths = p.recoveryPaths(ctx)
	if len(result.RecoveryPaths) == 0 {
		summary.Annotate(MissingRecoveryPaths)
	}
	result.WeakSpots = p.registry.WeakSpots(*summary, p.weakSpotRate)

	if p.evaluator != nil {
		alert, fired := p.evaluator.Evaluate(ctx, alerting.Input{
			RunID:         plan.RunID,
			Score:         score,
			Rating:        summary.ResilienceRating,
			RecoveryRate:  summary.RecoverySuccessRate,
			AvgUXSeverity: result.UX.AvgSeverity,
			PerfPassRate:  result.PerfPassRate,
			Anomalies:     len(detected.Anomalies),
			WeakSpots:     len(result.WeakSpots),
			Comparison:    result.Comparison,
		})
		if fired {
			result.Alert = &alert
		}
	}

	result.Cascades = cascades.Cascades()
	mined, err := p.miner.Mine(ctx, plan.RunID, result.Cascades, *summary)
	if err != nil {
		p.logger.Warn("pattern mining failed", slog.String("run_id", plan.RunID), slog.Any("error", err))
		summary.Annotate(MissingPersistence)
	}
	result.Patterns = mined
	result.Coupling = p.coupling.Evaluate(result.Cascades, p.harness.Targets().Topology())
	result.Recommendations = p.rulesEngine.Recommend(Findings{
		Summary:   *summary,
		Rating:    summary.ResilienceRating,
		WeakSpots: result.WeakSpots,
		Patterns:  result.Patterns,
		Coupling:  result.Coupling,
	})

	if err := p.persist(ctx, &result, tracker); err != nil {
		p.logger.Warn("records not fully persisted", slog.String("run_id", plan.RunID), slog.Any("error", err))
		summary.Annotate(MissingPersistence)
	}

	result.CascadeGraph = report.RenderCascadeGraph(result.Cascades)
	result.RecoveryGraph = report.RenderRecoveryGraph(result.RecoveryPaths)
	result.Report = report.RenderReport(result.ReportInput())
	metrics.SetScore(score)

	p.logger.Info("run scored",
		slog.String("run_id", plan.RunID),
		slog.Int("score", score),
		slog.String("rating", summary.ResilienceRating),
		slog.Int("anomalies", len(detected.Anomalies)),
		slog.Int("cascades", len(result.Cascades)),
	)
	return result, nil
}

// recoveryPaths prefers the live registry and falls back to the last persisted catalog.
func (p *Pipeline) recoveryPaths(ctx context.Context) []models.RecoveryPath {
	if paths := p.registry.All(); len(paths) > 0 {
		return paths
	}
	stored, ok := store.LoadJSON[[]models.RecoveryPath](ctx, p.store, store.RecordRecoveryPaths, p.logger)
	if !ok {
		return nil
	}
	p.registry.Seed(stored)
	return p.registry.All()
}

// persist writes the run records. A nil tracker leaves the history record untouched.
func (p *Pipeline) persist(ctx context.Context, result *RunResult, tracker *history.Tracker) error {
	if p.store == nil {
		return nil
	}
	records := []struct {
		name  string
		value any
	}{
		{store.RecordSummary, result.Summary},
		{store.RecordUXImpact, result.UX},
		{store.RecordAnomalies, result.Anomalies},
		{store.RecordCascadeMap, p.harness.Cascades().Map()},
		{store.RecordRecoveryPaths, nonNil(result.RecoveryPaths)},
	}
	var errs []error
	for _, r := range records {
		if err := store.SaveJSON(ctx, p.store, r.name, r.value); err != nil {
			errs = append(errs, err)
		}
	}
	if tracker != nil {
		if err := tracker.Save(ctx, p.store); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("persist run %s: %w", result.Plan.RunID, errors.Join(errs...))
	}
	return nil
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
