// Package harness injects faults into target components and judges whether they recover.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/miradorstack/mirador-resilience/internal/cascade"
	"github.com/miradorstack/mirador-resilience/internal/metrics"
	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/target"
	"github.com/miradorstack/mirador-resilience/internal/telemetry"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

const tracerName = "github.com/miradorstack/mirador-resilience/internal/harness"

// Journal durably records raw outcomes.
type Journal interface {
	Append(ctx context.Context, outcome models.TestOutcome) error
}

// Harness runs fault-injection tests against a set of targets.
type Harness struct {
	cfg       Config
	logger    *slog.Logger
	targets   *target.Set
	collector *telemetry.Collector
	cascades  *cascade.Mapper
	limiter   *Limiter
	journal   Journal
	tracer    trace.Tracer
	pacer     *rate.Limiter
	faults    *faultSet

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewHarness wires a harness. collector and cascades may be nil to build private ones; limiter may be nil
// to cap this harness alone at cfg.MaxConcurrentFailures; journal may be nil.
func NewHarness(
	logger *slog.Logger,
	cfg Config,
	targets *target.Set,
	collector *telemetry.Collector,
	cascades *cascade.Mapper,
	limiter *Limiter,
	journal Journal,
) (*Harness, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("harness config: %w", err)
	}
	if targets == nil || targets.Len() == 0 {
		return nil, errors.New("harness requires at least one target")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	if collector == nil {
		collector = telemetry.NewCollector(targets, telemetry.Config{}, logger)
	}
	if cascades == nil {
		cascades = cascade.NewMapper()
	}
	if limiter == nil {
		limiter = NewLimiter(cfg.MaxConcurrentFailures)
	}

	h := &Harness{
		cfg:       cfg,
		logger:    logger,
		targets:   targets,
		collector: collector,
		cascades:  cascades,
		limiter:   limiter,
		journal:   journal,
		tracer:    otel.Tracer(tracerName),
		faults:    newFaultSet(),
		rng:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
	if cfg.TestsPerSecond > 0 {
		h.pacer = rate.NewLimiter(rate.Limit(cfg.TestsPerSecond), 1)
	}
	return h, nil
}

// SetSeed makes the injection gate reproducible.
func (h *Harness) SetSeed(seed uint64) {
	h.rngMu.Lock()
	h.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	h.rngMu.Unlock()
}

// ForRun returns a harness sharing this one's targets, collector, cascade mapper, limiter and journal,
// with its own injection rate, pacing and seed. A non-positive failureRate keeps the configured rate.
func (h *Harness) ForRun(failureRate, testsPerSecond float64, seed uint64) *Harness {
	cfg := h.cfg
	if failureRate > 0 {
		cfg.FailureRate = utils.Clamp(failureRate, 0, 1)
	}
	cfg.TestsPerSecond = testsPerSecond
	run := &Harness{
		cfg:       cfg,
		logger:    h.logger,
		targets:   h.targets,
		collector: h.collector,
		cascades:  h.cascades,
		limiter:   h.limiter,
		journal:   h.journal,
		tracer:    h.tracer,
		faults:    h.faults,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	if testsPerSecond > 0 {
		run.pacer = rate.NewLimiter(rate.Limit(testsPerSecond), 1)
	}
	return run
}

// Targets returns the target set under test.
func (h *Harness) Targets() *target.Set { return h.targets }

// Collector returns the telemetry collector the harness captures through.
func (h *Harness) Collector() *telemetry.Collector { return h.collector }

// Cascades returns the cascade mapper the harness records into.
func (h *Harness) Cascades() *cascade.Mapper { return h.cascades }

// Limiter returns the concurrency limiter.
func (h *Harness) Limiter() *Limiter { return h.limiter }

// RunTest runs one test. It never returns an error: infrastructure problems become failed outcomes
// tagged "infrastructure", and a missing fault slot becomes a deferred outcome.
func (h *Harness) RunTest(ctx context.Context, component, failureType string) models.TestOutcome {
	return h.runTest(ctx, "", component, failureType)
}

func (h *Harness) runTest(ctx context.Context, runID, component, failureType string) models.TestOutcome {
	ctx, span := h.tracer.Start(ctx, "harness.RunTest", trace.WithAttributes(
		attribute.String("component", component),
		attribute.String("failure_type", failureType),
	))
	defer span.End()

	outcome := h.execute(ctx, runID, component, failureType)

	span.SetAttributes(
		attribute.Bool("injected", outcome.Injected),
		attribute.Bool("passed", outcome.Passed),
		attribute.Float64("recovery_ms", outcome.RecoveryTimeMs),
	)
	if !outcome.Passed {
		msg := outcome.Error
		if msg == "" {
			msg = "component did not recover"
		}
		span.SetStatus(codes.Error, msg)
	}

	if !outcome.Deferred {
		h.appendJournal(ctx, outcome)
	}
	metrics.ObserveTest(outcomeLabel(outcome), utils.FromMillis(outcome.RecoveryTimeMs))
	return outcome
}

func (h *Harness) execute(ctx context.Context, runID, component, failureType string) models.TestOutcome {
	outcome := models.TestOutcome{
		RunID:          runID,
		Component:      component,
		FailureType:    failureType,
		RecoveryTimeMs: models.NotRecovered,
		StartedAt:      time.Now().UTC(),
	}

	tgt, ok := h.targets.Get(component)
	if !ok {
		return infrastructure(outcome, fmt.Errorf("unknown component %q", component))
	}

	if !h.gate() {
		return h.control(ctx, tgt, outcome)
	}

	if !h.acquire(ctx) {
		outcome.Deferred = true
		outcome.Error = ErrNoCapacity.Error()
		h.logger.Debug("test deferred", slog.String("component", component), slog.String("failure_type", failureType))
		return outcome
	}
	defer h.limiter.Release()

	// Once a fault is in play the test runs to completion or timeout regardless of caller cancellation.
	ctx = context.WithoutCancel(ctx)

	peers := h.peerNames(component)
	for _, name := range append([]string{component}, peers...) {
		h.collector.StartCollection(name)
	}
	defer func() {
		for _, name := range append([]string{component}, peers...) {
			h.collector.EndCollection(name)
		}
	}()

	baseline, err := h.collector.CaptureBaseline(ctx, component)
	if err != nil {
		return infrastructure(outcome, err)
	}
	peerBaselines := h.capturePeers(ctx, peers)

	// The component stays held until its recovery has been judged so concurrent tests ignore it as a peer.
	h.faults.hold(component)
	defer h.faults.release(component)

	if err := tgt.InjectFault(ctx, failureType); err != nil {
		return infrastructure(outcome, fmt.Errorf("inject %s: %w", failureType, err))
	}
	injectedAt := time.Now()
	outcome.Injected = true
	metrics.FaultInjected()
	cleared := false
	clearFault := func() error {
		if cleared {
			return nil
		}
		cleared = true
		metrics.FaultCleared()
		return tgt.ClearFault(ctx, failureType)
	}
	defer func() {
		if err := clearFault(); err != nil {
			h.logger.Warn("fault clear failed", slog.String("component", component), slog.Any("error", err))
		}
	}()

	if h.cfg.FaultDuration > 0 {
		time.Sleep(h.cfg.FaultDuration)
	}

	current, err := h.collector.CaptureMetrics(ctx, component)
	if err != nil {
		return infrastructure(outcome, err)
	}
	deg := telemetry.CalculateDegradation(baseline, current)
	outcome.Degradation = &deg

	h.recordCascade(ctx, component, peerBaselines, injectedAt)

	if err := clearFault(); err != nil {
		return infrastructure(outcome, fmt.Errorf("clear %s: %w", failureType, err))
	}

	if recovered, elapsed := h.awaitRecovery(ctx, tgt, baseline, injectedAt); recovered {
		outcome.Passed = true
		outcome.RecoveryTimeMs = utils.Millis(elapsed)
	}

	h.logger.Info("test finished",
		slog.String("component", component),
		slog.String("failure_type", failureType),
		slog.Bool("passed", outcome.Passed),
		slog.Float64("recovery_ms", outcome.RecoveryTimeMs),
	)
	return outcome
}

// control exercises the component without a fault when the injection gate is not taken.
func (h *Harness) control(ctx context.Context, tgt target.Target, outcome models.TestOutcome) models.TestOutcome {
	outcome.Control = true
	if err := tgt.Invoke(ctx); err != nil {
		if errors.Is(err, target.ErrUnreachable) {
			return infrastructure(outcome, err)
		}
		outcome.Error = err.Error()
		return outcome
	}
	outcome.Passed = true
	outcome.RecoveryTimeMs = 0
	return outcome
}

func (h *Harness) gate() bool {
	if h.cfg.FailureRate >= 1 {
		return true
	}
	if h.cfg.FailureRate <= 0 {
		return false
	}
	h.rngMu.Lock()
	defer h.rngMu.Unlock()
	return h.rng.Float64() < h.cfg.FailureRate
}

func (h *Harness) acquire(ctx context.Context) bool {
	if h.cfg.Backpressure == BackpressureDefer {
		return h.limiter.TryAcquire()
	}
	return h.limiter.Acquire(ctx, h.cfg.AcquireTimeout) == nil
}

func (h *Harness) peerNames(component string) []string {
	if !h.cfg.ObservePeers {
		return nil
	}
	peers := h.targets.Peers(component)
	names := make([]string, 0, len(peers))
	for _, p := range peers {
		names = append(names, p.Name())
	}
	return names
}

func (h *Harness) capturePeers(ctx context.Context, peers []string) map[string]models.MetricsSnapshot {
	out := make(map[string]models.MetricsSnapshot, len(peers))
	for _, name := range peers {
		if h.faults.held(name) {
			continue
		}
		snap, err := h.collector.CaptureBaseline(ctx, name)
		if err != nil {
			h.logger.Debug("peer baseline unavailable", slog.String("component", name), slog.Any("error", err))
			continue
		}
		out[name] = snap
	}
	return out
}

func (h *Harness) recordCascade(ctx context.Context, root string, peerBaselines map[string]models.MetricsSnapshot, injectedAt time.Time) {
	if len(peerBaselines) == 0 {
		return
	}
	var effects, resilient []string
	for name, base := range peerBaselines {
		// A peer whose own fault started meanwhile says nothing about this root.
		if h.faults.held(name) {
			continue
		}
		snap, err := h.collector.CaptureMetrics(ctx, name)
		if err != nil {
			continue
		}
		if h.affected(telemetry.CalculateDegradation(base, snap)) {
			effects = append(effects, name)
		} else {
			resilient = append(resilient, name)
		}
	}
	c := h.cascades.RecordCascade(root, effects, resilient, time.Since(injectedAt))
	h.logger.Debug("cascade recorded", slog.String("root", root), slog.Int("effects", len(c.Effects)))
}

// faultSet tracks the components that currently carry an injected fault, across concurrent tests.
type faultSet struct {
	mu     sync.Mutex
	active map[string]int
}

func newFaultSet() *faultSet {
	return &faultSet{active: make(map[string]int)}
}

func (f *faultSet) hold(component string) {
	f.mu.Lock()
	f.active[component]++
	f.mu.Unlock()
}

func (f *faultSet) release(component string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active[component] <= 1 {
		delete(f.active, component)
		return
	}
	f.active[component]--
}

func (f *faultSet) held(component string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[component] > 0
}

func (h *Harness) affected(d models.Degradation) bool {
	return d.ResponseTimeRatio > h.cfg.CascadeThreshold ||
		d.RenderTimeRatio > h.cfg.CascadeThreshold ||
		d.ErrorRateDelta > h.cfg.ErrorRateTolerance
}

// awaitRecovery polls until the component is baseline-equivalent and answers an invocation, or the timeout passes.
func (h *Harness) awaitRecovery(ctx context.Context, tgt target.Target, baseline models.MetricsSnapshot, injectedAt time.Time) (bool, time.Duration) {
	deadline := injectedAt.Add(h.cfg.RecoveryTimeout)
	for {
		snap, err := h.collector.CaptureMetrics(ctx, tgt.Name())
		switch {
		case err != nil:
			h.logger.Debug("recovery poll failed", slog.String("component", tgt.Name()), slog.Any("error", err))
		case h.baselineEquivalent(baseline, snap) && tgt.Invoke(ctx) == nil:
			return true, time.Since(injectedAt)
		}
		if time.Now().Add(h.cfg.PollInterval).After(deadline) {
			return false, 0
		}
		time.Sleep(h.cfg.PollInterval)
	}
}

func (h *Harness) baselineEquivalent(baseline, current models.MetricsSnapshot) bool {
	d := telemetry.CalculateDegradation(baseline, current)
	limit := 1 + h.cfg.RecoveryTolerance
	return d.ResponseTimeRatio <= limit && d.RenderTimeRatio <= limit && d.ErrorRateDelta <= h.cfg.ErrorRateTolerance
}

func (h *Harness) appendJournal(ctx context.Context, outcome models.TestOutcome) {
	if !h.cfg.Journal || h.journal == nil {
		return
	}
	if err := h.journal.Append(ctx, outcome); err != nil {
		h.logger.Warn("journal append failed", slog.String("component", outcome.Component), slog.Any("error", err))
	}
}

func infrastructure(outcome models.TestOutcome, err error) models.TestOutcome {
	outcome.Error = fmt.Sprintf("%s: %v", outcome.FailureType, err)
	outcome.FailureType = models.FailureInfrastructure
	outcome.Passed = false
	outcome.RecoveryTimeMs = models.NotRecovered
	return outcome
}

func outcomeLabel(o models.TestOutcome) string {
	switch {
	case o.Deferred:
		return metrics.OutcomeDeferred
	case o.Control:
		return metrics.OutcomeSkipped
	case o.Passed:
		return metrics.OutcomePassed
	default:
		return metrics.OutcomeFailed
	}
}
