package harness

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/target"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RecoveryTimeout = time.Second
	cfg.PollInterval = 5 * time.Millisecond
	cfg.AcquireTimeout = 50 * time.Millisecond
	return cfg
}

func simulatedSet(t *testing.T, cfgs ...target.SimulatedConfig) *target.Set {
	t.Helper()
	fabric := target.NewFabric(nil)
	set, _ := target.NewSet()
	for _, c := range cfgs {
		s, err := fabric.Add(c)
		if err != nil {
			t.Fatalf("add %s: %v", c.Name, err)
		}
		if err := set.Add(s); err != nil {
			t.Fatalf("set add: %v", err)
		}
	}
	return set
}

func newHarness(t *testing.T, cfg Config, set *target.Set, limiter *Limiter, journal Journal) *Harness {
	t.Helper()
	h, err := NewHarness(utils.DiscardLogger(), cfg, set, nil, nil, limiter, journal)
	if err != nil {
		t.Fatalf("new harness: %v", err)
	}
	return h
}

func TestRunTestRecoversAndRecordsCascade(t *testing.T) {
	set := simulatedSet(t,
		target.SimulatedConfig{Name: "db", BaseLatency: 10 * time.Millisecond, RecoveryDelay: 30 * time.Millisecond},
		target.SimulatedConfig{Name: "api", BaseLatency: 10 * time.Millisecond, Dependencies: []string{"db"}},
		target.SimulatedConfig{Name: "cdn", BaseLatency: 10 * time.Millisecond, Dependencies: []string{"db"}, Isolated: true},
	)
	h := newHarness(t, fastConfig(), set, nil, nil)

	outcome := h.RunTest(context.Background(), "db", "latency")
	if !outcome.Injected || !outcome.Passed {
		t.Fatalf("expected injected passing outcome, got %+v", outcome)
	}
	if outcome.RecoveryTimeMs < 30 {
		t.Fatalf("expected recovery no sooner than the recovery delay, got %vms", outcome.RecoveryTimeMs)
	}
	if outcome.Degradation == nil || outcome.Degradation.ResponseTimeRatio != 3 {
		t.Fatalf("expected degradation ratio 3, got %+v", outcome.Degradation)
	}

	cascades := h.Cascades().Cascades()
	if len(cascades) != 1 {
		t.Fatalf("expected one cascade, got %d", len(cascades))
	}
	if !reflect.DeepEqual(cascades[0].Effects, []string{"api"}) || !reflect.DeepEqual(cascades[0].ResilientComponents, []string{"cdn"}) {
		t.Fatalf("unexpected cascade %+v", cascades[0])
	}
	if h.Limiter().Active() != 0 {
		t.Fatalf("expected fault slot released")
	}
}

func TestRunTestTimeoutIsFailedWithSentinel(t *testing.T) {
	set := simulatedSet(t, target.SimulatedConfig{
		Name:   "ledger",
		Faults: map[string]target.FaultProfile{"corrupt": {LatencyFactor: 1, ErrorRate: 1, Sticky: true}},
	})
	cfg := fastConfig()
	cfg.RecoveryTimeout = 50 * time.Millisecond
	h := newHarness(t, cfg, set, nil, nil)

	outcome := h.RunTest(context.Background(), "ledger", "corrupt")
	if outcome.Passed || !outcome.Injected {
		t.Fatalf("expected injected failure, got %+v", outcome)
	}
	if outcome.RecoveryTimeMs != models.NotRecovered {
		t.Fatalf("expected not-recovered sentinel, got %v", outcome.RecoveryTimeMs)
	}
	if outcome.FailureType != "corrupt" {
		t.Fatalf("target failure must keep its failure type, got %s", outcome.FailureType)
	}
}

func TestInfrastructureErrorsBecomeOutcomes(t *testing.T) {
	set := simulatedSet(t,
		target.SimulatedConfig{Name: "ghost", Unreachable: true},
		target.SimulatedConfig{Name: "web"},
	)
	h := newHarness(t, fastConfig(), set, nil, nil)

	for _, component := range []string{"ghost", "nope"} {
		outcome := h.RunTest(context.Background(), component, "crash")
		if outcome.FailureType != models.FailureInfrastructure || outcome.Passed {
			t.Fatalf("%s: expected infrastructure failure, got %+v", component, outcome)
		}
		if outcome.Error == "" {
			t.Fatalf("%s: expected error detail", component)
		}
	}
}

func TestGateMissRunsControlTest(t *testing.T) {
	set := simulatedSet(t, target.SimulatedConfig{Name: "web"})
	cfg := fastConfig()
	cfg.FailureRate = 0
	h := newHarness(t, cfg, set, nil, nil)

	outcome := h.RunTest(context.Background(), "web", "latency")
	if outcome.Injected || !outcome.Control || !outcome.Passed || outcome.RecoveryTimeMs != 0 {
		t.Fatalf("expected passing control test, got %+v", outcome)
	}

	report := h.Run(context.Background(), "r", []models.TestCase{{Component: "web", FailureType: "latency"}})
	s := report.Summary
	if s.TotalTests != 0 || s.PassedTests != 0 || s.SkippedInjections != 1 || s.RecoverySuccessRate != 0 {
		t.Fatalf("expected control test counted only as skipped injection, got %+v", s)
	}
	if len(report.Outcomes) != 1 {
		t.Fatalf("expected the control outcome to be retained, got %d", len(report.Outcomes))
	}
}

func TestSeededGateIsReproducible(t *testing.T) {
	set := simulatedSet(t, target.SimulatedConfig{Name: "web"})
	cfg := fastConfig()
	cfg.FailureRate = 0.5
	pattern := func() []bool {
		h := newHarness(t, cfg, set, nil, nil)
		h.SetSeed(42)
		out := make([]bool, 0, 16)
		for i := 0; i < 16; i++ {
			out = append(out, h.gate())
		}
		return out
	}
	if a, b := pattern(), pattern(); !reflect.DeepEqual(a, b) {
		t.Fatalf("expected identical gate decisions for identical seeds")
	}
}

func TestDeferredTestsAreNeverDropped(t *testing.T) {
	set := simulatedSet(t, target.SimulatedConfig{Name: "web"}, target.SimulatedConfig{Name: "api"})
	limiter := NewLimiter(1)
	if !limiter.TryAcquire() {
		t.Fatalf("expected free slot")
	}
	defer limiter.Release()

	cfg := fastConfig()
	cfg.Backpressure = BackpressureDefer
	cfg.MaxDeferrals = 1
	journal := &fakeJournal{}
	cfg.Journal = true
	h := newHarness(t, cfg, set, limiter, journal)

	if outcome := h.RunTest(context.Background(), "web", "latency"); !outcome.Deferred {
		t.Fatalf("expected deferred outcome while cap is held, got %+v", outcome)
	}

	report := h.Run(context.Background(), "run-1", []models.TestCase{
		{Component: "web", FailureType: "latency"},
		{Component: "api", FailureType: "crash"},
	})
	s := report.Summary
	if s.TotalTests != 2 || s.DeferredTests != 2 || s.FailedTests != 2 {
		t.Fatalf("expected both tests recorded as deferred failures, got %+v", s)
	}
	if s.TestsByFailureType[models.FailureDeferred].Total != 2 {
		t.Fatalf("expected deferred failure type bucket, got %+v", s.TestsByFailureType)
	}
	if journal.count() != 2 {
		t.Fatalf("expected abandoned tests journaled, got %d", journal.count())
	}
}

func TestBlockPolicyWaitsForSlot(t *testing.T) {
	set := simulatedSet(t, target.SimulatedConfig{Name: "web"})
	limiter := NewLimiter(1)
	limiter.TryAcquire()
	go func() {
		time.Sleep(20 * time.Millisecond)
		limiter.Release()
	}()

	cfg := fastConfig()
	cfg.AcquireTimeout = time.Second
	h := newHarness(t, cfg, set, limiter, nil)
	if outcome := h.RunTest(context.Background(), "web", "latency"); outcome.Deferred || !outcome.Injected {
		t.Fatalf("expected blocked test to run once a slot frees, got %+v", outcome)
	}
}

type faultCounter struct {
	mu     sync.Mutex
	active int
	max    int
}

type countingTarget struct {
	name    string
	counter *faultCounter
}

func (c *countingTarget) Name() string                 { return c.name }
func (c *countingTarget) Invoke(context.Context) error { return nil }
func (c *countingTarget) Observe(context.Context) (target.Observation, error) {
	return target.Observation{ResponseTime: 10 * time.Millisecond, RenderTime: 5 * time.Millisecond}, nil
}
func (c *countingTarget) InjectFault(context.Context, string) error {
	c.counter.mu.Lock()
	c.counter.active++
	if c.counter.active > c.counter.max {
		c.counter.max = c.counter.active
	}
	c.counter.mu.Unlock()
	time.Sleep(15 * time.Millisecond)
	return nil
}
func (c *countingTarget) ClearFault(context.Context, string) error {
	c.counter.mu.Lock()
	c.counter.active--
	c.counter.mu.Unlock()
	return nil
}

func TestRunRespectsSharedConcurrencyCap(t *testing.T) {
	counter := &faultCounter{}
	set, _ := target.NewSet()
	cases := make([]models.TestCase, 0, 8)
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		_ = set.Add(&countingTarget{name: name, counter: counter})
		cases = append(cases, models.TestCase{Component: name, FailureType: "latency"})
	}

	limiter := NewLimiter(2)
	cfg := fastConfig()
	cfg.Workers = 8
	cfg.ObservePeers = false
	cfg.AcquireTimeout = 5 * time.Second
	first := newHarness(t, cfg, set, limiter, nil)
	second := newHarness(t, cfg, set, limiter, nil)

	var wg sync.WaitGroup
	reports := make([]Report, 2)
	for i, h := range []*Harness{first, second} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i] = h.Run(context.Background(), "shared", cases)
		}()
	}
	wg.Wait()

	if counter.max > 2 {
		t.Fatalf("expected at most 2 simultaneous faults, saw %d", counter.max)
	}
	for _, r := range reports {
		if r.Summary.TotalTests != len(cases) || r.Summary.PassedTests != len(cases) {
			t.Fatalf("expected every test to run and pass, got %+v", r.Summary)
		}
	}
}

type fakeJournal struct {
	mu       sync.Mutex
	outcomes []models.TestOutcome
}

func (f *fakeJournal) Append(_ context.Context, o models.TestOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, o)
	return nil
}

func (f *fakeJournal) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.outcomes)
}

func TestJournalReceivesEveryOutcome(t *testing.T) {
	set := simulatedSet(t, target.SimulatedConfig{Name: "web"}, target.SimulatedConfig{Name: "api"})
	journal := &fakeJournal{}
	cfg := fastConfig()
	cfg.Journal = true
	h := newHarness(t, cfg, set, nil, journal)

	report := h.Run(context.Background(), "run-j", []models.TestCase{
		{Component: "web", FailureType: "latency"},
		{Component: "api", FailureType: "latency"},
		{Component: "missing", FailureType: "latency"},
	})
	if journal.count() != 3 {
		t.Fatalf("expected 3 journaled outcomes, got %d", journal.count())
	}
	for _, o := range journal.outcomes {
		if o.RunID != "run-j" {
			t.Fatalf("expected run id on journaled outcome, got %q", o.RunID)
		}
	}
	if report.Summary.TestsByFailureType[models.FailureInfrastructure].Failed != 1 {
		t.Fatalf("expected one infrastructure failure, got %+v", report.Summary.TestsByFailureType)
	}
	if len(report.UXImpacts) != 2 {
		t.Fatalf("expected a UX impact per degraded injected test, got %d", len(report.UXImpacts))
	}
}

func TestJournalDisabled(t *testing.T) {
	set := simulatedSet(t, target.SimulatedConfig{Name: "web"})
	journal := &fakeJournal{}
	h := newHarness(t, fastConfig(), set, nil, journal)
	h.RunTest(context.Background(), "web", "latency")
	if journal.count() != 0 {
		t.Fatalf("expected no journal writes when disabled")
	}
}

func TestCascadeIgnoresPeersUnderTheirOwnFault(t *testing.T) {
	ctx := context.Background()
	set := simulatedSet(t,
		target.SimulatedConfig{Name: "db", BaseLatency: 10 * time.Millisecond},
		target.SimulatedConfig{Name: "queue", BaseLatency: 10 * time.Millisecond},
	)
	queue, _ := set.Get("queue")

	record := func(h *Harness) models.CascadeRelations {
		baselines := h.capturePeers(ctx, []string{"queue"})
		if err := queue.InjectFault(ctx, "latency"); err != nil {
			t.Fatalf("inject: %v", err)
		}
		h.faults.hold("queue")
		h.recordCascade(ctx, "db", baselines, time.Now())
		h.faults.release("queue")
		if err := queue.ClearFault(ctx, "latency"); err != nil {
			t.Fatalf("clear: %v", err)
		}
		return h.Cascades().GetCascadesForComponent("db")
	}

	h := newHarness(t, fastConfig(), set, nil, nil)
	if rel := record(h); len(rel.Affects) != 0 {
		t.Fatalf("expected queue ignored while it holds its own fault, got %+v", rel)
	}
	if h.faults.held("queue") {
		t.Fatalf("expected hold released")
	}
}
