package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miradorstack/mirador-resilience/internal/alerting"
	"github.com/miradorstack/mirador-resilience/internal/harness"
	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/recovery"
	"github.com/miradorstack/mirador-resilience/internal/store"
	"github.com/miradorstack/mirador-resilience/internal/target"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

func newTestHarness(t *testing.T) *harness.Harness {
	t.Helper()
	fabric := target.NewFabric(nil)
	set, _ := target.NewSet()
	for _, cfg := range []target.SimulatedConfig{
		{Name: "db", BaseLatency: 5 * time.Millisecond, RecoveryDelay: 20 * time.Millisecond},
		{Name: "api", BaseLatency: 5 * time.Millisecond, Dependencies: []string{"db"}},
		{Name: "cdn", BaseLatency: 5 * time.Millisecond, Dependencies: []string{"db"}, Isolated: true},
	} {
		s, err := fabric.Add(cfg)
		if err != nil {
			t.Fatalf("add %s: %v", cfg.Name, err)
		}
		if err := set.Add(s); err != nil {
			t.Fatalf("set add: %v", err)
		}
	}
	cfg := harness.DefaultConfig()
	cfg.RecoveryTimeout = time.Second
	cfg.PollInterval = 5 * time.Millisecond
	h, err := harness.NewHarness(utils.DiscardLogger(), cfg, set, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("new harness: %v", err)
	}
	return h
}

func testPlan(runID string) Plan {
	return Plan{
		RunID:       runID,
		Seed:        1,
		ChaosLevel:  MaxChaosLevel,
		FailureRate: 1,
		Cases: []models.TestCase{
			{Component: "db", FailureType: "latency"},
			{Component: "api", FailureType: "error"},
		},
	}
}

func TestPipelineRun(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	registry := recovery.NewRegistry(utils.DiscardLogger())
	if err := registry.Add(models.RecoveryPath{Component: "db", Primary: "failover", Fallback: "read-only", RecoveryTimeMs: 200}); err != nil {
		t.Fatalf("add path: %v", err)
	}

	var fired []alerting.Alert
	evaluator, err := alerting.NewEvaluator(alerting.Config{CriticalThreshold: 101}, utils.DiscardLogger(),
		func(_ context.Context, a alerting.Alert) error {
			fired = append(fired, a)
			return nil
		})
	if err != nil {
		t.Fatalf("evaluator: %v", err)
	}

	pipeline := NewPipeline(utils.DiscardLogger(), newTestHarness(t), st, nil, registry, evaluator, nil)

	first, err := pipeline.Run(ctx, testPlan("run-1"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if first.Summary.TotalTests != 2 || first.Summary.ResilienceScore == nil {
		t.Fatalf("expected scored summary of 2 tests, got %+v", first.Summary)
	}
	if first.Comparison.HasPrior {
		t.Fatalf("first run should have no prior history")
	}
	if !contains(first.Summary.Missing, MissingHistory) {
		t.Fatalf("expected missing history annotation, got %v", first.Summary.Missing)
	}
	if len(first.Cascades) == 0 {
		t.Fatalf("expected cascades from db fault")
	}
	if first.Alert == nil || len(fired) != 1 {
		t.Fatalf("expected one critical alert, got %+v", first.Alert)
	}
	if first.Report == "" || len(first.CascadeGraph.Nodes) == 0 || len(first.RecoveryGraph.Nodes) == 0 {
		t.Fatalf("expected rendered report and graphs")
	}

	for _, name := range []string{
		store.RecordSummary, store.RecordUXImpact, store.RecordAnomalies,
		store.RecordCascadeMap, store.RecordRecoveryPaths, store.RecordHistory,
	} {
		if _, err := st.Read(ctx, name); err != nil {
			t.Fatalf("expected record %s persisted: %v", name, err)
		}
	}

	second, err := pipeline.Run(ctx, testPlan("run-2"))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !second.Comparison.HasPrior || second.Comparison.Previous.RunID != "run-1" {
		t.Fatalf("expected comparison against run-1, got %+v", second.Comparison)
	}
	if len(second.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(second.History))
	}
	for _, c := range second.Cascades {
		if c.Timestamp.Before(first.GeneratedAt) {
			t.Fatalf("cascades from the previous run leaked into the second")
		}
	}
}

func TestPipelineRunNothingToScore(t *testing.T) {
	pipeline := NewPipeline(utils.DiscardLogger(), newTestHarness(t), nil, nil, nil, nil, nil)
	_, err := pipeline.Run(context.Background(), Plan{RunID: "empty"})
	if !errors.Is(err, ErrNoSummary) {
		t.Fatalf("expected ErrNoSummary, got %v", err)
	}
	if utils.OpOf(err) != "pipeline.Run" {
		t.Fatalf("expected AppError op, got %q", utils.OpOf(err))
	}
}

func TestPipelineRecoveryPathsFromStore(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	if err := store.SaveJSON(ctx, st, store.RecordRecoveryPaths, []models.RecoveryPath{
		{Component: "api", Primary: "retry", RecoveryTimeMs: 50},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	pipeline := NewPipeline(utils.DiscardLogger(), newTestHarness(t), st, nil, nil, nil, nil)

	result, err := pipeline.Run(ctx, testPlan("run-stored"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.RecoveryPaths) != 1 || result.RecoveryPaths[0].Component != "api" {
		t.Fatalf("expected stored recovery path, got %+v", result.RecoveryPaths)
	}
	if contains(result.Summary.Missing, MissingRecoveryPaths) {
		t.Fatalf("recovery paths should not be reported missing")
	}
}

// flakyStore fails history reads while failHistory is set.
type flakyStore struct {
	*store.MemoryStore
	failHistory bool
}

func (f *flakyStore) Read(ctx context.Context, name string) ([]byte, error) {
	if f.failHistory && name == store.RecordHistory {
		return nil, errors.New("connection reset by peer")
	}
	return f.MemoryStore.Read(ctx, name)
}

func storedHistory(t *testing.T, st store.Store) []models.HistoryEntry {
	t.Helper()
	entries, err := store.DecodeJSON[[]models.HistoryEntry](context.Background(), st, store.RecordHistory)
	if err != nil {
		t.Fatalf("decode history: %v", err)
	}
	return entries
}

func TestPipelineKeepsHistoryWhenReadFails(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{MemoryStore: store.NewMemoryStore()}
	pipeline := NewPipeline(utils.DiscardLogger(), newTestHarness(t), st, nil, nil, nil, nil)

	for _, id := range []string{"run-1", "run-2"} {
		if _, err := pipeline.Run(ctx, testPlan(id)); err != nil {
			t.Fatalf("%s: %v", id, err)
		}
	}

	st.failHistory = true
	result, err := pipeline.Run(ctx, testPlan("run-3"))
	if err != nil {
		t.Fatalf("run-3: %v", err)
	}
	if !contains(result.Summary.Missing, HistoryUnreadable) {
		t.Fatalf("expected unreadable history annotation, got %v", result.Summary.Missing)
	}
	st.failHistory = false
	if got := storedHistory(t, st); len(got) != 2 || got[1].RunID != "run-2" {
		t.Fatalf("expected the 2 earlier entries untouched, got %+v", got)
	}

	if _, err := pipeline.Run(ctx, testPlan("run-4")); err != nil {
		t.Fatalf("run-4: %v", err)
	}
	if got := storedHistory(t, st); len(got) != 3 || got[2].RunID != "run-4" {
		t.Fatalf("expected history to resume appending, got %+v", got)
	}
}

func TestPipelineKeepsMalformedHistoryRecord(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	if err := st.Write(ctx, store.RecordHistory, []byte("[{broken")); err != nil {
		t.Fatalf("write: %v", err)
	}
	pipeline := NewPipeline(utils.DiscardLogger(), newTestHarness(t), st, nil, nil, nil, nil)

	result, err := pipeline.Run(ctx, testPlan("run-1"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !contains(result.Summary.Missing, HistoryUnreadable) {
		t.Fatalf("expected unreadable history annotation, got %v", result.Summary.Missing)
	}
	data, err := st.Read(ctx, store.RecordHistory)
	if err != nil || string(data) != "[{broken" {
		t.Fatalf("expected malformed record left as is, got %q (%v)", data, err)
	}
}

func TestPipelineCancelledRunIsNotRecorded(t *testing.T) {
	st := store.NewMemoryStore()
	pipeline := NewPipeline(utils.DiscardLogger(), newTestHarness(t), st, nil, nil, nil, nil)
	if _, err := pipeline.Run(context.Background(), testPlan("run-1")); err != nil {
		t.Fatalf("run-1: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pipeline.Run(ctx, testPlan("cancelled"))
	if !errors.Is(err, ErrNoSummary) {
		t.Fatalf("expected ErrNoSummary when nothing executed, got %v", err)
	}
	if got := storedHistory(t, st); len(got) != 1 || got[0].RunID != "run-1" {
		t.Fatalf("expected history unchanged, got %+v", got)
	}
}
