package patterns

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/store"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

type fakePatternStore struct {
	stored int
}

func (f *fakePatternStore) StorePatterns(ctx context.Context, runID string, patterns []models.FailurePattern) error {
	f.stored += len(patterns)
	return nil
}

func TestMinerMinesPatterns(t *testing.T) {
	fake := &fakePatternStore{}
	miner := NewMiner(nil, fake)

	now := time.Now()
	cascades := []models.FailureCascade{
		{Root: "db", Effects: []string{"api", "web"}, Timestamp: now},
		{Root: "db", Effects: []string{"api"}, Timestamp: now.Add(time.Minute)},
		{Root: "cache", Effects: []string{"api"}, Timestamp: now},
		{Root: "web", ResilientComponents: []string{"db"}, Timestamp: now},
	}
	summary := models.NewSummary()
	summary.TestsByComponent["db"] = models.Breakdown{Total: 4, Passed: 1, Failed: 3}

	patterns, err := miner.Mine(context.Background(), "run-1", cascades, summary)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patterns) != 2 {
		t.Fatalf("expected 2 hotspots, got %d", len(patterns))
	}
	db := patterns[0]
	if db.Root != "db" || db.Occurrences != 2 || db.Prevalence != 0.5 {
		t.Fatalf("unexpected db pattern %+v", db)
	}
	if db.AvgBlastRadius != 1.5 || db.FailureRate != 0.75 {
		t.Fatalf("unexpected db stats %+v", db)
	}
	if db.AffectedComponents[0] != "api" || !db.LastSeen.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected db detail %+v", db)
	}
	if fake.stored != 2 {
		t.Fatalf("expected patterns to be stored")
	}
}

func TestMinerEmptyInput(t *testing.T) {
	patterns, err := NewMiner(nil, nil).Mine(context.Background(), "", nil, models.Summary{})
	if err != nil || patterns != nil {
		t.Fatalf("expected nil patterns, got %v %v", patterns, err)
	}
}

func TestMinerStoreFailureIsLogged(t *testing.T) {
	failing := StoreFunc(func(context.Context, string, []models.FailurePattern) error { return errors.New("down") })
	miner := NewMiner(utils.DiscardLogger(), failing)
	patterns, err := miner.Mine(context.Background(), "r", []models.FailureCascade{{Root: "a", Effects: []string{"b"}}}, models.Summary{})
	if err != nil || len(patterns) != 1 {
		t.Fatalf("store failure must not fail mining: %v %v", patterns, err)
	}
}

func TestRecordStorePersists(t *testing.T) {
	mem := store.NewMemoryStore()
	miner := NewMiner(utils.DiscardLogger(), RecordStore(mem))
	if _, err := miner.Mine(context.Background(), "r", []models.FailureCascade{{Root: "a", Effects: []string{"b"}}}, models.Summary{}); err != nil {
		t.Fatal(err)
	}
	saved, ok := store.LoadJSON[[]models.FailurePattern](context.Background(), mem, store.RecordPatterns, utils.DiscardLogger())
	if !ok || len(saved) != 1 || saved[0].Root != "a" {
		t.Fatalf("expected persisted pattern, got %+v", saved)
	}
}
