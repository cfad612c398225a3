package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-resilience/internal/api"
	"github.com/miradorstack/mirador-resilience/internal/config"
	"github.com/miradorstack/mirador-resilience/internal/engine"
	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/target"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Storage.Backend = config.StorageMemory
	cfg.Recovery.CatalogPath = ""
	cfg.Rules.Path = ""
	cfg.Harness.RecoveryTimeout = time.Second
	cfg.Harness.PollInterval = 5 * time.Millisecond
	cfg.Run.ChaosLevel = engine.MaxChaosLevel
	cfg.Targets.Simulated = []target.SimulatedConfig{
		{Name: "db", BaseLatency: 2 * time.Millisecond, RecoveryDelay: 10 * time.Millisecond},
		{Name: "api", BaseLatency: 2 * time.Millisecond, Dependencies: []string{"db"}},
	}
	return cfg
}

func TestScoreboardTriggerAndServe(t *testing.T) {
	ctx := context.Background()
	rt, err := Build(ctx, testConfig(), utils.DiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	sb := rt.Scoreboard
	_, ok := sb.Latest()
	require.False(t, ok)
	_, err = sb.LatestScore(ctx, nil)
	require.Error(t, err)

	seed := uint64(9)
	result, err := sb.Trigger(ctx, api.RunRequest{Seed: &seed})
	require.NoError(t, err)
	require.Equal(t, 20, result.Summary.TotalTests)
	require.NotNil(t, result.Summary.ResilienceScore)

	latest, ok := sb.Latest()
	require.True(t, ok)
	require.Equal(t, result.Plan.RunID, latest.Plan.RunID)

	st, err := sb.LatestScore(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, float64(*result.Summary.ResilienceScore), st.Fields["resilienceScore"].GetNumberValue())

	list, err := sb.History(ctx, nil)
	require.NoError(t, err)
	require.Len(t, list.Values, 1)

	text, ok := sb.Report(ctx)
	require.True(t, ok)
	require.Contains(t, text, "Resilience Report")
	require.NotEmpty(t, sb.CascadeGraph(ctx).Nodes)
}

func TestScoreboardRejectsConcurrentRuns(t *testing.T) {
	rt, err := Build(context.Background(), testConfig(), utils.DiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	rt.Scoreboard.running.Store(true)
	_, err = rt.Scoreboard.Trigger(context.Background(), api.RunRequest{})
	require.True(t, errors.Is(err, api.ErrRunInProgress))
}

func TestScoreboardFallsBackToStoredRecords(t *testing.T) {
	ctx := context.Background()
	rt, err := Build(ctx, testConfig(), utils.DiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	_, err = rt.Scoreboard.Trigger(ctx, api.RunRequest{})
	require.NoError(t, err)

	// A fresh scoreboard over the same pipeline has no in-memory result.
	fresh := NewScoreboard(utils.DiscardLogger(), rt.Pipeline, nil, RunDefaults{})
	summary, ok := fresh.LatestSummary(ctx)
	require.True(t, ok)
	require.NotNil(t, summary.ResilienceScore)

	text, ok := fresh.Report(ctx)
	require.True(t, ok)
	require.True(t, strings.Contains(text, "Score:"))
	require.NotEmpty(t, fresh.CascadeGraph(ctx).Nodes)
}

func TestBuildTargetsDefaultsToDemo(t *testing.T) {
	cfg := config.Default()
	set, err := BuildTargets(cfg)
	require.NoError(t, err)
	require.Equal(t, len(DemoTargets()), set.Len())
	require.Equal(t, []string{"db", "cache"}, set.Topology()["api"])
}

func TestBuildWithBadgerJournal(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Storage.Backend = config.StorageBadger
	cfg.Storage.Badger.InMemory = true
	cfg.Harness.Journal = true
	rt, err := Build(ctx, cfg, utils.DiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	plan := engine.Plan{
		RunID:       "journaled",
		Seed:        3,
		FailureRate: 1,
		Cases: []models.TestCase{
			{Component: "db", FailureType: "latency"},
			{Component: "api", FailureType: "error"},
		},
	}
	_, err = rt.Scoreboard.Execute(ctx, plan)
	require.NoError(t, err)

	outcomes, err := rt.Journal.Outcomes(ctx, "journaled")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	_, err = rt.Scoreboard.Execute(ctx, engine.Plan{RunID: "empty"})
	require.ErrorIs(t, err, engine.ErrNoSummary)
}
