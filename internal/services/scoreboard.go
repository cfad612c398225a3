// Package services holds the long-lived run state shared by the REST and gRPC surfaces.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-resilience/internal/api"
	"github.com/miradorstack/mirador-resilience/internal/cascade"
	"github.com/miradorstack/mirador-resilience/internal/engine"
	"github.com/miradorstack/mirador-resilience/internal/history"
	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/report"
	"github.com/miradorstack/mirador-resilience/internal/store"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

// RunDefaults fill the fields a run request leaves zero.
type RunDefaults struct {
	ChaosLevel int
	Duration   time.Duration
	Seed       uint64
}

// Scoreboard keeps the latest run result and triggers runs one at a time.
type Scoreboard struct {
	logger    *slog.Logger
	pipeline  *engine.Pipeline
	planner   *engine.Planner
	defaults  RunDefaults
	latencies *utils.LatencyTracker

	running atomic.Bool
	mu      sync.RWMutex
	latest  *engine.RunResult
}

var (
	_ api.Backend          = (*Scoreboard)(nil)
	_ api.ScoreboardServer = (*Scoreboard)(nil)
)

// NewScoreboard constructs the scoreboard. planner may be nil to use the default failure types.
func NewScoreboard(logger *slog.Logger, pipeline *engine.Pipeline, planner *engine.Planner, defaults RunDefaults) *Scoreboard {
	if logger == nil {
		logger = slog.Default()
	}
	if planner == nil {
		planner = engine.NewPlanner(nil)
	}
	if defaults.ChaosLevel == 0 {
		defaults.ChaosLevel = 3
	}
	return &Scoreboard{
		logger:    logger,
		pipeline:  pipeline,
		planner:   planner,
		defaults:  defaults,
		latencies: utils.NewLatencyTracker(256),
	}
}

// Trigger plans and executes a run. Concurrent triggers fail fast with api.ErrRunInProgress.
func (s *Scoreboard) Trigger(ctx context.Context, req api.RunRequest) (engine.RunResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return engine.RunResult{}, api.ErrRunInProgress
	}
	defer s.running.Store(false)

	level := req.ChaosLevel
	if level == 0 {
		level = s.defaults.ChaosLevel
	}
	seed := s.defaults.Seed
	if req.Seed != nil {
		seed = *req.Seed
	}
	duration := s.defaults.Duration
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil {
			return engine.RunResult{}, fmt.Errorf("parse duration: %w", err)
		}
		duration = d
	}

	plan, err := s.planner.Build(s.pipeline.Components(), level, seed, duration)
	if err != nil {
		return engine.RunResult{}, utils.NewAppError("scoreboard.Trigger", "plan run", err)
	}
	return s.Execute(ctx, plan)
}

// Execute runs a prepared plan and records the result as latest.
func (s *Scoreboard) Execute(ctx context.Context, plan engine.Plan) (engine.RunResult, error) {
	start := time.Now()
	result, err := s.pipeline.Run(ctx, plan)
	if err != nil {
		return engine.RunResult{}, err
	}
	s.latencies.Observe(time.Since(start))
	if count := s.latencies.Count(); count >= 10 && count%10 == 0 {
		s.logger.Info("run latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}

	s.mu.Lock()
	s.latest = &result
	s.mu.Unlock()
	return result, nil
}

// Latest returns the most recent in-memory result.
func (s *Scoreboard) Latest() (engine.RunResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return engine.RunResult{}, false
	}
	return *s.latest, true
}

// LatestSummary returns the latest summary, falling back to the persisted record.
func (s *Scoreboard) LatestSummary(ctx context.Context) (models.Summary, bool) {
	if r, ok := s.Latest(); ok {
		return r.Summary, true
	}
	return store.LoadJSON[models.Summary](ctx, s.pipeline.Store(), store.RecordSummary, s.logger)
}

// HistoryEntries returns the persisted history, oldest first.
func (s *Scoreboard) HistoryEntries(ctx context.Context) []models.HistoryEntry {
	entries := history.Load(ctx, s.pipeline.Store(), s.logger).Entries()
	if entries == nil {
		return []models.HistoryEntry{}
	}
	return entries
}

// CascadeGraph renders the latest cascades, or the persisted cascade map.
func (s *Scoreboard) CascadeGraph(ctx context.Context) report.Graph {
	if r, ok := s.Latest(); ok {
		return r.CascadeGraph
	}
	byRoot, _ := store.LoadJSON[map[string][]models.FailureCascade](ctx, s.pipeline.Store(), store.RecordCascadeMap, s.logger)
	return report.RenderCascadeGraph(cascade.Flatten(byRoot))
}

// RecoveryGraph renders the live recovery catalog, or the persisted one.
func (s *Scoreboard) RecoveryGraph(ctx context.Context) report.Graph {
	if paths := s.pipeline.Registry().All(); len(paths) > 0 {
		return report.RenderRecoveryGraph(paths)
	}
	paths, _ := store.LoadJSON[[]models.RecoveryPath](ctx, s.pipeline.Store(), store.RecordRecoveryPaths, s.logger)
	return report.RenderRecoveryGraph(paths)
}

// Report returns the latest text report, or one rebuilt from persisted records.
func (s *Scoreboard) Report(ctx context.Context) (string, bool) {
	if r, ok := s.Latest(); ok {
		return r.Report, true
	}
	summary, ok := s.LatestSummary(ctx)
	if !ok {
		return "", false
	}
	st := s.pipeline.Store()
	in := report.Input{Summary: summary, History: s.HistoryEntries(ctx), GeneratedAt: time.Now().UTC()}
	if ux, ok := store.LoadJSON[models.UXReport](ctx, st, store.RecordUXImpact, s.logger); ok {
		in.UX = &ux
	}
	if an, ok := store.LoadJSON[models.AnomalyReport](ctx, st, store.RecordAnomalies, s.logger); ok {
		in.Anomalies = &an
	}
	if p, ok := store.LoadJSON[[]models.FailurePattern](ctx, st, store.RecordPatterns, s.logger); ok {
		in.Patterns = p
	}
	if n := len(in.History); n > 0 {
		in.PerfPassRate = in.History[n-1].PerformanceBenchmarkPassRate
		if n > 1 {
			cmp := history.Compare(in.History[n-2], in.History[n-1])
			in.Comparison = &cmp
		}
		in.Trend = history.NewTracker(s.logger, in.History...).Trend()
	}
	return report.RenderReport(in), true
}

// LatestScore implements api.ScoreboardServer.
func (s *Scoreboard) LatestScore(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	summary, ok := s.LatestSummary(ctx)
	if !ok {
		return nil, status.Error(codes.NotFound, "no run has been scored yet")
	}
	out, err := api.ToProtoSummary(summary)
	if err != nil {
		s.logger.Error("convert summary failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to encode summary")
	}
	return out, nil
}

// History implements api.ScoreboardServer.
func (s *Scoreboard) History(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	out, err := api.ToProtoHistory(s.HistoryEntries(ctx))
	if err != nil {
		s.logger.Error("convert history failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to encode history")
	}
	return out, nil
}

// RunEvery triggers a run on every tick until ctx is cancelled. Failures are logged.
func (s *Scoreboard) RunEvery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Trigger(ctx, api.RunRequest{}); err != nil {
				s.logger.Warn("scheduled run failed", slog.Any("error", err))
			}
		}
	}
}
