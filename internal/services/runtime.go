package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/miradorstack/mirador-resilience/internal/alerting"
	"github.com/miradorstack/mirador-resilience/internal/anomaly"
	"github.com/miradorstack/mirador-resilience/internal/cascade"
	"github.com/miradorstack/mirador-resilience/internal/config"
	"github.com/miradorstack/mirador-resilience/internal/engine"
	"github.com/miradorstack/mirador-resilience/internal/harness"
	"github.com/miradorstack/mirador-resilience/internal/journal"
	"github.com/miradorstack/mirador-resilience/internal/recovery"
	"github.com/miradorstack/mirador-resilience/internal/store"
	"github.com/miradorstack/mirador-resilience/internal/target"
	"github.com/miradorstack/mirador-resilience/internal/telemetry"
)

// Runtime is the fully wired engine built from a Config.
type Runtime struct {
	Config     *config.Config
	Targets    *target.Set
	Store      store.Store
	Journal    *journal.BadgerJournal
	Registry   *recovery.Registry
	Pipeline   *engine.Pipeline
	Planner    *engine.Planner
	Scoreboard *Scoreboard

	closers []func() error
}

// DemoTargets is the simulated topology used when the config declares no targets.
func DemoTargets() []target.SimulatedConfig {
	return []target.SimulatedConfig{
		{Name: "db", BaseLatency: 8 * time.Millisecond, RecoveryDelay: 150 * time.Millisecond},
		{Name: "cache", BaseLatency: 2 * time.Millisecond, Dependencies: []string{"db"}, Isolated: true},
		{Name: "api", BaseLatency: 15 * time.Millisecond, RenderCost: 2 * time.Millisecond, Dependencies: []string{"db", "cache"}},
		{Name: "web", BaseLatency: 20 * time.Millisecond, RenderCost: 10 * time.Millisecond, Dependencies: []string{"api"}},
	}
}

// Build wires targets, storage, journal, registry, alerting and the pipeline from cfg.
// ctx bounds the recovery catalog watcher.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{Config: cfg}

	targets, err := BuildTargets(cfg)
	if err != nil {
		return nil, err
	}
	rt.Targets = targets

	db, err := rt.openStorage(cfg, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	var j harness.Journal
	if cfg.Harness.Journal {
		if db == nil {
			db, err = store.OpenBadger(store.BadgerConfig{
				Path:       cfg.Storage.Badger.Path,
				InMemory:   cfg.Storage.Badger.InMemory,
				SyncWrites: cfg.Storage.Badger.SyncWrites,
				Logger:     logger,
			})
			if err != nil {
				rt.Close()
				return nil, fmt.Errorf("open journal database: %w", err)
			}
			rt.closers = append(rt.closers, db.Close)
		}
		bj, err := journal.New(db)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		rt.Journal = bj
		j = bj
	}

	rt.Registry = recovery.NewRegistry(logger)
	rt.loadCatalog(ctx, cfg.Recovery, logger)

	collector := telemetry.NewCollector(targets, cfg.TelemetrySettings(), logger)
	h, err := harness.NewHarness(logger, cfg.HarnessSettings(), targets, collector, cascade.NewMapper(), nil, j)
	if err != nil {
		rt.Close()
		return nil, err
	}

	detector := anomaly.NewDetector(cfg.Anomaly.Threshold)
	detector.Method = cfg.Anomaly.Method

	evaluator, err := alerting.NewEvaluator(alerting.Config{
		CriticalThreshold: cfg.Alerting.CriticalThreshold,
		Condition:         cfg.Alerting.Condition,
	}, logger, alerting.LogHook(logger))
	if err != nil {
		rt.Close()
		return nil, err
	}

	rules, err := engine.NewRuleEngine(cfg.Rules.Path, logger)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("load rules: %w", err)
	}

	rt.Pipeline = engine.NewPipeline(logger, h, rt.Store, detector, rt.Registry, evaluator, rules)
	rt.Pipeline.SetWeakSpotRate(cfg.Scoring.WeakSpotRate)
	rt.Planner = engine.NewPlanner(cfg.Run.FailureTypes)
	rt.Scoreboard = NewScoreboard(logger, rt.Pipeline, rt.Planner, RunDefaults{
		ChaosLevel: cfg.Run.ChaosLevel,
		Duration:   cfg.Run.Duration,
		Seed:       cfg.Run.Seed,
	})
	return rt, nil
}

// BuildTargets instantiates the configured targets, or the demo topology when none are configured.
func BuildTargets(cfg *config.Config) (*target.Set, error) {
	simulated := cfg.Targets.Simulated
	if len(simulated) == 0 && len(cfg.Targets.HTTP) == 0 {
		simulated = DemoTargets()
	}
	set, _ := target.NewSet()
	fabric := target.NewFabric(nil)
	for _, sc := range simulated {
		s, err := fabric.Add(sc)
		if err != nil {
			return nil, fmt.Errorf("simulated target %s: %w", sc.Name, err)
		}
		if err := set.Add(s); err != nil {
			return nil, err
		}
	}
	for _, hc := range cfg.Targets.HTTP {
		t, err := target.NewHTTPTarget(hc.HTTPSettings())
		if err != nil {
			return nil, err
		}
		if err := set.Add(t); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// openStorage opens the record store. It returns the badger DB when the backend owns one so the journal can share it.
func (rt *Runtime) openStorage(cfg *config.Config, logger *slog.Logger) (*badger.DB, error) {
	switch cfg.Storage.Backend {
	case config.StorageMemory:
		rt.Store = store.NewMemoryStore()
	case config.StorageBadger:
		db, err := store.OpenBadger(store.BadgerConfig{
			Path:       cfg.Storage.Badger.Path,
			InMemory:   cfg.Storage.Badger.InMemory,
			SyncWrites: cfg.Storage.Badger.SyncWrites,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		rt.Store = store.NewBadgerStore(db)
		rt.closers = append(rt.closers, db.Close)
		return db, nil
	case config.StorageValkey:
		vs, err := store.NewValkeyStore(cfg.ValkeySettings())
		if err != nil {
			return nil, fmt.Errorf("open valkey store: %w", err)
		}
		rt.Store = vs
		rt.closers = append(rt.closers, vs.Close)
	default:
		fs, err := store.NewFileStore(cfg.Storage.Dir)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		rt.Store = fs
	}
	return nil, nil
}

func (rt *Runtime) loadCatalog(ctx context.Context, cfg config.RecoveryConfig, logger *slog.Logger) {
	if cfg.CatalogPath == "" {
		return
	}
	if _, err := os.Stat(cfg.CatalogPath); errors.Is(err, os.ErrNotExist) {
		logger.Warn("recovery catalog not found", slog.String("path", cfg.CatalogPath))
		return
	}
	if cfg.Watch {
		if err := rt.Registry.Watch(ctx, cfg.CatalogPath); err != nil {
			logger.Warn("recovery catalog watch failed", slog.String("path", cfg.CatalogPath), slog.Any("error", err))
		}
		return
	}
	paths, err := recovery.LoadFile(cfg.CatalogPath)
	if err != nil {
		logger.Warn("recovery catalog load failed", slog.String("path", cfg.CatalogPath), slog.Any("error", err))
		return
	}
	rt.Registry.Seed(paths)
}

// Close releases the journal and storage in reverse order of opening.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Journal != nil {
		if err := rt.Journal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
