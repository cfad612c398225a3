// Package telemetry captures per-component metric snapshots around fault injections.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/target"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

// ErrNoActiveWindow is returned when a capture is requested for a component with no open collection window.
var ErrNoActiveWindow = errors.New("no active collection window")

// Config tunes the collector.
type Config struct {
	// LoadDuration busy-waits on every capture to emulate resource pressure on the host.
	LoadDuration time.Duration
	// MaxSeries bounds the retained snapshot series; older snapshots are dropped first.
	MaxSeries int
}

// Collector samples target components and keeps the captured series for later anomaly detection.
type Collector struct {
	targets *target.Set
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	windows map[string]int
	series  []models.MetricsSnapshot

	captureLatency *utils.LatencyTracker
}

// NewCollector builds a collector over the given targets.
func NewCollector(targets *target.Set, cfg Config, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxSeries <= 0 {
		cfg.MaxSeries = 10000
	}
	return &Collector{
		targets:        targets,
		cfg:            cfg,
		logger:         logger,
		now:            time.Now,
		windows:        make(map[string]int),
		captureLatency: utils.NewLatencyTracker(1024),
	}
}

// StartCollection opens a measurement window for component. Windows nest: each start needs a matching end.
func (c *Collector) StartCollection(component string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windows[component]++
}

// EndCollection closes one window for component. Ending a component with no open window is a no-op.
func (c *Collector) EndCollection(component string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch n := c.windows[component]; {
	case n > 1:
		c.windows[component] = n - 1
	case n == 1:
		delete(c.windows, component)
	default:
		c.logger.Debug("end collection without open window", slog.String("component", component))
	}
}

// Active reports whether component has an open window.
func (c *Collector) Active(component string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.windows[component] > 0
}

// CaptureBaseline samples component before a fault is injected.
func (c *Collector) CaptureBaseline(ctx context.Context, component string) (models.MetricsSnapshot, error) {
	snap, err := c.capture(ctx, component)
	if err != nil {
		return models.MetricsSnapshot{}, fmt.Errorf("capture baseline: %w", err)
	}
	return snap, nil
}

// CaptureMetrics samples component during or after a fault.
func (c *Collector) CaptureMetrics(ctx context.Context, component string) (models.MetricsSnapshot, error) {
	snap, err := c.capture(ctx, component)
	if err != nil {
		return models.MetricsSnapshot{}, fmt.Errorf("capture metrics: %w", err)
	}
	return snap, nil
}

func (c *Collector) capture(ctx context.Context, component string) (models.MetricsSnapshot, error) {
	if !c.Active(component) {
		return models.MetricsSnapshot{}, fmt.Errorf("%s: %w", component, ErrNoActiveWindow)
	}
	tgt, ok := c.targets.Get(component)
	if !ok {
		return models.MetricsSnapshot{}, fmt.Errorf("unknown component %q", component)
	}

	start := time.Now()
	if c.cfg.LoadDuration > 0 {
		burn(c.cfg.LoadDuration)
	}
	obs, err := tgt.Observe(ctx)
	c.captureLatency.Observe(time.Since(start))
	if err != nil {
		return models.MetricsSnapshot{}, err
	}

	snap := models.MetricsSnapshot{
		Component:      component,
		ResponseTimeMs: utils.Millis(obs.ResponseTime),
		RenderTimeMs:   utils.Millis(obs.RenderTime),
		ErrorRate:      utils.Clamp(obs.ErrorRate, 0, 1),
		Timestamp:      c.now(),
	}

	c.mu.Lock()
	c.series = append(c.series, snap)
	if over := len(c.series) - c.cfg.MaxSeries; over > 0 {
		c.series = append(c.series[:0], c.series[over:]...)
	}
	c.mu.Unlock()

	c.logger.Debug("captured snapshot",
		slog.String("component", component),
		slog.Float64("response_ms", snap.ResponseTimeMs),
		slog.Float64("error_rate", snap.ErrorRate),
	)
	return snap, nil
}

// Series returns a copy of every captured snapshot in capture order.
func (c *Collector) Series() []models.MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.MetricsSnapshot(nil), c.series...)
}

// SeriesFor returns the snapshots captured for one component.
func (c *Collector) SeriesFor(component string) []models.MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.MetricsSnapshot, 0)
	for _, s := range c.series {
		if s.Component == component {
			out = append(out, s)
		}
	}
	return out
}

// CaptureP95 returns the 95th percentile capture latency, including simulated load.
func (c *Collector) CaptureP95() time.Duration {
	return c.captureLatency.Percentile(95)
}

// Reset drops the captured series. Open windows are kept.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.series = nil
	c.mu.Unlock()
	c.captureLatency.Reset()
}

// CalculateDegradation compares current against baseline.
// Timing ratios are current/baseline; a non-positive baseline yields 1 when current is also non-positive and 0 otherwise.
func CalculateDegradation(baseline, current models.MetricsSnapshot) models.Degradation {
	return models.Degradation{
		ResponseTimeRatio: timingRatio(current.ResponseTimeMs, baseline.ResponseTimeMs),
		RenderTimeRatio:   timingRatio(current.RenderTimeMs, baseline.RenderTimeMs),
		ErrorRateDelta:    current.ErrorRate - baseline.ErrorRate,
	}
}

func timingRatio(current, baseline float64) float64 {
	if baseline <= 0 {
		if current <= 0 {
			return 1
		}
		return 0
	}
	return utils.SafeRatio(current, baseline)
}

func burn(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}
