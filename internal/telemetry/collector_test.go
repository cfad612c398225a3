package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/target"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

func newTestCollector(t *testing.T, cfg Config) (*Collector, *target.Simulated) {
	t.Helper()
	fabric := target.NewFabric(nil)
	svc, err := fabric.Add(target.SimulatedConfig{Name: "checkout", BaseLatency: 40 * time.Millisecond, RenderCost: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	set, err := target.NewSet(svc)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	return NewCollector(set, cfg, utils.DiscardLogger()), svc
}

func TestCaptureRequiresActiveWindow(t *testing.T) {
	collector, _ := newTestCollector(t, Config{})
	if _, err := collector.CaptureMetrics(context.Background(), "checkout"); !errors.Is(err, ErrNoActiveWindow) {
		t.Fatalf("expected ErrNoActiveWindow, got %v", err)
	}

	collector.StartCollection("checkout")
	snap, err := collector.CaptureMetrics(context.Background(), "checkout")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if snap.ResponseTimeMs != 40 || snap.RenderTimeMs != 10 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	collector.EndCollection("checkout")

	if _, err := collector.CaptureMetrics(context.Background(), "checkout"); !errors.Is(err, ErrNoActiveWindow) {
		t.Fatalf("expected closed window error, got %v", err)
	}
}

func TestWindowsNestAcrossConcurrentTests(t *testing.T) {
	collector, _ := newTestCollector(t, Config{})
	collector.StartCollection("checkout")
	collector.StartCollection("checkout")
	collector.EndCollection("checkout")
	if !collector.Active("checkout") {
		t.Fatalf("expected window to remain open while another test holds it")
	}
	collector.EndCollection("checkout")
	if collector.Active("checkout") {
		t.Fatalf("expected window closed")
	}
	collector.EndCollection("checkout")
}

func TestDegradationAfterFault(t *testing.T) {
	collector, svc := newTestCollector(t, Config{})
	ctx := context.Background()
	collector.StartCollection("checkout")
	defer collector.EndCollection("checkout")

	baseline, err := collector.CaptureBaseline(ctx, "checkout")
	if err != nil {
		t.Fatalf("baseline: %v", err)
	}
	_ = svc.InjectFault(ctx, "latency")
	current, err := collector.CaptureMetrics(ctx, "checkout")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	deg := CalculateDegradation(baseline, current)
	if deg.ResponseTimeRatio != target.DefaultFaultProfile.LatencyFactor {
		t.Fatalf("expected ratio %v, got %v", target.DefaultFaultProfile.LatencyFactor, deg.ResponseTimeRatio)
	}
	if deg.ErrorRateDelta <= 0 {
		t.Fatalf("expected positive error delta, got %v", deg.ErrorRateDelta)
	}
	if got := len(collector.SeriesFor("checkout")); got != 2 {
		t.Fatalf("expected 2 snapshots in series, got %d", got)
	}
}

func TestCalculateDegradationZeroBaseline(t *testing.T) {
	deg := CalculateDegradation(models.MetricsSnapshot{}, models.MetricsSnapshot{})
	if deg.ResponseTimeRatio != 1 || deg.RenderTimeRatio != 1 || deg.ErrorRateDelta != 0 {
		t.Fatalf("unexpected degradation for empty snapshots: %+v", deg)
	}
	deg = CalculateDegradation(models.MetricsSnapshot{}, models.MetricsSnapshot{ResponseTimeMs: 10, ErrorRate: 0.2})
	if deg.ResponseTimeRatio != 0 {
		t.Fatalf("expected undefined ratio reported as 0, got %v", deg.ResponseTimeRatio)
	}
	if deg.ErrorRateDelta != 0.2 {
		t.Fatalf("expected error delta 0.2, got %v", deg.ErrorRateDelta)
	}
}

func TestLoadDurationSlowsCapture(t *testing.T) {
	collector, _ := newTestCollector(t, Config{LoadDuration: 5 * time.Millisecond})
	collector.StartCollection("checkout")
	defer collector.EndCollection("checkout")

	start := time.Now()
	if _, err := collector.CaptureMetrics(context.Background(), "checkout"); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Fatalf("expected capture to take at least the load duration")
	}
	if collector.CaptureP95() < 5*time.Millisecond {
		t.Fatalf("expected capture latency to include load, got %v", collector.CaptureP95())
	}
}

func TestSeriesBoundedAndConcurrent(t *testing.T) {
	collector, _ := newTestCollector(t, Config{MaxSeries: 16})
	collector.StartCollection("checkout")
	defer collector.EndCollection("checkout")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				_, _ = collector.CaptureMetrics(context.Background(), "checkout")
			}
		}()
	}
	wg.Wait()

	if got := len(collector.Series()); got != 16 {
		t.Fatalf("expected series capped at 16, got %d", got)
	}
	collector.Reset()
	if len(collector.Series()) != 0 {
		t.Fatalf("expected empty series after reset")
	}
}
