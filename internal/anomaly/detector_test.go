package anomaly

import (
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-resilience/internal/models"
)

func series(component string, values ...float64) []models.MetricsSnapshot {
	start := time.Now().Add(-time.Duration(len(values)) * time.Minute)
	out := make([]models.MetricsSnapshot, 0, len(values))
	for i, v := range values {
		out = append(out, models.MetricsSnapshot{
			Component:      component,
			ResponseTimeMs: v,
			RenderTimeMs:   10,
			ErrorRate:      0,
			Timestamp:      start.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}

func TestDetectFlagsSpike(t *testing.T) {
	d := NewDetector(2)
	anomalies := d.Detect(series("api", 10, 10, 10, 10, 10, 10, 10, 10, 10, 100), models.MetricResponseTime)
	if len(anomalies) != 1 {
		t.Fatalf("expected one anomaly, got %d", len(anomalies))
	}
	a := anomalies[0]
	if a.ObservedValue != 100 {
		t.Fatalf("unexpected observed value %v", a.ObservedValue)
	}
	if a.ExpectedRange.Contains(a.ObservedValue) {
		t.Fatalf("observed value should be outside %+v", a.ExpectedRange)
	}
	if !strings.Contains(a.Description, "100.000") || !strings.Contains(a.Description, "api") {
		t.Fatalf("description missing detail: %s", a.Description)
	}
}

func TestDetectConstantSeriesYieldsNothing(t *testing.T) {
	for _, threshold := range []float64{0.1, 1, 2, 10} {
		d := &Detector{Threshold: threshold, Method: MethodZScore}
		if got := d.Detect(series("api", 5, 5, 5, 5), models.MetricResponseTime); len(got) != 0 {
			t.Fatalf("threshold %v: expected no anomalies on constant series, got %d", threshold, len(got))
		}
	}
}

func TestDetectDegenerateSeries(t *testing.T) {
	d := NewDetector(0)
	if got := d.Detect(nil, models.MetricResponseTime); got != nil {
		t.Fatalf("expected nil for empty series")
	}
	if got := d.Detect(series("api", 42), models.MetricResponseTime); got != nil {
		t.Fatalf("expected nil for single point")
	}
	if got := d.Detect(series("api", 1, 2, 3), "unknown"); got != nil {
		t.Fatalf("expected nil for unknown metric")
	}
}

func TestMADMethodIgnoresOutlierInflation(t *testing.T) {
	values := []float64{10, 11, 10, 12, 10, 11, 60, 62}
	z := NewDetector(2).Detect(series("api", values...), models.MetricResponseTime)
	mad := (&Detector{Threshold: 2, Method: MethodMAD}).Detect(series("api", values...), models.MetricResponseTime)
	if len(mad) <= len(z) {
		t.Fatalf("expected robust method to flag more outliers: zscore=%d mad=%d", len(z), len(mad))
	}
}

func TestDetectAllCountsObserved(t *testing.T) {
	d := NewDetector(2)
	all := append(series("api", 10, 10, 10, 10, 10, 10, 10, 10, 10, 100), series("db", 3, 3, 3)...)
	res := d.DetectAll(all)
	if res.Observed != 13*len(models.Metrics) {
		t.Fatalf("expected %d observed, got %d", 13*len(models.Metrics), res.Observed)
	}
	if len(res.Anomalies) != 1 || res.Anomalies[0].Component != "api" {
		t.Fatalf("unexpected anomalies %+v", res.Anomalies)
	}
	if rep := res.Report(); rep.Observed != res.Observed {
		t.Fatalf("report mismatch")
	}
}
