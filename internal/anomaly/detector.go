// Package anomaly flags telemetry readings that fall outside a metric's expected range.
package anomaly

import (
	"fmt"
	"math"
	"sort"

	"github.com/miradorstack/mirador-resilience/internal/models"
)

// Detection methods.
const (
	MethodZScore = "zscore"
	MethodMAD    = "mad"
)

// DefaultThreshold is the deviation multiplier used when none is configured.
const DefaultThreshold = 2.0

// Detector is stateless; every call re-scans the full series it is given.
type Detector struct {
	Threshold float64
	Method    string
}

// Result is the outcome of scanning a whole series.
type Result struct {
	Anomalies []models.Anomaly
	// Observed counts the data points scanned across all metrics.
	Observed int
}

// NewDetector returns a z-score detector with the given threshold (default 2).
func NewDetector(threshold float64) *Detector {
	return &Detector{Threshold: threshold, Method: MethodZScore}
}

// Detect flags points of metric whose deviation from the series centre exceeds Threshold spreads.
// Series of fewer than two points, or with zero spread, produce nothing.
func (d *Detector) Detect(series []models.MetricsSnapshot, metric string) []models.Anomaly {
	if len(series) < 2 {
		return nil
	}

	values := make([]float64, 0, len(series))
	points := make([]models.MetricsSnapshot, 0, len(series))
	for _, s := range series {
		v, ok := s.Value(metric)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		values = append(values, v)
		points = append(points, s)
	}
	if len(values) < 2 {
		return nil
	}

	threshold := d.threshold()
	centre, spread, label := d.stats(values)
	if spread == 0 {
		return nil
	}

	expected := models.Range{Min: centre - threshold*spread, Max: centre + threshold*spread}
	anomalies := make([]models.Anomaly, 0)
	for i, v := range values {
		score := math.Abs(v-centre) / spread
		if score <= threshold {
			continue
		}
		p := points[i]
		anomalies = append(anomalies, models.Anomaly{
			Component:     p.Component,
			Metric:        metric,
			Description:   describe(p.Component, metric, v, expected, label),
			ObservedValue: v,
			ExpectedRange: expected,
			Score:         score,
			Timestamp:     p.Timestamp,
		})
	}
	return anomalies
}

// DetectAll runs Detect for every metric over each component's own series.
func (d *Detector) DetectAll(series []models.MetricsSnapshot) Result {
	byComponent := make(map[string][]models.MetricsSnapshot)
	for _, s := range series {
		byComponent[s.Component] = append(byComponent[s.Component], s)
	}
	components := make([]string, 0, len(byComponent))
	for c := range byComponent {
		components = append(components, c)
	}
	sort.Strings(components)

	res := Result{Anomalies: make([]models.Anomaly, 0)}
	for _, c := range components {
		for _, metric := range models.Metrics {
			res.Observed += len(byComponent[c])
			res.Anomalies = append(res.Anomalies, d.Detect(byComponent[c], metric)...)
		}
	}
	return res
}

// Report converts a result into the persisted anomaly record.
func (r Result) Report() models.AnomalyReport {
	return models.AnomalyReport{Anomalies: r.Anomalies, Observed: r.Observed}
}

func (d *Detector) threshold() float64 {
	if d == nil || d.Threshold <= 0 {
		return DefaultThreshold
	}
	return d.Threshold
}

func (d *Detector) stats(values []float64) (centre, spread float64, label string) {
	if d != nil && d.Method == MethodMAD {
		centre = median(values)
		return centre, meanAbsoluteDeviation(values, centre), "MAD"
	}
	centre = mean(values)
	return centre, stdDev(values, centre), "σ"
}

func describe(component, metric string, value float64, r models.Range, label string) string {
	subject := metric
	if component != "" {
		subject = component + " " + metric
	}
	return fmt.Sprintf("%s observed %.3f outside expected range [%.3f, %.3f] (%s)", subject, value, r.Min, r.Max, label)
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdDev is the population standard deviation around m.
func stdDev(values []float64, m float64) float64 {
	variance := 0.0
	for _, v := range values {
		variance += (v - m) * (v - m)
	}
	return math.Sqrt(variance / float64(len(values)))
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func meanAbsoluteDeviation(values []float64, centre float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += math.Abs(v - centre)
	}
	return sum / float64(len(values))
}
