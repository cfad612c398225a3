package models

import "time"

// Metric names understood by the telemetry collector and anomaly detector.
const (
	MetricResponseTime = "responseTimeMs"
	MetricRenderTime   = "renderTimeMs"
	MetricErrorRate    = "errorRate"
)

// Metrics lists every metric carried by a MetricsSnapshot, in report order.
var Metrics = []string{MetricResponseTime, MetricRenderTime, MetricErrorRate}

// MetricsSnapshot is an immutable telemetry sample for one component.
type MetricsSnapshot struct {
	Component      string    `json:"component"`
	ResponseTimeMs float64   `json:"responseTimeMs"`
	RenderTimeMs   float64   `json:"renderTimeMs"`
	ErrorRate      float64   `json:"errorRate"`
	Timestamp      time.Time `json:"timestamp"`
}

// Value returns the named metric. The second result is false for unknown names.
func (s MetricsSnapshot) Value(metric string) (float64, bool) {
	switch metric {
	case MetricResponseTime:
		return s.ResponseTimeMs, true
	case MetricRenderTime:
		return s.RenderTimeMs, true
	case MetricErrorRate:
		return s.ErrorRate, true
	default:
		return 0, false
	}
}

// Degradation compares a post-failure snapshot against its baseline.
// Timing fields are current/baseline ratios (>1 means slower); ErrorRateDelta is current-baseline.
type Degradation struct {
	ResponseTimeRatio float64 `json:"responseTimeRatio"`
	RenderTimeRatio   float64 `json:"renderTimeRatio"`
	ErrorRateDelta    float64 `json:"errorRateDelta"`
}
