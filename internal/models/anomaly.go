package models

import "time"

// Range is an inclusive numeric interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Anomaly is a telemetry reading outside the statistically expected range of its metric.
type Anomaly struct {
	Component     string    `json:"component,omitempty"`
	Metric        string    `json:"metric"`
	Description   string    `json:"description"`
	ObservedValue float64   `json:"observedValue"`
	ExpectedRange Range     `json:"expectedRange"`
	Score         float64   `json:"score"`
	Timestamp     time.Time `json:"timestamp"`
}

// AnomalyReport is the persisted anomaly record for a run.
type AnomalyReport struct {
	Anomalies []Anomaly `json:"anomalies"`
	Observed  int       `json:"observed"`
}
