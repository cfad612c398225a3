package models

import "time"

// HistoryEntry is one run's scoring result in the append-only history log.
type HistoryEntry struct {
	Timestamp                    time.Time `json:"timestamp"`
	RunID                        string    `json:"runId,omitempty"`
	ResilienceScore              int       `json:"resilienceScore"`
	RecoverySuccessRate          float64   `json:"recoverySuccessRate"`
	AvgUXSeverity                float64   `json:"avgUXSeverity"`
	PerformanceBenchmarkPassRate float64   `json:"performanceBenchmarkPassRate"`
	AnomalyCount                 int       `json:"anomalyCount"`
}

// Comparison holds run-over-run deltas against the most recent prior entry.
// HasPrior is false when the history was empty; all deltas are then zero.
type Comparison struct {
	HasPrior             bool          `json:"hasPrior"`
	Previous             *HistoryEntry `json:"previous,omitempty"`
	ScoreDelta           int           `json:"scoreDelta"`
	RecoveryRateDeltaPct float64       `json:"recoveryRateDeltaPct"`
	UXSeverityDelta      float64       `json:"uxSeverityDelta"`
	PerfPassRateDeltaPct float64       `json:"perfPassRateDeltaPct"`
	AnomalyDelta         int           `json:"anomalyDelta"`
}
