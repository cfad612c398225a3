package report

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/recovery"
)

func scoredSummary() models.Summary {
	s := models.NewSummary()
	s.RunID = "run-7"
	s.TotalTests = 10
	s.PassedTests = 8
	s.FailedTests = 2
	s.RecoverySuccessRate = 0.8
	s.AverageRecoveryTime = 450
	s.P95RecoveryTime = 700
	s.TestsByComponent["checkout"] = models.Breakdown{Total: 6, Passed: 5, Failed: 1}
	s.TestsByComponent["search"] = models.Breakdown{Total: 4, Passed: 3, Failed: 1}
	s.TestsByFailureType["latency"] = models.Breakdown{Total: 10, Passed: 8, Failed: 2}
	score := 82
	s.ResilienceScore = &score
	s.ResilienceRating = "Strong"
	return s
}

func TestRenderReportFullSections(t *testing.T) {
	prev := models.HistoryEntry{ResilienceScore: 75, RecoverySuccessRate: 0.7, AvgUXSeverity: 2}
	in := Input{
		Summary:      scoredSummary(),
		UX:           &models.UXReport{Impacts: []models.UXImpact{{Component: "checkout", Severity: 2}}, AvgSeverity: 1.5, WorstComponent: "checkout", Histogram: map[int]int{2: 1}},
		Anomalies:    &models.AnomalyReport{Observed: 20, Anomalies: []models.Anomaly{{Component: "search", Metric: models.MetricResponseTime, ObservedValue: 90, ExpectedRange: models.Range{Min: 5, Max: 30}, Score: 3.1}}},
		PerfPassRate: 0.95,
		Comparison:   &models.Comparison{HasPrior: true, Previous: &prev, ScoreDelta: 7, RecoveryRateDeltaPct: 10, UXSeverityDelta: -0.5},
		History:      []models.HistoryEntry{prev, {ResilienceScore: 82, RecoverySuccessRate: 0.8, AvgUXSeverity: 1.5, AnomalyCount: 1}},
		Trend:        "improving",
		WeakSpots:    []recovery.WeakSpot{{Component: "search", RecoveryRate: 0.75}},
		Patterns:     []models.FailurePattern{{Root: "checkout", Occurrences: 3, AvgBlastRadius: 1.5, AffectedComponents: []string{"search"}}},
		Recommendations: []string{"Add a fallback for search"},
	}

	out := RenderReport(in)
	for _, want := range []string{
		"Score: 82/100 (Strong)",
		"Recovery rate: 80.0% (8/10 passed)",
		"Average recovery time: 450ms (p95 700ms)",
		"Per component", "checkout", "search",
		"Per failure type", "latency",
		"UX severity distribution", "worst component: checkout",
		"Anomalies", "90.000",
		"Trend: improving", "+7", "+10.0 pp",
		"Weak spots", "Cascade hotspots", "Add a fallback for search",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Missing data") {
		t.Fatalf("complete run must not carry a missing-data annotation")
	}
}

func TestRenderReportPartialRun(t *testing.T) {
	s := models.NewSummary()
	s.Annotate("telemetry")
	s.Annotate("history")
	out := RenderReport(Input{Summary: s})

	for _, want := range []string{"Score: n/a", "Recovery rate: 0.0% (0/0 passed)", "no tests", "Missing data", "telemetry, history"} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
	for _, absent := range []string{"UX severity", "Trend", "Anomalies"} {
		if strings.Contains(out, absent) {
			t.Fatalf("report should omit %q when data is absent", absent)
		}
	}
}

func TestRenderJSON(t *testing.T) {
	data, err := RenderJSON(Input{Summary: scoredSummary(), PerfPassRate: 0.95})
	if err != nil {
		t.Fatalf("render json: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	summary := decoded["summary"].(map[string]any)
	if summary["resilienceScore"].(float64) != 82 {
		t.Fatalf("unexpected score in json: %v", summary["resilienceScore"])
	}
}
