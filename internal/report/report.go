// Package report renders a run into a human-readable report, a JSON document, and graph descriptions.
package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/recovery"
)

// Input is everything a report can show. Optional sections are omitted when nil or empty.
type Input struct {
	Summary         models.Summary          `json:"summary"`
	UX              *models.UXReport        `json:"uxImpact,omitempty"`
	Anomalies       *models.AnomalyReport   `json:"anomalies,omitempty"`
	PerfPassRate    float64                 `json:"performanceBenchmarkPassRate"`
	Comparison      *models.Comparison      `json:"comparison,omitempty"`
	History         []models.HistoryEntry   `json:"history,omitempty"`
	Trend           string                  `json:"trend,omitempty"`
	WeakSpots       []recovery.WeakSpot     `json:"weakSpots,omitempty"`
	Patterns        []models.FailurePattern `json:"patterns,omitempty"`
	Recommendations []string                `json:"recommendations,omitempty"`
	GeneratedAt     time.Time               `json:"generatedAt"`
}

var tableBorder = lipgloss.NormalBorder()

// RenderReport produces the structured text report.
func RenderReport(in Input) string {
	var b strings.Builder
	s := in.Summary

	b.WriteString("Resilience Report\n=================\n")
	if s.RunID != "" {
		fmt.Fprintf(&b, "Run: %s\n", s.RunID)
	}
	if !in.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "Generated: %s\n", in.GeneratedAt.UTC().Format(time.RFC3339))
	}
	b.WriteString("\n")

	if s.ResilienceScore != nil {
		fmt.Fprintf(&b, "Score: %d/100 (%s)\n", *s.ResilienceScore, s.ResilienceRating)
	} else {
		b.WriteString("Score: n/a\n")
	}
	fmt.Fprintf(&b, "Recovery rate: %s (%d/%d passed)\n", pct(s.RecoverySuccessRate), s.PassedTests, s.TotalTests)
	fmt.Fprintf(&b, "Average recovery time: %s (p95 %s)\n", ms(s.AverageRecoveryTime), ms(s.P95RecoveryTime))
	fmt.Fprintf(&b, "Performance benchmark pass rate: %s\n", pct(in.PerfPassRate))
	if s.DeferredTests > 0 || s.SkippedInjections > 0 {
		fmt.Fprintf(&b, "Deferred tests: %d, control tests without injection: %d\n", s.DeferredTests, s.SkippedInjections)
	}

	section(&b, "Per component", breakdownTable("Component", s.TestsByComponent))
	section(&b, "Per failure type", breakdownTable("Failure type", s.TestsByFailureType))

	if in.UX != nil && len(in.UX.Impacts) > 0 {
		t := newTable("Severity", "Count")
		for sev := 0; sev <= models.MaxUXSeverity; sev++ {
			t.Row(strconv.Itoa(sev), strconv.Itoa(in.UX.Histogram[sev]))
		}
		body := fmt.Sprintf("Average severity: %.2f / %d, worst component: %s\n%s",
			in.UX.AvgSeverity, models.MaxUXSeverity, in.UX.WorstComponent, t.String())
		section(&b, "UX severity distribution", body)
	}

	if in.Anomalies != nil {
		body := fmt.Sprintf("%d anomalies over %d observed readings", len(in.Anomalies.Anomalies), in.Anomalies.Observed)
		if len(in.Anomalies.Anomalies) > 0 {
			t := newTable("Component", "Metric", "Observed", "Expected range", "Score")
			for _, a := range in.Anomalies.Anomalies {
				t.Row(a.Component, a.Metric, fmt.Sprintf("%.3f", a.ObservedValue),
					fmt.Sprintf("%.3f .. %.3f", a.ExpectedRange.Min, a.ExpectedRange.Max), fmt.Sprintf("%.2f", a.Score))
			}
			body += "\n" + t.String()
		}
		section(&b, "Anomalies", body)
	}

	if in.Comparison != nil && in.Comparison.HasPrior && in.Comparison.Previous != nil {
		prev := in.Comparison.Previous
		cur := currentOf(in)
		t := newTable("Metric", "Previous", "Current", "Delta")
		t.Row("Score", strconv.Itoa(prev.ResilienceScore), strconv.Itoa(cur.ResilienceScore), fmt.Sprintf("%+d", in.Comparison.ScoreDelta))
		t.Row("Recovery rate", pct(prev.RecoverySuccessRate), pct(cur.RecoverySuccessRate), fmt.Sprintf("%+.1f pp", in.Comparison.RecoveryRateDeltaPct))
		t.Row("UX severity", fmt.Sprintf("%.2f", prev.AvgUXSeverity), fmt.Sprintf("%.2f", cur.AvgUXSeverity), fmt.Sprintf("%+.2f", in.Comparison.UXSeverityDelta))
		t.Row("Anomalies", strconv.Itoa(prev.AnomalyCount), strconv.Itoa(cur.AnomalyCount), fmt.Sprintf("%+d", in.Comparison.AnomalyDelta))
		body := t.String()
		if in.Trend != "" {
			body = "Trend: " + in.Trend + "\n" + body
		}
		section(&b, "Trend", body)
	}

	if len(in.WeakSpots) > 0 {
		t := newTable("Component", "Recovery rate", "Cataloged")
		for _, w := range in.WeakSpots {
			t.Row(w.Component, pct(w.RecoveryRate), strconv.FormatBool(w.Cataloged))
		}
		section(&b, "Weak spots (no fallback)", t.String())
	}

	if len(in.Patterns) > 0 {
		t := newTable("Root", "Occurrences", "Blast radius", "Failure rate", "Affects")
		for _, p := range in.Patterns {
			t.Row(p.Root, strconv.Itoa(p.Occurrences), fmt.Sprintf("%.1f", p.AvgBlastRadius), pct(p.FailureRate), strings.Join(p.AffectedComponents, ", "))
		}
		section(&b, "Cascade hotspots", t.String())
	}

	if len(in.Recommendations) > 0 {
		var lines strings.Builder
		for _, r := range in.Recommendations {
			fmt.Fprintf(&lines, "- %s\n", r)
		}
		section(&b, "Recommendations", strings.TrimRight(lines.String(), "\n"))
	}

	if len(s.Missing) > 0 {
		section(&b, "Missing data", "Not available for this run: "+strings.Join(s.Missing, ", "))
	}
	return b.String()
}

// RenderJSON produces the machine-readable report.
func RenderJSON(in Input) ([]byte, error) {
	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return data, nil
}

func currentOf(in Input) models.HistoryEntry {
	if n := len(in.History); n > 0 {
		return in.History[n-1]
	}
	cur := models.HistoryEntry{RecoverySuccessRate: in.Summary.RecoverySuccessRate}
	if in.Summary.ResilienceScore != nil {
		cur.ResilienceScore = *in.Summary.ResilienceScore
	}
	if in.UX != nil {
		cur.AvgUXSeverity = in.UX.AvgSeverity
	}
	if in.Anomalies != nil {
		cur.AnomalyCount = len(in.Anomalies.Anomalies)
	}
	return cur
}

func breakdownTable(label string, rows map[string]models.Breakdown) string {
	if len(rows) == 0 {
		return "no tests"
	}
	names := make([]string, 0, len(rows))
	for name := range rows {
		names = append(names, name)
	}
	sort.Strings(names)

	t := newTable(label, "Total", "Passed", "Failed", "Recovery")
	for _, name := range names {
		r := rows[name]
		t.Row(name, strconv.Itoa(r.Total), strconv.Itoa(r.Passed), strconv.Itoa(r.Failed), pct(r.RecoveryRate()))
	}
	return t.String()
}

func newTable(headers ...string) *table.Table {
	return table.New().Border(tableBorder).Headers(headers...)
}

func section(b *strings.Builder, title, body string) {
	b.WriteString("\n")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("-", len(title)))
	b.WriteString("\n")
	b.WriteString(body)
	b.WriteString("\n")
}

func pct(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func ms(v float64) string {
	if v <= 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.0fms", v)
}
