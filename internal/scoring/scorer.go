// Package scoring reduces a run into the composite resilience score.
//
// Weights and tier boundaries are fixed so scores stay comparable across runs.
package scoring

import (
	"math"
	"sort"

	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

// Rating is the tier a score falls into.
type Rating string

// Rating tiers, inclusive lower bounds.
const (
	RatingPlatinum  Rating = "Platinum"
	RatingStrong    Rating = "Strong"
	RatingStable    Rating = "Stable"
	RatingNeedsWork Rating = "Needs Work"
)

const (
	weightRecovery    = 0.4
	weightUX          = 0.3
	weightPerformance = 0.3
)

// Score combines recovery rate, average UX severity and performance pass rate into 0-100 and a tier.
// Inputs are clamped to their domains and NaN is treated as zero.
func Score(recoveryRate, avgUXSeverity, perfPassRate float64) (int, Rating) {
	rr := utils.Clamp(finite(recoveryRate), 0, 1)
	ux := utils.Clamp(finite(avgUXSeverity), 0, models.MaxUXSeverity)
	perf := utils.Clamp(finite(perfPassRate), 0, 1)

	raw := 100 * (weightRecovery*rr + weightUX*(1-ux/models.MaxUXSeverity) + weightPerformance*perf)
	// Nudge before rounding so values like 81.49999999 produced by float error round as written.
	score := int(math.Round(raw + 1e-9))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, RatingFor(score)
}

// RatingFor maps a score to its tier.
func RatingFor(score int) Rating {
	switch {
	case score >= 90:
		return RatingPlatinum
	case score >= 80:
		return RatingStrong
	case score >= 70:
		return RatingStable
	default:
		return RatingNeedsWork
	}
}

// PerformanceBenchmarkPassRate is max(0, min(1, 1 - anomalies/observed)), or 0 when nothing was observed.
func PerformanceBenchmarkPassRate(anomalies, observed int) float64 {
	if observed <= 0 {
		return 0
	}
	return utils.Clamp(1-float64(anomalies)/float64(observed), 0, 1)
}

// Apply fills summary's score fields and returns the performance pass rate that was used.
// A summary in which no test executed scores 0.
func Apply(summary *models.Summary, ux models.UXReport, anomalies, observed int) float64 {
	perf := PerformanceBenchmarkPassRate(anomalies, observed)
	if Executed(*summary) == 0 {
		score := 0
		summary.ResilienceScore = &score
		summary.ResilienceRating = string(RatingFor(score))
		return perf
	}
	score, rating := Score(summary.RecoverySuccessRate, ux.AvgSeverity, perf)
	summary.ResilienceScore = &score
	summary.ResilienceRating = string(rating)
	return perf
}

// Executed counts the tests that actually ran: deferred tests that were abandoned did not.
func Executed(summary models.Summary) int {
	if n := summary.TotalTests - summary.DeferredTests; n > 0 {
		return n
	}
	return 0
}

// AggregateUX computes the average severity, the component with the highest mean severity, and the severity histogram.
// Severities outside [0,5] are clamped.
func AggregateUX(impacts []models.UXImpact) models.UXReport {
	report := models.UXReport{
		Impacts:   append([]models.UXImpact(nil), impacts...),
		Histogram: make(map[int]int),
	}
	if len(impacts) == 0 {
		return report
	}

	type acc struct {
		sum   int
		count int
	}
	perComponent := make(map[string]*acc)
	total := 0
	for i := range report.Impacts {
		sev := report.Impacts[i].Severity
		if sev < 0 {
			sev = 0
		}
		if sev > models.MaxUXSeverity {
			sev = models.MaxUXSeverity
		}
		report.Impacts[i].Severity = sev
		total += sev
		report.Histogram[sev]++

		a, ok := perComponent[report.Impacts[i].Component]
		if !ok {
			a = &acc{}
			perComponent[report.Impacts[i].Component] = a
		}
		a.sum += sev
		a.count++
	}
	report.AvgSeverity = float64(total) / float64(len(impacts))

	names := make([]string, 0, len(perComponent))
	for name := range perComponent {
		names = append(names, name)
	}
	sort.Strings(names)
	worst := -1.0
	for _, name := range names {
		a := perComponent[name]
		m := float64(a.sum) / float64(a.count)
		if m > worst {
			worst = m
			report.WorstComponent = name
		}
	}
	return report
}

// SeverityFromDegradation grades a degradation on the 0-5 UX scale.
// Error-rate increases dominate; latency contributes when the slower timing ratio passes 1.5x.
func SeverityFromDegradation(d models.Degradation) int {
	sev := 0
	switch {
	case d.ErrorRateDelta >= 0.5:
		sev = 4
	case d.ErrorRateDelta >= 0.2:
		sev = 3
	case d.ErrorRateDelta >= 0.05:
		sev = 2
	case d.ErrorRateDelta > 0:
		sev = 1
	}

	ratio := math.Max(d.ResponseTimeRatio, d.RenderTimeRatio)
	latency := 0
	switch {
	case ratio >= 5:
		latency = 4
	case ratio >= 3:
		latency = 3
	case ratio >= 2:
		latency = 2
	case ratio >= 1.5:
		latency = 1
	}
	if latency > sev {
		sev = latency
	}
	if sev >= 3 && d.ErrorRateDelta >= 0.2 && ratio >= 3 {
		sev = models.MaxUXSeverity
	}
	return sev
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
