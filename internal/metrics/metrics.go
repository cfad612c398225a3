package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Test outcome labels.
const (
	OutcomePassed   = "passed"
	OutcomeFailed   = "failed"
	OutcomeDeferred = "deferred"
	OutcomeSkipped  = "skipped"
)

// Run outcome labels.
const (
	// RunSuccess labels runs that produced a summary.
	RunSuccess = "success"
	// RunError labels runs that produced nothing usable.
	RunError = "error"
)

var (
	testsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_resilience",
			Name:      "tests_total",
			Help:      "Total number of fault-injection tests, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	recoverySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_resilience",
			Name:      "recovery_seconds",
			Help:      "Time from fault injection to detected recovery, for recovered tests.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	activeFaults = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_resilience",
			Name:      "active_faults",
			Help:      "Faults currently injected across all harnesses.",
		},
	)

	resilienceScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_resilience",
			Name:      "score",
			Help:      "Composite resilience score of the latest run.",
		},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_resilience",
			Name:      "anomalies_total",
			Help:      "Telemetry anomalies detected, partitioned by metric.",
		},
		[]string{"metric"},
	)

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_resilience",
			Name:      "runs_total",
			Help:      "Total number of resilience runs, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	runDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_resilience",
			Name:      "run_seconds",
			Help:      "Resilience run latency in seconds.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)
)

// Register attaches mirador-resilience collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		testsTotal,
		recoverySeconds,
		activeFaults,
		resilienceScore,
		anomaliesTotal,
		runsTotal,
		runDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveTest records one test outcome and, when recovered, its recovery time.
func ObserveTest(outcome string, recovery time.Duration) {
	testsTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomePassed && recovery >= 0 {
		recoverySeconds.Observe(recovery.Seconds())
	}
}

// FaultInjected increments the active fault gauge.
func FaultInjected() { activeFaults.Inc() }

// FaultCleared decrements the active fault gauge.
func FaultCleared() { activeFaults.Dec() }

// ObserveAnomalies counts detected anomalies for metric.
func ObserveAnomalies(metric string, n int) {
	if n > 0 {
		anomaliesTotal.WithLabelValues(metric).Add(float64(n))
	}
}

// SetScore publishes the latest resilience score.
func SetScore(score int) {
	resilienceScore.Set(float64(score))
}

// ObserveRun records a run duration and outcome label.
func ObserveRun(duration time.Duration, outcome string) {
	label := outcome
	if label != RunError {
		label = RunSuccess
	}
	runsTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	runDurationSeconds.Observe(duration.Seconds())
}
