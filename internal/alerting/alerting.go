// Package alerting decides whether a scored run warrants an alert and hands it to injected hooks.
// Delivery (chat, email, paging) belongs to the hooks.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/miradorstack/mirador-resilience/internal/models"
)

// Alert severities.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// Config configures the evaluator.
type Config struct {
	// CriticalThreshold fires a critical alert when the score is strictly below it. Zero disables it.
	CriticalThreshold int
	// Condition is an optional expr-lang boolean over the run, e.g. `scoreDelta <= -10 && hasPrior`.
	Condition string
}

// Input is what the evaluator sees of a finished run.
type Input struct {
	RunID         string
	Score         int
	Rating        string
	RecoveryRate  float64
	AvgUXSeverity float64
	PerfPassRate  float64
	Anomalies     int
	WeakSpots     int
	Comparison    models.Comparison
}

// Alert is handed to every hook.
type Alert struct {
	RunID     string    `json:"runId,omitempty"`
	Severity  string    `json:"severity"`
	Score     int       `json:"score"`
	Rating    string    `json:"rating"`
	Reasons   []string  `json:"reasons"`
	Timestamp time.Time `json:"timestamp"`
}

// Hook receives fired alerts.
type Hook func(ctx context.Context, alert Alert) error

// Evaluator checks runs against the threshold and condition.
type Evaluator struct {
	cfg     Config
	program *vm.Program
	hooks   []Hook
	logger  *slog.Logger
}

// NewEvaluator compiles the condition, if any.
func NewEvaluator(cfg Config, logger *slog.Logger, hooks ...Hook) (*Evaluator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Evaluator{cfg: cfg, hooks: hooks, logger: logger}
	if cond := strings.TrimSpace(cfg.Condition); cond != "" {
		program, err := expr.Compile(cond, expr.Env(env(Input{})), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile alert condition %q: %w", cond, err)
		}
		e.program = program
	}
	return e, nil
}

// AddHook registers another hook.
func (e *Evaluator) AddHook(h Hook) {
	if h != nil {
		e.hooks = append(e.hooks, h)
	}
}

// Evaluate returns the alert and true when the run crosses the threshold or matches the condition.
// Hooks run in registration order; their errors are logged and never returned.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (Alert, bool) {
	reasons := make([]string, 0, 2)
	severity := ""

	if e.cfg.CriticalThreshold > 0 && in.Score < e.cfg.CriticalThreshold {
		severity = SeverityCritical
		reasons = append(reasons, fmt.Sprintf("score %d below critical threshold %d", in.Score, e.cfg.CriticalThreshold))
	}
	if e.program != nil {
		out, err := expr.Run(e.program, env(in))
		switch {
		case err != nil:
			e.logger.Warn("alert condition evaluation failed", slog.String("condition", e.cfg.Condition), slog.Any("error", err))
		case out == true:
			if severity == "" {
				severity = SeverityWarning
			}
			reasons = append(reasons, fmt.Sprintf("condition matched: %s", e.cfg.Condition))
		}
	}
	if severity == "" {
		return Alert{}, false
	}

	alert := Alert{
		RunID:     in.RunID,
		Severity:  severity,
		Score:     in.Score,
		Rating:    in.Rating,
		Reasons:   reasons,
		Timestamp: time.Now().UTC(),
	}
	for _, h := range e.hooks {
		if err := h(ctx, alert); err != nil {
			e.logger.Warn("alert hook failed", slog.String("run_id", in.RunID), slog.Any("error", err))
		}
	}
	return alert, true
}

// LogHook logs alerts at warn level.
func LogHook(logger *slog.Logger) Hook {
	if logger == nil {
		logger = slog.Default()
	}
	return func(_ context.Context, a Alert) error {
		logger.Warn("resilience alert",
			slog.String("run_id", a.RunID),
			slog.String("severity", a.Severity),
			slog.Int("score", a.Score),
			slog.String("rating", a.Rating),
			slog.String("reasons", strings.Join(a.Reasons, "; ")),
		)
		return nil
	}
}

func env(in Input) map[string]any {
	return map[string]any{
		"score":        in.Score,
		"rating":       in.Rating,
		"recoveryRate": in.RecoveryRate,
		"avgUX":        in.AvgUXSeverity,
		"perfPassRate": in.PerfPassRate,
		"anomalies":    in.Anomalies,
		"weakSpots":    in.WeakSpots,
		"hasPrior":     in.Comparison.HasPrior,
		"scoreDelta":   in.Comparison.ScoreDelta,
		"uxDelta":      in.Comparison.UXSeverityDelta,
	}
}
