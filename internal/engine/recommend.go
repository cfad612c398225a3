package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/recovery"
)

// RuleEngine turns run findings into recommendations from a YAML rule file.
type RuleEngine struct {
	rules  []Rule
	logger *slog.Logger
}

// Rule represents a single recommendation rule.
type Rule struct {
	ID              string    `yaml:"id"`
	Match           RuleMatch `yaml:"match"`
	Recommendations []string  `yaml:"recommendations"`
}

// RuleMatch defines optional attributes for rule matching; every set attribute must match.
type RuleMatch struct {
	Component   string `yaml:"component"`
	FailureType string `yaml:"failure_type"`
	Rating      string `yaml:"rating"`
	// WeakSpot requires Component (or any component when empty) to be a weak spot.
	WeakSpot bool `yaml:"weak_spot"`
	// Hotspot requires Component (or any component when empty) to root a failure pattern.
	Hotspot bool `yaml:"hotspot"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// Findings is what rules are matched against.
type Findings struct {
	Summary   models.Summary
	Rating    string
	WeakSpots []recovery.WeakSpot
	Patterns  []models.FailurePattern
	Coupling  CouplingResult
}

// NewRuleEngine loads rules from the provided path. A missing file or empty path yields an engine with only
// built-in recommendations.
func NewRuleEngine(path string, logger *slog.Logger) (*RuleEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	engine := &RuleEngine{logger: logger}
	if path == "" {
		return engine, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("rules file not found, using built-in recommendations", slog.String("path", path))
			return engine, nil
		}
		return nil, err
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	engine.rules = cfg.Rules
	return engine, nil
}

// Rules returns the number of loaded rules.
func (e *RuleEngine) Rules() int {
	if e == nil {
		return 0
	}
	return len(e.rules)
}

// Recommend produces built-in recommendations followed by matched rule recommendations, without duplicates.
func (e *RuleEngine) Recommend(f Findings) []string {
	matched := builtin(f)
	if e == nil {
		return matched
	}

	for _, rule := range e.rules {
		if rule.Match.Component != "" && !componentTested(rule.Match.Component, f.Summary) {
			continue
		}
		if rule.Match.FailureType != "" && !failureTypeFailed(rule.Match.FailureType, f.Summary) {
			continue
		}
		if rule.Match.Rating != "" && !strings.EqualFold(rule.Match.Rating, f.Rating) {
			continue
		}
		if rule.Match.WeakSpot && !isWeakSpot(rule.Match.Component, f.WeakSpots) {
			continue
		}
		if rule.Match.Hotspot && !isHotspot(rule.Match.Component, f.Patterns) {
			continue
		}
		e.logger.Debug("recommendation rule matched", slog.String("rule", rule.ID))
		matched = appendUnique(matched, rule.Recommendations...)
	}
	return matched
}

func builtin(f Findings) []string {
	out := make([]string, 0)
	for _, w := range f.WeakSpots {
		if w.Cataloged {
			out = appendUnique(out, fmt.Sprintf("Add a fallback strategy for %s (recovery rate %.0f%%)", w.Component, w.RecoveryRate*100))
		} else {
			out = appendUnique(out, fmt.Sprintf("Catalog a recovery path for %s (recovery rate %.0f%%)", w.Component, w.RecoveryRate*100))
		}
	}
	for _, p := range f.Patterns {
		if len(p.AffectedComponents) == 0 {
			continue
		}
		out = appendUnique(out, fmt.Sprintf("Isolate %s from %s with a circuit breaker or cache", strings.Join(p.AffectedComponents, ", "), p.Root))
	}
	for _, c := range f.Coupling.Undeclared() {
		out = appendUnique(out, fmt.Sprintf("Investigate undeclared coupling: %s degrades when %s fails", c.Component, c.Root))
	}
	types := make([]string, 0, len(f.Summary.TestsByFailureType))
	for ft := range f.Summary.TestsByFailureType {
		types = append(types, ft)
	}
	sort.Strings(types)
	for _, ft := range types {
		if ft == models.FailureInfrastructure {
			out = appendUnique(out, "Fix harness infrastructure errors before trusting this score")
		}
	}
	return out
}

func componentTested(component string, summary models.Summary) bool {
	for name, b := range summary.TestsByComponent {
		if strings.EqualFold(component, name) && b.Total > 0 {
			return true
		}
	}
	return false
}

func failureTypeFailed(failureType string, summary models.Summary) bool {
	for name, b := range summary.TestsByFailureType {
		if strings.EqualFold(failureType, name) && b.Failed > 0 {
			return true
		}
	}
	return false
}

func isWeakSpot(component string, spots []recovery.WeakSpot) bool {
	for _, w := range spots {
		if component == "" || strings.EqualFold(component, w.Component) {
			return true
		}
	}
	return false
}

func isHotspot(component string, patterns []models.FailurePattern) bool {
	for _, p := range patterns {
		if component == "" || strings.EqualFold(component, p.Root) {
			return true
		}
	}
	return false
}

func appendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		seen[rec] = struct{}{}
	}
	for _, item := range additions {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		existing = append(existing, item)
		seen[item] = struct{}{}
	}
	return existing
}
