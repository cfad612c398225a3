// Package patterns mines recurring cascade hotspots out of a run's cascades.
package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/miradorstack/mirador-resilience/internal/models"
)

// Store abstracts persistence for mined patterns.
type Store interface {
	StorePatterns(ctx context.Context, runID string, patterns []models.FailurePattern) error
}

// Miner aggregates cascades by root component.
type Miner struct {
	store  Store
	logger *slog.Logger
	// TopAffected caps the components listed per pattern.
	TopAffected int
}

// NewMiner constructs a Miner; store may be nil for dry runs.
func NewMiner(logger *slog.Logger, store Store) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{store: store, logger: logger, TopAffected: 5}
}

// Mine returns one pattern per root whose failures spread to at least one other component,
// most prevalent first. summary supplies the root's failure rate and may be empty.
func (m *Miner) Mine(ctx context.Context, runID string, cascades []models.FailureCascade, summary models.Summary) ([]models.FailurePattern, error) {
	if len(cascades) == 0 {
		return nil, nil
	}

	roots := make(map[string]*rootAggregate)
	for _, c := range cascades {
		agg, ok := roots[c.Root]
		if !ok {
			agg = &rootAggregate{affected: make(map[string]int)}
			roots[c.Root] = agg
		}
		agg.count++
		agg.effects += len(c.Effects)
		for _, e := range c.Effects {
			agg.affected[e]++
		}
		if c.Timestamp.After(agg.lastSeen) {
			agg.lastSeen = c.Timestamp
		}
	}

	patterns := make([]models.FailurePattern, 0, len(roots))
	for root, agg := range roots {
		if agg.effects == 0 {
			continue
		}
		failureRate := 0.0
		if b, ok := summary.TestsByComponent[root]; ok && b.Total > 0 {
			failureRate = 1 - b.RecoveryRate()
		}
		blast := float64(agg.effects) / float64(agg.count)
		patterns = append(patterns, models.FailurePattern{
			ID:                 "pattern-" + root,
			Name:               root + " hotspot",
			Root:               root,
			Description:        fmt.Sprintf("%s failures reached %.1f components on average", root, blast),
			Occurrences:        agg.count,
			Prevalence:         float64(agg.count) / float64(len(cascades)),
			AffectedComponents: agg.top(m.TopAffected),
			AvgBlastRadius:     blast,
			FailureRate:        failureRate,
			LastSeen:           agg.lastSeen,
		})
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Prevalence != patterns[j].Prevalence {
			return patterns[i].Prevalence > patterns[j].Prevalence
		}
		return patterns[i].Root < patterns[j].Root
	})

	if m.store != nil && len(patterns) > 0 {
		if err := m.store.StorePatterns(ctx, runID, patterns); err != nil {
			m.logger.Warn("pattern store failed", slog.Any("error", err))
		}
	}
	return patterns, nil
}

type rootAggregate struct {
	count    int
	effects  int
	lastSeen time.Time
	affected map[string]int
}

func (agg *rootAggregate) top(limit int) []string {
	names := make([]string, 0, len(agg.affected))
	for name := range agg.affected {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if agg.affected[names[i]] != agg.affected[names[j]] {
			return agg.affected[names[i]] > agg.affected[names[j]]
		}
		return names[i] < names[j]
	})
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	return names
}
