// Package history keeps the append-only log of run scores and compares each run against the previous one.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/store"
)

// ErrOutOfOrder is returned when an entry is older than the latest recorded one.
var ErrOutOfOrder = errors.New("history entry older than latest")

// ErrUnreadable is returned by Open when the history record exists but cannot be read or decoded.
var ErrUnreadable = errors.New("history record unreadable")

// Trend directions.
const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendSteady    = "steady"
	TrendUnknown   = "unknown"
)

// Tracker is the in-memory view of the history log.
type Tracker struct {
	mu      sync.RWMutex
	entries []models.HistoryEntry
	logger  *slog.Logger
}

// NewTracker creates a tracker seeded with entries (assumed chronological).
func NewTracker(logger *slog.Logger, entries ...models.HistoryEntry) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{entries: append([]models.HistoryEntry(nil), entries...), logger: logger}
}

// Append adds entry at the end of the log.
func (t *Tracker) Append(entry models.HistoryEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.entries); n > 0 && entry.Timestamp.Before(t.entries[n-1].Timestamp) {
		return fmt.Errorf("append %s: %w", entry.Timestamp.Format("2006-01-02T15:04:05Z07:00"), ErrOutOfOrder)
	}
	t.entries = append(t.entries, entry)
	return nil
}

// Latest returns the most recent entry, if any.
func (t *Tracker) Latest() (models.HistoryEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.entries) == 0 {
		return models.HistoryEntry{}, false
	}
	return t.entries[len(t.entries)-1], true
}

// CompareToLatest diffs entry against the most recent prior entry.
// With an empty history the result has HasPrior=false and zero deltas.
func (t *Tracker) CompareToLatest(entry models.HistoryEntry) models.Comparison {
	prev, ok := t.Latest()
	if !ok {
		return models.Comparison{}
	}
	return Compare(prev, entry)
}

// Compare computes plain signed deltas of current over prev. Rate deltas are in percentage points.
func Compare(prev, current models.HistoryEntry) models.Comparison {
	p := prev
	return models.Comparison{
		HasPrior:             true,
		Previous:             &p,
		ScoreDelta:           current.ResilienceScore - prev.ResilienceScore,
		RecoveryRateDeltaPct: (current.RecoverySuccessRate - prev.RecoverySuccessRate) * 100,
		UXSeverityDelta:      current.AvgUXSeverity - prev.AvgUXSeverity,
		PerfPassRateDeltaPct: (current.PerformanceBenchmarkPassRate - prev.PerformanceBenchmarkPassRate) * 100,
		AnomalyDelta:         current.AnomalyCount - prev.AnomalyCount,
	}
}

// Entries returns a copy of the log in chronological order.
func (t *Tracker) Entries() []models.HistoryEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]models.HistoryEntry(nil), t.entries...)
}

// Len returns the number of entries.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Trend classifies the score movement between the last two entries.
func (t *Tracker) Trend() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := len(t.entries)
	if n < 2 {
		return TrendUnknown
	}
	switch delta := t.entries[n-1].ResilienceScore - t.entries[n-2].ResilienceScore; {
	case delta > 0:
		return TrendImproving
	case delta < 0:
		return TrendDeclining
	default:
		return TrendSteady
	}
}

// Open reads the history record for appending. Only an absent record starts an empty log; a record that
// cannot be read or decoded returns ErrUnreadable and must not be overwritten.
func Open(ctx context.Context, s store.Store, logger *slog.Logger) (*Tracker, error) {
	if s == nil {
		return NewTracker(logger), nil
	}
	entries, err := store.DecodeJSON[[]models.HistoryEntry](ctx, s, store.RecordHistory)
	switch {
	case err == nil:
		return NewTracker(logger, entries...), nil
	case errors.Is(err, store.ErrNotFound):
		return NewTracker(logger), nil
	default:
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
}

// Load reads the history record for display. An absent, unreadable or malformed record yields an empty tracker.
func Load(ctx context.Context, s store.Store, logger *slog.Logger) *Tracker {
	entries, _ := store.LoadJSON[[]models.HistoryEntry](ctx, s, store.RecordHistory, logger)
	return NewTracker(logger, entries...)
}

// Save writes the full log back to the history record.
func (t *Tracker) Save(ctx context.Context, s store.Store) error {
	entries := t.Entries()
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	if err := store.SaveJSON(ctx, s, store.RecordHistory, entries); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	t.logger.Debug("history saved", slog.Int("entries", len(entries)))
	return nil
}
