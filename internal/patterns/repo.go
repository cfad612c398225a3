package patterns

import (
	"context"

	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/store"
)

// StoreFunc adapts a function to the Store interface.
type StoreFunc func(ctx context.Context, runID string, patterns []models.FailurePattern) error

// StorePatterns implements Store.
func (f StoreFunc) StorePatterns(ctx context.Context, runID string, patterns []models.FailurePattern) error {
	return f(ctx, runID, patterns)
}

// RecordStore writes mined patterns to the patterns record of s.
func RecordStore(s store.Store) Store {
	return StoreFunc(func(ctx context.Context, _ string, patterns []models.FailurePattern) error {
		return store.SaveJSON(ctx, s, store.RecordPatterns, patterns)
	})
}
