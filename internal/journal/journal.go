// Package journal is the durable, append-only log of raw harness outcomes.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/miradorstack/mirador-resilience/internal/models"
)

const keyPrefix = "journal/"

// BadgerJournal appends outcomes under journal/<runID>/<seq>.
type BadgerJournal struct {
	db    *badger.DB
	owned bool
	seq   atomic.Uint64
}

// New wraps a DB owned by the caller.
func New(db *badger.DB) (*BadgerJournal, error) {
	if db == nil {
		return nil, errors.New("journal requires a database")
	}
	j := &BadgerJournal{db: db}
	if err := j.resumeSequence(); err != nil {
		return nil, err
	}
	return j, nil
}

// NewOwned is New, but Close also closes db.
func NewOwned(db *badger.DB) (*BadgerJournal, error) {
	j, err := New(db)
	if err != nil {
		return nil, err
	}
	j.owned = true
	return j, nil
}

// Append persists one raw outcome.
func (j *BadgerJournal) Append(ctx context.Context, outcome models.TestOutcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runID := outcome.RunID
	if runID == "" {
		runID = "adhoc"
	}
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	key := fmt.Sprintf("%s%s/%020d", keyPrefix, runID, j.seq.Add(1))
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// Outcomes returns a run's outcomes in append order.
func (j *BadgerJournal) Outcomes(ctx context.Context, runID string) ([]models.TestOutcome, error) {
	prefix := []byte(keyPrefix + runID + "/")
	out := make([]models.TestOutcome, 0)
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var outcome models.TestOutcome
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &outcome)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, outcome)
		}
		return nil
	})
	return out, err
}

// Runs lists the run ids present in the journal.
func (j *BadgerJournal) Runs(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			rest := strings.TrimPrefix(string(it.Item().Key()), keyPrefix)
			if idx := strings.IndexByte(rest, '/'); idx > 0 {
				seen[rest[:idx]] = struct{}{}
			}
		}
		return nil
	})
	runs := make([]string, 0, len(seen))
	for id := range seen {
		runs = append(runs, id)
	}
	sort.Strings(runs)
	return runs, err
}

// Close closes the DB when the journal owns it.
func (j *BadgerJournal) Close() error {
	if j.owned {
		return j.db.Close()
	}
	return nil
}

// resumeSequence continues numbering after the highest persisted key so reopened journals keep order.
func (j *BadgerJournal) resumeSequence() error {
	var max uint64
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			idx := strings.LastIndexByte(key, '/')
			var n uint64
			if _, err := fmt.Sscanf(key[idx+1:], "%d", &n); err == nil && n > max {
				max = n
			}
		}
		return nil
	})
	j.seq.Store(max)
	return err
}
