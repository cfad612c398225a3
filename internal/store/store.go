// Package store persists named records (summary, history, cascade map, ...) as opaque blobs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Record names written by the engine.
const (
	RecordSummary       = "summary"
	RecordUXImpact      = "ux-impact"
	RecordAnomalies     = "anomalies"
	RecordCascadeMap    = "cascade-map"
	RecordRecoveryPaths = "recovery-paths"
	RecordHistory       = "history"
	RecordPatterns      = "patterns"
)

// ErrNotFound signals that a named record does not exist yet.
var ErrNotFound = errors.New("record not found")

// ErrMalformed signals that a named record exists but does not decode.
var ErrMalformed = errors.New("malformed record")

// Store reads and writes named records.
type Store interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
	Close() error
}

// DecodeJSON reads and decodes the named record. Absent records yield ErrNotFound and undecodable
// ones ErrMalformed; any other error is a failed read.
func DecodeJSON[T any](ctx context.Context, s Store, name string) (T, error) {
	var out T
	if s == nil {
		return out, fmt.Errorf("load %s: store not configured", name)
	}
	data, err := s.Read(ctx, name)
	if err != nil {
		return out, fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		var zero T
		return zero, fmt.Errorf("%w %s: %v", ErrMalformed, name, err)
	}
	return out, nil
}

// LoadJSON decodes the named record into a T. Absent, unreadable or malformed records are logged
// and reported as (zero, false) so read-only callers can proceed with an empty default.
func LoadJSON[T any](ctx context.Context, s Store, name string, logger *slog.Logger) (T, bool) {
	var zero T
	if logger == nil {
		logger = slog.Default()
	}
	if s == nil {
		return zero, false
	}

	out, err := DecodeJSON[T](ctx, s, name)
	switch {
	case err == nil:
		return out, true
	case errors.Is(err, ErrNotFound):
		logger.Debug("record absent, using empty default", slog.String("record", name))
	case errors.Is(err, ErrMalformed):
		logger.Warn("malformed record, using empty default", slog.String("record", name), slog.Any("error", err))
	default:
		logger.Warn("record read failed, using empty default", slog.String("record", name), slog.Any("error", err))
	}
	return zero, false
}

// SaveJSON encodes v and writes it under name.
func SaveJSON(ctx context.Context, s Store, name string, v any) error {
	if s == nil {
		return fmt.Errorf("save %s: store not configured", name)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := s.Write(ctx, name, data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("record name is required")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid record name %q", name)
	}
	return nil
}
