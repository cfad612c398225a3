package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/miradorstack/mirador-resilience/internal/utils"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "records"))
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}

	if _, err := s.Read(ctx, RecordSummary); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := SaveJSON(ctx, s, RecordSummary, record{Name: "checkout", Count: 3}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok := LoadJSON[record](ctx, s, RecordSummary, utils.DiscardLogger())
	if !ok {
		t.Fatalf("expected record to load")
	}
	if got.Name != "checkout" || got.Count != 3 {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestLoadJSONMalformedRecordYieldsDefault(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, RecordHistory+".json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt record: %v", err)
	}

	got, ok := LoadJSON[[]record](ctx, s, RecordHistory, utils.DiscardLogger())
	if ok {
		t.Fatalf("expected malformed record to be rejected")
	}
	if len(got) != 0 {
		t.Fatalf("expected empty default, got %+v", got)
	}
}

func TestLoadJSONNilStore(t *testing.T) {
	if _, ok := LoadJSON[record](context.Background(), nil, RecordSummary, nil); ok {
		t.Fatalf("expected nil store to report absent")
	}
}

func TestRecordNameValidation(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Write(context.Background(), "../escape", []byte("x")); err == nil {
		t.Fatalf("expected invalid name to be rejected")
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	payload := []byte("abc")
	if err := s.Write(ctx, "k", payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	payload[0] = 'z'
	got, err := s.Read(ctx, "k")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "abc" {
		t.Fatalf("expected stored copy to be isolated, got %q", got)
	}
}
