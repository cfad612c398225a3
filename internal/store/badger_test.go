package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBadgerStoreRoundTrip(t *testing.T) {
	s, err := OpenBadgerStore(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	_, err = s.Read(ctx, RecordCascadeMap)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Write(ctx, RecordCascadeMap, []byte(`{"a":1}`)))
	got, err := s.Read(ctx, RecordCascadeMap)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(got))
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenBadgerStore(BadgerConfig{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, RecordHistory, []byte("[]")))
	require.NoError(t, s.Close())

	reopened, err := OpenBadgerStore(BadgerConfig{Path: dir})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Read(ctx, RecordHistory)
	require.NoError(t, err)
	require.Equal(t, "[]", string(got))
}

func TestOpenBadgerRequiresPath(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	require.Error(t, err)
}
