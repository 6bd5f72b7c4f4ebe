package blobstore

import (
	"context"
	"errors"
	"testing"

	"github.com/newthinker/stratsync/internal/core"
	"github.com/newthinker/stratsync/internal/storage/blob"
	"github.com/newthinker/stratsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	b, err := blob.NewLocalFS(t.TempDir())
	require.NoError(t, err)
	return New(b)
}

func TestStore_CreateListUpdate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, store.EntityStrategy, store.Record{"id": "s1", "combination_name": "Alpha"})
	require.NoError(t, err)
	_, err = s.Create(ctx, store.EntityStrategy, store.Record{"id": "s2", "combination_name": "Beta"})
	require.NoError(t, err)
	generated, err := s.Create(ctx, store.EntityTrade, store.Record{"strategy_name": "Alpha"})
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID())

	recs, err := s.List(ctx, store.EntityStrategy, store.Query{Filter: map[string]any{"combination_name": "Beta"}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "s2", recs[0].ID())

	rec, err := s.Update(ctx, store.EntityStrategy, "s1", store.Patch{"live_trade_count": 4, "live_avg_conviction_score": nil})
	require.NoError(t, err)
	assert.Equal(t, 4, rec["live_trade_count"])

	recs, err = s.List(ctx, store.EntityStrategy, store.Query{Sort: "combination_name"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, float64(4), recs[0]["live_trade_count"])
	assert.Contains(t, recs[0], "live_avg_conviction_score")

	n, err := s.Count(ctx, store.EntityTrade)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_UpdateMissing(t *testing.T) {
	s := newStore(t)
	_, err := s.Update(context.Background(), store.EntityStrategy, "nope", store.Patch{"x": 1})
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, store.KindRejected, store.Classify(err))
}

func TestStore_BulkUpdate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, store.EntityStrategy, store.Record{"id": "s1"})
	require.NoError(t, err)

	res, err := s.BulkUpdate(ctx, store.EntityStrategy, []string{"s1", "s9"}, store.Patch{"opted_out": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, res.Succeeded)
	assert.Equal(t, []string{"s9"}, res.Failed)

	recs, err := s.List(ctx, store.EntityStrategy, store.Query{Filter: map[string]any{"opted_out": true}})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestStore_BulkUpdateCancelled(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.BulkUpdate(ctx, store.EntityStrategy, []string{"s1"}, store.Patch{})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestStore_MalformedObject(t *testing.T) {
	b, err := blob.NewLocalFS(t.TempDir())
	require.NoError(t, err)
	s := New(b)
	ctx := context.Background()
	require.NoError(t, b.Put(ctx, "Strategy/bad.json", []byte("{not json")))

	_, err = s.List(ctx, store.EntityStrategy, store.Query{})
	assert.ErrorIs(t, err, core.ErrMalformedRecord)
}
