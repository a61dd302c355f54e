package redisstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goliatone/go-cells/pkg/state"
	"github.com/goliatone/go-cells/pkg/state/redisstore"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ref = state.Ref{Domain: "pricing", Scope: "trial"}

func setup(t *testing.T, opts ...redisstore.Option) (*miniredis.Miniredis, *redisstore.Store[state.Snapshot]) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := redisstore.NewFromClient[state.Snapshot](client, opts...)
	t.Cleanup(func() { _ = store.Close() })
	return mr, store
}

func TestStoreRoundTripKeepsIntegers(t *testing.T) {
	mr, store := setup(t)
	ctx := context.Background()

	_, _, ok, err := store.Load(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok)

	meta, err := store.Save(ctx, ref, state.Snapshot{"seats": 4, "ratio": 0.5, "plan": "pro"}, state.Meta{})
	require.NoError(t, err)
	assert.NotEmpty(t, meta.ETag)
	assert.NotEmpty(t, meta.SnapshotID)
	assert.True(t, mr.Exists("cells:snapshot:pricing/trial"))

	snapshot, loaded, ok, err := store.Load(ctx, ref)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, state.Snapshot{"seats": 4, "ratio": 0.5, "plan": "pro"}, snapshot)
	assert.Equal(t, meta.ETag, loaded.ETag)
	assert.Equal(t, meta.SnapshotID, loaded.SnapshotID)
}

func TestStoreRejectsStaleETag(t *testing.T) {
	_, store := setup(t)
	ctx := context.Background()

	first, err := store.Save(ctx, ref, state.Snapshot{"seats": 1}, state.Meta{})
	require.NoError(t, err)
	_, err = store.Save(ctx, ref, state.Snapshot{"seats": 2}, state.Meta{ETag: first.ETag})
	require.NoError(t, err)

	_, err = store.Save(ctx, ref, state.Snapshot{"seats": 3}, state.Meta{ETag: first.ETag})
	require.True(t, errors.Is(err, state.ErrETagMismatch), "got %v", err)

	snapshot, _, _, err := store.Load(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 2, snapshot["seats"])
}

func TestStoreOptions(t *testing.T) {
	mr, store := setup(t, redisstore.WithPrefix("test:"), redisstore.WithTTL(time.Minute))
	ctx := context.Background()

	_, err := store.Save(ctx, ref, state.Snapshot{"seats": 1}, state.Meta{})
	require.NoError(t, err)
	require.True(t, mr.Exists("test:pricing/trial"))
	assert.Equal(t, time.Minute, mr.TTL("test:pricing/trial"))

	mr.FastForward(2 * time.Minute)
	_, _, ok, err := store.Load(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreDelete(t *testing.T) {
	_, store := setup(t)
	ctx := context.Background()

	_, err := store.Save(ctx, ref, state.Snapshot{}, state.Meta{})
	require.NoError(t, err)

	deleted, err := store.Delete(ctx, ref)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.Delete(ctx, ref)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestStoreRejectsInvalidRef(t *testing.T) {
	_, store := setup(t)
	_, err := store.Save(context.Background(), state.Ref{Domain: "pricing"}, nil, state.Meta{})
	assert.Error(t, err)
}

func TestStoreWorksWithMutate(t *testing.T) {
	_, store := setup(t)
	ctx := context.Background()

	_, meta, err := state.Mutate(ctx, store, ref, state.Meta{}, func(s *state.Snapshot) error {
		*s = state.Snapshot{"seats": 2}
		return nil
	})
	require.NoError(t, err)

	snapshot, _, err := state.Mutate(ctx, store, ref, meta, func(s *state.Snapshot) error {
		(*s)["seats"] = (*s)["seats"].(int) + 1
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, snapshot["seats"])
}
