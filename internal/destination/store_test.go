package destination

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ChuLiYu/beaver-migrate/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func account(who string, free uint64) types.Message {
	return types.Message{
		Kind:    types.KindAccount,
		Account: &types.AccountMessage{Who: who, Free: free},
	}
}

func TestMemoryStorePutGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, account("alice", 10)))
	require.NoError(t, store.Put(ctx, account("alice", 25)))

	got, err := store.Get(ctx, types.KindAccount, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(25), got.Account.Free, "Put should overwrite by key")

	n, err := store.Count(ctx, types.KindAccount)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Get(ctx, types.KindAccount, "bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreRejectsInvalidMessage(t *testing.T) {
	store := NewMemoryStore()
	err := store.Put(context.Background(), types.Message{Kind: types.KindAccount})
	assert.ErrorIs(t, err, types.ErrInvalidMessage)
}

func TestMemoryStoreScanOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for _, who := range []string{"carol", "alice", "bob"} {
		require.NoError(t, store.Put(ctx, account(who, 1)))
	}

	var keys []string
	err := store.Scan(ctx, types.KindAccount, func(m types.Message) error {
		keys = append(keys, m.Key())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, keys)

	stop := errors.New("stop")
	visited := 0
	err = store.Scan(ctx, types.KindAccount, func(types.Message) error {
		visited++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, visited)
}

func TestMemoryStoreApplyBatchOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	msgs := []types.Message{account("a", 1), account("b", 2)}
	applied, err := store.ApplyBatch(ctx, "h1", msgs)
	require.NoError(t, err)
	assert.True(t, applied)

	// Same hash is a no-op even with different content.
	applied, err = store.ApplyBatch(ctx, "h1", []types.Message{account("c", 3)})
	require.NoError(t, err)
	assert.False(t, applied)

	n, _ := store.Count(ctx, types.KindAccount)
	assert.Equal(t, 2, n)

	has, err := store.HasBatch(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, has)

	has, _ = store.HasBatch(ctx, "h2")
	assert.False(t, has)
	require.NoError(t, store.MarkBatch(ctx, "h2"))
	has, _ = store.HasBatch(ctx, "h2")
	assert.True(t, has)
}

func TestMemoryStoreApplyBatchValidatesFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.ApplyBatch(ctx, "bad", []types.Message{account("a", 1), {Kind: types.KindVesting}})
	require.Error(t, err)

	n, _ := store.Count(ctx, types.KindAccount)
	assert.Equal(t, 0, n, "nothing from an invalid batch is applied")
	has, _ := store.HasBatch(ctx, "bad")
	assert.False(t, has)
}

func TestMemoryStoreConcurrentApply(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	const n = 20
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			applied, err := store.ApplyBatch(ctx, "same", []types.Message{account(fmt.Sprint(i), 1)})
			assert.NoError(t, err)
			results <- applied
		}(i)
	}

	wins := 0
	for i := 0; i < n; i++ {
		if <-results {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func TestMemoryStoreClosed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Close())

	assert.ErrorIs(t, store.Put(ctx, account("a", 1)), ErrClosed)
	_, err := store.ApplyBatch(ctx, "h", nil)
	assert.ErrorIs(t, err, ErrClosed)
}
