package storage

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSuite defines a test suite that all checkpoint store implementations must pass
type TestSuite struct {
	NewStore func() (CheckpointStore, error)
}

// Run executes all storage interface compliance tests
func (s *TestSuite) Run(t *testing.T) {
	t.Run("Commit", s.testCommit)
	t.Run("Rewind", s.testRewind)
	t.Run("Prune", s.testPrune)
	t.Run("RewindIntoPrunedGap", s.testRewindIntoPrunedGap)
	t.Run("Lifecycle", s.testLifecycle)
	t.Run("ConcurrentAccess", s.testConcurrentAccess)
}

func record(number uint64) *BlockRecord {
	return &BlockRecord{
		Number:     number,
		Hash:       fmt.Sprintf("0xhash%d", number),
		ParentHash: fmt.Sprintf("0xhash%d", number-1),
		Timestamp:  1_700_000_000 + number,
	}
}

func create(store, key string, ordinal uint64, value int64) Delta {
	return Delta{Store: store, Key: key, Operation: OperationCreate, Ordinal: ordinal, OldValue: big.NewInt(0), NewValue: big.NewInt(value)}
}

func update(store, key string, ordinal uint64, old, value int64) Delta {
	return Delta{Store: store, Key: key, Operation: OperationUpdate, Ordinal: ordinal, OldValue: big.NewInt(old), NewValue: big.NewInt(value)}
}

func assertValue(t *testing.T, store CheckpointStore, name, key string, expected int64) {
	t.Helper()
	v, ok, err := store.Get(context.Background(), name, key)
	require.NoError(t, err)
	require.True(t, ok, "%s:%s missing", name, key)
	assert.Equal(t, 0, big.NewInt(expected).Cmp(v), "%s:%s = %s, want %d", name, key, v, expected)
}

func assertMissing(t *testing.T, store CheckpointStore, name, key string) {
	t.Helper()
	_, ok, err := store.Get(context.Background(), name, key)
	require.NoError(t, err)
	assert.False(t, ok, "%s:%s should not exist", name, key)
}

func (s *TestSuite) testCommit(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	_, err = store.GetLastCommittedBlock(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
	assertMissing(t, store, "shares", "a:b")

	err = store.Commit(ctx, record(100), []Delta{
		create("shares", "a:b", 1, 100),
		update("shares", "a:b", 2, 100, 40),
		create("tracked_accounts", "c", 3, 1),
	})
	require.NoError(t, err)

	assertValue(t, store, "shares", "a:b", 40)
	assertValue(t, store, "tracked_accounts", "c", 1)
	// values are namespaced per store
	assertMissing(t, store, "tracked_accounts", "a:b")

	last, err := store.GetLastCommittedBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, *record(100), *last)

	b, err := store.GetBlock(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, "0xhash100", b.Hash)

	_, err = store.GetBlock(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)

	// a block that does not come after the last committed one is rejected untouched
	err = store.Commit(ctx, record(100), []Delta{update("shares", "a:b", 1, 40, 1)})
	assert.ErrorIs(t, err, ErrNonSequentialCommit)
	err = store.Commit(ctx, record(99), []Delta{update("shares", "a:b", 1, 40, 1)})
	assert.ErrorIs(t, err, ErrNonSequentialCommit)
	assertValue(t, store, "shares", "a:b", 40)

	// empty blocks still advance the checkpoint
	require.NoError(t, store.Commit(ctx, record(101), nil))
	last, err = store.GetLastCommittedBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(101), last.Number)
}

func (s *TestSuite) testRewind(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	require.NoError(t, store.Commit(ctx, record(10), []Delta{create("shares", "m:a", 1, 100)}))
	require.NoError(t, store.Commit(ctx, record(11), []Delta{
		update("shares", "m:a", 1, 100, 60),
		create("shares", "m:b", 1, 40),
		update("shares", "m:a", 2, 60, 50),
	}))
	require.NoError(t, store.Commit(ctx, record(12), []Delta{
		update("shares", "m:b", 4, 40, 45),
		create("tracked_accounts", "a", 5, 1),
	}))

	t.Run("Should be a no-op when rewinding to or past the head", func(t *testing.T) {
		require.NoError(t, store.Rewind(ctx, 12))
		require.NoError(t, store.Rewind(ctx, 20))
		assertValue(t, store, "shares", "m:b", 45)
	})
	t.Run("Should restore the state as of the target block", func(t *testing.T) {
		require.NoError(t, store.Rewind(ctx, 10))

		assertValue(t, store, "shares", "m:a", 100)
		assertMissing(t, store, "shares", "m:b")
		assertMissing(t, store, "tracked_accounts", "a")

		last, err := store.GetLastCommittedBlock(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(10), last.Number)

		_, err = store.GetBlock(ctx, 11)
		assert.ErrorIs(t, err, ErrNotFound)
	})
	t.Run("Should accept the canonical blocks again after a rewind", func(t *testing.T) {
		fork := record(11)
		fork.Hash = "0xfork11"
		require.NoError(t, store.Commit(ctx, fork, []Delta{update("shares", "m:a", 3, 100, 1)}))
		assertValue(t, store, "shares", "m:a", 1)

		b, err := store.GetBlock(ctx, 11)
		require.NoError(t, err)
		assert.Equal(t, "0xfork11", b.Hash)
	})
	t.Run("Should clear everything when rewinding below the first block", func(t *testing.T) {
		require.NoError(t, store.Rewind(ctx, 5))

		assertMissing(t, store, "shares", "m:a")
		_, err := store.GetLastCommittedBlock(ctx)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func (s *TestSuite) testPrune(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	for n := uint64(1); n <= 5; n++ {
		require.NoError(t, store.Commit(ctx, record(n), []Delta{update("shares", "m:a", 1, int64(n-1), int64(n))}))
	}

	require.NoError(t, store.Prune(ctx, 3))

	_, err = store.GetBlock(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetBlock(ctx, 3)
	assert.NoError(t, err)

	err = store.Rewind(ctx, 2)
	assert.ErrorIs(t, err, ErrRewindTooDeep)
	assertValue(t, store, "shares", "m:a", 5)

	require.NoError(t, store.Rewind(ctx, 3))
	assertValue(t, store, "shares", "m:a", 3)
}

// Blocks need not be contiguous, so the newest retained entry at or below the target can be gone
// while the target itself is still above the pruned range.
func (s *TestSuite) testRewindIntoPrunedGap(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Commit(ctx, record(5), []Delta{create("shares", "m:a", 1, 7)}))
	require.NoError(t, store.Commit(ctx, record(9), []Delta{update("shares", "m:a", 1, 7, 8)}))
	require.NoError(t, store.Commit(ctx, record(10), []Delta{create("shares", "m:b", 2, 1)}))

	require.NoError(t, store.Prune(ctx, 8))
	_, err = store.GetBlock(ctx, 5)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Rewind(ctx, 8))
	assertValue(t, store, "shares", "m:a", 7)
	assertMissing(t, store, "shares", "m:b")

	last, err := store.GetLastCommittedBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, *record(5), *last)

	err = store.Commit(ctx, record(5), []Delta{update("shares", "m:a", 1, 7, 14)})
	assert.ErrorIs(t, err, ErrNonSequentialCommit)
	assertValue(t, store, "shares", "m:a", 7)

	fork := record(9)
	fork.Hash = "0xfork9"
	require.NoError(t, store.Commit(ctx, fork, []Delta{update("shares", "m:a", 1, 7, 9)}))
	assertValue(t, store, "shares", "m:a", 9)

	assert.ErrorIs(t, store.Rewind(ctx, 7), ErrRewindTooDeep)
}

func (s *TestSuite) testLifecycle(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)

	require.NoError(t, store.Close())

	ctx := context.Background()
	_, _, err = store.Get(ctx, "shares", "a")
	assert.ErrorIs(t, err, ErrStoreClosed)
	err = store.Commit(ctx, record(1), nil)
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = store.GetLastCommittedBlock(ctx)
	assert.ErrorIs(t, err, ErrStoreClosed)

	// closing twice is fine
	assert.NoError(t, store.Close())
}

func (s *TestSuite) testConcurrentAccess(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Commit(ctx, record(1), []Delta{create("shares", "m:a", 1, 7)}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				v, ok, err := store.Get(ctx, "shares", "m:a")
				assert.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, int64(7), v.Int64())
			}
		}()
	}
	wg.Wait()
}
