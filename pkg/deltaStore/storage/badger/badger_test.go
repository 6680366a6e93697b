package badger

import (
	"context"
	"math/big"
	"os"
	"testing"

	"github.com/exactly/exa-indexer/pkg/deltaStore/storage"
	"github.com/exactly/exa-indexer/pkg/indexerConfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerCheckpointStore(t *testing.T) {
	suite := &storage.TestSuite{
		NewStore: func() (storage.CheckpointStore, error) {
			tmpDir, err := os.MkdirTemp("", "badger-test-*")
			if err != nil {
				return nil, err
			}
			t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })
			return NewBadgerCheckpointStore(&indexerConfig.BadgerConfig{Dir: tmpDir})
		},
	}
	suite.Run(t)
}

func TestBadgerCheckpointStore_InMemory(t *testing.T) {
	suite := &storage.TestSuite{
		NewStore: func() (storage.CheckpointStore, error) {
			return NewBadgerCheckpointStore(&indexerConfig.BadgerConfig{InMemory: true})
		},
	}
	suite.Run(t)
}

func TestBadgerCheckpointStore_Persistence(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "badger-persist-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	cfg := &indexerConfig.BadgerConfig{Dir: tmpDir}
	ctx := context.Background()

	{
		store, err := NewBadgerCheckpointStore(cfg)
		require.NoError(t, err)

		err = store.Commit(ctx, &storage.BlockRecord{Number: 100, Hash: "0xaa", ParentHash: "0x99"}, []storage.Delta{
			{Store: "shares", Key: "m:a", Operation: storage.OperationCreate, Ordinal: 1, OldValue: big.NewInt(0), NewValue: big.NewInt(-60)},
		})
		require.NoError(t, err)
		require.NoError(t, store.Close())
	}
	{
		store, err := NewBadgerCheckpointStore(cfg)
		require.NoError(t, err)
		defer store.Close()

		v, ok, err := store.Get(ctx, "shares", "m:a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(-60), v.Int64())

		last, err := store.GetLastCommittedBlock(ctx)
		require.NoError(t, err)
		assert.Equal(t, "0xaa", last.Hash)

		// the journal survives restarts too
		require.NoError(t, store.Rewind(ctx, 99))
		_, ok, err = store.Get(ctx, "shares", "m:a")
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestNewBadgerCheckpointStore_NilConfig(t *testing.T) {
	_, err := NewBadgerCheckpointStore(nil)
	assert.Error(t, err)
}
