package deltaStore

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/exactly/exa-indexer/pkg/deltaStore/storage"
	"github.com/exactly/exa-indexer/pkg/deltaStore/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	shares = Definition{Name: "shares", Policy: PolicyAdd, Segments: []string{"market", "account"}, ValueColumn: "amount"}
	flags  = Definition{Name: "enrollments", Policy: PolicySet, Segments: []string{"market", "account"}, ValueColumn: "entered"}
)

func newTestSet(t *testing.T, backend storage.Reader) *Set {
	set, err := NewSet(backend, shares, flags)
	require.NoError(t, err)
	return set
}

func Test_Store(t *testing.T) {
	ctx := context.Background()

	t.Run("Should add amounts and record create then update", func(t *testing.T) {
		set := newTestSet(t, memory.NewInMemoryCheckpointStore())
		s, err := set.Get("shares")
		require.NoError(t, err)

		key := Key("m", "a")
		require.NoError(t, s.Apply(ctx, 1, key, big.NewInt(-60)))
		require.NoError(t, s.Apply(ctx, 2, Key("m", "b"), big.NewInt(60)))
		require.NoError(t, s.Apply(ctx, 3, key, big.NewInt(10)))

		v, ok, err := s.GetLast(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(-50), v.Int64())

		deltas := s.Deltas()
		require.Len(t, deltas, 3)
		assert.Equal(t, storage.OperationCreate, deltas[0].Operation)
		assert.Equal(t, int64(0), deltas[0].OldValue.Int64())
		assert.Equal(t, int64(-60), deltas[0].NewValue.Int64())
		assert.Equal(t, storage.OperationUpdate, deltas[2].Operation)
		assert.Equal(t, int64(-60), deltas[2].OldValue.Int64())
		assert.Equal(t, int64(-50), deltas[2].NewValue.Int64())
	})
	t.Run("Should read through to the committed state", func(t *testing.T) {
		backend := memory.NewInMemoryCheckpointStore()
		require.NoError(t, backend.Commit(ctx, &storage.BlockRecord{Number: 1}, []storage.Delta{
			{Store: "shares", Key: Key("m", "a"), Operation: storage.OperationCreate, OldValue: big.NewInt(0), NewValue: big.NewInt(100)},
		}))
		set := newTestSet(t, backend)
		s, _ := set.Get("shares")

		require.NoError(t, s.Apply(ctx, 5, Key("m", "a"), big.NewInt(-1)))
		d := s.Deltas()[0]
		assert.Equal(t, storage.OperationUpdate, d.Operation)
		assert.Equal(t, int64(100), d.OldValue.Int64())
		assert.Equal(t, int64(99), d.NewValue.Int64())

		// the backend is untouched until commit
		v, _, err := backend.Get(ctx, "shares", Key("m", "a"))
		require.NoError(t, err)
		assert.Equal(t, int64(100), v.Int64())
	})
	t.Run("Should keep set idempotent at the same ordinal", func(t *testing.T) {
		set := newTestSet(t, memory.NewInMemoryCheckpointStore())
		s, _ := set.Get("enrollments")

		key := Key("m", "a")
		require.NoError(t, s.Apply(ctx, 4, key, big.NewInt(1)))
		once := s.Deltas()
		require.NoError(t, s.Apply(ctx, 4, key, big.NewInt(1)))

		assert.Equal(t, once, s.Deltas())
		require.Len(t, once, 1)
		assert.Equal(t, storage.OperationCreate, once[0].Operation)
		assert.Nil(t, once[0].OldValue)
	})
	t.Run("Should merge opposite legs of a self transfer", func(t *testing.T) {
		set := newTestSet(t, memory.NewInMemoryCheckpointStore())
		s, _ := set.Get("shares")

		key := Key("m", "a")
		require.NoError(t, s.Apply(ctx, 1, key, big.NewInt(100)))
		require.NoError(t, s.Apply(ctx, 2, key, big.NewInt(-100)))
		require.NoError(t, s.Apply(ctx, 2, key, big.NewInt(100)))

		deltas := s.Deltas()
		require.Len(t, deltas, 2)
		assert.Equal(t, int64(100), deltas[1].OldValue.Int64())
		assert.Equal(t, int64(100), deltas[1].NewValue.Int64())
	})
	t.Run("Should reject decreasing ordinals", func(t *testing.T) {
		set := newTestSet(t, memory.NewInMemoryCheckpointStore())
		s, _ := set.Get("shares")

		require.NoError(t, s.Apply(ctx, 7, Key("m", "a"), big.NewInt(1)))
		err := s.Apply(ctx, 6, Key("m", "b"), big.NewInt(1))
		assert.True(t, errors.Is(err, ErrOrdinalRegression))
		assert.Len(t, s.Deltas(), 1)
	})
	t.Run("Should forget pending state on reset", func(t *testing.T) {
		set := newTestSet(t, memory.NewInMemoryCheckpointStore())
		s, _ := set.Get("shares")

		require.NoError(t, s.Apply(ctx, 7, Key("m", "a"), big.NewInt(1)))
		set.Reset()

		assert.Empty(t, set.Deltas())
		_, ok, err := s.GetLast(ctx, Key("m", "a"))
		require.NoError(t, err)
		assert.False(t, ok)
		// ordinals start over
		assert.NoError(t, s.Apply(ctx, 1, Key("m", "a"), big.NewInt(1)))
	})
}

func Test_Set(t *testing.T) {
	ctx := context.Background()

	t.Run("Should merge deltas across stores by ordinal", func(t *testing.T) {
		set := newTestSet(t, memory.NewInMemoryCheckpointStore())
		sh, _ := set.Get("shares")
		en, _ := set.Get("enrollments")

		require.NoError(t, en.Apply(ctx, 1, Key("m", "a"), big.NewInt(1)))
		require.NoError(t, sh.Apply(ctx, 2, Key("m", "a"), big.NewInt(5)))
		require.NoError(t, en.Apply(ctx, 3, Key("m", "a"), big.NewInt(0)))
		require.NoError(t, sh.Apply(ctx, 3, Key("m", "b"), big.NewInt(5)))

		var got []string
		for _, d := range set.Deltas() {
			got = append(got, d.Store)
		}
		assert.Equal(t, []string{"enrollments", "shares", "shares", "enrollments"}, got)
	})
	t.Run("Should reject unknown and duplicate stores", func(t *testing.T) {
		set := newTestSet(t, memory.NewInMemoryCheckpointStore())
		_, err := set.Get("balances")
		assert.True(t, errors.Is(err, ErrUnknownStore))

		_, err = NewSet(memory.NewInMemoryCheckpointStore(), shares, shares)
		assert.Error(t, err)
	})
	t.Run("Should split keys into the declared segments", func(t *testing.T) {
		parts, err := shares.SplitKey(Key("m", "a"))
		require.NoError(t, err)
		assert.Equal(t, []string{"m", "a"}, parts)

		_, err = shares.SplitKey("m")
		assert.True(t, errors.Is(err, ErrKeyArity))
	})
}
