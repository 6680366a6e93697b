package changeset

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/exactly/exa-indexer/internal/testUtils"
	"github.com/exactly/exa-indexer/pkg/blockAggregator"
	"github.com/exactly/exa-indexer/pkg/contractRegistry"
	"github.com/exactly/exa-indexer/pkg/deltaStore"
	"github.com/exactly/exa-indexer/pkg/deltaStore/storage"
	"github.com/exactly/exa-indexer/pkg/deltaStore/storage/memory"
	"github.com/exactly/exa-indexer/pkg/eventDecoder"
	"github.com/exactly/exa-indexer/pkg/types"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	market  = common.HexToAddress("0x6926b434cce9b5b7966ae1bfeef6d0a7dcf3a8bb")
	factory = common.HexToAddress("0x8d493af799162ac3f273e8918b2842447f702163")
	account = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	plugin  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

// emit runs a block through aggregation and accumulation against an empty store.
func emit(t *testing.T, block *types.Block) *Changeset {
	t.Helper()
	ctx := context.Background()
	l := zap.NewNop()

	registry, err := contractRegistry.NewRegistry(map[contractRegistry.Role][]common.Address{
		contractRegistry.RoleMarket:  {market},
		contractRegistry.RoleFactory: {factory},
	}, l)
	require.NoError(t, err)

	backend := memory.NewInMemoryCheckpointStore()
	events, err := blockAggregator.NewAggregator(eventDecoder.NewDecoder(l), registry, l).Aggregate(ctx, block, backend)
	require.NoError(t, err)

	stores, err := deltaStore.NewSet(backend, blockAggregator.Stores()...)
	require.NoError(t, err)
	require.NoError(t, blockAggregator.Accumulate(ctx, events, stores))

	cs, err := Emit(block.Clock(), events.All, stores.Deltas(), stores.Definitions())
	require.NoError(t, err)
	return cs
}

func Test_Emit(t *testing.T) {
	t.Run("Should emit the transfer and its share delta for block 100", func(t *testing.T) {
		block := testUtils.NewBlock(100, nil,
			testUtils.TransferLog(t, market, 3, common.Address{}, account, 500),
		)
		cs := emit(t, block)

		g := goldie.New(t,
			goldie.WithFixtureDir("testdata/golden"),
			goldie.WithNameSuffix(".golden"),
		)
		g.Assert(t, "block_100", []byte(strings.Join(cs.Lines(), "\n")+"\n"))
	})
	t.Run("Should omit the anchor row when nothing else is written", func(t *testing.T) {
		cs := emit(t, testUtils.NewBlock(101, nil))
		assert.Empty(t, cs.Rows)
	})
	t.Run("Should upsert plugin installs keyed by plugin and account", func(t *testing.T) {
		block := testUtils.NewBlock(102, nil,
			testUtils.ExaAccountInitializedLog(t, factory, 0, account),
			testUtils.PluginInstalledLog(t, account, 1, plugin, common.HexToHash("0x01")),
		)
		cs := emit(t, block)

		var row *Row
		for i := range cs.Rows {
			if cs.Rows[i].Table == "exa_plugins" {
				row = &cs.Rows[i]
			}
		}
		require.NotNil(t, row)
		assert.Equal(t, OperationUpsert, row.Operation)
		assert.Equal(t, []Field{
			{Name: "address", Value: blockAggregator.AddressSegment(plugin), Type: FieldTypeHex},
			{Name: "account", Value: blockAggregator.AddressSegment(account), Type: FieldTypeHex},
		}, row.PrimaryKey)

		var tables []string
		for _, r := range cs.Rows {
			tables = append(tables, r.Table)
		}
		assert.Equal(t, []string{TableBlocks, "exa_accounts", "exa_plugins", "tracked_accounts"}, tables)
	})
	t.Run("Should produce identical changesets for identical input", func(t *testing.T) {
		block := testUtils.NewBlock(100, nil,
			testUtils.TransferLog(t, market, 1, common.Address{}, account, 500),
			testUtils.BorrowAtMaturityLog(t, market, 2, 1_700_006_400, account, 100, 3),
		)
		assert.Equal(t, emit(t, block).Lines(), emit(t, block).Lines())
	})
	t.Run("Should name delta columns after key segments", func(t *testing.T) {
		cs, err := Emit(types.Clock{Number: 7, Timestamp: 14}, nil, []deltaStore.Delta{
			{Store: blockAggregator.StoreFixedPositions, Key: deltaStore.Key("aa", "1700006400", "bb"), Operation: storage.OperationCreate, Ordinal: 2, OldValue: big.NewInt(0), NewValue: big.NewInt(103)},
		}, blockAggregator.Stores())
		require.NoError(t, err)
		require.Len(t, cs.Rows, 2)
		assert.Equal(t, "fixed_positions create [market=aa maturity=1700006400 borrower=bb block=7 ordinal=2] amount=103", cs.Rows[1].String())
		assert.Equal(t, FieldTypeBigInt, cs.Rows[1].PrimaryKey[1].Type)
	})
	t.Run("Should reject deltas of undeclared stores", func(t *testing.T) {
		_, err := Emit(types.Clock{Number: 7}, nil, []deltaStore.Delta{
			{Store: "balances", Key: "aa", NewValue: big.NewInt(1)},
		}, blockAggregator.Stores())
		assert.ErrorIs(t, err, deltaStore.ErrUnknownStore)
	})
}

func Test_ToProto(t *testing.T) {
	block := testUtils.NewBlock(100, nil,
		testUtils.TransferLog(t, market, 3, common.Address{}, account, 500),
	)
	pb, err := emit(t, block).ToProto()
	require.NoError(t, err)

	clock := pb.Fields["clock"].GetStructValue()
	assert.Equal(t, float64(100), clock.Fields["number"].GetNumberValue())

	rows := pb.Fields["rows"].GetListValue().GetValues()
	require.Len(t, rows, 3)
	first := rows[0].GetStructValue()
	assert.Equal(t, "blocks", first.Fields["table"].GetStringValue())
	assert.Equal(t, "create", first.Fields["operation"].GetStringValue())
}
