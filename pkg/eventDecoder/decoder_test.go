package eventDecoder

import (
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/exactly/exa-indexer/internal/testUtils"
	"github.com/exactly/exa-indexer/pkg/abis"
	"github.com/exactly/exa-indexer/pkg/contractRegistry"
	"github.com/exactly/exa-indexer/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	market  = common.HexToAddress("0x6926b434cce9b5b7966ae1bfeef6d0a7dcf3a8bb")
	auditor = common.HexToAddress("0xaeb62e6f27bc103702e7bc879ae98bcea56f027e")
	oracle  = common.HexToAddress("0x13e3ee699d1909e989722e753853ae30b17e08c5")
	alice   = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob     = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	account = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	plugin  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func Test_Decoder(t *testing.T) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)

	registry, err := contractRegistry.NewRegistry(map[contractRegistry.Role][]common.Address{
		contractRegistry.RoleMarket:  {market},
		contractRegistry.RoleAuditor: {auditor},
		contractRegistry.RoleOracle:  {oracle},
	}, l)
	require.NoError(t, err)

	d := NewDecoder(l)

	t.Run("Should decode a transfer from a known market", func(t *testing.T) {
		log := testUtils.TransferLog(t, market, 7, alice, bob, 100)

		ev, err := d.Decode(&log, registry)
		require.NoError(t, err)
		require.NotNil(t, ev)
		assert.Equal(t, KindTransfer, ev.Kind())

		transfer, ok := ev.(*Transfer)
		require.True(t, ok)
		assert.Equal(t, alice, transfer.From)
		assert.Equal(t, bob, transfer.To)
		assert.Equal(t, "100", transfer.Amount)
		assert.Equal(t, market, transfer.Token())
		assert.Equal(t, uint64(7), transfer.Ordinal)
		assert.Equal(t, log.TxHash, transfer.TxHash)
	})
	t.Run("Should drop logs from unknown contracts", func(t *testing.T) {
		log := testUtils.TransferLog(t, alice, 1, alice, bob, 100)

		ev, err := d.Decode(&log, registry)
		require.NoError(t, err)
		assert.Nil(t, ev)
	})
	t.Run("Should only match events of the emitting contract's role", func(t *testing.T) {
		// a Transfer shape emitted by the auditor is not a market transfer
		log := testUtils.TransferLog(t, auditor, 1, alice, bob, 100)

		ev, err := d.Decode(&log, registry)
		require.NoError(t, err)
		assert.Nil(t, ev)
	})
	t.Run("Should drop logs whose topic count does not match", func(t *testing.T) {
		log := testUtils.TransferLog(t, market, 1, alice, bob, 100)
		log.Topics = log.Topics[:2]

		ev, err := d.Decode(&log, registry)
		require.NoError(t, err)
		assert.Nil(t, ev)
	})
	t.Run("Should return a DecodeError for truncated data", func(t *testing.T) {
		log := testUtils.DepositLog(t, market, 3, alice, alice, 50, 49)
		log.Data = log.Data[:40]

		ev, err := d.Decode(&log, registry)
		assert.Nil(t, ev)

		var decodeErr *DecodeError
		require.True(t, errors.As(err, &decodeErr))
		assert.Equal(t, KindDeposit, decodeErr.Kind)
		assert.Equal(t, uint64(3), decodeErr.Ordinal)
		assert.Equal(t, market, decodeErr.Address)
	})
	t.Run("Should decode a fixed-rate borrow with its non-indexed caller", func(t *testing.T) {
		log := testUtils.BorrowAtMaturityLog(t, market, 4, 1_700_000_000, alice, 500, 12)

		ev, err := d.Decode(&log, registry)
		require.NoError(t, err)
		borrow, ok := ev.(*BorrowAtMaturity)
		require.True(t, ok)
		assert.Equal(t, "1700000000", borrow.Maturity)
		assert.Equal(t, alice, borrow.Caller)
		assert.Equal(t, alice, borrow.Borrower)
		assert.Equal(t, "500", borrow.Assets)
		assert.Equal(t, "12", borrow.Fee)
	})
	t.Run("Should keep the sign of int256 topics", func(t *testing.T) {
		log := testUtils.AnswerUpdatedLog(t, oracle, 2, -5, 9, 1_700_000_123)

		ev, err := d.Decode(&log, registry)
		require.NoError(t, err)
		answer, ok := ev.(*AnswerUpdated)
		require.True(t, ok)
		assert.Equal(t, "-5", answer.Current)
		assert.Equal(t, "9", answer.RoundId)
		assert.Equal(t, "1700000123", answer.UpdatedAt)
	})
	t.Run("Should decode plugin installs from dynamically tracked accounts", func(t *testing.T) {
		view := registry.View().WithDynamic(contractRegistry.RoleAccount, func(address common.Address) (bool, error) {
			return address == account, nil
		})
		var dep [21]byte
		dep[0] = 0xab
		dep[20] = 0x01
		manifest := common.HexToHash("0x1234")
		log := testUtils.PluginInstalledLog(t, account, 5, plugin, manifest, dep)

		ev, err := d.Decode(&log, view)
		require.NoError(t, err)
		installed, ok := ev.(*PluginInstalled)
		require.True(t, ok)
		assert.Equal(t, plugin, installed.Plugin)
		assert.Equal(t, account, installed.Contract)
		assert.Equal(t, manifest, installed.ManifestHash)
		assert.Equal(t, []string{hex.EncodeToString(dep[:])}, installed.Dependencies)

		// the same log from an untracked address is dropped
		log.Address = bob
		ev, err = d.Decode(&log, view)
		require.NoError(t, err)
		assert.Nil(t, ev)
	})
	t.Run("Should propagate resolver failures", func(t *testing.T) {
		boom := errors.New("boom")
		view := registry.View().WithDynamic(contractRegistry.RoleAccount, func(common.Address) (bool, error) {
			return false, boom
		})
		log := testUtils.TransferLog(t, bob, 1, alice, bob, 1)

		_, err := d.Decode(&log, view)
		assert.True(t, errors.Is(err, boom))
	})
}

func Test_Fields(t *testing.T) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)
	registry, err := contractRegistry.NewRegistry(map[contractRegistry.Role][]common.Address{
		contractRegistry.RoleMarket: {market},
	}, l)
	require.NoError(t, err)

	log := testUtils.TransferLog(t, market, 1, alice, bob, 42)
	ev, err := NewDecoder(l).Decode(&log, registry)
	require.NoError(t, err)

	fields := Fields(ev)
	require.Len(t, fields, 3)
	assert.Equal(t, Field{Name: "from", Value: alice}, fields[0])
	assert.Equal(t, Field{Name: "to", Value: bob}, fields[1])
	assert.Equal(t, Field{Name: "amount", Value: "42"}, fields[2])
}

func Test_KindTable(t *testing.T) {
	t.Run("Should bind every kind to its abi event", func(t *testing.T) {
		for _, kind := range Kinds() {
			info, ok := Describe(kind)
			require.True(t, ok)
			topic, ok := Topic(kind)
			require.True(t, ok, "kind %s has no topic", kind)

			a := abis.MustLoad(info.Abi)
			assert.Equal(t, a.Events[info.Event].ID, topic)
			assert.NotEmpty(t, bindingsByKind[kind], "kind %s has no bindings", kind)
		}
	})
	t.Run("Should name columns in snake case unless overridden", func(t *testing.T) {
		var columns []string
		for _, b := range bindingsByKind[KindRepayAtMaturity] {
			columns = append(columns, b.column)
		}
		assert.Equal(t, []string{"maturity", "caller", "borrower", "assets", "position_assets"}, columns)

		columns = nil
		for _, b := range bindingsByKind[KindPluginInstalled] {
			columns = append(columns, b.column)
		}
		assert.Equal(t, []string{"address", "manifest_hash", "dependencies"}, columns)
	})
}

func Test_ToBigInt(t *testing.T) {
	n, err := ToBigInt("amount", "-12345678901234567890")
	require.NoError(t, err)
	expected, _ := new(big.Int).SetString("-12345678901234567890", 10)
	assert.Equal(t, 0, expected.Cmp(n))

	_, err = ToBigInt("amount", "0x10")
	var numErr *NumericError
	require.True(t, errors.As(err, &numErr))
	assert.Equal(t, "amount", numErr.Field)
}
