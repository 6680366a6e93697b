// Package testUtils builds ABI-encoded logs and blocks for tests.
package testUtils

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/exactly/exa-indexer/pkg/abis"
	"github.com/exactly/exa-indexer/pkg/types"
	"github.com/stretchr/testify/require"
)

// NewLog packs an event log. indexed holds the topics after the signature and data the
// non-indexed arguments in declaration order.
func NewLog(t testing.TB, abiName string, event string, address common.Address, ordinal uint64, indexed []common.Hash, data ...interface{}) types.LogEntry {
	t.Helper()
	a, err := abis.Load(abiName)
	require.NoError(t, err)

	e, ok := a.Events[event]
	require.True(t, ok, "event %s not in abi %s", event, abiName)

	packed, err := e.Inputs.NonIndexed().Pack(data...)
	require.NoError(t, err)

	topics := append([]common.Hash{e.ID}, indexed...)
	return types.LogEntry{
		Address: address,
		Topics:  topics,
		Data:    packed,
		Ordinal: ordinal,
		TxHash:  common.BigToHash(new(big.Int).SetUint64(ordinal + 1)),
	}
}

func AddressTopic(address common.Address) common.Hash {
	return common.BytesToHash(address.Bytes())
}

// IntTopic encodes n as a two's complement 256-bit word.
func IntTopic(n *big.Int) common.Hash {
	return common.BytesToHash(math.U256Bytes(new(big.Int).Set(n)))
}

func Amount(n int64) *big.Int {
	return big.NewInt(n)
}

func TransferLog(t testing.TB, market common.Address, ordinal uint64, from, to common.Address, amount int64) types.LogEntry {
	return NewLog(t, abis.Market, "Transfer", market, ordinal,
		[]common.Hash{AddressTopic(from), AddressTopic(to)}, Amount(amount))
}

func DepositLog(t testing.TB, market common.Address, ordinal uint64, caller, owner common.Address, assets, shares int64) types.LogEntry {
	return NewLog(t, abis.Market, "Deposit", market, ordinal,
		[]common.Hash{AddressTopic(caller), AddressTopic(owner)}, Amount(assets), Amount(shares))
}

func BorrowAtMaturityLog(t testing.TB, market common.Address, ordinal uint64, maturity int64, borrower common.Address, assets, fee int64) types.LogEntry {
	return NewLog(t, abis.Market, "BorrowAtMaturity", market, ordinal,
		[]common.Hash{IntTopic(Amount(maturity)), AddressTopic(borrower), AddressTopic(borrower)},
		borrower, Amount(assets), Amount(fee))
}

func RepayAtMaturityLog(t testing.TB, market common.Address, ordinal uint64, maturity int64, borrower common.Address, assets, positionAssets int64) types.LogEntry {
	return NewLog(t, abis.Market, "RepayAtMaturity", market, ordinal,
		[]common.Hash{IntTopic(Amount(maturity)), AddressTopic(borrower), AddressTopic(borrower)},
		Amount(assets), Amount(positionAssets))
}

func MarketListedLog(t testing.TB, auditor common.Address, ordinal uint64, market common.Address, decimals uint8) types.LogEntry {
	return NewLog(t, abis.Auditor, "MarketListed", auditor, ordinal,
		[]common.Hash{AddressTopic(market)}, decimals)
}

func MarketEnteredLog(t testing.TB, auditor common.Address, ordinal uint64, market, account common.Address) types.LogEntry {
	return NewLog(t, abis.Auditor, "MarketEntered", auditor, ordinal,
		[]common.Hash{AddressTopic(market), AddressTopic(account)})
}

func MarketExitedLog(t testing.TB, auditor common.Address, ordinal uint64, market, account common.Address) types.LogEntry {
	return NewLog(t, abis.Auditor, "MarketExited", auditor, ordinal,
		[]common.Hash{AddressTopic(market), AddressTopic(account)})
}

func ExaAccountInitializedLog(t testing.TB, factory common.Address, ordinal uint64, account common.Address) types.LogEntry {
	return NewLog(t, abis.Factory, "ExaAccountInitialized", factory, ordinal,
		[]common.Hash{AddressTopic(account)})
}

func PluginInstalledLog(t testing.TB, account common.Address, ordinal uint64, plugin common.Address, manifestHash common.Hash, dependencies ...[21]byte) types.LogEntry {
	if dependencies == nil {
		dependencies = [][21]byte{}
	}
	return NewLog(t, abis.Account, "PluginInstalled", account, ordinal,
		[]common.Hash{AddressTopic(plugin)}, [32]byte(manifestHash), dependencies)
}

func AnswerUpdatedLog(t testing.TB, oracle common.Address, ordinal uint64, current int64, roundId int64, updatedAt int64) types.LogEntry {
	return NewLog(t, abis.Oracle, "AnswerUpdated", oracle, ordinal,
		[]common.Hash{IntTopic(Amount(current)), IntTopic(Amount(roundId))}, Amount(updatedAt))
}

// NewBlock chains a block onto parent (nil for the first block) with a hash derived from its number.
func NewBlock(number uint64, parent *types.Block, logs ...types.LogEntry) *types.Block {
	b := &types.Block{
		Number:    number,
		Hash:      BlockHash(number, 0),
		Timestamp: 1_700_000_000 + number*2,
		Logs:      logs,
	}
	if parent != nil {
		b.ParentHash = parent.Hash
	}
	return b
}

// BlockHash derives a deterministic hash; fork distinguishes competing blocks at the same height.
func BlockHash(number uint64, fork uint64) common.Hash {
	h := new(big.Int).Lsh(new(big.Int).SetUint64(fork), 64)
	h.Or(h, new(big.Int).SetUint64(number))
	return common.BigToHash(h)
}
