package EVMChainPoller

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/exactly/exa-indexer/internal/testUtils"
	"github.com/exactly/exa-indexer/pkg/blockAggregator"
	"github.com/exactly/exa-indexer/pkg/contractRegistry"
	"github.com/exactly/exa-indexer/pkg/deltaStore/storage/memory"
	"github.com/exactly/exa-indexer/pkg/eventDecoder"
	"github.com/exactly/exa-indexer/pkg/pipeline"
	"github.com/exactly/exa-indexer/pkg/sink"
	"github.com/exactly/exa-indexer/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	market = common.HexToAddress("0x6926b434cce9b5b7966ae1bfeef6d0a7dcf3a8bb")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

type fakeChain struct {
	mu     sync.Mutex
	blocks map[uint64]*types.Block
	head   uint64
}

func newFakeChain() *fakeChain {
	return &fakeChain{blocks: make(map[uint64]*types.Block)}
}

// extend builds count blocks on top of the block at parent (or from scratch), replacing anything above it.
func (c *fakeChain) extend(t *testing.T, from uint64, count uint64, fork uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	parent := c.blocks[from-1]
	for n := from; n < from+count; n++ {
		b := testUtils.NewBlock(n, parent, testUtils.TransferLog(t, market, 0, common.Address{}, alice, int64(n)))
		b.Hash = testUtils.BlockHash(n, fork)
		c.blocks[n] = b
		parent = b
	}
	for n := range c.blocks {
		if n >= from+count {
			delete(c.blocks, n)
		}
	}
	c.head = from + count - 1
}

func (c *fakeChain) LatestBlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *fakeChain) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.blocks[number]
	if !ok {
		return nil, fmt.Errorf("block %d not found", number)
	}
	return b, nil
}

func (c *fakeChain) BlockHash(ctx context.Context, number uint64) (common.Hash, error) {
	b, err := c.BlockByNumber(ctx, number)
	if err != nil {
		return common.Hash{}, err
	}
	return b.Hash, nil
}

func newTestPoller(t *testing.T, chain *fakeChain, cfg *EVMChainPollerConfig) (*EVMChainPoller, *pipeline.Pipeline, *sink.MemorySink) {
	t.Helper()
	l := zap.NewNop()
	registry, err := contractRegistry.NewRegistry(map[contractRegistry.Role][]common.Address{
		contractRegistry.RoleMarket: {market},
	}, l)
	require.NoError(t, err)

	memorySink := sink.NewMemorySink()
	p, err := pipeline.NewPipeline(
		blockAggregator.NewAggregator(eventDecoder.NewDecoder(l), registry, l),
		memory.NewInMemoryCheckpointStore(),
		memorySink,
		nil,
		nil,
		l,
	)
	require.NoError(t, err)
	return NewEVMChainPoller(chain, p, cfg, l), p, memorySink
}

func testConfig() *EVMChainPollerConfig {
	cfg := NewEVMChainPollerDefaultConfig(10)
	cfg.StartBlock = 10
	cfg.PollingInterval = 5 * time.Millisecond
	return cfg
}

func Test_EVMChainPoller(t *testing.T) {
	ctx := context.Background()

	t.Run("Should index from the start block up to the head", func(t *testing.T) {
		chain := newFakeChain()
		chain.extend(t, 10, 5, 0)
		poller, p, memorySink := newTestPoller(t, chain, testConfig())

		require.NoError(t, poller.Poll(ctx))

		last, err := p.LastBlock(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(14), last.Number)
		assert.Len(t, memorySink.Changesets(), 5)

		require.NoError(t, poller.Poll(ctx))
		assert.Len(t, memorySink.Changesets(), 5)
	})
	t.Run("Should catch up at most BlocksPerPoll blocks per poll", func(t *testing.T) {
		chain := newFakeChain()
		chain.extend(t, 10, 5, 0)
		cfg := testConfig()
		cfg.BlocksPerPoll = 2
		poller, p, _ := newTestPoller(t, chain, cfg)

		require.NoError(t, poller.Poll(ctx))
		last, err := p.LastBlock(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(11), last.Number)
	})
	t.Run("Should rewind to the common ancestor and follow the new fork", func(t *testing.T) {
		chain := newFakeChain()
		chain.extend(t, 10, 5, 0)
		poller, p, memorySink := newTestPoller(t, chain, testConfig())
		require.NoError(t, poller.Poll(ctx))

		chain.extend(t, 13, 3, 1)
		require.NoError(t, poller.Poll(ctx))

		last, err := p.LastBlock(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(12), last.Number)
		assert.Len(t, memorySink.Changesets(), 3)

		require.NoError(t, poller.Poll(ctx))
		last, err = p.LastBlock(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(15), last.Number)
		assert.Equal(t, testUtils.BlockHash(15, 1).Hex(), last.Hash)

		changesets := memorySink.Changesets()
		require.Len(t, changesets, 6)
		assert.Equal(t, testUtils.BlockHash(13, 1), changesets[3].Clock.Hash)
	})
	t.Run("Should fail when the fork is deeper than the reorg limit", func(t *testing.T) {
		chain := newFakeChain()
		chain.extend(t, 10, 5, 0)
		cfg := testConfig()
		cfg.MaxReorgDepth = 1
		poller, _, _ := newTestPoller(t, chain, cfg)
		require.NoError(t, poller.Poll(ctx))

		chain.extend(t, 13, 3, 1)
		assert.ErrorIs(t, poller.Poll(ctx), ErrReorgTooDeep)
	})
	t.Run("Should stop running when the context is cancelled", func(t *testing.T) {
		chain := newFakeChain()
		chain.extend(t, 10, 2, 0)
		poller, p, _ := newTestPoller(t, chain, testConfig())

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- poller.Run(runCtx) }()

		require.Eventually(t, func() bool {
			last, err := p.LastBlock(ctx)
			return err == nil && last != nil && last.Number == 11
		}, time.Second, 5*time.Millisecond)

		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("poller did not stop")
		}
	})
}

type fakeEthClient struct {
	header *ethtypes.Header
	logs   []ethtypes.Log
}

func (c *fakeEthClient) BlockNumber(ctx context.Context) (uint64, error) {
	return c.header.Number.Uint64(), nil
}

func (c *fakeEthClient) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	return c.header, nil
}

func (c *fakeEthClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	return c.logs, nil
}

func Test_EthBlockSource(t *testing.T) {
	ctx := context.Background()
	header := &ethtypes.Header{
		Number:     big.NewInt(100),
		ParentHash: common.HexToHash("0x99"),
		Time:       1_700_000_200,
		Difficulty: big.NewInt(0),
	}

	t.Run("Should convert logs and skip removed ones", func(t *testing.T) {
		client := &fakeEthClient{header: header, logs: []ethtypes.Log{
			{Address: market, Topics: []common.Hash{common.HexToHash("0x01")}, Data: []byte{1}, Index: 3, TxHash: common.HexToHash("0x04"), BlockHash: header.Hash()},
			{Address: market, Index: 4, BlockHash: header.Hash(), Removed: true},
		}}
		source := NewEthBlockSource(client, nil, zap.NewNop())

		block, err := source.BlockByNumber(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, header.Hash(), block.Hash)
		assert.Equal(t, header.ParentHash, block.ParentHash)
		assert.Equal(t, uint64(1_700_000_200), block.Timestamp)
		require.Len(t, block.Logs, 1)
		assert.Equal(t, uint64(3), block.Logs[0].Ordinal)
		assert.Equal(t, common.HexToHash("0x04"), block.Logs[0].TxHash)

		latest, err := source.LatestBlockNumber(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), latest)
	})
	t.Run("Should reject logs from a different block hash", func(t *testing.T) {
		client := &fakeEthClient{header: header, logs: []ethtypes.Log{
			{Address: market, Index: 0, BlockHash: common.HexToHash("0xdead")},
		}}
		_, err := NewEthBlockSource(client, nil, zap.NewNop()).BlockByNumber(ctx, 100)
		assert.Error(t, err)
	})
}
