package EVMChainPoller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/exactly/exa-indexer/pkg/chainPoller"
	"github.com/exactly/exa-indexer/pkg/config"
	"github.com/exactly/exa-indexer/pkg/pipeline"
	"github.com/exactly/exa-indexer/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrReorgTooDeep = errors.New("no common ancestor within the maximum reorg depth")

type EVMChainPollerConfig struct {
	ChainId         config.ChainId
	PollingInterval time.Duration
	// StartBlock is the first block indexed when nothing has been committed yet.
	StartBlock    uint64
	MaxReorgDepth uint64
	// BlocksPerPoll bounds how far a single poll catches up.
	BlocksPerPoll uint64
	// FetchConcurrency bounds parallel block fetches within a poll.
	FetchConcurrency int
}

func NewEVMChainPollerDefaultConfig(chainId config.ChainId) *EVMChainPollerConfig {
	return &EVMChainPollerConfig{
		ChainId:          chainId,
		PollingInterval:  2 * time.Second,
		MaxReorgDepth:    64,
		BlocksPerPoll:    32,
		FetchConcurrency: 4,
	}
}

type EVMChainPoller struct {
	source    BlockSource
	processor chainPoller.BlockProcessor
	config    *EVMChainPollerConfig
	logger    *zap.Logger
}

func NewEVMChainPoller(
	source BlockSource,
	processor chainPoller.BlockProcessor,
	config *EVMChainPollerConfig,
	logger *zap.Logger,
) *EVMChainPoller {
	return &EVMChainPoller{
		source:    source,
		processor: processor,
		config:    config,
		logger:    logger,
	}
}

func (ecp *EVMChainPoller) Start(ctx context.Context) error {
	sugar := ecp.logger.Sugar()
	sugar.Infow("Starting EVM chain poller",
		"chainId", ecp.config.ChainId,
		"startBlock", ecp.config.StartBlock,
		"pollingInterval", ecp.config.PollingInterval,
	)
	go func() {
		if err := ecp.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			sugar.Errorw("EVM chain poller stopped", "error", err)
		}
	}()
	return nil
}

// Run polls until ctx is done or a block cannot be processed.
func (ecp *EVMChainPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(ecp.config.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ecp.logger.Sugar().Infow("EVM chain poller context cancelled, exiting poll loop")
			return ctx.Err()
		case <-ticker.C:
			if err := ecp.Poll(ctx); err != nil {
				return err
			}
		}
	}
}

// Poll catches up with the chain head by at most BlocksPerPoll blocks. Blocks are fetched in
// parallel and processed strictly in order.
func (ecp *EVMChainPoller) Poll(ctx context.Context) error {
	next, err := ecp.nextBlockNumber(ctx)
	if err != nil {
		return err
	}
	latest, err := ecp.source.LatestBlockNumber(ctx)
	if err != nil {
		ecp.logger.Sugar().Warnw("Failed to get latest block, retrying on next poll", zap.Error(err))
		return nil
	}
	if next > latest {
		ecp.logger.Sugar().Debugw("Chain head not advanced", zap.Uint64("next", next), zap.Uint64("latest", latest))
		return nil
	}
	last := latest
	if ecp.config.BlocksPerPoll > 0 && last-next+1 > ecp.config.BlocksPerPoll {
		last = next + ecp.config.BlocksPerPoll - 1
	}

	blocks, err := ecp.fetchRange(ctx, next, last)
	if err != nil {
		ecp.logger.Sugar().Warnw("Failed to fetch blocks, retrying on next poll",
			zap.Uint64("from", next),
			zap.Uint64("to", last),
			zap.Error(err),
		)
		return nil
	}

	for _, block := range blocks {
		_, err := ecp.processor.ProcessBlock(ctx, block)
		if errors.Is(err, pipeline.ErrParentMismatch) {
			return ecp.reconcileReorg(ctx, block.Number-1)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (ecp *EVMChainPoller) nextBlockNumber(ctx context.Context) (uint64, error) {
	last, err := ecp.processor.LastBlock(ctx)
	if err != nil {
		return 0, err
	}
	if last == nil {
		return ecp.config.StartBlock, nil
	}
	return last.Number + 1, nil
}

func (ecp *EVMChainPoller) fetchRange(ctx context.Context, from, to uint64) ([]*types.Block, error) {
	blocks := make([]*types.Block, to-from+1)

	g, gctx := errgroup.WithContext(ctx)
	if ecp.config.FetchConcurrency > 0 {
		g.SetLimit(ecp.config.FetchConcurrency)
	}
	for n := from; n <= to; n++ {
		n := n
		g.Go(func() error {
			block, err := ecp.source.BlockByNumber(gctx, n)
			if err != nil {
				return err
			}
			blocks[n-from] = block
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return blocks, nil
}

// reconcileReorg walks back from the given committed block until the stored hash matches the
// canonical chain again, then rewinds to that common ancestor.
func (ecp *EVMChainPoller) reconcileReorg(ctx context.Context, from uint64) error {
	sugar := ecp.logger.Sugar()
	sugar.Warnw("Reorg detected", zap.Uint64("block", from+1))

	for depth := uint64(0); depth < ecp.config.MaxReorgDepth && depth <= from; depth++ {
		number := from - depth
		stored, ok, err := ecp.processor.BlockHash(ctx, number)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: block %d is no longer journaled", ErrReorgTooDeep, number)
		}
		canonical, err := ecp.source.BlockHash(ctx, number)
		if err != nil {
			return err
		}
		if canonical == stored {
			sugar.Infow("Found common ancestor",
				zap.Uint64("ancestor", number),
				zap.Uint64("orphaned", depth),
			)
			return ecp.processor.Rewind(ctx, number)
		}
		sugar.Debugw("Orphaned block", zap.Uint64("block", number), zap.String("hash", stored.Hex()))
	}
	return fmt.Errorf("%w: searched %d blocks below %d", ErrReorgTooDeep, ecp.config.MaxReorgDepth, from+1)
}
