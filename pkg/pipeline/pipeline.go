// Package pipeline runs blocks through aggregation, accumulation and emission, and keeps the
// checkpoint store and the sink in step across reorgs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/exactly/exa-indexer/pkg/blockAggregator"
	"github.com/exactly/exa-indexer/pkg/changeset"
	"github.com/exactly/exa-indexer/pkg/deltaStore"
	"github.com/exactly/exa-indexer/pkg/deltaStore/storage"
	"github.com/exactly/exa-indexer/pkg/metrics"
	"github.com/exactly/exa-indexer/pkg/sink"
	"github.com/exactly/exa-indexer/pkg/types"
	"go.uber.org/zap"
)

// ErrParentMismatch is returned when a block does not build on the last committed block.
var ErrParentMismatch = errors.New("block parent hash does not match the last committed block")

type Config struct {
	// RetainBlocks bounds the rewindable journal; 0 keeps everything.
	RetainBlocks uint64
}

type Pipeline struct {
	aggregator *blockAggregator.Aggregator
	backend    storage.CheckpointStore
	stores     *deltaStore.Set
	sink       sink.Sink
	metrics    *metrics.Metrics
	config     *Config
	logger     *zap.Logger

	mu sync.Mutex
}

func NewPipeline(
	aggregator *blockAggregator.Aggregator,
	backend storage.CheckpointStore,
	sink sink.Sink,
	m *metrics.Metrics,
	config *Config,
	logger *zap.Logger,
) (*Pipeline, error) {
	stores, err := deltaStore.NewSet(backend, blockAggregator.Stores()...)
	if err != nil {
		return nil, err
	}
	if config == nil {
		config = &Config{}
	}
	return &Pipeline{
		aggregator: aggregator,
		backend:    backend,
		stores:     stores,
		sink:       sink,
		metrics:    m,
		config:     config,
		logger:     logger,
	}, nil
}

// ProcessBlock evaluates block on top of the last committed block. The changeset reaches the sink
// before the store state is committed; both are all-or-nothing per block, and re-applying a
// changeset to the sink is harmless, so a failed commit can be retried with the same block.
func (p *Pipeline) ProcessBlock(ctx context.Context, block *types.Block) (*changeset.Changeset, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	started := time.Now()
	cs, err := p.processBlock(ctx, block)
	if p.metrics != nil {
		p.metrics.ObserveBlock(block.Number, started, err)
	}
	if err != nil {
		p.logger.Sugar().Errorw("Failed to process block",
			zap.Uint64("block", block.Number),
			zap.String("hash", block.Hash.Hex()),
			zap.Error(err),
		)
		return nil, err
	}
	return cs, nil
}

func (p *Pipeline) processBlock(ctx context.Context, block *types.Block) (*changeset.Changeset, error) {
	last, err := p.lastBlock(ctx)
	if err != nil {
		return nil, err
	}
	if last != nil {
		if block.Number <= last.Number {
			return nil, fmt.Errorf("%w: block %d after %d", storage.ErrNonSequentialCommit, block.Number, last.Number)
		}
		if block.Number == last.Number+1 && block.ParentHash.Hex() != last.Hash {
			return nil, fmt.Errorf("%w: block %d has parent %s, committed %s", ErrParentMismatch, block.Number, block.ParentHash.Hex(), last.Hash)
		}
	}

	events, err := p.aggregator.Aggregate(ctx, block, p.backend)
	if err != nil {
		return nil, err
	}

	p.stores.Reset()
	defer p.stores.Reset()

	if err := blockAggregator.Accumulate(ctx, events, p.stores); err != nil {
		return nil, fmt.Errorf("block %d: %w", block.Number, err)
	}
	deltas := p.stores.Deltas()

	cs, err := changeset.Emit(block.Clock(), events.All, deltas, p.stores.Definitions())
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", block.Number, err)
	}

	if len(cs.Rows) > 0 {
		if err := p.sink.Apply(ctx, cs); err != nil {
			return nil, fmt.Errorf("block %d: failed to apply changeset: %w", block.Number, err)
		}
	}
	record := &storage.BlockRecord{
		Number:     block.Number,
		Hash:       block.Hash.Hex(),
		ParentHash: block.ParentHash.Hex(),
		Timestamp:  block.Timestamp,
	}
	if err := p.backend.Commit(ctx, record, deltas); err != nil {
		return nil, err
	}

	if p.config.RetainBlocks > 0 && block.Number > p.config.RetainBlocks {
		if err := p.backend.Prune(ctx, block.Number-p.config.RetainBlocks); err != nil {
			p.logger.Sugar().Warnw("Failed to prune checkpoint journal", zap.Uint64("block", block.Number), zap.Error(err))
		}
	}

	if p.metrics != nil {
		for _, ev := range events.All {
			p.metrics.AddEvent(string(ev.Kind()))
		}
		for _, d := range deltas {
			p.metrics.AddDelta(d.Store)
		}
		p.metrics.AddRows(len(cs.Rows))
	}
	p.logger.Sugar().Infow("Processed block",
		zap.Uint64("block", block.Number),
		zap.Int("events", events.Len()),
		zap.Int("deltas", len(deltas)),
		zap.Int("rows", len(cs.Rows)),
	)
	return cs, nil
}

// Rewind discards every block above toBlock from the store and the sink.
func (p *Pipeline) Rewind(ctx context.Context, toBlock uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rewind(ctx, toBlock)
}

func (p *Pipeline) rewind(ctx context.Context, toBlock uint64) error {
	last, err := p.lastBlock(ctx)
	if err != nil {
		return err
	}
	if last == nil || toBlock >= last.Number {
		return nil
	}

	if err := p.backend.Rewind(ctx, toBlock); err != nil {
		return err
	}
	if err := p.sink.Undo(ctx, toBlock); err != nil {
		return fmt.Errorf("failed to undo sink above block %d: %w", toBlock, err)
	}
	if p.metrics != nil {
		p.metrics.ObserveReorg(last.Number, toBlock)
	}
	p.logger.Sugar().Infow("Rewound blocks",
		zap.Uint64("from", last.Number),
		zap.Uint64("to", toBlock),
	)
	return nil
}

// Replay evaluates blocks in order. A block at or below the last committed block replaces it:
// everything from its height up is rewound first.
func (p *Pipeline) Replay(ctx context.Context, blocks []*types.Block) error {
	for _, block := range blocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		last, err := p.LastBlock(ctx)
		if err != nil {
			return err
		}
		if last != nil && block.Number <= last.Number {
			if block.Number == 0 {
				return fmt.Errorf("cannot replace block 0")
			}
			if err := p.Rewind(ctx, block.Number-1); err != nil {
				return err
			}
		}
		if _, err := p.ProcessBlock(ctx, block); err != nil {
			return err
		}
	}
	return nil
}

// LastBlock returns the last committed block, or nil before the first commit.
func (p *Pipeline) LastBlock(ctx context.Context) (*storage.BlockRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastBlock(ctx)
}

func (p *Pipeline) lastBlock(ctx context.Context) (*storage.BlockRecord, error) {
	last, err := p.backend.GetLastCommittedBlock(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return last, err
}

// BlockHash returns the hash a committed block was processed with.
func (p *Pipeline) BlockHash(ctx context.Context, number uint64) (common.Hash, bool, error) {
	record, err := p.backend.GetBlock(ctx, number)
	if errors.Is(err, storage.ErrNotFound) {
		return common.Hash{}, false, nil
	}
	if err != nil {
		return common.Hash{}, false, err
	}
	return common.HexToHash(record.Hash), true, nil
}
