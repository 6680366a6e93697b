package chainPoller

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/exactly/exa-indexer/pkg/changeset"
	"github.com/exactly/exa-indexer/pkg/deltaStore/storage"
	"github.com/exactly/exa-indexer/pkg/types"
)

type IChainPoller interface {
	Start(ctx context.Context) error
}

// BlockProcessor is the part of the pipeline a poller drives.
type BlockProcessor interface {
	ProcessBlock(ctx context.Context, block *types.Block) (*changeset.Changeset, error)
	Replay(ctx context.Context, blocks []*types.Block) error
	Rewind(ctx context.Context, toBlock uint64) error
	LastBlock(ctx context.Context) (*storage.BlockRecord, error)
	BlockHash(ctx context.Context, number uint64) (common.Hash, bool, error)
}
