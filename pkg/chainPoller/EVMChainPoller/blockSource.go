package EVMChainPoller

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/exactly/exa-indexer/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BlockSource delivers canonical blocks with their logs.
type BlockSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number uint64) (*types.Block, error)
	BlockHash(ctx context.Context, number uint64) (common.Hash, error)
}

type ethClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error)
}

// EthBlockSource reads blocks over JSON-RPC.
type EthBlockSource struct {
	client    ethClient
	addresses []common.Address
	logger    *zap.Logger
}

func DialEthBlockSource(ctx context.Context, rpcUrl string, logger *zap.Logger) (*EthBlockSource, error) {
	client, err := ethclient.DialContext(ctx, rpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcUrl, err)
	}
	return NewEthBlockSource(client, nil, logger), nil
}

// NewEthBlockSource filters logs to addresses when given; otherwise every log of the block is fetched.
func NewEthBlockSource(client ethClient, addresses []common.Address, logger *zap.Logger) *EthBlockSource {
	return &EthBlockSource{
		client:    client,
		addresses: addresses,
		logger:    logger,
	}
}

func (s *EthBlockSource) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return s.client.BlockNumber(ctx)
}

func (s *EthBlockSource) BlockHash(ctx context.Context, number uint64) (common.Hash, error) {
	header, err := s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get header %d: %w", number, err)
	}
	return header.Hash(), nil
}

func (s *EthBlockSource) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	var (
		header *ethtypes.Header
		logs   []ethtypes.Log
	)
	n := new(big.Int).SetUint64(number)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h, err := s.client.HeaderByNumber(gctx, n)
		if err != nil {
			return fmt.Errorf("failed to get header %d: %w", number, err)
		}
		header = h
		return nil
	})
	g.Go(func() error {
		l, err := s.client.FilterLogs(gctx, ethereum.FilterQuery{
			FromBlock: n,
			ToBlock:   n,
			Addresses: s.addresses,
		})
		if err != nil {
			return fmt.Errorf("failed to get logs for block %d: %w", number, err)
		}
		logs = l
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	hash := header.Hash()
	block := &types.Block{
		Number:     number,
		Hash:       hash,
		ParentHash: header.ParentHash,
		Timestamp:  header.Time,
		Logs:       make([]types.LogEntry, 0, len(logs)),
	}
	for _, l := range logs {
		if l.Removed {
			continue
		}
		// the head moved between the two calls
		if l.BlockHash != hash {
			return nil, fmt.Errorf("block %d: log %d belongs to %s, header is %s", number, l.Index, l.BlockHash.Hex(), hash.Hex())
		}
		block.Logs = append(block.Logs, types.LogEntry{
			Address: l.Address,
			Topics:  l.Topics,
			Data:    l.Data,
			Ordinal: uint64(l.Index),
			TxHash:  l.TxHash,
		})
	}
	s.logger.Sugar().Debugw("Fetched block", zap.Uint64("block", number), zap.Int("logs", len(block.Logs)))
	return block, nil
}
