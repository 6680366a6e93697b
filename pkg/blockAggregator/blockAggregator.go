package blockAggregator

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/exactly/exa-indexer/pkg/contractRegistry"
	"github.com/exactly/exa-indexer/pkg/deltaStore/storage"
	"github.com/exactly/exa-indexer/pkg/eventDecoder"
	"github.com/exactly/exa-indexer/pkg/types"
	"go.uber.org/zap"
)

// Events is the ordered list of domain events of one block.
type Events struct {
	All []eventDecoder.DomainEvent
}

// ByKind returns the events of kind, ordinal order preserved.
func (e *Events) ByKind(kind eventDecoder.Kind) []eventDecoder.DomainEvent {
	out := make([]eventDecoder.DomainEvent, 0)
	for _, ev := range e.All {
		if ev.Kind() == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (e *Events) Len() int {
	return len(e.All)
}

type Aggregator struct {
	decoder  *eventDecoder.Decoder
	registry *contractRegistry.Registry
	logger   *zap.Logger
}

func NewAggregator(decoder *eventDecoder.Decoder, registry *contractRegistry.Registry, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		decoder:  decoder,
		registry: registry,
		logger:   logger,
	}
}

// blockScope tracks addresses that became resolvable earlier in the block being aggregated.
// Anything not initialized in this block is resolved against the committed stores.
type blockScope struct {
	ctx       context.Context
	committed storage.Reader
	accounts  map[common.Address]uint64
	markets   map[common.Address]uint64
}

func (b *blockScope) lookup(store string, seen map[common.Address]uint64) contractRegistry.TrackedLookup {
	return func(address common.Address) (bool, error) {
		if _, ok := seen[address]; ok {
			return true, nil
		}
		v, ok, err := b.committed.Get(b.ctx, store, AddressSegment(address))
		if err != nil {
			return false, err
		}
		return ok && v.Sign() != 0, nil
	}
}

// Aggregate decodes the logs of block in ordinal order. committed must reflect the state as of the
// previous block. An account created by a known factory, or a market listed by the auditor, is
// decoded from the ordinal after its creation onward. A repeated creation log is still returned as
// an event, it just does not move the point where the address became resolvable.
func (a *Aggregator) Aggregate(ctx context.Context, block *types.Block, committed storage.Reader) (*Events, error) {
	if err := block.Validate(); err != nil {
		return nil, err
	}

	scope := &blockScope{
		ctx:       ctx,
		committed: committed,
		accounts:  make(map[common.Address]uint64),
		markets:   make(map[common.Address]uint64),
	}
	view := a.registry.View().
		WithDynamic(contractRegistry.RoleMarket, scope.lookup(StoreListedMarkets, scope.markets)).
		WithDynamic(contractRegistry.RoleAccount, scope.lookup(StoreTrackedAccounts, scope.accounts))

	events := &Events{All: make([]eventDecoder.DomainEvent, 0)}
	for i := range block.Logs {
		log := &block.Logs[i]
		ev, err := a.decoder.Decode(log, view)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", block.Number, err)
		}
		if ev == nil {
			continue
		}

		// only role resolution is deduplicated here
		switch e := ev.(type) {
		case *eventDecoder.ExaAccountInitialized:
			if _, ok := scope.accounts[e.Account]; !ok {
				scope.accounts[e.Account] = e.Ordinal
			}
		case *eventDecoder.MarketListed:
			if _, ok := scope.markets[e.Market]; !ok {
				scope.markets[e.Market] = e.Ordinal
			}
		}
		events.All = append(events.All, ev)
	}

	a.logger.Sugar().Debugw("Aggregated block",
		zap.Uint64("block", block.Number),
		zap.Int("logs", len(block.Logs)),
		zap.Int("events", events.Len()),
	)
	return events, nil
}
