package blockAggregator

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/exactly/exa-indexer/pkg/deltaStore"
	"github.com/exactly/exa-indexer/pkg/eventDecoder"
)

// Accumulate folds the events of a block into the stores. It is the only producer of store deltas.
func Accumulate(ctx context.Context, events *Events, stores *deltaStore.Set) error {
	shares, err := stores.Get(StoreShares)
	if err != nil {
		return err
	}
	positions, err := stores.Get(StoreFixedPositions)
	if err != nil {
		return err
	}
	enrollments, err := stores.Get(StoreEnrollments)
	if err != nil {
		return err
	}
	accounts, err := stores.Get(StoreTrackedAccounts)
	if err != nil {
		return err
	}
	markets, err := stores.Get(StoreListedMarkets)
	if err != nil {
		return err
	}

	for _, ev := range events.All {
		ordinal := ev.Metadata().Ordinal
		switch e := ev.(type) {
		case *eventDecoder.Transfer:
			amount, err := eventDecoder.ToBigInt("amount", e.Amount)
			if err != nil {
				return err
			}
			market := AddressSegment(e.Token())
			if e.From != (common.Address{}) {
				if err := shares.Apply(ctx, ordinal, deltaStore.Key(market, AddressSegment(e.From)), new(big.Int).Neg(amount)); err != nil {
					return err
				}
			}
			if e.To != (common.Address{}) {
				if err := shares.Apply(ctx, ordinal, deltaStore.Key(market, AddressSegment(e.To)), amount); err != nil {
					return err
				}
			}

		case *eventDecoder.BorrowAtMaturity:
			assets, err := eventDecoder.ToBigInt("assets", e.Assets)
			if err != nil {
				return err
			}
			fee, err := eventDecoder.ToBigInt("fee", e.Fee)
			if err != nil {
				return err
			}
			maturity, err := eventDecoder.ToBigInt("maturity", e.Maturity)
			if err != nil {
				return err
			}
			key := deltaStore.Key(AddressSegment(e.Contract), maturity.String(), AddressSegment(e.Borrower))
			if err := positions.Apply(ctx, ordinal, key, new(big.Int).Add(assets, fee)); err != nil {
				return err
			}

		case *eventDecoder.RepayAtMaturity:
			positionAssets, err := eventDecoder.ToBigInt("position_assets", e.PositionAssets)
			if err != nil {
				return err
			}
			maturity, err := eventDecoder.ToBigInt("maturity", e.Maturity)
			if err != nil {
				return err
			}
			key := deltaStore.Key(AddressSegment(e.Contract), maturity.String(), AddressSegment(e.Borrower))
			if err := positions.Apply(ctx, ordinal, key, new(big.Int).Neg(positionAssets)); err != nil {
				return err
			}

		case *eventDecoder.MarketEntered:
			if err := enrollments.Apply(ctx, ordinal, deltaStore.Key(AddressSegment(e.Market), AddressSegment(e.Account)), one); err != nil {
				return err
			}

		case *eventDecoder.MarketExited:
			if err := enrollments.Apply(ctx, ordinal, deltaStore.Key(AddressSegment(e.Market), AddressSegment(e.Account)), zero); err != nil {
				return err
			}

		case *eventDecoder.ExaAccountInitialized:
			if err := accounts.Apply(ctx, ordinal, deltaStore.Key(AddressSegment(e.Account)), one); err != nil {
				return err
			}

		case *eventDecoder.MarketListed:
			if err := markets.Apply(ctx, ordinal, deltaStore.Key(AddressSegment(e.Market)), one); err != nil {
				return err
			}
		}
	}
	return nil
}
