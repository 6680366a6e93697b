package blockAggregator

import (
	"encoding/hex"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/exactly/exa-indexer/pkg/deltaStore"
)

const (
	StoreShares          = "shares"
	StoreFixedPositions  = "fixed_positions"
	StoreEnrollments     = "enrollments"
	StoreTrackedAccounts = "tracked_accounts"
	StoreListedMarkets   = "listed_markets"
)

// Stores declares every store the aggregator produces into, in emission order.
func Stores() []deltaStore.Definition {
	return []deltaStore.Definition{
		{Name: StoreShares, Policy: deltaStore.PolicyAdd, Segments: []string{"market", "account"}, ValueColumn: "amount"},
		{Name: StoreFixedPositions, Policy: deltaStore.PolicyAdd, Segments: []string{"market", "maturity", "borrower"}, ValueColumn: "amount"},
		{Name: StoreEnrollments, Policy: deltaStore.PolicySet, Segments: []string{"market", "account"}, ValueColumn: "entered"},
		{Name: StoreTrackedAccounts, Policy: deltaStore.PolicySet, Segments: []string{"account"}, ValueColumn: "tracked"},
		{Name: StoreListedMarkets, Policy: deltaStore.PolicySet, Segments: []string{"market"}, ValueColumn: "listed"},
	}
}

// AddressSegment renders an address as a key segment: lowercase hex without prefix.
func AddressSegment(address common.Address) string {
	return hex.EncodeToString(address.Bytes())
}

var (
	one  = big.NewInt(1)
	zero = big.NewInt(0)
)
