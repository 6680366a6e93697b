package eventDecoder

import (
	"github.com/exactly/exa-indexer/pkg/abis"
	"github.com/exactly/exa-indexer/pkg/contractRegistry"
)

// KindInfo describes how a kind is recognized and where its rows go.
type KindInfo struct {
	Kind  Kind
	Role  contractRegistry.Role
	Abi   string
	Event string
	Table string
	// ContractColumn names the column holding the emitting contract; empty when it is not recorded.
	ContractColumn string
	// UpsertKey, when set, makes rows of this kind upserts keyed by these columns instead of
	// per-log inserts keyed by (block, ordinal).
	UpsertKey []string

	new func() DomainEvent
}

var kindInfos = []KindInfo{
	{Kind: KindTransfer, Role: contractRegistry.RoleMarket, Abi: abis.Market, Event: "Transfer", Table: "transfers", ContractColumn: "market",
		new: func() DomainEvent { return &Transfer{} }},
	{Kind: KindDeposit, Role: contractRegistry.RoleMarket, Abi: abis.Market, Event: "Deposit", Table: "deposits", ContractColumn: "market",
		new: func() DomainEvent { return &Deposit{} }},
	{Kind: KindWithdraw, Role: contractRegistry.RoleMarket, Abi: abis.Market, Event: "Withdraw", Table: "withdraws", ContractColumn: "market",
		new: func() DomainEvent { return &Withdraw{} }},
	{Kind: KindBorrow, Role: contractRegistry.RoleMarket, Abi: abis.Market, Event: "Borrow", Table: "borrows", ContractColumn: "market",
		new: func() DomainEvent { return &Borrow{} }},
	{Kind: KindRepay, Role: contractRegistry.RoleMarket, Abi: abis.Market, Event: "Repay", Table: "repays", ContractColumn: "market",
		new: func() DomainEvent { return &Repay{} }},
	{Kind: KindBorrowAtMaturity, Role: contractRegistry.RoleMarket, Abi: abis.Market, Event: "BorrowAtMaturity", Table: "borrows_at_maturity", ContractColumn: "market",
		new: func() DomainEvent { return &BorrowAtMaturity{} }},
	{Kind: KindRepayAtMaturity, Role: contractRegistry.RoleMarket, Abi: abis.Market, Event: "RepayAtMaturity", Table: "repays_at_maturity", ContractColumn: "market",
		new: func() DomainEvent { return &RepayAtMaturity{} }},
	{Kind: KindLiquidate, Role: contractRegistry.RoleMarket, Abi: abis.Market, Event: "Liquidate", Table: "liquidations", ContractColumn: "market",
		new: func() DomainEvent { return &Liquidate{} }},

	{Kind: KindMarketListed, Role: contractRegistry.RoleAuditor, Abi: abis.Auditor, Event: "MarketListed", Table: "markets_listed",
		new: func() DomainEvent { return &MarketListed{} }},
	{Kind: KindMarketEntered, Role: contractRegistry.RoleAuditor, Abi: abis.Auditor, Event: "MarketEntered", Table: "markets_entered",
		new: func() DomainEvent { return &MarketEntered{} }},
	{Kind: KindMarketExited, Role: contractRegistry.RoleAuditor, Abi: abis.Auditor, Event: "MarketExited", Table: "markets_exited",
		new: func() DomainEvent { return &MarketExited{} }},

	{Kind: KindExaAccountInitialized, Role: contractRegistry.RoleFactory, Abi: abis.Factory, Event: "ExaAccountInitialized", Table: "exa_accounts", ContractColumn: "factory",
		new: func() DomainEvent { return &ExaAccountInitialized{} }},
	{Kind: KindPluginInstalled, Role: contractRegistry.RoleAccount, Abi: abis.Account, Event: "PluginInstalled", Table: "exa_plugins", ContractColumn: "account",
		UpsertKey: []string{"address", "account"},
		new:       func() DomainEvent { return &PluginInstalled{} }},
	{Kind: KindProposalManagerSet, Role: contractRegistry.RolePlugin, Abi: abis.Plugin, Event: "ProposalManagerSet", Table: "proposal_managers", ContractColumn: "plugin",
		new: func() DomainEvent { return &ProposalManagerSet{} }},
	{Kind: KindProposed, Role: contractRegistry.RoleProposalManager, Abi: abis.ProposalManager, Event: "Proposed", Table: "proposals",
		new: func() DomainEvent { return &Proposed{} }},
	{Kind: KindProposalNonceSet, Role: contractRegistry.RoleProposalManager, Abi: abis.ProposalManager, Event: "ProposalNonceSet", Table: "proposal_nonces",
		new: func() DomainEvent { return &ProposalNonceSet{} }},

	{Kind: KindAnswerUpdated, Role: contractRegistry.RoleOracle, Abi: abis.Oracle, Event: "AnswerUpdated", Table: "prices", ContractColumn: "oracle",
		new: func() DomainEvent { return &AnswerUpdated{} }},
}

var kindInfoByKind = func() map[Kind]*KindInfo {
	m := make(map[Kind]*KindInfo, len(kindInfos))
	for i := range kindInfos {
		m[kindInfos[i].Kind] = &kindInfos[i]
	}
	return m
}()

// Describe returns the table layout of a kind.
func Describe(kind Kind) (KindInfo, bool) {
	info, ok := kindInfoByKind[kind]
	if !ok {
		return KindInfo{}, false
	}
	return *info, true
}

// Kinds lists every recognized kind in declaration order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(kindInfos))
	for _, info := range kindInfos {
		kinds = append(kinds, info.Kind)
	}
	return kinds
}
