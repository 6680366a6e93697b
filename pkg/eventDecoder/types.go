// Package eventDecoder turns raw logs of known contracts into typed domain events.
// Amount-like fields are kept as base-10 strings; ToBigInt converts them when they are aggregated.
package eventDecoder

import (
	"github.com/ethereum/go-ethereum/common"
)

type Kind string

const (
	KindTransfer              Kind = "transfer"
	KindDeposit               Kind = "deposit"
	KindWithdraw              Kind = "withdraw"
	KindBorrow                Kind = "borrow"
	KindRepay                 Kind = "repay"
	KindBorrowAtMaturity      Kind = "borrow_at_maturity"
	KindRepayAtMaturity       Kind = "repay_at_maturity"
	KindLiquidate             Kind = "liquidate"
	KindMarketListed          Kind = "market_listed"
	KindMarketEntered         Kind = "market_entered"
	KindMarketExited          Kind = "market_exited"
	KindExaAccountInitialized Kind = "exa_account_initialized"
	KindPluginInstalled       Kind = "plugin_installed"
	KindProposalManagerSet    Kind = "proposal_manager_set"
	KindProposed              Kind = "proposed"
	KindProposalNonceSet      Kind = "proposal_nonce_set"
	KindAnswerUpdated         Kind = "answer_updated"
)

// DomainEvent is one decoded log. Concrete types embed Meta.
type DomainEvent interface {
	Kind() Kind
	Metadata() *Meta
}

// Meta carries what every event has regardless of kind.
type Meta struct {
	kind     Kind
	Contract common.Address
	Ordinal  uint64
	TxHash   common.Hash
}

func (m *Meta) Kind() Kind      { return m.kind }
func (m *Meta) Metadata() *Meta { return m }

// market

type Transfer struct {
	Meta
	From   common.Address `abi:"from"`
	To     common.Address `abi:"to"`
	Amount string         `abi:"amount"`
}

// Token is the market whose shares moved.
func (t *Transfer) Token() common.Address { return t.Contract }

type Deposit struct {
	Meta
	Caller common.Address `abi:"caller"`
	Owner  common.Address `abi:"owner"`
	Assets string         `abi:"assets"`
	Shares string         `abi:"shares"`
}

type Withdraw struct {
	Meta
	Caller   common.Address `abi:"caller"`
	Receiver common.Address `abi:"receiver"`
	Owner    common.Address `abi:"owner"`
	Assets   string         `abi:"assets"`
	Shares   string         `abi:"shares"`
}

type Borrow struct {
	Meta
	Caller   common.Address `abi:"caller"`
	Receiver common.Address `abi:"receiver"`
	Borrower common.Address `abi:"borrower"`
	Assets   string         `abi:"assets"`
	Shares   string         `abi:"shares"`
}

type Repay struct {
	Meta
	Caller   common.Address `abi:"caller"`
	Borrower common.Address `abi:"borrower"`
	Assets   string         `abi:"assets"`
	Shares   string         `abi:"shares"`
}

type BorrowAtMaturity struct {
	Meta
	Maturity string         `abi:"maturity"`
	Caller   common.Address `abi:"caller"`
	Receiver common.Address `abi:"receiver"`
	Borrower common.Address `abi:"borrower"`
	Assets   string         `abi:"assets"`
	Fee      string         `abi:"fee"`
}

type RepayAtMaturity struct {
	Meta
	Maturity       string         `abi:"maturity"`
	Caller         common.Address `abi:"caller"`
	Borrower       common.Address `abi:"borrower"`
	Assets         string         `abi:"assets"`
	PositionAssets string         `abi:"positionAssets"`
}

type Liquidate struct {
	Meta
	Receiver      common.Address `abi:"receiver"`
	Borrower      common.Address `abi:"borrower"`
	Assets        string         `abi:"assets"`
	LendersAssets string         `abi:"lendersAssets"`
	SeizeMarket   common.Address `abi:"seizeMarket"`
	SeizedAssets  string         `abi:"seizedAssets"`
}

// auditor

type MarketListed struct {
	Meta
	Market   common.Address `abi:"market"`
	Decimals uint8          `abi:"decimals"`
}

type MarketEntered struct {
	Meta
	Market  common.Address `abi:"market"`
	Account common.Address `abi:"account"`
}

type MarketExited struct {
	Meta
	Market  common.Address `abi:"market"`
	Account common.Address `abi:"account"`
}

// factory, accounts and plugin

type ExaAccountInitialized struct {
	Meta
	Account common.Address `abi:"account"`
}

type PluginInstalled struct {
	Meta
	Plugin       common.Address `abi:"plugin" col:"address"`
	ManifestHash common.Hash    `abi:"manifestHash"`
	Dependencies []string       `abi:"dependencies"`
}

type ProposalManagerSet struct {
	Meta
	ProposalManager common.Address `abi:"proposalManager"`
}

type Proposed struct {
	Meta
	Account      common.Address `abi:"account"`
	Nonce        string         `abi:"nonce"`
	Market       common.Address `abi:"market"`
	ProposalType uint8          `abi:"proposalType"`
	Amount       string         `abi:"amount"`
	Data         []byte         `abi:"data"`
	Unlock       string         `abi:"unlock"`
}

type ProposalNonceSet struct {
	Meta
	Account  common.Address `abi:"account"`
	Nonce    string         `abi:"nonce"`
	Executed bool           `abi:"executed"`
}

// oracle

type AnswerUpdated struct {
	Meta
	Current   string `abi:"current"`
	RoundId   string `abi:"roundId"`
	UpdatedAt string `abi:"updatedAt"`
}
