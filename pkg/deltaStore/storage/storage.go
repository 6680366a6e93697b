package storage

import (
	"context"
	"math/big"
)

// Reader is the read side of the committed store state, as of the last committed block.
type Reader interface {
	Get(ctx context.Context, store string, key string) (*big.Int, bool, error)
}

// CheckpointStore persists store values together with a per-block delta journal, so that the
// state as of any retained block can be restored.
type CheckpointStore interface {
	Reader

	// Commit applies deltas and records block atomically. Blocks must be committed in increasing order.
	Commit(ctx context.Context, block *BlockRecord, deltas []Delta) error
	// Rewind reverts every block above toBlock, newest first.
	Rewind(ctx context.Context, toBlock uint64) error
	// Prune drops the journal of blocks below belowBlock. They can no longer be rewound.
	Prune(ctx context.Context, belowBlock uint64) error

	GetBlock(ctx context.Context, number uint64) (*BlockRecord, error)
	GetLastCommittedBlock(ctx context.Context) (*BlockRecord, error)

	Close() error
}

type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
)

// Delta is one recorded change of one store key.
type Delta struct {
	Store     string    `json:"store"`
	Key       string    `json:"key"`
	Operation Operation `json:"operation"`
	Ordinal   uint64    `json:"ordinal"`
	OldValue  *big.Int  `json:"oldValue"`
	NewValue  *big.Int  `json:"newValue"`
}

// BlockRecord stores essential block information for reorg detection
type BlockRecord struct {
	Number     uint64 `json:"number"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parentHash"`
	Timestamp  uint64 `json:"timestamp"`
}

// JournalEntry is what a commit leaves behind for a later rewind.
type JournalEntry struct {
	Block  BlockRecord `json:"block"`
	Deltas []Delta     `json:"deltas"`
}

// Reverted returns the value a key held before d, or remove when d created it.
func Reverted(d Delta) (value *big.Int, remove bool) {
	if d.Operation == OperationCreate || d.OldValue == nil {
		return nil, true
	}
	return new(big.Int).Set(d.OldValue), false
}
