package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// LogEntry is a single event log as delivered by the block source.
// Ordinal is the log's position in the block's global order and strictly increases within a block.
type LogEntry struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
	Ordinal uint64         `json:"ordinal"`
	TxHash  common.Hash    `json:"transactionHash"`
}

// Signature returns the first topic, or the zero hash for anonymous logs.
func (l *LogEntry) Signature() common.Hash {
	if len(l.Topics) == 0 {
		return common.Hash{}
	}
	return l.Topics[0]
}

type Block struct {
	Number     uint64      `json:"number"`
	Hash       common.Hash `json:"hash"`
	ParentHash common.Hash `json:"parentHash"`
	Timestamp  uint64      `json:"timestamp"`
	Logs       []LogEntry  `json:"logs"`
}

// Clock identifies a block for downstream consumers.
type Clock struct {
	Number    uint64
	Hash      common.Hash
	Timestamp uint64
}

func (b *Block) Clock() Clock {
	return Clock{
		Number:    b.Number,
		Hash:      b.Hash,
		Timestamp: b.Timestamp,
	}
}

// Validate checks that log ordinals strictly increase.
func (b *Block) Validate() error {
	for i := 1; i < len(b.Logs); i++ {
		if b.Logs[i].Ordinal <= b.Logs[i-1].Ordinal {
			return fmt.Errorf("block %d: log ordinal %d at position %d does not follow %d",
				b.Number, b.Logs[i].Ordinal, i, b.Logs[i-1].Ordinal)
		}
	}
	return nil
}
