package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/exactly/exa-indexer/pkg/deltaStore/storage"
)

// InMemoryCheckpointStore implements CheckpointStore with maps and a per-block journal
type InMemoryCheckpointStore struct {
	mu          sync.RWMutex
	closed      bool
	values      map[string]*big.Int
	journal     map[uint64]*storage.JournalEntry
	last        *storage.BlockRecord
	prunedBelow uint64
	// floor is the newest block whose journal entry was pruned
	floor *storage.BlockRecord
}

func NewInMemoryCheckpointStore() *InMemoryCheckpointStore {
	return &InMemoryCheckpointStore{
		values:  make(map[string]*big.Int),
		journal: make(map[uint64]*storage.JournalEntry),
	}
}

func valueKey(store string, key string) string {
	return fmt.Sprintf("%s:%s", store, key)
}

func (s *InMemoryCheckpointStore) Get(ctx context.Context, store string, key string) (*big.Int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, storage.ErrStoreClosed
	}
	v, ok := s.values[valueKey(store, key)]
	if !ok {
		return nil, false, nil
	}
	return new(big.Int).Set(v), true, nil
}

func (s *InMemoryCheckpointStore) Commit(ctx context.Context, block *storage.BlockRecord, deltas []storage.Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrStoreClosed
	}
	if block == nil {
		return fmt.Errorf("block record is nil")
	}
	if s.last != nil && block.Number <= s.last.Number {
		return fmt.Errorf("%w: block %d after %d", storage.ErrNonSequentialCommit, block.Number, s.last.Number)
	}

	entry := &storage.JournalEntry{
		Block:  *block,
		Deltas: make([]storage.Delta, len(deltas)),
	}
	for i, d := range deltas {
		entry.Deltas[i] = copyDelta(d)
		if d.NewValue == nil {
			delete(s.values, valueKey(d.Store, d.Key))
			continue
		}
		s.values[valueKey(d.Store, d.Key)] = new(big.Int).Set(d.NewValue)
	}
	s.journal[block.Number] = entry
	record := *block
	s.last = &record
	return nil
}

func (s *InMemoryCheckpointStore) Rewind(ctx context.Context, toBlock uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrStoreClosed
	}
	if s.last == nil || toBlock >= s.last.Number {
		return nil
	}
	if toBlock < s.prunedBelow {
		return fmt.Errorf("%w: block %d, journal starts at %d", storage.ErrRewindTooDeep, toBlock, s.prunedBelow)
	}

	numbers := s.journalNumbers()
	var head *storage.BlockRecord
	for i := len(numbers) - 1; i >= 0; i-- {
		entry := s.journal[numbers[i]]
		if numbers[i] <= toBlock {
			record := entry.Block
			head = &record
			break
		}
		for j := len(entry.Deltas) - 1; j >= 0; j-- {
			d := entry.Deltas[j]
			value, remove := storage.Reverted(d)
			if remove {
				delete(s.values, valueKey(d.Store, d.Key))
				continue
			}
			s.values[valueKey(d.Store, d.Key)] = value
		}
		delete(s.journal, numbers[i])
	}
	if head == nil && s.floor != nil {
		record := *s.floor
		head = &record
	}
	s.last = head
	return nil
}

func (s *InMemoryCheckpointStore) Prune(ctx context.Context, belowBlock uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrStoreClosed
	}
	for number, entry := range s.journal {
		if number < belowBlock && (s.last == nil || number != s.last.Number) {
			if s.floor == nil || number > s.floor.Number {
				record := entry.Block
				s.floor = &record
			}
			delete(s.journal, number)
		}
	}
	if belowBlock > s.prunedBelow {
		s.prunedBelow = belowBlock
	}
	return nil
}

func (s *InMemoryCheckpointStore) GetBlock(ctx context.Context, number uint64) (*storage.BlockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrStoreClosed
	}
	entry, ok := s.journal[number]
	if !ok {
		return nil, storage.ErrNotFound
	}
	record := entry.Block
	return &record, nil
}

func (s *InMemoryCheckpointStore) GetLastCommittedBlock(ctx context.Context) (*storage.BlockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrStoreClosed
	}
	if s.last == nil {
		return nil, storage.ErrNotFound
	}
	record := *s.last
	return &record, nil
}

func (s *InMemoryCheckpointStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func (s *InMemoryCheckpointStore) journalNumbers() []uint64 {
	numbers := make([]uint64, 0, len(s.journal))
	for number := range s.journal {
		numbers = append(numbers, number)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	return numbers
}

func copyDelta(d storage.Delta) storage.Delta {
	if d.OldValue != nil {
		d.OldValue = new(big.Int).Set(d.OldValue)
	}
	if d.NewValue != nil {
		d.NewValue = new(big.Int).Set(d.NewValue)
	}
	return d
}
