package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	badgerv3 "github.com/dgraph-io/badger/v3"
	"github.com/exactly/exa-indexer/pkg/deltaStore/storage"
	"github.com/exactly/exa-indexer/pkg/indexerConfig"
)

// Key layout
const (
	prefixValue   = "v:%s:%s" // store:key
	prefixJournal = "j:"
	keyJournal    = "j:%020d" // blockNumber, zero padded so keys sort numerically
	keyLastBlock  = "last"
	keyPruned     = "pruned"
	keyFloor      = "floor" // newest pruned block record
)

// BadgerCheckpointStore implements the CheckpointStore interface using BadgerDB
type BadgerCheckpointStore struct {
	db       *badgerv3.DB
	mu       sync.RWMutex
	closed   bool
	closeCh  chan struct{}
	gcTicker *time.Ticker
}

func NewBadgerCheckpointStore(cfg *indexerConfig.BadgerConfig) (*BadgerCheckpointStore, error) {
	if cfg == nil {
		return nil, errors.New("badger config is nil")
	}

	opts := badgerv3.DefaultOptions(cfg.Dir)
	opts.Logger = nil

	if cfg.InMemory {
		opts.InMemory = true
		opts.Dir = ""
		opts.ValueDir = ""
	}
	if cfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = cfg.ValueLogFileSize
	}
	if cfg.NumVersionsToKeep > 0 {
		opts.NumVersionsToKeep = cfg.NumVersionsToKeep
	}
	if cfg.NumLevelZeroTables > 0 {
		opts.NumLevelZeroTables = cfg.NumLevelZeroTables
	}
	if cfg.NumLevelZeroTablesStall > 0 {
		opts.NumLevelZeroTablesStall = cfg.NumLevelZeroTablesStall
	}

	db, err := badgerv3.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	s := &BadgerCheckpointStore{
		db:      db,
		closeCh: make(chan struct{}),
	}

	s.gcTicker = time.NewTicker(5 * time.Minute)
	go s.runGC()

	return s, nil
}

func (s *BadgerCheckpointStore) runGC() {
	for {
		select {
		case <-s.gcTicker.C:
			s.mu.RLock()
			if s.closed {
				s.mu.RUnlock()
				return
			}
			s.mu.RUnlock()

			_ = s.db.RunValueLogGC(0.5)
		case <-s.closeCh:
			return
		}
	}
}

func (s *BadgerCheckpointStore) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *BadgerCheckpointStore) Get(ctx context.Context, store string, key string) (*big.Int, bool, error) {
	if s.isClosed() {
		return nil, false, storage.ErrStoreClosed
	}

	var value *big.Int
	err := s.db.View(func(txn *badgerv3.Txn) error {
		item, err := txn.Get([]byte(fmt.Sprintf(prefixValue, store, key)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, ok := new(big.Int).SetString(string(val), 10)
			if !ok {
				return fmt.Errorf("corrupt value for %s:%s", store, key)
			}
			value = v
			return nil
		})
	})
	if errors.Is(err, badgerv3.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s:%s: %w", store, key, err)
	}
	return value, true, nil
}

func (s *BadgerCheckpointStore) Commit(ctx context.Context, block *storage.BlockRecord, deltas []storage.Delta) error {
	if s.isClosed() {
		return storage.ErrStoreClosed
	}
	if block == nil {
		return errors.New("block record is nil")
	}

	entry, err := json.Marshal(&storage.JournalEntry{Block: *block, Deltas: deltas})
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}
	record, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("failed to marshal block record: %w", err)
	}

	err = s.db.Update(func(txn *badgerv3.Txn) error {
		last, err := getLastBlock(txn)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if last != nil && block.Number <= last.Number {
			return fmt.Errorf("%w: block %d after %d", storage.ErrNonSequentialCommit, block.Number, last.Number)
		}

		for _, d := range deltas {
			key := []byte(fmt.Sprintf(prefixValue, d.Store, d.Key))
			if d.NewValue == nil {
				if err := txn.Delete(key); err != nil {
					return err
				}
				continue
			}
			if err := txn.Set(key, []byte(d.NewValue.String())); err != nil {
				return err
			}
		}
		if err := txn.Set([]byte(fmt.Sprintf(keyJournal, block.Number)), entry); err != nil {
			return err
		}
		return txn.Set([]byte(keyLastBlock), record)
	})
	if err != nil {
		return fmt.Errorf("failed to commit block %d: %w", block.Number, err)
	}
	return nil
}

func (s *BadgerCheckpointStore) Rewind(ctx context.Context, toBlock uint64) error {
	if s.isClosed() {
		return storage.ErrStoreClosed
	}

	err := s.db.Update(func(txn *badgerv3.Txn) error {
		last, err := getLastBlock(txn)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if toBlock >= last.Number {
			return nil
		}
		pruned, err := getPruned(txn)
		if err != nil {
			return err
		}
		if toBlock < pruned {
			return fmt.Errorf("%w: block %d, journal starts at %d", storage.ErrRewindTooDeep, toBlock, pruned)
		}

		var (
			reverted [][]byte
			entries  []storage.JournalEntry
			head     *storage.BlockRecord
		)
		opts := badgerv3.DefaultIteratorOptions
		opts.Prefix = []byte(prefixJournal)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		for it.Seek([]byte(fmt.Sprintf(keyJournal, last.Number))); it.Valid(); it.Next() {
			item := it.Item()
			var entry storage.JournalEntry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				it.Close()
				return fmt.Errorf("failed to unmarshal journal entry: %w", err)
			}
			if entry.Block.Number <= toBlock {
				record := entry.Block
				head = &record
				break
			}
			reverted = append(reverted, item.KeyCopy(nil))
			entries = append(entries, entry)
		}
		it.Close()

		for _, entry := range entries {
			for j := len(entry.Deltas) - 1; j >= 0; j-- {
				d := entry.Deltas[j]
				key := []byte(fmt.Sprintf(prefixValue, d.Store, d.Key))
				value, remove := storage.Reverted(d)
				if remove {
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				if err := txn.Set(key, []byte(value.String())); err != nil {
					return err
				}
			}
		}
		for _, key := range reverted {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		if head == nil {
			head, err = getFloor(txn)
			if err != nil {
				return err
			}
		}
		if head == nil {
			return txn.Delete([]byte(keyLastBlock))
		}
		record, err := json.Marshal(head)
		if err != nil {
			return err
		}
		return txn.Set([]byte(keyLastBlock), record)
	})
	if err != nil {
		return fmt.Errorf("failed to rewind to block %d: %w", toBlock, err)
	}
	return nil
}

func (s *BadgerCheckpointStore) Prune(ctx context.Context, belowBlock uint64) error {
	if s.isClosed() {
		return storage.ErrStoreClosed
	}

	err := s.db.Update(func(txn *badgerv3.Txn) error {
		last, err := getLastBlock(txn)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		var stale [][]byte
		opts := badgerv3.DefaultIteratorOptions
		opts.Prefix = []byte(prefixJournal)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			number, err := strconv.ParseUint(string(it.Item().Key()[len(prefixJournal):]), 10, 64)
			if err != nil {
				it.Close()
				return fmt.Errorf("corrupt journal key %q: %w", it.Item().Key(), err)
			}
			if number >= belowBlock {
				break
			}
			if last != nil && number == last.Number {
				continue
			}
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()

		if len(stale) > 0 {
			item, err := txn.Get(stale[len(stale)-1])
			if err != nil {
				return err
			}
			var entry storage.JournalEntry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return fmt.Errorf("failed to unmarshal journal entry: %w", err)
			}
			floor, err := json.Marshal(entry.Block)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(keyFloor), floor); err != nil {
				return err
			}
		}

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		pruned, err := getPruned(txn)
		if err != nil {
			return err
		}
		if belowBlock > pruned {
			return txn.Set([]byte(keyPruned), []byte(strconv.FormatUint(belowBlock, 10)))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to prune below block %d: %w", belowBlock, err)
	}
	return nil
}

func (s *BadgerCheckpointStore) GetBlock(ctx context.Context, number uint64) (*storage.BlockRecord, error) {
	if s.isClosed() {
		return nil, storage.ErrStoreClosed
	}

	var entry storage.JournalEntry
	err := s.db.View(func(txn *badgerv3.Txn) error {
		item, err := txn.Get([]byte(fmt.Sprintf(keyJournal, number)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if errors.Is(err, badgerv3.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block %d: %w", number, err)
	}
	return &entry.Block, nil
}

func (s *BadgerCheckpointStore) GetLastCommittedBlock(ctx context.Context) (*storage.BlockRecord, error) {
	if s.isClosed() {
		return nil, storage.ErrStoreClosed
	}

	var record *storage.BlockRecord
	err := s.db.View(func(txn *badgerv3.Txn) error {
		var err error
		record, err = getLastBlock(txn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Close shuts down the store
func (s *BadgerCheckpointStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	close(s.closeCh)
	s.gcTicker.Stop()

	return s.db.Close()
}

func getLastBlock(txn *badgerv3.Txn) (*storage.BlockRecord, error) {
	item, err := txn.Get([]byte(keyLastBlock))
	if errors.Is(err, badgerv3.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var record storage.BlockRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &record)
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block record: %w", err)
	}
	return &record, nil
}

func getFloor(txn *badgerv3.Txn) (*storage.BlockRecord, error) {
	item, err := txn.Get([]byte(keyFloor))
	if errors.Is(err, badgerv3.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var record storage.BlockRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &record)
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal floor record: %w", err)
	}
	return &record, nil
}

func getPruned(txn *badgerv3.Txn) (uint64, error) {
	item, err := txn.Get([]byte(keyPruned))
	if errors.Is(err, badgerv3.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var pruned uint64
	err = item.Value(func(val []byte) error {
		var err error
		pruned, err = strconv.ParseUint(string(val), 10, 64)
		return err
	})
	return pruned, err
}
