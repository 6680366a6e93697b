// Package sink delivers changesets downstream.
package sink

import (
	"context"
	"strings"
	"sync"

	"github.com/exactly/exa-indexer/pkg/changeset"
)

type Sink interface {
	// Apply writes one block's changeset as a unit.
	Apply(ctx context.Context, cs *changeset.Changeset) error
	// Undo removes everything written for blocks above toBlock.
	Undo(ctx context.Context, toBlock uint64) error
	Close() error
}

// MemorySink keeps applied changesets in memory, newest last.
type MemorySink struct {
	mu         sync.Mutex
	changesets []*changeset.Changeset
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Apply(ctx context.Context, cs *changeset.Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changesets = append(s.changesets, cs)
	return nil
}

func (s *MemorySink) Undo(ctx context.Context, toBlock uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.changesets[:0]
	for _, cs := range s.changesets {
		if cs.Clock.Number <= toBlock {
			kept = append(kept, cs)
		}
	}
	s.changesets = kept
	return nil
}

func (s *MemorySink) Changesets() []*changeset.Changeset {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*changeset.Changeset, len(s.changesets))
	copy(out, s.changesets)
	return out
}

// Table returns the current rows of a table in first-write order. Upsert rows replace the row
// with the same primary key, so after an Undo the newest surviving version is the one returned.
func (s *MemorySink) Table(name string) []changeset.Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []changeset.Row
	index := make(map[string]int)
	for _, cs := range s.changesets {
		for _, row := range cs.Rows {
			if row.Table != name {
				continue
			}
			values := make([]string, 0, len(row.PrimaryKey))
			for _, f := range row.PrimaryKey {
				values = append(values, f.Value)
			}
			key := strings.Join(values, ":")
			i, ok := index[key]
			switch {
			case !ok:
				index[key] = len(out)
				out = append(out, row)
			case row.Operation == changeset.OperationUpsert:
				out[i] = row
			}
		}
	}
	return out
}

func (s *MemorySink) Close() error {
	return nil
}
