// Package deltaStore holds the block-local side of the versioned key-value stores: pending values
// on top of the committed state, and the ordered deltas a block produced.
package deltaStore

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/exactly/exa-indexer/pkg/deltaStore/storage"
)

type Policy int

const (
	// PolicyAdd sums values into the key; an unseen key is zero.
	PolicyAdd Policy = iota
	// PolicySet overwrites the key; an unseen key is absent.
	PolicySet
)

func (p Policy) String() string {
	switch p {
	case PolicyAdd:
		return "add"
	case PolicySet:
		return "set"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

type Delta = storage.Delta

var (
	ErrOrdinalRegression = errors.New("ordinal is lower than the store's last applied ordinal")
	ErrUnknownStore      = errors.New("unknown store")
	ErrKeyArity          = errors.New("key does not match the store's segments")
)

// Definition declares a store and how its keys decompose into columns.
type Definition struct {
	Name        string
	Policy      Policy
	Segments    []string
	ValueColumn string
}

const keySeparator = ":"

// Key joins key segments. Segments must not contain the separator.
func Key(segments ...string) string {
	return strings.Join(segments, keySeparator)
}

// SplitKey decomposes key into the segments of def.
func (def Definition) SplitKey(key string) ([]string, error) {
	parts := strings.Split(key, keySeparator)
	if len(parts) != len(def.Segments) {
		return nil, fmt.Errorf("%w: '%s' has %d segments, %s expects %d", ErrKeyArity, key, len(parts), def.Name, len(def.Segments))
	}
	return parts, nil
}

// Store is one named store for the block being evaluated.
type Store struct {
	def     Definition
	backend storage.Reader

	pending map[string]*big.Int
	deltas  []Delta
	// lastDelta indexes the most recent delta of each key
	lastDelta   map[string]int
	lastOrdinal uint64
}

func newStore(def Definition, backend storage.Reader) *Store {
	s := &Store{
		def:     def,
		backend: backend,
	}
	s.Reset()
	return s
}

func (s *Store) Definition() Definition {
	return s.def
}

// GetLast returns the value of key as of the latest applied delta, falling back to the committed state.
func (s *Store) GetLast(ctx context.Context, key string) (*big.Int, bool, error) {
	if v, ok := s.pending[key]; ok {
		if v == nil {
			return nil, false, nil
		}
		return new(big.Int).Set(v), true, nil
	}
	v, ok, err := s.backend.Get(ctx, s.def.Name, key)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s:%s: %w", s.def.Name, key, err)
	}
	return v, ok, nil
}

// Apply folds value into key at ordinal according to the store policy and records the delta.
// Ordinals must not decrease. A second change of the same key at the same ordinal is merged into
// the first one's delta.
func (s *Store) Apply(ctx context.Context, ordinal uint64, key string, value *big.Int) error {
	if value == nil {
		return fmt.Errorf("%s:%s: nil value", s.def.Name, key)
	}
	if len(s.deltas) > 0 && ordinal < s.lastOrdinal {
		return fmt.Errorf("%w: %s got %d after %d", ErrOrdinalRegression, s.def.Name, ordinal, s.lastOrdinal)
	}

	old, exists, err := s.GetLast(ctx, key)
	if err != nil {
		return err
	}

	var next *big.Int
	switch s.def.Policy {
	case PolicyAdd:
		if old == nil {
			next = new(big.Int).Set(value)
		} else {
			next = new(big.Int).Add(old, value)
		}
	case PolicySet:
		next = new(big.Int).Set(value)
	default:
		return fmt.Errorf("%s: unsupported policy %s", s.def.Name, s.def.Policy)
	}

	s.pending[key] = next
	s.lastOrdinal = ordinal

	if i, ok := s.lastDelta[key]; ok && s.deltas[i].Ordinal == ordinal {
		s.deltas[i].NewValue = new(big.Int).Set(next)
		return nil
	}

	d := Delta{
		Store:    s.def.Name,
		Key:      key,
		Ordinal:  ordinal,
		NewValue: new(big.Int).Set(next),
	}
	if exists {
		d.Operation = storage.OperationUpdate
		d.OldValue = old
	} else {
		d.Operation = storage.OperationCreate
		if s.def.Policy == PolicyAdd {
			d.OldValue = big.NewInt(0)
		}
	}
	s.deltas = append(s.deltas, d)
	s.lastDelta[key] = len(s.deltas) - 1
	return nil
}

// Deltas returns a copy of the deltas applied since the last reset, in ordinal order.
func (s *Store) Deltas() []Delta {
	out := make([]Delta, len(s.deltas))
	copy(out, s.deltas)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

// Reset drops everything applied since the last reset.
func (s *Store) Reset() {
	s.pending = make(map[string]*big.Int)
	s.deltas = nil
	s.lastDelta = make(map[string]int)
	s.lastOrdinal = 0
}

// Set is the collection of stores evaluated together for a block.
type Set struct {
	stores map[string]*Store
	order  []string
}

func NewSet(backend storage.Reader, defs ...Definition) (*Set, error) {
	set := &Set{
		stores: make(map[string]*Store, len(defs)),
		order:  make([]string, 0, len(defs)),
	}
	for _, def := range defs {
		if def.Name == "" || len(def.Segments) == 0 || def.ValueColumn == "" {
			return nil, fmt.Errorf("store definition %q is incomplete", def.Name)
		}
		if _, ok := set.stores[def.Name]; ok {
			return nil, fmt.Errorf("store %s declared twice", def.Name)
		}
		set.stores[def.Name] = newStore(def, backend)
		set.order = append(set.order, def.Name)
	}
	return set, nil
}

func (s *Set) Get(name string) (*Store, error) {
	store, ok := s.stores[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStore, name)
	}
	return store, nil
}

// Definitions lists the store definitions in declaration order.
func (s *Set) Definitions() []Definition {
	defs := make([]Definition, 0, len(s.order))
	for _, name := range s.order {
		defs = append(defs, s.stores[name].def)
	}
	return defs
}

// Deltas merges the deltas of every store by ordinal; ties keep declaration order.
func (s *Set) Deltas() []Delta {
	var all []Delta
	for _, name := range s.order {
		all = append(all, s.stores[name].Deltas()...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Ordinal < all[j].Ordinal })
	return all
}

func (s *Set) Reset() {
	for _, store := range s.stores {
		store.Reset()
	}
}
