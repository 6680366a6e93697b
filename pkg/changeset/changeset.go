// Package changeset turns the events and store deltas of a block into relational row mutations.
package changeset

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/exactly/exa-indexer/pkg/deltaStore"
	"github.com/exactly/exa-indexer/pkg/eventDecoder"
	"github.com/exactly/exa-indexer/pkg/types"
)

type FieldType int

const (
	FieldTypeString FieldType = iota
	FieldTypeHex
	FieldTypeInt
	FieldTypeBigInt
	FieldTypeBool
)

func (t FieldType) String() string {
	switch t {
	case FieldTypeString:
		return "string"
	case FieldTypeHex:
		return "hex"
	case FieldTypeInt:
		return "int"
	case FieldTypeBigInt:
		return "bigint"
	case FieldTypeBool:
		return "bool"
	}
	return "unknown"
}

type Field struct {
	Name  string
	Value string
	Type  FieldType
}

type Operation string

const (
	// OperationCreate inserts a row that never changes once written.
	OperationCreate Operation = "create"
	// OperationUpsert inserts a row or overwrites the non-key columns of an existing one.
	OperationUpsert Operation = "upsert"
)

type Row struct {
	Table      string
	PrimaryKey []Field
	Operation  Operation
	Fields     []Field
}

// Changeset is the ordered list of row mutations of one block.
type Changeset struct {
	Clock types.Clock
	Rows  []Row
}

const (
	TableBlocks = "blocks"

	columnBlock   = "block"
	columnOrdinal = "ordinal"
)

// numericSegments are store key segments holding decimal numbers rather than addresses.
var numericSegments = map[string]struct{}{
	"maturity": {},
}

// Emit builds the changeset of a block. Event rows come first, then delta rows, each in ordinal
// order. The blocks anchor row leads, and is only present when there is anything else to write.
func Emit(clock types.Clock, events []eventDecoder.DomainEvent, deltas []deltaStore.Delta, defs []deltaStore.Definition) (*Changeset, error) {
	cs := &Changeset{Clock: clock, Rows: make([]Row, 0, len(events)+len(deltas)+1)}

	for _, ev := range events {
		row, err := eventRow(clock, ev)
		if err != nil {
			return nil, err
		}
		cs.Rows = append(cs.Rows, row)
	}

	byName := make(map[string]deltaStore.Definition, len(defs))
	for _, def := range defs {
		byName[def.Name] = def
	}
	for _, d := range deltas {
		def, ok := byName[d.Store]
		if !ok {
			return nil, fmt.Errorf("%w: %s", deltaStore.ErrUnknownStore, d.Store)
		}
		row, err := deltaRow(clock, def, d)
		if err != nil {
			return nil, err
		}
		cs.Rows = append(cs.Rows, row)
	}

	if len(cs.Rows) > 0 {
		anchor := Row{
			Table:      TableBlocks,
			Operation:  OperationCreate,
			PrimaryKey: []Field{{Name: "number", Value: strconv.FormatUint(clock.Number, 10), Type: FieldTypeInt}},
			Fields:     []Field{{Name: "timestamp", Value: strconv.FormatUint(clock.Timestamp, 10), Type: FieldTypeInt}},
		}
		cs.Rows = append([]Row{anchor}, cs.Rows...)
	}
	return cs, nil
}

func eventRow(clock types.Clock, ev eventDecoder.DomainEvent) (Row, error) {
	info, ok := eventDecoder.Describe(ev.Kind())
	if !ok {
		return Row{}, fmt.Errorf("no table for event kind '%s'", ev.Kind())
	}
	meta := ev.Metadata()

	columns := make([]Field, 0)
	if info.ContractColumn != "" {
		columns = append(columns, Field{Name: info.ContractColumn, Value: hexString(meta.Contract.Bytes()), Type: FieldTypeHex})
	}
	for _, f := range eventDecoder.Fields(ev) {
		field, err := encode(f.Name, f.Value)
		if err != nil {
			return Row{}, fmt.Errorf("%s.%s: %w", info.Table, f.Name, err)
		}
		columns = append(columns, field)
	}
	columns = append(columns,
		Field{Name: "transaction_hash", Value: hexString(meta.TxHash.Bytes()), Type: FieldTypeHex},
		Field{Name: columnBlock, Value: strconv.FormatUint(clock.Number, 10), Type: FieldTypeInt},
		Field{Name: columnOrdinal, Value: strconv.FormatUint(meta.Ordinal, 10), Type: FieldTypeInt},
	)

	if len(info.UpsertKey) == 0 {
		return splitRow(info.Table, OperationCreate, columns, []string{columnBlock, columnOrdinal})
	}
	return splitRow(info.Table, OperationUpsert, columns, info.UpsertKey)
}

func deltaRow(clock types.Clock, def deltaStore.Definition, d deltaStore.Delta) (Row, error) {
	segments, err := def.SplitKey(d.Key)
	if err != nil {
		return Row{}, err
	}
	if d.NewValue == nil {
		return Row{}, fmt.Errorf("%s:%s has no value", d.Store, d.Key)
	}

	pk := make([]Field, 0, len(segments)+2)
	for i, segment := range segments {
		t := FieldTypeHex
		if _, ok := numericSegments[def.Segments[i]]; ok {
			t = FieldTypeBigInt
		}
		pk = append(pk, Field{Name: def.Segments[i], Value: segment, Type: t})
	}
	pk = append(pk,
		Field{Name: columnBlock, Value: strconv.FormatUint(clock.Number, 10), Type: FieldTypeInt},
		Field{Name: columnOrdinal, Value: strconv.FormatUint(d.Ordinal, 10), Type: FieldTypeInt},
	)
	return Row{
		Table:      def.Name,
		Operation:  OperationCreate,
		PrimaryKey: pk,
		Fields:     []Field{{Name: def.ValueColumn, Value: d.NewValue.String(), Type: FieldTypeBigInt}},
	}, nil
}

// splitRow moves the key columns, in key order, into the primary key.
func splitRow(table string, op Operation, columns []Field, key []string) (Row, error) {
	row := Row{Table: table, Operation: op}
	byName := make(map[string]Field, len(columns))
	for _, c := range columns {
		byName[c.Name] = c
	}
	isKey := make(map[string]struct{}, len(key))
	for _, name := range key {
		c, ok := byName[name]
		if !ok {
			return Row{}, fmt.Errorf("%s: key column '%s' not found", table, name)
		}
		row.PrimaryKey = append(row.PrimaryKey, c)
		isKey[name] = struct{}{}
	}
	for _, c := range columns {
		if _, ok := isKey[c.Name]; !ok {
			row.Fields = append(row.Fields, c)
		}
	}
	return row, nil
}

func encode(name string, value interface{}) (Field, error) {
	switch v := value.(type) {
	case common.Address:
		return Field{Name: name, Value: hexString(v.Bytes()), Type: FieldTypeHex}, nil
	case common.Hash:
		return Field{Name: name, Value: hexString(v.Bytes()), Type: FieldTypeHex}, nil
	case []byte:
		return Field{Name: name, Value: hexString(v), Type: FieldTypeHex}, nil
	case string:
		// decoded numerals; validate so nothing non-numeric reaches a numeric column
		if _, err := eventDecoder.ToBigInt(name, v); err != nil {
			return Field{}, err
		}
		return Field{Name: name, Value: v, Type: FieldTypeBigInt}, nil
	case uint8:
		return Field{Name: name, Value: strconv.FormatUint(uint64(v), 10), Type: FieldTypeInt}, nil
	case bool:
		return Field{Name: name, Value: strconv.FormatBool(v), Type: FieldTypeBool}, nil
	case []string:
		return Field{Name: name, Value: strings.Join(v, ","), Type: FieldTypeString}, nil
	}
	return Field{}, fmt.Errorf("unsupported value type %T", value)
}

func hexString(b []byte) string {
	return hex.EncodeToString(b)
}
