package changeset

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"
)

// Lines renders the changeset as stable text, one row per line after a clock header.
func (cs *Changeset) Lines() []string {
	lines := make([]string, 0, len(cs.Rows)+1)
	lines = append(lines, fmt.Sprintf("block %d %s %d", cs.Clock.Number, hexString(cs.Clock.Hash.Bytes()), cs.Clock.Timestamp))
	for _, row := range cs.Rows {
		lines = append(lines, row.String())
	}
	return lines
}

func (r Row) String() string {
	var sb strings.Builder
	sb.WriteString(r.Table)
	sb.WriteByte(' ')
	sb.WriteString(string(r.Operation))
	sb.WriteString(" [")
	writeFields(&sb, r.PrimaryKey)
	sb.WriteString("]")
	if len(r.Fields) > 0 {
		sb.WriteByte(' ')
		writeFields(&sb, r.Fields)
	}
	return sb.String()
}

func writeFields(sb *strings.Builder, fields []Field) {
	for i, f := range fields {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(f.Name)
		sb.WriteByte('=')
		sb.WriteString(f.Value)
	}
}

// ToProto renders the changeset as a protobuf Struct, the wire form of the stdout sink.
func (cs *Changeset) ToProto() (*structpb.Struct, error) {
	rows := make([]interface{}, 0, len(cs.Rows))
	for _, row := range cs.Rows {
		rows = append(rows, map[string]interface{}{
			"table":      row.Table,
			"operation":  string(row.Operation),
			"primaryKey": fieldList(row.PrimaryKey),
			"fields":     fieldList(row.Fields),
		})
	}
	return structpb.NewStruct(map[string]interface{}{
		"clock": map[string]interface{}{
			"number":    cs.Clock.Number,
			"hash":      hexString(cs.Clock.Hash.Bytes()),
			"timestamp": cs.Clock.Timestamp,
		},
		"rows": rows,
	})
}

// fieldList keeps column order, which a map would lose.
func fieldList(fields []Field) []interface{} {
	out := make([]interface{}, 0, len(fields))
	for _, f := range fields {
		out = append(out, map[string]interface{}{
			"name":  f.Name,
			"value": f.Value,
			"type":  f.Type.String(),
		})
	}
	return out
}
