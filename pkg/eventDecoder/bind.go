package eventDecoder

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// fieldBinding ties one struct field to one ABI argument.
type fieldBinding struct {
	index    int
	argument string
	column   string
}

var metaType = reflect.TypeOf(Meta{})

// planBindings validates the struct of a kind against its ABI event and records which field
// receives which argument. Every tagged field must exist in the event.
func planBindings(info *KindInfo, event abi.Event) ([]fieldBinding, error) {
	t := reflect.TypeOf(info.new()).Elem()
	arguments := make(map[string]struct{}, len(event.Inputs))
	for _, input := range event.Inputs {
		arguments[input.Name] = struct{}{}
	}

	bindings := make([]fieldBinding, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Type == metaType {
			continue
		}
		argument := f.Tag.Get("abi")
		if argument == "" {
			return nil, fmt.Errorf("%s: field %s has no abi tag", info.Kind, f.Name)
		}
		if _, ok := arguments[argument]; !ok {
			return nil, fmt.Errorf("%s: event %s has no argument '%s'", info.Kind, event.Name, argument)
		}
		column := f.Tag.Get("col")
		if column == "" {
			column = snakeCase(argument)
		}
		bindings = append(bindings, fieldBinding{index: i, argument: argument, column: column})
	}
	return bindings, nil
}

func bind(target DomainEvent, bindings []fieldBinding, values map[string]interface{}) error {
	v := reflect.ValueOf(target).Elem()
	for _, b := range bindings {
		src, ok := values[b.argument]
		if !ok {
			return fmt.Errorf("argument '%s' missing from decoded log", b.argument)
		}
		if err := assign(v.Field(b.index), src); err != nil {
			return fmt.Errorf("argument '%s': %w", b.argument, err)
		}
	}
	return nil
}

func assign(dst reflect.Value, src interface{}) error {
	switch dst.Interface().(type) {
	case string:
		s, err := decimalString(src)
		if err != nil {
			return err
		}
		dst.SetString(s)
		return nil
	case common.Address:
		a, ok := src.(common.Address)
		if !ok {
			return fmt.Errorf("expected address, got %T", src)
		}
		dst.Set(reflect.ValueOf(a))
		return nil
	case common.Hash:
		switch h := src.(type) {
		case [32]byte:
			dst.Set(reflect.ValueOf(common.Hash(h)))
		case common.Hash:
			dst.Set(reflect.ValueOf(h))
		default:
			return fmt.Errorf("expected bytes32, got %T", src)
		}
		return nil
	case []string:
		return assignHexList(dst, src)
	}

	sv := reflect.ValueOf(src)
	if sv.IsValid() && sv.Type().AssignableTo(dst.Type()) {
		dst.Set(sv)
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", src, dst.Type())
}

func decimalString(src interface{}) (string, error) {
	switch n := src.(type) {
	case *big.Int:
		if n == nil {
			return "", fmt.Errorf("nil integer")
		}
		return n.String(), nil
	case uint8:
		return strconv.FormatUint(uint64(n), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(n), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(n), 10), nil
	case uint64:
		return strconv.FormatUint(n, 10), nil
	case int64:
		return strconv.FormatInt(n, 10), nil
	}
	return "", fmt.Errorf("expected integer, got %T", src)
}

// assignHexList renders a list of fixed byte arrays (e.g. bytes21[]) as hex strings.
func assignHexList(dst reflect.Value, src interface{}) error {
	sv := reflect.ValueOf(src)
	if sv.Kind() != reflect.Slice {
		return fmt.Errorf("expected list, got %T", src)
	}
	out := make([]string, sv.Len())
	for i := 0; i < sv.Len(); i++ {
		elem := sv.Index(i)
		if elem.Kind() != reflect.Array || elem.Type().Elem().Kind() != reflect.Uint8 {
			return fmt.Errorf("expected list of byte arrays, got %T", src)
		}
		b := make([]byte, elem.Len())
		reflect.Copy(reflect.ValueOf(b), elem)
		out[i] = hex.EncodeToString(b)
	}
	dst.Set(reflect.ValueOf(out))
	return nil
}

// Field is one decoded argument of an event, named by its column.
type Field struct {
	Name  string
	Value interface{}
}

// Fields returns the decoded arguments of ev in declaration order.
func Fields(ev DomainEvent) []Field {
	bindings := bindingsByKind[ev.Kind()]
	v := reflect.ValueOf(ev).Elem()
	fields := make([]Field, 0, len(bindings))
	for _, b := range bindings {
		fields = append(fields, Field{Name: b.column, Value: v.Field(b.index).Interface()})
	}
	return fields
}

func snakeCase(name string) string {
	var sb strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
