package eventDecoder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// DecodeError is returned when a log matched a known signature of its contract's role but its
// payload could not be decoded. Callers may skip the log or fail the block.
type DecodeError struct {
	Address common.Address
	Ordinal uint64
	Kind    Kind
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s log at ordinal %d from %s: %v", e.Kind, e.Ordinal, e.Address.Hex(), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NumericError is returned when a decoded numeral is not a base-10 integer.
type NumericError struct {
	Field string
	Value string
}

func (e *NumericError) Error() string {
	return fmt.Sprintf("field '%s' is not a decimal integer: '%s'", e.Field, e.Value)
}

// ToBigInt parses a decoded base-10 numeral.
func ToBigInt(field string, value string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, &NumericError{Field: field, Value: value}
	}
	return n, nil
}
