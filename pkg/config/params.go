package config

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const factoriesParamKey = "factories"

// ParamsError is returned when the module params string cannot be parsed. It is fatal to block evaluation.
type ParamsError struct {
	Params string
	Reason string
}

func (e *ParamsError) Error() string {
	return fmt.Sprintf("invalid params '%s': %s", e.Params, e.Reason)
}

var indexedKey = regexp.MustCompile(`^([a-zA-Z_]+)\[(\d*)\]$`)

// ParseFactoriesParam parses the factory list out of a query-string style params value, e.g.
//
//	factories[]=0xabc...&factories[]=0xdef...
//	factories[0]=0xabc...&factories[1]=0xdef...
//
// Entries with an explicit index are ordered by that index; unindexed entries keep their position.
func ParseFactoriesParam(params string) ([]common.Address, error) {
	values, err := parseIndexedList(params, factoriesParamKey)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, &ParamsError{Params: params, Reason: "missing field 'factories'"}
	}

	factories := make([]common.Address, 0, len(values))
	for _, v := range values {
		raw := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(v)), "0x")
		if len(raw) != 2*common.AddressLength {
			return nil, &ParamsError{Params: params, Reason: fmt.Sprintf("'%s' is not a 20 byte address", v)}
		}
		b, err := hexutil.Decode("0x" + raw)
		if err != nil {
			return nil, &ParamsError{Params: params, Reason: fmt.Sprintf("'%s' is not hex: %v", v, err)}
		}
		factories = append(factories, common.BytesToAddress(b))
	}
	return factories, nil
}

type indexedValue struct {
	index    int
	position int
	value    string
}

func parseIndexedList(params string, key string) ([]string, error) {
	params = strings.TrimSpace(params)
	if params == "" {
		return nil, nil
	}

	var entries []indexedValue
	position := 0
	for _, pair := range strings.Split(params, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, found := strings.Cut(pair, "=")
		if !found {
			return nil, &ParamsError{Params: params, Reason: fmt.Sprintf("'%s' is not a key=value pair", pair)}
		}
		k, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, &ParamsError{Params: params, Reason: err.Error()}
		}
		v, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, &ParamsError{Params: params, Reason: err.Error()}
		}

		index := -1
		name := k
		if m := indexedKey.FindStringSubmatch(k); m != nil {
			name = m[1]
			if m[2] != "" {
				index, err = strconv.Atoi(m[2])
				if err != nil {
					return nil, &ParamsError{Params: params, Reason: err.Error()}
				}
			}
		}
		if name != key {
			return nil, &ParamsError{Params: params, Reason: fmt.Sprintf("unknown field '%s'", name)}
		}
		if index < 0 {
			index = position
		}
		entries = append(entries, indexedValue{index: index, position: position, value: v})
		position++
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].index < entries[j].index
	})
	values := make([]string, 0, len(entries))
	for _, e := range entries {
		values = append(values, e.value)
	}
	return values, nil
}
