package eventDecoder

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/exactly/exa-indexer/pkg/abis"
	"github.com/exactly/exa-indexer/pkg/contractRegistry"
	"github.com/exactly/exa-indexer/pkg/types"
	"go.uber.org/zap"
)

type boundEvent struct {
	info     *KindInfo
	event    abi.Event
	indexed  abi.Arguments
	data     abi.Arguments
	bindings []fieldBinding
}

var (
	eventTable     map[contractRegistry.Role]map[common.Hash]*boundEvent
	bindingsByKind map[Kind][]fieldBinding
)

func init() {
	var err error
	eventTable, bindingsByKind, err = buildEventTable()
	if err != nil {
		panic(err)
	}
}

// buildEventTable resolves every kind against its embedded ABI, keyed by role then topic0.
func buildEventTable() (map[contractRegistry.Role]map[common.Hash]*boundEvent, map[Kind][]fieldBinding, error) {
	table := make(map[contractRegistry.Role]map[common.Hash]*boundEvent)
	bindings := make(map[Kind][]fieldBinding)
	parsed := make(map[string]*abi.ABI)

	for i := range kindInfos {
		info := &kindInfos[i]
		a, ok := parsed[info.Abi]
		if !ok {
			var err error
			a, err = abis.Load(info.Abi)
			if err != nil {
				return nil, nil, err
			}
			parsed[info.Abi] = a
		}
		event, ok := a.Events[info.Event]
		if !ok {
			return nil, nil, fmt.Errorf("%s: event %s not found in abi %s", info.Kind, info.Event, info.Abi)
		}
		plan, err := planBindings(info, event)
		if err != nil {
			return nil, nil, err
		}

		var indexed abi.Arguments
		for _, input := range event.Inputs {
			if input.Indexed {
				indexed = append(indexed, input)
			}
		}

		if table[info.Role] == nil {
			table[info.Role] = make(map[common.Hash]*boundEvent)
		}
		if existing, ok := table[info.Role][event.ID]; ok {
			return nil, nil, fmt.Errorf("%s and %s share signature %s within role %s", existing.info.Kind, info.Kind, event.ID.Hex(), info.Role)
		}
		table[info.Role][event.ID] = &boundEvent{
			info:     info,
			event:    event,
			indexed:  indexed,
			data:     event.Inputs.NonIndexed(),
			bindings: plan,
		}
		bindings[info.Kind] = plan
	}
	return table, bindings, nil
}

// Decoder matches logs against the events expected from the role of their emitting contract.
type Decoder struct {
	events map[contractRegistry.Role]map[common.Hash]*boundEvent
	logger *zap.Logger
}

func NewDecoder(logger *zap.Logger) *Decoder {
	return &Decoder{
		events: eventTable,
		logger: logger,
	}
}

// Decode returns the domain event for log, or nil when the log comes from an unknown contract or
// does not match any event shape of the contract's role.
func (d *Decoder) Decode(log *types.LogEntry, resolver contractRegistry.Resolver) (DomainEvent, error) {
	role, ok, err := resolver.Role(log.Address)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	be, ok := d.events[role][log.Signature()]
	if !ok {
		d.logger.Sugar().Debugw("Skipping log with unknown signature",
			zap.String("address", log.Address.Hex()),
			zap.String("role", string(role)),
			zap.String("signature", log.Signature().Hex()),
			zap.Uint64("ordinal", log.Ordinal),
		)
		return nil, nil
	}
	// same topic0 with a different number of indexed arguments is a different event shape
	if len(log.Topics)-1 != len(be.indexed) {
		d.logger.Sugar().Debugw("Skipping log with mismatched topic count",
			zap.String("address", log.Address.Hex()),
			zap.String("event", be.event.Name),
			zap.Int("topics", len(log.Topics)),
			zap.Uint64("ordinal", log.Ordinal),
		)
		return nil, nil
	}

	values := make(map[string]interface{}, len(be.event.Inputs))
	if err := abi.ParseTopicsIntoMap(values, be.indexed, log.Topics[1:]); err != nil {
		return nil, d.decodeError(log, be, err)
	}
	if err := be.data.UnpackIntoMap(values, log.Data); err != nil {
		return nil, d.decodeError(log, be, err)
	}

	ev := be.info.new()
	if err := bind(ev, be.bindings, values); err != nil {
		return nil, d.decodeError(log, be, err)
	}
	meta := ev.Metadata()
	meta.kind = be.info.Kind
	meta.Contract = log.Address
	meta.Ordinal = log.Ordinal
	meta.TxHash = log.TxHash
	return ev, nil
}

func (d *Decoder) decodeError(log *types.LogEntry, be *boundEvent, err error) error {
	d.logger.Sugar().Errorw("Failed to decode log",
		zap.String("address", log.Address.Hex()),
		zap.String("event", be.event.Name),
		zap.Uint64("ordinal", log.Ordinal),
		zap.Error(err),
	)
	return &DecodeError{
		Address: log.Address,
		Ordinal: log.Ordinal,
		Kind:    be.info.Kind,
		Err:     err,
	}
}

// Signatures lists the topic0 values recognized for role, sorted.
func (d *Decoder) Signatures(role contractRegistry.Role) []common.Hash {
	signatures := make([]common.Hash, 0, len(d.events[role]))
	for signature := range d.events[role] {
		signatures = append(signatures, signature)
	}
	sort.Slice(signatures, func(i, j int) bool {
		return bytes.Compare(signatures[i][:], signatures[j][:]) < 0
	})
	return signatures
}

// Topic returns the topic0 of a kind.
func Topic(kind Kind) (common.Hash, bool) {
	info, ok := kindInfoByKind[kind]
	if !ok {
		return common.Hash{}, false
	}
	for signature, be := range eventTable[info.Role] {
		if be.info.Kind == kind {
			return signature, true
		}
	}
	return common.Hash{}, false
}
