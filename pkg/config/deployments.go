package config

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// ContractSet lists the statically known contract addresses of a deployment, grouped by role.
// Markets listed later through the auditor are discovered at runtime and do not need to be here.
type ContractSet struct {
	Markets          []string `json:"markets" yaml:"markets"`
	Auditors         []string `json:"auditors" yaml:"auditors"`
	Factories        []string `json:"factories" yaml:"factories"`
	Plugins          []string `json:"plugins" yaml:"plugins"`
	ProposalManagers []string `json:"proposalManagers" yaml:"proposalManagers"`
	Oracles          []string `json:"oracles" yaml:"oracles"`
}

type addressRole struct {
	name string
	list *[]string
}

func (cs *ContractSet) roles() []addressRole {
	return []addressRole{
		{"markets", &cs.Markets},
		{"auditors", &cs.Auditors},
		{"factories", &cs.Factories},
		{"plugins", &cs.Plugins},
		{"proposalManagers", &cs.ProposalManagers},
		{"oracles", &cs.Oracles},
	}
}

// AddressError reports a contract list entry that is not a 20-byte hex address.
type AddressError struct {
	Role    string
	Index   int
	Address string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("contracts.%s[%d]: '%s' is not a 20-byte hex address", e.Role, e.Index, e.Address)
}

// InvalidAddresses returns every entry of the set that is not a 20-byte hex address.
func (cs ContractSet) InvalidAddresses() []*AddressError {
	var out []*AddressError
	for _, role := range cs.roles() {
		for i, address := range *role.list {
			if !common.IsHexAddress(address) {
				out = append(out, &AddressError{Role: role.name, Index: i, Address: address})
			}
		}
	}
	return out
}

// UnmarshalJSON only accepts string entries. YAML reads an unquoted 0x literal as an integer,
// which would otherwise come through as a different, shorter address.
func (cs *ContractSet) UnmarshalJSON(data []byte) error {
	var raw map[string][]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out ContractSet
	for _, role := range out.roles() {
		entries, ok := raw[role.name]
		if !ok {
			continue
		}
		list := make([]string, 0, len(entries))
		for i, entry := range entries {
			var address string
			if err := json.Unmarshal(entry, &address); err != nil {
				return fmt.Errorf("contracts.%s[%d]: expected a quoted address string, got %s", role.name, i, string(entry))
			}
			list = append(list, address)
		}
		*role.list = list
	}
	if invalid := out.InvalidAddresses(); len(invalid) > 0 {
		return invalid[0]
	}
	*cs = out
	return nil
}

// Deployment is one deployment target: a chain plus the contracts indexed on it.
type Deployment struct {
	Name       string      `json:"name" yaml:"name"`
	ChainId    ChainId     `json:"chainId" yaml:"chainId"`
	StartBlock uint64      `json:"startBlock" yaml:"startBlock"`
	Contracts  ContractSet `json:"contracts" yaml:"contracts"`
}

const (
	Deployment_Optimism        = "optimism"
	Deployment_OptimismSepolia = "op-sepolia"
	Deployment_Anvil           = "anvil"
)

var builtinDeployments = map[string]Deployment{
	Deployment_Optimism: {
		Name:       Deployment_Optimism,
		ChainId:    ChainId_OptimismMainnet,
		StartBlock: 99_811_375,
		Contracts: ContractSet{
			Auditors: []string{"0xaeb62e6f27bc103702e7bc879ae98bcea56f027e"},
			Markets: []string{
				"0x6926b434cce9b5b7966ae1bfeef6d0a7dcf3a8bb",
				"0xc4d4500326981eacd020e20a81b1c479c161c7ef",
				"0xa430a427bd00210506589906a71b54d6c256cedb",
			},
		},
	},
	Deployment_OptimismSepolia: {
		Name:    Deployment_OptimismSepolia,
		ChainId: ChainId_OptimismSepolia,
	},
	Deployment_Anvil: {
		Name:    Deployment_Anvil,
		ChainId: ChainId_Anvil,
	},
}

// BuiltinDeploymentNames returns the names of the compiled-in deployment targets, sorted.
func BuiltinDeploymentNames() []string {
	names := make([]string, 0, len(builtinDeployments))
	for name := range builtinDeployments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SelectDeployment resolves a deployment target by name. Entries in overrides take precedence
// over the built-in targets; their contract lists are appended to the built-in ones.
func SelectDeployment(name string, overrides map[string]Deployment) (*Deployment, error) {
	base, builtin := builtinDeployments[name]
	override, overridden := overrides[name]
	if !builtin && !overridden {
		return nil, fmt.Errorf("unknown deployment target '%s'", name)
	}
	if !overridden {
		d := base.clone()
		return &d, nil
	}
	if !builtin {
		d := override.clone()
		d.Name = name
		return &d, nil
	}

	d := base.clone()
	if override.ChainId != 0 {
		d.ChainId = override.ChainId
	}
	if override.StartBlock != 0 {
		d.StartBlock = override.StartBlock
	}
	d.Contracts = d.Contracts.Merge(override.Contracts)
	return &d, nil
}

// Merge returns the union of both sets with addresses normalized and de-duplicated, order preserved.
func (cs ContractSet) Merge(other ContractSet) ContractSet {
	return ContractSet{
		Markets:          mergeAddresses(cs.Markets, other.Markets),
		Auditors:         mergeAddresses(cs.Auditors, other.Auditors),
		Factories:        mergeAddresses(cs.Factories, other.Factories),
		Plugins:          mergeAddresses(cs.Plugins, other.Plugins),
		ProposalManagers: mergeAddresses(cs.ProposalManagers, other.ProposalManagers),
		Oracles:          mergeAddresses(cs.Oracles, other.Oracles),
	}
}

func (d Deployment) clone() Deployment {
	d.Contracts = d.Contracts.Merge(ContractSet{})
	return d
}

func mergeAddresses(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, list := range lists {
		for _, address := range list {
			address = NormalizeAddress(address)
			if _, ok := seen[address]; ok {
				continue
			}
			seen[address] = struct{}{}
			out = append(out, address)
		}
	}
	return out
}
