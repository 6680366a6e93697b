package contractRegistry

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/exactly/exa-indexer/pkg/config"
	"go.uber.org/zap"
)

type Role string

const (
	RoleMarket          Role = "market"
	RoleAuditor         Role = "auditor"
	RoleFactory         Role = "factory"
	RolePlugin          Role = "plugin"
	RoleProposalManager Role = "proposal-manager"
	RoleOracle          Role = "oracle"

	// RoleAccount is only ever resolved dynamically, for accounts created by a known factory.
	RoleAccount Role = "account"
)

var ErrRoleConflict = errors.New("address registered under more than one role")

// Resolver maps a contract address to the role its logs are decoded as.
type Resolver interface {
	Role(address common.Address) (Role, bool, error)
}

// Registry is the fixed address set of a deployment, built once at startup.
type Registry struct {
	roles  map[common.Address]Role
	logger *zap.Logger
}

func NewRegistry(contracts map[Role][]common.Address, logger *zap.Logger) (*Registry, error) {
	roles := make(map[common.Address]Role)
	for role, addresses := range contracts {
		for _, address := range addresses {
			if existing, ok := roles[address]; ok && existing != role {
				return nil, fmt.Errorf("%w: %s is both %s and %s", ErrRoleConflict, address.Hex(), existing, role)
			}
			roles[address] = role
		}
	}
	logger.Sugar().Debugw("Built contract registry", "contracts", len(roles))
	return &Registry{
		roles:  roles,
		logger: logger,
	}, nil
}

// NewRegistryFromContractSet builds a registry from a deployment's contract set plus any extra factories
// supplied through the module params.
func NewRegistryFromContractSet(cs config.ContractSet, factories []common.Address, logger *zap.Logger) (*Registry, error) {
	contracts := make(map[Role][]common.Address)
	groups := []struct {
		role      Role
		addresses []string
	}{
		{RoleMarket, cs.Markets},
		{RoleAuditor, cs.Auditors},
		{RoleFactory, cs.Factories},
		{RolePlugin, cs.Plugins},
		{RoleProposalManager, cs.ProposalManagers},
		{RoleOracle, cs.Oracles},
	}
	for _, g := range groups {
		for _, address := range g.addresses {
			if !common.IsHexAddress(address) {
				return nil, fmt.Errorf("invalid %s address '%s'", g.role, address)
			}
			contracts[g.role] = append(contracts[g.role], common.HexToAddress(address))
		}
	}
	contracts[RoleFactory] = append(contracts[RoleFactory], factories...)
	return NewRegistry(contracts, logger)
}

func (r *Registry) Role(address common.Address) (Role, bool, error) {
	role, ok := r.roles[address]
	return role, ok, nil
}

// ListContractAddresses returns every registered address for role, sorted.
func (r *Registry) ListContractAddresses(role Role) []common.Address {
	addresses := make([]common.Address, 0)
	for address, rr := range r.roles {
		if rr == role {
			addresses = append(addresses, address)
		}
	}
	sort.Slice(addresses, func(i, j int) bool {
		return bytes.Compare(addresses[i][:], addresses[j][:]) < 0
	})
	return addresses
}

// TrackedLookup reports whether address has been observed for a dynamic role.
type TrackedLookup func(address common.Address) (bool, error)

type dynamicRole struct {
	role   Role
	lookup TrackedLookup
}

// View layers dynamically tracked roles over the static registry. Static roles always win and
// dynamic roles are consulted in the order they were added, so an address resolves to at most one role.
type View struct {
	static  *Registry
	dynamic []dynamicRole
}

func (r *Registry) View() *View {
	return &View{static: r}
}

func (v *View) WithDynamic(role Role, lookup TrackedLookup) *View {
	dynamic := make([]dynamicRole, len(v.dynamic), len(v.dynamic)+1)
	copy(dynamic, v.dynamic)
	return &View{
		static:  v.static,
		dynamic: append(dynamic, dynamicRole{role: role, lookup: lookup}),
	}
}

func (v *View) Role(address common.Address) (Role, bool, error) {
	if role, ok, _ := v.static.Role(address); ok {
		return role, true, nil
	}
	for _, d := range v.dynamic {
		tracked, err := d.lookup(address)
		if err != nil {
			return "", false, fmt.Errorf("failed to resolve %s role for %s: %w", d.role, address.Hex(), err)
		}
		if tracked {
			return d.role, true, nil
		}
	}
	return "", false, nil
}
