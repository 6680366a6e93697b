// Package abis embeds the event ABIs of the contracts the indexer decodes.
package abis

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed *.json
var files embed.FS

const (
	Market          = "market"
	Auditor         = "auditor"
	Factory         = "factory"
	Account         = "account"
	Plugin          = "plugin"
	ProposalManager = "proposalManager"
	Oracle          = "oracle"
)

// Load parses the embedded ABI with the given name.
func Load(name string) (*abi.ABI, error) {
	raw, err := files.ReadFile(name + ".json")
	if err != nil {
		return nil, fmt.Errorf("abi '%s' not found: %w", name, err)
	}
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse abi '%s': %w", name, err)
	}
	return &parsed, nil
}

// MustLoad is Load for package initialization and tests.
func MustLoad(name string) *abi.ABI {
	a, err := Load(name)
	if err != nil {
		panic(err)
	}
	return a
}
