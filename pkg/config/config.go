package config

import (
	"fmt"
	"strings"
)

type ChainId uint

const (
	ChainId_OptimismMainnet ChainId = 10
	ChainId_OptimismSepolia ChainId = 11155420
	ChainId_Anvil           ChainId = 31337
)

var (
	SupportedChainIds = []ChainId{
		ChainId_OptimismMainnet,
		ChainId_OptimismSepolia,
		ChainId_Anvil,
	}
)

// KebabToSnakeCase converts a flag name like "rpc-url" into the viper key "rpc_url"
func KebabToSnakeCase(str string) string {
	return strings.ReplaceAll(str, "-", "_")
}

// NormalizeFlagName is the viper key a flag is bound to
func NormalizeFlagName(name string) string {
	return KebabToSnakeCase(name)
}

// NormalizeAddress lowercases an address and makes sure it carries the 0x prefix
func NormalizeAddress(address string) string {
	address = strings.ToLower(strings.TrimSpace(address))
	if !strings.HasPrefix(address, "0x") {
		address = "0x" + address
	}
	return address
}

func (c ChainId) String() string {
	return fmt.Sprintf("%d", uint(c))
}
