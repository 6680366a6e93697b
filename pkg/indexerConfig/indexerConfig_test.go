package indexerConfig

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/exactly/exa-indexer/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	validJson = `
{
	"deployment": "optimism",
	"chain": {
		"rpcUrl": "https://mainnet.optimism.io"
	},
	"store": {
		"type": "badger",
		"badger": { "dir": "/tmp/exa-indexer" }
	}
}`
	invalidJson = `
{
	"deployment": 10,
	"chain": {
		"rpcUrl": "https://mainnet.optimism.io"
	}
}`

	validYaml = `
---
deployment: anvil
params: factories[]=0x8d493af799162ac3f273e8918b2842447f702163
chain:
  chainId: 31337
  rpcUrl: http://localhost:8545
  maxReorgDepth: 12
sink:
  type: postgres
  postgres:
    dsn: postgres://indexer@localhost:5432/exa
deployments:
  anvil:
    startBlock: 5
    contracts:
      auditors:
        - "0x00000000000000000000000000000000000000a1"
`
	invalidYaml = `
---
deployment: anvil
chain:
  chainId: True
`
)

func Test_IndexerConfig(t *testing.T) {
	t.Run("JSON", func(t *testing.T) {
		t.Run("Should create a new indexer config from a json string", func(t *testing.T) {
			c, err := NewIndexerConfigFromJsonBytes([]byte(validJson))
			require.NoError(t, err)
			assert.Equal(t, StoreTypeBadger, c.Store.Type)
			assert.Equal(t, "/tmp/exa-indexer", c.Store.Badger.Dir)
			// defaults survive partial documents
			assert.Equal(t, SinkTypeStdout, c.Sink.Type)
			assert.Equal(t, uint64(64), c.Chain.MaxReorgDepth)
			assert.NoError(t, c.Validate())
		})
		t.Run("Should fail to create a new indexer config from an invalid json string", func(t *testing.T) {
			c, err := NewIndexerConfigFromJsonBytes([]byte(invalidJson))
			assert.NotNil(t, err)
			assert.Nil(t, c)
		})
	})
	t.Run("YAML", func(t *testing.T) {
		t.Run("Should create a new indexer config from a yaml string", func(t *testing.T) {
			c, err := NewIndexerConfigFromYamlBytes([]byte(validYaml))
			require.NoError(t, err)
			assert.Equal(t, config.ChainId_Anvil, c.Chain.ChainID)
			assert.Equal(t, uint64(12), c.Chain.MaxReorgDepth)
			assert.NoError(t, c.Validate())

			d, err := c.ResolveDeployment()
			require.NoError(t, err)
			assert.Equal(t, uint64(5), d.StartBlock)
			assert.Equal(t, []string{"0x00000000000000000000000000000000000000a1"}, d.Contracts.Auditors)

			factories, err := c.Factories()
			require.NoError(t, err)
			assert.Equal(t, []common.Address{common.HexToAddress("0x8d493af799162ac3f273e8918b2842447f702163")}, factories)
		})
		t.Run("Should fail to create a new indexer config from an invalid yaml string", func(t *testing.T) {
			c, err := NewIndexerConfigFromYamlBytes([]byte(invalidYaml))
			assert.NotNil(t, err)
			assert.Nil(t, c)
		})
	})
	t.Run("Validate", func(t *testing.T) {
		t.Run("Should require a dsn for the postgres sink", func(t *testing.T) {
			c := newDefaultIndexerConfig()
			c.Chain.RpcURL = "http://localhost:8545"
			c.Sink.Type = SinkTypePostgres

			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "sink.postgres.dsn")
		})
		t.Run("Should require an rpc url for the evm source only", func(t *testing.T) {
			c := newDefaultIndexerConfig()
			assert.Error(t, c.Validate())

			c.Source.Type = SourceTypeManual
			assert.NoError(t, c.Validate())
		})
		t.Run("Should reject unknown deployments and malformed params", func(t *testing.T) {
			c := newDefaultIndexerConfig()
			c.Chain.RpcURL = "http://localhost:8545"
			c.Deployment = "mainnet"
			c.Params = "factories[]=0x1234"

			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "deployment")
			assert.Contains(t, err.Error(), "params")
		})
		t.Run("Should reject deployment addresses that are not 20-byte hex", func(t *testing.T) {
			c := newDefaultIndexerConfig()
			c.Chain.RpcURL = "http://localhost:8545"
			c.Deployments = map[string]config.Deployment{
				config.Deployment_Optimism: {Contracts: config.ContractSet{Plugins: []string{"0x161"}}},
			}

			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "deployments[optimism].contracts.plugins[0]")
		})
		t.Run("Should reject unsupported chains", func(t *testing.T) {
			c := newDefaultIndexerConfig()
			c.Chain.RpcURL = "http://localhost:8545"
			c.Chain.ChainID = 1

			assert.Error(t, c.Validate())
		})
	})
}
