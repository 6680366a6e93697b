package indexerConfig

import (
	"encoding/json"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/exactly/exa-indexer/pkg/config"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"sigs.k8s.io/yaml"
)

const (
	EnvPrefix = "INDEXER_"

	Debug       = "debug"
	ConfigFile  = "config"
	Deployment  = "deployment"
	RpcUrl      = "rpc-url"
	Params      = "params"
	StartBlock  = "start-block"
	SinkType    = "sink"
	PostgresDsn = "postgres-dsn"
	StoreType   = "store"
	StoreDir    = "store-dir"
	MetricsPort = "metrics-port"
)

const (
	StoreTypeMemory = "memory"
	StoreTypeBadger = "badger"

	SinkTypeStdout   = "stdout"
	SinkTypePostgres = "postgres"

	SourceTypeEVM    = "evm"
	SourceTypeManual = "manual"
)

type Chain struct {
	ChainID             config.ChainId `json:"chainId" yaml:"chainId"`
	RpcURL              string         `json:"rpcUrl" yaml:"rpcUrl"`
	PollIntervalSeconds int            `json:"pollIntervalSeconds" yaml:"pollIntervalSeconds"`
	MaxReorgDepth       uint64         `json:"maxReorgDepth" yaml:"maxReorgDepth"`
}

func (c *Chain) Validate(path *field.Path, source string) field.ErrorList {
	var allErrors field.ErrorList
	// chainId defaults to the deployment's
	if c.ChainID != 0 && !slices.Contains(config.SupportedChainIds, c.ChainID) {
		allErrors = append(allErrors, field.Invalid(path.Child("chainId"), c.ChainID, "unsupported chainId"))
	}
	if source == SourceTypeEVM && c.RpcURL == "" {
		allErrors = append(allErrors, field.Required(path.Child("rpcUrl"), "rpcUrl is required"))
	}
	if c.PollIntervalSeconds < 0 {
		allErrors = append(allErrors, field.Invalid(path.Child("pollIntervalSeconds"), c.PollIntervalSeconds, "must not be negative"))
	}
	return allErrors
}

type BadgerConfig struct {
	Dir                     string `json:"dir" yaml:"dir"`
	InMemory                bool   `json:"inMemory" yaml:"inMemory"`
	ValueLogFileSize        int64  `json:"valueLogFileSize" yaml:"valueLogFileSize"`
	NumVersionsToKeep       int    `json:"numVersionsToKeep" yaml:"numVersionsToKeep"`
	NumLevelZeroTables      int    `json:"numLevelZeroTables" yaml:"numLevelZeroTables"`
	NumLevelZeroTablesStall int    `json:"numLevelZeroTablesStall" yaml:"numLevelZeroTablesStall"`
}

type StoreConfig struct {
	Type   string        `json:"type" yaml:"type"`
	Badger *BadgerConfig `json:"badger" yaml:"badger"`
	// RetainBlocks is how many blocks of journal are kept for reorg rewinds; 0 keeps everything.
	RetainBlocks uint64 `json:"retainBlocks" yaml:"retainBlocks"`
}

func (s *StoreConfig) Validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	switch s.Type {
	case StoreTypeMemory:
	case StoreTypeBadger:
		if s.Badger == nil || (s.Badger.Dir == "" && !s.Badger.InMemory) {
			allErrors = append(allErrors, field.Required(path.Child("badger", "dir"), "dir is required for the badger store"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(path.Child("type"), s.Type, []string{StoreTypeMemory, StoreTypeBadger}))
	}
	return allErrors
}

type PostgresConfig struct {
	Dsn string `json:"dsn" yaml:"dsn"`
}

type SinkConfig struct {
	Type     string          `json:"type" yaml:"type"`
	Postgres *PostgresConfig `json:"postgres" yaml:"postgres"`
}

func (s *SinkConfig) Validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	switch s.Type {
	case SinkTypeStdout:
	case SinkTypePostgres:
		if s.Postgres == nil || s.Postgres.Dsn == "" {
			allErrors = append(allErrors, field.Required(path.Child("postgres", "dsn"), "dsn is required for the postgres sink"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(path.Child("type"), s.Type, []string{SinkTypeStdout, SinkTypePostgres}))
	}
	return allErrors
}

type SourceConfig struct {
	Type string `json:"type" yaml:"type"`
	// Port serves the push endpoint of the manual source.
	Port int `json:"port" yaml:"port"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Port    int  `json:"port" yaml:"port"`
}

type IndexerConfig struct {
	Debug      bool   `json:"debug" yaml:"debug"`
	Deployment string `json:"deployment" yaml:"deployment"`
	// Params is the query-string style module params, e.g. factories[]=0x...
	Params      string                       `json:"params" yaml:"params"`
	StartBlock  uint64                       `json:"startBlock" yaml:"startBlock"`
	Chain       Chain                        `json:"chain" yaml:"chain"`
	Source      SourceConfig                 `json:"source" yaml:"source"`
	Store       StoreConfig                  `json:"store" yaml:"store"`
	Sink        SinkConfig                   `json:"sink" yaml:"sink"`
	Metrics     MetricsConfig                `json:"metrics" yaml:"metrics"`
	Deployments map[string]config.Deployment `json:"deployments" yaml:"deployments"`
}

func (ic *IndexerConfig) Validate() error {
	var allErrors field.ErrorList
	if ic.Deployment == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("deployment"), "deployment is required"))
	} else if d, err := config.SelectDeployment(ic.Deployment, ic.Deployments); err != nil {
		allErrors = append(allErrors, field.Invalid(field.NewPath("deployment"), ic.Deployment, err.Error()))
	} else {
		contracts := field.NewPath("deployments").Key(ic.Deployment).Child("contracts")
		for _, bad := range d.Contracts.InvalidAddresses() {
			allErrors = append(allErrors, field.Invalid(contracts.Child(bad.Role).Index(bad.Index), bad.Address, "not a 20-byte hex address"))
		}
	}
	if ic.Params != "" {
		if _, err := config.ParseFactoriesParam(ic.Params); err != nil {
			allErrors = append(allErrors, field.Invalid(field.NewPath("params"), ic.Params, err.Error()))
		}
	}
	switch ic.Source.Type {
	case SourceTypeEVM, SourceTypeManual:
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("source", "type"), ic.Source.Type, []string{SourceTypeEVM, SourceTypeManual}))
	}
	allErrors = append(allErrors, ic.Chain.Validate(field.NewPath("chain"), ic.Source.Type)...)
	allErrors = append(allErrors, ic.Store.Validate(field.NewPath("store"))...)
	allErrors = append(allErrors, ic.Sink.Validate(field.NewPath("sink"))...)
	return allErrors.ToAggregate()
}

// ResolveDeployment returns the selected deployment target with config overrides applied.
func (ic *IndexerConfig) ResolveDeployment() (*config.Deployment, error) {
	d, err := config.SelectDeployment(ic.Deployment, ic.Deployments)
	if err != nil {
		return nil, err
	}
	if ic.StartBlock != 0 {
		d.StartBlock = ic.StartBlock
	}
	if ic.Chain.ChainID == 0 {
		ic.Chain.ChainID = d.ChainId
	}
	return d, nil
}

// Factories returns the extra factories from the params string, if any.
func (ic *IndexerConfig) Factories() ([]common.Address, error) {
	if ic.Params == "" {
		return nil, nil
	}
	return config.ParseFactoriesParam(ic.Params)
}

func NewIndexerConfigFromJsonBytes(data []byte) (*IndexerConfig, error) {
	c := newDefaultIndexerConfig()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal IndexerConfig from JSON")
	}
	return c, nil
}

func NewIndexerConfigFromYamlBytes(data []byte) (*IndexerConfig, error) {
	c := newDefaultIndexerConfig()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal IndexerConfig from YAML")
	}
	return c, nil
}

// NewIndexerConfig builds the config from flags and INDEXER_ prefixed environment variables bound into viper.
func NewIndexerConfig() *IndexerConfig {
	c := newDefaultIndexerConfig()
	c.Debug = viper.GetBool(config.NormalizeFlagName(Debug))
	c.Deployment = viper.GetString(config.NormalizeFlagName(Deployment))
	c.Params = viper.GetString(config.NormalizeFlagName(Params))
	c.StartBlock = viper.GetUint64(config.NormalizeFlagName(StartBlock))
	c.Chain.RpcURL = viper.GetString(config.NormalizeFlagName(RpcUrl))

	if c.Chain.RpcURL == "" {
		c.Source.Type = SourceTypeManual
	}
	if sink := viper.GetString(config.NormalizeFlagName(SinkType)); sink != "" {
		c.Sink.Type = sink
	}
	if dsn := viper.GetString(config.NormalizeFlagName(PostgresDsn)); dsn != "" {
		c.Sink.Postgres = &PostgresConfig{Dsn: dsn}
	}
	if store := viper.GetString(config.NormalizeFlagName(StoreType)); store != "" {
		c.Store.Type = store
	}
	if dir := viper.GetString(config.NormalizeFlagName(StoreDir)); dir != "" {
		c.Store.Badger = &BadgerConfig{Dir: dir}
	}
	if port := viper.GetInt(config.NormalizeFlagName(MetricsPort)); port != 0 {
		c.Metrics = MetricsConfig{Enabled: true, Port: port}
	}
	return c
}

func newDefaultIndexerConfig() *IndexerConfig {
	return &IndexerConfig{
		Deployment: config.Deployment_Optimism,
		Chain: Chain{
			PollIntervalSeconds: 2,
			MaxReorgDepth:       64,
		},
		Source: SourceConfig{Type: SourceTypeEVM, Port: 8081},
		Store:  StoreConfig{Type: StoreTypeMemory, RetainBlocks: 256},
		Sink:   SinkConfig{Type: SinkTypeStdout},
	}
}
