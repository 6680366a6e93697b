package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/exactly/exa-indexer/pkg/config"
	"github.com/exactly/exa-indexer/pkg/indexerConfig"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "indexer",
	Short: "Index Exactly protocol events into table changesets",
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

var configFile string
var Config *indexerConfig.IndexerConfig

func init() {
	cobra.OnInitialize(initConfigIfPresent)

	rootCmd.PersistentFlags().StringVar(&configFile, indexerConfig.ConfigFile, "", "config file path (yaml or json)")
	rootCmd.PersistentFlags().Bool(indexerConfig.Debug, false, `"true" or "false"`)

	viper.SetEnvPrefix(strings.TrimSuffix(indexerConfig.EnvPrefix, "_"))
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(deploymentsCmd)
}

// initConfigIfPresent loads the config file when one is given. Flags and environment are read
// per command in initRunCmd.
func initConfigIfPresent() {
	if configFile == "" {
		return
	}
	data, err := os.ReadFile(configFile)
	if err != nil {
		panic(err)
	}
	c, err := indexerConfig.NewIndexerConfigFromYamlBytes(data)
	if err != nil {
		panic(err)
	}
	Config = c
}

var deploymentsCmd = &cobra.Command{
	Use:   "deployments",
	Short: "List the built-in deployment targets",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range config.BuiltinDeploymentNames() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
	},
}

func main() {
	Execute()
}
