package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/exactly/exa-indexer/pkg/config"
	"github.com/exactly/exa-indexer/pkg/indexerConfig"
	"github.com/exactly/exa-indexer/pkg/logger"
	"github.com/exactly/exa-indexer/pkg/types"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const blocksFlag = "blocks"

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Evaluate blocks from a JSON file and print their changesets",
	RunE: func(cmd *cobra.Command, args []string) error {
		initRunCmd(cmd)
		cfg := Config
		if cfg == nil {
			cfg = indexerConfig.NewIndexerConfig()
		}
		// blocks come from the file, never from an RPC endpoint
		cfg.Source.Type = indexerConfig.SourceTypeManual

		log, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug || viper.GetBool(indexerConfig.Debug)})
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			log.Sugar().Errorw("Invalid configuration", "error", err)
			return err
		}

		blocks, err := readBlocks(viper.GetString(blocksFlag), cmd.InOrStdin())
		if err != nil {
			return err
		}
		return replay(cmd.Context(), cfg, blocks, cmd.OutOrStdout(), log)
	},
}

func init() {
	replayCmd.Flags().String(blocksFlag, "-", `JSON array of blocks, "-" reads stdin`)
	replayCmd.Flags().String(indexerConfig.Deployment, config.Deployment_Optimism, "deployment target")
	replayCmd.Flags().String(indexerConfig.Params, "", `module params, e.g. "factories[]=0x..."`)
	replayCmd.Flags().String(indexerConfig.SinkType, indexerConfig.SinkTypeStdout, "stdout or postgres")
	replayCmd.Flags().String(indexerConfig.PostgresDsn, "", "postgres connection string")
}

func readBlocks(path string, stdin io.Reader) ([]*types.Block, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read blocks from '%s'", path)
	}

	var blocks []*types.Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal blocks")
	}
	return blocks, nil
}

func replay(ctx context.Context, cfg *indexerConfig.IndexerConfig, blocks []*types.Block, out io.Writer, log *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	idx, err := newIndexer(ctx, cfg, out, nil, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := idx.Close(); err != nil {
			log.Sugar().Errorw("Failed to close indexer", zap.Error(err))
		}
	}()

	if err := idx.pipeline.Replay(ctx, blocks); err != nil {
		return err
	}
	log.Sugar().Infow("Replay complete", "range", formatBlockRange(blocks))
	return nil
}

func formatBlockRange(blocks []*types.Block) string {
	if len(blocks) == 0 {
		return "no blocks"
	}
	return fmt.Sprintf("blocks %d..%d", blocks[0].Number, blocks[len(blocks)-1].Number)
}
