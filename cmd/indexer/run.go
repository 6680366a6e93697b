package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/exactly/exa-indexer/pkg/chainPoller/EVMChainPoller"
	"github.com/exactly/exa-indexer/pkg/chainPoller/manualPushChainPoller"
	"github.com/exactly/exa-indexer/pkg/config"
	"github.com/exactly/exa-indexer/pkg/indexerConfig"
	"github.com/exactly/exa-indexer/pkg/logger"
	"github.com/exactly/exa-indexer/pkg/metrics"
	"github.com/exactly/exa-indexer/pkg/shutdown"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Follow the chain and index the configured deployment",
	RunE: func(cmd *cobra.Command, args []string) error {
		initRunCmd(cmd)
		cfg := Config
		if cfg == nil {
			cfg = indexerConfig.NewIndexerConfig()
		}

		log, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug || viper.GetBool(indexerConfig.Debug)})
		if err != nil {
			return err
		}
		log = log.With(zap.String("runId", uuid.New().String()))
		sugar := log.Sugar()

		if err := cfg.Validate(); err != nil {
			sugar.Errorw("Invalid configuration", "error", err)
			return err
		}

		sugar.Infow("Starting indexer...", "deployment", cfg.Deployment, "source", cfg.Source.Type)
		return runWithShutdown(func(ctx context.Context) error {
			return startIndexer(ctx, cfg, log)
		}, log)
	},
}

func init() {
	runCmd.Flags().String(indexerConfig.Deployment, config.Deployment_Optimism, "deployment target")
	runCmd.Flags().String(indexerConfig.RpcUrl, "", "JSON-RPC endpoint; blocks are accepted over HTTP when empty")
	runCmd.Flags().String(indexerConfig.Params, "", `module params, e.g. "factories[]=0x..."`)
	runCmd.Flags().Uint64(indexerConfig.StartBlock, 0, "first block to index, overrides the deployment's")
	runCmd.Flags().String(indexerConfig.SinkType, indexerConfig.SinkTypeStdout, "stdout or postgres")
	runCmd.Flags().String(indexerConfig.PostgresDsn, "", "postgres connection string")
	runCmd.Flags().String(indexerConfig.StoreType, indexerConfig.StoreTypeMemory, "memory or badger")
	runCmd.Flags().String(indexerConfig.StoreDir, "", "badger data directory")
	runCmd.Flags().Int(indexerConfig.MetricsPort, 0, "serve prometheus metrics on this port")
}

func initRunCmd(cmd *cobra.Command) {
	bind := func(f *pflag.Flag) {
		if err := viper.BindPFlag(config.KebabToSnakeCase(f.Name), f); err != nil {
			fmt.Printf("Failed to bind flag '%s': %+v\n", f.Name, err)
		}
		if err := viper.BindEnv(config.KebabToSnakeCase(f.Name)); err != nil {
			fmt.Printf("Failed to bind env '%s': %+v\n", f.Name, err)
		}
	}
	cmd.Flags().VisitAll(bind)
	cmd.InheritedFlags().VisitAll(bind)
}

// runWithShutdown starts the indexer and blocks until a shutdown signal arrives or the indexer
// stops on its own.
func runWithShutdown(startFunc func(ctx context.Context) error, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gracefulShutdownNotifier := shutdown.CreateGracefulShutdownChannel()
	done := make(chan bool)

	var runErr error
	go func() {
		defer close(done)
		runErr = startFunc(ctx)
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			logger.Sugar().Errorw("Indexer stopped", zap.Error(runErr))
			gracefulShutdownNotifier <- syscall.SIGTERM
		}
	}()

	shutdown.ListenForShutdown(gracefulShutdownNotifier, done, func() {
		logger.Sugar().Info("Shutting down indexer...")
		cancel()
	}, 5*time.Second, logger)

	select {
	case <-done:
		if errors.Is(runErr, context.Canceled) {
			return nil
		}
		return runErr
	default:
		return nil
	}
}

func startIndexer(ctx context.Context, cfg *indexerConfig.IndexerConfig, log *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	idx, err := newIndexer(ctx, cfg, os.Stdout, m, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := idx.Close(); err != nil {
			log.Sugar().Errorw("Failed to close indexer", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Sugar().Infow("Serving metrics", "port", cfg.Metrics.Port)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return server.Shutdown(context.Background())
		})
	}

	switch cfg.Source.Type {
	case indexerConfig.SourceTypeEVM:
		source, err := EVMChainPoller.DialEthBlockSource(ctx, cfg.Chain.RpcURL, log)
		if err != nil {
			return err
		}
		pollerConfig := EVMChainPoller.NewEVMChainPollerDefaultConfig(cfg.Chain.ChainID)
		pollerConfig.StartBlock = idx.deployment.StartBlock
		if cfg.Chain.PollIntervalSeconds > 0 {
			pollerConfig.PollingInterval = time.Duration(cfg.Chain.PollIntervalSeconds) * time.Second
		}
		if cfg.Chain.MaxReorgDepth > 0 {
			pollerConfig.MaxReorgDepth = cfg.Chain.MaxReorgDepth
		}
		poller := EVMChainPoller.NewEVMChainPoller(source, idx.pipeline, pollerConfig, log)
		g.Go(func() error {
			return poller.Run(gctx)
		})
	case indexerConfig.SourceTypeManual:
		poller := manualPushChainPoller.NewManualPushChainPoller(idx.pipeline, &manualPushChainPoller.ManualPushChainPollerConfig{
			Port: cfg.Source.Port,
		}, log)
		if err := poller.Start(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})
	}

	return g.Wait()
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
