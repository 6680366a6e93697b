package main

import (
	"context"
	"fmt"
	"io"

	"github.com/exactly/exa-indexer/pkg/blockAggregator"
	"github.com/exactly/exa-indexer/pkg/config"
	"github.com/exactly/exa-indexer/pkg/contractRegistry"
	"github.com/exactly/exa-indexer/pkg/deltaStore/storage"
	"github.com/exactly/exa-indexer/pkg/deltaStore/storage/badger"
	"github.com/exactly/exa-indexer/pkg/deltaStore/storage/memory"
	"github.com/exactly/exa-indexer/pkg/eventDecoder"
	"github.com/exactly/exa-indexer/pkg/indexerConfig"
	"github.com/exactly/exa-indexer/pkg/metrics"
	"github.com/exactly/exa-indexer/pkg/pipeline"
	"github.com/exactly/exa-indexer/pkg/sink"
	"go.uber.org/zap"
)

// indexer holds the wired pipeline and everything that has to be closed with it.
type indexer struct {
	deployment *config.Deployment
	pipeline   *pipeline.Pipeline
	backend    storage.CheckpointStore
	sink       sink.Sink
}

func (i *indexer) Close() error {
	sinkErr := i.sink.Close()
	if err := i.backend.Close(); err != nil {
		return err
	}
	return sinkErr
}

func newIndexer(ctx context.Context, cfg *indexerConfig.IndexerConfig, out io.Writer, m *metrics.Metrics, l *zap.Logger) (*indexer, error) {
	deployment, err := cfg.ResolveDeployment()
	if err != nil {
		return nil, err
	}
	factories, err := cfg.Factories()
	if err != nil {
		return nil, err
	}
	registry, err := contractRegistry.NewRegistryFromContractSet(deployment.Contracts, factories, l)
	if err != nil {
		return nil, err
	}
	aggregator := blockAggregator.NewAggregator(eventDecoder.NewDecoder(l), registry, l)

	backend, err := newCheckpointStore(&cfg.Store)
	if err != nil {
		return nil, err
	}
	s, err := newSink(ctx, &cfg.Sink, out, l)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	p, err := pipeline.NewPipeline(aggregator, backend, s, m, &pipeline.Config{RetainBlocks: cfg.Store.RetainBlocks}, l)
	if err != nil {
		_ = s.Close()
		_ = backend.Close()
		return nil, err
	}
	l.Sugar().Infow("Wired indexer",
		zap.String("deployment", deployment.Name),
		zap.Uint("chainId", uint(deployment.ChainId)),
		zap.String("store", cfg.Store.Type),
		zap.String("sink", cfg.Sink.Type),
		zap.Int("extraFactories", len(factories)),
	)
	return &indexer{
		deployment: deployment,
		pipeline:   p,
		backend:    backend,
		sink:       s,
	}, nil
}

func newCheckpointStore(cfg *indexerConfig.StoreConfig) (storage.CheckpointStore, error) {
	switch cfg.Type {
	case indexerConfig.StoreTypeMemory:
		return memory.NewInMemoryCheckpointStore(), nil
	case indexerConfig.StoreTypeBadger:
		return badger.NewBadgerCheckpointStore(cfg.Badger)
	default:
		return nil, fmt.Errorf("unsupported store type '%s'", cfg.Type)
	}
}

func newSink(ctx context.Context, cfg *indexerConfig.SinkConfig, out io.Writer, l *zap.Logger) (sink.Sink, error) {
	switch cfg.Type {
	case indexerConfig.SinkTypeStdout:
		return sink.NewStdoutSink(out), nil
	case indexerConfig.SinkTypePostgres:
		return sink.NewPostgresSink(ctx, cfg.Postgres.Dsn, l)
	default:
		return nil, fmt.Errorf("unsupported sink type '%s'", cfg.Type)
	}
}
