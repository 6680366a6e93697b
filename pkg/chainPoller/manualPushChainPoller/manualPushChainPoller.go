package manualPushChainPoller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/exactly/exa-indexer/pkg/chainPoller"
	"github.com/exactly/exa-indexer/pkg/deltaStore/storage"
	"github.com/exactly/exa-indexer/pkg/pipeline"
	"github.com/exactly/exa-indexer/pkg/types"
	"go.uber.org/zap"
)

type ManualPushChainPollerConfig struct {
	Port int
	// QueueSize bounds the number of pushed blocks waiting to be processed.
	QueueSize int
}

type pushedBlock struct {
	block  *types.Block
	result chan error
}

// ManualPushChainPoller accepts blocks over HTTP and feeds them to the processor one at a time.
// A pushed block at or below the last committed height replaces the committed blocks from there up.
type ManualPushChainPoller struct {
	queue      chan *pushedBlock
	processor  chainPoller.BlockProcessor
	httpServer *http.Server
	config     *ManualPushChainPollerConfig
	logger     *zap.Logger
}

func NewManualPushChainPoller(
	processor chainPoller.BlockProcessor,
	config *ManualPushChainPollerConfig,
	logger *zap.Logger,
) *ManualPushChainPoller {
	size := config.QueueSize
	if size <= 0 {
		size = 16
	}
	return &ManualPushChainPoller{
		queue:     make(chan *pushedBlock, size),
		processor: processor,
		config:    config,
		logger:    logger,
	}
}

func (mp *ManualPushChainPoller) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/blocks", mp.handleSubmitBlockRoute(ctx))
	return mp.httpLoggerMiddleware(mux)
}

func (mp *ManualPushChainPoller) Start(ctx context.Context) error {
	sugar := mp.logger.Sugar()
	sugar.Infow("ManualPushChainPoller starting", "port", mp.config.Port)

	mp.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", mp.config.Port),
		Handler:           mp.Handler(ctx),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go mp.processBlocks(ctx)

	go func() {
		if err := mp.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Errorw("HTTP server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		sugar.Infow("ManualPushChainPoller stopping due to context cancellation")
		if err := mp.httpServer.Shutdown(context.Background()); err != nil {
			sugar.Errorw("HTTP server shutdown error", "error", err)
		}
	}()

	return nil
}

// Process starts the worker without the HTTP listener; the caller serves Handler itself.
func (mp *ManualPushChainPoller) Process(ctx context.Context) {
	go mp.processBlocks(ctx)
}

func (mp *ManualPushChainPoller) processBlocks(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pushed := <-mp.queue:
			pushed.result <- mp.processor.Replay(ctx, []*types.Block{pushed.block})
		}
	}
}

func (mp *ManualPushChainPoller) httpLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mp.logger.Sugar().Infow("Received HTTP request",
			"method", r.Method,
			"url", r.URL.String(),
		)
		next.ServeHTTP(w, r)
	})
}

func (mp *ManualPushChainPoller) handleSubmitBlockRoute(ctx context.Context) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			mp.logger.Sugar().Errorw("Failed to read request body", "error", err)
			http.Error(w, "Failed to read request body", http.StatusInternalServerError)
			return
		}
		defer r.Body.Close()

		var block types.Block
		if err := json.Unmarshal(body, &block); err != nil {
			mp.logger.Sugar().Errorw("Failed to unmarshal block", "error", err)
			http.Error(w, "Failed to unmarshal block", http.StatusBadRequest)
			return
		}

		pushed := &pushedBlock{block: &block, result: make(chan error, 1)}
		select {
		case mp.queue <- pushed:
		case <-time.After(1 * time.Second):
			mp.logger.Sugar().Errorw("Failed to enqueue block (queue full)", "block", block.Number)
			http.Error(w, "Failed to enqueue block", http.StatusServiceUnavailable)
			return
		case <-ctx.Done():
			http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
			return
		}

		select {
		case err := <-pushed.result:
			if err != nil {
				http.Error(w, err.Error(), statusFor(err))
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = fmt.Fprintf(w, "block %d processed", block.Number)
		case <-ctx.Done():
			http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrParentMismatch),
		errors.Is(err, storage.ErrNonSequentialCommit),
		errors.Is(err, storage.ErrRewindTooDeep):
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}
