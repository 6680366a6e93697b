package shutdown

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// CreateGracefulShutdownChannel returns a channel notified on SIGINT and SIGTERM.
func CreateGracefulShutdownChannel() chan os.Signal {
	notifier := make(chan os.Signal, 1)
	signal.Notify(notifier, syscall.SIGINT, syscall.SIGTERM)
	return notifier
}

// ListenForShutdown blocks until notifier fires, runs cleanup, then waits for done or timeout.
func ListenForShutdown(notifier chan os.Signal, done chan bool, cleanup func(), timeout time.Duration, logger *zap.Logger) {
	sig := <-notifier
	logger.Sugar().Infow("Received shutdown signal", "signal", sig.String())
	cleanup()

	select {
	case <-done:
		logger.Sugar().Infow("Shutdown complete")
	case <-time.After(timeout):
		logger.Sugar().Warnw("Shutdown timed out", "timeout", timeout)
	}
}
