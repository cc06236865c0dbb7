package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/archrag/archrag/internal/engine"
	"github.com/archrag/archrag/internal/server"
)

// sweepInterval is how often expired web-KB chunks are reclaimed.
const sweepInterval = time.Hour

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP query server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng, err := engine.Open(cfg, logger())
			if err != nil {
				return err
			}
			defer func() {
				if err := eng.Close(); err != nil {
					logger().Error("engine shutdown failed", slog.String("error", err.Error()))
				}
			}()

			return runServe(cmd.Context(), eng)
		},
	}
}

func runServe(ctx context.Context, eng *engine.Engine) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(eng.Config.Server, eng.Coordinator, eng.Stats, eng.PromRegistry, eng.Health, eng.Logger)

	go sweepLoop(ctx, eng)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	eng.Logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// sweepLoop reclaims expired web-KB chunks in the background. Retrieval
// already excludes them lazily; this keeps the indexes from growing
// without bound.
func sweepLoop(ctx context.Context, eng *engine.Engine) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := eng.Ingestor.SweepExpired(ctx)
			if err != nil {
				eng.Logger.Warn("expiry sweep failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				if err := eng.SaveIndexes(); err != nil {
					eng.Logger.Warn("vector index save failed", slog.String("error", err.Error()))
				}
			}
		}
	}
}
