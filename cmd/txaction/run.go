package txaction

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/edgeflare/txaction/pkg/metrics"
	"github.com/edgeflare/txaction/pkg/pipeline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	// Register built-in connectors
	_ "github.com/edgeflare/txaction/pkg/pipeline/peer/clickhouse"
	_ "github.com/edgeflare/txaction/pkg/pipeline/peer/debug"
	_ "github.com/edgeflare/txaction/pkg/pipeline/peer/http"
	_ "github.com/edgeflare/txaction/pkg/pipeline/peer/kafka"
	_ "github.com/edgeflare/txaction/pkg/pipeline/peer/mqtt"
	_ "github.com/edgeflare/txaction/pkg/pipeline/peer/nats"
	_ "github.com/edgeflare/txaction/pkg/pipeline/peer/pg"
)

var (
	prometheusEnabled bool
	prometheusAddr    string
)

var runCmd = &cobra.Command{
	Use:     "run",
	Aliases: []string{"pipeline", "p"},
	Short:   "Run the configured pipelines",
	Long:    `Read change events from the source peers, dispatch each transaction to its action and load the results into the sink peers.`,
	RunE:    runPipelines,
}

func runPipelines(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(cfg.Pipeline.Pipelines) == 0 {
		return fmt.Errorf("no pipelines configured")
	}

	registry, err := newRegistry(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errChan := make(chan error, len(cfg.Pipeline.Pipelines))
	doneChan := make(chan struct{})

	var wg sync.WaitGroup

	// flags override the config file
	if cmd.Flags().Changed("metrics") {
		cfg.Metrics.Enabled = prometheusEnabled
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Addr = prometheusAddr
	}
	if cfg.Metrics.Enabled {
		metrics.Serve(ctx, &wg, metrics.ServerOpts{Addr: cfg.Metrics.Addr, Logger: logger})
	}

	m := pipeline.NewManager(logger)
	defer func() {
		if err := m.Close(); err != nil {
			logger.Error("failed to close peers", zap.Error(err))
		}
	}()

	if err := m.Init(ctx, &cfg.Pipeline); err != nil {
		return fmt.Errorf("failed to initialize peers: %w", err)
	}

	if err := m.Start(ctx, &wg, &cfg.Pipeline, registry, errChan); err != nil {
		return fmt.Errorf("failed to start pipeline processing: %w", err)
	}
	logger.Info("pipelines started",
		zap.Int("pipelines", len(cfg.Pipeline.Pipelines)),
		zap.Int("actions", len(registry.Actions())))

	// Wait for shutdown signal or error
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received termination signal, shutting down gracefully")
	case runErr = <-errChan:
		logger.Error("pipeline error", zap.Error(runErr))
	}
	cancel()

	// Wait for goroutines to complete
	go func() {
		wg.Wait()
		close(doneChan)
	}()

	// Wait with timeout
	select {
	case <-doneChan:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10 seconds")
	}

	return runErr
}

func init() {
	runCmd.Flags().BoolVar(&prometheusEnabled, "metrics", true, "Enable Prometheus metrics server")
	runCmd.Flags().StringVar(&prometheusAddr, "metrics-addr", ":9100", "Prometheus metrics server address")
}
