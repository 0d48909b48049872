package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/agentic-fabric/pkg/config"
	"github.com/cuemby/agentic-fabric/pkg/log"
	"github.com/cuemby/agentic-fabric/pkg/metrics"
	"github.com/cuemby/agentic-fabric/pkg/stream"
)

var (
	serveDataDir      string
	serveConsumerName string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the retrieval and persistence worker pools plus the health/metrics server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "", "directory for a BoltDB-backed durable store (empty: pure in-memory)")
	serveCmd.Flags().StringVar(&serveConsumerName, "consumer-name", "", "consumer identity for this process (default: hostname-pid)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	consumerName := serveConsumerName
	if consumerName == "" {
		host, _ := os.Hostname()
		consumerName = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	f, err := buildFabric(cfg, serveDataDir)
	if err != nil {
		return fmt.Errorf("build fabric: %w", err)
	}
	defer f.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workers := newWorkers(f, consumerName)
	for _, w := range workers {
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
	}

	collector := metrics.NewCollector(pendingAdapter{f.sc}, []metrics.StreamTarget{
		{Stream: stream.TaskStream(domainRAG), Group: stream.WorkerGroup(domainRAG)},
		{Stream: stream.TaskStream(domainPersist), Group: stream.WorkerGroup(domainPersist)},
	}, 15*time.Second)
	collector.Start(ctx)
	defer collector.Stop()

	healthSrv := buildHealthServer(f, consumerName)
	metricsAddr := cfg.MetricsAddr
	if metricsAddr == "" {
		metricsAddr = ":9090"
	}
	httpSrv := &http.Server{Addr: metricsAddr, Handler: healthSrv.Handler()}

	errCh := make(chan error, 1)
	go func() {
		srvLogger := log.WithComponent("agentctl")
		srvLogger.Info().Str("addr", metricsAddr).Msg("health/metrics server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	shutdownLogger := log.WithComponent("agentctl")
	select {
	case sig := <-sigCh:
		shutdownLogger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		shutdownLogger.Error().Err(err).Msg("health/metrics server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	cancel()
	for _, w := range workers {
		w.Stop()
	}
	return nil
}
