package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ladder-backtest/services/api"
	"ladder-backtest/services/clickhouse"
	"ladder-backtest/services/config"
	"ladder-backtest/services/engine"
	"ladder-backtest/services/marketdata"
	"ladder-backtest/services/monitoring"
	"ladder-backtest/services/runner"
)

// serveCmd starts the HTTP job API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve backtests over HTTP",
	Long: `Start the HTTP API. Jobs are queued with POST /v1/backtests and run on a
fixed worker pool; results stay in memory for the life of the process.

Examples:
  ladder-backtest serve --addr :8080 --workers 4
  ladder-backtest serve --config ladder.yaml --data-dir ./data`,
	RunE: runServe,
}

var (
	serveAddr        string
	serveWorkers     int
	serveDataDir     string
	serveStoreTrades bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address, default server.addr")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "Worker count, default server.workers")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "", "Directory csv_path requests may read from")
	serveCmd.Flags().BoolVar(&serveStoreTrades, "store-trades", false, "Insert finished trades into ClickHouse")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := appCfg
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveWorkers > 0 {
		cfg.Server.Workers = serveWorkers
	}
	base, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	metrics := monitoring.NewMetrics()
	opts := []runner.Option{runner.WithLogger(logger), runner.WithMetrics(metrics)}

	var provider marketdata.Provider
	switch cfg.Data.Source {
	case config.SourceClickHouse:
		store, err := clickhouse.Open(ctx, cfg.ClickHouse, base.Location, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		provider = store
	case config.SourceBinance:
		provider = marketdata.NewBinanceFetcher(cfg.Binance, base.Location, logger)
	}
	if serveStoreTrades {
		store, err := clickhouse.Open(ctx, cfg.ClickHouse, base.Location, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		opts = append(opts, runner.WithTradeSink(store))
	}

	srv := api.NewServer(api.Options{
		Workers: cfg.Server.Workers,
		MaxJobs: cfg.Server.MaxJobs,
		DataDir: serveDataDir,
		Version: engine.EngineVersion,
	}, base, runner.New(provider, opts...), metrics, logger)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	srv.Start(workerCtx)

	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: srv.Router(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", cfg.Server.Addr), zap.String("source", cfg.Data.Source))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown failed", zap.Error(err))
	}
	srv.Close()
	logger.Info("Server stopped")
	return nil
}
