// Package main runs the trending token HTTP API:
// - GET /trending/:chain serves cached or freshly scraped trending tokens
// - GET /metrics exposes Prometheus metrics
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"dex-trending/internal/api"
	"dex-trending/internal/browser"
	"dex-trending/internal/config"
	"dex-trending/internal/observability"
	"dex-trending/internal/scraper"
	"dex-trending/internal/storage"
	"dex-trending/internal/storage/memory"
	redisstore "dex-trending/internal/storage/redis"
	"dex-trending/internal/trending"
)

const (
	shutdownTimeout = 30 * time.Second
	// extractSlack covers page navigation on top of the table wait.
	extractSlack = 30 * time.Second
)

func main() {
	cmd := &cli.Command{
		Name:   "server",
		Usage:  "serve DexScreener trending tokens over HTTP",
		Flags:  config.ServerFlags(),
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.FromCommand(cmd)
	if err != nil {
		return err
	}

	logger, err := config.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	if logger.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics := observability.NewMetrics(observability.DefaultNamespace)

	store, cleanup, err := createStore(ctx, cfg, metrics)
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	defer cleanup()

	chrome := browser.NewClient(&browser.Config{DevToolsURL: cfg.DevToolsURL},
		browser.WithLogger(logger.WithField("component", "browser")))
	extractor := scraper.New(chrome,
		scraper.WithWait(cfg.ScrapeWait),
		scraper.WithLogger(logger.WithField("component", "scraper")))

	gateway := trending.NewGateway(store, extractor,
		trending.WithRowLimit(cfg.RowLimit),
		trending.WithExtractTimeout(cfg.ScrapeWait+extractSlack),
		trending.WithLogger(logger.WithField("component", "trending")),
		trending.WithMetrics(metrics))

	router := api.NewRouter(gateway, api.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger.WithField("component", "http"),
		Metrics:        metrics,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":    cfg.Addr(),
			"backend": cfg.CacheBackend,
			"ttl":     cfg.CacheTTL,
		}).Info("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case sig := <-sigCh:
		logger.Infof("received signal %v, initiating graceful shutdown", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// A second signal aborts in-flight scrapes immediately.
	go func() {
		select {
		case sig := <-sigCh:
			logger.Warnf("received second signal %v, forcing shutdown", sig)
			cancel()
			shutdownCancel()
		case <-shutdownCtx.Done():
		}
	}()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		cancel()
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// createStore creates the configured trending store.
func createStore(ctx context.Context, cfg config.Config, metrics *observability.Metrics) (storage.TrendingStore, func(), error) {
	if cfg.CacheBackend == config.BackendRedis {
		client, err := redisstore.NewClient(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		store := redisstore.NewTrendingStore(client, cfg.CacheTTL, cfg.CacheMaxChains,
			redisstore.WithKeyPrefix(cfg.RedisKeyPrefix))
		return store, func() { _ = client.Close() }, nil
	}

	store := memory.NewTrendingStore(cfg.CacheTTL, cfg.CacheMaxChains)
	metrics.RegisterStoreStats(store)
	return store, func() {}, nil
}
