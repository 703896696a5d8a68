// Package main scrapes trending tokens for one or more chains once and prints
// the results as JSON, bypassing the HTTP server.
//
// Usage:
//
//	scrape [--chrome-devtools-url URL] [--scrape-wait 20s] solana [base ...]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"dex-trending/internal/browser"
	"dex-trending/internal/config"
	"dex-trending/internal/domain"
	"dex-trending/internal/scraper"
	"dex-trending/internal/storage/memory"
	"dex-trending/internal/trending"
)

func main() {
	cmd := &cli.Command{
		Name:      "scrape",
		Usage:     "scrape DexScreener trending tokens once",
		ArgsUsage: "CHAIN [CHAIN...]",
		Flags: append(config.ScrapeFlags(), &cli.BoolFlag{
			Name:  "pretty",
			Usage: "indent JSON output",
		}),
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	chains := cmd.Args().Slice()
	if len(chains) == 0 {
		return fmt.Errorf("at least one chain is required")
	}

	cfg, err := config.FromCommand(cmd)
	if err != nil {
		return err
	}

	// Logs go to stderr so stdout stays valid JSON.
	logger, err := config.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	chrome := browser.NewClient(&browser.Config{DevToolsURL: cfg.DevToolsURL},
		browser.WithLogger(logger.WithField("component", "browser")))
	gateway := trending.NewGateway(
		memory.NewTrendingStore(0, len(chains)),
		scraper.New(chrome,
			scraper.WithWait(cfg.ScrapeWait),
			scraper.WithLogger(logger.WithField("component", "scraper"))),
		trending.WithRowLimit(cfg.RowLimit),
		trending.WithLogger(logger),
	)

	results := make([]*domain.TrendingResult, 0, len(chains))
	var failed int
	for _, chain := range chains {
		result, err := gateway.GetTrending(ctx, chain)
		if err != nil {
			logger.WithError(err).WithField("chain", chain).Error("scrape failed")
			failed++
			continue
		}
		results = append(results, result)
	}

	enc := json.NewEncoder(os.Stdout)
	if cmd.Bool("pretty") {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("encode results: %w", err)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d chains failed", failed, len(chains))
	}
	return nil
}
