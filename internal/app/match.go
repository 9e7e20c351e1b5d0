package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/anchor-pipeline/internal/cli"
	"horse.fit/anchor-pipeline/internal/config"
	"horse.fit/anchor-pipeline/internal/db"
	"horse.fit/anchor-pipeline/internal/logging"
	"horse.fit/anchor-pipeline/internal/matcher"
	"horse.fit/anchor-pipeline/internal/taxonomy"
)

func runMatch(args []string) int {
	fs := flag.NewFlagSet("match", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 60*time.Second, "Command timeout")
	limit := fs.Int("limit", 0, "Maximum pending headlines to match (0 uses the configured batch size)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *limit < 0 {
		fmt.Fprintln(os.Stderr, "--limit must be >= 0")
		return 2
	}

	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	batch := *limit
	if batch == 0 {
		batch = cfg.MatchBatchSize
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("match command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	loader := taxonomy.NewLoader(pool, logger, cfg.TaxonomyReloadInterval())
	svc := matcher.NewService(pool, loader, logger, cfg.MatchMaxAnchors)

	result, err := svc.MatchPending(ctx, batch)
	if err != nil {
		logger.Error().Err(err).Int("limit", batch).Msg("match failed")
		fmt.Fprintf(os.Stderr, "Match failed: %v\n", err)
		return 1
	}

	logger.Info().
		Int("limit", batch).
		Int("processed", result.Processed).
		Int("assigned", result.Assigned).
		Msg("match completed")
	fmt.Printf(
		"match processed=%d assigned=%d blocked_stopword=%d out_of_scope=%d failed=%d limit=%d\n",
		result.Processed,
		result.Assigned,
		result.BlockedStopword,
		result.OutOfScope,
		result.Failed,
		batch,
	)
	return 0
}
