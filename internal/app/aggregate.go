package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/anchor-pipeline/internal/aggregate"
	"horse.fit/anchor-pipeline/internal/cli"
	"horse.fit/anchor-pipeline/internal/config"
	"horse.fit/anchor-pipeline/internal/db"
	"horse.fit/anchor-pipeline/internal/logging"
)

func runAggregate(args []string) int {
	fs := flag.NewFlagSet("aggregate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 90*time.Second, "Command timeout")
	limit := fs.Int("limit", 0, "Maximum accepted matches to attribute (0 uses the configured batch size)")

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
		batch = cfg.AggregateBatchSize
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("aggregate command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	manager := aggregate.NewManager(aggregate.NewStore(pool), logger)

	result, err := manager.AggregatePending(ctx, batch)
	if err != nil {
		logger.Error().Err(err).Int("limit", batch).Msg("aggregate failed")
		fmt.Fprintf(os.Stderr, "Aggregate failed: %v\n", err)
		return 1
	}

	logger.Info().
		Int("limit", batch).
		Int("processed", result.Processed).
		Int("attributed", result.Attributed).
		Msg("aggregate completed")
	fmt.Printf(
		"aggregate processed=%d attributed=%d duplicates=%d frozen=%d failed=%d limit=%d\n",
		result.Processed,
		result.Attributed,
		result.Duplicates,
		result.Frozen,
		result.Failed,
		batch,
	)
	return 0
}
