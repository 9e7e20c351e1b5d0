package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/anchor-pipeline/internal/classify"
	"horse.fit/anchor-pipeline/internal/cli"
	"horse.fit/anchor-pipeline/internal/config"
	"horse.fit/anchor-pipeline/internal/db"
	"horse.fit/anchor-pipeline/internal/logging"
	"horse.fit/anchor-pipeline/internal/taxonomy"
)

func runClassify(args []string) int {
	fs := flag.NewFlagSet("classify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	limit := fs.Int("limit", 500, "Maximum pending matches to review")
	workers := fs.Int("workers", 0, "Concurrent anchor batches (0 uses the configured value)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
	}
	if *workers < 0 {
		fmt.Fprintln(os.Stderr, "--workers must be >= 0")
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

	workerCount := *workers
	if workerCount == 0 {
		workerCount = cfg.ClassifyWorkers
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("classify command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	client, err := classify.NewGeminiClient(ctx, cfg.ClassifierAPIKey, cfg.ClassifierModel, cfg.ClassifierTimeout)
	if err != nil {
		logger.Error().Err(err).Msg("classifier client initialization failed")
		fmt.Fprintf(os.Stderr, "Failed to initialize classifier client: %v\n", err)
		return 1
	}

	loader := taxonomy.NewLoader(pool, logger, cfg.TaxonomyReloadInterval())
	svc := classify.NewService(pool, loader, client, logger, cfg.ClassifyBatchSize, workerCount)

	result, err := svc.ClassifyPending(ctx, *limit)
	if err != nil {
		logger.Error().Err(err).Int("limit", *limit).Msg("classify failed")
		fmt.Fprintf(os.Stderr, "Classify failed: %v\n", err)
		return 1
	}

	logger.Info().
		Int("limit", *limit).
		Int("processed", result.Processed).
		Int("accepted", result.Accepted).
		Int("rejected", result.Rejected).
		Msg("classify completed")
	fmt.Printf(
		"classify anchors=%d processed=%d accepted=%d rejected=%d failed=%d limit=%d\n",
		result.Anchors,
		result.Processed,
		result.Accepted,
		result.Rejected,
		result.Failed,
		*limit,
	)
	return 0
}
