package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"horse.fit/anchor-pipeline/internal/aggregate"
	"horse.fit/anchor-pipeline/internal/classify"
	"horse.fit/anchor-pipeline/internal/cli"
	"horse.fit/anchor-pipeline/internal/config"
	"horse.fit/anchor-pipeline/internal/db"
	"horse.fit/anchor-pipeline/internal/logging"
	"horse.fit/anchor-pipeline/internal/matcher"
	"horse.fit/anchor-pipeline/internal/orchestrate"
	"horse.fit/anchor-pipeline/internal/taxonomy"
)

func runDaemon(args []string) int {
	fs := flag.NewFlagSet("daemon", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	matchInterval := fs.Duration("match-interval", 0, "Match phase interval (0 uses the configured value)")
	classifyInterval := fs.Duration("classify-interval", 0, "Classify phase interval (0 uses the configured value)")
	aggregateInterval := fs.Duration("aggregate-interval", 0, "Aggregate phase interval (0 uses the configured value)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *matchInterval < 0 || *classifyInterval < 0 || *aggregateInterval < 0 {
		fmt.Fprintln(os.Stderr, "phase intervals must be >= 0")
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

	matchEvery := *matchInterval
	if matchEvery == 0 {
		matchEvery = cfg.MatchInterval()
	}
	classifyEvery := *classifyInterval
	if classifyEvery == 0 {
		classifyEvery = cfg.ClassifyInterval()
	}
	aggregateEvery := *aggregateInterval
	if aggregateEvery == 0 {
		aggregateEvery = cfg.AggregateInterval()
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dbCancel()

	pool, err := db.NewPool(dbCtx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("daemon failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		logger.Info().Msg("shutdown signal received")
		cancel()
	}()

	client, err := classify.NewGeminiClient(ctx, cfg.ClassifierAPIKey, cfg.ClassifierModel, cfg.ClassifierTimeout)
	if err != nil {
		logger.Error().Err(err).Msg("classifier client initialization failed")
		fmt.Fprintf(os.Stderr, "Failed to initialize classifier client: %v\n", err)
		return 1
	}

	loader := taxonomy.NewLoader(pool, logger, cfg.TaxonomyReloadInterval())
	matchSvc := matcher.NewService(pool, loader, logger, cfg.MatchMaxAnchors)
	classifySvc := classify.NewService(pool, loader, client, logger, cfg.ClassifyBatchSize, cfg.ClassifyWorkers)
	manager := aggregate.NewManager(aggregate.NewStore(pool), logger)

	phases := []orchestrate.Phase{
		{
			Name:     "match",
			Interval: matchEvery,
			MaxBatch: cfg.MatchBatchSize,
			Backlog:  matchSvc.Backlog,
			Run: func(ctx context.Context, limit int) (int, error) {
				result, err := matchSvc.MatchPending(ctx, limit)
				return result.Processed, err
			},
		},
		{
			Name:     "classify",
			Interval: classifyEvery,
			MaxBatch: cfg.ClassifyBatchSize * cfg.ClassifyWorkers,
			Backlog:  classifySvc.Backlog,
			Run: func(ctx context.Context, limit int) (int, error) {
				result, err := classifySvc.ClassifyPending(ctx, limit)
				return result.Processed, err
			},
		},
		{
			Name:     "aggregate",
			Interval: aggregateEvery,
			MaxBatch: cfg.AggregateBatchSize,
			Backlog:  manager.Backlog,
			Run: func(ctx context.Context, limit int) (int, error) {
				result, err := manager.AggregatePending(ctx, limit)
				return result.Processed, err
			},
		},
	}

	scheduler, err := orchestrate.NewScheduler(phases, logger, orchestrate.RealClock(), orchestrate.BackoffPolicy{
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		MaxAttempts: cfg.RetryMaxAttempts,
	})
	if err != nil {
		logger.Error().Err(err).Msg("scheduler initialization failed")
		fmt.Fprintf(os.Stderr, "Failed to initialize scheduler: %v\n", err)
		return 1
	}

	logger.Info().
		Dur("match_interval", matchEvery).
		Dur("classify_interval", classifyEvery).
		Dur("aggregate_interval", aggregateEvery).
		Msg("daemon started")

	if err := scheduler.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("daemon failed")
		fmt.Fprintf(os.Stderr, "Daemon failed: %v\n", err)
		return 1
	}
	return 0
}
