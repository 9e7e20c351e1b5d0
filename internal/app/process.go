package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/anchor-pipeline/internal/aggregate"
	"horse.fit/anchor-pipeline/internal/classify"
	"horse.fit/anchor-pipeline/internal/cli"
	"horse.fit/anchor-pipeline/internal/config"
	"horse.fit/anchor-pipeline/internal/db"
	"horse.fit/anchor-pipeline/internal/logging"
	"horse.fit/anchor-pipeline/internal/matcher"
	"horse.fit/anchor-pipeline/internal/taxonomy"
)

func runProcess(args []string) int {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	matchLimit := fs.Int("match-limit", 0, "Maximum headlines to match per cycle (0 uses the configured batch size)")
	classifyLimit := fs.Int("classify-limit", 500, "Maximum matches to review per cycle")
	aggregateLimit := fs.Int("aggregate-limit", 0, "Maximum attributions per cycle (0 uses the configured batch size)")
	untilEmpty := fs.Bool("until-empty", true, "Repeat cycles until no work remains")
	maxCycles := fs.Int("max-cycles", 25, "Maximum match+classify+aggregate cycles when --until-empty=true")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *matchLimit < 0 || *aggregateLimit < 0 {
		fmt.Fprintln(os.Stderr, "--match-limit and --aggregate-limit must be >= 0")
		return 2
	}
	if *classifyLimit <= 0 {
		fmt.Fprintln(os.Stderr, "--classify-limit must be > 0")
		return 2
	}
	if *maxCycles <= 0 {
		fmt.Fprintln(os.Stderr, "--max-cycles must be > 0")
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

	matchBatch := *matchLimit
	if matchBatch == 0 {
		matchBatch = cfg.MatchBatchSize
	}
	aggregateBatch := *aggregateLimit
	if aggregateBatch == 0 {
		aggregateBatch = cfg.AggregateBatchSize
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("process command failed to connect to database")
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
	matchSvc := matcher.NewService(pool, loader, logger, cfg.MatchMaxAnchors)
	classifySvc := classify.NewService(pool, loader, client, logger, cfg.ClassifyBatchSize, cfg.ClassifyWorkers)
	manager := aggregate.NewManager(aggregate.NewStore(pool), logger)

	totalMatch := matcher.RunResult{}
	totalClassify := classify.RunResult{}
	totalAggregate := aggregate.RunResult{}
	cyclesRun := 0
	drained := false

	for cycle := 1; cycle <= *maxCycles; cycle++ {
		matchResult, err := matchSvc.MatchPending(ctx, matchBatch)
		if err != nil {
			logger.Error().Err(err).Int("cycle", cycle).Msg("match stage failed")
			fmt.Fprintf(os.Stderr, "Process failed during match cycle %d: %v\n", cycle, err)
			return 1
		}

		classifyResult, err := classifySvc.ClassifyPending(ctx, *classifyLimit)
		if err != nil {
			logger.Error().Err(err).Int("cycle", cycle).Msg("classify stage failed")
			fmt.Fprintf(os.Stderr, "Process failed during classify cycle %d: %v\n", cycle, err)
			return 1
		}

		aggregateResult, err := manager.AggregatePending(ctx, aggregateBatch)
		if err != nil {
			logger.Error().Err(err).Int("cycle", cycle).Msg("aggregate stage failed")
			fmt.Fprintf(os.Stderr, "Process failed during aggregate cycle %d: %v\n", cycle, err)
			return 1
		}

		cyclesRun = cycle
		totalMatch.Processed += matchResult.Processed
		totalMatch.Assigned += matchResult.Assigned
		totalMatch.BlockedStopword += matchResult.BlockedStopword
		totalMatch.OutOfScope += matchResult.OutOfScope
		totalMatch.Failed += matchResult.Failed
		totalClassify.Anchors += classifyResult.Anchors
		totalClassify.Processed += classifyResult.Processed
		totalClassify.Accepted += classifyResult.Accepted
		totalClassify.Rejected += classifyResult.Rejected
		totalClassify.Failed += classifyResult.Failed
		totalAggregate.Processed += aggregateResult.Processed
		totalAggregate.Attributed += aggregateResult.Attributed
		totalAggregate.Duplicates += aggregateResult.Duplicates
		totalAggregate.Frozen += aggregateResult.Frozen
		totalAggregate.Failed += aggregateResult.Failed

		fmt.Printf(
			"cycle=%d match_processed=%d assigned=%d classify_processed=%d accepted=%d rejected=%d aggregate_processed=%d attributed=%d\n",
			cycle,
			matchResult.Processed,
			matchResult.Assigned,
			classifyResult.Processed,
			classifyResult.Accepted,
			classifyResult.Rejected,
			aggregateResult.Processed,
			aggregateResult.Attributed,
		)

		if !*untilEmpty {
			drained = true
			break
		}
		if matchResult.Processed == 0 && classifyResult.Processed == 0 && aggregateResult.Processed == 0 {
			drained = true
			break
		}
	}

	if !drained {
		logger.Warn().
			Int("max_cycles", *maxCycles).
			Msg("process stopped before draining all backlogs")
	}

	logger.Info().
		Int("cycles", cyclesRun).
		Int("match_processed", totalMatch.Processed).
		Int("classify_processed", totalClassify.Processed).
		Int("aggregate_processed", totalAggregate.Processed).
		Msg("process completed")
	fmt.Printf(
		"process cycles=%d match_processed=%d assigned=%d classify_processed=%d accepted=%d rejected=%d aggregate_processed=%d attributed=%d duplicates=%d frozen=%d\n",
		cyclesRun,
		totalMatch.Processed,
		totalMatch.Assigned,
		totalClassify.Processed,
		totalClassify.Accepted,
		totalClassify.Rejected,
		totalAggregate.Processed,
		totalAggregate.Attributed,
		totalAggregate.Duplicates,
		totalAggregate.Frozen,
	)
	return 0
}
