package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/anchor-pipeline/internal/aggregate"
	"horse.fit/anchor-pipeline/internal/cli"
	"horse.fit/anchor-pipeline/internal/config"
	"horse.fit/anchor-pipeline/internal/db"
	"horse.fit/anchor-pipeline/internal/logging"
)

func runFreeze(args []string) int {
	fs := flag.NewFlagSet("freeze", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	before := fs.String("before", "", "Freeze units strictly older than this month (YYYY-MM)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if strings.TrimSpace(*before) == "" {
		fmt.Fprintln(os.Stderr, "--before is required (YYYY-MM)")
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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("freeze command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	manager := aggregate.NewManager(aggregate.NewStore(pool), logger)

	frozen, err := manager.FreezeBefore(ctx, strings.TrimSpace(*before))
	if err != nil {
		logger.Error().Err(err).Str("before", *before).Msg("freeze failed")
		fmt.Fprintf(os.Stderr, "Freeze failed: %v\n", err)
		return 1
	}

	logger.Info().
		Str("before", *before).
		Int64("frozen", frozen).
		Msg("freeze completed")
	fmt.Printf("freeze frozen=%d before=%s\n", frozen, strings.TrimSpace(*before))
	return 0
}
