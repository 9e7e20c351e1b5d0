package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"horse.fit/anchor-pipeline/internal/cli"
	"horse.fit/anchor-pipeline/internal/config"
	"horse.fit/anchor-pipeline/internal/db"
	"horse.fit/anchor-pipeline/internal/logging"
	"horse.fit/anchor-pipeline/internal/taxonomy"
	taxonomyschema "horse.fit/anchor-pipeline/schema"
)

func runImportTaxonomy(args []string) int {
	fs := flag.NewFlagSet("import-taxonomy", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")
	dir := fs.String("dir", "taxonomy", "Directory containing .json bundle files")
	dryRun := fs.Bool("dry-run", false, "Validate bundles without writing to the database")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	files, err := collectBundleFiles(strings.TrimSpace(*dir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Import setup failed: %v\n", err)
		return 1
	}
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "Import failed: no .json files found under %s\n", strings.TrimSpace(*dir))
		return 1
	}

	bundles := make([]*taxonomyschema.Bundle, 0, len(files))
	invalid := 0
	for _, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			invalid++
			fmt.Fprintf(os.Stderr, "INVALID %s: read failed: %v\n", path, err)
			continue
		}

		bundle, err := taxonomyschema.ValidateBundlePayload(json.RawMessage(raw))
		if err != nil {
			invalid++
			fmt.Fprintf(os.Stderr, "INVALID %s: %v\n", path, err)
			continue
		}
		bundles = append(bundles, bundle)
	}
	if invalid > 0 {
		fmt.Fprintf(os.Stderr, "Import aborted: %d of %d bundle files invalid\n", invalid, len(files))
		return 1
	}

	if *dryRun {
		fmt.Printf("import-taxonomy dry_run=true bundles=%d dir=%s\n", len(bundles), strings.TrimSpace(*dir))
		return 0
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
		logger.Error().Err(err).Msg("import-taxonomy failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	importer := taxonomy.NewImporter(pool, logger)

	total := taxonomy.ImportResult{}
	for i, bundle := range bundles {
		result, err := importer.ImportBundle(ctx, bundle)
		if err != nil {
			logger.Error().Err(err).Str("file", files[i]).Msg("bundle import failed")
			fmt.Fprintf(os.Stderr, "Import failed for %s: %v\n", files[i], err)
			return 1
		}
		total.Anchors += result.Anchors
		total.Vocabularies += result.Vocabularies
		total.Entries += result.Entries
	}

	logger.Info().
		Int("bundles", len(bundles)).
		Int("anchors", total.Anchors).
		Int("vocabularies", total.Vocabularies).
		Int("entries", total.Entries).
		Msg("import-taxonomy completed")
	fmt.Printf(
		"import-taxonomy bundles=%d anchors=%d vocabularies=%d entries=%d dir=%s\n",
		len(bundles),
		total.Anchors,
		total.Vocabularies,
		total.Entries,
		strings.TrimSpace(*dir),
	)
	return 0
}

func collectBundleFiles(root string) ([]string, error) {
	if root == "" {
		return nil, fmt.Errorf("directory path is empty")
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", root, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if strings.EqualFold(filepath.Ext(name), ".json") {
			files = append(files, filepath.Join(root, name))
		}
	}
	sort.Strings(files)
	return files, nil
}
