package taxonomy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/anchor-pipeline/internal/db"
	"horse.fit/anchor-pipeline/internal/globaltime"
)

// Loader reads taxonomy configuration from the datastore and hands out
// immutable snapshots, refreshing at most once per interval. Taxonomy rows
// are edited out-of-band; a reload is the only way changes reach a matcher.
type Loader struct {
	pool     *db.Pool
	logger   zerolog.Logger
	interval time.Duration

	mu       sync.RWMutex
	current  *Index
	loadedAt time.Time
}

func NewLoader(pool *db.Pool, logger zerolog.Logger, interval time.Duration) *Loader {
	return &Loader{
		pool:     pool,
		logger:   logger,
		interval: interval,
	}
}

// Snapshot returns the current index, loading or refreshing it when stale.
// The returned Index is immutable and safe to use for a whole phase run.
func (l *Loader) Snapshot(ctx context.Context) (*Index, error) {
	if l == nil || l.pool == nil {
		return nil, fmt.Errorf("taxonomy loader is not initialized")
	}

	l.mu.RLock()
	current := l.current
	loadedAt := l.loadedAt
	l.mu.RUnlock()

	now := globaltime.UTC()
	if current != nil && now.Sub(loadedAt) < l.interval {
		return current, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current != nil && globaltime.UTC().Sub(l.loadedAt) < l.interval {
		return l.current, nil
	}

	idx, err := l.load(ctx)
	if err != nil {
		if l.current != nil {
			// Keep serving the previous snapshot; taxonomy reload failures
			// are transient and must not halt matching.
			l.logger.Warn().Err(err).Str("version", l.current.Version()).Msg("taxonomy reload failed, keeping previous snapshot")
			return l.current, nil
		}
		return nil, err
	}

	l.current = idx
	l.loadedAt = globaltime.UTC()
	l.logger.Info().Str("version", idx.Version()).Int("anchors", len(idx.anchors)).Msg("taxonomy snapshot loaded")
	return idx, nil
}

func (l *Loader) load(ctx context.Context) (*Index, error) {
	anchors, err := loadAnchors(ctx, l.pool)
	if err != nil {
		return nil, fmt.Errorf("load anchors: %w", err)
	}
	entries, err := loadEntries(ctx, l.pool)
	if err != nil {
		return nil, fmt.Errorf("load taxonomy entries: %w", err)
	}
	vocabularies, err := loadVocabularies(ctx, l.pool)
	if err != nil {
		return nil, fmt.Errorf("load category vocabularies: %w", err)
	}
	version, err := loadVersion(ctx, l.pool)
	if err != nil {
		return nil, fmt.Errorf("load taxonomy version: %w", err)
	}

	idx, err := Build(version, anchors, entries, vocabularies)
	if err != nil {
		return nil, fmt.Errorf("build taxonomy index: %w", err)
	}
	return idx, nil
}

func loadAnchors(ctx context.Context, pool *db.Pool) ([]AnchorInfo, error) {
	const q = `
SELECT anchor_id, slug, label, class, COALESCE(vocabulary_name, '')
FROM anchor.anchors
ORDER BY anchor_id
`
	rows, err := pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var anchors []AnchorInfo
	for rows.Next() {
		var a AnchorInfo
		if err := rows.Scan(&a.ID, &a.Slug, &a.Label, &a.Class, &a.VocabularyName); err != nil {
			return nil, err
		}
		anchors = append(anchors, a)
	}
	return anchors, rows.Err()
}

func loadEntries(ctx context.Context, pool *db.Pool) ([]Entry, error) {
	const q = `
SELECT canonical_key, aliases, is_stop_word, anchor_id
FROM anchor.taxonomy_entries
ORDER BY entry_id
`
	rows, err := pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var rawAliases []byte
		if err := rows.Scan(&entry.CanonicalKey, &rawAliases, &entry.IsStopWord, &entry.AnchorID); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(rawAliases, &entry.Aliases); err != nil {
			return nil, fmt.Errorf("entry %q: decode aliases: %w", entry.CanonicalKey, err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func loadVocabularies(ctx context.Context, pool *db.Pool) ([]Vocabulary, error) {
	const q = `
SELECT name, allowed_categories, classification_prompt, COALESCE(fallback_category, ''), is_default
FROM anchor.category_vocabularies
ORDER BY name
`
	rows, err := pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vocabularies []Vocabulary
	for rows.Next() {
		var vocab Vocabulary
		var rawCategories []byte
		if err := rows.Scan(&vocab.Name, &rawCategories, &vocab.Prompt, &vocab.FallbackCategory, &vocab.IsDefault); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(rawCategories, &vocab.Categories); err != nil {
			return nil, fmt.Errorf("vocabulary %q: decode allowed_categories: %w", vocab.Name, err)
		}
		vocabularies = append(vocabularies, vocab)
	}
	return vocabularies, rows.Err()
}

func loadVersion(ctx context.Context, pool *db.Pool) (string, error) {
	const q = `
SELECT
	(SELECT COUNT(*) FROM anchor.taxonomy_entries),
	(SELECT COALESCE(MAX(updated_at), 'epoch'::timestamptz) FROM anchor.taxonomy_entries),
	(SELECT COUNT(*) FROM anchor.anchors)
`
	var entryCount, anchorCount int64
	var maxUpdated time.Time
	if err := pool.QueryRow(ctx, q).Scan(&entryCount, &maxUpdated, &anchorCount); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d-%d-%d", anchorCount, entryCount, maxUpdated.UTC().Unix()), nil
}
