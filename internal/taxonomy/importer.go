package taxonomy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"horse.fit/anchor-pipeline/internal/db"
	"horse.fit/anchor-pipeline/internal/globaltime"
	taxonomyschema "horse.fit/anchor-pipeline/schema"
)

// Importer upserts validated taxonomy bundles into the configuration tables.
// Each bundle lands in one transaction so the matcher never snapshots a
// half-imported taxonomy.
type Importer struct {
	pool   *db.Pool
	logger zerolog.Logger
}

// ImportResult summarizes one bundle import.
type ImportResult struct {
	Anchors      int
	Vocabularies int
	Entries      int
}

func NewImporter(pool *db.Pool, logger zerolog.Logger) *Importer {
	return &Importer{pool: pool, logger: logger}
}

// ImportBundle upserts the bundle's vocabularies, anchors and entries, in
// that order so references resolve within the same transaction.
func (imp *Importer) ImportBundle(ctx context.Context, bundle *taxonomyschema.Bundle) (ImportResult, error) {
	if imp == nil || imp.pool == nil {
		return ImportResult{}, fmt.Errorf("taxonomy importer is not initialized")
	}
	if bundle == nil {
		return ImportResult{}, fmt.Errorf("bundle is nil")
	}

	tx, err := imp.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return ImportResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	now := globaltime.UTC()
	var result ImportResult

	const upsertVocabulary = `
INSERT INTO anchor.category_vocabularies (name, allowed_categories, classification_prompt, fallback_category, is_default, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (name) DO UPDATE SET
	allowed_categories = EXCLUDED.allowed_categories,
	classification_prompt = EXCLUDED.classification_prompt,
	fallback_category = EXCLUDED.fallback_category,
	is_default = EXCLUDED.is_default,
	updated_at = EXCLUDED.updated_at
`
	for _, vocab := range bundle.Vocabularies {
		categories, err := json.Marshal(vocab.AllowedCategories)
		if err != nil {
			return result, fmt.Errorf("marshal allowed categories for %q: %w", vocab.Name, err)
		}
		if _, err := tx.Exec(ctx, upsertVocabulary, vocab.Name, categories, vocab.ClassificationPrompt, vocab.FallbackCategory, vocab.IsDefault, now); err != nil {
			return result, fmt.Errorf("upsert vocabulary %q: %w", vocab.Name, err)
		}
		result.Vocabularies++
	}

	const upsertAnchor = `
INSERT INTO anchor.anchors (slug, label, class, parent_region, vocabulary_name, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (slug) DO UPDATE SET
	label = EXCLUDED.label,
	class = EXCLUDED.class,
	parent_region = EXCLUDED.parent_region,
	vocabulary_name = EXCLUDED.vocabulary_name,
	updated_at = EXCLUDED.updated_at
`
	for _, anchor := range bundle.Anchors {
		if _, err := tx.Exec(ctx, upsertAnchor, anchor.Slug, anchor.Label, anchor.Class, anchor.ParentRegion, anchor.Vocabulary, now); err != nil {
			return result, fmt.Errorf("upsert anchor %q: %w", anchor.Slug, err)
		}
		result.Anchors++
	}

	const resolveAnchor = `SELECT anchor_id FROM anchor.anchors WHERE slug = $1`
	const upsertEntry = `
INSERT INTO anchor.taxonomy_entries (canonical_key, aliases, is_stop_word, anchor_id, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (canonical_key) DO UPDATE SET
	aliases = EXCLUDED.aliases,
	is_stop_word = EXCLUDED.is_stop_word,
	anchor_id = EXCLUDED.anchor_id,
	updated_at = EXCLUDED.updated_at
`
	anchorIDs := make(map[string]int64)
	for _, entry := range bundle.Entries {
		anchorID, ok := anchorIDs[entry.Anchor]
		if !ok {
			if err := tx.QueryRow(ctx, resolveAnchor, entry.Anchor).Scan(&anchorID); err != nil {
				if db.IsNoRows(err) {
					return result, fmt.Errorf("entry %q references unknown anchor %q", entry.CanonicalKey, entry.Anchor)
				}
				return result, fmt.Errorf("resolve anchor %q: %w", entry.Anchor, err)
			}
			anchorIDs[entry.Anchor] = anchorID
		}

		aliases, err := json.Marshal(entry.Aliases)
		if err != nil {
			return result, fmt.Errorf("marshal aliases for %q: %w", entry.CanonicalKey, err)
		}
		if _, err := tx.Exec(ctx, upsertEntry, entry.CanonicalKey, aliases, entry.IsStopWord, anchorID, now); err != nil {
			return result, fmt.Errorf("upsert entry %q: %w", entry.CanonicalKey, err)
		}
		result.Entries++
	}

	if err := tx.Commit(ctx); err != nil {
		return result, fmt.Errorf("commit transaction: %w", err)
	}

	imp.logger.Info().
		Int("anchors", result.Anchors).
		Int("vocabularies", result.Vocabularies).
		Int("entries", result.Entries).
		Msg("taxonomy bundle imported")

	return result, nil
}
