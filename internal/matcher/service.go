package matcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/anchor-pipeline/internal/db"
	"horse.fit/anchor-pipeline/internal/globaltime"
	"horse.fit/anchor-pipeline/internal/langdetect"
	"horse.fit/anchor-pipeline/internal/normalize"
	"horse.fit/anchor-pipeline/internal/taxonomy"
)

// Service drives the matcher over pending headlines in bounded batches.
type Service struct {
	pool       *db.Pool
	loader     *taxonomy.Loader
	logger     zerolog.Logger
	maxAnchors int
}

// RunResult summarizes one matching run.
type RunResult struct {
	Processed       int
	Assigned        int
	BlockedStopword int
	OutOfScope      int
	Failed          int
}

type pendingHeadline struct {
	HeadlineID       int64
	DisplayText      string
	DetectedLanguage string
}

func NewService(pool *db.Pool, loader *taxonomy.Loader, logger zerolog.Logger, maxAnchors int) *Service {
	return &Service{
		pool:       pool,
		loader:     loader,
		logger:     logger,
		maxAnchors: maxAnchors,
	}
}

// Backlog reports how many headlines are waiting for the matcher.
func (s *Service) Backlog(ctx context.Context) (int, error) {
	const q = `SELECT COUNT(*) FROM anchor.headlines WHERE processing_status = 'pending'`
	var count int
	if err := s.pool.QueryRow(ctx, q).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending headlines: %w", err)
	}
	return count, nil
}

// MatchPending matches up to limit pending headlines against the current
// taxonomy snapshot. A failure on one headline aborts that headline only.
func (s *Service) MatchPending(ctx context.Context, limit int) (RunResult, error) {
	if s == nil || s.pool == nil {
		return RunResult{}, fmt.Errorf("matcher service is not initialized")
	}
	if limit <= 0 {
		return RunResult{}, nil
	}

	idx, err := s.loader.Snapshot(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("taxonomy snapshot: %w", err)
	}

	headlines, err := s.selectPending(ctx, limit)
	if err != nil {
		return RunResult{}, err
	}

	var result RunResult
	for _, headline := range headlines {
		result.Processed++

		outcome := s.matchOne(idx, headline)
		if err := s.applyOutcome(ctx, headline.HeadlineID, outcome); err != nil {
			result.Failed++
			s.logger.Error().
				Err(err).
				Int64("headline_id", headline.HeadlineID).
				Msg("failed to persist match outcome")
			continue
		}

		switch outcome.Status {
		case db.HeadlineStatusAssigned:
			result.Assigned++
		case db.HeadlineStatusBlockedStopword:
			result.BlockedStopword++
		default:
			result.OutOfScope++
		}
	}

	if result.Processed > 0 && result.Failed == result.Processed {
		return result, fmt.Errorf("all %d headlines in batch failed to persist", result.Failed)
	}

	s.logger.Info().
		Str("taxonomy_version", idx.Version()).
		Int("processed", result.Processed).
		Int("assigned", result.Assigned).
		Int("blocked_stopword", result.BlockedStopword).
		Int("out_of_scope", result.OutOfScope).
		Int("failed", result.Failed).
		Msg("match run completed")

	return result, nil
}

func (s *Service) matchOne(idx *taxonomy.Index, headline pendingHeadline) Result {
	language := strings.ToLower(strings.TrimSpace(headline.DetectedLanguage))
	if language == "" {
		language = langdetect.DetectISO6391(headline.DisplayText)
	}

	doc := normalize.Headline(headline.DisplayText, language)
	return Match(idx, doc, s.maxAnchors)
}

func (s *Service) selectPending(ctx context.Context, limit int) ([]pendingHeadline, error) {
	const q = `
SELECT headline_id, display_text, COALESCE(detected_language, '')
FROM anchor.headlines
WHERE processing_status = 'pending'
ORDER BY headline_id
LIMIT $1
`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending headlines: %w", err)
	}
	defer rows.Close()

	var headlines []pendingHeadline
	for rows.Next() {
		var h pendingHeadline
		if err := rows.Scan(&h.HeadlineID, &h.DisplayText, &h.DetectedLanguage); err != nil {
			return nil, fmt.Errorf("scan pending headline: %w", err)
		}
		headlines = append(headlines, h)
	}
	return headlines, rows.Err()
}

// applyOutcome writes the junction rows and the terminal status in one
// transaction. Both writes are idempotent: the junction insert is a no-op on
// conflict and the status update only fires while the headline is pending.
func (s *Service) applyOutcome(ctx context.Context, headlineID int64, outcome Result) error {
	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	now := globaltime.UTC()

	const insertMatch = `
INSERT INTO anchor.headline_anchor_matches (headline_id, anchor_id, pass, review_status, created_at)
VALUES ($1, $2, $3, 'pending', $4)
ON CONFLICT (headline_id, anchor_id) DO NOTHING
`
	for _, anchorID := range outcome.AnchorIDs {
		if _, err := tx.Exec(ctx, insertMatch, headlineID, anchorID, outcome.PassByAnchor[anchorID], now); err != nil {
			return fmt.Errorf("insert headline_anchor_match: %w", err)
		}
	}

	const updateStatus = `
UPDATE anchor.headlines
SET processing_status = $2, matched_at = $3, updated_at = $3
WHERE headline_id = $1 AND processing_status = 'pending'
`
	if _, err := tx.Exec(ctx, updateStatus, headlineID, outcome.Status, now); err != nil {
		return fmt.Errorf("update headline status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
