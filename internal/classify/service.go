package classify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/anchor-pipeline/internal/db"
	"horse.fit/anchor-pipeline/internal/globaltime"
	"horse.fit/anchor-pipeline/internal/taxonomy"
)

// Service drives the relevance gate over pending headline-anchor matches.
// Batches are scoped per anchor because the strategic framing, and therefore
// the vocabulary, differs per anchor context.
type Service struct {
	pool      *db.Pool
	loader    *taxonomy.Loader
	client    Client
	logger    zerolog.Logger
	batchSize int
	workers   int
}

// RunResult summarizes one gate/categorize run.
type RunResult struct {
	Anchors   int
	Processed int
	Accepted  int
	Rejected  int
	Failed    int
}

type resolvedVerdict struct {
	relevant bool
	category string
}

func NewService(pool *db.Pool, loader *taxonomy.Loader, client Client, logger zerolog.Logger, batchSize, workers int) *Service {
	if batchSize <= 0 {
		batchSize = 50
	}
	if workers <= 0 {
		workers = 1
	}
	return &Service{
		pool:      pool,
		loader:    loader,
		client:    client,
		logger:    logger,
		batchSize: batchSize,
		workers:   workers,
	}
}

// Backlog reports how many matches are waiting for review.
func (s *Service) Backlog(ctx context.Context) (int, error) {
	const q = `SELECT COUNT(*) FROM anchor.headline_anchor_matches WHERE review_status = 'pending'`
	var count int
	if err := s.pool.QueryRow(ctx, q).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending matches: %w", err)
	}
	return count, nil
}

// ClassifyPending reviews up to limit pending matches, one batch per anchor,
// across a bounded worker pool. A failed external call leaves its batch in
// the pre-call status; nothing transitions on the basis of a failed call.
func (s *Service) ClassifyPending(ctx context.Context, limit int) (RunResult, error) {
	if s == nil || s.pool == nil {
		return RunResult{}, fmt.Errorf("classify service is not initialized")
	}
	if limit <= 0 {
		return RunResult{}, nil
	}

	idx, err := s.loader.Snapshot(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("taxonomy snapshot: %w", err)
	}

	anchorIDs, err := s.anchorsWithBacklog(ctx)
	if err != nil {
		return RunResult{}, err
	}
	if len(anchorIDs) == 0 {
		return RunResult{}, nil
	}

	var (
		mu        sync.Mutex
		result    RunResult
		remaining = limit
		firstErr  error
	)

	jobs := make(chan int64)
	var wg sync.WaitGroup
	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for anchorID := range jobs {
				mu.Lock()
				claim := min(s.batchSize, remaining)
				remaining -= claim
				mu.Unlock()
				if claim <= 0 {
					continue
				}

				outcome, err := s.classifyAnchorBatch(ctx, idx, anchorID, claim)

				mu.Lock()
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
					s.logger.Error().Err(err).Int64("anchor_id", anchorID).Msg("anchor batch failed, matches stay pending")
				} else {
					result.Anchors++
				}
				// Unused budget goes back to the pool so later anchors can
				// fill the run up to its limit.
				remaining += claim - outcome.Processed
				result.Processed += outcome.Processed
				result.Accepted += outcome.Accepted
				result.Rejected += outcome.Rejected
				result.Failed += outcome.Failed
				mu.Unlock()
			}
		}()
	}

	for _, anchorID := range anchorIDs {
		jobs <- anchorID
	}
	close(jobs)
	wg.Wait()

	s.logger.Info().
		Str("taxonomy_version", idx.Version()).
		Int("anchors", result.Anchors).
		Int("processed", result.Processed).
		Int("accepted", result.Accepted).
		Int("rejected", result.Rejected).
		Int("failed", result.Failed).
		Msg("classify run completed")

	if result.Processed == 0 && firstErr != nil {
		return result, firstErr
	}
	return result, nil
}

func (s *Service) anchorsWithBacklog(ctx context.Context) ([]int64, error) {
	const q = `
SELECT DISTINCT anchor_id
FROM anchor.headline_anchor_matches
WHERE review_status = 'pending'
ORDER BY anchor_id
`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("select anchors with pending matches: %w", err)
	}
	defer rows.Close()

	var anchorIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan anchor id: %w", err)
		}
		anchorIDs = append(anchorIDs, id)
	}
	return anchorIDs, rows.Err()
}

func (s *Service) classifyAnchorBatch(ctx context.Context, idx *taxonomy.Index, anchorID int64, limit int) (RunResult, error) {
	anchor, ok := idx.Anchor(anchorID)
	if !ok {
		// The anchor disappeared from the taxonomy between snapshot loads;
		// its matches stay pending until a snapshot knows it again.
		return RunResult{}, fmt.Errorf("anchor id %d not in taxonomy snapshot", anchorID)
	}

	vocab, err := idx.VocabularyFor(anchorID)
	if err != nil {
		return RunResult{}, err
	}

	items, err := s.pendingItems(ctx, anchorID, limit)
	if err != nil {
		return RunResult{}, err
	}
	if len(items) == 0 {
		return RunResult{}, nil
	}

	verdicts, failedIDs, err := s.classifyWithSplit(ctx, anchor, vocab, items)
	if err != nil {
		return RunResult{}, err
	}

	return s.applyVerdicts(ctx, items, verdicts, failedIDs)
}

// classifyWithSplit submits a batch and validates the response against the
// vocabulary. An invalid response (missing verdicts, out-of-vocabulary
// categories) is retried on halved batches; a single item that still fails
// resolves through the vocabulary fallback or is left pending.
func (s *Service) classifyWithSplit(ctx context.Context, anchor taxonomy.AnchorInfo, vocab taxonomy.Vocabulary, items []Item) (map[int64]resolvedVerdict, []int64, error) {
	verdicts, err := s.client.ClassifyBatch(ctx, Request{
		AnchorLabel: anchor.Label,
		Prompt:      vocab.Prompt,
		Categories:  vocab.Categories,
		Items:       items,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("classify batch for anchor %q: %w", anchor.Slug, err)
	}

	resolved, invalid := validateVerdicts(vocab, items, verdicts)
	if len(invalid) == 0 {
		return resolved, nil, nil
	}

	if len(items) == 1 {
		item := items[0]
		if vocab.FallbackCategory != "" {
			if v, ok := resolved[item.MatchID]; !ok || v.relevant {
				s.logger.Warn().
					Int64("match_id", item.MatchID).
					Str("anchor", anchor.Slug).
					Str("fallback", vocab.FallbackCategory).
					Msg("classifier verdict unusable, applying vocabulary fallback")
				resolved[item.MatchID] = resolvedVerdict{relevant: true, category: vocab.FallbackCategory}
				return resolved, nil, nil
			}
		}
		s.logger.Warn().
			Int64("match_id", item.MatchID).
			Str("anchor", anchor.Slug).
			Err(ErrOutOfVocabulary).
			Msg("classifier verdict unusable, leaving match pending")
		return map[int64]resolvedVerdict{}, []int64{item.MatchID}, nil
	}

	// Reduced-batch retry: the model usually self-corrects on smaller input.
	mid := len(items) / 2
	left, leftFailed, err := s.classifyWithSplit(ctx, anchor, vocab, items[:mid])
	if err != nil {
		return nil, nil, err
	}
	right, rightFailed, err := s.classifyWithSplit(ctx, anchor, vocab, items[mid:])
	if err != nil {
		return nil, nil, err
	}

	for id, v := range right {
		left[id] = v
	}
	return left, append(leftFailed, rightFailed...), nil
}

// validateVerdicts maps verdicts by match id and checks every accepted
// category against the vocabulary, returning the ids that need a retry.
func validateVerdicts(vocab taxonomy.Vocabulary, items []Item, verdicts []Verdict) (map[int64]resolvedVerdict, []int64) {
	byID := make(map[int64]Verdict, len(verdicts))
	for _, v := range verdicts {
		byID[v.MatchID] = v
	}

	resolved := make(map[int64]resolvedVerdict, len(items))
	var invalid []int64
	for _, item := range items {
		verdict, ok := byID[item.MatchID]
		if !ok {
			invalid = append(invalid, item.MatchID)
			continue
		}
		if !verdict.Relevant {
			resolved[item.MatchID] = resolvedVerdict{relevant: false}
			continue
		}
		canonical, ok := vocab.CanonicalCategory(verdict.Category)
		if !ok {
			invalid = append(invalid, item.MatchID)
			continue
		}
		resolved[item.MatchID] = resolvedVerdict{relevant: true, category: canonical}
	}
	return resolved, invalid
}

func (s *Service) pendingItems(ctx context.Context, anchorID int64, limit int) ([]Item, error) {
	const q = `
SELECT m.match_id, m.headline_id, h.display_text
FROM anchor.headline_anchor_matches m
JOIN anchor.headlines h ON h.headline_id = m.headline_id
WHERE m.review_status = 'pending' AND m.anchor_id = $1
ORDER BY m.match_id
LIMIT $2
`
	rows, err := s.pool.Query(ctx, q, anchorID, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending matches: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.MatchID, &item.HeadlineID, &item.Text); err != nil {
			return nil, fmt.Errorf("scan pending match: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Service) applyVerdicts(ctx context.Context, items []Item, verdicts map[int64]resolvedVerdict, failedIDs []int64) (RunResult, error) {
	failed := make(map[int64]struct{}, len(failedIDs))
	for _, id := range failedIDs {
		failed[id] = struct{}{}
	}

	var result RunResult
	rejectedHeadlines := make(map[int64]struct{})
	now := globaltime.UTC()

	for _, item := range items {
		if _, isFailed := failed[item.MatchID]; isFailed {
			result.Processed++
			result.Failed++
			continue
		}
		verdict, ok := verdicts[item.MatchID]
		if !ok {
			continue
		}
		result.Processed++

		if verdict.relevant {
			const accept = `
UPDATE anchor.headline_anchor_matches
SET review_status = 'accepted', category = $2, reviewed_at = $3
WHERE match_id = $1 AND review_status = 'pending'
`
			if _, err := s.pool.Exec(ctx, accept, item.MatchID, verdict.category, now); err != nil {
				return result, fmt.Errorf("accept match %d: %w", item.MatchID, err)
			}
			result.Accepted++
			continue
		}

		const reject = `
UPDATE anchor.headline_anchor_matches
SET review_status = 'rejected', reviewed_at = $2
WHERE match_id = $1 AND review_status = 'pending'
`
		if _, err := s.pool.Exec(ctx, reject, item.MatchID, now); err != nil {
			return result, fmt.Errorf("reject match %d: %w", item.MatchID, err)
		}
		result.Rejected++
		rejectedHeadlines[item.HeadlineID] = struct{}{}
	}

	for headlineID := range rejectedHeadlines {
		if err := s.refreshHeadlineStatus(ctx, headlineID, now); err != nil {
			return result, err
		}
	}

	return result, nil
}

// refreshHeadlineStatus moves an assigned headline to blocked_relevance once
// every one of its matched anchors has rejected it.
func (s *Service) refreshHeadlineStatus(ctx context.Context, headlineID int64, now time.Time) error {
	const q = `
UPDATE anchor.headlines h
SET processing_status = 'blocked_relevance', updated_at = $2
WHERE h.headline_id = $1
  AND h.processing_status = 'assigned'
  AND NOT EXISTS (
	SELECT 1
	FROM anchor.headline_anchor_matches m
	WHERE m.headline_id = h.headline_id AND m.review_status <> 'rejected'
  )
`
	if _, err := s.pool.Exec(ctx, q, headlineID, now); err != nil {
		return fmt.Errorf("refresh headline %d status: %w", headlineID, err)
	}
	return nil
}
