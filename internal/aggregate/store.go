package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"horse.fit/anchor-pipeline/internal/db"
)

// dbStore is the Postgres-backed Store.
type dbStore struct {
	pool *db.Pool
}

func NewStore(pool *db.Pool) Store {
	return &dbStore{pool: pool}
}

func (s *dbStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	gtx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = gtx.Rollback(ctx)
	}()

	if err := fn(&dbTx{tx: gtx}); err != nil {
		return err
	}

	if err := gtx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *dbStore) PendingAttributions(ctx context.Context, limit int) ([]Attribution, error) {
	const q = `
SELECT m.headline_id, m.anchor_id, m.category, h.published_at
FROM anchor.headline_anchor_matches m
JOIN anchor.headlines h ON h.headline_id = m.headline_id
LEFT JOIN anchor.assignments a
	ON a.headline_id = m.headline_id AND a.anchor_id = m.anchor_id
WHERE m.review_status = 'accepted' AND a.assignment_id IS NULL
ORDER BY m.match_id
LIMIT $1
`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending attributions: %w", err)
	}
	defer rows.Close()

	var pending []Attribution
	for rows.Next() {
		var a Attribution
		var category *string
		if err := rows.Scan(&a.HeadlineID, &a.AnchorID, &category, &a.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan pending attribution: %w", err)
		}
		if category == nil || *category == "" {
			// Accepted rows always carry a category; a hole here means the
			// row was tampered with and must not silently bucket as "".
			return nil, fmt.Errorf("accepted match (headline %d, anchor %d) has no category", a.HeadlineID, a.AnchorID)
		}
		a.Category = *category
		pending = append(pending, a)
	}
	return pending, rows.Err()
}

func (s *dbStore) PendingCount(ctx context.Context) (int, error) {
	const q = `
SELECT COUNT(*)
FROM anchor.headline_anchor_matches m
LEFT JOIN anchor.assignments a
	ON a.headline_id = m.headline_id AND a.anchor_id = m.anchor_id
WHERE m.review_status = 'accepted' AND a.assignment_id IS NULL
`
	var count int
	if err := s.pool.QueryRow(ctx, q).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending attributions: %w", err)
	}
	return count, nil
}

func (s *dbStore) FreezeBefore(ctx context.Context, yearMonth string, now time.Time) (int64, error) {
	const q = `
UPDATE anchor.aggregation_units
SET is_frozen = TRUE, updated_at = $2
WHERE year_month < $1 AND is_frozen = FALSE
`
	tag, err := s.pool.Exec(ctx, q, yearMonth, now)
	if err != nil {
		return 0, fmt.Errorf("freeze units before %s: %w", yearMonth, err)
	}
	return tag.RowsAffected(), nil
}

type dbTx struct {
	tx db.Tx
}

func (t *dbTx) ResolveUnit(ctx context.Context, key UnitKey, now time.Time) (UnitRow, error) {
	const insert = `
INSERT INTO anchor.aggregation_units
	(anchor_id, category, year_month, headline_count, event_digest, is_frozen, created_at, updated_at)
VALUES ($1, $2, $3, 0, '[]'::jsonb, FALSE, $4, $4)
ON CONFLICT (anchor_id, category, year_month) DO NOTHING
`
	if _, err := t.tx.Exec(ctx, insert, key.AnchorID, key.Category, key.YearMonth, now); err != nil {
		return UnitRow{}, err
	}

	const lock = `
SELECT unit_id, is_frozen
FROM anchor.aggregation_units
WHERE anchor_id = $1 AND category = $2 AND year_month = $3
FOR UPDATE
`
	var unit UnitRow
	if err := t.tx.QueryRow(ctx, lock, key.AnchorID, key.Category, key.YearMonth).Scan(&unit.UnitID, &unit.IsFrozen); err != nil {
		return UnitRow{}, err
	}
	return unit, nil
}

func (t *dbTx) InsertAssignment(ctx context.Context, headlineID, anchorID int64, category string, unitID int64, now time.Time) (bool, error) {
	const q = `
INSERT INTO anchor.assignments (headline_id, anchor_id, category, aggregation_unit_id, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (headline_id, anchor_id) DO NOTHING
`
	tag, err := t.tx.Exec(ctx, q, headlineID, anchorID, category, unitID, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *dbTx) BumpUnit(ctx context.Context, unitID int64, entry DigestEntry, now time.Time) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal digest entry: %w", err)
	}

	const q = `
UPDATE anchor.aggregation_units
SET headline_count = headline_count + 1,
	event_digest = event_digest || $2::jsonb,
	updated_at = $3
WHERE unit_id = $1 AND is_frozen = FALSE
`
	tag, err := t.tx.Exec(ctx, q, unitID, string(payload), now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrUnitFrozen
	}
	return nil
}
