// Package aggregate resolves monthly aggregation units and records the
// many-to-many linkage between headlines and (anchor, category, month)
// buckets. Attribution is idempotent: replays land on the assignment
// uniqueness constraint and become no-op successes.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/anchor-pipeline/internal/globaltime"
)

// ErrUnitFrozen reports an attribution aimed at a frozen unit. It is a
// policy violation, not a crash: the caller skips the item and moves on.
var ErrUnitFrozen = errors.New("aggregation unit is frozen")

// UnitKey identifies one aggregation unit.
type UnitKey struct {
	AnchorID  int64
	Category  string
	YearMonth string
}

// UnitRow is the slice of a unit row attribution needs.
type UnitRow struct {
	UnitID   int64
	IsFrozen bool
}

// DigestEntry is appended to a unit's event digest on every real insert; the
// downstream summarizer reads it when enriching the unit.
type DigestEntry struct {
	HeadlineID  int64     `json:"headline_id"`
	PublishedAt time.Time `json:"published_at"`
}

// Attribution is one accepted (headline, anchor) pair awaiting a bucket.
type Attribution struct {
	HeadlineID  int64
	AnchorID    int64
	Category    string
	PublishedAt time.Time
}

// Outcome reports what one Attribute call did.
type Outcome struct {
	UnitID            int64
	Inserted          bool
	AlreadyAttributed bool
}

// Tx is the per-transaction surface of the store. ResolveUnit must create
// the unit when absent and lock the row; the whole sequence runs inside one
// transaction so duplicate-unit creation and undercounting cannot race.
type Tx interface {
	ResolveUnit(ctx context.Context, key UnitKey, now time.Time) (UnitRow, error)
	InsertAssignment(ctx context.Context, headlineID, anchorID int64, category string, unitID int64, now time.Time) (bool, error)
	BumpUnit(ctx context.Context, unitID int64, entry DigestEntry, now time.Time) error
}

// Store is the datastore surface of the manager.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	PendingAttributions(ctx context.Context, limit int) ([]Attribution, error)
	PendingCount(ctx context.Context) (int, error)
	FreezeBefore(ctx context.Context, yearMonth string, now time.Time) (int64, error)
}

// Manager drives attribution over accepted matches.
type Manager struct {
	store  Store
	logger zerolog.Logger
}

// RunResult summarizes one aggregation run.
type RunResult struct {
	Processed  int
	Attributed int
	Duplicates int
	Frozen     int
	Failed     int
}

func NewManager(store Store, logger zerolog.Logger) *Manager {
	return &Manager{store: store, logger: logger}
}

// MonthKey buckets a publish time into its UTC calendar month.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Backlog reports how many accepted matches still lack an assignment.
func (m *Manager) Backlog(ctx context.Context) (int, error) {
	return m.store.PendingCount(ctx)
}

// Attribute links one headline to its (anchor, category, month) unit. The
// resolve-or-create, the assignment insert and the counter bump form a
// single transaction. An existing assignment is a no-op success and does not
// touch the counter, so headline_count always equals the assignment count.
func (m *Manager) Attribute(ctx context.Context, a Attribution) (Outcome, error) {
	if m == nil || m.store == nil {
		return Outcome{}, fmt.Errorf("aggregation manager is not initialized")
	}

	key := UnitKey{
		AnchorID:  a.AnchorID,
		Category:  a.Category,
		YearMonth: MonthKey(a.PublishedAt),
	}

	var outcome Outcome
	err := m.store.WithinTx(ctx, func(tx Tx) error {
		now := globaltime.UTC()

		unit, err := tx.ResolveUnit(ctx, key, now)
		if err != nil {
			return fmt.Errorf("resolve unit %v: %w", key, err)
		}
		if unit.IsFrozen {
			return ErrUnitFrozen
		}
		outcome.UnitID = unit.UnitID

		inserted, err := tx.InsertAssignment(ctx, a.HeadlineID, a.AnchorID, a.Category, unit.UnitID, now)
		if err != nil {
			return fmt.Errorf("insert assignment: %w", err)
		}
		if !inserted {
			outcome.AlreadyAttributed = true
			return nil
		}
		outcome.Inserted = true

		entry := DigestEntry{HeadlineID: a.HeadlineID, PublishedAt: a.PublishedAt.UTC()}
		if err := tx.BumpUnit(ctx, unit.UnitID, entry, now); err != nil {
			return fmt.Errorf("bump unit %d: %w", unit.UnitID, err)
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

// AggregatePending attributes up to limit accepted matches. A frozen target
// skips that item; a datastore failure aborts that item only.
func (m *Manager) AggregatePending(ctx context.Context, limit int) (RunResult, error) {
	if m == nil || m.store == nil {
		return RunResult{}, fmt.Errorf("aggregation manager is not initialized")
	}
	if limit <= 0 {
		return RunResult{}, nil
	}

	pending, err := m.store.PendingAttributions(ctx, limit)
	if err != nil {
		return RunResult{}, err
	}

	var result RunResult
	for _, attribution := range pending {
		result.Processed++

		outcome, err := m.Attribute(ctx, attribution)
		switch {
		case errors.Is(err, ErrUnitFrozen):
			result.Frozen++
			m.logger.Warn().
				Int64("headline_id", attribution.HeadlineID).
				Int64("anchor_id", attribution.AnchorID).
				Str("category", attribution.Category).
				Str("year_month", MonthKey(attribution.PublishedAt)).
				Msg("attribution refused: unit is frozen")
		case err != nil:
			result.Failed++
			m.logger.Error().
				Err(err).
				Int64("headline_id", attribution.HeadlineID).
				Int64("anchor_id", attribution.AnchorID).
				Msg("attribution failed")
		case outcome.AlreadyAttributed:
			result.Duplicates++
		default:
			result.Attributed++
		}
	}

	if result.Processed > 0 && result.Failed == result.Processed {
		return result, fmt.Errorf("all %d attributions in batch failed", result.Failed)
	}

	m.logger.Info().
		Int("processed", result.Processed).
		Int("attributed", result.Attributed).
		Int("duplicates", result.Duplicates).
		Int("frozen", result.Frozen).
		Int("failed", result.Failed).
		Msg("aggregate run completed")

	return result, nil
}

// FreezeBefore locks every unit strictly older than the given month against
// further accumulation and enrichment.
func (m *Manager) FreezeBefore(ctx context.Context, yearMonth string) (int64, error) {
	if m == nil || m.store == nil {
		return 0, fmt.Errorf("aggregation manager is not initialized")
	}
	if _, err := time.Parse("2006-01", yearMonth); err != nil {
		return 0, fmt.Errorf("year_month must look like 2006-01: %w", err)
	}
	return m.store.FreezeBefore(ctx, yearMonth, globaltime.UTC())
}
