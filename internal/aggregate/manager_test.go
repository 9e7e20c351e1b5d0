package aggregate

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// memStore is an in-memory Store. Every operation runs under the same fake
// transaction; Attribute's rollback semantics are covered by discarding
// staged writes when the callback errors.
type memStore struct {
	units       map[UnitKey]*memUnit
	assignments map[assignmentKey]struct{}
	pending     []Attribution
	nextUnitID  int64
	failBump    bool
}

type memUnit struct {
	id      int64
	frozen  bool
	count   int
	digest  []DigestEntry
	key     UnitKey
	touched time.Time
}

type assignmentKey struct {
	headlineID int64
	anchorID   int64
}

func newMemStore() *memStore {
	return &memStore{
		units:       map[UnitKey]*memUnit{},
		assignments: map[assignmentKey]struct{}{},
		nextUnitID:  1,
	}
}

type memTx struct {
	store  *memStore
	staged []func()
}

func (s *memStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memTx{store: s}
	if err := fn(tx); err != nil {
		return err
	}
	for _, apply := range tx.staged {
		apply()
	}
	return nil
}

func (s *memStore) PendingAttributions(ctx context.Context, limit int) ([]Attribution, error) {
	var out []Attribution
	for _, a := range s.pending {
		if len(out) == limit {
			break
		}
		if _, done := s.assignments[assignmentKey{a.HeadlineID, a.AnchorID}]; done {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *memStore) PendingCount(ctx context.Context) (int, error) {
	count := 0
	for _, a := range s.pending {
		if _, done := s.assignments[assignmentKey{a.HeadlineID, a.AnchorID}]; !done {
			count++
		}
	}
	return count, nil
}

func (s *memStore) FreezeBefore(ctx context.Context, yearMonth string, now time.Time) (int64, error) {
	var frozen int64
	for _, unit := range s.units {
		if unit.key.YearMonth < yearMonth && !unit.frozen {
			unit.frozen = true
			frozen++
		}
	}
	return frozen, nil
}

func (t *memTx) ResolveUnit(ctx context.Context, key UnitKey, now time.Time) (UnitRow, error) {
	unit, ok := t.store.units[key]
	if !ok {
		unit = &memUnit{id: t.store.nextUnitID, key: key}
		t.store.nextUnitID++
		t.store.units[key] = unit
	}
	return UnitRow{UnitID: unit.id, IsFrozen: unit.frozen}, nil
}

func (t *memTx) InsertAssignment(ctx context.Context, headlineID, anchorID int64, category string, unitID int64, now time.Time) (bool, error) {
	key := assignmentKey{headlineID, anchorID}
	if _, exists := t.store.assignments[key]; exists {
		return false, nil
	}
	t.staged = append(t.staged, func() {
		t.store.assignments[key] = struct{}{}
	})
	return true, nil
}

func (t *memTx) BumpUnit(ctx context.Context, unitID int64, entry DigestEntry, now time.Time) error {
	if t.store.failBump {
		return fmt.Errorf("simulated bump failure")
	}
	t.staged = append(t.staged, func() {
		for _, unit := range t.store.units {
			if unit.id == unitID {
				unit.count++
				unit.digest = append(unit.digest, entry)
				unit.touched = now
				return
			}
		}
	})
	return nil
}

func monthTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		t.Fatalf("parse time %q: %v", value, err)
	}
	return parsed.UTC()
}

func TestAttribute_CreatesUnitAndCounts(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	manager := NewManager(store, zerolog.Nop())

	outcome, err := manager.Attribute(context.Background(), Attribution{
		HeadlineID:  10,
		AnchorID:    1,
		Category:    "Diplomacy",
		PublishedAt: monthTime(t, "2026-03-14"),
	})
	if err != nil {
		t.Fatalf("attribute: %v", err)
	}
	if !outcome.Inserted || outcome.AlreadyAttributed {
		t.Fatalf("expected fresh insert, got %+v", outcome)
	}

	unit := store.units[UnitKey{AnchorID: 1, Category: "Diplomacy", YearMonth: "2026-03"}]
	if unit == nil {
		t.Fatalf("expected unit to be created")
	}
	if unit.count != 1 || len(unit.digest) != 1 {
		t.Fatalf("expected count=1 digest=1, got count=%d digest=%d", unit.count, len(unit.digest))
	}
	if unit.digest[0].HeadlineID != 10 {
		t.Fatalf("unexpected digest entry: %+v", unit.digest[0])
	}
}

func TestAttribute_ReplayIsNoOp(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	manager := NewManager(store, zerolog.Nop())
	attribution := Attribution{
		HeadlineID:  10,
		AnchorID:    1,
		Category:    "Diplomacy",
		PublishedAt: monthTime(t, "2026-03-14"),
	}

	if _, err := manager.Attribute(context.Background(), attribution); err != nil {
		t.Fatalf("first attribute: %v", err)
	}
	outcome, err := manager.Attribute(context.Background(), attribution)
	if err != nil {
		t.Fatalf("replay attribute: %v", err)
	}
	if !outcome.AlreadyAttributed || outcome.Inserted {
		t.Fatalf("expected replay no-op, got %+v", outcome)
	}

	unit := store.units[UnitKey{AnchorID: 1, Category: "Diplomacy", YearMonth: "2026-03"}]
	if unit.count != 1 {
		t.Fatalf("replay must not bump the counter, got %d", unit.count)
	}
}

func TestAttribute_TwoHeadlinesShareOneUnit(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	manager := NewManager(store, zerolog.Nop())

	for _, headlineID := range []int64{10, 11} {
		if _, err := manager.Attribute(context.Background(), Attribution{
			HeadlineID:  headlineID,
			AnchorID:    1,
			Category:    "Conflict",
			PublishedAt: monthTime(t, "2026-03-20"),
		}); err != nil {
			t.Fatalf("attribute headline %d: %v", headlineID, err)
		}
	}

	if len(store.units) != 1 {
		t.Fatalf("expected one unit, got %d", len(store.units))
	}
	unit := store.units[UnitKey{AnchorID: 1, Category: "Conflict", YearMonth: "2026-03"}]
	if unit.count != 2 || len(store.assignments) != 2 {
		t.Fatalf("expected count to equal assignments (2), got count=%d assignments=%d", unit.count, len(store.assignments))
	}
}

func TestAttribute_DifferentMonthsSplitUnits(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	manager := NewManager(store, zerolog.Nop())

	for i, published := range []string{"2026-03-31", "2026-04-01"} {
		if _, err := manager.Attribute(context.Background(), Attribution{
			HeadlineID:  int64(20 + i),
			AnchorID:    1,
			Category:    "Economy",
			PublishedAt: monthTime(t, published),
		}); err != nil {
			t.Fatalf("attribute: %v", err)
		}
	}

	if len(store.units) != 2 {
		t.Fatalf("expected month boundary to split units, got %d", len(store.units))
	}
}

func TestAttribute_FrozenUnitRefuses(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	manager := NewManager(store, zerolog.Nop())
	attribution := Attribution{
		HeadlineID:  10,
		AnchorID:    1,
		Category:    "Diplomacy",
		PublishedAt: monthTime(t, "2026-01-15"),
	}

	if _, err := manager.Attribute(context.Background(), attribution); err != nil {
		t.Fatalf("seed attribute: %v", err)
	}
	if _, err := manager.FreezeBefore(context.Background(), "2026-02"); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	late := attribution
	late.HeadlineID = 11
	_, err := manager.Attribute(context.Background(), late)
	if !errors.Is(err, ErrUnitFrozen) {
		t.Fatalf("expected ErrUnitFrozen, got %v", err)
	}

	unit := store.units[UnitKey{AnchorID: 1, Category: "Diplomacy", YearMonth: "2026-01"}]
	if unit.count != 1 || len(store.assignments) != 1 {
		t.Fatalf("frozen refusal must not write, got count=%d assignments=%d", unit.count, len(store.assignments))
	}
}

func TestAttribute_FailedBumpStagesNothing(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.failBump = true
	manager := NewManager(store, zerolog.Nop())

	_, err := manager.Attribute(context.Background(), Attribution{
		HeadlineID:  10,
		AnchorID:    1,
		Category:    "Diplomacy",
		PublishedAt: monthTime(t, "2026-03-14"),
	})
	if err == nil {
		t.Fatalf("expected bump failure to propagate")
	}
	if len(store.assignments) != 0 {
		t.Fatalf("failed transaction must not leave an assignment behind")
	}
}

func TestAggregatePending_MixedBatch(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	manager := NewManager(store, zerolog.Nop())

	// Pre-freeze January so one item in the batch hits a frozen unit.
	seed := Attribution{HeadlineID: 1, AnchorID: 1, Category: "Diplomacy", PublishedAt: monthTime(t, "2026-01-10")}
	if _, err := manager.Attribute(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := manager.FreezeBefore(context.Background(), "2026-02"); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	store.pending = []Attribution{
		{HeadlineID: 2, AnchorID: 1, Category: "Diplomacy", PublishedAt: monthTime(t, "2026-03-05")},
		{HeadlineID: 3, AnchorID: 1, Category: "Diplomacy", PublishedAt: monthTime(t, "2026-03-06")},
		{HeadlineID: 4, AnchorID: 1, Category: "Diplomacy", PublishedAt: monthTime(t, "2026-01-20")},
	}

	result, err := manager.AggregatePending(context.Background(), 10)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if result.Processed != 3 || result.Attributed != 2 || result.Frozen != 1 || result.Failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	// Re-running the same backlog attributes nothing new.
	again, err := manager.AggregatePending(context.Background(), 10)
	if err != nil {
		t.Fatalf("re-run aggregate: %v", err)
	}
	if again.Attributed != 0 {
		t.Fatalf("expected idempotent re-run, got %+v", again)
	}
}

func TestFreezeBefore_RejectsBadMonth(t *testing.T) {
	t.Parallel()

	manager := NewManager(newMemStore(), zerolog.Nop())
	if _, err := manager.FreezeBefore(context.Background(), "March 2026"); err == nil {
		t.Fatalf("expected malformed month to be rejected")
	}
}

func TestMonthKey_UsesUTC(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+10", 10*60*60)
	local := time.Date(2026, 4, 1, 5, 0, 0, 0, loc)

	if got := MonthKey(local); got != "2026-03" {
		t.Fatalf("expected UTC month 2026-03, got %q", got)
	}
}
