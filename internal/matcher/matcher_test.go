package matcher

import (
	"reflect"
	"testing"

	"horse.fit/anchor-pipeline/internal/db"
	"horse.fit/anchor-pipeline/internal/normalize"
	"horse.fit/anchor-pipeline/internal/taxonomy"
)

func buildTestIndex(t *testing.T) *taxonomy.Index {
	t.Helper()

	vocabularies := []taxonomy.Vocabulary{
		{
			Name:       "strategic_default",
			Categories: []string{"Diplomacy", "Conflict", "Economy"},
			Prompt:     "Classify the headline within the anchor context.",
			IsDefault:  true,
		},
	}
	anchors := []taxonomy.AnchorInfo{
		{ID: 1, Slug: "china", Label: "China", Class: "geographic"},
		{ID: 2, Slug: "russia", Label: "Russia", Class: "geographic"},
		{ID: 3, Slug: "energy-security", Label: "Energy Security", Class: "thematic"},
		{ID: 4, Slug: "global-order", Label: "Global Order", Class: "catchall"},
	}
	entries := []taxonomy.Entry{
		{CanonicalKey: "china", Aliases: map[string][]string{"en": {"China", "Beijing"}}, AnchorID: 1},
		{CanonicalKey: "russia", Aliases: map[string][]string{"en": {"Russia", "Moscow"}}, AnchorID: 2},
		{CanonicalKey: "energy", Aliases: map[string][]string{"en": {"energy"}}, AnchorID: 3},
		{CanonicalKey: "olympics", Aliases: map[string][]string{"en": {"Olympics"}}, IsStopWord: true, AnchorID: 3},
		{CanonicalKey: "summit", Aliases: map[string][]string{"en": {"summit"}}, AnchorID: 4},
	}

	idx, err := taxonomy.Build("test-1", anchors, entries, vocabularies)
	if err != nil {
		t.Fatalf("build index: %v", err)
	}
	return idx
}

func TestMatch_UnionAcrossPasses(t *testing.T) {
	t.Parallel()

	idx := buildTestIndex(t)
	doc := normalize.Headline("China and Russia clash over energy exports", "en")

	result := Match(idx, doc, 0)

	if result.Status != db.HeadlineStatusAssigned {
		t.Fatalf("expected assigned, got %q", result.Status)
	}
	if !reflect.DeepEqual(result.AnchorIDs, []int64{1, 2, 3}) {
		t.Fatalf("expected anchors [1 2 3], got %v", result.AnchorIDs)
	}
	if result.PassByAnchor[1] != taxonomy.PassGeographic || result.PassByAnchor[3] != taxonomy.PassThematic {
		t.Fatalf("unexpected pass attribution: %v", result.PassByAnchor)
	}
}

func TestMatch_LaterPassNeverSuppressedByEarlierHit(t *testing.T) {
	t.Parallel()

	idx := buildTestIndex(t)
	doc := normalize.Headline("China summit on energy", "en")

	result := Match(idx, doc, 0)

	// One hit in each pass: geographic (china), thematic (energy),
	// catchall (summit).
	if !reflect.DeepEqual(result.AnchorIDs, []int64{1, 3, 4}) {
		t.Fatalf("expected anchors [1 3 4], got %v", result.AnchorIDs)
	}
}

func TestMatch_StopWordOnlyBlocksHeadline(t *testing.T) {
	t.Parallel()

	idx := buildTestIndex(t)
	doc := normalize.Headline("Olympics opening ceremony delights crowds", "en")

	result := Match(idx, doc, 0)

	if result.Status != db.HeadlineStatusBlockedStopword {
		t.Fatalf("expected blocked_stopword, got %q", result.Status)
	}
	if len(result.AnchorIDs) != 0 {
		t.Fatalf("expected no anchors, got %v", result.AnchorIDs)
	}
}

func TestMatch_StopWordDiscardDoesNotBlockOtherMatches(t *testing.T) {
	t.Parallel()

	idx := buildTestIndex(t)
	doc := normalize.Headline("China prepares for the Olympics", "en")

	result := Match(idx, doc, 0)

	if result.Status != db.HeadlineStatusAssigned {
		t.Fatalf("expected assigned, got %q", result.Status)
	}
	if !reflect.DeepEqual(result.AnchorIDs, []int64{1}) {
		t.Fatalf("expected anchors [1], got %v", result.AnchorIDs)
	}
}

func TestMatch_NoHitsIsOutOfScope(t *testing.T) {
	t.Parallel()

	idx := buildTestIndex(t)
	doc := normalize.Headline("Local bakery wins pastry award", "en")

	result := Match(idx, doc, 0)

	if result.Status != db.HeadlineStatusOutOfScope {
		t.Fatalf("expected out_of_scope, got %q", result.Status)
	}
}

func TestMatch_CapPrefersEarlierPasses(t *testing.T) {
	t.Parallel()

	idx := buildTestIndex(t)
	doc := normalize.Headline("China Russia energy summit", "en")

	result := Match(idx, doc, 2)

	if !reflect.DeepEqual(result.AnchorIDs, []int64{1, 2}) {
		t.Fatalf("expected cap to keep geographic anchors [1 2], got %v", result.AnchorIDs)
	}
	if len(result.PassByAnchor) != 2 {
		t.Fatalf("expected dropped anchors removed from pass map, got %v", result.PassByAnchor)
	}
	if result.Status != db.HeadlineStatusAssigned {
		t.Fatalf("expected assigned, got %q", result.Status)
	}
}

func TestMatch_IsDeterministic(t *testing.T) {
	t.Parallel()

	idx := buildTestIndex(t)
	doc := normalize.Headline("China and Russia clash over energy exports near Moscow summit", "en")

	first := Match(idx, doc, 0)
	for i := 0; i < 50; i++ {
		again := Match(idx, doc, 0)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("match results diverged on run %d: %+v vs %+v", i, first, again)
		}
	}
}
