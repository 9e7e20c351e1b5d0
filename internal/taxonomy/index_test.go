package taxonomy

import (
	"testing"

	"horse.fit/anchor-pipeline/internal/normalize"
)

func testVocabularies() []Vocabulary {
	return []Vocabulary{
		{
			Name:       "strategic_default",
			Categories: []string{"Diplomacy", "Conflict", "Economy"},
			Prompt:     "Classify the headline within the anchor context.",
			IsDefault:  true,
		},
		{
			Name:             "energy_markets",
			Categories:       []string{"Supply", "Policy"},
			Prompt:           "Classify energy headlines.",
			FallbackCategory: "Policy",
		},
	}
}

func testAnchors() []AnchorInfo {
	return []AnchorInfo{
		{ID: 1, Slug: "china", Label: "China", Class: "geographic"},
		{ID: 2, Slug: "russia", Label: "Russia", Class: "geographic"},
		{ID: 3, Slug: "energy-security", Label: "Energy Security", Class: "thematic", VocabularyName: "energy_markets"},
		{ID: 4, Slug: "global-order", Label: "Global Order", Class: "catchall"},
	}
}

func testEntries() []Entry {
	return []Entry{
		{CanonicalKey: "china", Aliases: map[string][]string{"en": {"China", "Beijing"}, "zh": {"中国"}}, AnchorID: 1},
		{CanonicalKey: "russia", Aliases: map[string][]string{"en": {"Russia", "Moscow"}}, AnchorID: 2},
		{CanonicalKey: "energy", Aliases: map[string][]string{"en": {"energy", "oil pipeline"}}, AnchorID: 3},
		{CanonicalKey: "olympics", Aliases: map[string][]string{"en": {"Olympics", "olympic games"}}, IsStopWord: true, AnchorID: 3},
		{CanonicalKey: "summit", Aliases: map[string][]string{"en": {"summit"}}, AnchorID: 4},
	}
}

func buildTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Build("test-1", testAnchors(), testEntries(), testVocabularies())
	if err != nil {
		t.Fatalf("build index: %v", err)
	}
	return idx
}

func TestBuild_RequiresDefaultVocabulary(t *testing.T) {
	t.Parallel()

	vocabs := []Vocabulary{{Name: "v", Categories: []string{"A"}, Prompt: "p"}}
	if _, err := Build("v1", testAnchors(), nil, vocabs); err == nil {
		t.Fatalf("expected build to fail without a default vocabulary")
	}
}

func TestBuild_RejectsUnknownAnchorReference(t *testing.T) {
	t.Parallel()

	entries := []Entry{{CanonicalKey: "ghost", Aliases: map[string][]string{"en": {"ghost"}}, AnchorID: 99}}
	if _, err := Build("v1", testAnchors(), entries, testVocabularies()); err == nil {
		t.Fatalf("expected build to fail for entry owned by unknown anchor")
	}
}

func TestBuild_RejectsUnknownVocabularyReference(t *testing.T) {
	t.Parallel()

	anchors := []AnchorInfo{{ID: 1, Slug: "a", Label: "A", Class: "thematic", VocabularyName: "missing"}}
	if _, err := Build("v1", anchors, nil, testVocabularies()); err == nil {
		t.Fatalf("expected build to fail for unknown vocabulary reference")
	}
}

func TestBuild_RejectsUnknownAnchorClass(t *testing.T) {
	t.Parallel()

	anchors := []AnchorInfo{{ID: 1, Slug: "a", Label: "A", Class: "regional"}}
	entries := []Entry{{CanonicalKey: "a", Aliases: map[string][]string{"en": {"a"}}, AnchorID: 1}}
	if _, err := Build("v1", anchors, entries, testVocabularies()); err == nil {
		t.Fatalf("expected build to fail for unknown anchor class")
	}
}

func TestPassMatches_SingleTokenLookup(t *testing.T) {
	t.Parallel()

	idx := buildTestIndex(t)
	doc := normalize.Headline("Beijing hosts trade talks", "en")

	hits := idx.PassMatches(PassGeographic, doc)
	if len(hits) != 1 || hits[0].AnchorID != 1 {
		t.Fatalf("expected a single hit for anchor 1, got %+v", hits)
	}
}

func TestPassMatches_PhraseRespectsWordBoundaries(t *testing.T) {
	t.Parallel()

	idx := buildTestIndex(t)

	match := normalize.Headline("New oil pipeline opens", "en")
	if hits := idx.PassMatches(PassThematic, match); len(hits) != 1 {
		t.Fatalf("expected phrase hit, got %+v", hits)
	}

	// "pipelines" must not satisfy the "oil pipeline" phrase.
	noMatch := normalize.Headline("Old oil pipelines decay", "en")
	if hits := idx.PassMatches(PassThematic, noMatch); len(hits) != 0 {
		t.Fatalf("expected no phrase hit across word boundary, got %+v", hits)
	}
}

func TestPassMatches_ContinuousScriptUsesSubstringContainment(t *testing.T) {
	t.Parallel()

	idx := buildTestIndex(t)
	doc := normalize.Headline("中国经济增长放缓", "zh")

	hits := idx.PassMatches(PassGeographic, doc)
	if len(hits) != 1 || hits[0].AnchorID != 1 {
		t.Fatalf("expected substring hit for anchor 1, got %+v", hits)
	}
}

func TestPassMatches_StopWordFlagSurvivesIntoHits(t *testing.T) {
	t.Parallel()

	idx := buildTestIndex(t)
	doc := normalize.Headline("Olympics opening ceremony", "en")

	hits := idx.PassMatches(PassThematic, doc)
	if len(hits) != 1 || !hits[0].Stop {
		t.Fatalf("expected a stop-flagged hit, got %+v", hits)
	}
}

func TestPassMatches_IsDeterministic(t *testing.T) {
	t.Parallel()

	idx := buildTestIndex(t)
	doc := normalize.Headline("China Russia energy summit", "en")

	first := idx.PassMatches(PassGeographic, doc)
	for i := 0; i < 20; i++ {
		again := idx.PassMatches(PassGeographic, doc)
		if len(again) != len(first) {
			t.Fatalf("hit count changed between runs: %d vs %d", len(first), len(again))
		}
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("hit order changed between runs: %+v vs %+v", first, again)
			}
		}
	}
}

func TestVocabularyFor_FallsBackToDefault(t *testing.T) {
	t.Parallel()

	idx := buildTestIndex(t)

	vocab, err := idx.VocabularyFor(1)
	if err != nil {
		t.Fatalf("vocabulary for anchor 1: %v", err)
	}
	if vocab.Name != "strategic_default" {
		t.Fatalf("expected default vocabulary, got %q", vocab.Name)
	}

	vocab, err = idx.VocabularyFor(3)
	if err != nil {
		t.Fatalf("vocabulary for anchor 3: %v", err)
	}
	if vocab.Name != "energy_markets" {
		t.Fatalf("expected specialized vocabulary, got %q", vocab.Name)
	}
}

func TestCanonicalCategory(t *testing.T) {
	t.Parallel()

	vocab := testVocabularies()[0]

	got, ok := vocab.CanonicalCategory("  diplomacy ")
	if !ok || got != "Diplomacy" {
		t.Fatalf("expected canonical spelling Diplomacy, got %q ok=%t", got, ok)
	}
	if _, ok := vocab.CanonicalCategory("Sports"); ok {
		t.Fatalf("expected out-of-vocabulary category to be rejected")
	}
}
