package normalize

import (
	"reflect"
	"strings"
	"testing"
)

func TestHeadline_LowercasesAndStripsPunctuation(t *testing.T) {
	t.Parallel()

	doc := Headline("China, Russia clash: energy talks!", "en")

	want := []string{"china", "russia", "clash", "energy", "talks"}
	if !reflect.DeepEqual(doc.Tokens, want) {
		t.Fatalf("expected tokens %v, got %v", want, doc.Tokens)
	}
	if doc.Canonical != "china russia clash energy talks" {
		t.Fatalf("unexpected canonical form: %q", doc.Canonical)
	}
}

func TestHeadline_StripsDiacriticsForLatinText(t *testing.T) {
	t.Parallel()

	doc := Headline("Türkiye méets São Paulo", "tr")

	for _, want := range []string{"turkiye", "meets", "sao", "paulo"} {
		if _, ok := doc.TokenSet[want]; !ok {
			t.Fatalf("expected token %q in %v", want, doc.Tokens)
		}
	}
}

func TestHeadline_KeepsDiacriticsForNonLatinText(t *testing.T) {
	t.Parallel()

	// Cyrillic-dominant text must not go through the Latin diacritic
	// stripper.
	doc := Headline("Россия и Китай", "ru")

	if _, ok := doc.TokenSet["россия"]; !ok {
		t.Fatalf("expected Cyrillic token to survive, got %v", doc.Tokens)
	}
}

func TestHeadline_HyphenCompoundsMatchBothForms(t *testing.T) {
	t.Parallel()

	doc := Headline("Sino-Russian talks", "en")

	if _, ok := doc.TokenSet["sino-russian"]; !ok {
		t.Fatalf("expected compound token, got %v", doc.Tokens)
	}
	if _, ok := doc.TokenSet["sino"]; !ok {
		t.Fatalf("expected split part 'sino', got %v", doc.Tokens)
	}
	if _, ok := doc.TokenSet["russian"]; !ok {
		t.Fatalf("expected split part 'russian', got %v", doc.Tokens)
	}
	// The canonical phrase surface uses the split parts only.
	if doc.Canonical != "sino russian talks" {
		t.Fatalf("unexpected canonical form: %q", doc.Canonical)
	}
}

func TestHeadline_StripsPossessives(t *testing.T) {
	t.Parallel()

	doc := Headline("China's economy and Russia’s exports", "en")

	if _, ok := doc.TokenSet["china"]; !ok {
		t.Fatalf("expected possessive stripped to 'china', got %v", doc.Tokens)
	}
	if _, ok := doc.TokenSet["russia"]; !ok {
		t.Fatalf("expected curly-quote possessive stripped to 'russia', got %v", doc.Tokens)
	}
}

func TestHeadline_EmDashBehavesLikeHyphen(t *testing.T) {
	t.Parallel()

	regular := Headline("pre-war economy", "en")
	emdash := Headline("pre—war economy", "en")

	if !reflect.DeepEqual(regular.Tokens, emdash.Tokens) {
		t.Fatalf("dash variants disagree: %v vs %v", regular.Tokens, emdash.Tokens)
	}
}

func TestHeadline_ContinuousScriptHasNoTokens(t *testing.T) {
	t.Parallel()

	doc := Headline("中国经济增长放缓", "zh")

	if len(doc.Tokens) != 0 {
		t.Fatalf("expected no tokens for zh, got %v", doc.Tokens)
	}
	if doc.Canonical == "" {
		t.Fatalf("expected non-empty canonical surface")
	}
}

func TestTerm_AgreesWithHeadlineCanonicalization(t *testing.T) {
	t.Parallel()

	term := Term("Sino-Russian", "en")
	doc := Headline("Sino-Russian relations", "en")

	padded := " " + doc.Canonical + " "
	if term == "" || !strings.Contains(padded, " "+term+" ") {
		t.Fatalf("term %q not findable in headline surface %q", term, doc.Canonical)
	}
}

func TestContinuousScript(t *testing.T) {
	t.Parallel()

	for _, lang := range []string{"zh", "ja", "ar", "he", "th"} {
		if !ContinuousScript(lang) {
			t.Fatalf("expected %q to be continuous-script", lang)
		}
	}
	for _, lang := range []string{"en", "de", "ru", ""} {
		if ContinuousScript(lang) {
			t.Fatalf("expected %q to be tokenized", lang)
		}
	}
}
