// Package normalize canonicalizes headline text ahead of anchor matching.
// Everything here is pure: the same input always yields the same Doc, which
// the matcher depends on for deterministic re-runs.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Doc is the canonical form of one headline.
type Doc struct {
	Language  string
	Canonical string
	Tokens    []string
	TokenSet  map[string]struct{}
}

// Languages written without reliable word boundaries (logographic scripts)
// or with abjad scripts where token lookups miss inflected forms. Matching
// falls back to substring containment for these.
var continuousScriptLanguages = map[string]struct{}{
	"zh": {},
	"ja": {},
	"th": {},
	"km": {},
	"lo": {},
	"my": {},
	"ar": {},
	"fa": {},
	"ur": {},
	"he": {},
}

var diacriticStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// ContinuousScript reports whether the language's script requires
// substring-containment matching instead of token lookups.
func ContinuousScript(language string) bool {
	_, ok := continuousScriptLanguages[strings.ToLower(strings.TrimSpace(language))]
	return ok
}

// Headline canonicalizes one headline for matching.
func Headline(text, language string) Doc {
	lang := strings.ToLower(strings.TrimSpace(language))
	canonicalText := canonicalize(text)

	if ContinuousScript(lang) {
		// No token segmentation for these scripts; the canonical string is
		// the whole matching surface.
		compact := strings.Join(strings.Fields(canonicalText), " ")
		return Doc{
			Language:  lang,
			Canonical: compact,
			Tokens:    nil,
			TokenSet:  map[string]struct{}{},
		}
	}

	// tokens carries every matchable token, hyphenated compounds included;
	// canonicalTokens carries only the split parts so phrase scans see plain
	// space-delimited words.
	tokens := make([]string, 0, 12)
	canonicalTokens := make([]string, 0, 12)
	tokenSet := make(map[string]struct{}, 16)
	for _, field := range strings.Fields(canonicalText) {
		token := stripPossessive(field)
		if token == "" {
			continue
		}
		if strings.Contains(token, "-") {
			tokens = append(tokens, token)
			tokenSet[token] = struct{}{}
			for _, part := range strings.Split(token, "-") {
				part = stripPossessive(part)
				if part == "" {
					continue
				}
				tokens = append(tokens, part)
				canonicalTokens = append(canonicalTokens, part)
				tokenSet[part] = struct{}{}
			}
			continue
		}
		tokens = append(tokens, token)
		canonicalTokens = append(canonicalTokens, token)
		tokenSet[token] = struct{}{}
	}

	return Doc{
		Language:  lang,
		Canonical: strings.Join(canonicalTokens, " "),
		Tokens:    tokens,
		TokenSet:  tokenSet,
	}
}

// Term canonicalizes a taxonomy alias the same way headlines are
// canonicalized, so index keys and headline tokens always agree.
func Term(text, language string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	canonicalText := canonicalize(text)

	if ContinuousScript(lang) {
		return strings.Join(strings.Fields(canonicalText), " ")
	}

	fields := strings.Fields(canonicalText)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		token := stripPossessive(field)
		if token == "" {
			continue
		}
		if strings.Contains(token, "-") {
			for _, part := range strings.Split(token, "-") {
				part = stripPossessive(part)
				if part != "" {
					parts = append(parts, part)
				}
			}
			continue
		}
		parts = append(parts, token)
	}
	return strings.Join(parts, " ")
}

func canonicalize(text string) string {
	composed := norm.NFC.String(text)
	if isLatinDominant(composed) {
		if stripped, _, err := transform.String(diacriticStripper, composed); err == nil {
			composed = stripped
		}
	}

	lowered := strings.ToLower(composed)

	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		switch {
		case isDashRune(r):
			b.WriteRune('-')
		case r == '’' || r == 'ʼ':
			b.WriteRune('\'')
		case r == '\'':
			b.WriteRune('\'')
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			b.WriteRune(' ')
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func stripPossessive(token string) string {
	token = strings.Trim(token, "-'")
	if strings.HasSuffix(token, "'s") {
		token = token[:len(token)-2]
	}
	return strings.Trim(token, "-'")
}

func isDashRune(r rune) bool {
	switch r {
	case '-', '‐', '‑', '‒', '–', '—', '―', '−':
		return true
	}
	return false
}

func isLatinDominant(text string) bool {
	latin := 0
	other := 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		if unicode.Is(unicode.Latin, r) {
			latin++
		} else {
			other++
		}
	}
	return latin > other
}
