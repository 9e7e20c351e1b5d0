// Package taxonomy builds immutable in-memory snapshots of the anchor alias
// tables. A snapshot is never mutated after Build; reloads swap in a whole
// new Index so concurrent matchers always see a consistent taxonomy version.
package taxonomy

import (
	"fmt"
	"sort"
	"strings"

	ahocorasick "github.com/cloudflare/ahocorasick"

	"horse.fit/anchor-pipeline/internal/normalize"
)

// Pass identifiers, in execution order.
const (
	PassGeographic = 1
	PassThematic   = 2
	PassCatchAll   = 3
)

// AnchorInfo is the slice of an anchor row the matcher and categorizer need.
type AnchorInfo struct {
	ID             int64
	Slug           string
	Label          string
	Class          string
	VocabularyName string
}

// Vocabulary is one category vocabulary with its classification prompt.
type Vocabulary struct {
	Name             string
	Categories       []string
	Prompt           string
	FallbackCategory string
	IsDefault        bool
}

// CanonicalCategory resolves a classifier-returned category against the
// vocabulary, tolerating case and whitespace drift, and returns the
// vocabulary's canonical spelling.
func (v Vocabulary) CanonicalCategory(raw string) (string, bool) {
	needle := strings.ToLower(strings.TrimSpace(raw))
	if needle == "" {
		return "", false
	}
	for _, category := range v.Categories {
		if strings.ToLower(strings.TrimSpace(category)) == needle {
			return category, true
		}
	}
	return "", false
}

// Entry is one taxonomy record as loaded from the datastore.
type Entry struct {
	CanonicalKey string
	Aliases      map[string][]string
	IsStopWord   bool
	AnchorID     int64
}

// Hit is one alias match for a single pass.
type Hit struct {
	AnchorID  int64
	Canonical string
	Stop      bool
}

type aliasRef struct {
	anchorID  int64
	canonical string
	stop      bool
}

type passIndex struct {
	single    map[string][]aliasRef
	phrases   []aliasRef
	automaton *ahocorasick.Matcher
	autoRefs  []aliasRef
}

// Index is an immutable taxonomy snapshot.
type Index struct {
	version     string
	passes      map[int]*passIndex
	anchors     map[int64]AnchorInfo
	vocabs      map[string]Vocabulary
	defaultVoc  string
	anchorOrder []int64
}

// Build constructs a snapshot from loaded rows. It fails when no default
// vocabulary exists or an entry references an unknown anchor; both are
// configuration errors the process must not run with.
func Build(version string, anchors []AnchorInfo, entries []Entry, vocabularies []Vocabulary) (*Index, error) {
	idx := &Index{
		version: version,
		passes: map[int]*passIndex{
			PassGeographic: newPassIndex(),
			PassThematic:   newPassIndex(),
			PassCatchAll:   newPassIndex(),
		},
		anchors: make(map[int64]AnchorInfo, len(anchors)),
		vocabs:  make(map[string]Vocabulary, len(vocabularies)),
	}

	for _, vocab := range vocabularies {
		if len(vocab.Categories) == 0 {
			return nil, fmt.Errorf("vocabulary %q has no allowed categories", vocab.Name)
		}
		idx.vocabs[vocab.Name] = vocab
		if vocab.IsDefault {
			idx.defaultVoc = vocab.Name
		}
	}
	if idx.defaultVoc == "" {
		return nil, fmt.Errorf("no default category vocabulary is configured")
	}

	for _, anchor := range anchors {
		if anchor.VocabularyName != "" {
			if _, ok := idx.vocabs[anchor.VocabularyName]; !ok {
				return nil, fmt.Errorf("anchor %q references unknown vocabulary %q", anchor.Slug, anchor.VocabularyName)
			}
		}
		idx.anchors[anchor.ID] = anchor
		idx.anchorOrder = append(idx.anchorOrder, anchor.ID)
	}
	sort.Slice(idx.anchorOrder, func(i, j int) bool { return idx.anchorOrder[i] < idx.anchorOrder[j] })

	type dedupeKey struct {
		pass      int
		anchorID  int64
		canonical string
	}
	seen := make(map[dedupeKey]struct{})

	for _, entry := range entries {
		anchor, ok := idx.anchors[entry.AnchorID]
		if !ok {
			return nil, fmt.Errorf("taxonomy entry %q owned by unknown anchor id %d", entry.CanonicalKey, entry.AnchorID)
		}
		pass, err := passForClass(anchor.Class)
		if err != nil {
			return nil, fmt.Errorf("anchor %q: %w", anchor.Slug, err)
		}

		for lang, aliases := range entry.Aliases {
			for _, alias := range aliases {
				canonical := normalize.Term(alias, lang)
				if canonical == "" {
					continue
				}
				key := dedupeKey{pass: pass, anchorID: entry.AnchorID, canonical: canonical}
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}

				ref := aliasRef{
					anchorID:  entry.AnchorID,
					canonical: canonical,
					stop:      entry.IsStopWord,
				}
				target := idx.passes[pass]
				target.autoRefs = append(target.autoRefs, ref)
				if strings.Contains(canonical, " ") {
					target.phrases = append(target.phrases, ref)
				} else {
					target.single[canonical] = append(target.single[canonical], ref)
				}
			}
		}
	}

	for _, p := range idx.passes {
		p.finalize()
	}

	return idx, nil
}

func newPassIndex() *passIndex {
	return &passIndex{single: make(map[string][]aliasRef)}
}

// finalize sorts the alias tables and compiles the substring automaton so
// match output order never depends on map iteration.
func (p *passIndex) finalize() {
	sort.Slice(p.autoRefs, func(i, j int) bool {
		if p.autoRefs[i].canonical != p.autoRefs[j].canonical {
			return p.autoRefs[i].canonical < p.autoRefs[j].canonical
		}
		return p.autoRefs[i].anchorID < p.autoRefs[j].anchorID
	})
	sort.Slice(p.phrases, func(i, j int) bool {
		if p.phrases[i].canonical != p.phrases[j].canonical {
			return p.phrases[i].canonical < p.phrases[j].canonical
		}
		return p.phrases[i].anchorID < p.phrases[j].anchorID
	})

	if len(p.autoRefs) > 0 {
		dictionary := make([]string, len(p.autoRefs))
		for i, ref := range p.autoRefs {
			dictionary[i] = ref.canonical
		}
		p.automaton = ahocorasick.NewStringMatcher(dictionary)
	}
}

func passForClass(class string) (int, error) {
	switch class {
	case "geographic":
		return PassGeographic, nil
	case "thematic":
		return PassThematic, nil
	case "catchall":
		return PassCatchAll, nil
	default:
		return 0, fmt.Errorf("unknown anchor class %q", class)
	}
}

// Version identifies the snapshot for logging and determinism checks.
func (idx *Index) Version() string {
	return idx.version
}

// Anchor returns the anchor row for an id.
func (idx *Index) Anchor(id int64) (AnchorInfo, bool) {
	info, ok := idx.anchors[id]
	return info, ok
}

// AnchorIDs returns all anchor ids in ascending order.
func (idx *Index) AnchorIDs() []int64 {
	out := make([]int64, len(idx.anchorOrder))
	copy(out, idx.anchorOrder)
	return out
}

// VocabularyFor resolves the category vocabulary for an anchor: the anchor's
// specialized vocabulary when set, the default vocabulary otherwise.
func (idx *Index) VocabularyFor(anchorID int64) (Vocabulary, error) {
	anchor, ok := idx.anchors[anchorID]
	if !ok {
		return Vocabulary{}, fmt.Errorf("unknown anchor id %d", anchorID)
	}
	name := anchor.VocabularyName
	if name == "" {
		name = idx.defaultVoc
	}
	vocab, ok := idx.vocabs[name]
	if !ok {
		return Vocabulary{}, fmt.Errorf("vocabulary %q not present in snapshot", name)
	}
	return vocab, nil
}

// PassMatches runs one pass against a canonicalized headline. Matching is
// read-only; the per-script strategy follows the document language. Stop-word
// filtering is the caller's responsibility (it only applies to pass 2).
func (idx *Index) PassMatches(pass int, doc normalize.Doc) []Hit {
	p, ok := idx.passes[pass]
	if !ok {
		return nil
	}

	if normalize.ContinuousScript(doc.Language) {
		return p.matchContinuous(doc.Canonical)
	}
	return p.matchTokenized(doc)
}

func (p *passIndex) matchContinuous(canonical string) []Hit {
	if p.automaton == nil || canonical == "" {
		return nil
	}
	hitIdx := p.automaton.Match([]byte(canonical))
	if len(hitIdx) == 0 {
		return nil
	}
	sort.Ints(hitIdx)
	hits := make([]Hit, 0, len(hitIdx))
	for _, i := range hitIdx {
		ref := p.autoRefs[i]
		hits = append(hits, Hit{AnchorID: ref.anchorID, Canonical: ref.canonical, Stop: ref.stop})
	}
	return hits
}

func (p *passIndex) matchTokenized(doc normalize.Doc) []Hit {
	var hits []Hit

	// Single-token aliases: exact hash lookup per headline token, walked in
	// token order so output order is stable.
	looked := make(map[string]struct{}, len(doc.Tokens))
	for _, token := range doc.Tokens {
		if _, done := looked[token]; done {
			continue
		}
		looked[token] = struct{}{}
		for _, ref := range p.single[token] {
			hits = append(hits, Hit{AnchorID: ref.anchorID, Canonical: ref.canonical, Stop: ref.stop})
		}
	}

	if len(p.phrases) > 0 && doc.Canonical != "" {
		padded := " " + doc.Canonical + " "
		for _, ref := range p.phrases {
			if strings.Contains(padded, " "+ref.canonical+" ") {
				hits = append(hits, Hit{AnchorID: ref.anchorID, Canonical: ref.canonical, Stop: ref.stop})
			}
		}
	}

	return hits
}
