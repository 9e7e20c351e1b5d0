// Package taxonomyschema validates taxonomy bundle files before they are
// upserted into the configuration tables.
package taxonomyschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed bundle.schema.json
var bundleSchemaJSON string

// Bundle is one taxonomy configuration file: anchors, vocabularies and
// taxonomy entries, upserted together.
type Bundle struct {
	BundleVersion string             `json:"bundle_version"`
	Anchors       []BundleAnchor     `json:"anchors,omitempty"`
	Vocabularies  []BundleVocabulary `json:"vocabularies,omitempty"`
	Entries       []BundleEntry      `json:"entries,omitempty"`
}

type BundleAnchor struct {
	Slug         string  `json:"slug"`
	Label        string  `json:"label"`
	Class        string  `json:"class"`
	ParentRegion *string `json:"parent_region,omitempty"`
	Vocabulary   *string `json:"vocabulary,omitempty"`
}

type BundleVocabulary struct {
	Name                 string   `json:"name"`
	AllowedCategories    []string `json:"allowed_categories"`
	ClassificationPrompt string   `json:"classification_prompt"`
	FallbackCategory     *string  `json:"fallback_category,omitempty"`
	IsDefault            bool     `json:"is_default,omitempty"`
}

type BundleEntry struct {
	CanonicalKey string              `json:"canonical_key"`
	Aliases      map[string][]string `json:"aliases"`
	IsStopWord   bool                `json:"is_stop_word,omitempty"`
	Anchor       string              `json:"anchor"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateBundlePayload validates and decodes one bundle file.
func ValidateBundlePayload(payload json.RawMessage) (*Bundle, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode bundle JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize bundle JSON: %w", err)
	}

	var bundle Bundle
	if err := json.Unmarshal(normalized, &bundle); err != nil {
		return nil, fmt.Errorf("unmarshal bundle: %w", err)
	}

	if err := validateSemantics(&bundle); err != nil {
		return nil, err
	}
	return &bundle, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020

		if err := compiler.AddResource("bundle.schema.json", strings.NewReader(bundleSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile("bundle.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}
		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("bundle is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("bundle contains trailing content")
	}
	return value, nil
}

// validateSemantics enforces the cross-record rules the schema cannot: slug
// uniqueness, vocabulary references, one-anchor ownership per entry.
func validateSemantics(bundle *Bundle) error {
	if bundle == nil {
		return fmt.Errorf("bundle is nil")
	}
	if len(bundle.Anchors) == 0 && len(bundle.Vocabularies) == 0 && len(bundle.Entries) == 0 {
		return fmt.Errorf("bundle contains no records")
	}

	anchorSlugs := make(map[string]struct{}, len(bundle.Anchors))
	for i, anchor := range bundle.Anchors {
		slug := strings.TrimSpace(anchor.Slug)
		if slug == "" {
			return fmt.Errorf("anchors[%d]: slug must not be blank", i)
		}
		if _, dup := anchorSlugs[slug]; dup {
			return fmt.Errorf("anchors[%d]: duplicate slug %q", i, slug)
		}
		anchorSlugs[slug] = struct{}{}
	}

	vocabNames := make(map[string]struct{}, len(bundle.Vocabularies))
	for i, vocab := range bundle.Vocabularies {
		name := strings.TrimSpace(vocab.Name)
		if name == "" {
			return fmt.Errorf("vocabularies[%d]: name must not be blank", i)
		}
		if _, dup := vocabNames[name]; dup {
			return fmt.Errorf("vocabularies[%d]: duplicate name %q", i, name)
		}
		vocabNames[name] = struct{}{}

		if vocab.FallbackCategory != nil && strings.TrimSpace(*vocab.FallbackCategory) != "" {
			found := false
			for _, category := range vocab.AllowedCategories {
				if category == *vocab.FallbackCategory {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("vocabularies[%d]: fallback_category %q is not in allowed_categories", i, *vocab.FallbackCategory)
			}
		}
	}

	entryKeys := make(map[string]struct{}, len(bundle.Entries))
	for i, entry := range bundle.Entries {
		key := strings.TrimSpace(entry.CanonicalKey)
		if key == "" {
			return fmt.Errorf("entries[%d]: canonical_key must not be blank", i)
		}
		if _, dup := entryKeys[key]; dup {
			return fmt.Errorf("entries[%d]: duplicate canonical_key %q", i, key)
		}
		entryKeys[key] = struct{}{}

		if strings.TrimSpace(entry.Anchor) == "" {
			return fmt.Errorf("entries[%d]: anchor must not be blank", i)
		}
		for lang, aliases := range entry.Aliases {
			if strings.TrimSpace(lang) == "" {
				return fmt.Errorf("entries[%d]: alias language must not be blank", i)
			}
			for j, alias := range aliases {
				if strings.TrimSpace(alias) == "" {
					return fmt.Errorf("entries[%d]: aliases[%s][%d] must not be blank", i, lang, j)
				}
			}
		}
	}

	return nil
}
