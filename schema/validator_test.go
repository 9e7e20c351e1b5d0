package taxonomyschema

import (
	"encoding/json"
	"testing"
)

func TestValidateBundlePayload_Valid(t *testing.T) {
	payload := json.RawMessage(`{
		"bundle_version":"v1",
		"anchors":[
			{"slug":"china","label":"China","class":"geographic"},
			{"slug":"energy-security","label":"Energy Security","class":"thematic","vocabulary":"energy_markets"}
		],
		"vocabularies":[
			{
				"name":"energy_markets",
				"allowed_categories":["Supply","Policy"],
				"classification_prompt":"Classify energy headlines.",
				"fallback_category":"Policy",
				"is_default":true
			}
		],
		"entries":[
			{
				"canonical_key":"china",
				"aliases":{"en":["China","Beijing"],"zh":["中国"]},
				"anchor":"china"
			},
			{
				"canonical_key":"olympics",
				"aliases":{"en":["Olympics"]},
				"is_stop_word":true,
				"anchor":"energy-security"
			}
		]
	}`)

	bundle, err := ValidateBundlePayload(payload)
	if err != nil {
		t.Fatalf("expected bundle to be valid, got error: %v", err)
	}

	if len(bundle.Anchors) != 2 || len(bundle.Vocabularies) != 1 || len(bundle.Entries) != 2 {
		t.Fatalf("unexpected record counts: %d anchors, %d vocabularies, %d entries",
			len(bundle.Anchors), len(bundle.Vocabularies), len(bundle.Entries))
	}
	if bundle.Anchors[0].Slug != "china" || bundle.Anchors[0].Class != "geographic" {
		t.Fatalf("unexpected first anchor: %+v", bundle.Anchors[0])
	}
	if !bundle.Entries[1].IsStopWord {
		t.Fatalf("expected stop-word flag to survive decoding")
	}
	if got := bundle.Entries[0].Aliases["zh"]; len(got) != 1 || got[0] != "中国" {
		t.Fatalf("unexpected zh aliases: %v", got)
	}
}

func TestValidateBundlePayload_RejectsUnknownClass(t *testing.T) {
	payload := json.RawMessage(`{
		"bundle_version":"v1",
		"anchors":[{"slug":"x","label":"X","class":"regional"}]
	}`)

	if _, err := ValidateBundlePayload(payload); err == nil {
		t.Fatalf("expected unknown anchor class to be rejected")
	}
}

func TestValidateBundlePayload_RejectsDuplicateSlugs(t *testing.T) {
	payload := json.RawMessage(`{
		"bundle_version":"v1",
		"anchors":[
			{"slug":"china","label":"China","class":"geographic"},
			{"slug":"china","label":"China Again","class":"geographic"}
		]
	}`)

	if _, err := ValidateBundlePayload(payload); err == nil {
		t.Fatalf("expected duplicate slugs to be rejected")
	}
}

func TestValidateBundlePayload_RejectsFallbackOutsideAllowed(t *testing.T) {
	payload := json.RawMessage(`{
		"bundle_version":"v1",
		"vocabularies":[
			{
				"name":"v",
				"allowed_categories":["A","B"],
				"classification_prompt":"p",
				"fallback_category":"C"
			}
		]
	}`)

	if _, err := ValidateBundlePayload(payload); err == nil {
		t.Fatalf("expected out-of-list fallback category to be rejected")
	}
}

func TestValidateBundlePayload_RejectsEntryWithoutAliases(t *testing.T) {
	payload := json.RawMessage(`{
		"bundle_version":"v1",
		"entries":[{"canonical_key":"x","aliases":{},"anchor":"china"}]
	}`)

	if _, err := ValidateBundlePayload(payload); err == nil {
		t.Fatalf("expected empty alias map to be rejected")
	}
}

func TestValidateBundlePayload_RejectsEmptyBundle(t *testing.T) {
	if _, err := ValidateBundlePayload(json.RawMessage(`{"bundle_version":"v1"}`)); err == nil {
		t.Fatalf("expected bundle without records to be rejected")
	}
}

func TestValidateBundlePayload_RejectsWrongVersion(t *testing.T) {
	payload := json.RawMessage(`{
		"bundle_version":"v2",
		"anchors":[{"slug":"china","label":"China","class":"geographic"}]
	}`)

	if _, err := ValidateBundlePayload(payload); err == nil {
		t.Fatalf("expected unsupported bundle version to be rejected")
	}
}

func TestValidateBundlePayload_RejectsTrailingContent(t *testing.T) {
	payload := json.RawMessage(`{"bundle_version":"v1","anchors":[{"slug":"a","label":"A","class":"catchall"}]} extra`)

	if _, err := ValidateBundlePayload(payload); err == nil {
		t.Fatalf("expected trailing content to be rejected")
	}
}
