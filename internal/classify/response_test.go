package classify

import (
	"testing"
)

func TestParseVerdicts_Valid(t *testing.T) {
	t.Parallel()

	raw := `{"verdicts":[{"match_id":7,"relevant":true,"category":"Diplomacy"},{"match_id":8,"relevant":false}]}`

	verdicts, err := ParseVerdicts(raw)
	if err != nil {
		t.Fatalf("expected response to parse, got: %v", err)
	}
	if len(verdicts) != 2 {
		t.Fatalf("expected 2 verdicts, got %d", len(verdicts))
	}
	if verdicts[0].MatchID != 7 || !verdicts[0].Relevant || verdicts[0].Category != "Diplomacy" {
		t.Fatalf("unexpected first verdict: %+v", verdicts[0])
	}
	if verdicts[1].Relevant || verdicts[1].Category != "" {
		t.Fatalf("unexpected second verdict: %+v", verdicts[1])
	}
}

func TestParseVerdicts_StripsCodeFence(t *testing.T) {
	t.Parallel()

	raw := "```json\n{\"verdicts\":[{\"match_id\":3,\"relevant\":true,\"category\":\"Economy\"}]}\n```"

	verdicts, err := ParseVerdicts(raw)
	if err != nil {
		t.Fatalf("expected fenced response to parse, got: %v", err)
	}
	if len(verdicts) != 1 || verdicts[0].MatchID != 3 {
		t.Fatalf("unexpected verdicts: %+v", verdicts)
	}
}

func TestParseVerdicts_RejectsMissingEnvelope(t *testing.T) {
	t.Parallel()

	if _, err := ParseVerdicts(`[{"match_id":1,"relevant":true}]`); err == nil {
		t.Fatalf("expected bare array to be rejected")
	}
}

func TestParseVerdicts_RejectsMissingMatchID(t *testing.T) {
	t.Parallel()

	if _, err := ParseVerdicts(`{"verdicts":[{"relevant":true,"category":"Economy"}]}`); err == nil {
		t.Fatalf("expected verdict without match_id to be rejected")
	}
}

func TestParseVerdicts_RejectsUnknownFields(t *testing.T) {
	t.Parallel()

	if _, err := ParseVerdicts(`{"verdicts":[{"match_id":1,"relevant":true,"confidence":0.9}]}`); err == nil {
		t.Fatalf("expected verdict with extra field to be rejected")
	}
}

func TestParseVerdicts_RejectsTrailingContent(t *testing.T) {
	t.Parallel()

	if _, err := ParseVerdicts(`{"verdicts":[]} trailing`); err == nil {
		t.Fatalf("expected trailing content to be rejected")
	}
}

func TestParseVerdicts_RejectsEmptyResponse(t *testing.T) {
	t.Parallel()

	if _, err := ParseVerdicts("   "); err == nil {
		t.Fatalf("expected empty response to be rejected")
	}
}
