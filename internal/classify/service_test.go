package classify

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/anchor-pipeline/internal/taxonomy"
)

type scriptedClient struct {
	calls     int
	responses func(call int, req Request) ([]Verdict, error)
}

func (c *scriptedClient) ClassifyBatch(ctx context.Context, req Request) ([]Verdict, error) {
	c.calls++
	return c.responses(c.calls, req)
}

func testVocabulary() taxonomy.Vocabulary {
	return taxonomy.Vocabulary{
		Name:       "strategic_default",
		Categories: []string{"Diplomacy", "Conflict", "Economy"},
		Prompt:     "Classify the headline within the anchor context.",
		IsDefault:  true,
	}
}

func testAnchor() taxonomy.AnchorInfo {
	return taxonomy.AnchorInfo{ID: 1, Slug: "china", Label: "China", Class: "geographic"}
}

func makeItems(n int) []Item {
	items := make([]Item, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, Item{MatchID: int64(i), HeadlineID: int64(100 + i), Text: fmt.Sprintf("headline %d", i)})
	}
	return items
}

func allRelevant(items []Item, category string) []Verdict {
	verdicts := make([]Verdict, 0, len(items))
	for _, item := range items {
		verdicts = append(verdicts, Verdict{MatchID: item.MatchID, Relevant: true, Category: category})
	}
	return verdicts
}

func TestValidateVerdicts_MixedOutcomes(t *testing.T) {
	t.Parallel()

	vocab := testVocabulary()
	items := makeItems(4)
	verdicts := []Verdict{
		{MatchID: 1, Relevant: true, Category: "diplomacy"},
		{MatchID: 2, Relevant: false},
		{MatchID: 3, Relevant: true, Category: "Sports"},
		// match 4 has no verdict at all
	}

	resolved, invalid := validateVerdicts(vocab, items, verdicts)

	if v := resolved[1]; !v.relevant || v.category != "Diplomacy" {
		t.Fatalf("expected case-corrected accept for match 1, got %+v", v)
	}
	if v := resolved[2]; v.relevant {
		t.Fatalf("expected reject for match 2, got %+v", v)
	}
	if len(invalid) != 2 {
		t.Fatalf("expected matches 3 and 4 invalid, got %v", invalid)
	}
}

func TestClassifyWithSplit_CleanBatch(t *testing.T) {
	t.Parallel()

	items := makeItems(50)
	client := &scriptedClient{
		responses: func(call int, req Request) ([]Verdict, error) {
			verdicts := allRelevant(req.Items, "Conflict")
			// Ten of the fifty lack strategic substance.
			for i := range verdicts {
				if verdicts[i].MatchID <= 10 {
					verdicts[i] = Verdict{MatchID: verdicts[i].MatchID, Relevant: false}
				}
			}
			return verdicts, nil
		},
	}
	svc := NewService(nil, nil, client, zerolog.Nop(), 50, 1)

	resolved, failed, err := svc.classifyWithSplit(context.Background(), testAnchor(), testVocabulary(), items)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("expected a single call, got %d", client.calls)
	}
	if len(failed) != 0 {
		t.Fatalf("expected no failed items, got %v", failed)
	}

	accepted, rejected := 0, 0
	for _, v := range resolved {
		if v.relevant {
			accepted++
		} else {
			rejected++
		}
	}
	if accepted != 40 || rejected != 10 {
		t.Fatalf("expected 40 accepted / 10 rejected, got %d/%d", accepted, rejected)
	}
}

func TestClassifyWithSplit_RetriesHalvedBatches(t *testing.T) {
	t.Parallel()

	items := makeItems(4)
	client := &scriptedClient{
		responses: func(call int, req Request) ([]Verdict, error) {
			if call == 1 {
				// Full batch comes back with an out-of-vocabulary category.
				verdicts := allRelevant(req.Items, "Economy")
				verdicts[0].Category = "Sports"
				return verdicts, nil
			}
			return allRelevant(req.Items, "Economy"), nil
		},
	}
	svc := NewService(nil, nil, client, zerolog.Nop(), 50, 1)

	resolved, failed, err := svc.classifyWithSplit(context.Background(), testAnchor(), testVocabulary(), items)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if len(failed) != 0 {
		t.Fatalf("expected halved retries to recover, got failed %v", failed)
	}
	if len(resolved) != 4 {
		t.Fatalf("expected all 4 items resolved, got %d", len(resolved))
	}
	if client.calls != 3 {
		t.Fatalf("expected full batch plus two halves, got %d calls", client.calls)
	}
}

func TestClassifyWithSplit_SingleItemFallsBackToVocabularyDefault(t *testing.T) {
	t.Parallel()

	vocab := testVocabulary()
	vocab.FallbackCategory = "Economy"

	items := makeItems(1)
	client := &scriptedClient{
		responses: func(call int, req Request) ([]Verdict, error) {
			return allRelevant(req.Items, "Sports"), nil
		},
	}
	svc := NewService(nil, nil, client, zerolog.Nop(), 50, 1)

	resolved, failed, err := svc.classifyWithSplit(context.Background(), testAnchor(), vocab, items)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if len(failed) != 0 {
		t.Fatalf("expected fallback to absorb the failure, got %v", failed)
	}
	v, ok := resolved[1]
	if !ok || !v.relevant || v.category != "Economy" {
		t.Fatalf("expected fallback category Economy, got %+v", v)
	}
}

func TestClassifyWithSplit_SingleItemWithoutFallbackStaysPending(t *testing.T) {
	t.Parallel()

	items := makeItems(1)
	client := &scriptedClient{
		responses: func(call int, req Request) ([]Verdict, error) {
			return allRelevant(req.Items, "Sports"), nil
		},
	}
	svc := NewService(nil, nil, client, zerolog.Nop(), 50, 1)

	resolved, failed, err := svc.classifyWithSplit(context.Background(), testAnchor(), testVocabulary(), items)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if len(resolved) != 0 {
		t.Fatalf("expected no resolution without fallback, got %+v", resolved)
	}
	if len(failed) != 1 || failed[0] != 1 {
		t.Fatalf("expected match 1 left pending, got %v", failed)
	}
}

func TestClassifyWithSplit_TransportErrorAborts(t *testing.T) {
	t.Parallel()

	items := makeItems(3)
	client := &scriptedClient{
		responses: func(call int, req Request) ([]Verdict, error) {
			return nil, fmt.Errorf("upstream timeout")
		},
	}
	svc := NewService(nil, nil, client, zerolog.Nop(), 50, 1)

	if _, _, err := svc.classifyWithSplit(context.Background(), testAnchor(), testVocabulary(), items); err == nil {
		t.Fatalf("expected transport error to propagate")
	}
}
