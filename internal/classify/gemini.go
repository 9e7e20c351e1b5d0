package classify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

const gateInstruction = `
You are a strategic news analyst. You receive a batch of news headlines that
were mechanically matched to the entity named in the briefing below. For each
headline you must do two things:

1. GATE: decide whether the headline carries strategic or geopolitical
   substance in the context of that entity. Reject purely entertainment,
   sport, weather, celebrity or local human-interest items even though they
   mention the entity.
2. CATEGORIZE: for relevant headlines only, assign exactly one category from
   the allowed category list. Never invent a category outside the list.

Respond with JSON only, matching:
{"verdicts": [{"match_id": <id>, "relevant": <bool>, "category": "<allowed category, omit when not relevant>"}]}

Return exactly one verdict per submitted headline, keyed by its match_id.
`

// GeminiClient classifies headline batches through the Gemini API.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

func NewGeminiClient(ctx context.Context, apiKey, model string, timeout time.Duration) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("classifier API key is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("classifier model is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiClient{
		client:  client,
		model:   model,
		timeout: timeout,
	}, nil
}

func (c *GeminiClient) ClassifyBatch(ctx context.Context, req Request) ([]Verdict, error) {
	if len(req.Items) == 0 {
		return nil, nil
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	systemContent := &genai.Content{
		Parts: []*genai.Part{
			{Text: buildSystemInstruction(req)},
		},
		Role: "system",
	}
	userContent := &genai.Content{
		Parts: []*genai.Part{
			{Text: buildBatchPrompt(req)},
		},
		Role: "user",
	}

	resp, err := c.client.Models.GenerateContent(callCtx, c.model, []*genai.Content{systemContent, userContent}, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   verdictsResponseSchema(),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}

	verdicts, err := ParseVerdicts(resp.Text())
	if err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}
	return verdicts, nil
}

func buildSystemInstruction(req Request) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(gateInstruction))
	b.WriteString("\n\n## Briefing\n\nEntity: ")
	b.WriteString(req.AnchorLabel)
	b.WriteString("\n\n")
	b.WriteString(strings.TrimSpace(req.Prompt))
	b.WriteString("\n\nAllowed categories:\n")
	for _, category := range req.Categories {
		b.WriteString("- ")
		b.WriteString(category)
		b.WriteString("\n")
	}
	return b.String()
}

func buildBatchPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Classify the following headlines:\n\n")
	for _, item := range req.Items {
		fmt.Fprintf(&b, "match_id=%d: %s\n", item.MatchID, item.Text)
	}
	return b.String()
}

func verdictsResponseSchema() *genai.Schema {
	verdictSchema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"match_id": {Type: genai.TypeInteger, Description: "The match_id of the headline this verdict is for."},
			"relevant": {Type: genai.TypeBoolean, Description: "Whether the headline carries strategic substance for the entity."},
			"category": {Type: genai.TypeString, Description: "One of the allowed categories; omit when not relevant."},
		},
		Required: []string{"match_id", "relevant"},
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"verdicts": {
				Type:  genai.TypeArray,
				Items: verdictSchema,
			},
		},
		Required: []string{"verdicts"},
	}
}
