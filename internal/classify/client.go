// Package classify implements the relevance gate and categorizer: it batches
// matched headlines per anchor, submits each batch to an external
// classification capability and records per-anchor accept/reject verdicts
// with vocabulary-checked categories.
package classify

import (
	"context"
	"errors"
)

// ErrOutOfVocabulary marks a classification response carrying a category
// outside the anchor's vocabulary. Recoverable: the batch is retried smaller
// or resolved through the vocabulary fallback, never silently accepted.
var ErrOutOfVocabulary = errors.New("classifier returned out-of-vocabulary category")

// Item is one headline submitted for classification in an anchor's context.
type Item struct {
	MatchID    int64
	HeadlineID int64
	Text       string
}

// Request is one batch scoped to a single anchor.
type Request struct {
	AnchorLabel string
	Prompt      string
	Categories  []string
	Items       []Item
}

// Verdict is the classification outcome for one item. Category is empty when
// the item was gated out as lacking strategic substance.
type Verdict struct {
	MatchID  int64  `json:"match_id"`
	Relevant bool   `json:"relevant"`
	Category string `json:"category"`
}

// Client is the external classification capability. Implementations must
// honor the context deadline; a timeout is treated as a transient failure.
type Client interface {
	ClassifyBatch(ctx context.Context, req Request) ([]Verdict, error)
}
