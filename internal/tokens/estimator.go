// Package tokens estimates prompt token counts before dispatch. Estimates
// feed budget admission only; billing uses the upstream-reported usage.
package tokens

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

// Per-message framing overhead and conversation priming, in tokens. All
// providers are estimated with the same cl100k_base encoding; cross-dialect
// drift is acceptable for admission purposes.
const (
	perMessageOverhead = 4
	replyPriming       = 2
)

// Estimator counts tokens with a cl100k_base BPE codec.
type Estimator struct {
	codec tokenizer.Codec
}

func NewEstimator() (*Estimator, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("tokens: load cl100k_base codec: %w", err)
	}
	return &Estimator{codec: codec}, nil
}

// CountText returns the BPE token count of s. If encoding fails the count
// degrades to the ~4-chars-per-token heuristic rather than blocking the
// request.
func (e *Estimator) CountText(s string) int {
	ids, _, err := e.codec.Encode(s)
	if err != nil {
		return (len(s) + 3) / 4
	}
	return len(ids)
}

// EstimateMessages returns the estimated prompt size of a conversation:
// role and content tokens per message, plus fixed framing overhead.
func (e *Estimator) EstimateMessages(msgs []providers.Message) int {
	total := 0
	for _, m := range msgs {
		total += e.CountText(m.Role) + e.CountText(m.Content)
	}
	return total + perMessageOverhead*len(msgs) + replyPriming
}
