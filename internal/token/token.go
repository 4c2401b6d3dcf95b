// Package token estimates token counts for billing notes in stream
// mode, where the remote usage object is unavailable. Counting is best
// effort: an unknown model degrades to "unavailable", never to an error.
package token

import "github.com/pkoukk/tiktoken-go"

// Estimator wraps a tokenizer for one model. The zero value counts
// nothing and reports unavailable.
type Estimator struct {
	enc *tiktoken.Tiktoken
}

// NewEstimator selects the tokenizer for the given model type, falling
// back to cl100k_base for models tiktoken does not know.
func NewEstimator(model string) *Estimator {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return &Estimator{}
		}
	}
	return &Estimator{enc: enc}
}

// Count returns the token count of text and whether counting was
// available.
func (e *Estimator) Count(text string) (int, bool) {
	if e == nil || e.enc == nil {
		return 0, false
	}
	return len(e.enc.Encode(text, nil, nil)), true
}

// CountAll sums the token counts of all texts.
func (e *Estimator) CountAll(texts ...string) (int, bool) {
	if e == nil || e.enc == nil {
		return 0, false
	}
	total := 0
	for _, t := range texts {
		total += len(e.enc.Encode(t, nil, nil))
	}
	return total, true
}
