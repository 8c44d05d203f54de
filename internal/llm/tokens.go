package llm

import (
	"github.com/pkg/errors"
	"github.com/weaviate/tiktoken-go"
)

const DefaultEncoding = "cl100k_base"

// TokenCounter gives a rough prompt size. It is an estimate for non-OpenAI
// providers since they use their own tokenizers.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

func NewTokenCounter(encoding string) (*TokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, errors.Wrapf(err, "load encoding %s", encoding)
	}
	return &TokenCounter{enc: enc}, nil
}

// Count sums content tokens plus a fixed per-message overhead for role framing.
func (c *TokenCounter) Count(messages []Message) int {
	if c == nil || c.enc == nil {
		return 0
	}
	const perMessage = 4
	total := 0
	for _, m := range messages {
		total += perMessage + len(c.enc.Encode(m.Content, nil, nil))
	}
	return total
}
