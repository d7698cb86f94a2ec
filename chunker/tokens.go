package chunker

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates how many model tokens a piece of text occupies.
// Implementations must be thread-safe.
type TokenCounter interface {
	Count(text string) int
}

// HeuristicCounter approximates token counts as one token per four runes,
// the usual rule of thumb for English text. It needs no model data, which
// keeps chunking usable offline and in tests.
type HeuristicCounter struct{}

// Count returns the approximate token count for text.
func (HeuristicCounter) Count(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	tokens := (n + 3) / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// TiktokenCounter counts tokens with a real BPE tokenizer. Chunk budgets
// computed this way line up with what the embedding provider actually sees.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter creates a counter for the named tiktoken encoding.
// An empty name selects cl100k_base, the encoding used by the OpenAI
// embedding model families.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count returns the exact token count for text under the configured encoding.
func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}
