package pipeline

import (
	"log/slog"
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

type tokenCounter interface {
	Count(text string) int
}

// newTokenCounter prefers the cl100k_base BPE and falls back to counting
// whitespace-separated words.
func newTokenCounter(log *slog.Logger) tokenCounter {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		log.Warn("tokenizer unavailable, usage will be approximate", "err", err)
		return wordCounter{}
	}
	return bpeCounter{codec: codec}
}

type bpeCounter struct {
	codec tokenizer.Codec
}

func (c bpeCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return wordCounter{}.Count(text)
	}
	return len(ids)
}

type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}
