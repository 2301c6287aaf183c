package workspace

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer names accepted by NewTokenCounter.
const (
	TokenizerTiktoken = "tiktoken"
	TokenizerEstimate = "estimate"
)

// TokenCounter measures text against the context budget.
type TokenCounter interface {
	Count(text string) int
}

// NewTokenCounter returns the counter for kind. Unknown kinds estimate.
func NewTokenCounter(kind string) TokenCounter {
	if kind == TokenizerTiktoken {
		return tiktokenCounter{}
	}
	return estimateCounter{}
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// loadEncoding fetches cl100k_base on first use. The BPE ranks are
// downloaded and cached by tiktoken-go, so offline runs fall back to the
// estimate.
func loadEncoding() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	return encoding
}

type tiktokenCounter struct{}

func (tiktokenCounter) Count(text string) int {
	if enc := loadEncoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return EstimateTokens(text)
}

type estimateCounter struct{}

func (estimateCounter) Count(text string) int {
	return EstimateTokens(text)
}

// EstimateTokens is max(runes/4, words), and at least 1 for non-blank text.
func EstimateTokens(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	estimate := len([]rune(trimmed)) / 4
	if words := len(strings.Fields(trimmed)); estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}
