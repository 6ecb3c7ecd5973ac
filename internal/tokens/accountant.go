// Package tokens counts chat tokens and truncates enriched prompts to fit an
// upstream context window.
//
// OpenAI-family models are counted exactly with their BPE encodings via
// tiktoken; other model families get a deliberately conservative heuristic so
// that an over-estimate here never turns into an upstream rejection.
package tokens

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/reservoir-ai/reservoir/internal/chat"
)

// Billing constants matching how the upstream accounts chat messages:
// every message carries framing overhead, and every reply is primed with an
// assistant header.
const (
	perMessageOverhead = 4
	replyPriming       = 3
)

// heuristicCharsPerToken is the divisor for the non-OpenAI fallback estimate.
// Three characters per token over-estimates for typical English text (real
// tokenizers average closer to four), which is the safe direction for a
// budget check.
const heuristicCharsPerToken = 3

// fallbackEncoding is used for OpenAI-family model names that tiktoken does
// not recognise yet.
const fallbackEncoding = "o200k_base"

// Accountant counts tokens per model family. Encoders are loaded lazily and
// cached; the zero value is not usable, obtain one via [NewAccountant].
// Safe for concurrent use.
type Accountant struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

// NewAccountant returns an empty accountant ready for use.
func NewAccountant() *Accountant {
	return &Accountant{encoders: make(map[string]*tiktoken.Tiktoken)}
}

// openAIFamily reports whether model is served by OpenAI and therefore has an
// exact BPE encoding.
func openAIFamily(model string) bool {
	lower := strings.ToLower(model)
	return strings.HasPrefix(lower, "gpt-") ||
		strings.HasPrefix(lower, "chatgpt-") ||
		strings.HasPrefix(lower, "o1") ||
		strings.HasPrefix(lower, "o3") ||
		strings.HasPrefix(lower, "o4") ||
		strings.HasPrefix(lower, "text-embedding-")
}

// encoderFor returns the cached BPE encoder for model, or nil when the model
// family is not BPE-countable (callers fall back to the heuristic).
func (a *Accountant) encoderFor(model string) *tiktoken.Tiktoken {
	if !openAIFamily(model) {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if enc, ok := a.encoders[model]; ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			// No encoding data available at all; heuristic takes over.
			a.encoders[model] = nil
			return nil
		}
	}
	a.encoders[model] = enc
	return enc
}

// Count returns the token count of text for the given model.
func (a *Accountant) Count(model, text string) int {
	if enc := a.encoderFor(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return heuristicCount(text)
}

// CountMessage returns the billed token count of a single message, including
// per-message framing overhead but not reply priming.
func (a *Accountant) CountMessage(model string, m chat.Message) int {
	return perMessageOverhead + a.Count(model, m.Role) + a.Count(model, m.Content)
}

// CountMessages returns the billed token count of a full message list,
// including reply priming.
func (a *Accountant) CountMessages(model string, msgs []chat.Message) int {
	total := replyPriming
	for _, m := range msgs {
		total += a.CountMessage(model, m)
	}
	return total
}

// heuristicCount estimates tokens for model families without a known BPE.
func heuristicCount(text string) int {
	chars := len([]rune(text))
	if chars == 0 {
		return 0
	}
	tokens := chars / heuristicCharsPerToken
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}
