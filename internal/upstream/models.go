// Package upstream routes chat-completion requests to the right
// OpenAI-compatible endpoint and forwards them with bounded concurrency.
package upstream

import "strings"

// Kind identifies which upstream family serves a model.
type Kind string

const (
	KindOpenAI Kind = "openai"
	KindOllama Kind = "ollama"
)

// ModelInfo describes how a model is routed and budgeted.
type ModelInfo struct {
	Kind Kind

	// InputBudget is the token budget for the prompt side of a request.
	// Enriched prompts are truncated to fit it.
	InputBudget int
}

// knownModels routes recognized OpenAI model names. Budgets are input-side:
// the advertised context window minus headroom for the completion.
var knownModels = map[string]ModelInfo{
	"gpt-4.1":     {Kind: KindOpenAI, InputBudget: 128_000},
	"gpt-4o":      {Kind: KindOpenAI, InputBudget: 128_000},
	"gpt-4o-mini": {Kind: KindOpenAI, InputBudget: 48_000},
}

// defaultOllamaBudget is the assumed input budget for local models, which
// rarely advertise their context length through the API.
const defaultOllamaBudget = 8_192

// Lookup resolves a model name to its routing info. Exact matches win; other
// gpt-/o-series prefixes route to OpenAI with a conservative budget, and
// anything else is treated as a local Ollama model.
func Lookup(model string) ModelInfo {
	if info, ok := knownModels[model]; ok {
		return info
	}
	lower := strings.ToLower(model)
	for _, prefix := range []string{"gpt-", "chatgpt-", "o1", "o3", "o4"} {
		if strings.HasPrefix(lower, prefix) {
			return ModelInfo{Kind: KindOpenAI, InputBudget: 48_000}
		}
	}
	return ModelInfo{Kind: KindOllama, InputBudget: defaultOllamaBudget}
}
