package tokens

import (
	"errors"
	"fmt"

	"github.com/reservoir-ai/reservoir/internal/chat"
)

// ErrInputTooLarge is returned when a message list cannot be brought under
// budget while preserving the protected messages, or when a single message
// exceeds its ceiling.
var ErrInputTooLarge = errors.New("tokens: input too large")

// ValidateInput checks the final user message alone against the hard ceiling.
// It runs before any persistence or upstream call.
func (a *Accountant) ValidateInput(model, content string, ceiling int) error {
	got := perMessageOverhead + a.Count(model, "user") + a.Count(model, content)
	if got > ceiling {
		return fmt.Errorf("%w: last message is %d tokens, ceiling is %d", ErrInputTooLarge, got, ceiling)
	}
	return nil
}

// Truncate returns a message list that fits within budget while preserving:
//
//  1. every system message, in original order;
//  2. the final message, unconditionally;
//  3. as many of the remaining messages as fit, preferring newest.
//
// Kept messages retain their original relative order. When the protected
// messages alone exceed budget, [ErrInputTooLarge] is returned.
//
// The input slice is never mutated; callers get a fresh slice (or the input
// itself when nothing was dropped).
func (a *Accountant) Truncate(model string, msgs []chat.Message, budget int) ([]chat.Message, error) {
	if len(msgs) == 0 {
		return msgs, nil
	}
	if a.CountMessages(model, msgs) <= budget {
		return msgs, nil
	}

	last := len(msgs) - 1
	keep := make([]bool, len(msgs))
	cost := replyPriming

	for i, m := range msgs {
		if m.Role == chat.RoleSystem || i == last {
			keep[i] = true
			cost += a.CountMessage(model, m)
		}
	}
	if cost > budget {
		return nil, fmt.Errorf("%w: system messages and final message need %d tokens, budget is %d", ErrInputTooLarge, cost, budget)
	}

	// Fill the remaining budget newest-first.
	for i := last - 1; i >= 0; i-- {
		if keep[i] {
			continue
		}
		c := a.CountMessage(model, msgs[i])
		if cost+c > budget {
			continue
		}
		keep[i] = true
		cost += c
	}

	out := make([]chat.Message, 0, len(msgs))
	for i, m := range msgs {
		if keep[i] {
			out = append(out, m)
		}
	}
	return out, nil
}
