package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/reservoir-ai/reservoir/internal/chat"
	"github.com/reservoir-ai/reservoir/pkg/memory"
)

// Banner texts introducing each enrichment block. They become system
// messages ahead of the injected history.
const (
	similarBanner = "Relevant messages from past conversations in this context, selected by semantic similarity:"
	recentBanner  = "The most recent messages stored for this context:"
)

// enrich builds the enriched message list: the stored history most relevant
// to the request is injected after the leading system message (or at the
// front when there is none). Lookup failures degrade to the original
// messages with a warning.
func (p *Pipeline) enrich(ctx context.Context, log *slog.Logger, partition, instance string, req *chat.Request, lastVec []float32) []chat.Message {
	var similar []memory.Scored
	if len(lastVec) > 0 {
		queryStart := time.Now()
		s, err := p.store.Similar(ctx, partition, instance, lastVec, p.cfg.SimilarLimit, p.cfg.SimilarThreshold)
		p.metrics.GraphQueryDuration.Record(ctx, time.Since(queryStart).Seconds())
		if err != nil {
			log.Warn("similarity lookup failed, enriching from recency only", "error", err)
		} else {
			similar = s
		}
	}

	queryStart := time.Now()
	recent, err := p.store.Recent(ctx, partition, instance, p.cfg.RecentLimit)
	p.metrics.GraphQueryDuration.Record(ctx, time.Since(queryStart).Seconds())
	if err != nil {
		log.Warn("recency lookup failed", "error", err)
	}

	block := buildEnrichment(similar, recent, req.Messages)
	if len(block) == 0 {
		return req.Messages
	}
	p.metrics.RecordEnrichment(ctx, "similar", int64(len(similar)))
	p.metrics.RecordEnrichment(ctx, "recent", int64(len(recent)))

	insertAt := 0
	if req.Messages[0].Role == chat.RoleSystem {
		insertAt = 1
	}

	out := make([]chat.Message, 0, len(req.Messages)+len(block))
	out = append(out, req.Messages[:insertAt]...)
	out = append(out, block...)
	out = append(out, req.Messages[insertAt:]...)
	return out
}

// buildEnrichment renders the two banner-led history blocks. Messages that
// already appear in the inbound request are dropped, as are duplicates
// between the similar and recent sets. Each block is ordered ascending by
// timestamp so injected history reads chronologically.
func buildEnrichment(similar []memory.Scored, recent []memory.Message, inbound []chat.Message) []chat.Message {
	seen := make(map[string]bool, len(inbound))
	for _, m := range inbound {
		seen[m.Role+"\x00"+m.Content] = true
	}
	fresh := func(m memory.Message) bool {
		key := m.Role + "\x00" + m.Content
		if seen[key] {
			return false
		}
		seen[key] = true
		return true
	}

	var simMsgs []memory.Message
	for _, s := range similar {
		if fresh(s.Message) {
			simMsgs = append(simMsgs, s.Message)
		}
	}
	var recMsgs []memory.Message
	for _, m := range recent {
		if fresh(m) {
			recMsgs = append(recMsgs, m)
		}
	}
	if len(simMsgs) == 0 && len(recMsgs) == 0 {
		return nil
	}

	byTime := func(msgs []memory.Message) {
		sort.Slice(msgs, func(i, j int) bool { return msgs[i].Timestamp < msgs[j].Timestamp })
	}
	byTime(simMsgs)
	byTime(recMsgs)

	var out []chat.Message
	if len(simMsgs) > 0 {
		out = append(out, chat.Message{Role: chat.RoleSystem, Content: similarBanner})
		for _, m := range simMsgs {
			out = append(out, chat.Message{Role: m.Role, Content: m.Content})
		}
	}
	if len(recMsgs) > 0 {
		out = append(out, chat.Message{Role: chat.RoleSystem, Content: recentBanner})
		for _, m := range recMsgs {
			out = append(out, chat.Message{Role: m.Role, Content: m.Content})
		}
	}
	return out
}
