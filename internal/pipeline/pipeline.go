// Package pipeline implements the capture-enrich-forward flow for one
// proxied chat-completions request.
//
// The stages run in order: validate, persist the inbound messages, enrich
// the prompt with stored history, fit it to the model's token budget,
// forward upstream, and persist the assistant reply. Embedding and storage
// failures are absorbed with warnings; the request still reaches the
// upstream and the client still gets its completion.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/reservoir-ai/reservoir/internal/apierror"
	"github.com/reservoir-ai/reservoir/internal/chat"
	"github.com/reservoir-ai/reservoir/internal/observe"
	"github.com/reservoir-ai/reservoir/internal/tokens"
	"github.com/reservoir-ai/reservoir/internal/upstream"
	"github.com/reservoir-ai/reservoir/pkg/memory"
)

// Embedder computes normalized embedding vectors. Satisfied by
// embedding.Client.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Forwarder sends a finished body to the model's upstream. Satisfied by
// upstream.Client.
type Forwarder interface {
	Forward(ctx context.Context, model string, body []byte, auth string) ([]byte, error)
	URLFor(model string) string
}

// Config tunes the enrichment and budgeting stages.
type Config struct {
	// SimilarLimit and RecentLimit cap the two enrichment sources.
	// Defaults: 5 each.
	SimilarLimit int
	RecentLimit  int

	// SimilarThreshold is the minimum similarity score a stored message must
	// reach to be injected. Default: 0.85.
	SimilarThreshold float64

	// InputCeiling is the hard token ceiling for the final user message
	// alone. Requests over it are rejected before any side effect.
	// Zero derives the ceiling from the model's effective input budget.
	InputCeiling int

	// MaxTokens, when positive, overrides the model's input budget.
	MaxTokens int
}

func (c Config) withDefaults() Config {
	if c.SimilarLimit <= 0 {
		c.SimilarLimit = 5
	}
	if c.RecentLimit <= 0 {
		c.RecentLimit = 5
	}
	if c.SimilarThreshold <= 0 {
		c.SimilarThreshold = 0.85
	}
	return c
}

// Pipeline processes proxied chat requests. Safe for concurrent use.
type Pipeline struct {
	store      memory.Store
	embedder   Embedder
	forwarder  Forwarder
	accountant *tokens.Accountant
	metrics    *observe.Metrics
	cfg        Config
}

// New assembles a Pipeline.
func New(store memory.Store, embedder Embedder, forwarder Forwarder, cfg Config) *Pipeline {
	return &Pipeline{
		store:      store,
		embedder:   embedder,
		forwarder:  forwarder,
		accountant: tokens.NewAccountant(),
		metrics:    observe.DefaultMetrics(),
		cfg:        cfg.withDefaults(),
	}
}

// Result is the outcome of a handled request.
type Result struct {
	// TraceID identifies the capture of this request in the store.
	TraceID string

	// Body is the upstream response, relayed to the client verbatim.
	Body []byte
}

// Handle runs one request through the pipeline. body is the raw client
// request; auth is the client's Authorization header value. Errors carry an
// apierror classification for the HTTP layer.
func (p *Pipeline) Handle(ctx context.Context, partition, instance string, body []byte, auth string) (*Result, error) {
	req, err := chat.ParseRequest(body)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindBadRequest, err, "invalid chat request")
	}
	if req.Last().Role != chat.RoleUser {
		return nil, apierror.New(apierror.KindBadRequest, "final message must have role user")
	}
	budget := p.budgetFor(req.Model)
	ceiling := p.cfg.InputCeiling
	if ceiling <= 0 {
		ceiling = budget
	}
	if err := p.accountant.ValidateInput(req.Model, req.Last().Content, ceiling); err != nil {
		return nil, apierror.Wrap(apierror.KindInputTooLarge, err, "request exceeds input ceiling")
	}

	traceID := uuid.NewString()
	log := slog.With("trace_id", traceID, "partition", partition, "instance", instance, "model", req.Model)

	lastUserID, lastVec, replyAfter, storageUp := p.persistInbound(ctx, log, traceID, partition, instance, req)

	msgs := req.Messages
	if storageUp {
		msgs = p.enrich(ctx, log, partition, instance, req, lastVec)
	}

	final, err := p.fitBudget(req, msgs, budget)
	if err != nil {
		return nil, err
	}

	outBody, err := req.BuildBody(final)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindInternal, err, "build upstream body")
	}

	// Once the capture is underway, a client disconnect must not abort the
	// exchange; the transport timeout still bounds the upstream call.
	started := time.Now()
	respBody, err := p.forwarder.Forward(context.WithoutCancel(ctx), req.Model, outBody, auth)
	p.metrics.UpstreamDuration.Record(ctx, time.Since(started).Seconds())
	if err != nil {
		return nil, err
	}

	// The reply is persisted even when the client has gone away; a captured
	// exchange must include both sides.
	p.persistReply(context.WithoutCancel(ctx), log, traceID, partition, instance, req.Model, lastUserID, replyAfter, respBody, storageUp)

	return &Result{TraceID: traceID, Body: respBody}, nil
}

// persistInbound stores every message of the request with best-effort
// embeddings and refreshes synapses around each new node. It returns the node
// ID and embedding of the final user message, the timestamp floor for the
// assistant reply, and whether storage is usable.
func (p *Pipeline) persistInbound(ctx context.Context, log *slog.Logger, traceID, partition, instance string, req *chat.Request) (lastUserID string, lastVec []float32, replyAfter int64, storageUp bool) {
	base := time.Now().UTC().UnixMilli()
	replyAfter = base + int64(len(req.Messages))

	contents := make([]string, len(req.Messages))
	for i, m := range req.Messages {
		contents[i] = m.Content
	}
	embedStart := time.Now()
	vecs, err := p.embedder.EmbedBatch(ctx, contents)
	p.metrics.EmbeddingDuration.Record(ctx, time.Since(embedStart).Seconds())
	if err != nil {
		log.Warn("embedding unavailable, storing without vectors", "error", err)
		vecs = nil
	} else if len(vecs) != len(contents) {
		log.Warn("embedding batch size mismatch, storing without vectors",
			"got", len(vecs), "want", len(contents))
		vecs = nil
	}

	for i, m := range req.Messages {
		var vec []float32
		if vecs != nil {
			vec = vecs[i]
		}

		// Offsets keep conversation order stable under one wall-clock read.
		id, err := p.store.StoreMessage(ctx, memory.Message{
			TraceID:   traceID,
			Partition: partition,
			Instance:  instance,
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: base + int64(i),
			Embedding: vec,
		})
		if err != nil {
			log.Warn("storage unavailable, forwarding without capture", "error", err)
			return "", nil, replyAfter, false
		}
		p.metrics.RecordCapture(ctx, m.Role, 1)

		if err := p.store.UpdateSynapses(ctx, id); err != nil {
			log.Warn("synapse update failed", "node", id, "error", err)
		}

		if i == len(req.Messages)-1 {
			lastUserID = id
			lastVec = vec
		}
	}
	return lastUserID, lastVec, replyAfter, true
}

// persistReply stores the assistant message, links it to the user message
// that prompted it, and refreshes its synapses. All failures are warnings.
func (p *Pipeline) persistReply(ctx context.Context, log *slog.Logger, traceID, partition, instance, model, lastUserID string, replyAfter int64, respBody []byte, storageUp bool) {
	if !storageUp {
		return
	}
	content := gjson.GetBytes(respBody, "choices.0.message.content").Str
	if content == "" {
		log.Warn("upstream response has no assistant content, skipping capture")
		return
	}

	var vec []float32
	if v, err := p.embedder.Embed(ctx, content); err != nil {
		log.Warn("embedding unavailable for reply", "error", err)
	} else {
		vec = v
	}

	// The reply must sort strictly after every inbound message of its trace,
	// even when the upstream answered within the same millisecond.
	ts := time.Now().UTC().UnixMilli()
	if ts < replyAfter {
		ts = replyAfter
	}

	id, err := p.store.StoreMessage(ctx, memory.Message{
		TraceID:   traceID,
		Partition: partition,
		Instance:  instance,
		Role:      chat.RoleAssistant,
		Content:   content,
		Timestamp: ts,
		Embedding: vec,
		URL:       p.forwarder.URLFor(model),
	})
	if err != nil {
		log.Warn("storing reply failed", "error", err)
		return
	}
	p.metrics.RecordCapture(ctx, chat.RoleAssistant, 1)

	if lastUserID != "" {
		if err := p.store.LinkResponse(ctx, lastUserID, id); err != nil {
			log.Warn("linking reply failed", "error", err)
		}
	}
	if err := p.store.UpdateSynapses(ctx, id); err != nil {
		log.Warn("synapse update failed", "node", id, "error", err)
	}
}

// budgetFor returns the model's input budget, lowered by MaxTokens when set.
func (p *Pipeline) budgetFor(model string) int {
	budget := upstream.Lookup(model).InputBudget
	if p.cfg.MaxTokens > 0 && p.cfg.MaxTokens < budget {
		budget = p.cfg.MaxTokens
	}
	return budget
}

// fitBudget compresses and truncates msgs to the model's input budget. When
// the enriched prompt cannot fit, the original request is sent instead; the
// client never gets less than what it asked for because enrichment was added.
func (p *Pipeline) fitBudget(req *chat.Request, msgs []chat.Message, budget int) ([]chat.Message, error) {
	fitted, err := p.accountant.Truncate(req.Model, chat.CompressSystemContext(msgs), budget)
	if err == nil {
		return fitted, nil
	}
	if !errors.Is(err, tokens.ErrInputTooLarge) {
		return nil, apierror.Wrap(apierror.KindInternal, err, "truncate prompt")
	}

	// Enrichment blew the budget: retry with the untouched request.
	fitted, err = p.accountant.Truncate(req.Model, chat.CompressSystemContext(req.Messages), budget)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindInputTooLarge, err, "request exceeds model budget")
	}
	return fitted, nil
}
