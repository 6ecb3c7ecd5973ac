// Package server wires the HTTP surface: the scoped chat-completions proxy
// route, the admin view/search/export/import endpoints, health probes, and
// the Prometheus scrape endpoint.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reservoir-ai/reservoir/internal/apierror"
	"github.com/reservoir-ai/reservoir/internal/health"
	"github.com/reservoir-ai/reservoir/internal/observe"
	"github.com/reservoir-ai/reservoir/internal/pipeline"
	"github.com/reservoir-ai/reservoir/pkg/memory"
)

// DefaultScope is the partition and instance used by the unscoped
// /v1/chat/completions route.
const DefaultScope = "default"

// maxRequestBody caps how much of a client body is read, as a guard against
// unbounded memory use ahead of the token ceiling check.
const maxRequestBody = 32 << 20 // 32 MiB

// Embedder mirrors pipeline.Embedder for the semantic admin search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Server holds the handler dependencies. Construct with New and mount via
// Routes.
type Server struct {
	pipeline *pipeline.Pipeline
	store    memory.Store
	embedder Embedder
	metrics  *observe.Metrics

	// passthroughBase is the upstream base URL (including /v1) that
	// non-chat /v1 requests are relayed to.
	passthroughBase string
	passthrough     *http.Client

	threadHops int
}

// Config tunes a Server.
type Config struct {
	// PassthroughBaseURL is where unrecognized /v1 traffic goes, usually the
	// OpenAI base URL. Empty disables passthrough (those requests get 404).
	PassthroughBaseURL string

	// PassthroughTimeout bounds relayed requests. Default: 120s.
	PassthroughTimeout time.Duration

	// ThreadHops bounds synapse traversal depth on the thread command.
	// Default: 10.
	ThreadHops int
}

// New assembles a Server.
func New(p *pipeline.Pipeline, store memory.Store, embedder Embedder, metrics *observe.Metrics, cfg Config) *Server {
	if cfg.PassthroughTimeout <= 0 {
		cfg.PassthroughTimeout = 120 * time.Second
	}
	if cfg.ThreadHops <= 0 {
		cfg.ThreadHops = 10
	}
	return &Server{
		pipeline:        p,
		store:           store,
		embedder:        embedder,
		metrics:         metrics,
		passthroughBase: cfg.PassthroughBaseURL,
		passthrough:     &http.Client{Timeout: cfg.PassthroughTimeout},
		threadHops:      cfg.ThreadHops,
	}
}

// Routes builds the full handler tree, wrapped in the observability
// middleware.
func (s *Server) Routes(h *health.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/partition/{partition}/instance/{instance}/chat/completions", s.handleChat)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChat)

	mux.HandleFunc("GET /partition/{partition}/instance/{instance}/command/view/{n}", s.handleView)
	mux.HandleFunc("GET /partition/{partition}/instance/{instance}/command/search/{n}", s.handleSearch)
	mux.HandleFunc("GET /partition/{partition}/instance/{instance}/command/thread/{id}", s.handleThread)
	mux.HandleFunc("GET /admin/export", s.handleExport)
	mux.HandleFunc("POST /admin/import", s.handleImport)

	mux.Handle("GET /metrics", promhttp.Handler())
	h.Register(mux)

	mux.HandleFunc("/v1/", s.handlePassthrough)

	return observe.Middleware(s.metrics)(mux)
}

// scope resolves the partition and instance path values, falling back to the
// default scope on the unscoped route.
func scope(r *http.Request) (partition, instance string) {
	partition = r.PathValue("partition")
	instance = r.PathValue("instance")
	if partition == "" {
		partition = DefaultScope
	}
	if instance == "" {
		instance = DefaultScope
	}
	return partition, instance
}

// handleChat runs one request through the capture pipeline and relays the
// upstream response.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	partition, instance := scope(r)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		s.fail(w, r, apierror.Wrap(apierror.KindBadRequest, err, "read request body"))
		return
	}

	res, err := s.pipeline.Handle(r.Context(), partition, instance, body, r.Header.Get("Authorization"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Reservoir-Trace", res.TraceID)
	w.Write(res.Body)
}

// handlePassthrough relays any other /v1 request verbatim to the configured
// upstream. The conversation store never sees this traffic.
func (s *Server) handlePassthrough(w http.ResponseWriter, r *http.Request) {
	if s.passthroughBase == "" {
		http.NotFound(w, r)
		return
	}

	url := s.passthroughBase + r.URL.Path[len("/v1"):]
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, url, r.Body)
	if err != nil {
		s.fail(w, r, apierror.Wrap(apierror.KindInternal, err, "build passthrough request"))
		return
	}
	for _, header := range []string{"Authorization", "Content-Type", "Accept"} {
		if v := r.Header.Get(header); v != "" {
			req.Header.Set(header, v)
		}
	}

	resp, err := s.passthrough.Do(req)
	if err != nil {
		s.fail(w, r, apierror.Wrap(apierror.KindUpstreamUnavailable, err, "passthrough upstream unreachable"))
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// fail records the failure kind and renders the error response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := string(apierror.KindInternal)
	var ae *apierror.Error
	if errors.As(err, &ae) {
		kind = string(ae.Kind)
	}
	s.metrics.RecordFailure(r.Context(), kind)
	slog.Warn("request failed", "path", r.URL.Path, "kind", kind, "error", err)
	apierror.Write(w, err)
}
