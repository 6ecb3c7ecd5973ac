package upstream

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/reservoir-ai/reservoir/internal/apierror"
)

// Config tunes a Client.
type Config struct {
	// OpenAIBaseURL and OllamaBaseURL are the chat-completions base URLs,
	// including the /v1 segment.
	OpenAIBaseURL string
	OllamaBaseURL string

	// APIKey is the fallback bearer token used when the client request
	// carries no Authorization header.
	APIKey string

	// Timeout bounds the full round trip, completion generation included.
	// Default: 120s.
	Timeout time.Duration

	// MaxInFlight caps concurrent upstream requests. Requests beyond the cap
	// fail immediately as overloaded. Default: 64.
	MaxInFlight int64
}

// Client forwards chat-completion bodies to the upstream selected by the
// request model. Safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	inflight   *semaphore.Weighted
}

// New constructs a Client, replacing zero config fields with defaults.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 64
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		inflight:   semaphore.NewWeighted(cfg.MaxInFlight),
	}
}

// BaseURL returns the configured base URL for the upstream kind.
func (c *Client) BaseURL(kind Kind) string {
	if kind == KindOllama {
		return strings.TrimRight(c.cfg.OllamaBaseURL, "/")
	}
	return strings.TrimRight(c.cfg.OpenAIBaseURL, "/")
}

// Forward sends body to the chat-completions endpoint for model and returns
// the upstream response body. auth is the client's Authorization header
// value; when empty, the configured API key is used instead.
//
// Failures are classified: pool exhaustion as overloaded, network errors and
// timeouts as upstream unavailable, and HTTP error statuses as pass-through
// errors carrying the upstream body verbatim.
func (c *Client) Forward(ctx context.Context, model string, body []byte, auth string) ([]byte, error) {
	if !c.inflight.TryAcquire(1) {
		return nil, apierror.New(apierror.KindOverloaded, "too many in-flight upstream requests")
	}
	defer c.inflight.Release(1)

	info := Lookup(model)
	url := c.BaseURL(info.Kind) + "/chat/completions"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apierror.Wrap(apierror.KindInternal, err, "build upstream request")
	}
	req.Header.Set("Content-Type", "application/json")
	if auth == "" && c.cfg.APIKey != "" {
		auth = "Bearer " + c.cfg.APIKey
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindUpstreamUnavailable, err,
			"upstream %s unreachable", info.Kind)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindUpstreamUnavailable, err, "read upstream response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, apierror.Upstream(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// URLFor reports the full endpoint a model's requests go to, for stamping
// stored assistant messages.
func (c *Client) URLFor(model string) string {
	return c.BaseURL(Lookup(model).Kind) + "/chat/completions"
}
