package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/reservoir-ai/reservoir/internal/health"
	"github.com/reservoir-ai/reservoir/internal/observe"
	"github.com/reservoir-ai/reservoir/internal/pipeline"
	"github.com/reservoir-ai/reservoir/internal/server"
	"github.com/reservoir-ai/reservoir/pkg/memory"
	memorymock "github.com/reservoir-ai/reservoir/pkg/memory/mock"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = f.vec
	}
	return out, nil
}

type fakeForwarder struct {
	resp []byte
	err  error
}

func (f *fakeForwarder) Forward(ctx context.Context, model string, body []byte, auth string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeForwarder) URLFor(model string) string { return "http://upstream/v1/chat/completions" }

const assistantResp = `{"choices":[{"message":{"role":"assistant","content":"captured"}}]}`

func newHandler(t *testing.T, store *memorymock.Store, cfg server.Config) http.Handler {
	t.Helper()
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	emb := &fakeEmbedder{vec: []float32{1, 0}}
	p := pipeline.New(store, emb, &fakeForwarder{resp: []byte(assistantResp)}, pipeline.Config{})
	s := server.New(p, store, emb, metrics, cfg)
	return s.Routes(health.New(health.StoreChecker(store)))
}

func TestScopedChatRoute(t *testing.T) {
	t.Parallel()
	store := &memorymock.Store{}
	h := newHandler(t, store, server.Config{})

	body := strings.NewReader(`{"model":"llama3.2","messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/partition/alpha/instance/main/chat/completions", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("X-Reservoir-Trace") == "" {
		t.Error("missing trace header")
	}
	if rec.Body.String() != assistantResp {
		t.Errorf("body = %s", rec.Body)
	}
	if len(store.Stored) == 0 || store.Stored[0].Partition != "alpha" || store.Stored[0].Instance != "main" {
		t.Errorf("stored = %+v", store.Stored)
	}
}

func TestUnscopedChatRouteUsesDefaultScope(t *testing.T) {
	t.Parallel()
	store := &memorymock.Store{}
	h := newHandler(t, store, server.Config{})

	body := strings.NewReader(`{"model":"llama3.2","messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if store.Stored[0].Partition != server.DefaultScope || store.Stored[0].Instance != server.DefaultScope {
		t.Errorf("scope = %s/%s", store.Stored[0].Partition, store.Stored[0].Instance)
	}
}

func TestChatErrorShape(t *testing.T) {
	t.Parallel()
	h := newHandler(t, &memorymock.Store{}, server.Config{})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	body := gjson.ParseBytes(rec.Body.Bytes())
	if body.Get("error.message").Str == "" || body.Get("error.type").Str != "bad_request" {
		t.Errorf("body = %s", rec.Body)
	}
	if int(body.Get("error.code").Int()) != http.StatusBadRequest {
		t.Errorf("code = %s", body.Get("error.code"))
	}
}

func TestViewReturnsTranscriptOrder(t *testing.T) {
	t.Parallel()
	store := &memorymock.Store{
		RecentResult: []memory.Message{
			{ID: "2", Role: "assistant", Content: "newest", Timestamp: 20},
			{ID: "1", Role: "user", Content: "oldest", Timestamp: 10},
		},
	}
	h := newHandler(t, store, server.Config{})

	req := httptest.NewRequest(http.MethodGet, "/partition/a/instance/b/command/view/2", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	rows := gjson.ParseBytes(rec.Body.Bytes()).Array()
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0].Get("content").Str != "oldest" || rows[1].Get("content").Str != "newest" {
		t.Errorf("order wrong: %s", rec.Body)
	}
}

func TestViewRejectsBadCount(t *testing.T) {
	t.Parallel()
	h := newHandler(t, &memorymock.Store{}, server.Config{})
	req := httptest.NewRequest(http.MethodGet, "/partition/a/instance/b/command/view/zero", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTextSearch(t *testing.T) {
	t.Parallel()
	store := &memorymock.Store{
		Stored: []memory.Message{
			{ID: "1", Partition: "a", Instance: "b", Role: "user", Content: "the reservoir fills"},
			{ID: "2", Partition: "a", Instance: "b", Role: "user", Content: "unrelated"},
		},
	}
	h := newHandler(t, store, server.Config{})

	req := httptest.NewRequest(http.MethodGet, "/partition/a/instance/b/command/search/5?term=Reservoir", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	rows := gjson.ParseBytes(rec.Body.Bytes()).Array()
	if len(rows) != 1 || rows[0].Get("id").Str != "1" {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestSemanticSearch(t *testing.T) {
	t.Parallel()
	store := &memorymock.Store{
		SimilarResult: []memory.Scored{
			{Message: memory.Message{ID: "7", Content: "close match"}, Score: 0.92},
		},
	}
	h := newHandler(t, store, server.Config{})

	req := httptest.NewRequest(http.MethodGet, "/partition/a/instance/b/command/search/5?term=match&semantic=true", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	rows := gjson.ParseBytes(rec.Body.Bytes()).Array()
	if len(rows) != 1 || rows[0].Get("score").Float() != 0.92 {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestThreadCommand(t *testing.T) {
	t.Parallel()
	store := &memorymock.Store{
		ThreadResult: []memory.Message{
			{ID: "1", Role: "user", Content: "first", Timestamp: 10},
			{ID: "2", Role: "assistant", Content: "second", Timestamp: 20},
		},
	}
	h := newHandler(t, store, server.Config{})

	req := httptest.NewRequest(http.MethodGet, "/partition/a/instance/b/command/thread/1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	rows := gjson.ParseBytes(rec.Body.Bytes()).Array()
	if len(rows) != 2 || rows[0].Get("id").Str != "1" || rows[1].Get("id").Str != "2" {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	t.Parallel()
	src := &memorymock.Store{
		Stored: []memory.Message{
			{ID: "1", TraceID: "t1", Partition: "a", Instance: "b", Role: "user", Content: "one", Timestamp: 1},
			{ID: "2", TraceID: "t1", Partition: "a", Instance: "b", Role: "assistant", Content: "two", Timestamp: 2},
		},
	}
	h := newHandler(t, src, server.Config{})

	req := httptest.NewRequest(http.MethodGet, "/admin/export", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d", len(lines))
	}

	dst := &memorymock.Store{}
	h2 := newHandler(t, dst, server.Config{})
	req = httptest.NewRequest(http.MethodPost, "/admin/import", strings.NewReader(rec.Body.String()))
	rec2 := httptest.NewRecorder()
	h2.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Fatalf("import status = %d, body = %s", rec2.Code, rec2.Body)
	}
	if gjson.GetBytes(rec2.Body.Bytes(), "created").Int() != 2 {
		t.Errorf("body = %s", rec2.Body)
	}
	if len(dst.Stored) != 2 || dst.Stored[0].Content != "one" {
		t.Errorf("imported = %+v", dst.Stored)
	}
}

func TestPassthroughRelaysOtherV1Paths(t *testing.T) {
	t.Parallel()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"data":[]}`))
	}))
	defer upstream.Close()

	h := newHandler(t, &memorymock.Store{}, server.Config{PassthroughBaseURL: upstream.URL + "/v1"})
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != `{"data":[]}` {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body)
	}
}

func TestHealthRoutesMounted(t *testing.T) {
	t.Parallel()
	h := newHandler(t, &memorymock.Store{}, server.Config{})

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}
