package apierror_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/reservoir-ai/reservoir/internal/apierror"
)

func TestKindHTTPStatus(t *testing.T) {
	t.Parallel()
	cases := map[apierror.Kind]int{
		apierror.KindBadRequest:          http.StatusBadRequest,
		apierror.KindInputTooLarge:       http.StatusRequestEntityTooLarge,
		apierror.KindUpstreamUnavailable: http.StatusBadGateway,
		apierror.KindStorageUnavailable:  http.StatusServiceUnavailable,
		apierror.KindOverloaded:          http.StatusServiceUnavailable,
		apierror.KindInternal:            http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := kind.HTTPStatus(); got != want {
			t.Errorf("%s: status = %d, want %d", kind, got, want)
		}
	}
}

func TestWriteErrorShape(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	apierror.Write(rec, apierror.New(apierror.KindInputTooLarge, "message has %d tokens", 9001))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if body.Error.Type != "input_too_large" {
		t.Errorf("type = %q, want input_too_large", body.Error.Type)
	}
	if body.Error.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("code = %d, want 413", body.Error.Code)
	}
	if body.Error.Message != "message has 9001 tokens" {
		t.Errorf("unexpected message %q", body.Error.Message)
	}
}

func TestWriteNonAPIErrorIsInternal(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	apierror.Write(rec, fmt.Errorf("boom"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestUpstreamPassThrough(t *testing.T) {
	t.Parallel()
	raw := []byte(`{"error":{"message":"model overloaded"}}`)
	err := apierror.Upstream(http.StatusServiceUnavailable, raw)
	if err.Kind != apierror.KindUpstream5xx {
		t.Fatalf("kind = %s, want upstream_5xx", err.Kind)
	}

	rec := httptest.NewRecorder()
	apierror.Write(rec, err)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if rec.Body.String() != string(raw) {
		t.Errorf("body not relayed verbatim: %q", rec.Body.String())
	}

	if got := apierror.Upstream(http.StatusNotFound, nil).Kind; got != apierror.KindUpstream4xx {
		t.Errorf("kind = %s, want upstream_4xx", got)
	}
}

func TestWrapUnwraps(t *testing.T) {
	t.Parallel()
	cause := errors.New("connection refused")
	err := apierror.Wrap(apierror.KindUpstreamUnavailable, cause, "forward failed")
	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
	var ae *apierror.Error
	if !errors.As(err, &ae) || ae.Kind != apierror.KindUpstreamUnavailable {
		t.Error("errors.As failed to recover *apierror.Error")
	}
}

func TestInternalKinds(t *testing.T) {
	t.Parallel()
	if !apierror.KindEmbeddingUnavailable.Internal() {
		t.Error("embedding_unavailable should be internal")
	}
	if !apierror.KindStorageUnavailable.Internal() {
		t.Error("storage_unavailable should be internal")
	}
	if apierror.KindBadRequest.Internal() {
		t.Error("bad_request should not be internal")
	}
}
