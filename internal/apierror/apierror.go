// Package apierror defines the pipeline error taxonomy and its mapping onto
// OpenAI-shaped HTTP error responses.
//
// Every failure a request can surface to a client is classified by a [Kind].
// Two kinds, [KindEmbeddingUnavailable] and [KindStorageUnavailable], are
// absorbed by the pipeline with log warnings and never reach the client; the
// rest abort the request and are rendered via [Write].
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	// KindBadRequest covers malformed bodies, missing fields, and unknown roles.
	KindBadRequest Kind = "bad_request"

	// KindInputTooLarge is returned when the input ceiling is exceeded or
	// truncation cannot fit the system messages plus the final user message.
	KindInputTooLarge Kind = "input_too_large"

	// KindUpstream4xx relays a 4xx upstream error body verbatim.
	KindUpstream4xx Kind = "upstream_4xx"

	// KindUpstream5xx relays a 5xx upstream error body verbatim.
	KindUpstream5xx Kind = "upstream_5xx"

	// KindUpstreamUnavailable indicates a connection failure or timeout while
	// reaching the upstream completion endpoint.
	KindUpstreamUnavailable Kind = "upstream_unavailable"

	// KindEmbeddingUnavailable is internal only: the embedding endpoint failed
	// persistently. The message is stored without an embedding and enrichment
	// quality degrades, but the request proceeds.
	KindEmbeddingUnavailable Kind = "embedding_unavailable"

	// KindStorageUnavailable is internal only: the graph store is unreachable.
	// The request still forwards, without persistence.
	KindStorageUnavailable Kind = "storage_unavailable"

	// KindOverloaded indicates a connection pool checkout failed.
	KindOverloaded Kind = "overloaded"

	// KindInternal covers everything else.
	KindInternal Kind = "internal"
)

// HTTPStatus returns the HTTP status code for the kind. Upstream pass-through
// kinds have no fixed status; they report http.StatusBadGateway here and the
// caller substitutes the relayed upstream status when one is available.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindInputTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindUpstreamUnavailable, KindUpstream4xx, KindUpstream5xx:
		return http.StatusBadGateway
	case KindStorageUnavailable, KindOverloaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Internal reports whether the kind is absorbed by the pipeline rather than
// surfaced to the client.
func (k Kind) Internal() bool {
	return k == KindEmbeddingUnavailable || k == KindStorageUnavailable
}

// Error is a classified pipeline failure. Status overrides the kind's default
// HTTP status when non-zero (used by upstream pass-through).
type Error struct {
	Kind    Kind
	Message string
	Status  int

	// Body, when non-nil, is relayed to the client verbatim instead of the
	// generated error shape. Used for upstream 4xx/5xx pass-through.
	Body []byte

	wrapped error
}

// New constructs an [Error] of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an [Error] of the given kind wrapping err. The wrapped
// error is reachable via [errors.Unwrap] / [errors.Is].
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), wrapped: err}
}

// Upstream constructs a pass-through [Error] relaying the upstream status and
// body verbatim. Status values below 500 map to [KindUpstream4xx], the rest to
// [KindUpstream5xx].
func Upstream(status int, body []byte) *Error {
	kind := KindUpstream5xx
	if status < http.StatusInternalServerError {
		kind = KindUpstream4xx
	}
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf("upstream returned status %d", status),
		Status:  status,
		Body:    body,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.wrapped != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.wrapped.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error { return e.wrapped }

// HTTPStatus returns the status to respond with: the explicit override when
// set, otherwise the kind default.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	return e.Kind.HTTPStatus()
}

// errorBody is the OpenAI-compatible error response shape.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// Write renders err as an OpenAI-shaped error response on w. Non-[Error]
// values are reported as [KindInternal]. Pass-through errors carrying an
// upstream body relay that body unchanged.
func Write(w http.ResponseWriter, err error) {
	var ae *Error
	if !errors.As(err, &ae) {
		ae = &Error{Kind: KindInternal, Message: err.Error()}
	}

	status := ae.HTTPStatus()
	if len(ae.Body) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(ae.Body)
		return
	}

	body := errorBody{Error: errorDetail{
		Message: ae.Message,
		Type:    string(ae.Kind),
		Code:    status,
	}}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
