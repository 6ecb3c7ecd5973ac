package neo4j

import (
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func TestVectorParamRoundTrip(t *testing.T) {
	t.Parallel()
	if vectorParam(nil) != nil {
		t.Error("nil vector should map to nil param")
	}

	param := vectorParam([]float32{0.5, -1, 0.25})
	widened, ok := param.([]float64)
	if !ok {
		t.Fatalf("param type = %T, want []float64", param)
	}
	if len(widened) != 3 || widened[0] != 0.5 || widened[1] != -1 || widened[2] != 0.25 {
		t.Errorf("widened = %v", widened)
	}

	raw := make([]any, len(widened))
	for i, v := range widened {
		raw[i] = v
	}
	back := vectorFromValue(raw)
	if len(back) != 3 || back[0] != 0.5 || back[1] != -1 || back[2] != 0.25 {
		t.Errorf("narrowed = %v", back)
	}
}

func TestVectorFromValueRejectsMixedTypes(t *testing.T) {
	t.Parallel()
	if got := vectorFromValue([]any{0.5, "nope"}); got != nil {
		t.Errorf("got %v, want nil", got)
	}
	if got := vectorFromValue(nil); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestMessageFromRecord(t *testing.T) {
	t.Parallel()
	rec := &neo4j.Record{
		Keys: []string{"m"},
		Values: []any{map[string]any{
			"id":        "node-1",
			"trace_id":  "trace-1",
			"partition": "alpha",
			"instance":  "main",
			"role":      "user",
			"content":   "hello",
			"timestamp": int64(1700000000000),
			"url":       "",
			"embedding": []any{0.1, 0.2},
		}},
	}

	msg, err := messageFromRecord(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ID != "node-1" || msg.TraceID != "trace-1" || msg.Role != "user" {
		t.Errorf("msg = %+v", msg)
	}
	if msg.Timestamp != 1700000000000 {
		t.Errorf("timestamp = %d", msg.Timestamp)
	}
	if len(msg.Embedding) != 2 {
		t.Errorf("embedding = %v", msg.Embedding)
	}
}

func TestMessageFromRecordMissingProjection(t *testing.T) {
	t.Parallel()
	rec := &neo4j.Record{Keys: []string{"x"}, Values: []any{1}}
	if _, err := messageFromRecord(rec); err == nil {
		t.Fatal("want error for missing projection")
	}
}
