// Package memory defines the conversation store abstraction.
//
// A Store keeps every captured chat message as a node in a graph, indexed by
// (partition, instance) scope, and maintains two kinds of relationships:
//
//   - RESPONDED_WITH links the final user message of a request to the
//     assistant reply it produced, one per trace.
//   - SYNAPSE links semantically related messages, weighted by cosine
//     similarity, and is pruned below the configured threshold.
//
// All reads are scoped: a query for one (partition, instance) pair never
// returns messages from another.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Message is one captured chat message.
type Message struct {
	// ID is the store-assigned node identity, empty until stored.
	ID string `json:"id,omitempty"`

	// TraceID groups all messages captured during one proxied request.
	TraceID string `json:"trace_id"`

	Partition string `json:"partition"`
	Instance  string `json:"instance"`

	// Role is one of "system", "user", "assistant".
	Role    string `json:"role"`
	Content string `json:"content"`

	// Timestamp is UTC milliseconds since the epoch. Messages captured in one
	// request carry strictly increasing timestamps in conversation order.
	Timestamp int64 `json:"timestamp"`

	// Embedding is the L2-normalized vector for Content, or nil when the
	// embedding endpoint was unavailable at capture time.
	Embedding []float32 `json:"embedding,omitempty"`

	// URL records which upstream handled the trace, set on assistant replies.
	URL string `json:"url,omitempty"`
}

// Time returns the message timestamp as a time.Time in UTC.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp).UTC()
}

// ContentHash returns the hex SHA-256 of the message content. Together with
// (TraceID, Role, Timestamp) it forms the idempotency key for StoreMessage.
func (m Message) ContentHash() string {
	sum := sha256.Sum256([]byte(m.Content))
	return hex.EncodeToString(sum[:])
}

// Scored pairs a message with its similarity score in [0, 1].
type Scored struct {
	Message
	Score float64 `json:"score"`
}

// Store is the conversation graph abstraction.
//
// Implementations must be safe for concurrent use. Neo4j is the production
// backend; the mock subpackage provides a test double.
type Store interface {
	// StoreMessage persists msg and returns its node ID. Storing the same
	// message twice (same trace ID, role, timestamp, and content) returns the
	// existing node's ID without creating a duplicate.
	StoreMessage(ctx context.Context, msg Message) (string, error)

	// LinkResponse records that the user message userID was answered by the
	// assistant message assistantID. At most one such link exists per trace;
	// repeating the call is a no-op.
	LinkResponse(ctx context.Context, userID, assistantID string) error

	// Recent returns the n newest messages in the scope, newest first.
	Recent(ctx context.Context, partition, instance string, n int) ([]Message, error)

	// Similar returns up to k messages in the scope whose embedding cosine
	// similarity to vec is at least threshold, best first. Messages without
	// embeddings are never returned.
	Similar(ctx context.Context, partition, instance string, vec []float32, k int, threshold float64) ([]Scored, error)

	// ThreadOf walks SYNAPSE edges from the message id up to hops steps and
	// returns the reachable messages, ascending by timestamp.
	ThreadOf(ctx context.Context, id string, hops int) ([]Message, error)

	// UpdateSynapses refreshes SYNAPSE edges around the message id: it links
	// the node to its scope predecessor and to its top-K most similar peers,
	// then prunes edges on the node that score below the threshold.
	UpdateSynapses(ctx context.Context, id string) error

	// SearchText returns scope messages whose content contains term,
	// case-insensitive, newest first, capped at limit.
	SearchText(ctx context.Context, partition, instance, term string, limit int) ([]Message, error)

	// Export streams every stored message, ascending by timestamp.
	Export(ctx context.Context) ([]Message, error)

	// Import stores the given messages, preserving their IDs where the
	// backend allows it, and returns how many nodes were created.
	Import(ctx context.Context, msgs []Message) (int, error)

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close(ctx context.Context) error
}
