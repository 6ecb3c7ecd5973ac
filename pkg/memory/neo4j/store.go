// Package neo4j implements memory.Store on a Neo4j graph database.
//
// Messages are :Message nodes keyed by an application-assigned id property.
// Embeddings live in the messageEmbeddings vector index (cosine), and the
// SYNAPSE and RESPONDED_WITH relationships carry the conversation structure.
package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	neo4jcfg "github.com/neo4j/neo4j-go-driver/v5/neo4j/config"

	"github.com/reservoir-ai/reservoir/pkg/memory"
)

// Config holds the connection and graph parameters for a Store.
type Config struct {
	URI      string
	Username string
	Password string

	// Database is the Neo4j database name. Default: "neo4j".
	Database string

	// QueryTimeout bounds each individual query. Default: 5s.
	QueryTimeout time.Duration

	// MaxPoolSize caps the driver connection pool. Default: driver default.
	MaxPoolSize int

	// Dimensions is the embedding vector length the index is built for.
	Dimensions int

	// SynapseThreshold is the minimum cosine similarity a SYNAPSE edge must
	// score to survive pruning. Default: 0.85.
	SynapseThreshold float64

	// SynapseTopK caps how many topical SYNAPSE edges UpdateSynapses creates
	// per node. Default: 5.
	SynapseTopK int
}

func (c Config) withDefaults() Config {
	if c.Database == "" {
		c.Database = "neo4j"
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 5 * time.Second
	}
	if c.SynapseThreshold <= 0 {
		c.SynapseThreshold = 0.85
	}
	if c.SynapseTopK <= 0 {
		c.SynapseTopK = 5
	}
	return c
}

// Store implements memory.Store against Neo4j. Safe for concurrent use; the
// driver maintains its own connection pool.
type Store struct {
	driver neo4j.DriverWithContext
	cfg    Config
}

var _ memory.Store = (*Store)(nil)

// New connects to Neo4j and ensures the schema (indexes and constraints)
// exists. It does not verify connectivity; call Ping for that.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()

	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4jcfg.Config) {
			if cfg.MaxPoolSize > 0 {
				c.MaxConnectionPoolSize = cfg.MaxPoolSize
			}
		},
	)
	if err != nil {
		return nil, fmt.Errorf("neo4j: connect: %w", err)
	}

	s := &Store{driver: driver, cfg: cfg}
	if err := s.ensureSchema(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	return s, nil
}

// run executes a single Cypher query under the store's query timeout and
// returns the eagerly collected result.
func (s *Store) run(ctx context.Context, cypher string, params map[string]any) (*neo4j.EagerResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	result, err := neo4j.ExecuteQuery(ctx, s.driver, cypher, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("neo4j: query: %w", err)
	}
	return result, nil
}

// StoreMessage implements memory.Store. The idempotency key is the node's
// (trace_id, role, timestamp, content_hash) tuple; a repeat store returns
// the existing node's id.
func (s *Store) StoreMessage(ctx context.Context, msg memory.Message) (string, error) {
	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	result, err := s.run(ctx, cypherStoreMessage, map[string]any{
		"trace_id":     msg.TraceID,
		"role":         msg.Role,
		"timestamp":    msg.Timestamp,
		"content_hash": msg.ContentHash(),
		"id":           id,
		"partition":    msg.Partition,
		"instance":     msg.Instance,
		"content":      msg.Content,
		"url":          msg.URL,
		"embedding":    vectorParam(msg.Embedding),
	})
	if err != nil {
		return "", err
	}
	if len(result.Records) == 0 {
		return "", fmt.Errorf("neo4j: store message: no row returned")
	}
	stored, _, err := neo4j.GetRecordValue[string](result.Records[0], "id")
	if err != nil {
		return "", fmt.Errorf("neo4j: store message: %w", err)
	}
	return stored, nil
}

// LinkResponse implements memory.Store. It fails when either endpoint is
// missing or the user message already answers to a different assistant;
// re-linking the same pair is a no-op.
func (s *Store) LinkResponse(ctx context.Context, userID, assistantID string) error {
	result, err := s.run(ctx, cypherLinkResponse, map[string]any{
		"user_id":      userID,
		"assistant_id": assistantID,
	})
	if err != nil {
		return err
	}
	if len(result.Records) == 0 {
		return fmt.Errorf("neo4j: link response %s -> %s: endpoint missing or user already linked", userID, assistantID)
	}
	return nil
}

// Recent implements memory.Store.
func (s *Store) Recent(ctx context.Context, partition, instance string, n int) ([]memory.Message, error) {
	result, err := s.run(ctx, cypherRecent, map[string]any{
		"partition": partition,
		"instance":  instance,
		"n":         n,
	})
	if err != nil {
		return nil, err
	}
	return messagesFromRecords(result.Records)
}

// Similar implements memory.Store. The vector index is over-fetched by 3x
// because it cannot filter by scope; the surplus absorbs hits from other
// partitions that the WHERE clause discards.
func (s *Store) Similar(ctx context.Context, partition, instance string, vec []float32, k int, threshold float64) ([]memory.Scored, error) {
	if len(vec) == 0 || k <= 0 {
		return nil, nil
	}
	result, err := s.run(ctx, cypherSimilar, map[string]any{
		"index":     vectorIndexName,
		"fetch":     3 * k,
		"vec":       vectorParam(vec),
		"partition": partition,
		"instance":  instance,
		"threshold": threshold,
		"k":         k,
	})
	if err != nil {
		return nil, err
	}

	scored := make([]memory.Scored, 0, len(result.Records))
	for _, rec := range result.Records {
		msg, err := messageFromRecord(rec)
		if err != nil {
			return nil, err
		}
		score, _, err := neo4j.GetRecordValue[float64](rec, "score")
		if err != nil {
			return nil, fmt.Errorf("neo4j: similar: %w", err)
		}
		scored = append(scored, memory.Scored{Message: msg, Score: score})
	}
	return scored, nil
}

// ThreadOf implements memory.Store. hops is clamped to [1, 10]; the bound is
// baked into the pattern because Cypher cannot parameterize path lengths.
func (s *Store) ThreadOf(ctx context.Context, id string, hops int) ([]memory.Message, error) {
	if hops < 1 {
		hops = 1
	}
	if hops > 10 {
		hops = 10
	}
	result, err := s.run(ctx, fmt.Sprintf(cypherThreadOf, hops), map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	return messagesFromRecords(result.Records)
}

// SearchText implements memory.Store.
func (s *Store) SearchText(ctx context.Context, partition, instance, term string, limit int) ([]memory.Message, error) {
	result, err := s.run(ctx, cypherSearchText, map[string]any{
		"partition": partition,
		"instance":  instance,
		"term":      term,
		"limit":     limit,
	})
	if err != nil {
		return nil, err
	}
	return messagesFromRecords(result.Records)
}

// Export implements memory.Store.
func (s *Store) Export(ctx context.Context) ([]memory.Message, error) {
	result, err := s.run(ctx, cypherExport, nil)
	if err != nil {
		return nil, err
	}
	return messagesFromRecords(result.Records)
}

// Import implements memory.Store. IDs present on the incoming messages are
// preserved, so an export/import round trip keeps RESPONDED_WITH and SYNAPSE
// endpoints resolvable.
func (s *Store) Import(ctx context.Context, msgs []memory.Message) (int, error) {
	created := 0
	for _, msg := range msgs {
		id := msg.ID
		if id == "" {
			id = uuid.NewString()
		}
		result, err := s.run(ctx, cypherStoreMessage, map[string]any{
			"trace_id":     msg.TraceID,
			"role":         msg.Role,
			"timestamp":    msg.Timestamp,
			"content_hash": msg.ContentHash(),
			"id":           id,
			"partition":    msg.Partition,
			"instance":     msg.Instance,
			"content":      msg.Content,
			"url":          msg.URL,
			"embedding":    vectorParam(msg.Embedding),
		})
		if err != nil {
			return created, err
		}
		created += result.Summary.Counters().NodesCreated()
	}
	return created, nil
}

// Ping implements memory.Store.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("neo4j: ping: %w", err)
	}
	return nil
}

// Close implements memory.Store.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// vectorParam widens a float32 vector to the float64 slice the driver
// serializes as a Cypher list. A nil or empty vector maps to nil so the
// embedding property is simply absent.
func vectorParam(vec []float32) any {
	if len(vec) == 0 {
		return nil
	}
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}

// vectorFromValue narrows the driver's []any representation back to float32.
func vectorFromValue(v any) []float32 {
	raw, ok := v.([]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	out := make([]float32, 0, len(raw))
	for _, item := range raw {
		f, ok := item.(float64)
		if !ok {
			return nil
		}
		out = append(out, float32(f))
	}
	return out
}

// messageFromRecord builds a memory.Message from one result row produced by
// the returnMessage projection.
func messageFromRecord(rec *neo4j.Record) (memory.Message, error) {
	v, ok := rec.Get("m")
	if !ok {
		return memory.Message{}, fmt.Errorf("neo4j: row missing message projection")
	}
	props, ok := v.(map[string]any)
	if !ok {
		return memory.Message{}, fmt.Errorf("neo4j: unexpected projection type %T", v)
	}

	msg := memory.Message{
		ID:        stringProp(props, "id"),
		TraceID:   stringProp(props, "trace_id"),
		Partition: stringProp(props, "partition"),
		Instance:  stringProp(props, "instance"),
		Role:      stringProp(props, "role"),
		Content:   stringProp(props, "content"),
		URL:       stringProp(props, "url"),
		Embedding: vectorFromValue(props["embedding"]),
	}
	if ts, ok := props["timestamp"].(int64); ok {
		msg.Timestamp = ts
	}
	return msg, nil
}

func messagesFromRecords(records []*neo4j.Record) ([]memory.Message, error) {
	msgs := make([]memory.Message, 0, len(records))
	for _, rec := range records {
		msg, err := messageFromRecord(rec)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func stringProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}
