package neo4j

import "context"

// cypherSynapseSequential links a node to its immediate scope predecessor.
// The edge is scored so pruning can cut the chain where the topic shifts.
// Nodes without embeddings get an unscored edge that pruning leaves alone.
const cypherSynapseSequential = `
MATCH (m:Message {id: $id})
MATCH (p:Message {partition: m.partition, instance: m.instance})
WHERE p.id <> m.id AND p.timestamp < m.timestamp
WITH m, p
ORDER BY p.timestamp DESC
LIMIT 1
MERGE (m)-[s:SYNAPSE]-(p)
SET s.score = CASE
	WHEN m.embedding IS NOT NULL AND p.embedding IS NOT NULL
	THEN vector.similarity.cosine(m.embedding, p.embedding)
	ELSE s.score
END,
s.sequential = true`

// cypherSynapseTopical attaches the node to its top-K most similar scope
// peers above the threshold.
const cypherSynapseTopical = `
MATCH (m:Message {id: $id})
WHERE m.embedding IS NOT NULL
CALL db.index.vector.queryNodes($index, $fetch, m.embedding)
YIELD node, score
WITH m, node, score
WHERE node.partition = m.partition AND node.instance = m.instance
	AND node.id <> m.id AND score >= $threshold
ORDER BY score DESC
LIMIT $topk
MERGE (m)-[s:SYNAPSE]-(node)
SET s.score = score`

// cypherSynapsePrune removes every scored edge below the threshold,
// sequential ones included. Cutting a weak sequential edge is what ends a
// thread at a topic boundary; RESPONDED_WITH keeps each trace internally
// linked.
const cypherSynapsePrune = `
MATCH (m:Message {id: $id})-[s:SYNAPSE]-()
WHERE s.score IS NOT NULL AND s.score < $threshold
DELETE s`

// UpdateSynapses implements memory.Store. The three phases run as separate
// queries; each is idempotent, so a crash between phases leaves the graph
// valid and the next update repairs it.
func (s *Store) UpdateSynapses(ctx context.Context, id string) error {
	if _, err := s.run(ctx, cypherSynapseSequential, map[string]any{"id": id}); err != nil {
		return err
	}
	if _, err := s.run(ctx, cypherSynapseTopical, map[string]any{
		"id":        id,
		"index":     vectorIndexName,
		"fetch":     3 * s.cfg.SynapseTopK,
		"threshold": s.cfg.SynapseThreshold,
		"topk":      s.cfg.SynapseTopK,
	}); err != nil {
		return err
	}
	_, err := s.run(ctx, cypherSynapsePrune, map[string]any{
		"id":        id,
		"threshold": s.cfg.SynapseThreshold,
	})
	return err
}
