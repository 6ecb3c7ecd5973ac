package neo4j

// vectorIndexName is the name of the cosine vector index over
// Message.embedding.
const vectorIndexName = "messageEmbeddings"

// returnMessage projects the node properties every read query returns.
const returnMessage = `m {
	id: m.id,
	trace_id: m.trace_id,
	partition: m.partition,
	instance: m.instance,
	role: m.role,
	content: m.content,
	timestamp: m.timestamp,
	url: m.url,
	embedding: m.embedding
} AS m`

// cypherStoreMessage merges on the idempotency tuple so a replayed capture
// resolves to the existing node instead of creating a duplicate.
const cypherStoreMessage = `
MERGE (m:Message {
	trace_id: $trace_id,
	role: $role,
	timestamp: $timestamp,
	content_hash: $content_hash
})
ON CREATE SET
	m.id = $id,
	m.partition = $partition,
	m.instance = $instance,
	m.content = $content,
	m.url = $url,
	m.embedding = $embedding
RETURN m.id AS id`

// cypherLinkResponse is idempotent per (user, assistant) pair. It yields no
// row when either endpoint is missing or the user node already answers to a
// different assistant; the caller turns the empty result into an error.
const cypherLinkResponse = `
MATCH (u:Message {id: $user_id})
MATCH (a:Message {id: $assistant_id})
WHERE NOT EXISTS {
	MATCH (u)-[:RESPONDED_WITH]->(other:Message)
	WHERE other.id <> $assistant_id
}
MERGE (u)-[:RESPONDED_WITH]->(a)
RETURN u.id AS id`

const cypherRecent = `
MATCH (m:Message {partition: $partition, instance: $instance})
RETURN ` + returnMessage + `
ORDER BY m.timestamp DESC
LIMIT $n`

const cypherSimilar = `
CALL db.index.vector.queryNodes($index, $fetch, $vec)
YIELD node, score
WITH node AS m, score
WHERE m.partition = $partition AND m.instance = $instance AND score >= $threshold
RETURN ` + returnMessage + `, score
ORDER BY score DESC
LIMIT $k`

// cypherThreadOf takes the hop bound via Sprintf; Cypher does not accept a
// parameter in a variable-length pattern. Both relationship types are
// walked: after pruning, RESPONDED_WITH is the only link left inside a
// trace whose user and assistant messages diverged topically.
const cypherThreadOf = `
MATCH (start:Message {id: $id})-[:SYNAPSE|RESPONDED_WITH*1..%d]-(m:Message)
WHERE m.id <> $id
RETURN DISTINCT ` + returnMessage + `
ORDER BY m.timestamp ASC`

const cypherSearchText = `
MATCH (m:Message {partition: $partition, instance: $instance})
WHERE toLower(m.content) CONTAINS toLower($term)
RETURN ` + returnMessage + `
ORDER BY m.timestamp DESC
LIMIT $limit`

const cypherExport = `
MATCH (m:Message)
RETURN ` + returnMessage + `
ORDER BY m.timestamp ASC`
