package neo4j

import (
	"context"
	"fmt"
)

// schemaStatements are applied in order on startup. All statements are
// idempotent, so concurrent instances racing on startup are harmless.
func schemaStatements(dimensions int) []string {
	return []string{
		`CREATE CONSTRAINT message_id IF NOT EXISTS
		 FOR (m:Message) REQUIRE m.id IS UNIQUE`,

		`CREATE INDEX message_scope IF NOT EXISTS
		 FOR (m:Message) ON (m.partition, m.instance, m.timestamp)`,

		fmt.Sprintf(`CREATE VECTOR INDEX %s IF NOT EXISTS
		 FOR (m:Message) ON (m.embedding)
		 OPTIONS {indexConfig: {
			`+"`vector.dimensions`"+`: %d,
			`+"`vector.similarity_function`"+`: 'cosine'
		 }}`, vectorIndexName, dimensions),
	}
}

func (s *Store) ensureSchema(ctx context.Context) error {
	dims := s.cfg.Dimensions
	if dims <= 0 {
		dims = 1536
	}
	for _, stmt := range schemaStatements(dims) {
		if _, err := s.run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("neo4j: schema: %w", err)
		}
	}
	return nil
}
