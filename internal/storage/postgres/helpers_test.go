// This file contains test helpers only available during testing.
package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest empties every table so each conformance subtest starts
// from a clean database. It is exported so the postgres_test package can
// call it.
func (s *Store) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `TRUNCATE TABLE
		relationship_depth, engagement_triggers, metric_samples, graph_edges, graph_nodes,
		memory_embeddings, memories, messages, sessions, users
		RESTART IDENTITY CASCADE`)
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate tables: %w", err)
	}
	return nil
}

// PgvectorAvailable reports whether the store detected the vector extension.
func (s *Store) PgvectorAvailable() bool {
	return s.pgvectorAvailable
}
