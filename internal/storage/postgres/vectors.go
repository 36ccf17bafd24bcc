package postgres

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/riya/internal/storage"
	"github.com/scrypster/riya/internal/storage/memstore"
)

// StoreEmbedding stores the embedding in the portable BYTEA column and, when
// pgvector is available, in embedding_vec for cosine-distance queries.
func (s *Store) StoreEmbedding(ctx context.Context, memoryID, userID string, vec []float32) error {
	if memoryID == "" || len(vec) == 0 {
		return storage.ErrInvalidInput
	}
	ok, err := s.exists(ctx, "memories", memoryID)
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrNotFound
	}

	raw := serializeEmbedding(vec)
	if s.pgvectorAvailable {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO memory_embeddings (memory_id, user_id, dimension, embedding, embedding_vec)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (memory_id) DO UPDATE SET
				user_id = EXCLUDED.user_id,
				dimension = EXCLUDED.dimension,
				embedding = EXCLUDED.embedding,
				embedding_vec = EXCLUDED.embedding_vec`,
			memoryID, userID, len(vec), raw, pgvector.NewVector(vec))
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO memory_embeddings (memory_id, user_id, dimension, embedding)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (memory_id) DO UPDATE SET
				user_id = EXCLUDED.user_id,
				dimension = EXCLUDED.dimension,
				embedding = EXCLUDED.embedding`,
			memoryID, userID, len(vec), raw)
	}
	return wrapErr("store embedding", err)
}

// NearestMemories returns up to k memory IDs for userID ordered by cosine
// similarity to vec.
func (s *Store) NearestMemories(ctx context.Context, userID string, vec []float32, k int) ([]string, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = 10
	}
	if s.pgvectorAvailable {
		return s.nearestPgvector(ctx, userID, vec, k)
	}
	return s.nearestInProcess(ctx, userID, vec, k)
}

func (s *Store) nearestPgvector(ctx context.Context, userID string, vec []float32, k int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT memory_id FROM memory_embeddings
		WHERE user_id = $1 AND dimension = $2 AND embedding_vec IS NOT NULL
		ORDER BY embedding_vec <=> $3
		LIMIT $4`,
		userID, len(vec), pgvector.NewVector(vec), k)
	if err != nil {
		return nil, wrapErr("vector search", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr("scan vector result", err)
		}
		ids = append(ids, id)
	}
	return ids, wrapErr("iterate vector results", rows.Err())
}

func (s *Store) nearestInProcess(ctx context.Context, userID string, vec []float32, k int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT memory_id, embedding FROM memory_embeddings WHERE user_id = $1 AND dimension = $2`,
		userID, len(vec))
	if err != nil {
		return nil, wrapErr("query embeddings", err)
	}
	defer rows.Close()

	type scored struct {
		id  string
		sim float64
	}
	var all []scored
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, wrapErr("scan embedding", err)
		}
		stored, err := deserializeEmbedding(raw)
		if err != nil {
			return nil, err
		}
		all = append(all, scored{id, memstore.CosineSimilarity(vec, stored)})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate embeddings", err)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].sim > all[j].sim })
	if len(all) > k {
		all = all[:k]
	}
	ids := make([]string, len(all))
	for i, sc := range all {
		ids[i] = sc.id
	}
	return ids, nil
}

// serializeEmbedding encodes vec as little-endian float32.
func serializeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeEmbedding(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("postgres: invalid embedding length %d", len(raw))
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec, nil
}
