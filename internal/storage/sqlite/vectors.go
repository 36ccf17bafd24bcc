package sqlite

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/scrypster/riya/internal/storage"
	"github.com/scrypster/riya/internal/storage/memstore"
)

// StoreEmbedding stores or replaces the embedding for a memory.
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
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_embeddings (memory_id, user_id, dimension, embedding)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET
			user_id = excluded.user_id,
			dimension = excluded.dimension,
			embedding = excluded.embedding`,
		memoryID, userID, len(vec), encodeVector(vec))
	return wrapErr("store embedding", err)
}

// NearestMemories ranks the user's embeddings by cosine similarity in
// process. SQLite has no vector index; per-user sets are small.
func (s *Store) NearestMemories(ctx context.Context, userID string, vec []float32, k int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT memory_id, embedding FROM memory_embeddings WHERE user_id = ? AND dimension = ?`,
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
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, wrapErr("scan embedding", err)
		}
		stored, err := decodeVector(raw)
		if err != nil {
			return nil, err
		}
		all = append(all, scored{id: id, sim: memstore.CosineSimilarity(vec, stored)})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate embeddings", err)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].sim > all[j].sim })
	if k > 0 && len(all) > k {
		all = all[:k]
	}
	ids := make([]string, len(all))
	for i, sc := range all {
		ids[i] = sc.id
	}
	return ids, nil
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("sqlite: embedding blob has invalid length %d", len(raw))
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec, nil
}
