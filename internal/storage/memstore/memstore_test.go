package memstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scrypster/riya/internal/storage"
	"github.com/scrypster/riya/internal/storage/memstore"
	"github.com/scrypster/riya/internal/storage/storagetest"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Repository {
		return memstore.New()
	})
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, memstore.CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, memstore.CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, memstore.CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Zero(t, memstore.CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}
