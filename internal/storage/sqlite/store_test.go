package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/riya/internal/storage"
	"github.com/scrypster/riya/internal/storage/storagetest"
	"github.com/scrypster/riya/pkg/types"
)

// newTestStore creates an in-memory SQLite store with all migrations applied.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(context.Background(), ":memory:", zerolog.Nop())
	require.NoError(t, err)
	return store
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Repository {
		return newTestStore(t)
	})
}

// TestDbPathFromDSN verifies DSN parsing for bare paths, file: URIs, and in-memory.
func TestDbPathFromDSN(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{"in-memory", ":memory:", ""},
		{"empty", "", ""},
		{"bare path", "/tmp/riya.db", "/tmp/riya.db"},
		{"file URI bare", "file:/tmp/riya.db", "/tmp/riya.db"},
		{"file URI with params", "file:/tmp/riya.db?mode=rwc&_journal=WAL", "/tmp/riya.db"},
		{"file URI memory", "file::memory:", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dbPathFromDSN(tt.dsn))
		})
	}
}

func TestMigrationsAppliedOnce(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "migrate.db")
	ctx := context.Background()

	store, err := NewStore(ctx, dbPath, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.EnsureUser(ctx, &types.User{ID: "u1", Name: "Meera"}))
	require.NoError(t, store.Close())

	// Reopening must not re-run the schema or lose data.
	store, err = NewStore(ctx, dbPath, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Meera", u.Name)

	var applied int
	require.NoError(t, store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	assert.Equal(t, 1, applied)
}

// TestClose_WALCheckpoint verifies that Close() flushes the WAL so -shm is removed.
func TestClose_WALCheckpoint(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "checkpoint.db")
	ctx := context.Background()

	store, err := NewStore(ctx, dbPath, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.CreateMemory(ctx, storagetest.NewMemory("u1", "WAL checkpoint", 5)))
	require.NoError(t, store.Close())

	_, err = os.Stat(dbPath + "-shm")
	assert.True(t, os.IsNotExist(err), "-shm file still exists after Close()")
}

func TestNewStore_RecoverStaleWAL(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "stale.db")
	ctx := context.Background()

	store, err := NewStore(ctx, dbPath, zerolog.Nop())
	require.NoError(t, err)
	m := storagetest.NewMemory("u1", "Stale WAL recovery", 5)
	require.NoError(t, store.CreateMemory(ctx, m))
	require.NoError(t, store.Close())

	// Simulate a crash mid-write.
	require.NoError(t, os.WriteFile(dbPath+"-shm", []byte("garbage-shm-data-from-crash"), 0o644))

	store, err = NewStore(ctx, dbPath, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	got, err := store.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Stale WAL recovery", got.Surface.Event)
}

func TestTimestampsSortLexically(t *testing.T) {
	early := time.Date(2026, 3, 2, 9, 0, 0, 5, time.UTC)
	late := time.Date(2026, 3, 2, 9, 0, 0, 40_000_000, time.FixedZone("IST", 19800)).Add(5*time.Hour + 30*time.Minute)

	assert.Less(t, encodeTime(early), encodeTime(late))
	assert.Len(t, encodeTime(early), len(encodeTime(late)))

	back, err := decodeTime(encodeTime(late))
	require.NoError(t, err)
	assert.True(t, back.Equal(late))
}

func TestVectorEncoding(t *testing.T) {
	vec := []float32{0.25, -1.5, 3}
	got, err := decodeVector(encodeVector(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
