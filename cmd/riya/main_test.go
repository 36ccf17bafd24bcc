package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/riya/internal/notify"
	"github.com/scrypster/riya/pkg/types"
)

// execute runs the CLI against a temporary data directory.
func execute(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("RIYA_STORAGE_DATA_PATH", dataDir)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "dispatch", "predict", "depth", "rescore", "end-session", "backup"} {
		assert.Contains(t, names, want)
	}
}

func TestEndSession_WritesEvent(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, dir, "end-session", "sess-1", "--user", "u1")
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "events"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	raw, err := os.ReadFile(filepath.Join(dir, "events", entries[0].Name()))
	require.NoError(t, err)
	var ev notify.Event
	require.NoError(t, json.Unmarshal(raw, &ev))
	assert.Equal(t, notify.EventSessionEnded, ev.Type)
	assert.Equal(t, "sess-1", ev.SessionID)
	assert.Equal(t, "u1", ev.UserID)
}

func TestEndSession_RequiresSessionID(t *testing.T) {
	_, err := execute(t, t.TempDir(), "end-session")
	assert.Error(t, err)
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	t.Setenv("RIYA_STORAGE_ENGINE", "bogus")
	_, err := execute(t, t.TempDir(), "dispatch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.engine")
}

func TestDepth_ColdStart(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, dir, "depth", "u1", "--recompute=false")
	require.NoError(t, err)

	var depth types.RelationshipDepth
	require.NoError(t, json.Unmarshal([]byte(out), &depth))
	assert.Equal(t, "u1", depth.UserID)
	assert.Equal(t, types.StageAcquainted, depth.Stage)

	_, err = os.Stat(filepath.Join(dir, "riya.db"))
	assert.NoError(t, err)
}

func TestBackup_SnapshotAndList(t *testing.T) {
	dir := t.TempDir()

	// Opening the store creates the database file.
	_, err := execute(t, dir, "depth", "u1", "--recompute=false")
	require.NoError(t, err)

	out, err := execute(t, dir, "backup")
	require.NoError(t, err)
	var res struct {
		Path     string `json:"path"`
		Verified bool   `json:"verified"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Verified)
	assert.FileExists(t, res.Path)
	assert.Equal(t, filepath.Join(dir, "backups"), filepath.Dir(res.Path))

	out, err = execute(t, dir, "backup", "--list")
	require.NoError(t, err)
	var snapshots []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &snapshots))
	assert.Len(t, snapshots, 1)
}

func TestBackup_RejectsPostgres(t *testing.T) {
	t.Setenv("RIYA_STORAGE_ENGINE", "postgres")
	t.Setenv("RIYA_STORAGE_POSTGRES_DSN", "postgres://localhost/riya")
	_, err := execute(t, t.TempDir(), "backup")
	assert.ErrorIs(t, err, errBackupEngine)
}
