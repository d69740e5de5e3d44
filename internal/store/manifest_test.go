package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgelab/spawn-orchestrator/internal/models"
)

func testManifest() *models.Manifest {
	return &models.Manifest{
		Name:        "notes-app",
		Description: "A note taking web app",
		Platform:    "web",
		Files:       []string{"index.html", "app.js"},
		GeneratedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestLocalManifestStore_WriteAndRead(t *testing.T) {
	store := NewLocalManifestStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.WriteManifest(ctx, "spawn-123", testManifest()))

	got, err := store.ReadManifest(ctx, "spawn-123")
	require.NoError(t, err)
	assert.Equal(t, testManifest(), got)
}

func TestLocalManifestStore_WriteReplacesExisting(t *testing.T) {
	store := NewLocalManifestStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.WriteManifest(ctx, "spawn-123", testManifest()))

	updated := testManifest()
	updated.Files = append(updated.Files, "style.css")
	require.NoError(t, store.WriteManifest(ctx, "spawn-123", updated))

	got, err := store.ReadManifest(ctx, "spawn-123")
	require.NoError(t, err)
	assert.Len(t, got.Files, 3)
}

func TestLocalManifestStore_ObjectLayout(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalManifestStore(dir)

	require.NoError(t, store.WriteManifest(context.Background(), "spawn-123", testManifest()))

	// The on-disk layout mirrors the bucket object path.
	_, err := os.Stat(filepath.Join(dir, "spawns", "spawn-123", "manifest.json"))
	assert.NoError(t, err)
}

func TestLocalManifestStore_ReadMissing(t *testing.T) {
	store := NewLocalManifestStore(t.TempDir())

	_, err := store.ReadManifest(context.Background(), "no-such-spawn")
	assert.Error(t, err)
}
