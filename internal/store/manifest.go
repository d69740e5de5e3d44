package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/forgelab/spawn-orchestrator/internal/models"
)

// ManifestStore writes the per-spawn project manifest blob
type ManifestStore interface {
	WriteManifest(ctx context.Context, spawnID string, m *models.Manifest) error
	ReadManifest(ctx context.Context, spawnID string) (*models.Manifest, error)
}

func manifestObjectPath(spawnID string) string {
	return fmt.Sprintf("spawns/%s/manifest.json", spawnID)
}

// GCSManifestStore persists manifests as objects in a GCS bucket
type GCSManifestStore struct {
	client *storage.Client
	bucket string
}

// NewGCSManifestStore creates a manifest store backed by a GCS bucket.
// An empty key path falls back to ambient application default
// credentials.
func NewGCSManifestStore(ctx context.Context, bucket, saKeyPath string) (*GCSManifestStore, error) {
	var opts []option.ClientOption
	if saKeyPath != "" {
		if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", saKeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return &GCSManifestStore{client: client, bucket: bucket}, nil
}

// WriteManifest replaces the manifest object for a spawn
func (s *GCSManifestStore) WriteManifest(ctx context.Context, spawnID string, m *models.Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	obj := s.client.Bucket(s.bucket).Object(manifestObjectPath(spawnID))
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write manifest for spawn %s: %w", spawnID, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for spawn %s: %w", spawnID, err)
	}

	return nil
}

// ReadManifest loads the manifest object for a spawn
func (s *GCSManifestStore) ReadManifest(ctx context.Context, spawnID string) (*models.Manifest, error) {
	reader, err := s.client.Bucket(s.bucket).Object(manifestObjectPath(spawnID)).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest for spawn %s: %w", spawnID, err)
	}
	defer reader.Close()

	var m models.Manifest
	if err := json.NewDecoder(reader).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest for spawn %s: %w", spawnID, err)
	}

	return &m, nil
}

// Close releases the underlying storage client
func (s *GCSManifestStore) Close() error {
	return s.client.Close()
}

// LocalManifestStore persists manifests under a local directory. Used
// for development and tests where no bucket is configured.
type LocalManifestStore struct {
	root string
}

// NewLocalManifestStore creates a manifest store rooted at dir
func NewLocalManifestStore(dir string) *LocalManifestStore {
	return &LocalManifestStore{root: dir}
}

// WriteManifest replaces the manifest file for a spawn
func (s *LocalManifestStore) WriteManifest(ctx context.Context, spawnID string, m *models.Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	path := filepath.Join(s.root, filepath.FromSlash(manifestObjectPath(spawnID)))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest for spawn %s: %w", spawnID, err)
	}

	return nil
}

// ReadManifest loads the manifest file for a spawn
func (s *LocalManifestStore) ReadManifest(ctx context.Context, spawnID string) (*models.Manifest, error) {
	path := filepath.Join(s.root, filepath.FromSlash(manifestObjectPath(spawnID)))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest for spawn %s: %w", spawnID, err)
	}

	var m models.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest for spawn %s: %w", spawnID, err)
	}

	return &m, nil
}
