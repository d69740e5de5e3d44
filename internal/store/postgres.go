package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgelab/spawn-orchestrator/internal/models"
)

// SpawnStore handles durable spawn persistence
type SpawnStore struct {
	pool *pgxpool.Pool
}

// NewSpawnStore creates a new spawn store
func NewSpawnStore(pool *pgxpool.Pool) *SpawnStore {
	return &SpawnStore{pool: pool}
}

// CreateSpawn inserts the spawn row after spec extraction succeeds
func (s *SpawnStore) CreateSpawn(ctx context.Context, rec *models.SpawnRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO spawns (id, prompt, name, description, platform, features, summary, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.Prompt, rec.Name, rec.Description, rec.Platform, rec.Features, rec.Summary, rec.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create spawn: %w", err)
	}

	return nil
}

// UpdateSpawnStatus moves the durable row to a new status, optionally
// recording the error message and build log
func (s *SpawnStore) UpdateSpawnStatus(ctx context.Context, id uuid.UUID, status models.SpawnStatus, errMsg, buildLog *string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE spawns
		 SET status = $2, error = $3, build_log = COALESCE($4, build_log), updated_at = NOW()
		 WHERE id = $1`,
		id, status, errMsg, buildLog,
	)
	if err != nil {
		return fmt.Errorf("failed to update spawn status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("spawn %s not found", id)
	}

	return nil
}

// GetSpawn loads a durable spawn row
func (s *SpawnStore) GetSpawn(ctx context.Context, id uuid.UUID) (*models.SpawnRecord, error) {
	var rec models.SpawnRecord

	err := s.pool.QueryRow(ctx, `
		SELECT id, prompt, name, description, platform, features, summary, status, error, build_log, created_at, updated_at
		FROM spawns
		WHERE id = $1`,
		id,
	).Scan(&rec.ID, &rec.Prompt, &rec.Name, &rec.Description, &rec.Platform, &rec.Features,
		&rec.Summary, &rec.Status, &rec.Error, &rec.BuildLog, &rec.CreatedAt, &rec.UpdatedAt)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("spawn not found")
		}
		return nil, fmt.Errorf("failed to get spawn: %w", err)
	}

	return &rec, nil
}

// ListSpawns returns all durable spawn rows, newest first
func (s *SpawnStore) ListSpawns(ctx context.Context) ([]models.SpawnRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, prompt, name, description, platform, features, summary, status, error, build_log, created_at, updated_at
		FROM spawns
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list spawns: %w", err)
	}
	defer rows.Close()

	var specs []models.SpawnRecord
	for rows.Next() {
		var rec models.SpawnRecord
		err := rows.Scan(&rec.ID, &rec.Prompt, &rec.Name, &rec.Description, &rec.Platform, &rec.Features,
			&rec.Summary, &rec.Status, &rec.Error, &rec.BuildLog, &rec.CreatedAt, &rec.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan spawn: %w", err)
		}
		specs = append(specs, rec)
	}

	return specs, nil
}

// SaveFiles upserts the generated file rows for a spawn in one
// transaction, keyed by (spawn_id, path)
func (s *SpawnStore) SaveFiles(ctx context.Context, id uuid.UUID, files map[string]string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for path, content := range files {
		_, err := tx.Exec(ctx, `
			INSERT INTO spawn_files (spawn_id, path, content, language, created_at, updated_at)
			VALUES ($1, $2, $3, $4, NOW(), NOW())
			ON CONFLICT (spawn_id, path)
			DO UPDATE SET content = EXCLUDED.content, language = EXCLUDED.language, updated_at = NOW()`,
			id, path, content, LanguageForPath(path),
		)
		if err != nil {
			return fmt.Errorf("failed to save file %s: %w", path, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit files: %w", err)
	}

	return nil
}

// ListFiles returns the generated file rows for a spawn, ordered by path
func (s *SpawnStore) ListFiles(ctx context.Context, id uuid.UUID) ([]models.GeneratedFile, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT spawn_id, path, content, language, created_at, updated_at
		FROM spawn_files
		WHERE spawn_id = $1
		ORDER BY path`,
		id)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var files []models.GeneratedFile
	for rows.Next() {
		var f models.GeneratedFile
		if err := rows.Scan(&f.SpawnID, &f.Path, &f.Content, &f.Language, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}

	return files, nil
}

// DeleteSpawn removes the spawn row and its file rows in one
// transaction. Deleting an absent spawn is not an error.
func (s *SpawnStore) DeleteSpawn(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM spawn_files WHERE spawn_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete spawn files: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM spawns WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete spawn: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	return nil
}
