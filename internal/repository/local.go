package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/phenex-cohort-server/internal/domain"
)

// LocalStore implements cohort persistence on SQLite for single-user local
// deployments where no PostgreSQL or Phenex backend is configured.
type LocalStore struct {
	db     *sql.DB
	dbPath string
}

// NewLocalStore opens (and if needed creates) the local cohort database.
func NewLocalStore(dbPath string) (*LocalStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createLocalSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &LocalStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

func createLocalSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cohorts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		is_public INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_cohorts_updated_at ON cohorts(updated_at);
	`

	_, err := db.Exec(schema)
	return err
}

// GetCohort retrieves an owned cohort by id.
func (s *LocalStore) GetCohort(ctx context.Context, id string) (*domain.CohortRecord, error) {
	return s.get(ctx, id, 0)
}

// GetPublicCohort retrieves a shared cohort by id.
func (s *LocalStore) GetPublicCohort(ctx context.Context, id string) (*domain.CohortRecord, error) {
	return s.get(ctx, id, 1)
}

func (s *LocalStore) get(ctx context.Context, id string, public int) (*domain.CohortRecord, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		"SELECT body FROM cohorts WHERE id = ? AND is_public = ?", id, public,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("cohort not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting cohort: %w", err)
	}

	var record domain.CohortRecord
	if err := json.Unmarshal([]byte(body), &record); err != nil {
		return nil, fmt.Errorf("decoding cohort %s: %w", id, err)
	}
	return &record, nil
}

// SaveCohort upserts a cohort record.
func (s *LocalStore) SaveCohort(ctx context.Context, record *domain.CohortRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding cohort %s: %w", record.ID, err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cohorts (id, name, body, is_public, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			body = excluded.body,
			updated_at = excluded.updated_at
	`, record.ID, record.Name, string(body), now, now)
	if err != nil {
		return fmt.Errorf("saving cohort: %w", err)
	}
	return nil
}

// DeleteCohort removes a cohort.
func (s *LocalStore) DeleteCohort(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM cohorts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting cohort: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting cohort: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("cohort not found: %w", domain.ErrNotFound)
	}
	return nil
}

// ListCohorts returns summaries of all stored cohorts, newest first.
func (s *LocalStore) ListCohorts(ctx context.Context) ([]CohortSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, is_public, updated_at
		FROM cohorts
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing cohorts: %w", err)
	}
	defer rows.Close()

	var out []CohortSummary
	for rows.Next() {
		var s CohortSummary
		var public int
		if err := rows.Scan(&s.ID, &s.Name, &public, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning cohort summary: %w", err)
		}
		s.IsPublic = public != 0
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *LocalStore) Close() error {
	return s.db.Close()
}
