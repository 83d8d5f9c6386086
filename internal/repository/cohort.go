// Package repository provides cohort persistence: a PostgreSQL repository
// for server deployments, a SQLite store for local single-user use, and a
// codelist library store.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/phenex-cohort-server/internal/domain"
)

// CohortRepository persists cohort records in PostgreSQL. The record body is
// stored as JSONB so the schema does not chase the phenotype variant set.
type CohortRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewCohortRepository creates a new cohort repository.
func NewCohortRepository(db *pgxpool.Pool, logger *logrus.Logger) *CohortRepository {
	return &CohortRepository{
		db:  db,
		log: logger,
	}
}

// GetCohort retrieves an owned cohort record by id.
func (r *CohortRepository) GetCohort(ctx context.Context, id string) (*domain.CohortRecord, error) {
	return r.get(ctx, id, false)
}

// GetPublicCohort retrieves a shared cohort record by id.
func (r *CohortRepository) GetPublicCohort(ctx context.Context, id string) (*domain.CohortRecord, error) {
	return r.get(ctx, id, true)
}

func (r *CohortRepository) get(ctx context.Context, id string, public bool) (*domain.CohortRecord, error) {
	query := `
		SELECT body
		FROM cohorts
		WHERE id = $1 AND is_public = $2`

	var body []byte
	err := r.db.QueryRow(ctx, query, id, public).Scan(&body)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("cohort not found: %w", domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"cohort_id": id,
			"public":    public,
			"error":     err,
		}).Error("Failed to get cohort")
		return nil, fmt.Errorf("getting cohort: %w", err)
	}

	var record domain.CohortRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("decoding cohort %s: %w", id, err)
	}
	return &record, nil
}

// SaveCohort upserts a cohort record.
func (r *CohortRepository) SaveCohort(ctx context.Context, record *domain.CohortRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding cohort %s: %w", record.ID, err)
	}

	query := `
		INSERT INTO cohorts (id, name, body, is_public, updated_at)
		VALUES ($1, $2, $3, FALSE, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			body = EXCLUDED.body,
			updated_at = EXCLUDED.updated_at`

	_, err = r.db.Exec(ctx, query, record.ID, record.Name, body, time.Now().UTC())
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"cohort_id": record.ID,
			"error":     err,
		}).Error("Failed to save cohort")
		return fmt.Errorf("saving cohort: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"cohort_id": record.ID,
		"name":      record.Name,
	}).Info("Cohort saved")
	return nil
}

// DeleteCohort removes a cohort record.
func (r *CohortRepository) DeleteCohort(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM cohorts WHERE id = $1`, id)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"cohort_id": id,
			"error":     err,
		}).Error("Failed to delete cohort")
		return fmt.Errorf("deleting cohort: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cohort not found: %w", domain.ErrNotFound)
	}
	return nil
}

// ListCohorts returns id/name summaries, owned cohorts first.
func (r *CohortRepository) ListCohorts(ctx context.Context, limit, offset int) ([]CohortSummary, error) {
	query := `
		SELECT id, name, is_public, updated_at
		FROM cohorts
		ORDER BY is_public ASC, updated_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing cohorts: %w", err)
	}
	defer rows.Close()

	var out []CohortSummary
	for rows.Next() {
		var s CohortSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.IsPublic, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning cohort summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CohortSummary is a list-view projection of a stored cohort.
type CohortSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsPublic  bool      `json:"is_public"`
	UpdatedAt time.Time `json:"updated_at"`
}
