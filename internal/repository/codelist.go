package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/phenex-cohort-server/internal/domain"
)

// CodelistStore persists the uploaded codelist library: parsed code files
// keyed by cohort, one row per (codelist, coding system) pair. It runs on
// database/sql with the pq driver so deployments can point it at the same
// PostgreSQL instance as the cohort repository or a separate one.
type CodelistStore struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewCodelistStore opens a codelist store on the given DSN.
func NewCodelistStore(dsn string, logger *logrus.Logger) (*CodelistStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening codelist database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	return &CodelistStore{db: db, log: logger}, nil
}

// Save stores a codelist for a cohort, replacing any previous version with
// the same file id. It returns the stored codelist with its file id set.
func (s *CodelistStore) Save(ctx context.Context, cohortID string, codelist *domain.Codelist) (*domain.Codelist, error) {
	stored := codelist.Clone()
	if stored.FileID == "" {
		stored.FileID = uuid.New().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("saving codelist: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM codelists WHERE cohort_id = $1 AND file_id = $2`,
		cohortID, stored.FileID,
	); err != nil {
		return nil, fmt.Errorf("replacing codelist %s: %w", stored.FileID, err)
	}

	for system, codes := range stored.Codes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO codelists (cohort_id, file_id, name, code_system, codes, use_code_type, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			cohortID, stored.FileID, stored.Name, system,
			pq.Array(codes), stored.UseIndex, time.Now().UTC(),
		); err != nil {
			return nil, fmt.Errorf("inserting codelist %s system %s: %w", stored.Name, system, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("saving codelist: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"cohort_id": cohortID,
		"codelist":  stored.Name,
		"file_id":   stored.FileID,
		"systems":   len(stored.Codes),
	}).Info("Codelist saved")
	return stored, nil
}

// List returns all codelists uploaded for a cohort.
func (s *CodelistStore) List(ctx context.Context, cohortID string) ([]domain.Codelist, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_id, name, code_system, codes, use_code_type
		FROM codelists
		WHERE cohort_id = $1
		ORDER BY name, code_system`,
		cohortID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing codelists: %w", err)
	}
	defer rows.Close()

	byFile := map[string]*domain.Codelist{}
	var order []string
	for rows.Next() {
		var fileID, name, system string
		var useIndex bool
		var codes pq.StringArray
		if err := rows.Scan(&fileID, &name, &system, &codes, &useIndex); err != nil {
			return nil, fmt.Errorf("scanning codelist row: %w", err)
		}
		cl, ok := byFile[fileID]
		if !ok {
			cl = &domain.Codelist{
				Name:     name,
				FileID:   fileID,
				UseIndex: useIndex,
				Codes:    map[string][]string{},
			}
			byFile[fileID] = cl
			order = append(order, fileID)
		}
		cl.Codes[system] = append([]string(nil), codes...)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing codelists: %w", err)
	}

	out := make([]domain.Codelist, 0, len(order))
	for _, fileID := range order {
		out = append(out, *byFile[fileID])
	}
	return out, nil
}

// Delete removes a codelist file and all of its coding systems.
func (s *CodelistStore) Delete(ctx context.Context, cohortID, fileID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM codelists WHERE cohort_id = $1 AND file_id = $2`,
		cohortID, fileID,
	)
	if err != nil {
		return fmt.Errorf("deleting codelist %s: %w", fileID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting codelist %s: %w", fileID, err)
	}
	if affected == 0 {
		return fmt.Errorf("codelist not found: %w", domain.ErrNotFound)
	}
	return nil
}

// Close closes the database.
func (s *CodelistStore) Close() error {
	return s.db.Close()
}
