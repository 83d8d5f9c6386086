package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phenex-cohort-server/internal/domain"
)

func newMockCodelistStore(t *testing.T) (*CodelistStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &CodelistStore{db: db, log: logrus.New()}, mock
}

func TestCodelistSaveInsertsPerSystem(t *testing.T) {
	store, mock := newMockCodelistStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM codelists").
		WithArgs("c1", "f1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO codelists").
		WithArgs("c1", "f1", "diabetes", "ICD10", sqlmock.AnyArg(), false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	stored, err := store.Save(context.Background(), "c1", &domain.Codelist{
		Name:   "diabetes",
		FileID: "f1",
		Codes:  map[string][]string{"ICD10": {"E11", "E11.9"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "f1", stored.FileID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodelistSaveAssignsFileID(t *testing.T) {
	store, mock := newMockCodelistStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM codelists").
		WithArgs("c1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	stored, err := store.Save(context.Background(), "c1", &domain.Codelist{Name: "empty"})
	require.NoError(t, err)
	assert.NotEmpty(t, stored.FileID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodelistSaveRollsBackOnFailure(t *testing.T) {
	store, mock := newMockCodelistStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM codelists").
		WithArgs("c1", "f1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO codelists").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := store.Save(context.Background(), "c1", &domain.Codelist{
		Name:   "broken",
		FileID: "f1",
		Codes:  map[string][]string{"ICD10": {"E11"}},
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodelistListGroupsByFile(t *testing.T) {
	store, mock := newMockCodelistStore(t)

	rows := sqlmock.NewRows([]string{"file_id", "name", "code_system", "codes", "use_code_type"}).
		AddRow("f1", "diabetes", "ICD10", []byte("{E11,E11.9}"), false).
		AddRow("f1", "diabetes", "SNOMED", []byte("{44054006}"), false).
		AddRow("f2", "heart failure", "ICD10", []byte("{I50}"), true)
	mock.ExpectQuery("SELECT file_id, name, code_system, codes, use_code_type").
		WithArgs("c1").
		WillReturnRows(rows)

	codelists, err := store.List(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, codelists, 2)

	assert.Equal(t, "diabetes", codelists[0].Name)
	assert.Equal(t, []string{"E11", "E11.9"}, codelists[0].Codes["ICD10"])
	assert.Equal(t, []string{"44054006"}, codelists[0].Codes["SNOMED"])

	assert.Equal(t, "heart failure", codelists[1].Name)
	assert.True(t, codelists[1].UseIndex)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodelistDelete(t *testing.T) {
	store, mock := newMockCodelistStore(t)

	mock.ExpectExec("DELETE FROM codelists").
		WithArgs("c1", "f1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, store.Delete(context.Background(), "c1", "f1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodelistDeleteMissing(t *testing.T) {
	store, mock := newMockCodelistStore(t)

	mock.ExpectExec("DELETE FROM codelists").
		WithArgs("c1", "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Delete(context.Background(), "c1", "gone")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
