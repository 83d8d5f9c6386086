package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	return store, mock
}

func TestPostgresSave(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery("INSERT INTO suggestion_feedback").
		WithArgs("c1", "add outcome", "Added a stroke outcome.", "accepted", "", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	entry := &Entry{
		CohortID: "c1",
		Prompt:   "add outcome",
		Summary:  "Added a stroke outcome.",
		Verdict:  VerdictAccepted,
	}
	require.NoError(t, store.Save(context.Background(), entry))
	assert.Equal(t, int64(7), entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListByCohort(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "cohort_id", "prompt", "summary", "verdict", "notes", "created_at"}).
		AddRow(int64(2), "c1", "second", "", "rejected", "", now).
		AddRow(int64(1), "c1", "first", "done", "accepted", "", now.Add(-time.Minute))
	mock.ExpectQuery("SELECT id, cohort_id, prompt, summary, verdict, notes, created_at").
		WithArgs("c1", 10, 0).
		WillReturnRows(rows)

	entries, err := store.ListByCohort(context.Background(), "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, VerdictRejected, entries[0].Verdict)
	assert.Equal(t, "done", entries[1].Summary)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteMissing(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectExec("DELETE FROM suggestion_feedback").
		WithArgs(int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Delete(context.Background(), 99)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCount(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(5)))

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
