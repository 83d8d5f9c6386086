package feedback

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "feedback.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteSaveAssignsID(t *testing.T) {
	store := newTestStore(t)

	entry := &Entry{
		CohortID: "c1",
		Prompt:   "add a diabetes exclusion",
		Summary:  "Added an exclusion criterion using ICD-10 E11 codes.",
		Verdict:  VerdictAccepted,
	}
	require.NoError(t, store.Save(context.Background(), entry))
	assert.NotZero(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
}

func TestSQLiteListByCohort(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Entry{CohortID: "c1", Prompt: "first", Verdict: VerdictAccepted}))
	require.NoError(t, store.Save(ctx, &Entry{CohortID: "c1", Prompt: "second", Verdict: VerdictRejected}))
	require.NoError(t, store.Save(ctx, &Entry{CohortID: "other", Prompt: "elsewhere", Verdict: VerdictAccepted}))

	entries, err := store.ListByCohort(ctx, "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Newest first.
	assert.Equal(t, "second", entries[0].Prompt)
	assert.Equal(t, VerdictRejected, entries[0].Verdict)
	assert.Equal(t, "first", entries[1].Prompt)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestSQLiteListPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, prompt := range []string{"a", "b", "c"} {
		require.NoError(t, store.Save(ctx, &Entry{CohortID: "c1", Prompt: prompt, Verdict: VerdictAccepted}))
	}

	page, err := store.ListByCohort(ctx, "c1", 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)

	rest, err := store.ListByCohort(ctx, "c1", 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.NotEqual(t, page[0].ID, rest[0].ID)
}

func TestSQLiteDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := &Entry{CohortID: "c1", Prompt: "remove me", Verdict: VerdictRejected}
	require.NoError(t, store.Save(ctx, entry))
	require.NoError(t, store.Delete(ctx, entry.ID))

	entries, err := store.ListByCohort(ctx, "c1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.ErrorIs(t, store.Delete(ctx, entry.ID), sql.ErrNoRows)
}

func TestSQLiteExportJSON(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Entry{CohortID: "c1", Prompt: "export me", Verdict: VerdictAccepted}))

	var buf bytes.Buffer
	require.NoError(t, store.ExportJSON(ctx, &buf))

	var export Export
	require.NoError(t, json.Unmarshal(buf.Bytes(), &export))
	assert.Equal(t, "1.0", export.Version)
	assert.Equal(t, 1, export.Count)
	require.Len(t, export.Entries, 1)
	assert.Equal(t, "export me", export.Entries[0].Prompt)
}
