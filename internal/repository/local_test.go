package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phenex-cohort-server/internal/domain"
)

func newTestLocalStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(filepath.Join(t.TempDir(), "cohorts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLocalStoreSaveAndGet(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()

	record := &domain.CohortRecord{
		ID:   "c1",
		Name: "atrial fibrillation",
		EntryCriterion: &domain.Phenotype{
			ID:    "e1",
			Class: domain.ClassCodelist,
			Name:  "af diagnosis",
			Codelist: &domain.Codelist{
				Name:  "af codes",
				Codes: map[string][]string{"ICD10": {"I48.0", "I48.1"}},
			},
		},
		Inclusions: []*domain.Phenotype{
			{ID: "i1", Class: domain.ClassAge, Name: "age over 18"},
		},
	}
	require.NoError(t, store.SaveCohort(ctx, record))

	got, err := store.GetCohort(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "atrial fibrillation", got.Name)
	require.NotNil(t, got.EntryCriterion)
	assert.Equal(t, []string{"I48.0", "I48.1"}, got.EntryCriterion.Codelist.Codes["ICD10"])
	require.Len(t, got.Inclusions, 1)
}

func TestLocalStoreUpsert(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveCohort(ctx, &domain.CohortRecord{ID: "c1", Name: "first"}))
	require.NoError(t, store.SaveCohort(ctx, &domain.CohortRecord{ID: "c1", Name: "second"}))

	got, err := store.GetCohort(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Name)

	summaries, err := store.ListCohorts(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
}

func TestLocalStoreGetMissing(t *testing.T) {
	store := newTestLocalStore(t)
	_, err := store.GetCohort(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLocalStorePublicLookupSeparate(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()

	// Locally saved cohorts are private; the public lookup must not see them.
	require.NoError(t, store.SaveCohort(ctx, &domain.CohortRecord{ID: "c1", Name: "private"}))
	_, err := store.GetPublicCohort(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLocalStoreDelete(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveCohort(ctx, &domain.CohortRecord{ID: "c1"}))
	require.NoError(t, store.DeleteCohort(ctx, "c1"))

	_, err := store.GetCohort(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, store.DeleteCohort(ctx, "c1"), domain.ErrNotFound)
}

func TestLocalStoreListNewestFirst(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveCohort(ctx, &domain.CohortRecord{ID: "c1", Name: "one"}))
	require.NoError(t, store.SaveCohort(ctx, &domain.CohortRecord{ID: "c2", Name: "two"}))

	summaries, err := store.ListCohorts(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	for _, s := range summaries {
		assert.False(t, s.IsPublic)
		assert.NotEmpty(t, s.Name)
	}
}
