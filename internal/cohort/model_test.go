package cohort

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phenex-cohort-server/internal/domain"
)

// memStore is an in-memory Store for model tests.
type memStore struct {
	mu      sync.Mutex
	records map[string]*domain.CohortRecord
	public  map[string]*domain.CohortRecord
	saves   int
}

func newMemStore() *memStore {
	return &memStore{
		records: map[string]*domain.CohortRecord{},
		public:  map[string]*domain.CohortRecord{},
	}
}

func (s *memStore) GetCohort(_ context.Context, id string) (*domain.CohortRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[id]; ok {
		return r, nil
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) GetPublicCohort(_ context.Context, id string) (*domain.CohortRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.public[id]; ok {
		return r, nil
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) SaveCohort(_ context.Context, record *domain.CohortRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record
	s.saves++
	return nil
}

func (s *memStore) DeleteCohort(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func newTestModel(t *testing.T) (*Model, *memStore) {
	t.Helper()
	store := newMemStore()
	m := NewModel(store, logrus.New())
	m.SetSaveDelay(0) // synchronous saves in tests
	return m, store
}

func TestCreateNew(t *testing.T) {
	m, _ := newTestModel(t)
	c := m.CreateNew("heart failure")
	require.NotNil(t, c)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "heart failure", c.Name)
	assert.Empty(t, c.Phenotypes)
}

func TestLoadFallsBackToPublic(t *testing.T) {
	m, store := newTestModel(t)
	store.public["pub1"] = &domain.CohortRecord{
		ID:   "pub1",
		Name: "shared",
		Inclusions: []*domain.Phenotype{
			{ID: "i1", Class: domain.ClassCodelist, Name: "diabetes"},
		},
	}

	c, err := m.Load(context.Background(), "pub1")
	require.NoError(t, err)
	assert.Equal(t, "shared", c.Name)
	require.Len(t, c.Phenotypes, 1)
	// The partition tags the type on load.
	assert.Equal(t, domain.TypeInclusion, c.Phenotypes[0].Type)
}

func TestLoadUnknownCohort(t *testing.T) {
	m, _ := newTestModel(t)
	_, err := m.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAddPhenotypeEntryUniqueness(t *testing.T) {
	m, _ := newTestModel(t)
	m.CreateNew("test")

	_, err := m.AddPhenotype(domain.TypeEntry, "")
	require.NoError(t, err)

	_, err = m.AddPhenotype(domain.TypeEntry, "")
	assert.ErrorIs(t, err, domain.ErrEntryExists)
	assert.Len(t, m.Cohort().Phenotypes, 1)

	// Other types stay unrestricted.
	_, err = m.AddPhenotype(domain.TypeInclusion, "")
	require.NoError(t, err)
	_, err = m.AddPhenotype(domain.TypeInclusion, "")
	require.NoError(t, err)
}

func TestAddPhenotypeWithParentBecomesComponent(t *testing.T) {
	m, _ := newTestModel(t)
	m.CreateNew("test")
	parent, err := m.AddPhenotype(domain.TypeInclusion, "")
	require.NoError(t, err)

	child, err := m.AddPhenotype(domain.TypeInclusion, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TypeComponent, child.Type)
	assert.Equal(t, parent.ID, child.ParentID)
	assert.Equal(t, 1, child.Level)

	_, err = m.AddPhenotype(domain.TypeInclusion, "unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeletePhenotypeCascades(t *testing.T) {
	m, _ := newTestModel(t)
	m.CreateNew("test")
	parent, _ := m.AddPhenotype(domain.TypeInclusion, "")
	child, _ := m.AddPhenotype(domain.TypeInclusion, parent.ID)
	grandchild, _ := m.AddPhenotype(domain.TypeInclusion, child.ID)
	other, _ := m.AddPhenotype(domain.TypeExclusion, "")

	removed, err := m.DeletePhenotype(parent.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{parent.ID, child.ID, grandchild.ID}, removed)

	c := m.Cohort()
	require.Len(t, c.Phenotypes, 1)
	assert.Equal(t, other.ID, c.Phenotypes[0].ID)
}

func TestUpdateCell(t *testing.T) {
	m, store := newTestModel(t)
	m.CreateNew("test")
	p, _ := m.AddPhenotype(domain.TypeInclusion, "")
	savesBefore := store.saves

	require.NoError(t, m.UpdateCell(p.ID, "name", json.RawMessage(`"hypertension"`)))
	assert.Equal(t, "hypertension", m.Cohort().FindPhenotype(p.ID).Name)
	assert.Greater(t, store.saves, savesBefore, "cell edits persist")

	require.NoError(t, m.UpdateCell(p.ID, "class_name", json.RawMessage(`"MeasurementPhenotype"`)))
	assert.Equal(t, domain.ClassMeasurement, m.Cohort().FindPhenotype(p.ID).Class)

	err := m.UpdateCell(p.ID, "class_name", json.RawMessage(`"NotAClass"`))
	assert.ErrorIs(t, err, domain.ErrInvalidClass)

	err = m.UpdateCell(p.ID, "bogus_field", json.RawMessage(`1`))
	assert.Error(t, err)

	err = m.UpdateCell("missing", "name", json.RawMessage(`"x"`))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRowsHonorTypeFilter(t *testing.T) {
	m, _ := newTestModel(t)
	m.CreateNew("test")
	m.AddPhenotype(domain.TypeEntry, "")
	inc, _ := m.AddPhenotype(domain.TypeInclusion, "")
	m.AddPhenotype(domain.TypeInclusion, inc.ID)
	m.AddPhenotype(domain.TypeBaseline, "")

	// Default filter: entry/inclusion/exclusion, no components.
	rows := m.Rows()
	require.Len(t, rows, 2)

	m.FilterType([]domain.PhenotypeType{domain.TypeInclusion, domain.TypeComponent})
	rows = m.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, inc.ID, rows[0].ID)
	assert.Equal(t, domain.TypeComponent, rows[1].Type)
	assert.Equal(t, inc.ID, rows[1].ParentID)
}

func TestCanDrop(t *testing.T) {
	m, _ := newTestModel(t)
	m.CreateNew("test")
	i1, _ := m.AddPhenotype(domain.TypeInclusion, "")
	i2, _ := m.AddPhenotype(domain.TypeInclusion, "")
	x1, _ := m.AddPhenotype(domain.TypeExclusion, "")
	c1, _ := m.AddPhenotype(domain.TypeInclusion, i1.ID)
	c2, _ := m.AddPhenotype(domain.TypeInclusion, i1.ID)
	cOther, _ := m.AddPhenotype(domain.TypeInclusion, i2.ID)

	// Flat view: same-type non-components only.
	assert.True(t, m.CanDrop(i1.ID, i2.ID))
	assert.False(t, m.CanDrop(i1.ID, x1.ID))
	assert.False(t, m.CanDrop(i1.ID, i1.ID))

	m.FilterType([]domain.PhenotypeType{domain.TypeInclusion, domain.TypeComponent})

	// Components reorder among same-parent siblings only.
	assert.True(t, m.CanDrop(c1.ID, c2.ID))
	assert.False(t, m.CanDrop(c1.ID, cOther.ID))

	// A parent can never drop into its own subtree.
	assert.False(t, m.CanDrop(i1.ID, c1.ID))
	assert.True(t, m.CanDrop(i1.ID, i2.ID))
}

func TestReorderFlatThroughModel(t *testing.T) {
	m, _ := newTestModel(t)
	m.CreateNew("test")
	i1, _ := m.AddPhenotype(domain.TypeInclusion, "")
	i2, _ := m.AddPhenotype(domain.TypeInclusion, "")
	i3, _ := m.AddPhenotype(domain.TypeInclusion, "")

	require.NoError(t, m.Reorder([]string{i3.ID, i1.ID, i2.ID}))
	rows := m.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, []string{i3.ID, i1.ID, i2.ID}, []string{rows[0].ID, rows[1].ID, rows[2].ID})
}

func TestSaveRoundTrip(t *testing.T) {
	m, store := newTestModel(t)
	c := m.CreateNew("roundtrip")
	m.AddPhenotype(domain.TypeEntry, "")
	m.AddPhenotype(domain.TypeInclusion, "")

	require.NoError(t, m.Save(context.Background()))
	record := store.records[c.ID]
	require.NotNil(t, record)
	assert.NotNil(t, record.EntryCriterion)
	assert.Len(t, record.Inclusions, 1)

	// Loading the saved record reproduces the same phenotype set.
	m2 := NewModel(store, logrus.New())
	loaded, err := m2.Load(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Phenotypes, 2)
}

func TestConstants(t *testing.T) {
	m, _ := newTestModel(t)
	m.CreateNew("test")

	require.NoError(t, m.SetConstant("study_period", &domain.Constant{
		Type:  domain.ConstantDateRange,
		Value: json.RawMessage(`{"min_date":"2015-01-01","max_date":"2020-12-31"}`),
	}))
	require.NoError(t, m.SetConstant("washout", &domain.Constant{
		Type:  domain.ConstantScalar,
		Value: json.RawMessage(`365`),
	}))

	named := m.OrderedConstants()
	require.Len(t, named, 2)
	assert.Equal(t, "study_period", named[0].Name)

	require.NoError(t, m.ReorderConstants([]string{"washout", "study_period"}))
	named = m.OrderedConstants()
	assert.Equal(t, "washout", named[0].Name)

	require.NoError(t, m.RenameConstant("washout", "washout_days"))
	named = m.OrderedConstants()
	assert.Equal(t, "washout_days", named[0].Name)
	assert.ErrorIs(t, m.RenameConstant("missing", "x"), domain.ErrNotFound)

	require.NoError(t, m.DeleteConstant("washout_days"))
	named = m.OrderedConstants()
	require.Len(t, named, 1)
	assert.Equal(t, "study_period", named[0].Name)
}

func TestSubscribersSeeEvents(t *testing.T) {
	m, _ := newTestModel(t)
	var events []Event
	m.Subscribe(func(ev Event) { events = append(events, ev) })

	m.CreateNew("test")
	m.AddPhenotype(domain.TypeInclusion, "")

	require.NotEmpty(t, events)
	assert.Equal(t, EventLoaded, events[0].Kind)
	assert.Equal(t, EventMutated, events[len(events)-1].Kind)
}
