// Package cohort implements the in-memory cohort data model: the single
// source of truth for a cohort's phenotype list, constants and database
// configuration, plus the derived grid projection every view reads.
package cohort

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/phenex-cohort-server/internal/domain"
	"github.com/phenex-cohort-server/internal/logictree"
)

// Store abstracts cohort persistence in the backend's type-partitioned
// record shape. The Phenex API client and the local repositories both
// implement it.
type Store interface {
	GetCohort(ctx context.Context, id string) (*domain.CohortRecord, error)
	GetPublicCohort(ctx context.Context, id string) (*domain.CohortRecord, error)
	SaveCohort(ctx context.Context, record *domain.CohortRecord) error
	DeleteCohort(ctx context.Context, id string) error
}

// EventKind tags model change notifications.
type EventKind string

const (
	EventLoaded    EventKind = "loaded"
	EventMutated   EventKind = "mutated"
	EventDeleted   EventKind = "deleted"
	EventReordered EventKind = "reordered"
)

// Event describes a model change for subscribed views.
type Event struct {
	Kind       EventKind `json:"kind"`
	CohortID   string    `json:"cohort_id"`
	RemovedIDs []string  `json:"removed_ids,omitempty"`
}

// Listener receives change events. Listeners are invoked synchronously on
// the mutating call and must not mutate the model reentrantly.
type Listener func(Event)

// Model owns one cohort. All mutations run to completion under the model
// lock before listeners observe them.
type Model struct {
	mu        sync.Mutex
	log       *logrus.Logger
	store     Store
	cohort    *domain.Cohort
	filter    []domain.PhenotypeType
	rows      []*domain.Phenotype
	listeners []Listener

	saveDelay time.Duration
	saveTimer *time.Timer
}

// DefaultSaveDelay debounces cell edits into a single save call per edit
// burst rather than one per keystroke.
const DefaultSaveDelay = 750 * time.Millisecond

// NewModel creates a cohort model bound to a store.
func NewModel(store Store, log *logrus.Logger) *Model {
	return &Model{
		log:       log,
		store:     store,
		filter:    []domain.PhenotypeType{domain.TypeEntry, domain.TypeInclusion, domain.TypeExclusion},
		saveDelay: DefaultSaveDelay,
	}
}

// SetSaveDelay overrides the save debounce window. Zero saves synchronously.
func (m *Model) SetSaveDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveDelay = d
}

// Subscribe registers a change listener.
func (m *Model) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Cohort returns the current cohort. Views read projections and call back
// into the model for mutation; they never write through this pointer.
func (m *Model) Cohort() *domain.Cohort {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cohort
}

// Rows returns the current grid projection.
func (m *Model) Rows() []*domain.Phenotype {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Phenotype(nil), m.rows...)
}

// CreateNew initializes an empty cohort with a fresh id.
func (m *Model) CreateNew(name string) *domain.Cohort {
	m.mu.Lock()
	c := &domain.Cohort{
		ID:         uuid.New().String(),
		Name:       name,
		Phenotypes: []*domain.Phenotype{},
		Constants:  map[string]*domain.Constant{},
		CreatedAt:  time.Now().UTC(),
	}
	m.cohort = c
	m.rebuildLocked()
	m.mu.Unlock()

	m.notify(Event{Kind: EventLoaded, CohortID: c.ID})
	return c
}

// Load fetches a cohort by id, trying the owned lookup first and falling
// back to the public one, then normalizes and projects it.
func (m *Model) Load(ctx context.Context, id string) (*domain.Cohort, error) {
	record, err := m.store.GetCohort(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("loading cohort %s: %w", id, err)
		}
		record, err = m.store.GetPublicCohort(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading public cohort %s: %w", id, err)
		}
	}

	cohort := FromRecord(record)
	if cohort.ID == "" {
		cohort.ID = uuid.New().String()
	}
	if cohort.Phenotypes == nil {
		cohort.Phenotypes = []*domain.Phenotype{}
	}
	normalizeTrees(cohort)

	m.mu.Lock()
	m.cohort = cohort
	m.cohort.Phenotypes = SortPhenotypes(m.cohort.Phenotypes)
	m.rebuildLocked()
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"cohort_id":  cohort.ID,
		"phenotypes": len(cohort.Phenotypes),
	}).Info("Cohort loaded")
	m.notify(Event{Kind: EventLoaded, CohortID: cohort.ID})
	return cohort, nil
}

// Replace swaps in a cohort produced elsewhere (execution results, accepted
// chat suggestions) and reprojects it.
func (m *Model) Replace(cohort *domain.Cohort) {
	normalizeTrees(cohort)
	m.mu.Lock()
	m.cohort = cohort
	m.cohort.Phenotypes = SortPhenotypes(m.cohort.Phenotypes)
	m.rebuildLocked()
	m.mu.Unlock()
	m.notify(Event{Kind: EventMutated, CohortID: cohort.ID})
}

// Save persists the cohort immediately in the type-partitioned record shape.
func (m *Model) Save(ctx context.Context) error {
	m.mu.Lock()
	if m.cohort == nil {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	m.cohort.Phenotypes = SortPhenotypes(m.cohort.Phenotypes)
	m.cohort.UpdatedAt = time.Now().UTC()
	record := SplitByType(m.cohort)
	m.mu.Unlock()

	if err := m.store.SaveCohort(ctx, record); err != nil {
		return fmt.Errorf("saving cohort %s: %w", record.ID, err)
	}
	return nil
}

// Delete removes the cohort from the store and clears in-memory state.
func (m *Model) Delete(ctx context.Context) error {
	m.mu.Lock()
	if m.cohort == nil {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	id := m.cohort.ID
	m.mu.Unlock()

	if err := m.store.DeleteCohort(ctx, id); err != nil {
		return fmt.Errorf("deleting cohort %s: %w", id, err)
	}

	m.mu.Lock()
	m.cohort = nil
	m.rows = nil
	m.mu.Unlock()

	m.notify(Event{Kind: EventDeleted, CohortID: id})
	return nil
}

// AddPhenotype appends a new phenotype of the given type. Adding a second
// entry phenotype is rejected and leaves the list unchanged. A non-empty
// parentID creates a component row parented under an existing phenotype.
func (m *Model) AddPhenotype(ptype domain.PhenotypeType, parentID string) (*domain.Phenotype, error) {
	m.mu.Lock()
	if m.cohort == nil {
		m.mu.Unlock()
		return nil, domain.ErrNotFound
	}

	if ptype == domain.TypeEntry {
		for _, p := range m.cohort.Phenotypes {
			if p.Type == domain.TypeEntry {
				m.mu.Unlock()
				return nil, domain.ErrEntryExists
			}
		}
	}

	p := &domain.Phenotype{
		ID:        uuid.New().String(),
		Type:      ptype,
		Class:     domain.ClassCodelist,
		Name:      fmt.Sprintf("New %s phenotype", ptype),
		CreatedAt: time.Now().UTC(),
	}
	if parentID != "" {
		if m.cohort.FindPhenotype(parentID) == nil {
			m.mu.Unlock()
			return nil, fmt.Errorf("adding phenotype: parent %s: %w", parentID, domain.ErrNotFound)
		}
		p.Type = domain.TypeComponent
		p.ParentID = parentID
		p.Level = len(Ancestors(m.cohort.Phenotypes, parentID)) + 1
	}

	m.cohort.Phenotypes = SortPhenotypes(append(m.cohort.Phenotypes, p))
	m.rebuildLocked()
	cohortID := m.cohort.ID
	m.mu.Unlock()

	m.scheduleSave()
	m.notify(Event{Kind: EventMutated, CohortID: cohortID})
	return p, nil
}

// DeletePhenotype removes a phenotype together with all of its transitive
// descendants and any component rows orphaned by the removal. It returns
// the removed ids so the grid can reconcile without a full reload.
func (m *Model) DeletePhenotype(id string) ([]string, error) {
	m.mu.Lock()
	if m.cohort == nil {
		m.mu.Unlock()
		return nil, domain.ErrNotFound
	}
	if m.cohort.FindPhenotype(id) == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("deleting phenotype %s: %w", id, domain.ErrNotFound)
	}

	removed := map[string]bool{id: true}
	for _, d := range Descendants(m.cohort.Phenotypes, id) {
		removed[d.ID] = true
	}

	// Components whose parent is gone are orphans; removing them can orphan
	// further components, so iterate to a fixed point.
	for {
		grew := false
		for _, p := range m.cohort.Phenotypes {
			if removed[p.ID] || !p.IsComponent() {
				continue
			}
			if p.ParentID != "" && removed[p.ParentID] {
				removed[p.ID] = true
				grew = true
			}
		}
		if !grew {
			break
		}
	}

	var kept []*domain.Phenotype
	var removedIDs []string
	for _, p := range m.cohort.Phenotypes {
		if removed[p.ID] {
			removedIDs = append(removedIDs, p.ID)
		} else {
			kept = append(kept, p)
		}
	}
	m.cohort.Phenotypes = SortPhenotypes(kept)
	m.rebuildLocked()
	cohortID := m.cohort.ID
	m.mu.Unlock()

	m.scheduleSave()
	m.notify(Event{Kind: EventMutated, CohortID: cohortID, RemovedIDs: removedIDs})
	return removedIDs, nil
}

// UpdateCell locates the phenotype by row id and assigns the edited field.
// Persistence is debounced to a single save call per edit.
func (m *Model) UpdateCell(id, field string, value json.RawMessage) error {
	m.mu.Lock()
	if m.cohort == nil {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	p := m.cohort.FindPhenotype(id)
	if p == nil {
		m.mu.Unlock()
		return fmt.Errorf("updating phenotype %s: %w", id, domain.ErrNotFound)
	}

	if err := applyCellEdit(p, field, value); err != nil {
		m.mu.Unlock()
		return err
	}
	p.UpdatedAt = time.Now().UTC()
	m.cohort.Phenotypes = SortPhenotypes(m.cohort.Phenotypes)
	m.rebuildLocked()
	cohortID := m.cohort.ID
	m.mu.Unlock()

	m.scheduleSave()
	m.notify(Event{Kind: EventMutated, CohortID: cohortID})
	return nil
}

// applyCellEdit dispatches a named grid column onto the phenotype field.
func applyCellEdit(p *domain.Phenotype, field string, value json.RawMessage) error {
	decode := func(v any) error {
		if err := json.Unmarshal(value, v); err != nil {
			return fmt.Errorf("updating %s.%s: %w", p.ID, field, err)
		}
		return nil
	}

	switch field {
	case "name":
		return decode(&p.Name)
	case "description":
		return decode(&p.Description)
	case "type":
		var t domain.PhenotypeType
		if err := decode(&t); err != nil {
			return err
		}
		if !t.IsValid() {
			return fmt.Errorf("updating %s.type: %w: %q", p.ID, domain.ErrInvalidType, t)
		}
		p.Type = t
		return nil
	case "class_name":
		var c domain.PhenotypeClass
		if err := decode(&c); err != nil {
			return err
		}
		if !c.IsValid() {
			return fmt.Errorf("updating %s.class_name: %w: %q", p.ID, domain.ErrInvalidClass, c)
		}
		p.Class = c
		return nil
	case "domain":
		return decode(&p.Domain)
	case "units":
		return decode(&p.Units)
	case "codelist":
		return decode(&p.Codelist)
	case "value_filter":
		return decode(&p.ValueFilter)
	case "categorical_filter":
		return decode(&p.CategoricalFilter)
	case "relative_time_range":
		return decode(&p.RelativeTimeRange)
	case "date_range":
		return decode(&p.DateRange)
	case "logical_expression":
		return decode(&p.LogicalExpression)
	case "score_formula":
		return decode(&p.ScoreFormula)
	case "arithmetic_formula":
		return decode(&p.ArithmeticFormula)
	case "user_function":
		return decode(&p.UserFunction)
	default:
		return fmt.Errorf("updating %s: unknown field %q", p.ID, field)
	}
}

// FilterType sets the active type filter and regenerates the grid
// projection. Including the component type switches the projection to
// hierarchical ordering.
func (m *Model) FilterType(types []domain.PhenotypeType) {
	m.mu.Lock()
	m.filter = append([]domain.PhenotypeType(nil), types...)
	m.rebuildLocked()
	var cohortID string
	if m.cohort != nil {
		cohortID = m.cohort.ID
	}
	m.mu.Unlock()
	m.notify(Event{Kind: EventReordered, CohortID: cohortID})
}

// Filter returns the active type filter.
func (m *Model) Filter() []domain.PhenotypeType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PhenotypeType(nil), m.filter...)
}

// hierarchicalLocked reports whether components are part of the active view.
func (m *Model) hierarchicalLocked() bool {
	for _, t := range m.filter {
		if t == domain.TypeComponent {
			return true
		}
	}
	return false
}

// Reorder applies a drag-and-drop result: visibleIDs is the new row order of
// the current projection. Flat mode confines moves to type partitions;
// hierarchical mode moves component subtrees in lockstep with their parents.
func (m *Model) Reorder(visibleIDs []string) error {
	m.mu.Lock()
	if m.cohort == nil {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	if m.hierarchicalLocked() {
		m.cohort.Phenotypes = reorderHierarchical(m.cohort.Phenotypes, visibleIDs)
	} else {
		m.cohort.Phenotypes = reorderFlat(m.cohort.Phenotypes, visibleIDs)
	}
	m.rebuildLocked()
	cohortID := m.cohort.ID
	m.mu.Unlock()

	m.scheduleSave()
	m.notify(Event{Kind: EventReordered, CohortID: cohortID})
	return nil
}

// CanDrop reports whether dragging dragID onto the position of targetID is a
// legal move in the current view. A phenotype is never droppable into its
// own component subtree.
func (m *Model) CanDrop(dragID, targetID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cohort == nil || dragID == targetID {
		return false
	}
	drag := m.cohort.FindPhenotype(dragID)
	target := m.cohort.FindPhenotype(targetID)
	if drag == nil || target == nil {
		return false
	}

	if !m.hierarchicalLocked() {
		return !drag.IsComponent() && !target.IsComponent() && drag.Type == target.Type
	}

	// No cycle-introducing moves: the target must not live in the drag's
	// own subtree.
	for _, d := range Descendants(m.cohort.Phenotypes, dragID) {
		if d.ID == targetID {
			return false
		}
	}
	if drag.IsComponent() {
		// Components reorder only among siblings.
		return target.IsComponent() && target.ParentID == drag.ParentID
	}
	if target.IsComponent() {
		return false
	}
	return drag.Type == target.Type
}

// rebuildLocked regenerates the grid projection for the active filter.
func (m *Model) rebuildLocked() {
	m.rows = nil
	if m.cohort == nil {
		return
	}
	annotateHierarchy(m.cohort.Phenotypes)

	include := make(map[domain.PhenotypeType]bool, len(m.filter))
	for _, t := range m.filter {
		include[t] = true
	}

	if !m.hierarchicalLocked() {
		for _, p := range m.cohort.Phenotypes {
			if include[p.Type] {
				m.rows = append(m.rows, p)
			}
		}
		return
	}

	// Hierarchical: each visible parent is immediately followed by its full
	// component subtree, depth-first.
	var emit func(p *domain.Phenotype)
	emit = func(p *domain.Phenotype) {
		m.rows = append(m.rows, p)
		for _, child := range m.cohort.Phenotypes {
			if child.IsComponent() && child.ParentID == p.ID {
				emit(child)
			}
		}
	}
	for _, p := range m.cohort.Phenotypes {
		if !p.IsComponent() && include[p.Type] {
			emit(p)
		}
	}
}

// scheduleSave debounces persistence. The timer goroutine saves with a
// background context since the originating request is long gone by then.
func (m *Model) scheduleSave() {
	m.mu.Lock()
	delay := m.saveDelay
	if m.saveTimer != nil {
		m.saveTimer.Stop()
		m.saveTimer = nil
	}
	m.mu.Unlock()

	save := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.Save(ctx); err != nil {
			m.log.WithError(err).Error("Debounced cohort save failed")
		}
	}

	if delay == 0 {
		save()
		return
	}
	m.mu.Lock()
	m.saveTimer = time.AfterFunc(delay, save)
	m.mu.Unlock()
}

func (m *Model) notify(ev Event) {
	m.mu.Lock()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()
	for _, l := range listeners {
		l(ev)
	}
}

// FromRecord flattens the backend's type-partitioned record into the
// editor's flat phenotype list, tagging every phenotype with the partition
// it came from.
func FromRecord(record *domain.CohortRecord) *domain.Cohort {
	c := &domain.Cohort{
		ID:             record.ID,
		Name:           record.Name,
		DatabaseConfig: record.DatabaseConfig,
		Constants:      record.Constants,
		ConstantOrder:  record.ConstantOrder,
		Waterfall:      record.Waterfall,
		IsProvisional:  record.IsProvisional,
	}
	appendTyped := func(ps []*domain.Phenotype, t domain.PhenotypeType) {
		for _, p := range ps {
			p.Type = t
			c.Phenotypes = append(c.Phenotypes, p)
		}
	}
	if record.EntryCriterion != nil {
		appendTyped([]*domain.Phenotype{record.EntryCriterion}, domain.TypeEntry)
	}
	appendTyped(record.Inclusions, domain.TypeInclusion)
	appendTyped(record.Exclusions, domain.TypeExclusion)
	appendTyped(record.Characteristic, domain.TypeBaseline)
	appendTyped(record.Outcomes, domain.TypeOutcome)
	return c
}

// normalizeTrees repairs persisted filter trees so every logical node has
// two present children. Malformed data is tolerated, not rejected.
func normalizeTrees(c *domain.Cohort) {
	for _, p := range c.Phenotypes {
		if p.LogicalExpression != nil {
			editor := logictree.NewEditor(domain.FilterShape(domain.FilterLogicalExpression))
			p.LogicalExpression = editor.EnsureComplete(p.LogicalExpression)
		}
		if p.CategoricalFilter != nil {
			editor := logictree.NewEditor(domain.FilterShape(domain.FilterCategorical))
			p.CategoricalFilter = editor.EnsureComplete(p.CategoricalFilter)
		}
		if p.ValueFilter != nil {
			editor := logictree.NewEditor(domain.FilterShape(domain.FilterValue))
			p.ValueFilter = editor.EnsureComplete(p.ValueFilter)
		}
	}
}
