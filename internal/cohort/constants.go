package cohort

import (
	"fmt"
	"sort"

	"github.com/phenex-cohort-server/internal/domain"
)

// SetConstant creates or replaces a named constant. New names are appended
// to the presentation order.
func (m *Model) SetConstant(name string, c *domain.Constant) error {
	m.mu.Lock()
	if m.cohort == nil {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	if m.cohort.Constants == nil {
		m.cohort.Constants = map[string]*domain.Constant{}
	}
	_, existed := m.cohort.Constants[name]
	m.cohort.Constants[name] = c
	if !existed {
		m.cohort.ConstantOrder = append(m.cohort.ConstantOrder, name)
	}
	cohortID := m.cohort.ID
	m.mu.Unlock()

	m.scheduleSave()
	m.notify(Event{Kind: EventMutated, CohortID: cohortID})
	return nil
}

// RenameConstant moves a constant to a new name, keeping its order slot.
func (m *Model) RenameConstant(oldName, newName string) error {
	m.mu.Lock()
	if m.cohort == nil {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	c, ok := m.cohort.Constants[oldName]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("renaming constant %q: %w", oldName, domain.ErrNotFound)
	}
	if _, taken := m.cohort.Constants[newName]; taken {
		m.mu.Unlock()
		return fmt.Errorf("renaming constant %q: name %q already in use", oldName, newName)
	}
	delete(m.cohort.Constants, oldName)
	m.cohort.Constants[newName] = c
	for i, name := range m.cohort.ConstantOrder {
		if name == oldName {
			m.cohort.ConstantOrder[i] = newName
		}
	}
	cohortID := m.cohort.ID
	m.mu.Unlock()

	m.scheduleSave()
	m.notify(Event{Kind: EventMutated, CohortID: cohortID})
	return nil
}

// DeleteConstant removes a constant and its order slot.
func (m *Model) DeleteConstant(name string) error {
	m.mu.Lock()
	if m.cohort == nil {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	if _, ok := m.cohort.Constants[name]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("deleting constant %q: %w", name, domain.ErrNotFound)
	}
	delete(m.cohort.Constants, name)
	order := m.cohort.ConstantOrder[:0]
	for _, n := range m.cohort.ConstantOrder {
		if n != name {
			order = append(order, n)
		}
	}
	m.cohort.ConstantOrder = order
	cohortID := m.cohort.ID
	m.mu.Unlock()

	m.scheduleSave()
	m.notify(Event{Kind: EventMutated, CohortID: cohortID})
	return nil
}

// ReorderConstants installs a new presentation order. Names not present in
// the cohort are dropped; constants missing from the new order are appended
// in name order so none silently disappear from the panel.
func (m *Model) ReorderConstants(names []string) error {
	m.mu.Lock()
	if m.cohort == nil {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	seen := make(map[string]bool, len(names))
	var order []string
	for _, n := range names {
		if _, ok := m.cohort.Constants[n]; ok && !seen[n] {
			order = append(order, n)
			seen[n] = true
		}
	}
	var missing []string
	for n := range m.cohort.Constants {
		if !seen[n] {
			missing = append(missing, n)
		}
	}
	sort.Strings(missing)
	m.cohort.ConstantOrder = append(order, missing...)
	cohortID := m.cohort.ID
	m.mu.Unlock()

	m.scheduleSave()
	m.notify(Event{Kind: EventMutated, CohortID: cohortID})
	return nil
}

// OrderedConstants returns (name, constant) pairs in presentation order.
func (m *Model) OrderedConstants() []NamedConstant {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cohort == nil {
		return nil
	}
	seen := make(map[string]bool, len(m.cohort.Constants))
	var out []NamedConstant
	for _, name := range m.cohort.ConstantOrder {
		if c, ok := m.cohort.Constants[name]; ok && !seen[name] {
			out = append(out, NamedConstant{Name: name, Constant: c})
			seen[name] = true
		}
	}
	var missing []string
	for name := range m.cohort.Constants {
		if !seen[name] {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	for _, name := range missing {
		out = append(out, NamedConstant{Name: name, Constant: m.cohort.Constants[name]})
	}
	return out
}

// NamedConstant pairs a constant with its name for ordered listings.
type NamedConstant struct {
	Name     string           `json:"name"`
	Constant *domain.Constant `json:"constant"`
}
