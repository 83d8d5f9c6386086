package cohort

import (
	"fmt"
	"sort"

	"github.com/phenex-cohort-server/internal/domain"
)

// SortPhenotypes stably partitions the flat list by the fixed type order
// (entry, inclusion, exclusion, baseline, outcome, component, NA) and
// assigns index = 1..n within each partition, keeping the current relative
// order inside every partition. This is the canonical ordering used whenever
// the full list is serialized back to the type-keyed backend record.
func SortPhenotypes(phenotypes []*domain.Phenotype) []*domain.Phenotype {
	sorted := append([]*domain.Phenotype(nil), phenotypes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return domain.TypeRank(sorted[i].Type) < domain.TypeRank(sorted[j].Type)
	})

	counters := make(map[domain.PhenotypeType]int)
	for _, p := range sorted {
		counters[p.Type]++
		p.Index = counters[p.Type]
	}
	return sorted
}

// SplitByType derives the backend record partitions from the flat list.
// Component and NA phenotypes are owned by the editor and never persisted as
// their own partitions.
func SplitByType(c *domain.Cohort) *domain.CohortRecord {
	record := &domain.CohortRecord{
		ID:             c.ID,
		Name:           c.Name,
		DatabaseConfig: c.DatabaseConfig,
		Constants:      c.Constants,
		ConstantOrder:  c.ConstantOrder,
		Waterfall:      c.Waterfall,
		IsProvisional:  c.IsProvisional,
	}
	for _, p := range c.Phenotypes {
		switch p.Type {
		case domain.TypeEntry:
			record.EntryCriterion = p
		case domain.TypeInclusion:
			record.Inclusions = append(record.Inclusions, p)
		case domain.TypeExclusion:
			record.Exclusions = append(record.Exclusions, p)
		case domain.TypeBaseline:
			record.Characteristic = append(record.Characteristic, p)
		case domain.TypeOutcome:
			record.Outcomes = append(record.Outcomes, p)
		}
	}
	return record
}

// Ancestors walks the single-parent back-reference from the phenotype up to
// its root, returning the chain in root-first order. Broken links terminate
// the walk; a cycle guard stops runaway chains in malformed data.
func Ancestors(phenotypes []*domain.Phenotype, id string) []*domain.Phenotype {
	index := make(map[string]*domain.Phenotype, len(phenotypes))
	for _, p := range phenotypes {
		index[p.ID] = p
	}

	var chain []*domain.Phenotype
	seen := map[string]bool{id: true}
	current := index[id]
	for current != nil && current.ParentID != "" {
		parent := index[current.ParentID]
		if parent == nil || seen[parent.ID] {
			break
		}
		seen[parent.ID] = true
		chain = append([]*domain.Phenotype{parent}, chain...)
		current = parent
	}
	return chain
}

// Descendants returns every phenotype whose ancestor chain includes id,
// depth-first, all levels flattened.
func Descendants(phenotypes []*domain.Phenotype, id string) []*domain.Phenotype {
	var out []*domain.Phenotype
	for _, p := range phenotypes {
		if p.ParentID == id {
			out = append(out, p)
			out = append(out, Descendants(phenotypes, p.ID)...)
		}
	}
	return out
}

// reorderFlat confines a drag reorder within each type partition: the
// visible rows supply the new order for their type, hidden rows of that type
// are appended after them, indices are renumbered 1..n per type, and the
// complete list is reassembled in fixed type order.
func reorderFlat(phenotypes []*domain.Phenotype, visibleIDs []string) []*domain.Phenotype {
	index := make(map[string]*domain.Phenotype, len(phenotypes))
	for _, p := range phenotypes {
		index[p.ID] = p
	}
	visible := make(map[string]bool, len(visibleIDs))
	for _, id := range visibleIDs {
		visible[id] = true
	}

	perType := make(map[domain.PhenotypeType][]*domain.Phenotype)
	for _, id := range visibleIDs {
		p := index[id]
		if p == nil {
			continue
		}
		perType[p.Type] = append(perType[p.Type], p)
	}
	// Hidden rows keep their current relative order after the visible ones.
	for _, p := range phenotypes {
		if !visible[p.ID] {
			perType[p.Type] = append(perType[p.Type], p)
		}
	}

	var out []*domain.Phenotype
	for _, t := range domain.TypeOrder() {
		for i, p := range perType[t] {
			p.Index = i + 1
			out = append(out, p)
		}
	}
	return out
}

// reorderHierarchical reorders non-component rows (and component siblings)
// while relocating each parent's component subtree immediately after it,
// recursively. Orphaned components are appended at the end.
func reorderHierarchical(phenotypes []*domain.Phenotype, visibleIDs []string) []*domain.Phenotype {
	index := make(map[string]*domain.Phenotype, len(phenotypes))
	for _, p := range phenotypes {
		index[p.ID] = p
	}

	// The dragged order determines sibling order for both non-components and
	// components; anything not visible keeps its current list position.
	rank := make(map[string]int, len(phenotypes))
	next := 0
	for _, id := range visibleIDs {
		if _, ok := index[id]; ok {
			rank[id] = next
			next++
		}
	}
	for _, p := range phenotypes {
		if _, ok := rank[p.ID]; !ok {
			rank[p.ID] = next
			next++
		}
	}

	var parents []*domain.Phenotype
	for _, p := range phenotypes {
		if !p.IsComponent() {
			parents = append(parents, p)
		}
	}
	sort.SliceStable(parents, func(i, j int) bool {
		ti, tj := domain.TypeRank(parents[i].Type), domain.TypeRank(parents[j].Type)
		if ti != tj {
			return ti < tj
		}
		return rank[parents[i].ID] < rank[parents[j].ID]
	})

	children := make(map[string][]*domain.Phenotype)
	for _, p := range phenotypes {
		if p.IsComponent() && p.ParentID != "" {
			children[p.ParentID] = append(children[p.ParentID], p)
		}
	}
	for _, siblings := range children {
		sort.SliceStable(siblings, func(i, j int) bool {
			return rank[siblings[i].ID] < rank[siblings[j].ID]
		})
	}

	placed := make(map[string]bool, len(phenotypes))
	var out []*domain.Phenotype
	var emit func(p *domain.Phenotype)
	emit = func(p *domain.Phenotype) {
		if placed[p.ID] {
			return
		}
		placed[p.ID] = true
		out = append(out, p)
		for _, child := range children[p.ID] {
			emit(child)
		}
	}
	for _, p := range parents {
		emit(p)
	}
	// Orphans: components whose parent chain never reached a placed row.
	for _, p := range phenotypes {
		if !placed[p.ID] {
			placed[p.ID] = true
			out = append(out, p)
		}
	}

	counters := make(map[domain.PhenotypeType]int)
	for _, p := range out {
		counters[p.Type]++
		p.Index = counters[p.Type]
	}
	return out
}

// annotateHierarchy recomputes Level, EffectiveType and HierarchicalIndex
// for component rows from the current parent links.
func annotateHierarchy(phenotypes []*domain.Phenotype) {
	childCounters := make(map[string]int)
	hindex := make(map[string]string)

	for _, p := range phenotypes {
		if !p.IsComponent() {
			p.Level = 0
			hindex[p.ID] = fmt.Sprintf("%d", p.Index)
			continue
		}
		chain := Ancestors(phenotypes, p.ID)
		p.Level = len(chain)
		if len(chain) > 0 {
			root := chain[0]
			p.EffectiveType = root.DisplayType()
			parent := chain[len(chain)-1]
			childCounters[parent.ID]++
			base := hindex[parent.ID]
			if base == "" {
				base = fmt.Sprintf("%d", parent.Index)
			}
			hindex[p.ID] = fmt.Sprintf("%s.%d", base, childCounters[parent.ID])
		}
		p.HierarchicalIndex = hindex[p.ID]
	}
}
