// Package execution converts cohorts between the editor's UI shape and the
// backend's execution shape, and streams study executions.
//
// The two directions have deliberately asymmetric error behavior: converting
// UI to backend fails hard on an unresolved phenotype reference, because a
// malformed expression must never reach the execution engine, while
// converting backend to UI degrades a missing reference to an empty leaf so
// a user can always open and repair what the backend returned.
package execution

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/phenex-cohort-server/internal/domain"
)

// PrepareForExecution deep-copies the cohort and rewrites every logic
// phenotype's UI filter tree into a backend computation graph with embedded,
// UI-stripped phenotype copies. The input cohort is never mutated.
func PrepareForExecution(c *domain.Cohort) (*domain.Cohort, error) {
	out := c.Clone()
	index := out.PhenotypeIndex()

	for _, p := range out.Phenotypes {
		if p.LogicalExpression == nil {
			continue
		}
		graph, err := toGraph(p.LogicalExpression, index)
		if err != nil {
			return nil, fmt.Errorf("converting %q (%s): %w", p.Name, p.ID, err)
		}
		p.Expression = graph
		p.LogicalExpression = nil
	}

	for _, p := range out.Phenotypes {
		p.StripUI()
	}
	return out, nil
}

// toGraph lowers a UI filter tree to a computation graph. Empty leaves are
// elided the same way rendering elides them; a tree of nothing but empty
// leaves lowers to nil.
func toGraph(node *domain.FilterNode, index map[string]*domain.Phenotype) (*domain.GraphNode, error) {
	if node == nil || node.IsEmpty() {
		return nil, nil
	}

	if node.IsLogical() {
		left, err := toGraph(node.Filter1, index)
		if err != nil {
			return nil, err
		}
		right, err := toGraph(node.Filter2, index)
		if err != nil {
			return nil, err
		}
		switch {
		case left == nil && right == nil:
			return nil, nil
		case left == nil:
			return right, nil
		case right == nil:
			return left, nil
		}
		op := domain.GraphAnd
		if node.Class == domain.FilterOr {
			op = domain.GraphOr
		}
		return domain.NewGraphOperator(op, left, right), nil
	}

	switch node.Class {
	case domain.FilterLogicalExpression:
		target, ok := index[node.PhenotypeID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnresolvedReference, node.PhenotypeID)
		}
		embedded := target.Clone()
		embedded.StripUI()
		embedded.Type = ""
		return domain.NewGraphLeaf(embedded), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownNodeClass, node.Class)
	}
}

// PrepareForUI converts a backend cohort record into the editor shape:
// phenotypes are tagged with their partition type, computation graphs are
// lifted back into UI filter trees, and the phenotypes embedded in them are
// extracted as component rows parented under the owning logic phenotype.
func PrepareForUI(record *domain.CohortRecord) *domain.Cohort {
	c := recordToFlat(record)

	index := c.PhenotypeIndex()
	var components []*domain.Phenotype
	for _, p := range c.Phenotypes {
		if p.Expression == nil {
			continue
		}
		p.LogicalExpression = fromGraph(p.Expression, p, index, &components)
		p.Expression = nil
	}
	c.Phenotypes = append(c.Phenotypes, components...)
	return c
}

// recordToFlat tags each partition's phenotypes with their type and flattens.
func recordToFlat(record *domain.CohortRecord) *domain.Cohort {
	c := &domain.Cohort{
		ID:             record.ID,
		Name:           record.Name,
		DatabaseConfig: record.DatabaseConfig,
		Constants:      record.Constants,
		ConstantOrder:  record.ConstantOrder,
		Waterfall:      record.Waterfall,
		IsProvisional:  record.IsProvisional,
		Phenotypes:     []*domain.Phenotype{},
	}
	tag := func(ps []*domain.Phenotype, t domain.PhenotypeType) {
		for _, p := range ps {
			p.Type = t
			c.Phenotypes = append(c.Phenotypes, p)
		}
	}
	if record.EntryCriterion != nil {
		tag([]*domain.Phenotype{record.EntryCriterion}, domain.TypeEntry)
	}
	tag(record.Inclusions, domain.TypeInclusion)
	tag(record.Exclusions, domain.TypeExclusion)
	tag(record.Characteristic, domain.TypeBaseline)
	tag(record.Outcomes, domain.TypeOutcome)
	return c
}

// fromGraph lifts a computation graph into a UI filter tree owned by parent.
// Embedded phenotypes already known by id become reference leaves; unknown
// ones are extracted as component rows (recursively, since an embedded logic
// phenotype carries its own graph) before being referenced. Leaves whose
// embedded phenotype has no id degrade to empty leaves.
func fromGraph(g *domain.GraphNode, parent *domain.Phenotype, index map[string]*domain.Phenotype, components *[]*domain.Phenotype) *domain.FilterNode {
	if g == nil {
		return domain.NewEmptyLeaf(domain.FilterLogicalExpression)
	}

	if !g.IsLeaf() {
		class := domain.FilterAnd
		if g.Operator == domain.GraphOr {
			class = domain.FilterOr
		}
		return domain.NewLogicalNode(class,
			fromGraph(g.Left, parent, index, components),
			fromGraph(g.Right, parent, index, components))
	}

	embedded := g.Phenotype
	if embedded.ID == "" {
		// The backend sent an anonymous embedded phenotype. There is nothing
		// to reference, so the slot becomes an edit target.
		return domain.NewEmptyLeaf(domain.FilterLogicalExpression)
	}

	if _, known := index[embedded.ID]; !known {
		component := embedded.Clone()
		component.Type = domain.TypeComponent
		component.ParentID = parent.ID
		component.EffectiveType = parent.DisplayType()
		component.ColorCellBackground = true
		if component.ID == "" {
			component.ID = uuid.New().String()
		}
		index[component.ID] = component
		*components = append(*components, component)

		if component.Expression != nil {
			component.LogicalExpression = fromGraph(component.Expression, component, index, components)
			component.Expression = nil
		}
	}

	return &domain.FilterNode{
		Class:       domain.FilterLogicalExpression,
		Status:      domain.LeafFilled,
		PhenotypeID: embedded.ID,
	}
}
