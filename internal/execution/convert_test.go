package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phenex-cohort-server/internal/domain"
)

func refLeaf(phenotypeID string) *domain.FilterNode {
	return &domain.FilterNode{
		Class:       domain.FilterLogicalExpression,
		Status:      domain.LeafFilled,
		PhenotypeID: phenotypeID,
	}
}

func codelistPheno(id string) *domain.Phenotype {
	return &domain.Phenotype{
		ID:    id,
		Type:  domain.TypeComponent,
		Class: domain.ClassCodelist,
		Name:  id,
	}
}

func logicCohort(expr *domain.FilterNode, components ...*domain.Phenotype) *domain.Cohort {
	logic := &domain.Phenotype{
		ID:                "logic1",
		Type:              domain.TypeInclusion,
		Class:             domain.ClassLogic,
		Name:              "combined criterion",
		LogicalExpression: expr,
	}
	return &domain.Cohort{
		ID:         "c1",
		Name:       "test",
		Phenotypes: append([]*domain.Phenotype{logic}, components...),
	}
}

func TestPrepareForExecutionEmbedsReferences(t *testing.T) {
	a := codelistPheno("a")
	a.ParentID = "logic1"
	a.Level = 1
	b := codelistPheno("b")
	b.ParentID = "logic1"
	b.Level = 1

	c := logicCohort(
		domain.NewLogicalNode(domain.FilterAnd, refLeaf("a"), refLeaf("b")),
		a, b,
	)

	out, err := PrepareForExecution(c)
	require.NoError(t, err)

	logic := out.FindPhenotype("logic1")
	require.NotNil(t, logic)
	assert.Nil(t, logic.LogicalExpression)
	require.NotNil(t, logic.Expression)

	g := logic.Expression
	assert.Equal(t, domain.GraphAnd, g.Operator)
	require.True(t, g.Left.IsLeaf())
	require.True(t, g.Right.IsLeaf())
	assert.Equal(t, "a", g.Left.Phenotype.ID)
	assert.Equal(t, "b", g.Right.Phenotype.ID)

	// Embedded copies are standalone: no UI fields, no partition type.
	assert.Empty(t, g.Left.Phenotype.ParentID)
	assert.Zero(t, g.Left.Phenotype.Level)
	assert.Empty(t, g.Left.Phenotype.Type)

	// The input cohort is untouched.
	assert.NotNil(t, c.FindPhenotype("logic1").LogicalExpression)
	assert.Equal(t, "logic1", c.FindPhenotype("a").ParentID)
}

func TestPrepareForExecutionElidesEmptyLeaves(t *testing.T) {
	a := codelistPheno("a")
	c := logicCohort(
		domain.NewLogicalNode(domain.FilterOr,
			refLeaf("a"),
			domain.NewEmptyLeaf(domain.FilterLogicalExpression)),
		a,
	)

	out, err := PrepareForExecution(c)
	require.NoError(t, err)

	// The single-sided OR collapses to its filled leaf.
	g := out.FindPhenotype("logic1").Expression
	require.True(t, g.IsLeaf())
	assert.Equal(t, "a", g.Phenotype.ID)
}

func TestPrepareForExecutionAllEmptyLowersToNil(t *testing.T) {
	c := logicCohort(domain.NewLogicalNode(domain.FilterAnd,
		domain.NewEmptyLeaf(domain.FilterLogicalExpression),
		domain.NewEmptyLeaf(domain.FilterLogicalExpression)))

	out, err := PrepareForExecution(c)
	require.NoError(t, err)
	assert.Nil(t, out.FindPhenotype("logic1").Expression)
}

func TestPrepareForExecutionUnresolvedReference(t *testing.T) {
	c := logicCohort(refLeaf("nowhere"))

	_, err := PrepareForExecution(c)
	assert.ErrorIs(t, err, domain.ErrUnresolvedReference)
}

func TestPrepareForExecutionUnknownLeafClass(t *testing.T) {
	c := logicCohort(&domain.FilterNode{
		Class:  domain.FilterCategorical,
		Status: domain.LeafFilled,
	})

	_, err := PrepareForExecution(c)
	assert.ErrorIs(t, err, domain.ErrUnknownNodeClass)
}

func TestPrepareForUITagsPartitions(t *testing.T) {
	record := &domain.CohortRecord{
		ID:             "c1",
		Name:           "test",
		EntryCriterion: &domain.Phenotype{ID: "e1", Class: domain.ClassCodelist},
		Inclusions:     []*domain.Phenotype{{ID: "i1", Class: domain.ClassCodelist}},
		Outcomes:       []*domain.Phenotype{{ID: "o1", Class: domain.ClassCodelist}},
	}

	c := PrepareForUI(record)
	require.Len(t, c.Phenotypes, 3)
	assert.Equal(t, domain.TypeEntry, c.FindPhenotype("e1").Type)
	assert.Equal(t, domain.TypeInclusion, c.FindPhenotype("i1").Type)
	assert.Equal(t, domain.TypeOutcome, c.FindPhenotype("o1").Type)
}

func TestPrepareForUIExtractsComponents(t *testing.T) {
	embedded := &domain.Phenotype{ID: "comp1", Class: domain.ClassCodelist, Name: "diabetes codes"}
	record := &domain.CohortRecord{
		ID:   "c1",
		Name: "test",
		Inclusions: []*domain.Phenotype{{
			ID:         "logic1",
			Class:      domain.ClassLogic,
			Expression: domain.NewGraphLeaf(embedded),
		}},
	}

	c := PrepareForUI(record)

	logic := c.FindPhenotype("logic1")
	require.NotNil(t, logic)
	assert.Nil(t, logic.Expression)
	require.NotNil(t, logic.LogicalExpression)
	assert.Equal(t, "comp1", logic.LogicalExpression.PhenotypeID)

	comp := c.FindPhenotype("comp1")
	require.NotNil(t, comp)
	assert.Equal(t, domain.TypeComponent, comp.Type)
	assert.Equal(t, "logic1", comp.ParentID)
	assert.Equal(t, domain.TypeInclusion, comp.EffectiveType)
	assert.True(t, comp.ColorCellBackground)
}

func TestPrepareForUIExtractsNestedComponents(t *testing.T) {
	// The embedded phenotype is itself a logic phenotype carrying a graph.
	inner := &domain.Phenotype{ID: "inner", Class: domain.ClassCodelist}
	mid := &domain.Phenotype{
		ID:         "mid",
		Class:      domain.ClassLogic,
		Expression: domain.NewGraphLeaf(inner),
	}
	record := &domain.CohortRecord{
		ID: "c1",
		Inclusions: []*domain.Phenotype{{
			ID:         "logic1",
			Class:      domain.ClassLogic,
			Expression: domain.NewGraphLeaf(mid),
		}},
	}

	c := PrepareForUI(record)

	midRow := c.FindPhenotype("mid")
	require.NotNil(t, midRow)
	assert.Equal(t, "logic1", midRow.ParentID)
	assert.Nil(t, midRow.Expression)
	require.NotNil(t, midRow.LogicalExpression)
	assert.Equal(t, "inner", midRow.LogicalExpression.PhenotypeID)

	innerRow := c.FindPhenotype("inner")
	require.NotNil(t, innerRow)
	assert.Equal(t, "mid", innerRow.ParentID)
}

func TestPrepareForUIKnownReferencesNotDuplicated(t *testing.T) {
	// The embedded phenotype already exists as a row; the leaf becomes a
	// reference without extracting a second copy.
	record := &domain.CohortRecord{
		ID: "c1",
		Inclusions: []*domain.Phenotype{
			{ID: "known", Class: domain.ClassCodelist},
			{
				ID:         "logic1",
				Class:      domain.ClassLogic,
				Expression: domain.NewGraphLeaf(&domain.Phenotype{ID: "known", Class: domain.ClassCodelist}),
			},
		},
	}

	c := PrepareForUI(record)
	require.Len(t, c.Phenotypes, 2)
	assert.Equal(t, "known", c.FindPhenotype("logic1").LogicalExpression.PhenotypeID)
}

func TestPrepareForUIAnonymousLeafDegrades(t *testing.T) {
	record := &domain.CohortRecord{
		ID: "c1",
		Inclusions: []*domain.Phenotype{{
			ID:    "logic1",
			Class: domain.ClassLogic,
			Expression: domain.NewGraphOperator(domain.GraphOr,
				domain.NewGraphLeaf(&domain.Phenotype{ID: "a", Class: domain.ClassCodelist}),
				domain.NewGraphLeaf(&domain.Phenotype{Class: domain.ClassCodelist})),
		}},
	}

	c := PrepareForUI(record)

	expr := c.FindPhenotype("logic1").LogicalExpression
	require.NotNil(t, expr)
	assert.Equal(t, domain.FilterOr, expr.Class)
	assert.Equal(t, "a", expr.Filter1.PhenotypeID)
	// The anonymous leaf becomes an empty, editable slot.
	assert.Equal(t, domain.LeafEmpty, expr.Filter2.Status)
	assert.Empty(t, expr.Filter2.PhenotypeID)
}

func TestRoundTripPreservesOperatorShape(t *testing.T) {
	a := codelistPheno("a")
	b := codelistPheno("b")
	d := codelistPheno("d")

	c := logicCohort(
		domain.NewLogicalNode(domain.FilterAnd,
			refLeaf("a"),
			domain.NewLogicalNode(domain.FilterOr, refLeaf("b"), refLeaf("d"))),
		a, b, d,
	)

	prepared, err := PrepareForExecution(c)
	require.NoError(t, err)
	record := &domain.CohortRecord{
		ID:         prepared.ID,
		Inclusions: []*domain.Phenotype{prepared.FindPhenotype("logic1")},
	}

	back := PrepareForUI(record)
	expr := back.FindPhenotype("logic1").LogicalExpression
	require.NotNil(t, expr)
	assert.Equal(t, domain.FilterAnd, expr.Class)
	assert.Equal(t, "a", expr.Filter1.PhenotypeID)
	assert.Equal(t, domain.FilterOr, expr.Filter2.Class)
	assert.Equal(t, "b", expr.Filter2.Filter1.PhenotypeID)
	assert.Equal(t, "d", expr.Filter2.Filter2.PhenotypeID)
}
