// Package domain contains the core entities of cohort definitions used in
// clinical and epidemiological studies: phenotypes (typed criteria rows),
// their filter trees, the backend-facing computation graph, and the cohort
// aggregate that owns them.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// PhenotypeType partitions the rows of a cohort. The order of the constants
// below is the canonical display and serialization order.
type PhenotypeType string

const (
	TypeEntry     PhenotypeType = "entry"
	TypeInclusion PhenotypeType = "inclusion"
	TypeExclusion PhenotypeType = "exclusion"
	TypeBaseline  PhenotypeType = "baseline"
	TypeOutcome   PhenotypeType = "outcome"
	TypeComponent PhenotypeType = "component"
	TypeNA        PhenotypeType = "NA"
)

// TypeOrder is the canonical partition order used whenever the flat
// phenotype list is sorted or serialized back to the type-keyed record.
func TypeOrder() []PhenotypeType {
	return []PhenotypeType{
		TypeEntry, TypeInclusion, TypeExclusion,
		TypeBaseline, TypeOutcome, TypeComponent, TypeNA,
	}
}

// TypeRank returns the sort rank of a phenotype type. Unknown types sort
// after every known one.
func TypeRank(t PhenotypeType) int {
	for i, known := range TypeOrder() {
		if t == known {
			return i
		}
	}
	return len(TypeOrder())
}

// IsValid validates the phenotype type.
func (t PhenotypeType) IsValid() bool {
	return TypeRank(t) < len(TypeOrder())
}

// PhenotypeClass discriminates the phenotype variants. The class selects
// which of the variant-specific fields of Phenotype are meaningful.
type PhenotypeClass string

const (
	ClassCodelist            PhenotypeClass = "CodelistPhenotype"
	ClassMeasurement         PhenotypeClass = "MeasurementPhenotype"
	ClassAge                 PhenotypeClass = "AgePhenotype"
	ClassDeath               PhenotypeClass = "DeathPhenotype"
	ClassCategorical         PhenotypeClass = "CategoricalPhenotype"
	ClassTimeRange           PhenotypeClass = "TimeRangePhenotype"
	ClassContinuousCoverage  PhenotypeClass = "ContinuousCoveragePhenotype"
	ClassLogic               PhenotypeClass = "LogicPhenotype"
	ClassScore               PhenotypeClass = "ScorePhenotype"
	ClassArithmetic          PhenotypeClass = "ArithmeticPhenotype"
	ClassUserDefined         PhenotypeClass = "UserDefinedPhenotype"
	ClassWithinSameEncounter PhenotypeClass = "WithinSameEncounterPhenotype"
)

// IsValid validates the phenotype class against the closed variant set.
func (c PhenotypeClass) IsValid() bool {
	switch c {
	case ClassCodelist, ClassMeasurement, ClassAge, ClassDeath,
		ClassCategorical, ClassTimeRange, ClassContinuousCoverage,
		ClassLogic, ClassScore, ClassArithmetic, ClassUserDefined,
		ClassWithinSameEncounter:
		return true
	default:
		return false
	}
}

// Codelist is a named set of medical codes grouped by coding system.
type Codelist struct {
	Name     string              `json:"name,omitempty"`
	Codes    map[string][]string `json:"codelist,omitempty"`
	FileID   string              `json:"file_id,omitempty"`
	UseIndex bool                `json:"use_code_type,omitempty"`
}

// Clone returns a deep copy of the codelist.
func (c *Codelist) Clone() *Codelist {
	if c == nil {
		return nil
	}
	out := &Codelist{Name: c.Name, FileID: c.FileID, UseIndex: c.UseIndex}
	if c.Codes != nil {
		out.Codes = make(map[string][]string, len(c.Codes))
		for system, codes := range c.Codes {
			out.Codes[system] = append([]string(nil), codes...)
		}
	}
	return out
}

// Phenotype is a single criterion row in a cohort definition.
//
// Index, Level, HierarchicalIndex, ParentID, EffectiveType and
// ColorCellBackground are UI projection fields: they are derived by the
// cohort model and stripped before a phenotype is embedded into a
// backend-facing expression.
type Phenotype struct {
	ID          string         `json:"id"`
	Type        PhenotypeType  `json:"type,omitempty"`
	Class       PhenotypeClass `json:"class_name"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`

	// Variant-specific fields, selected by Class.
	Codelist          *Codelist   `json:"codelist,omitempty"`
	Domain            string      `json:"domain,omitempty"`
	ValueFilter       *FilterNode `json:"value_filter,omitempty"`
	CategoricalFilter *FilterNode `json:"categorical_filter,omitempty"`
	RelativeTimeRange *FilterNode `json:"relative_time_range,omitempty"`
	DateRange         *FilterNode `json:"date_range,omitempty"`
	LogicalExpression *FilterNode `json:"logical_expression,omitempty"`
	Expression        *GraphNode  `json:"expression,omitempty"`
	ScoreFormula      string      `json:"score_formula,omitempty"`
	ArithmeticFormula string      `json:"arithmetic_formula,omitempty"`
	UserFunction      string      `json:"user_function,omitempty"`
	Units             string      `json:"units,omitempty"`

	// UI projection fields.
	Index               int           `json:"index,omitempty"`
	Level               int           `json:"level,omitempty"`
	HierarchicalIndex   string        `json:"hierarchical_index,omitempty"`
	ParentID            string        `json:"parent_id,omitempty"`
	EffectiveType       PhenotypeType `json:"effective_type,omitempty"`
	ColorCellBackground bool          `json:"colorCellBackground,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// IsComponent reports whether the phenotype is a component row embedded in a
// parent's logical expression.
func (p *Phenotype) IsComponent() bool {
	return p.Type == TypeComponent
}

// DisplayType is the type shown in the grid: components inherit the display
// type of their nearest non-component ancestor.
func (p *Phenotype) DisplayType() PhenotypeType {
	if p.Type == TypeComponent && p.EffectiveType != "" {
		return p.EffectiveType
	}
	return p.Type
}

// StripUI clears the UI projection fields in place and returns the
// phenotype. Used before a copy of the phenotype is embedded into a
// backend-facing computation graph.
func (p *Phenotype) StripUI() *Phenotype {
	p.Index = 0
	p.Level = 0
	p.HierarchicalIndex = ""
	p.ParentID = ""
	p.EffectiveType = ""
	p.ColorCellBackground = false
	return p
}

// Clone returns a deep copy of the phenotype.
func (p *Phenotype) Clone() *Phenotype {
	if p == nil {
		return nil
	}
	out := *p
	out.Codelist = p.Codelist.Clone()
	out.ValueFilter = p.ValueFilter.Clone()
	out.CategoricalFilter = p.CategoricalFilter.Clone()
	out.RelativeTimeRange = p.RelativeTimeRange.Clone()
	out.DateRange = p.DateRange.Clone()
	out.LogicalExpression = p.LogicalExpression.Clone()
	out.Expression = p.Expression.Clone()
	return &out
}

// Validate ensures the phenotype is structurally sound for its class.
func (p *Phenotype) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("phenotype validation: %w", errors.New("ID is required"))
	}
	if !p.Class.IsValid() {
		return fmt.Errorf("phenotype validation: %w: %q", ErrInvalidClass, p.Class)
	}
	if p.Type != "" && !p.Type.IsValid() {
		return fmt.Errorf("phenotype validation: %w: %q", ErrInvalidType, p.Type)
	}
	if p.Type == TypeComponent && p.ParentID == "" {
		return fmt.Errorf("phenotype validation: %w", errors.New("component phenotype requires a parent"))
	}
	switch p.Class {
	case ClassLogic:
		if p.LogicalExpression == nil && p.Expression == nil {
			return fmt.Errorf("phenotype validation: %w", errors.New("logic phenotype requires an expression"))
		}
	case ClassScore:
		if p.ScoreFormula == "" {
			return fmt.Errorf("phenotype validation: %w", errors.New("score phenotype requires a formula"))
		}
	case ClassArithmetic:
		if p.ArithmeticFormula == "" {
			return fmt.Errorf("phenotype validation: %w", errors.New("arithmetic phenotype requires a formula"))
		}
	}
	return nil
}
