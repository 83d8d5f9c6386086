package domain

import (
	"encoding/json"
	"time"
)

// ConstantType identifies the kind of value a cohort constant carries.
type ConstantType string

const (
	ConstantDateRange         ConstantType = "DateRangeFilter"
	ConstantRelativeTimeRange ConstantType = "RelativeTimeRangeFilter"
	ConstantCategorical       ConstantType = "CategoricalFilter"
	ConstantArray             ConstantType = "array"
	ConstantScalar            ConstantType = "scalar"
)

// Constant is a named, typed reusable value referenced by phenotypes.
type Constant struct {
	Description string          `json:"description,omitempty"`
	Type        ConstantType    `json:"type"`
	Value       json.RawMessage `json:"value,omitempty"`
}

// Clone returns a copy of the constant.
func (c *Constant) Clone() *Constant {
	if c == nil {
		return nil
	}
	out := &Constant{Description: c.Description, Type: c.Type}
	out.Value = append(json.RawMessage(nil), c.Value...)
	return out
}

// DatabaseConfig names the data source a cohort executes against.
type DatabaseConfig struct {
	Name    string `json:"name,omitempty"`
	Mapper  string `json:"mapper,omitempty"`
	Schema  string `json:"schema,omitempty"`
	Dialect string `json:"dialect,omitempty"`
}

// WaterfallRow is one step of the backend-computed attrition table: the
// patient counts remaining after a criterion is applied.
type WaterfallRow struct {
	Name      string        `json:"name"`
	Type      PhenotypeType `json:"type"`
	Remaining int64         `json:"remaining"`
	Excluded  int64         `json:"excluded"`
}

// Cohort is the top-level aggregate: a flat, authoritative phenotype list
// plus constants, database configuration and backend-populated result
// fields. All views read derived projections and mutate only through the
// cohort model.
type Cohort struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	Phenotypes     []*Phenotype         `json:"phenotypes"`
	DatabaseConfig *DatabaseConfig      `json:"database_config,omitempty"`
	Constants      map[string]*Constant `json:"constants,omitempty"`

	// ConstantOrder gives the constants mapping an explicit, reorderable
	// presentation order; names missing from it sort last by name.
	ConstantOrder []string `json:"constant_order,omitempty"`

	Waterfall     []WaterfallRow `json:"waterfall,omitempty"`
	IsProvisional bool           `json:"is_provisional,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Clone returns a deep copy of the cohort.
func (c *Cohort) Clone() *Cohort {
	if c == nil {
		return nil
	}
	out := *c
	out.Phenotypes = make([]*Phenotype, len(c.Phenotypes))
	for i, p := range c.Phenotypes {
		out.Phenotypes[i] = p.Clone()
	}
	if c.DatabaseConfig != nil {
		cfg := *c.DatabaseConfig
		out.DatabaseConfig = &cfg
	}
	if c.Constants != nil {
		out.Constants = make(map[string]*Constant, len(c.Constants))
		for name, constant := range c.Constants {
			out.Constants[name] = constant.Clone()
		}
	}
	out.ConstantOrder = append([]string(nil), c.ConstantOrder...)
	out.Waterfall = append([]WaterfallRow(nil), c.Waterfall...)
	return &out
}

// FindPhenotype returns the phenotype with the given id, or nil.
func (c *Cohort) FindPhenotype(id string) *Phenotype {
	for _, p := range c.Phenotypes {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// PhenotypeIndex builds an id lookup over the flat phenotype list.
func (c *Cohort) PhenotypeIndex() map[string]*Phenotype {
	index := make(map[string]*Phenotype, len(c.Phenotypes))
	for _, p := range c.Phenotypes {
		index[p.ID] = p
	}
	return index
}

// CohortRecord is the type-partitioned shape persisted to and loaded from
// the backend: entry_criterion as a single object plus per-type arrays,
// rather than the editor's flat phenotype list.
type CohortRecord struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	EntryCriterion *Phenotype           `json:"entry_criterion,omitempty"`
	Inclusions     []*Phenotype         `json:"inclusions,omitempty"`
	Exclusions     []*Phenotype         `json:"exclusions,omitempty"`
	Characteristic []*Phenotype         `json:"characteristics,omitempty"`
	Outcomes       []*Phenotype         `json:"outcomes,omitempty"`
	DatabaseConfig *DatabaseConfig      `json:"database_config,omitempty"`
	Constants      map[string]*Constant `json:"constants,omitempty"`
	ConstantOrder  []string             `json:"constant_order,omitempty"`
	Waterfall      []WaterfallRow       `json:"waterfall,omitempty"`
	IsProvisional  bool                 `json:"is_provisional,omitempty"`
}
