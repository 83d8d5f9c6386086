package domain

import "github.com/phenex-cohort-server/internal/logictree"

// FilterClass discriminates the nodes of a logical filter tree. AndFilter
// and OrFilter are the two logical node kinds; every other class is a leaf.
type FilterClass string

const (
	FilterAnd               FilterClass = "AndFilter"
	FilterOr                FilterClass = "OrFilter"
	FilterLogicalExpression FilterClass = "LogicalExpression"
	FilterCategorical       FilterClass = "CategoricalFilter"
	FilterValue             FilterClass = "ValueFilter"
	FilterRelativeTimeRange FilterClass = "RelativeTimeRangeFilter"
	FilterDateRange         FilterClass = "DateRangeFilter"
	FilterCodelist          FilterClass = "CodelistFilter"
)

// IsLogical reports whether the class is one of the two operator kinds.
func (c FilterClass) IsLogical() bool {
	return c == FilterAnd || c == FilterOr
}

// LeafStatus marks whether a leaf has been filled in by the user. Empty
// leaves exist as edit targets and are elided from rendering when they share
// a logical node with a filled sibling.
type LeafStatus string

const (
	LeafFilled LeafStatus = "filled"
	LeafEmpty  LeafStatus = "empty"
)

// ValueBound is one side of a numeric or day-count range.
type ValueBound struct {
	Operator string  `json:"operator"`
	Value    float64 `json:"value"`
}

// Clone returns a copy of the bound.
func (b *ValueBound) Clone() *ValueBound {
	if b == nil {
		return nil
	}
	out := *b
	return &out
}

// FilterNode is a node of the UI-shaped logical filter tree. A logical node
// carries Filter1/Filter2; a leaf carries the fields selected by Class.
type FilterNode struct {
	Class   FilterClass `json:"class_name"`
	Filter1 *FilterNode `json:"filter1,omitempty"`
	Filter2 *FilterNode `json:"filter2,omitempty"`
	Status  LeafStatus  `json:"status,omitempty"`

	// LogicalExpression leaf: reference to another phenotype by id.
	PhenotypeID string `json:"phenotype_id,omitempty"`

	// CategoricalFilter leaf.
	ColumnName    string   `json:"column_name,omitempty"`
	AllowedValues []string `json:"allowed_values,omitempty"`
	Domain        string   `json:"domain,omitempty"`

	// ValueFilter leaf.
	MinValue *ValueBound `json:"min_value,omitempty"`
	MaxValue *ValueBound `json:"max_value,omitempty"`

	// RelativeTimeRangeFilter leaf.
	When            string      `json:"when,omitempty"`
	MinDays         *ValueBound `json:"min_days,omitempty"`
	MaxDays         *ValueBound `json:"max_days,omitempty"`
	AnchorPhenotype string      `json:"anchor_phenotype,omitempty"`

	// DateRangeFilter leaf.
	MinDate string `json:"min_date,omitempty"`
	MaxDate string `json:"max_date,omitempty"`

	// CodelistFilter leaf.
	Codelist *Codelist `json:"codelist,omitempty"`
}

// NewEmptyLeaf returns a fresh unfilled leaf of the given class.
func NewEmptyLeaf(class FilterClass) *FilterNode {
	return &FilterNode{Class: class, Status: LeafEmpty}
}

// NewLogicalNode builds an AND/OR node over two children.
func NewLogicalNode(class FilterClass, f1, f2 *FilterNode) *FilterNode {
	return &FilterNode{Class: class, Filter1: f1, Filter2: f2}
}

// IsLogical reports whether the node is an AND/OR node.
func (n *FilterNode) IsLogical() bool {
	return n != nil && n.Class.IsLogical()
}

// IsEmpty reports whether a leaf holds no content yet. Logical nodes are
// never empty themselves.
func (n *FilterNode) IsEmpty() bool {
	if n == nil {
		return true
	}
	if n.IsLogical() {
		return false
	}
	if n.Status == LeafEmpty {
		return true
	}
	// Defensive check for persisted leaves that never carried a status.
	switch n.Class {
	case FilterLogicalExpression:
		return n.PhenotypeID == ""
	case FilterCategorical:
		return n.ColumnName == "" && len(n.AllowedValues) == 0
	case FilterValue:
		return n.MinValue == nil && n.MaxValue == nil
	case FilterRelativeTimeRange:
		return n.MinDays == nil && n.MaxDays == nil && n.AnchorPhenotype == ""
	case FilterDateRange:
		return n.MinDate == "" && n.MaxDate == ""
	case FilterCodelist:
		return n.Codelist == nil
	default:
		return true
	}
}

// Clone returns a deep copy of the subtree rooted at n.
func (n *FilterNode) Clone() *FilterNode {
	if n == nil {
		return nil
	}
	out := *n
	out.Filter1 = n.Filter1.Clone()
	out.Filter2 = n.Filter2.Clone()
	out.MinValue = n.MinValue.Clone()
	out.MaxValue = n.MaxValue.Clone()
	out.MinDays = n.MinDays.Clone()
	out.MaxDays = n.MaxDays.Clone()
	out.Codelist = n.Codelist.Clone()
	out.AllowedValues = append([]string(nil), n.AllowedValues...)
	if n.AllowedValues == nil {
		out.AllowedValues = nil
	}
	return &out
}

// FilterShape binds the generic tree editor to *FilterNode trees.
// leafClass is the class used when the editor needs a fresh empty leaf.
func FilterShape(leafClass FilterClass) logictree.Shape[*FilterNode] {
	return logictree.Shape[*FilterNode]{
		IsLogical: func(n *FilterNode) bool { return n.IsLogical() },
		Operator: func(n *FilterNode) logictree.Op {
			return logictree.Op(n.Class)
		},
		SetOperator: func(n *FilterNode, op logictree.Op) {
			n.Class = FilterClass(op)
		},
		Child: func(n *FilterNode, sel logictree.Selector) *FilterNode {
			if sel == logictree.SelectFilter1 {
				return n.Filter1
			}
			return n.Filter2
		},
		SetChild: func(n *FilterNode, sel logictree.Selector, child *FilterNode) {
			if sel == logictree.SelectFilter1 {
				n.Filter1 = child
			} else {
				n.Filter2 = child
			}
		},
		IsEmptyLeaf: func(n *FilterNode) bool { return n.IsEmpty() },
		NewLogical: func(op logictree.Op, f1, f2 *FilterNode) *FilterNode {
			return NewLogicalNode(FilterClass(op), f1, f2)
		},
		NewEmptyLeaf: func() *FilterNode { return NewEmptyLeaf(leafClass) },
	}
}
