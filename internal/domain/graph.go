package domain

import (
	"encoding/json"
	"fmt"
)

// GraphClassName is the class_name discriminant of operator nodes in the
// backend's expression encoding.
const GraphClassName = "ComputationGraph"

// GraphOperator is the backend encoding of a logical operator.
type GraphOperator string

const (
	GraphAnd GraphOperator = "&"
	GraphOr  GraphOperator = "|"
)

// IsValid validates the operator.
func (o GraphOperator) IsValid() bool {
	return o == GraphAnd || o == GraphOr
}

// GraphNode is a node of the backend-facing computation graph: operator
// nodes carry left/right children, leaves are full embedded phenotype
// objects rather than id references. The UI filter tree and this graph are
// two encodings of the same abstract tree; conversion between them is
// lossless for operator structure.
type GraphNode struct {
	Operator GraphOperator
	Left     *GraphNode
	Right    *GraphNode

	// Phenotype is set on leaves and nil on operator nodes.
	Phenotype *Phenotype
}

// NewGraphLeaf wraps an embedded phenotype as a graph leaf.
func NewGraphLeaf(p *Phenotype) *GraphNode {
	return &GraphNode{Phenotype: p}
}

// NewGraphOperator builds an operator node over two children.
func NewGraphOperator(op GraphOperator, left, right *GraphNode) *GraphNode {
	return &GraphNode{Operator: op, Left: left, Right: right}
}

// IsLeaf reports whether the node embeds a phenotype.
func (g *GraphNode) IsLeaf() bool {
	return g != nil && g.Phenotype != nil
}

// Clone returns a deep copy of the subtree rooted at g.
func (g *GraphNode) Clone() *GraphNode {
	if g == nil {
		return nil
	}
	return &GraphNode{
		Operator:  g.Operator,
		Left:      g.Left.Clone(),
		Right:     g.Right.Clone(),
		Phenotype: g.Phenotype.Clone(),
	}
}

// graphNodeJSON is the wire shape of an operator node.
type graphNodeJSON struct {
	Class    string        `json:"class_name"`
	Operator GraphOperator `json:"operator"`
	Left     *GraphNode    `json:"left"`
	Right    *GraphNode    `json:"right"`
}

// MarshalJSON encodes operator nodes with the ComputationGraph discriminant
// and leaves as bare phenotype objects, matching the backend wire format.
func (g *GraphNode) MarshalJSON() ([]byte, error) {
	if g.IsLeaf() {
		return json.Marshal(g.Phenotype)
	}
	return json.Marshal(graphNodeJSON{
		Class:    GraphClassName,
		Operator: g.Operator,
		Left:     g.Left,
		Right:    g.Right,
	})
}

// UnmarshalJSON decodes either an operator node or an embedded phenotype,
// dispatching on the class_name discriminant.
func (g *GraphNode) UnmarshalJSON(data []byte) error {
	var probe struct {
		Class string `json:"class_name"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("decoding computation graph node: %w", err)
	}

	if probe.Class == GraphClassName {
		var node graphNodeJSON
		if err := json.Unmarshal(data, &node); err != nil {
			return fmt.Errorf("decoding computation graph operator: %w", err)
		}
		g.Operator = node.Operator
		g.Left = node.Left
		g.Right = node.Right
		g.Phenotype = nil
		return nil
	}

	var leaf Phenotype
	if err := json.Unmarshal(data, &leaf); err != nil {
		return fmt.Errorf("decoding embedded phenotype: %w", err)
	}
	g.Operator = ""
	g.Left = nil
	g.Right = nil
	g.Phenotype = &leaf
	return nil
}
