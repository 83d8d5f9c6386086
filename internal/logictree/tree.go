// Package logictree implements editing algorithms for binary AND/OR filter
// trees. The algorithms are generic over the concrete node type: callers
// describe their tree through a Shape adapter, so the same editor serves
// categorical filters, value filters and logical phenotype expressions.
package logictree

// Op identifies the logical operator carried by a non-leaf node.
type Op string

const (
	OpAnd Op = "AndFilter"
	OpOr  Op = "OrFilter"
)

// Flip returns the opposite operator.
func (o Op) Flip() Op {
	if o == OpAnd {
		return OpOr
	}
	return OpAnd
}

// Selector picks one of the two children of a logical node.
type Selector uint8

const (
	SelectFilter1 Selector = 1
	SelectFilter2 Selector = 2
)

// Sibling returns the selector for the other child.
func (s Selector) Sibling() Selector {
	if s == SelectFilter1 {
		return SelectFilter2
	}
	return SelectFilter1
}

func (s Selector) valid() bool {
	return s == SelectFilter1 || s == SelectFilter2
}

// Path addresses a node as the sequence of child selectors from the root.
// The empty path addresses the root itself.
type Path []Selector

// Clone returns an independent copy of the path.
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// Shape tells the editor how to traverse and build nodes of type N.
// N is a pointer-like type whose zero value means "absent".
type Shape[N comparable] struct {
	// IsLogical reports whether the node is an AND/OR node.
	IsLogical func(N) bool
	// Operator returns the operator of a logical node.
	Operator func(N) Op
	// SetOperator rewrites the operator of a logical node in place.
	SetOperator func(N, Op)
	// Child returns the selected child of a logical node.
	Child func(N, Selector) N
	// SetChild replaces the selected child of a logical node in place.
	SetChild func(N, Selector, N)
	// IsEmptyLeaf reports whether a leaf node holds no content yet.
	IsEmptyLeaf func(N) bool
	// NewLogical builds a fresh logical node over two children.
	NewLogical func(Op, N, N) N
	// NewEmptyLeaf builds a fresh empty leaf.
	NewEmptyLeaf func() N
}

// Editor applies tree edits through a Shape.
type Editor[N comparable] struct {
	s Shape[N]
}

// NewEditor creates an editor bound to the given shape.
func NewEditor[N comparable](shape Shape[N]) *Editor[N] {
	return &Editor[N]{s: shape}
}

// EnsureComplete normalizes a loaded tree so that every logical node has two
// present children, default-constructing empty leaves where persisted data
// left a side absent. A nil tree becomes a single empty leaf. The operation
// is idempotent.
func (e *Editor[N]) EnsureComplete(root N) N {
	var zero N
	if root == zero {
		return e.s.NewEmptyLeaf()
	}
	if !e.s.IsLogical(root) {
		return root
	}
	for _, sel := range []Selector{SelectFilter1, SelectFilter2} {
		child := e.s.Child(root, sel)
		if child == zero {
			e.s.SetChild(root, sel, e.s.NewEmptyLeaf())
			continue
		}
		e.s.SetChild(root, sel, e.EnsureComplete(child))
	}
	return root
}

// Get returns the node addressed by path. The boolean is false when the path
// walks through a leaf, uses an invalid selector, or hits an absent child.
func (e *Editor[N]) Get(root N, path Path) (N, bool) {
	var zero N
	node := root
	if node == zero {
		return zero, false
	}
	for _, sel := range path {
		if !sel.valid() || !e.s.IsLogical(node) {
			return zero, false
		}
		node = e.s.Child(node, sel)
		if node == zero {
			return zero, false
		}
	}
	return node, true
}

// Update replaces the node at path with repl and returns the (possibly new)
// root. An invalid path leaves the tree untouched and returns false; callers
// treat that as "nothing happened" rather than an error.
func (e *Editor[N]) Update(root N, path Path, repl N) (N, bool) {
	if len(path) == 0 {
		return repl, true
	}
	parent, ok := e.Get(root, path[:len(path)-1])
	if !ok {
		return root, false
	}
	last := path[len(path)-1]
	if !last.valid() || !e.s.IsLogical(parent) {
		return root, false
	}
	e.s.SetChild(parent, last, repl)
	return root, true
}

// Delete removes the node at path. Deleting a non-root node promotes its
// sibling into the parent's position; deleting the root replaces the whole
// tree with a fresh empty leaf. Invalid paths are no-ops returning false.
func (e *Editor[N]) Delete(root N, path Path) (N, bool) {
	var zero N
	if len(path) == 0 {
		return e.s.NewEmptyLeaf(), true
	}
	parent, ok := e.Get(root, path[:len(path)-1])
	if !ok || !e.s.IsLogical(parent) {
		return root, false
	}
	last := path[len(path)-1]
	if !last.valid() {
		return root, false
	}
	if e.s.Child(parent, last) == zero {
		return root, false
	}
	sibling := e.s.Child(parent, last.Sibling())
	if sibling == zero {
		sibling = e.s.NewEmptyLeaf()
	}
	return e.Update(root, path[:len(path)-1], sibling)
}

// Grow wraps the subtree identified by target (located by identity, not by
// path) under a new logical node whose second child is a fresh empty leaf.
// It returns the new root and the fresh leaf, which becomes the caller's
// active edit target.
func (e *Editor[N]) Grow(root N, target N, op Op) (newRoot N, fresh N, ok bool) {
	var zero N
	if root == zero || target == zero {
		return root, zero, false
	}
	fresh = e.s.NewEmptyLeaf()
	if root == target {
		return e.s.NewLogical(op, target, fresh), fresh, true
	}
	if e.graft(root, target, op, fresh) {
		return root, fresh, true
	}
	return root, zero, false
}

// graft searches for target below node and splices the new logical wrapper in
// front of it. Returns true once the graft happened.
func (e *Editor[N]) graft(node N, target N, op Op, fresh N) bool {
	var zero N
	if node == zero || !e.s.IsLogical(node) {
		return false
	}
	for _, sel := range []Selector{SelectFilter1, SelectFilter2} {
		child := e.s.Child(node, sel)
		if child == zero {
			continue
		}
		if child == target {
			e.s.SetChild(node, sel, e.s.NewLogical(op, target, fresh))
			return true
		}
		if e.graft(child, target, op, fresh) {
			return true
		}
	}
	return false
}

// ToggleOperator flips AndFilter and OrFilter at path without touching the
// children. Returns false when path does not address a logical node.
func (e *Editor[N]) ToggleOperator(root N, path Path) bool {
	node, ok := e.Get(root, path)
	if !ok || !e.s.IsLogical(node) {
		return false
	}
	e.s.SetOperator(node, e.s.Operator(node).Flip())
	return true
}
