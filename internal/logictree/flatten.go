package logictree

// ItemKind tags the entries of a flattened tree.
type ItemKind uint8

const (
	// ItemFilter is a leaf, rendered as an editable filter chip.
	ItemFilter ItemKind = iota
	// ItemOperator is the AND/OR between two rendered sides.
	ItemOperator
	// ItemParenOpen and ItemParenClose bracket a nested logical node.
	// They are emitted only below the root, never around it.
	ItemParenOpen
	ItemParenClose
)

// Item is one element of the linear "filter OP filter OP filter" rendering
// of a tree. Node is the leaf for ItemFilter and the owning logical node for
// the other kinds; Path is the node's address in the tree.
type Item[N comparable] struct {
	Kind ItemKind
	Node N
	Op   Op
	Path Path
}

// Flatten linearizes the tree by depth-first in-order traversal.
//
// When exactly one side of a logical node is an empty leaf and the other side
// has content, the empty side and the operator are elided: the node renders
// as if it were just its non-empty child.
func (e *Editor[N]) Flatten(root N) []Item[N] {
	var zero N
	if root == zero {
		return nil
	}
	return e.flatten(root, Path{}, 0, nil)
}

func (e *Editor[N]) flatten(node N, path Path, depth int, out []Item[N]) []Item[N] {
	if !e.s.IsLogical(node) {
		return append(out, Item[N]{Kind: ItemFilter, Node: node, Path: path.Clone()})
	}

	c1 := e.s.Child(node, SelectFilter1)
	c2 := e.s.Child(node, SelectFilter2)
	full1 := e.hasContent(c1)
	full2 := e.hasContent(c2)

	// One empty side collapses the node onto its non-empty child. The child
	// keeps its true path but inherits the elided node's depth, so no extra
	// parentheses appear.
	if full1 != full2 {
		if full1 {
			return e.flatten(c1, append(path.Clone(), SelectFilter1), depth, out)
		}
		return e.flatten(c2, append(path.Clone(), SelectFilter2), depth, out)
	}

	var zero N
	if depth > 0 {
		out = append(out, Item[N]{Kind: ItemParenOpen, Node: node, Path: path.Clone()})
	}
	if c1 != zero {
		out = e.flatten(c1, append(path.Clone(), SelectFilter1), depth+1, out)
	}
	out = append(out, Item[N]{Kind: ItemOperator, Node: node, Op: e.s.Operator(node), Path: path.Clone()})
	if c2 != zero {
		out = e.flatten(c2, append(path.Clone(), SelectFilter2), depth+1, out)
	}
	if depth > 0 {
		out = append(out, Item[N]{Kind: ItemParenClose, Node: node, Path: path.Clone()})
	}
	return out
}

// hasContent reports whether a child contributes anything to the rendering:
// any logical node does, a leaf does unless it is empty.
func (e *Editor[N]) hasContent(n N) bool {
	var zero N
	if n == zero {
		return false
	}
	if e.s.IsLogical(n) {
		return true
	}
	return !e.s.IsEmptyLeaf(n)
}
