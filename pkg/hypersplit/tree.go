// Package hypersplit builds a HyperSplit decision tree over a frozen rule set
// and classifies packets against it.
//
// The tree is stored as an arena of nodes addressed by NodeID. Internal nodes
// split one header field at a point; leaves hold candidate rule ids sorted by
// priority. A built Tree is never mutated and may be shared by any number of
// goroutines calling Classify.
package hypersplit

import (
	"hypersplit/pkg/filter"
)

// NodeID indexes a node in the tree arena. The root is always 0.
type NodeID int32

const noNode NodeID = -1

// LeafReason 叶子节点生成原因
type LeafReason uint8

const (
	ReasonThreshold    LeafReason = iota // 规则数 <= binth
	ReasonConverged                      // 字段和边界与父节点相同
	ReasonNoProgress                     // 左右子节点都包含全部规则
	ReasonDepthLimit                     // 超过最大深度
	ReasonUnsplittable                   // 所有字段都只有一个端点
)

func (r LeafReason) String() string {
	switch r {
	case ReasonThreshold:
		return "threshold"
	case ReasonConverged:
		return "converged"
	case ReasonNoProgress:
		return "no_progress"
	case ReasonDepthLimit:
		return "depth_limit"
	case ReasonUnsplittable:
		return "unsplittable"
	default:
		return "unknown"
	}
}

type node struct {
	leaf   bool
	field  filter.Field
	point  uint32
	left   NodeID
	right  NodeID
	rules  []filter.RuleID
	reason LeafReason
}

// NodeView is a read-only copy of one node's header. Rules aliases the
// leaf's storage and must not be modified.
type NodeView struct {
	Leaf   bool
	Field  filter.Field
	Point  uint32
	Left   NodeID
	Right  NodeID
	Rules  []filter.RuleID
	Reason LeafReason
}

// Tree is an immutable HyperSplit tree.
type Tree struct {
	nodes []node
	rules *filter.RuleSet
	binth int
}

// Root returns the id of the root node.
func (t *Tree) Root() NodeID {
	return 0
}

// Len returns the number of nodes.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Binth returns the leaf threshold the tree was built with.
func (t *Tree) Binth() int {
	return t.binth
}

// Rules returns the rule set the tree indexes.
func (t *Tree) Rules() *filter.RuleSet {
	return t.rules
}

// Node returns a view of node id.
func (t *Tree) Node(id NodeID) NodeView {
	n := &t.nodes[id]
	return NodeView{
		Leaf:   n.leaf,
		Field:  n.field,
		Point:  n.point,
		Left:   n.left,
		Right:  n.right,
		Rules:  n.rules,
		Reason: n.reason,
	}
}

// Walk visits nodes in pre-order. Returning false from fn skips the
// subtree below the visited node.
func (t *Tree) Walk(fn func(id NodeID, n NodeView, depth int) bool) {
	if len(t.nodes) == 0 {
		return
	}
	t.walk(t.Root(), 0, fn)
}

func (t *Tree) walk(id NodeID, depth int, fn func(NodeID, NodeView, int) bool) {
	n := t.Node(id)
	if !fn(id, n, depth) || n.Leaf {
		return
	}
	t.walk(n.Left, depth+1, fn)
	t.walk(n.Right, depth+1, fn)
}
