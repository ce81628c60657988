package ctvbuilders

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// NodeKind distinguishes leaves from internal covenant nodes.
type NodeKind uint8

const (
	// LeafNode is one of the final outputs of the tree.
	LeafNode NodeKind = iota

	// InternalNode is a taproot output whose only spend path releases
	// its children.
	InternalNode
)

// String returns a human readable name of the kind.
func (k NodeKind) String() string {
	switch k {
	case LeafNode:
		return "leaf"
	case InternalNode:
		return "internal"
	default:
		return fmt.Sprintf("NodeKind(%d)", k)
	}
}

// noParent marks the root of a tree.
const noParent = -1

// Node is an entry in the covenant tree arena. Children are referenced by
// their index in CovenantTree.Nodes.
type Node struct {
	Kind NodeKind

	// Output is the output this node is paid to. For leaves this is the
	// leaf itself, for internal nodes it pays Value to the tap output key.
	Output OutputSpec

	// Parent is the index of the parent node, -1 for the root.
	Parent int

	// Children are only set for internal nodes, in committed order.
	Children []int

	// Level counts from the leaves, which are at level 0.
	Level int

	// Commitment and Tap are only set for internal nodes.
	Commitment *TemplateCommitment
	Tap        *TapCommitment
}

// Value returns the value held by the node's output.
func (n *Node) Value() uint64 {
	return n.Output.Value
}

// TreeOptions contains parameters for composing a covenant tree.
type TreeOptions struct {
	// Branching is the number of children of every internal node.
	// Defaults to 2.
	Branching int

	// NodeFee is added on top of the children's value of every internal
	// node, so each covenant spend can pay its own fee. With the default
	// of zero a node holds exactly the sum of its children.
	NodeFee uint64

	// Sequence overrides the committed input sequence of every spend.
	Sequence *uint32
}

// CovenantTree is a balanced tree of template commitments stored in a single
// arena. Leaves come first in their original order, every following level
// is appended after the previous one, the root is the last node.
type CovenantTree struct {
	Nodes       []Node
	InternalKey *btcec.PublicKey
	Branching   int
	NodeFee     uint64
}

// BuildFanOut commits to all outputs in a single template, producing a tree
// of depth one.
func (tb *TxBuilder) BuildFanOut(outputs []OutputSpec,
	sequence *uint32) (*CovenantTree, error) {

	if len(outputs) == 0 {
		return nil, ErrEmptyTemplate
	}

	branching := len(outputs)

	// A single output still gets its own covenant level.
	if branching == 1 {
		return tb.buildLevels(outputs, 1, 0, sequence)
	}

	return tb.BuildTree(outputs, TreeOptions{
		Branching: branching,
		Sequence:  sequence,
	})
}

// BuildTree groups consecutive leaves by the branching factor, commits to
// each group and repeats with the synthesized outputs until a single root
// commitment remains. Every level must split evenly.
func (tb *TxBuilder) BuildTree(leaves []OutputSpec,
	opts TreeOptions) (*CovenantTree, error) {

	branching := opts.Branching
	if branching == 0 {
		branching = 2
	}
	if branching < 2 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBranching, branching)
	}
	if len(leaves) == 0 {
		return nil, ErrEmptyTemplate
	}

	// Reject unbalanced trees before doing any work.
	for n := len(leaves); n > 1; n /= branching {
		if n%branching != 0 {
			return nil, fmt.Errorf("%w: %d outputs at a level with "+
				"branching factor %d", ErrUnbalancedTree, n,
				branching)
		}
	}
	if len(leaves) == 1 {
		return nil, fmt.Errorf("%w: a single leaf needs no tree",
			ErrUnbalancedTree)
	}

	return tb.buildLevels(leaves, branching, opts.NodeFee, opts.Sequence)
}

// buildLevels does the actual bottom up construction.
func (tb *TxBuilder) buildLevels(leaves []OutputSpec, branching int,
	nodeFee uint64, sequence *uint32) (*CovenantTree, error) {

	internalKey, err := tb.keys.InternalKey()
	if err != nil {
		return nil, fmt.Errorf("unable to get internal key: %w", err)
	}

	tree := &CovenantTree{
		Nodes:       make([]Node, 0, 2*len(leaves)),
		InternalKey: internalKey,
		Branching:   branching,
		NodeFee:     nodeFee,
	}

	level := make([]int, len(leaves))
	for i, leaf := range leaves {
		if err := leaf.validate(); err != nil {
			return nil, fmt.Errorf("leaf %d: %w", i, err)
		}
		level[i] = len(tree.Nodes)
		tree.Nodes = append(tree.Nodes, Node{
			Kind:   LeafNode,
			Output: leaf,
			Parent: noParent,
		})
	}

	for depth := 1; ; depth++ {
		next := make([]int, 0, len(level)/branching)
		for start := 0; start < len(level); start += branching {
			group := level[start : start+branching]

			idx, err := tree.addInternal(
				group, depth, nodeFee, sequence,
			)
			if err != nil {
				return nil, fmt.Errorf("level %d group %d: %w",
					depth, start/branching, err)
			}
			next = append(next, idx)
		}

		log.Debugf("Built covenant level %d with %d nodes", depth,
			len(next))

		if len(next) == 1 {
			break
		}
		level = next
	}

	log.Tracef("Covenant tree: %v", newLogClosure(func() string {
		return limitSpewer.Sdump(tree.Nodes)
	}))

	return tree, nil
}

// addInternal commits to the outputs of the given children and appends the
// resulting node.
func (t *CovenantTree) addInternal(children []int, level int, nodeFee uint64,
	sequence *uint32) (int, error) {

	outputs := make([]OutputSpec, len(children))
	var total uint64
	for i, child := range children {
		outputs[i] = t.Nodes[child].Output
		total += outputs[i].Value
	}
	total += nodeFee

	commitment, err := NewTemplateCommitment(outputs, sequence)
	if err != nil {
		return 0, err
	}
	tap, err := commitTemplate(t.InternalKey, commitment)
	if err != nil {
		return 0, err
	}
	pkScript, err := tap.PkScript()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTreeFinalize, err)
	}

	output := OutputSpec{Value: total, PkScript: pkScript}
	if err := output.validate(); err != nil {
		return 0, err
	}

	idx := len(t.Nodes)
	childIdx := make([]int, len(children))
	copy(childIdx, children)
	for _, child := range children {
		t.Nodes[child].Parent = idx
	}

	t.Nodes = append(t.Nodes, Node{
		Kind:       InternalNode,
		Output:     output,
		Parent:     noParent,
		Children:   childIdx,
		Level:      level,
		Commitment: commitment,
		Tap:        tap,
	})

	return idx, nil
}

// RootIndex returns the arena index of the root.
func (t *CovenantTree) RootIndex() int {
	return len(t.Nodes) - 1
}

// Root returns the root node, whose output has to be funded.
func (t *CovenantTree) Root() *Node {
	return &t.Nodes[t.RootIndex()]
}

// Node returns the node at the given index.
func (t *CovenantTree) Node(idx int) (*Node, error) {
	if idx < 0 || idx >= len(t.Nodes) {
		return nil, fmt.Errorf("%w: index %d", ErrUnknownNode, idx)
	}
	return &t.Nodes[idx], nil
}

// Depth is the number of covenant levels between the root and the leaves.
func (t *CovenantTree) Depth() int {
	return t.Root().Level
}

// Leaves returns the arena indexes of all leaves in order.
func (t *CovenantTree) Leaves() []int {
	var leaves []int
	for i := range t.Nodes {
		if t.Nodes[i].Kind == LeafNode {
			leaves = append(leaves, i)
		}
	}
	return leaves
}

// Internal returns the arena indexes of all internal nodes in top down
// order: the root first, then each level from left to right. A node is
// always listed before its children.
func (t *CovenantTree) Internal() []int {
	var nodes []int
	t.Walk(func(idx int, n *Node) bool {
		if n.Kind == InternalNode {
			nodes = append(nodes, idx)
		}
		return true
	})
	return nodes
}

// Walk visits the tree breadth first from the root. Returning false from fn
// stops the walk.
func (t *CovenantTree) Walk(fn func(idx int, n *Node) bool) {
	if len(t.Nodes) == 0 {
		return
	}

	queue := []int{t.RootIndex()}
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]

		if !fn(idx, &t.Nodes[idx]) {
			return
		}
		queue = append(queue, t.Nodes[idx].Children...)
	}
}
