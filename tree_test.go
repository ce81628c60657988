package ctvbuilders

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkTreeInvariants verifies every internal node of the tree.
func checkTreeInvariants(t *testing.T, tree *CovenantTree) {
	t.Helper()

	for idx := range tree.Nodes {
		node := &tree.Nodes[idx]
		if node.Kind == LeafNode {
			require.Empty(t, node.Children)
			require.Nil(t, node.Commitment)
			require.Equal(t, 0, node.Level)
			continue
		}

		require.Len(t, node.Children, tree.Branching)

		var childSum uint64
		for i, child := range node.Children {
			childNode := &tree.Nodes[child]
			require.Equal(t, idx, childNode.Parent)
			require.Equal(t, node.Level-1, childNode.Level)
			require.Equal(t, childNode.Output,
				node.Commitment.Outputs[i])
			childSum += childNode.Value()
		}
		require.Equal(t, childSum+tree.NodeFee, node.Value())

		expectedScript, err := node.Tap.PkScript()
		require.NoError(t, err)
		require.Equal(t, expectedScript, node.Output.PkScript)

		digest, ok := ParseRestrictionScript(node.Tap.LeafScript)
		require.True(t, ok)
		require.Equal(t, node.Commitment.Digest, digest)
		require.Equal(t, Commit(node.Commitment.Outputs, nil), digest)
	}

	require.Equal(t, noParent, tree.Root().Parent)
}

func TestBuildTreeFourLeaves(t *testing.T) {
	builder := testBuilder(t)
	leaves := testLeaves(4)

	tree, err := builder.BuildTree(leaves, TreeOptions{Branching: 2})
	require.NoError(t, err)
	checkTreeInvariants(t, tree)

	// 4 leaves, 2 intermediate nodes and the root.
	require.Len(t, tree.Nodes, 7)
	require.Len(t, tree.Leaves(), 4)
	require.Equal(t, []int{6, 4, 5}, tree.Internal())
	require.Equal(t, 2, tree.Depth())

	root := tree.Root()
	require.Equal(t, InternalNode, root.Kind)
	require.Equal(t, []int{4, 5}, root.Children)
	require.Equal(t, SumValues(leaves), root.Value())

	// The intermediate nodes commit to consecutive pairs.
	left, err := tree.Node(4)
	require.NoError(t, err)
	require.Equal(t, leaves[0:2], left.Commitment.Outputs)
	right, err := tree.Node(5)
	require.NoError(t, err)
	require.Equal(t, leaves[2:4], right.Commitment.Outputs)

	// The root commits to the intermediate outputs.
	require.Equal(t, []OutputSpec{left.Output, right.Output},
		root.Commitment.Outputs)
}

func TestBuildTreeShapes(t *testing.T) {
	tests := []struct {
		leaves    int
		branching int
		depth     int
		internal  int
	}{
		{leaves: 2, branching: 2, depth: 1, internal: 1},
		{leaves: 8, branching: 2, depth: 3, internal: 7},
		{leaves: 16, branching: 2, depth: 4, internal: 15},
		{leaves: 9, branching: 3, depth: 2, internal: 4},
		{leaves: 16, branching: 4, depth: 2, internal: 5},
		{leaves: 64, branching: 4, depth: 3, internal: 21},
	}
	builder := testBuilder(t)

	for _, tc := range tests {
		leaves := testLeaves(tc.leaves)
		tree, err := builder.BuildTree(leaves, TreeOptions{
			Branching: tc.branching,
		})
		require.NoError(t, err)
		checkTreeInvariants(t, tree)

		assert.Equal(t, tc.depth, tree.Depth())
		assert.Len(t, tree.Internal(), tc.internal)
		assert.Len(t, tree.Leaves(), tc.leaves)

		// Value is conserved from the leaves up to the root.
		assert.Equal(t, SumValues(leaves), tree.Root().Value())
	}
}

func TestBuildTreeNodeFee(t *testing.T) {
	builder := testBuilder(t)
	leaves := testLeaves(8)

	tree, err := builder.BuildTree(leaves, TreeOptions{NodeFee: 500})
	require.NoError(t, err)
	checkTreeInvariants(t, tree)

	// Seven covenant spends, each paying its own fee.
	require.Equal(t, SumValues(leaves)+7*500, tree.Root().Value())
}

func TestBuildTreeSequence(t *testing.T) {
	builder := testBuilder(t)
	seq := uint32(144)

	tree, err := builder.BuildTree(testLeaves(4), TreeOptions{
		Sequence: &seq,
	})
	require.NoError(t, err)

	for _, idx := range tree.Internal() {
		node := tree.Nodes[idx]
		require.Equal(t, seq, node.Commitment.EffectiveSequence())
		require.Equal(t, Commit(node.Commitment.Outputs, &seq),
			node.Commitment.Digest)
	}
}

func TestBuildTreeErrors(t *testing.T) {
	builder := testBuilder(t)

	tests := []struct {
		name      string
		leaves    []OutputSpec
		branching int
		err       error
	}{
		{"empty", nil, 2, ErrEmptyTemplate},
		{"branching one", testLeaves(4), 1, ErrInvalidBranching},
		{"negative branching", testLeaves(4), -2, ErrInvalidBranching},
		{"single leaf", testLeaves(1), 2, ErrUnbalancedTree},
		{"odd leaves", testLeaves(3), 2, ErrUnbalancedTree},
		{"unbalanced upper level", testLeaves(6), 2, ErrUnbalancedTree},
		{"not a power", testLeaves(12), 4, ErrUnbalancedTree},
		{"value too large", []OutputSpec{
			{Value: btcutil.MaxSatoshi + 1},
			{Value: 1},
		}, 2, ErrInvalidOutput},
		{"sum too large", []OutputSpec{
			{Value: btcutil.MaxSatoshi},
			{Value: 1},
		}, 2, ErrInvalidOutput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := builder.BuildTree(tc.leaves, TreeOptions{
				Branching: tc.branching,
			})
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestBuildFanOut(t *testing.T) {
	builder := testBuilder(t)

	outputs := append(testLeaves(5), AnchorOutput())
	tree, err := builder.BuildFanOut(outputs, nil)
	require.NoError(t, err)

	require.Equal(t, 1, tree.Depth())
	require.Equal(t, []int{6}, tree.Internal())
	require.Equal(t, outputs, tree.Root().Commitment.Outputs)
	require.Equal(t, SumValues(outputs), tree.Root().Value())

	single, err := builder.BuildFanOut(testLeaves(1), nil)
	require.NoError(t, err)
	require.Equal(t, 1, single.Depth())
	require.Len(t, single.Nodes, 2)

	_, err = builder.BuildFanOut(nil, nil)
	require.ErrorIs(t, err, ErrEmptyTemplate)
}

func TestTreeNodeLookup(t *testing.T) {
	tree, err := testBuilder(t).BuildTree(testLeaves(2), TreeOptions{})
	require.NoError(t, err)

	_, err = tree.Node(-1)
	require.ErrorIs(t, err, ErrUnknownNode)
	_, err = tree.Node(len(tree.Nodes))
	require.ErrorIs(t, err, ErrUnknownNode)

	var visited []int
	tree.Walk(func(idx int, _ *Node) bool {
		visited = append(visited, idx)
		return len(visited) < 2
	})
	require.Equal(t, []int{2, 0}, visited)
	require.Equal(t, "leaf", LeafNode.String())
	require.Equal(t, "internal", InternalNode.String())
}
