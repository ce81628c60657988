package ctvbuilders

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper function to create a test private key
func createTestPrivKey(t *testing.T, seed byte) *btcec.PrivateKey {
	t.Helper()

	keyBytes := make([]byte, 32)
	for i := range keyBytes {
		keyBytes[i] = seed
	}
	privKey, _ := btcec.PrivKeyFromBytes(keyBytes)
	return privKey
}

// Helper function to create a test outpoint
func createTestOutpoint(index uint32) wire.OutPoint {
	hash, _ := chainhash.NewHashFromStr(
		"0000000000000000000000000000000000000000000000000000000000000001",
	)
	return wire.OutPoint{
		Hash:  *hash,
		Index: index,
	}
}

// p2wpkhScript returns a P2WPKH script with a constant key hash.
func p2wpkhScript(fill byte) []byte {
	script := []byte{txscript.OP_0, txscript.OP_DATA_20}
	return append(script, bytes.Repeat([]byte{fill}, 20)...)
}

// testLeaves creates n leaves with distinct values and scripts.
func testLeaves(n int) []OutputSpec {
	leaves := make([]OutputSpec, n)
	for i := range leaves {
		leaves[i] = OutputSpec{
			Value:    uint64(10_000 + i*1_000),
			PkScript: p2wpkhScript(byte(i + 1)),
		}
	}
	return leaves
}

// testBuilder creates a builder with a fixed internal key.
func testBuilder(t *testing.T) *TxBuilder {
	t.Helper()

	return NewTxBuilder(WithKeySource(StaticKeySource{
		Key: createTestPrivKey(t, 0x01).PubKey(),
	}))
}

// executeSpend runs input 0 of tx through the script engine with taproot
// validation enabled. The restriction opcode is a NOP to the engine, so this
// checks the output key, control block and leaf script agree.
func executeSpend(t *testing.T, tx *wire.MsgTx, prevOut *wire.TxOut) {
	t.Helper()

	fetcher := txscript.NewCannedPrevOutputFetcher(
		prevOut.PkScript, prevOut.Value,
	)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	flags := txscript.ScriptBip16 | txscript.ScriptVerifyWitness |
		txscript.ScriptVerifyTaproot
	vm, err := txscript.NewEngine(
		prevOut.PkScript, tx, 0, flags, nil, sigHashes, prevOut.Value,
		fetcher,
	)
	require.NoError(t, err)
	require.NoError(t, vm.Execute())
}

// TestTreeDeterminism verifies that the same parameters produce the same
// root address and spend txids
func TestTreeDeterminism(t *testing.T) {
	builder := testBuilder(t)
	leaves := testLeaves(8)

	// Build the tree 100 times
	var roots []string
	for i := 0; i < 100; i++ {
		tree, err := builder.BuildTree(leaves, TreeOptions{})
		require.NoError(t, err)

		steps, err := AssembleSpendPlan(createTestOutpoint(0), tree)
		require.NoError(t, err)

		var buf bytes.Buffer
		buf.Write(tree.Root().Output.PkScript)
		for _, step := range steps {
			txid := step.Tx.TxHash()
			buf.Write(txid[:])
		}
		roots = append(roots, buf.String())
	}

	// Verify all results are identical
	for i, root := range roots {
		assert.Equal(t, roots[0], root, "Tree %d differs", i)
	}
}

// TestRandomKeySource verifies that random keys are injectable and
// reproducible with a seeded reader
func TestRandomKeySource(t *testing.T) {
	leaves := testLeaves(4)

	build := func(seed int64) *CovenantTree {
		builder := NewTxBuilder(WithKeySource(RandomKeySource{
			Rand: rand.New(rand.NewSource(seed)),
		}))
		tree, err := builder.BuildTree(leaves, TreeOptions{})
		require.NoError(t, err)
		return tree
	}

	tree1 := build(1)
	tree2 := build(1)
	tree3 := build(2)

	assert.True(t, tree1.InternalKey.IsEqual(tree2.InternalKey))
	assert.Equal(t, tree1.Root().Output, tree2.Root().Output)
	assert.False(t, tree1.InternalKey.IsEqual(tree3.InternalKey))
	assert.NotEqual(t, tree1.Root().Output.PkScript,
		tree3.Root().Output.PkScript)

	// The lowest level only commits to the leaves, so its digests do not
	// depend on the internal key.
	for _, idx := range tree1.Internal() {
		if tree1.Nodes[idx].Level != 1 {
			continue
		}
		assert.Equal(t, tree1.Nodes[idx].Commitment.Digest,
			tree3.Nodes[idx].Commitment.Digest)
	}

	_, err := RandomKeySource{}.InternalKey()
	require.Error(t, err)
	_, err = StaticKeySource{}.InternalKey()
	require.Error(t, err)
}

// TestTransactionBasicProperties verifies basic transaction properties
func TestTransactionBasicProperties(t *testing.T) {
	builder := testBuilder(t)

	tree, err := builder.BuildTree(testLeaves(4), TreeOptions{})
	require.NoError(t, err)

	spendTx, err := AssembleSpend(
		createTestOutpoint(0), tree, tree.RootIndex(),
	)
	require.NoError(t, err)

	assert.Equal(t, int32(TxVersion), spendTx.Version, "Version should be 3")
	assert.Equal(t, uint32(0), spendTx.LockTime, "Locktime should be 0")
	require.Len(t, spendTx.TxIn, 1)
	assert.Equal(t, uint32(DefaultSequence), spendTx.TxIn[0].Sequence,
		"Sequence should be 0xFFFFFFFD")
	assert.Empty(t, spendTx.TxIn[0].SignatureScript)
	assert.Len(t, spendTx.TxIn[0].Witness, 2,
		"Witness should be [script, control block]")
	assert.Len(t, spendTx.TxOut, 2, "Should have 2 outputs")
}
