package ctvbuilders

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// referenceCommit is an independent byte by byte rendition of the template
// hash used to cross check Commit.
func referenceCommit(outputs []OutputSpec, sequence uint32) [32]byte {
	le32 := func(v uint32) []byte {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		return b[:]
	}

	var outs []byte
	for _, o := range outputs {
		var value [8]byte
		binary.LittleEndian.PutUint64(value[:], o.Value)
		outs = append(outs, value[:]...)
		outs = append(outs, byte(len(o.PkScript)))
		outs = append(outs, o.PkScript...)
	}
	seqHash := sha256.Sum256(le32(sequence))
	outHash := sha256.Sum256(outs)

	var buf []byte
	buf = append(buf, le32(3)...)
	buf = append(buf, le32(0)...)
	buf = append(buf, le32(1)...)
	buf = append(buf, seqHash[:]...)
	buf = append(buf, le32(uint32(len(outputs)))...)
	buf = append(buf, outHash[:]...)
	buf = append(buf, le32(0)...)

	return sha256.Sum256(buf)
}

func TestCommitGoldenVector(t *testing.T) {
	outputs := []OutputSpec{{Value: 1337, PkScript: p2wpkhScript(0x11)}}

	digest := Commit(outputs, nil)
	require.Equal(
		t,
		"adc8f9d263a5205820f5c95ff312e1f748997d9ff2d4de0d0e33e39d366db509",
		hex.EncodeToString(digest[:]),
	)
	require.Equal(t, referenceCommit(outputs, DefaultSequence),
		[32]byte(digest))

	seq := uint32(10)
	digest = Commit(outputs, &seq)
	require.Equal(
		t,
		"d1b266e6899691a39915ad44b5ac2d2e0d972b3768c0862cc6c1cf48f7be8e88",
		hex.EncodeToString(digest[:]),
	)
}

func TestCommitDeterminism(t *testing.T) {
	outputs := testLeaves(5)
	seq := uint32(144)

	for _, override := range []*uint32{nil, &seq} {
		first := Commit(outputs, override)
		for i := 0; i < 100; i++ {
			require.Equal(t, first, Commit(outputs, override))
		}
	}

	// The default sequence is the same as not overriding it.
	defaultSeq := uint32(DefaultSequence)
	require.Equal(t, Commit(outputs, nil), Commit(outputs, &defaultSeq))
	require.NotEqual(t, Commit(outputs, nil), Commit(outputs, &seq))
}

func TestCommitOrderSensitivity(t *testing.T) {
	outputs := testLeaves(3)

	swapped := []OutputSpec{outputs[1], outputs[0], outputs[2]}
	require.NotEqual(t, Commit(outputs, nil), Commit(swapped, nil))

	// Same scripts, values swapped.
	swappedValues := []OutputSpec{
		{Value: outputs[1].Value, PkScript: outputs[0].PkScript},
		{Value: outputs[0].Value, PkScript: outputs[1].PkScript},
		outputs[2],
	}
	require.NotEqual(t, Commit(outputs, nil), Commit(swappedValues, nil))
}

func TestNewTemplateCommitment(t *testing.T) {
	_, err := NewTemplateCommitment(nil, nil)
	require.ErrorIs(t, err, ErrEmptyTemplate)

	_, err = NewTemplateCommitment([]OutputSpec{{
		Value: 21_000_001 * 100_000_000,
	}}, nil)
	require.ErrorIs(t, err, ErrInvalidOutput)

	outputs := testLeaves(2)
	seq := uint32(7)
	commitment, err := NewTemplateCommitment(outputs, &seq)
	require.NoError(t, err)
	require.Equal(t, Commit(outputs, &seq), commitment.Digest)
	require.Equal(t, uint32(7), commitment.EffectiveSequence())

	// The commitment keeps its own copy of its inputs.
	seq = 8
	outputs[0].Value++
	require.Equal(t, uint32(7), commitment.EffectiveSequence())
	require.NotEqual(t, outputs[0].Value, commitment.Outputs[0].Value)

	// The empty template still hashes, rejecting it is up to callers.
	require.Equal(t, referenceCommit(nil, DefaultSequence),
		[32]byte(Commit(nil, nil)))
}

func TestTemplateHashFromTx(t *testing.T) {
	outputs := testLeaves(4)
	commitment, err := NewTemplateCommitment(outputs, nil)
	require.NoError(t, err)

	tx := newTemplateTx(createTestOutpoint(3), DefaultSequence)
	for _, txOut := range commitment.TxOuts() {
		tx.AddTxOut(txOut)
	}

	// Witness data and the spent outpoint are not committed to.
	tx.TxIn[0].Witness = wire.TxWitness{{0x01}, {0x02}}
	digest, err := TemplateHashFromTx(tx, 0)
	require.NoError(t, err)
	require.Equal(t, commitment.Digest, digest)

	tx.TxIn[0].PreviousOutPoint = createTestOutpoint(9)
	digest, err = TemplateHashFromTx(tx, 0)
	require.NoError(t, err)
	require.Equal(t, commitment.Digest, digest)

	// Everything else is.
	mutations := map[string]func(tx *wire.MsgTx){
		"version": func(tx *wire.MsgTx) {
			tx.Version = 2
		},
		"locktime": func(tx *wire.MsgTx) {
			tx.LockTime = 1
		},
		"sequence": func(tx *wire.MsgTx) {
			tx.TxIn[0].Sequence = wire.MaxTxInSequenceNum
		},
		"value": func(tx *wire.MsgTx) {
			tx.TxOut[2].Value--
		},
		"script": func(tx *wire.MsgTx) {
			tx.TxOut[0].PkScript = []byte{txscript.OP_TRUE}
		},
		"extra output": func(tx *wire.MsgTx) {
			tx.AddTxOut(AnchorOutput().TxOut())
		},
		"dropped output": func(tx *wire.MsgTx) {
			tx.TxOut = tx.TxOut[:3]
		},
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			mutated := tx.Copy()
			mutate(mutated)

			digest, err := TemplateHashFromTx(mutated, 0)
			require.NoError(t, err)
			require.NotEqual(t, commitment.Digest, digest)
		})
	}

	sigScriptTx := tx.Copy()
	sigScriptTx.TxIn[0].SignatureScript = []byte{txscript.OP_TRUE}
	_, err = TemplateHashFromTx(sigScriptTx, 0)
	require.Error(t, err)

	_, err = TemplateHashFromTx(tx, 1)
	require.Error(t, err)
}

func TestAnchorOutput(t *testing.T) {
	anchor := AnchorOutput()
	require.Equal(t, uint64(330), anchor.Value)
	require.True(t, bytes.Equal([]byte{0x51, 0x02, 0x4e, 0x73},
		anchor.PkScript))

	// Callers may not alter the shared script.
	anchor.PkScript[0] = 0
	require.Equal(t, byte(0x51), AnchorOutput().PkScript[0])
}
