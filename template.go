package ctvbuilders

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// TemplateCommitment is the digest of a fully specified future transaction
// together with the data it was computed from.
type TemplateCommitment struct {
	Digest   chainhash.Hash
	Outputs  []OutputSpec
	Sequence *uint32
}

// NewTemplateCommitment commits to the given outputs. A nil sequence selects
// DefaultSequence.
func NewTemplateCommitment(outputs []OutputSpec,
	sequence *uint32) (*TemplateCommitment, error) {

	if len(outputs) == 0 {
		return nil, ErrEmptyTemplate
	}
	for i := range outputs {
		if err := outputs[i].validate(); err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
	}

	committed := make([]OutputSpec, len(outputs))
	copy(committed, outputs)

	var seq *uint32
	if sequence != nil {
		s := *sequence
		seq = &s
	}

	return &TemplateCommitment{
		Digest:   Commit(committed, seq),
		Outputs:  committed,
		Sequence: seq,
	}, nil
}

// EffectiveSequence is the input sequence the spend has to carry.
func (c *TemplateCommitment) EffectiveSequence() uint32 {
	return effectiveSequence(c.Sequence)
}

// TxOuts returns the committed outputs in wire format.
func (c *TemplateCommitment) TxOuts() []*wire.TxOut {
	txOuts := make([]*wire.TxOut, len(c.Outputs))
	for i, o := range c.Outputs {
		txOuts[i] = o.TxOut()
	}
	return txOuts
}

// Commit computes the template hash of a version 3, locktime 0 transaction
// with a single input at index 0 that pays exactly the given outputs:
//
//	version | locktime | input count | sha256(sequences) |
//	output count | sha256(outputs) | input index
//
// The digest is the single SHA256 of that buffer. An empty output list is
// hashed as is, callers decide whether it is meaningful.
func Commit(outputs []OutputSpec, sequence *uint32) chainhash.Hash {
	txOuts := make([]*wire.TxOut, len(outputs))
	for i, o := range outputs {
		txOuts[i] = o.TxOut()
	}

	return templateHash(
		TxVersion, TemplateLockTime,
		[]uint32{effectiveSequence(sequence)}, txOuts,
		TemplateInputIndex,
	)
}

// TemplateHashFromTx recomputes the template hash from a concrete
// transaction, as the restriction opcode would when validating input idx.
// Transactions carrying a signature script have no template hash in this
// scheme.
func TemplateHashFromTx(tx *wire.MsgTx, idx uint32) (chainhash.Hash, error) {
	if int(idx) >= len(tx.TxIn) {
		return chainhash.Hash{}, fmt.Errorf("input index %d out of "+
			"range", idx)
	}

	sequences := make([]uint32, len(tx.TxIn))
	for i, txIn := range tx.TxIn {
		if len(txIn.SignatureScript) != 0 {
			return chainhash.Hash{}, fmt.Errorf("input %d has a "+
				"signature script", i)
		}
		sequences[i] = txIn.Sequence
	}

	return templateHash(
		tx.Version, int32(tx.LockTime), sequences, tx.TxOut, idx,
	), nil
}

func templateHash(version, lockTime int32, sequences []uint32,
	txOuts []*wire.TxOut, idx uint32) chainhash.Hash {

	var seqBuf bytes.Buffer
	for _, seq := range sequences {
		_ = binary.Write(&seqBuf, binary.LittleEndian, seq)
	}

	var outBuf bytes.Buffer
	for _, txOut := range txOuts {
		// Writing to a bytes.Buffer cannot fail.
		_ = wire.WriteTxOut(&outBuf, 0, 0, txOut)
	}

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, version)
	_ = binary.Write(&buf, binary.LittleEndian, lockTime)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(sequences)))

	seqHash := chainhash.HashH(seqBuf.Bytes())
	buf.Write(seqHash[:])

	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(txOuts)))

	outHash := chainhash.HashH(outBuf.Bytes())
	buf.Write(outHash[:])

	_ = binary.Write(&buf, binary.LittleEndian, idx)

	return chainhash.HashH(buf.Bytes())
}
