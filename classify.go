package ctvbuilders

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// SpendKind describes how a taproot input was spent. It is one of
// KeyPathSpend, ScriptPathSpend or UnknownSpend.
type SpendKind interface {
	isSpendKind()
}

// KeyPathSpend is a spend with a single schnorr signature.
type KeyPathSpend struct {
	Signature []byte
}

// ScriptPathSpend reveals a leaf script and its control block.
type ScriptPathSpend struct {
	LeafScript   []byte
	ControlBlock *txscript.ControlBlock
	Annex        []byte

	// Stack holds the remaining witness elements consumed by the script.
	Stack [][]byte
}

// UnknownSpend is any input that is not a taproot spend.
type UnknownSpend struct {
	Class txscript.ScriptClass
}

func (KeyPathSpend) isSpendKind()    {}
func (ScriptPathSpend) isSpendKind() {}
func (UnknownSpend) isSpendKind()    {}

// TemplateDigest returns the committed template hash if the revealed leaf is
// a restriction script.
func (s ScriptPathSpend) TemplateDigest() (chainhash.Hash, bool) {
	return ParseRestrictionScript(s.LeafScript)
}

// Disassemble returns a one line disassembly of the leaf script.
func (s ScriptPathSpend) Disassemble() (string, error) {
	return txscript.DisasmString(s.LeafScript)
}

// annexTag marks the optional last witness element of a taproot spend.
const annexTag = 0x50

// isAnnexed reports whether the last element of a taproot witness is an
// annex.
func isAnnexed(witness wire.TxWitness) bool {
	if len(witness) < 2 {
		return false
	}
	last := witness[len(witness)-1]
	return len(last) > 0 && last[0] == annexTag
}

// ClassifyInput inspects the witness of txIn that spends prevPkScript.
func ClassifyInput(txIn *wire.TxIn, prevPkScript []byte) (SpendKind, error) {
	class := txscript.GetScriptClass(prevPkScript)
	if class != txscript.WitnessV1TaprootTy {
		return UnknownSpend{Class: class}, nil
	}

	witness := txIn.Witness
	var annex []byte
	if isAnnexed(witness) {
		annex = witness[len(witness)-1]
		witness = witness[:len(witness)-1]
	}

	switch len(witness) {
	case 0:
		return nil, errors.New("taproot input without witness")

	case 1:
		return KeyPathSpend{Signature: witness[0]}, nil
	}

	ctrlBlockBytes := witness[len(witness)-1]
	ctrlBlock, err := txscript.ParseControlBlock(ctrlBlockBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid control block: %w", err)
	}

	return ScriptPathSpend{
		LeafScript:   witness[len(witness)-2],
		ControlBlock: ctrlBlock,
		Annex:        annex,
		Stack:        witness[:len(witness)-2],
	}, nil
}
