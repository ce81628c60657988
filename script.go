package ctvbuilders

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
)

// OpCheckTemplateVerify is the restriction opcode. It redefines OP_NOP4, so
// nodes without the soft fork treat it as a no-op.
const OpCheckTemplateVerify = txscript.OP_NOP4

// restrictionScriptLen is OP_DATA_32 + digest + opcode.
const restrictionScriptLen = 1 + chainhash.HashSize + 1

// BuildRestrictionScript creates the leaf script <digest> OP_CHECKTEMPLATEVERIFY.
func BuildRestrictionScript(digest []byte) ([]byte, error) {
	if len(digest) != chainhash.HashSize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDigestLength,
			len(digest))
	}

	return txscript.NewScriptBuilder().
		AddData(digest).
		AddOp(OpCheckTemplateVerify).
		Script()
}

// ParseRestrictionScript returns the committed digest if script has the exact
// shape produced by BuildRestrictionScript.
func ParseRestrictionScript(script []byte) (chainhash.Hash, bool) {
	var digest chainhash.Hash
	if len(script) != restrictionScriptLen ||
		script[0] != txscript.OP_DATA_32 ||
		script[restrictionScriptLen-1] != OpCheckTemplateVerify {

		return digest, false
	}

	copy(digest[:], script[1:1+chainhash.HashSize])
	return digest, true
}
