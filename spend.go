package ctvbuilders

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

// AssembleSpend builds the script path spend of the internal node at nodeIdx
// whose output is found at fundingOutpoint. The spend pays exactly the
// committed outputs and carries the witness [leaf script, control block]; no
// signature is needed.
//
// Before returning, the template hash of the assembled transaction is
// recomputed and compared with the stored commitment. A mismatching spend is
// never returned.
func AssembleSpend(fundingOutpoint wire.OutPoint, tree *CovenantTree,
	nodeIdx int) (*wire.MsgTx, error) {

	node, err := tree.Node(nodeIdx)
	if err != nil {
		return nil, err
	}
	if node.Kind != InternalNode || node.Commitment == nil ||
		node.Tap == nil {

		return nil, fmt.Errorf("%w: node %d is a %v", ErrUnknownNode,
			nodeIdx, node.Kind)
	}
	commitment := node.Commitment

	tx := newTemplateTx(fundingOutpoint, commitment.EffectiveSequence())
	for _, child := range node.Children {
		tx.AddTxOut(tree.Nodes[child].Output.TxOut())
	}
	tx.TxIn[0].Witness = node.Tap.Witness()

	if err := verifySpend(tx, node); err != nil {
		return nil, err
	}

	return tx, nil
}

// verifySpend makes sure the spend satisfies the node's covenant.
func verifySpend(tx *wire.MsgTx, node *Node) error {
	digest, err := TemplateHashFromTx(tx, TemplateInputIndex)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCommitmentMismatch, err)
	}
	if digest != node.Commitment.Digest {
		return fmt.Errorf("%w: spend hashes to %v, committed %v",
			ErrCommitmentMismatch, digest, node.Commitment.Digest)
	}

	leafDigest, ok := ParseRestrictionScript(node.Tap.LeafScript)
	if !ok || leafDigest != digest {
		return fmt.Errorf("%w: leaf script does not commit to %v",
			ErrCommitmentMismatch, digest)
	}

	return nil
}

// SpendStep is a single covenant spend of a spend plan.
type SpendStep struct {
	// Node is the arena index of the spent internal node.
	Node int

	// Outpoint is the outpoint of the spent node output.
	Outpoint wire.OutPoint

	// PrevOut is the spent node output.
	PrevOut *wire.TxOut

	Tx *wire.MsgTx
}

// AssembleSpendPlan assembles the spends of all internal nodes, given the
// outpoint funding the root. Steps are ordered so every transaction comes
// after the one creating its input, which is the order to broadcast them in.
func AssembleSpendPlan(rootOutpoint wire.OutPoint,
	tree *CovenantTree) ([]*SpendStep, error) {

	outpoints := map[int]wire.OutPoint{
		tree.RootIndex(): rootOutpoint,
	}

	internal := tree.Internal()
	steps := make([]*SpendStep, 0, len(internal))
	for _, idx := range internal {
		outpoint, ok := outpoints[idx]
		if !ok {
			return nil, fmt.Errorf("%w: node %d has no funding "+
				"outpoint", ErrUnknownNode, idx)
		}

		tx, err := AssembleSpend(outpoint, tree, idx)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", idx, err)
		}

		txid := tx.TxHash()
		for vout, child := range tree.Nodes[idx].Children {
			outpoints[child] = wire.OutPoint{
				Hash:  txid,
				Index: uint32(vout),
			}
		}

		steps = append(steps, &SpendStep{
			Node:     idx,
			Outpoint: outpoint,
			PrevOut:  tree.Nodes[idx].Output.TxOut(),
			Tx:       tx,
		})
	}

	return steps, nil
}

// SpendPacket wraps a covenant spend into a finalized PSBT that carries the
// spent output and the tap leaf, so external tooling can inspect or extract
// it.
func SpendPacket(step *SpendStep, tap *TapCommitment) (*psbt.Packet, error) {
	// The packet has to be created from the unwitnessed transaction.
	unsigned := step.Tx.Copy()
	for _, txIn := range unsigned.TxIn {
		txIn.Witness = nil
	}

	packet, err := psbt.NewFromUnsignedTx(unsigned)
	if err != nil {
		return nil, fmt.Errorf("error creating PSBT: %w", err)
	}

	witness, err := serializeWitness(tap.Witness())
	if err != nil {
		return nil, fmt.Errorf("error serializing witness: %w", err)
	}

	packet.Inputs[0] = psbt.PInput{
		WitnessUtxo:        step.PrevOut,
		TaprootInternalKey: schnorr.SerializePubKey(tap.InternalKey),
		TaprootLeafScript: []*psbt.TaprootTapLeafScript{{
			ControlBlock: tap.ControlBlock,
			Script:       tap.LeafScript,
			LeafVersion:  tap.LeafVersion,
		}},
		FinalScriptWitness: witness,
	}

	return packet, nil
}

// serializeWitness encodes a witness stack the way it appears in a PSBT
// final script witness field.
func serializeWitness(witness wire.TxWitness) ([]byte, error) {
	var buf bytes.Buffer
	if err := wire.WriteVarInt(&buf, 0, uint64(len(witness))); err != nil {
		return nil, err
	}
	for _, item := range witness {
		if err := wire.WriteVarBytes(&buf, 0, item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
