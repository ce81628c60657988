package ctvbuilders

import (
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// numsPoint is the BIP-341 "Nothing Up My Sleeve" point H. Nobody knows its
// discrete log, so an output using it as internal key has no key path.
var numsPoint = []byte{
	0x50, 0x92, 0x9b, 0x74, 0xc1, 0xa0, 0x49, 0x54,
	0xb7, 0x8b, 0x4b, 0x60, 0x35, 0xe9, 0x7a, 0x5e,
	0x07, 0x8a, 0x5a, 0x0f, 0x28, 0xec, 0x96, 0xd5,
	0x47, 0xbf, 0xee, 0x9a, 0xce, 0x80, 0x3a, 0xc0,
}

// KeySource provides the internal key of taproot commitments.
type KeySource interface {
	InternalKey() (*btcec.PublicKey, error)
}

// NUMSKeySource always returns the unspendable NUMS point.
type NUMSKeySource struct{}

// InternalKey returns the NUMS point.
func (NUMSKeySource) InternalKey() (*btcec.PublicKey, error) {
	return schnorr.ParsePubKey(numsPoint)
}

// StaticKeySource always returns the same key.
type StaticKeySource struct {
	Key *btcec.PublicKey
}

// InternalKey returns the configured key.
func (s StaticKeySource) InternalKey() (*btcec.PublicKey, error) {
	if s.Key == nil {
		return nil, errors.New("static key source has no key")
	}
	return s.Key, nil
}

// RandomKeySource derives a fresh key from Rand on every call. The private
// key is discarded, the outputs are only spendable through the script path.
type RandomKeySource struct {
	Rand io.Reader
}

// InternalKey draws a new random key.
func (s RandomKeySource) InternalKey() (*btcec.PublicKey, error) {
	if s.Rand == nil {
		return nil, errors.New("random key source has no reader")
	}

	var keyBytes [32]byte
	for {
		if _, err := io.ReadFull(s.Rand, keyBytes[:]); err != nil {
			return nil, fmt.Errorf("unable to read key material: %w",
				err)
		}

		privKey, _ := btcec.PrivKeyFromBytes(keyBytes[:])
		if !privKey.Key.IsZero() {
			return privKey.PubKey(), nil
		}
	}
}

// TapCommitment is a taproot output committing to a single leaf script.
type TapCommitment struct {
	InternalKey  *btcec.PublicKey
	LeafScript   []byte
	LeafVersion  txscript.TapscriptLeafVersion
	OutputKey    *btcec.PublicKey
	ControlBlock []byte
}

// CommitSingleLeaf builds a one leaf script tree and tweaks the internal key
// with its root. The merkle path is empty, so the control block only holds
// the leaf version, the output key parity and the x-only internal key.
func CommitSingleLeaf(internalKey *btcec.PublicKey,
	leafScript []byte) (*TapCommitment, error) {

	if internalKey == nil {
		return nil, fmt.Errorf("%w: internal key missing",
			ErrTreeFinalize)
	}

	// Only the x coordinate of the internal key is committed to.
	xOnlyKey, err := schnorr.ParsePubKey(
		schnorr.SerializePubKey(internalKey),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTreeFinalize, err)
	}

	tapLeaf := txscript.NewBaseTapLeaf(leafScript)
	tapTree := txscript.AssembleTaprootScriptTree(tapLeaf)
	tapRoot := tapTree.RootNode.TapHash()

	outputKey := txscript.ComputeTaprootOutputKey(xOnlyKey, tapRoot[:])

	ctrlBlock := tapTree.LeafMerkleProofs[0].ToControlBlock(xOnlyKey)
	ctrlBlockBytes, err := ctrlBlock.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: unable to serialize control "+
			"block: %v", ErrTreeFinalize, err)
	}

	script := make([]byte, len(leafScript))
	copy(script, leafScript)

	return &TapCommitment{
		InternalKey:  xOnlyKey,
		LeafScript:   script,
		LeafVersion:  txscript.BaseLeafVersion,
		OutputKey:    outputKey,
		ControlBlock: ctrlBlockBytes,
	}, nil
}

// PkScript returns the P2TR output script paying to the output key.
func (t *TapCommitment) PkScript() ([]byte, error) {
	return txscript.PayToTaprootScript(t.OutputKey)
}

// Witness returns the script path witness [leaf script, control block].
func (t *TapCommitment) Witness() [][]byte {
	return [][]byte{t.LeafScript, t.ControlBlock}
}

// DeriveAddress formats the tweaked output key as a taproot address.
func DeriveAddress(outputKey *btcec.PublicKey,
	params *chaincfg.Params) (*btcutil.AddressTaproot, error) {

	return btcutil.NewAddressTaproot(
		schnorr.SerializePubKey(outputKey), params,
	)
}

// commitTemplate turns a template commitment into its restriction leaf and
// taproot output.
func commitTemplate(internalKey *btcec.PublicKey,
	commitment *TemplateCommitment) (*TapCommitment, error) {

	leafScript, err := BuildRestrictionScript(commitment.Digest[:])
	if err != nil {
		return nil, err
	}

	return CommitSingleLeaf(internalKey, leafScript)
}
