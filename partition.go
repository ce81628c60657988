package ctvbuilders

import (
	"errors"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/wire"
)

// VSizeEstimator returns the virtual size of a fully witnessed transaction.
type VSizeEstimator interface {
	EstimateVSize(tx *wire.MsgTx) (int64, error)
}

// LocalVSizeEstimator computes the BIP-141 virtual size locally. This is the
// same value a node reports from testmempoolaccept for the transaction.
type LocalVSizeEstimator struct{}

// EstimateVSize returns ceil(weight / 4) of tx.
func (LocalVSizeEstimator) EstimateVSize(tx *wire.MsgTx) (int64, error) {
	return mempool.GetTxVirtualSize(btcutil.NewTx(tx)), nil
}

// FeeBudget records how the fee of a spend was derived.
type FeeBudget struct {
	FeeRate        uint64
	Reserved       []OutputSpec
	EstimatedVSize uint64
	Fee            uint64
}

// PartitionParams contains parameters for splitting an input value across
// equal leaf outputs.
type PartitionParams struct {
	InputValue uint64
	LeafCount  int

	// FeeRate in satoshis per vbyte.
	FeeRate uint64

	// Destinations holds either one script used by every leaf or exactly
	// LeafCount scripts.
	Destinations [][]byte

	// Reserved outputs are appended after the leaves with their fixed
	// value, e.g. a fee bump anchor.
	Reserved []OutputSpec

	// Sequence overrides the committed input sequence.
	Sequence *uint32
}

// Partition is the result of splitting an input value.
type Partition struct {
	// Outputs are the leaf outputs followed by the reserved outputs.
	Outputs []OutputSpec

	// PerLeafValue is the value of every leaf output.
	PerLeafValue uint64

	// Fee is the fee derived from the estimated vsize and the fee rate
	// (or the fee floor).
	Fee uint64

	// Remainder is the part of the distributable value that could not be
	// split evenly. It is always smaller than the leaf count and goes to
	// the miner.
	Remainder uint64

	Budget FeeBudget
}

// Partition splits params.InputValue into params.LeafCount equal outputs
// after paying for the spend. The size of the spend is estimated from a
// dummy with zero valued outputs and a full script path witness, so the
// estimate matches the final transaction byte for byte.
//
// Leaf values are derived by floor division; the remainder of at most
// LeafCount-1 satoshis is intentionally absorbed into the fee.
func (tb *TxBuilder) Partition(params *PartitionParams) (*Partition, error) {
	// Validate parameters
	if params.LeafCount <= 0 {
		return nil, errors.New("leaf count must be positive")
	}
	if len(params.Destinations) != 1 &&
		len(params.Destinations) != params.LeafCount {

		return nil, fmt.Errorf("need 1 or %d destinations, got %d",
			params.LeafCount, len(params.Destinations))
	}
	feeRate := params.FeeRate
	if feeRate < MinFeeRate {
		feeRate = MinFeeRate
	}

	var reservedValue uint64
	for i, o := range params.Reserved {
		if err := o.validate(); err != nil {
			return nil, fmt.Errorf("reserved output %d: %w", i, err)
		}
		reservedValue += o.Value
		if reservedValue > btcutil.MaxSatoshi {
			return nil, fmt.Errorf("%w: reserved outputs exceed "+
				"max money", ErrInvalidOutput)
		}
	}

	// The dummy has the exact shape of the final spend, only the values
	// differ, which does not change the serialized size.
	dummyOutputs := tb.leafOutputs(params, 0)
	tx, err := tb.dummySpend(dummyOutputs, params.Sequence)
	if err != nil {
		return nil, err
	}

	vsize, err := tb.estimator.EstimateVSize(tx)
	if err != nil {
		return nil, fmt.Errorf("unable to estimate vsize: %w", err)
	}
	if vsize <= 0 {
		return nil, fmt.Errorf("estimator returned vsize %d", vsize)
	}
	if feeRate > math.MaxUint64/uint64(vsize) {
		return nil, fmt.Errorf("%w: fee rate %d overflows the fee of "+
			"%d vbytes", ErrInsufficientFunds, feeRate, vsize)
	}
	fee := uint64(vsize) * feeRate
	if fee < tb.feeFloor {
		fee = tb.feeFloor
	}

	// Guard the unsigned arithmetic before deriving the leaf value.
	if reservedValue > math.MaxUint64-fee ||
		params.InputValue < fee+reservedValue {

		return nil, fmt.Errorf("%w: input %d < fee %d + reserved %d",
			ErrInsufficientFunds, params.InputValue, fee,
			reservedValue)
	}
	distributable := params.InputValue - fee - reservedValue
	leafCount := uint64(params.LeafCount)
	if distributable < leafCount {
		return nil, fmt.Errorf("%w: %d sats left for %d leaves",
			ErrInsufficientFunds, distributable, leafCount)
	}

	perLeaf := distributable / leafCount
	remainder := distributable % leafCount

	log.Debugf("Partitioned %d sats into %d leaves of %d sats (vsize=%d, "+
		"fee=%d, remainder=%d)", params.InputValue, leafCount, perLeaf,
		vsize, fee, remainder)

	return &Partition{
		Outputs:      tb.leafOutputs(params, perLeaf),
		PerLeafValue: perLeaf,
		Fee:          fee,
		Remainder:    remainder,
		Budget: FeeBudget{
			FeeRate:        feeRate,
			Reserved:       params.Reserved,
			EstimatedVSize: uint64(vsize),
			Fee:            fee,
		},
	}, nil
}

// PaidFee is the fee the spend effectively pays, the rounding remainder
// included.
func (p *Partition) PaidFee() uint64 {
	return p.Fee + p.Remainder
}

// leafOutputs creates the leaf outputs at the given value followed by the
// reserved outputs.
func (tb *TxBuilder) leafOutputs(params *PartitionParams,
	value uint64) []OutputSpec {

	outputs := make([]OutputSpec, 0, params.LeafCount+len(params.Reserved))
	for i := 0; i < params.LeafCount; i++ {
		dest := params.Destinations[0]
		if len(params.Destinations) > 1 {
			dest = params.Destinations[i]
		}
		outputs = append(outputs, OutputSpec{
			Value:    value,
			PkScript: dest,
		})
	}

	return append(outputs, params.Reserved...)
}

// dummySpend builds a witnessed spend of a single leaf commitment to the
// given outputs, spending a null outpoint.
func (tb *TxBuilder) dummySpend(outputs []OutputSpec,
	sequence *uint32) (*wire.MsgTx, error) {

	commitment, err := NewTemplateCommitment(outputs, sequence)
	if err != nil {
		return nil, err
	}
	internalKey, err := tb.keys.InternalKey()
	if err != nil {
		return nil, fmt.Errorf("unable to get internal key: %w", err)
	}
	tap, err := commitTemplate(internalKey, commitment)
	if err != nil {
		return nil, err
	}

	tx := newTemplateTx(wire.OutPoint{}, commitment.EffectiveSequence())
	for _, txOut := range commitment.TxOuts() {
		tx.AddTxOut(txOut)
	}
	tx.TxIn[0].Witness = tap.Witness()

	return tx, nil
}
