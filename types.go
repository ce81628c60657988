package ctvbuilders

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// OutputSpec is a single output of a template transaction. The order of a
// slice of OutputSpecs is significant, the template hash commits to it.
type OutputSpec struct {
	Value    uint64 `json:"value"`
	PkScript []byte `json:"pk_script"`
}

// TxOut converts the spec into its wire representation.
func (o OutputSpec) TxOut() *wire.TxOut {
	return wire.NewTxOut(int64(o.Value), o.PkScript)
}

// validate makes sure the value fits into a wire output.
func (o OutputSpec) validate() error {
	if o.Value > btcutil.MaxSatoshi {
		return fmt.Errorf("%w: value %d exceeds max money", ErrInvalidOutput,
			o.Value)
	}
	return nil
}

// NewOutputSpec creates an output paying value to the given address.
func NewOutputSpec(value uint64, addr btcutil.Address) (OutputSpec, error) {
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return OutputSpec{}, err
	}
	return OutputSpec{Value: value, PkScript: pkScript}, nil
}

// SumValues returns the total value of the given outputs.
func SumValues(outputs []OutputSpec) uint64 {
	var total uint64
	for _, o := range outputs {
		total += o.Value
	}
	return total
}

// TxBuilder provides methods to build deterministic covenant transactions.
// It only holds immutable configuration and is safe for concurrent use.
type TxBuilder struct {
	keys      KeySource
	estimator VSizeEstimator
	feeFloor  uint64
}

// BuilderOption configures a TxBuilder.
type BuilderOption func(*TxBuilder)

// WithKeySource sets the source of taproot internal keys.
func WithKeySource(keys KeySource) BuilderOption {
	return func(tb *TxBuilder) {
		tb.keys = keys
	}
}

// WithVSizeEstimator sets the estimator used to size dummy spends.
func WithVSizeEstimator(estimator VSizeEstimator) BuilderOption {
	return func(tb *TxBuilder) {
		tb.estimator = estimator
	}
}

// WithFeeFloor sets the minimum absolute fee paid by a partitioned spend.
func WithFeeFloor(floor uint64) BuilderOption {
	return func(tb *TxBuilder) {
		tb.feeFloor = floor
	}
}

// NewTxBuilder creates a new TxBuilder instance. Without options it uses the
// unspendable NUMS internal key, the local BIP-141 vsize estimate and no fee
// floor.
func NewTxBuilder(opts ...BuilderOption) *TxBuilder {
	tb := &TxBuilder{
		keys:      NUMSKeySource{},
		estimator: LocalVSizeEstimator{},
	}
	for _, opt := range opts {
		opt(tb)
	}
	return tb
}

const (
	// TxVersion is the version of every template transaction.
	TxVersion = 3

	// TemplateLockTime is the locktime of every template transaction.
	TemplateLockTime = 0

	// TemplateInputIndex is the index of the single template input.
	TemplateInputIndex = 0

	// DefaultSequence signals opt-in replaceability without a relative
	// locktime.
	DefaultSequence = mempool.MaxRBFSequence

	// AnchorValue is the value of the fee bump anchor output.
	AnchorValue = 330

	// MinLeafValue is the smallest leaf value accepted when splitting a
	// coinbase over wallet outputs. It is the dust threshold of a P2PKH
	// output, the largest standard script a wallet hands out.
	MinLeafValue = 546

	// MinFeeRate is the lowest fee rate in sat/vbyte a partition pays.
	MinFeeRate = 1
)

// anchorScript is the pay-to-anchor output script: OP_1 <0x4e73>.
var anchorScript = []byte{txscript.OP_1, txscript.OP_DATA_2, 0x4e, 0x73}

// AnchorOutput returns the fee bump anchor appended to fan-out spends.
func AnchorOutput() OutputSpec {
	script := make([]byte, len(anchorScript))
	copy(script, anchorScript)
	return OutputSpec{Value: AnchorValue, PkScript: script}
}

// newTemplateTx creates a transaction with the fixed template fields and a
// single input spending prevOut.
func newTemplateTx(prevOut wire.OutPoint, sequence uint32) *wire.MsgTx {
	tx := wire.NewMsgTx(TxVersion)
	tx.LockTime = TemplateLockTime

	txIn := wire.NewTxIn(&prevOut, nil, nil)
	txIn.Sequence = sequence
	tx.AddTxIn(txIn)

	return tx
}

// effectiveSequence resolves an optional sequence override.
func effectiveSequence(override *uint32) uint32 {
	if override != nil {
		return *override
	}
	return DefaultSequence
}
