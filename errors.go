package ctvbuilders

import "errors"

var (
	// ErrInvalidDigestLength is returned when a template digest is not
	// exactly 32 bytes long.
	ErrInvalidDigestLength = errors.New("template digest must be 32 bytes")

	// ErrInsufficientFunds is returned when the input value cannot cover
	// the fee, the reserved outputs and at least one unit per leaf.
	ErrInsufficientFunds = errors.New("insufficient input value")

	// ErrUnbalancedTree is returned when a level of the covenant tree
	// cannot be split evenly by the branching factor.
	ErrUnbalancedTree = errors.New("leaf count not compatible with " +
		"branching factor")

	// ErrTreeFinalize is returned when the taproot commitment for a leaf
	// script cannot be constructed.
	ErrTreeFinalize = errors.New("unable to finalize taproot commitment")

	// ErrCommitmentMismatch is returned when an assembled spend does not
	// reproduce the stored template digest. Such a spend must never be
	// broadcast.
	ErrCommitmentMismatch = errors.New("assembled spend does not match " +
		"template commitment")

	// ErrEmptyTemplate is returned when a template without outputs is
	// requested.
	ErrEmptyTemplate = errors.New("template must commit to at least one " +
		"output")

	// ErrInvalidBranching is returned for branching factors below two.
	ErrInvalidBranching = errors.New("branching factor must be at least 2")

	// ErrInvalidOutput is returned for outputs that cannot be encoded.
	ErrInvalidOutput = errors.New("invalid output")

	// ErrUnknownNode is returned when a node index is out of range or does
	// not refer to an internal node.
	ErrUnknownNode = errors.New("unknown covenant node")
)
