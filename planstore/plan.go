package planstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	ctvbuilders "github.com/SashaZezulinsky/ctv-tree-builder"
)

var (
	// ErrPlanMismatch is returned when a rebuilt tree does not commit to
	// the root digest the plan was saved with.
	ErrPlanMismatch = errors.New("rebuilt tree does not match plan")
)

// Plan is everything needed to rebuild a covenant tree and spend it later.
// The tree itself is not stored, it is a pure function of these fields.
type Plan struct {
	// Network is the name of the chain parameters the root address is
	// encoded for.
	Network string `json:"network"`

	// RootAddress is the taproot address funding the tree. Plans are
	// keyed by it.
	RootAddress string `json:"root_address"`

	// RootDigest is the template hash committed to by the root.
	RootDigest string `json:"root_digest"`

	Leaves    []ctvbuilders.OutputSpec `json:"leaves"`
	Branching int                      `json:"branching"`
	NodeFee   uint64                   `json:"node_fee"`
	Sequence  *uint32                  `json:"sequence,omitempty"`

	// InternalKey is the x-only internal key shared by all nodes.
	InternalKey []byte `json:"internal_key"`

	// FundingOutpoint is the outpoint paying to the root address, once
	// known.
	FundingOutpoint string `json:"funding_outpoint,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewPlan captures tree so it can be rebuilt with Rebuild.
func NewPlan(tree *ctvbuilders.CovenantTree,
	params *chaincfg.Params) (*Plan, error) {

	root := tree.Root()
	if root.Commitment == nil || root.Tap == nil {
		return nil, fmt.Errorf("tree root is not a covenant node")
	}

	addr, err := ctvbuilders.DeriveAddress(root.Tap.OutputKey, params)
	if err != nil {
		return nil, err
	}

	leafIdxs := tree.Leaves()
	leaves := make([]ctvbuilders.OutputSpec, 0, len(leafIdxs))
	for _, idx := range leafIdxs {
		leaves = append(leaves, tree.Nodes[idx].Output)
	}

	return &Plan{
		Network:     params.Name,
		RootAddress: addr.EncodeAddress(),
		RootDigest:  root.Commitment.Digest.String(),
		Leaves:      leaves,
		Branching:   tree.Branching,
		NodeFee:     tree.NodeFee,
		Sequence:    root.Commitment.Sequence,
		InternalKey: schnorr.SerializePubKey(tree.InternalKey),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// SetFunding records the outpoint paying to the root address.
func (p *Plan) SetFunding(outpoint wire.OutPoint) {
	p.FundingOutpoint = outpoint.String()
}

// Funding returns the recorded funding outpoint.
func (p *Plan) Funding() (*wire.OutPoint, error) {
	if p.FundingOutpoint == "" {
		return nil, fmt.Errorf("plan for %s has no funding outpoint",
			p.RootAddress)
	}

	return wire.NewOutPointFromString(p.FundingOutpoint)
}

// Rebuild reconstructs the covenant tree of the plan and checks that it
// still commits to the saved root digest.
func (p *Plan) Rebuild() (*ctvbuilders.CovenantTree, error) {
	internalKey, err := schnorr.ParsePubKey(p.InternalKey)
	if err != nil {
		return nil, fmt.Errorf("invalid internal key: %w", err)
	}
	wantDigest, err := chainhash.NewHashFromStr(p.RootDigest)
	if err != nil {
		return nil, fmt.Errorf("invalid root digest: %w", err)
	}

	builder := ctvbuilders.NewTxBuilder(ctvbuilders.WithKeySource(
		ctvbuilders.StaticKeySource{Key: internalKey},
	))

	var tree *ctvbuilders.CovenantTree
	if len(p.Leaves) == 1 {
		tree, err = builder.BuildFanOut(p.Leaves, p.Sequence)
	} else {
		tree, err = builder.BuildTree(p.Leaves, ctvbuilders.TreeOptions{
			Branching: p.Branching,
			NodeFee:   p.NodeFee,
			Sequence:  p.Sequence,
		})
	}
	if err != nil {
		return nil, err
	}

	if tree.Root().Commitment.Digest != *wantDigest {
		return nil, fmt.Errorf("%w: root digest %v, expected %v",
			ErrPlanMismatch, tree.Root().Commitment.Digest,
			wantDigest)
	}

	return tree, nil
}
