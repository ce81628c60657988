package main

import (
	"context"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/spf13/cobra"

	ctvbuilders "github.com/SashaZezulinsky/ctv-tree-builder"
	"github.com/SashaZezulinsky/ctv-tree-builder/chain"
)

const (
	defaultTreeLeaves = 4
	defaultBranching  = 2
	defaultNodeFee    = 500
)

type treeCommand struct {
	Leaves    int
	Branching int
	NodeFee   uint64
	NUMS      bool
	Sequence  uint32
	NoSpend   bool
	PSBT      bool

	cmd *cobra.Command
}

func newTreeCommand() *cobra.Command {
	cc := &treeCommand{}
	cc.cmd = &cobra.Command{
		Use:   "tree",
		Short: "Mine a coinbase into a multi level CTV tree and unroll it",
		Long: `Splits the next coinbase into leaves paying to fresh wallet
addresses and commits to them bottom up, grouping branching outputs per
covenant until a single root remains. The coinbase is mined to the root
address, the plan is saved and, once mature, every level is broadcast and
mined from the root down.`,
		Example: `ctv-tree-builder tree --leaves 8 --branching 2 ` +
			`--nodefee 500`,
		Args: cobra.NoArgs,
		RunE: cc.Execute,
	}
	cc.cmd.Flags().IntVar(
		&cc.Leaves, "leaves", defaultTreeLeaves, "number of leaf "+
			"outputs; must be a power of the branching factor",
	)
	cc.cmd.Flags().IntVar(
		&cc.Branching, "branching", defaultBranching, "number of "+
			"outputs each covenant spend creates",
	)
	cc.cmd.Flags().Uint64Var(
		&cc.NodeFee, "nodefee", defaultNodeFee, "fee in sats paid by "+
			"each covenant spend",
	)
	cc.cmd.Flags().BoolVar(
		&cc.NUMS, "nums", false, "use the unspendable NUMS point as "+
			"internal key instead of a random one",
	)
	cc.cmd.Flags().Uint32Var(
		&cc.Sequence, "sequence", ctvbuilders.DefaultSequence,
		"nSequence committed to by every spend",
	)
	cc.cmd.Flags().BoolVar(
		&cc.NoSpend, "nospend", false, "only fund the root and save "+
			"the plan; spend it later with the spend command",
	)
	cc.cmd.Flags().BoolVar(
		&cc.PSBT, "psbt", false, "also print every spend as a base64 "+
			"PSBT",
	)

	return cc.cmd
}

func (c *treeCommand) Execute(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	backend, err := newBackend()
	if err != nil {
		return err
	}
	defer backend.Shutdown()

	mineAddr, err := backend.NewAddress()
	if err != nil {
		return err
	}
	inputValue, err := coinbaseValue(ctx, backend, mineAddr)
	if err != nil {
		return err
	}

	addrs, err := leafAddresses(backend, c.Leaves)
	if err != nil {
		return err
	}
	leaves, err := treeLeaves(
		inputValue, addrs, c.Branching, c.NodeFee,
	)
	if err != nil {
		return err
	}

	tree, err := newBuilder(c.NUMS).BuildTree(leaves, ctvbuilders.TreeOptions{
		Branching: c.Branching,
		NodeFee:   c.NodeFee,
		Sequence:  &c.Sequence,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Built tree of depth %d with %d leaves of %d sats\n",
		tree.Depth(), len(leaves), leaves[0].Value)

	funding, fundingOut, err := fundRoot(ctx, backend, tree, mineAddr)
	if err != nil {
		return err
	}
	plan, err := savePlan(tree, funding)
	if err != nil {
		return err
	}
	fmt.Printf("Saved plan for %s funded by %v\n", plan.RootAddress,
		funding)

	if c.NoSpend {
		fmt.Printf("Spend it with: ctv-tree-builder spend --root %s\n",
			plan.RootAddress)
		return nil
	}

	steps, err := spendPlan(tree, funding, fundingOut)
	if err != nil {
		return err
	}
	if c.PSBT {
		if err := printPackets(tree, steps); err != nil {
			return err
		}
	}

	_, err = broadcastLevels(ctx, backend, tree, steps, mineAddr)
	return err
}

// leafAddresses returns count fresh wallet addresses.
func leafAddresses(backend *chain.Backend, count int) ([]btcutil.Address,
	error) {

	addrs := make([]btcutil.Address, 0, count)
	for i := 0; i < count; i++ {
		addr, err := backend.NewAddress()
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}

	return addrs, nil
}

// internalNodeCount returns the number of covenant spends of a balanced
// tree over the given number of leaves.
func internalNodeCount(leaves, branching int) int {
	if branching < 2 {
		return 0
	}

	count := 0
	for n := leaves; n > 1; n /= branching {
		count += n / branching
	}
	return count
}

// treeLeaves splits inputValue equally over the addresses after setting
// aside the fee of every covenant spend. The rounding remainder is paid as
// fee by the root spend.
func treeLeaves(inputValue uint64, addrs []btcutil.Address, branching int,
	nodeFee uint64) ([]ctvbuilders.OutputSpec, error) {

	if len(addrs) == 0 {
		return nil, ctvbuilders.ErrEmptyTemplate
	}

	spends := uint64(internalNodeCount(len(addrs), branching))
	if nodeFee != 0 && spends > math.MaxUint64/nodeFee {
		return nil, fmt.Errorf("%w: node fee of %d sats over %d "+
			"spends overflows", ctvbuilders.ErrInsufficientFunds,
			nodeFee, spends)
	}

	fees := nodeFee * spends
	if fees >= inputValue {
		return nil, fmt.Errorf("%w: node fees of %d sats exceed input "+
			"of %d sats", ctvbuilders.ErrInsufficientFunds, fees,
			inputValue)
	}

	leafValue := (inputValue - fees) / uint64(len(addrs))
	if leafValue < ctvbuilders.MinLeafValue {
		return nil, fmt.Errorf("%w: leaf value of %d sats is dust",
			ctvbuilders.ErrInsufficientFunds, leafValue)
	}

	leaves := make([]ctvbuilders.OutputSpec, len(addrs))
	for i, addr := range addrs {
		leaf, err := ctvbuilders.NewOutputSpec(leafValue, addr)
		if err != nil {
			return nil, err
		}
		leaves[i] = leaf
	}

	return leaves, nil
}
