package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/txscript"
	"github.com/spf13/cobra"

	ctvbuilders "github.com/SashaZezulinsky/ctv-tree-builder"
)

const defaultFanOutCount = 50

type fanOutCommand struct {
	FeeRate  uint64
	FeeFloor uint64
	Anchor   bool
	NUMS     bool
	Sequence uint32
	PSBT     bool

	cmd *cobra.Command
}

func newFanOutCommand() *cobra.Command {
	cc := &fanOutCommand{}
	cc.cmd = &cobra.Command{
		Use:   "fanout [count]",
		Short: "Mine a coinbase into a single level CTV fan-out and " +
			"spend it",
		Long: `Mines a block to learn the current coinbase value, splits it
into count equal outputs paying to a wallet address after fees, commits to
them with a single CTV template and mines the next coinbase to the resulting
taproot address. Once the coinbase is mature, the covenant is spent without
any signature.`,
		Example: `ctv-tree-builder fanout 50 --feerate 1 --anchor`,
		Args:    cobra.MaximumNArgs(1),
		RunE:    cc.Execute,
	}
	cc.cmd.Flags().Uint64Var(
		&cc.FeeRate, "feerate", ctvbuilders.MinFeeRate, "fee rate in "+
			"sat/vByte paid by the fan-out spend",
	)
	cc.cmd.Flags().Uint64Var(
		&cc.FeeFloor, "feefloor", 0, "minimum absolute fee in sats "+
			"paid by the fan-out spend",
	)
	cc.cmd.Flags().BoolVar(
		&cc.Anchor, "anchor", true, "add a 330 sat pay-to-anchor "+
			"output for CPFP fee bumping",
	)
	cc.cmd.Flags().BoolVar(
		&cc.NUMS, "nums", false, "use the unspendable NUMS point as "+
			"internal key instead of a random one",
	)
	cc.cmd.Flags().Uint32Var(
		&cc.Sequence, "sequence", ctvbuilders.DefaultSequence,
		"nSequence committed to by the spend",
	)
	cc.cmd.Flags().BoolVar(
		&cc.PSBT, "psbt", false, "also print the spend as a base64 "+
			"PSBT",
	)

	return cc.cmd
}

func (c *fanOutCommand) Execute(_ *cobra.Command, args []string) error {
	count := defaultFanOutCount
	if len(args) > 0 {
		var err error
		count, err = strconv.Atoi(args[0])
		if err != nil || count < 1 {
			return fmt.Errorf("invalid output count %q", args[0])
		}
	}

	ctx := context.Background()
	backend, err := newBackend()
	if err != nil {
		return err
	}
	defer backend.Shutdown()

	spendAddr, err := backend.NewAddress()
	if err != nil {
		return err
	}
	dummyAddr, err := backend.NewAddress()
	if err != nil {
		return err
	}

	// The coinbase of a freshly mined block tells us how much the
	// covenant coinbase will be worth.
	inputValue, err := coinbaseValue(ctx, backend, dummyAddr)
	if err != nil {
		return err
	}

	builder := newBuilder(c.NUMS, ctvbuilders.WithFeeFloor(c.FeeFloor))

	destScript, err := txscript.PayToAddrScript(spendAddr)
	if err != nil {
		return err
	}
	partition, tree, err := planFanOut(builder, &ctvbuilders.PartitionParams{
		InputValue:   inputValue,
		LeafCount:    count,
		FeeRate:      c.FeeRate,
		Destinations: [][]byte{destScript},
		Sequence:     &c.Sequence,
	}, c.Anchor)
	if err != nil {
		return err
	}

	fmt.Printf("Splitting %d sats into %d outputs of %d sats, fee %d "+
		"sats (%d vbytes)\n", inputValue, count, partition.PerLeafValue,
		partition.PaidFee(), partition.Budget.EstimatedVSize)

	funding, fundingOut, err := fundRoot(ctx, backend, tree, spendAddr)
	if err != nil {
		return err
	}
	plan, err := savePlan(tree, funding)
	if err != nil {
		return err
	}
	fmt.Printf("Saved plan for %s\n", plan.RootAddress)

	steps, err := spendPlan(tree, funding, fundingOut)
	if err != nil {
		return err
	}
	if err := printTx("Spend tx", steps[0].Tx); err != nil {
		return err
	}
	if c.PSBT {
		if err := printPackets(tree, steps); err != nil {
			return err
		}
	}

	_, err = broadcastLevels(ctx, backend, tree, steps, spendAddr)
	return err
}

// planFanOut partitions the input into equal outputs and commits to all of
// them in a single template. The anchor, if any, is the last output.
func planFanOut(builder *ctvbuilders.TxBuilder,
	params *ctvbuilders.PartitionParams,
	anchor bool) (*ctvbuilders.Partition, *ctvbuilders.CovenantTree,
	error) {

	if anchor {
		params.Reserved = []ctvbuilders.OutputSpec{
			ctvbuilders.AnchorOutput(),
		}
	}

	partition, err := builder.Partition(params)
	if err != nil {
		return nil, nil, err
	}

	tree, err := builder.BuildFanOut(partition.Outputs, params.Sequence)
	if err != nil {
		return nil, nil, err
	}

	return partition, tree, nil
}
