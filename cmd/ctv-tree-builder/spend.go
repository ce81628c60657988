package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type spendCommand struct {
	Root string
	PSBT bool

	cmd *cobra.Command
}

func newSpendCommand() *cobra.Command {
	cc := &spendCommand{}
	cc.cmd = &cobra.Command{
		Use:   "spend",
		Short: "Unroll a saved covenant tree",
		Long: `Loads the plan saved for a root address, rebuilds the tree
from it and makes sure it still commits to the saved root digest. Every
level is then broadcast and mined from the root down.`,
		Example: `ctv-tree-builder spend --root bcrt1p...`,
		Args:    cobra.NoArgs,
		RunE:    cc.Execute,
	}
	cc.cmd.Flags().StringVar(
		&cc.Root, "root", "", "taproot address of the tree root")
	cc.cmd.Flags().BoolVar(
		&cc.PSBT, "psbt", false, "also print every spend as a base64 "+
			"PSBT",
	)
	_ = cc.cmd.MarkFlagRequired("root")

	return cc.cmd
}

func (c *spendCommand) Execute(_ *cobra.Command, _ []string) error {
	store, err := openPlanStore()
	if err != nil {
		return fmt.Errorf("error opening plan database: %w", err)
	}
	plan, err := store.Load(c.Root)
	if closeErr := store.Close(); closeErr != nil {
		log.Errorf("Error closing plan database: %v", closeErr)
	}
	if err != nil {
		return err
	}

	if plan.Network != chainParams.Name {
		return fmt.Errorf("plan is for %s, not %s", plan.Network,
			chainParams.Name)
	}

	tree, err := plan.Rebuild()
	if err != nil {
		return err
	}
	funding, err := plan.Funding()
	if err != nil {
		return err
	}

	ctx := context.Background()
	backend, err := newBackend()
	if err != nil {
		return err
	}
	defer backend.Shutdown()

	fundingOut, err := backend.PrevOut(ctx, *funding)
	if err != nil {
		return fmt.Errorf("error looking up funding output %v: %w",
			funding, err)
	}

	steps, err := spendPlan(tree, *funding, fundingOut)
	if err != nil {
		return err
	}
	if c.PSBT {
		if err := printPackets(tree, steps); err != nil {
			return err
		}
	}

	mineAddr, err := backend.NewAddress()
	if err != nil {
		return err
	}
	_, err = broadcastLevels(ctx, backend, tree, steps, mineAddr)
	return err
}
