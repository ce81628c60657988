package main

import (
	"fmt"

	"github.com/spf13/cobra"

	ctvbuilders "github.com/SashaZezulinsky/ctv-tree-builder"
)

type plansCommand struct {
	cmd *cobra.Command
}

func newPlansCommand() *cobra.Command {
	cc := &plansCommand{}
	cc.cmd = &cobra.Command{
		Use:   "plans",
		Short: "List the saved covenant plans",
		Args:  cobra.NoArgs,
		RunE:  cc.Execute,
	}

	return cc.cmd
}

func (c *plansCommand) Execute(_ *cobra.Command, _ []string) error {
	store, err := openPlanStore()
	if err != nil {
		return fmt.Errorf("error opening plan database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Errorf("Error closing plan database: %v", err)
		}
	}()

	plans, err := store.List()
	if err != nil {
		return err
	}

	for _, plan := range plans {
		funding := plan.FundingOutpoint
		if funding == "" {
			funding = "unfunded"
		}
		fmt.Printf("%s  %s  %d leaves, branching %d, %d sats, %s\n",
			plan.RootAddress, plan.Network, len(plan.Leaves),
			plan.Branching, ctvbuilders.SumValues(plan.Leaves),
			funding)
	}

	return nil
}
