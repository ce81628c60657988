package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/spf13/cobra"
)

const defaultSendBTC = 1.0

type sendCommand struct {
	cmd *cobra.Command
}

func newSendCommand() *cobra.Command {
	cc := &sendCommand{}
	cc.cmd = &cobra.Command{
		Use:   "send <address> [amount]",
		Short: "Pay an address from the wallet and mine a block",
		Long: `Sends amount BTC from the wallet to address and mines a
block to confirm it. If the wallet cannot cover the amount, enough blocks
are mined first to mature a coinbase.`,
		Example: `ctv-tree-builder send bcrt1q... 0.5`,
		Args:    cobra.RangeArgs(1, 2),
		RunE:    cc.Execute,
	}

	return cc.cmd
}

func (c *sendCommand) Execute(_ *cobra.Command, args []string) error {
	addr, amount, err := parseSendArgs(args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	backend, err := newBackend()
	if err != nil {
		return err
	}
	defer backend.Shutdown()

	miningAddr, err := backend.NewAddress()
	if err != nil {
		return err
	}

	balance, err := backend.Balance(ctx)
	if err != nil {
		return err
	}
	if balance < amount {
		blocks := int64(chainParams.CoinbaseMaturity) + 1
		log.Infof("Balance %v too low, mining %d blocks", balance,
			blocks)
		if _, err := backend.MineTo(miningAddr, blocks); err != nil {
			return err
		}
	}

	txid, err := backend.SendToAddress(addr, amount)
	if err != nil {
		return err
	}
	fmt.Printf("Sent %v to %v in %v\n", amount, addr, txid)

	if _, err := backend.MineTo(miningAddr, 1); err != nil {
		return err
	}
	fmt.Printf("Mined txid %v\n", txid)

	return nil
}

// parseSendArgs decodes the address and optional BTC amount.
func parseSendArgs(args []string) (btcutil.Address, btcutil.Amount, error) {
	addr, err := btcutil.DecodeAddress(args[0], chainParams)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid address: %w", err)
	}
	if !addr.IsForNet(chainParams) {
		return nil, 0, fmt.Errorf("address %s is not for %s", args[0],
			chainParams.Name)
	}

	btc := defaultSendBTC
	if len(args) > 1 {
		btc, err = strconv.ParseFloat(args[1], 64)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid amount: %w", err)
		}
	}

	amount, err := btcutil.NewAmount(btc)
	if err != nil {
		return nil, 0, err
	}
	if amount <= 0 {
		return nil, 0, fmt.Errorf("amount must be positive")
	}

	return addr, amount, nil
}
