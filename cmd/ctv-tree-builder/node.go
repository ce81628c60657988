package main

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	ctvbuilders "github.com/SashaZezulinsky/ctv-tree-builder"
	"github.com/SashaZezulinsky/ctv-tree-builder/chain"
	"github.com/SashaZezulinsky/ctv-tree-builder/planstore"
)

// newBackend connects to the configured node and makes sure the wallet is
// loaded.
func newBackend() (*chain.Backend, error) {
	chainCfg := &chain.Config{
		Host:   cfg.RPCHost,
		User:   cfg.RPCUser,
		Pass:   cfg.RPCPass,
		Wallet: cfg.Wallet,
		Params: chainParams,
	}
	if cfg.RPCUser == "" {
		chainCfg.CookiePath = cfg.RPCCookie
	}

	backend, err := chain.New(chainCfg)
	if err != nil {
		return nil, err
	}
	if err := backend.EnsureWallet(); err != nil {
		backend.Shutdown()
		return nil, fmt.Errorf("error preparing wallet: %w", err)
	}

	return backend, nil
}

// openPlanStore opens the configured plan database.
func openPlanStore() (*planstore.Store, error) {
	return planstore.Open(cfg.PlanDB)
}

// newBuilder returns a tree builder. Internal keys are random unless the
// NUMS point is requested.
func newBuilder(nums bool, opts ...ctvbuilders.BuilderOption) *ctvbuilders.TxBuilder {
	var keys ctvbuilders.KeySource = ctvbuilders.RandomKeySource{
		Rand: rand.Reader,
	}
	if nums {
		keys = ctvbuilders.NUMSKeySource{}
	}

	return ctvbuilders.NewTxBuilder(
		append([]ctvbuilders.BuilderOption{
			ctvbuilders.WithKeySource(keys),
		}, opts...)...,
	)
}

// coinbaseValue mines a block to addr and returns the value of its
// coinbase, which is what the next coinbase will most likely pay as well.
func coinbaseValue(ctx context.Context, backend *chain.Backend,
	addr btcutil.Address) (uint64, error) {

	hashes, err := backend.MineTo(addr, 1)
	if err != nil {
		return 0, err
	}
	coinbase, err := backend.CoinbaseTx(ctx, hashes[0])
	if err != nil {
		return 0, err
	}

	return uint64(coinbase.TxOut[0].Value), nil
}

// fundRoot mines a coinbase paying to the root of tree and matures it by
// mining to matureAddr. It returns the funding outpoint and output.
func fundRoot(ctx context.Context, backend *chain.Backend,
	tree *ctvbuilders.CovenantTree,
	matureAddr btcutil.Address) (wire.OutPoint, *wire.TxOut, error) {

	root := tree.Root()
	rootAddr, err := ctvbuilders.DeriveAddress(
		root.Tap.OutputKey, chainParams,
	)
	if err != nil {
		return wire.OutPoint{}, nil, err
	}

	log.Infof("Mining to covenant root %s", rootAddr)
	hashes, err := backend.MineTo(rootAddr, 1)
	if err != nil {
		return wire.OutPoint{}, nil, err
	}
	coinbase, err := backend.CoinbaseTx(ctx, hashes[0])
	if err != nil {
		return wire.OutPoint{}, nil, err
	}

	funding := coinbase.TxOut[0]
	if uint64(funding.Value) < root.Value() {
		return wire.OutPoint{}, nil, fmt.Errorf("coinbase pays %d "+
			"sats, root needs %d", funding.Value, root.Value())
	}

	maturity := int64(chainParams.CoinbaseMaturity)
	log.Infof("Maturing coinbase %v with %d blocks", coinbase.TxHash(),
		maturity)
	if _, err := backend.MineTo(matureAddr, maturity); err != nil {
		return wire.OutPoint{}, nil, err
	}

	return wire.OutPoint{Hash: coinbase.TxHash(), Index: 0}, funding, nil
}

// spendPlan assembles all spends of tree from the funding outpoint. The
// root step is given the real funding output, which may carry more value
// than the root commits to.
func spendPlan(tree *ctvbuilders.CovenantTree, funding wire.OutPoint,
	fundingOut *wire.TxOut) ([]*ctvbuilders.SpendStep, error) {

	steps, err := ctvbuilders.AssembleSpendPlan(funding, tree)
	if err != nil {
		return nil, err
	}
	if fundingOut != nil {
		steps[0].PrevOut = fundingOut
	}

	return steps, nil
}

// broadcastLevels broadcasts the steps level by level from the root down,
// mining a block after each level.
func broadcastLevels(ctx context.Context, backend *chain.Backend,
	tree *ctvbuilders.CovenantTree, steps []*ctvbuilders.SpendStep,
	mineAddr btcutil.Address) ([]*chainhash.Hash, error) {

	var txids []*chainhash.Hash
	for i := 0; i < len(steps); {
		level := tree.Nodes[steps[i].Node].Level
		for ; i < len(steps) && tree.Nodes[steps[i].Node].Level == level; i++ {
			// The previous level is mined, so the node can
			// check the spend against its UTXO set.
			result, err := backend.CheckMempoolAccept(
				ctx, steps[i].Tx,
			)
			if err != nil {
				return txids, err
			}
			if !result.Allowed {
				return txids, fmt.Errorf("spend of node %d "+
					"rejected: %s", steps[i].Node,
					result.RejectReason)
			}
			log.Debugf("Spend of node %d accepted at %d vbytes",
				steps[i].Node, result.VSize)

			txid, err := backend.Broadcast(steps[i].Tx)
			if err != nil {
				return txids, fmt.Errorf("error broadcasting "+
					"spend of node %d: %w", steps[i].Node, err)
			}
			fmt.Printf("Broadcast spend of node %d (level %d): %v\n",
				steps[i].Node, level, txid)
			txids = append(txids, txid)
		}

		if _, err := backend.MineTo(mineAddr, 1); err != nil {
			return txids, err
		}
	}

	return txids, nil
}

// printPackets prints every step as a base64 PSBT.
func printPackets(tree *ctvbuilders.CovenantTree,
	steps []*ctvbuilders.SpendStep) error {

	for _, step := range steps {
		packet, err := ctvbuilders.SpendPacket(
			step, tree.Nodes[step.Node].Tap,
		)
		if err != nil {
			return err
		}
		b64, err := packet.B64Encode()
		if err != nil {
			return err
		}
		fmt.Printf("PSBT for node %d:\n%s\n", step.Node, b64)
	}

	return nil
}

// printTx prints the raw hex of tx.
func printTx(label string, tx *wire.MsgTx) error {
	txHex, err := serializeTx(tx)
	if err != nil {
		return err
	}
	fmt.Printf("%s %v: %s\n", label, tx.TxHash(), txHex)
	return nil
}

// savePlan records tree and its funding outpoint in the plan database.
func savePlan(tree *ctvbuilders.CovenantTree,
	funding wire.OutPoint) (*planstore.Plan, error) {

	store, err := openPlanStore()
	if err != nil {
		return nil, fmt.Errorf("error opening plan database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Errorf("Error closing plan database: %v", err)
		}
	}()

	plan, err := planstore.NewPlan(tree, chainParams)
	if err != nil {
		return nil, err
	}
	plan.SetFunding(funding)

	if err := store.Save(plan); err != nil {
		return nil, err
	}

	return plan, nil
}
