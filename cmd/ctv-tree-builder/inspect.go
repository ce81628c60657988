package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/spf13/cobra"

	ctvbuilders "github.com/SashaZezulinsky/ctv-tree-builder"
)

type inspectCommand struct {
	cmd *cobra.Command
}

func newInspectCommand() *cobra.Command {
	cc := &inspectCommand{}
	cc.cmd = &cobra.Command{
		Use:   "inspect <txid> [index]",
		Short: "Show how the inputs of a transaction were spent",
		Long: `Looks up the outputs spent by a transaction and classifies
each input as key path, script path or non-taproot spend. For script path
spends the leaf script is disassembled and, if it is a CTV restriction
script, the committed template hash is shown.`,
		Example: `ctv-tree-builder inspect <txid> 0`,
		Args:    cobra.RangeArgs(1, 2),
		RunE:    cc.Execute,
	}

	return cc.cmd
}

func (c *inspectCommand) Execute(_ *cobra.Command, args []string) error {
	txid, err := chainhash.NewHashFromStr(args[0])
	if err != nil {
		return fmt.Errorf("invalid txid: %w", err)
	}

	ctx := context.Background()
	backend, err := newBackend()
	if err != nil {
		return err
	}
	defer backend.Shutdown()

	tx, err := backend.FetchTx(ctx, txid)
	if err != nil {
		return err
	}

	indexes := make([]int, 0, len(tx.TxIn))
	if len(args) > 1 {
		index, err := strconv.Atoi(args[1])
		if err != nil || index < 0 || index >= len(tx.TxIn) {
			return fmt.Errorf("invalid input index %q", args[1])
		}
		indexes = append(indexes, index)
	} else {
		for i := range tx.TxIn {
			indexes = append(indexes, i)
		}
	}

	for _, i := range indexes {
		txIn := tx.TxIn[i]
		fmt.Printf("input[%d] analysis for txid %v:\n\n", i, txid)

		if blockchain.IsCoinBaseTx(tx) {
			fmt.Printf("  Coinbase input (no prevout)\n\n")
			continue
		}

		prevOut, err := backend.PrevOut(ctx, txIn.PreviousOutPoint)
		if err != nil {
			return err
		}
		if err := describeInput(os.Stdout, txIn, prevOut); err != nil {
			return err
		}
	}

	return nil
}

// describeInput writes a human readable description of how txIn spends
// prevOut.
func describeInput(w io.Writer, txIn *wire.TxIn, prevOut *wire.TxOut) error {
	kind, err := ctvbuilders.ClassifyInput(txIn, prevOut.PkScript)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "  Spent output: %v, %d sats, %v\n",
		txIn.PreviousOutPoint, prevOut.Value,
		txscript.GetScriptClass(prevOut.PkScript))

	switch k := kind.(type) {
	case ctvbuilders.KeyPathSpend:
		fmt.Fprintf(w, "  Key path spend, signature %x\n", k.Signature)

	case ctvbuilders.ScriptPathSpend:
		disasm, err := k.Disassemble()
		if err != nil {
			disasm = fmt.Sprintf("<invalid script: %v>", err)
		}

		fmt.Fprintf(w, "  Script path spend\n")
		fmt.Fprintf(w, "  Leaf script: %s\n", disasm)
		fmt.Fprintf(w, "  Leaf version: %#x\n",
			byte(k.ControlBlock.LeafVersion))
		fmt.Fprintf(w, "  Internal key: %x\n",
			schnorr.SerializePubKey(k.ControlBlock.InternalKey))
		fmt.Fprintf(w, "  Output key Y odd: %v\n",
			k.ControlBlock.OutputKeyYIsOdd)
		fmt.Fprintf(w, "  Merkle path: %d nodes\n",
			len(k.ControlBlock.InclusionProof)/chainhash.HashSize)
		if k.Annex != nil {
			fmt.Fprintf(w, "  Annex: %s\n", hex.EncodeToString(k.Annex))
		}
		for i, item := range k.Stack {
			fmt.Fprintf(w, "  Stack[%d]: %x\n", i, item)
		}

		if digest, ok := k.TemplateDigest(); ok {
			fmt.Fprintf(w, "  CTV template hash: %x\n", digest[:])
		}

	case ctvbuilders.UnknownSpend:
		fmt.Fprintf(w, "  Not a taproot spend (%v)\n", k.Class)
	}

	fmt.Fprintln(w)

	return nil
}
