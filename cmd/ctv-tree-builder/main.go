package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/cobra"
)

const (
	// version is the current version of the tool.
	version = "0.2.0"

	defaultRPCCookie = "./data/regtest/.cookie"
	defaultLogLevel  = "info"
)

var (
	Testnet bool
	Regtest bool
	Signet  bool

	chainParams = &chaincfg.RegressionNetParams

	cfg = &rootConfig{}
)

// rootConfig holds the flags shared by all commands.
type rootConfig struct {
	RPCHost    string
	RPCCookie  string
	RPCUser    string
	RPCPass    string
	Wallet     string
	PlanDB     string
	DebugLevel string
}

var rootCmd = &cobra.Command{
	Use:   "ctv-tree-builder",
	Short: "Build, fund and spend CTV covenant trees",
	Long: `This tool commits future transactions with OP_CHECKTEMPLATEVERIFY
restriction scripts inside taproot outputs. Trees of such commitments are
funded from coinbase outputs of a bitcoind node and unrolled level by level
without any signature.`,
	Version: fmt.Sprintf("v%s", version),
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		switch {
		case Testnet:
			chainParams = &chaincfg.TestNet3Params

		case Signet:
			chainParams = &chaincfg.SigNetParams

		default:
			chainParams = &chaincfg.RegressionNetParams
		}

		if err := setupLogging(cfg.DebugLevel); err != nil {
			return err
		}

		log.Infof("ctv-tree-builder version v%s on %s", version,
			chainParams.Name)

		return nil
	},
	SilenceUsage:      true,
	DisableAutoGenTag: true,
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(
		&Testnet, "testnet", "t", false, "Indicates if testnet "+
			"parameters should be used",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&Regtest, "regtest", "r", false, "Indicates if regtest "+
			"parameters should be used (default)",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&Signet, "signet", "s", false, "Indicates if the public "+
			"signet parameters should be used",
	)
	rootCmd.MarkFlagsMutuallyExclusive("testnet", "regtest", "signet")

	rootCmd.PersistentFlags().StringVar(
		&cfg.RPCHost, "rpchost", "", "host:port of the bitcoind "+
			"JSON-RPC interface; defaults to the network's RPC port "+
			"on localhost",
	)
	rootCmd.PersistentFlags().StringVar(
		&cfg.RPCCookie, "rpccookie", defaultRPCCookie, "path to the "+
			"bitcoind .cookie file; ignored if --rpcuser is set",
	)
	rootCmd.PersistentFlags().StringVar(
		&cfg.RPCUser, "rpcuser", "", "bitcoind RPC user",
	)
	rootCmd.PersistentFlags().StringVar(
		&cfg.RPCPass, "rpcpass", "", "bitcoind RPC password",
	)
	rootCmd.PersistentFlags().StringVar(
		&cfg.Wallet, "wallet", "", "name of the bitcoind wallet to "+
			"create or load",
	)
	rootCmd.PersistentFlags().StringVar(
		&cfg.PlanDB, "plandb", filepath.Join("data", "plans.db"),
		"path of the database covenant plans are saved in",
	)
	rootCmd.PersistentFlags().StringVar(
		&cfg.DebugLevel, "debuglevel", defaultLogLevel, "logging "+
			"level for all subsystems {trace, debug, info, warn, "+
			"error, critical, off}",
	)

	rootCmd.AddCommand(
		newFanOutCommand(),
		newTreeCommand(),
		newSpendCommand(),
		newInspectCommand(),
		newSendCommand(),
		newPlansCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
