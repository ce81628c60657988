package chain

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/rpcclient"
)

const (
	// DefaultWallet is the wallet the tool creates and funds from.
	DefaultWallet = "devwallet"

	// DefaultRetryAttempts is how often an idempotent read is tried.
	DefaultRetryAttempts = 5

	// DefaultRetryDelay is the wait after the first failed read.
	DefaultRetryDelay = 250 * time.Millisecond
)

// Config holds the connection details of a bitcoind node.
type Config struct {
	// Host is host:port of the JSON-RPC interface. If empty, the
	// default RPC port of Params on localhost is used.
	Host string

	// CookiePath is the path to the node's .cookie file. It takes
	// precedence over User and Pass.
	CookiePath string

	User string
	Pass string

	// Wallet is the name of the wallet to use for wallet calls.
	Wallet string

	Params *chaincfg.Params

	RetryAttempts int
	RetryDelay    time.Duration
}

// defaultRPCPort returns the port bitcoind listens on for the network.
func defaultRPCPort(params *chaincfg.Params) string {
	switch params.Name {
	case chaincfg.MainNetParams.Name:
		return "8332"
	case chaincfg.TestNet3Params.Name:
		return "18332"
	case chaincfg.SigNetParams.Name:
		return "38332"
	default:
		return "18443"
	}
}

// validate fills in defaults and checks the configuration.
func (c *Config) validate() error {
	if c.Params == nil {
		c.Params = &chaincfg.RegressionNetParams
	}
	if c.Host == "" {
		c.Host = "127.0.0.1:" + defaultRPCPort(c.Params)
	}
	if c.Wallet == "" {
		c.Wallet = DefaultWallet
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = DefaultRetryAttempts
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.CookiePath == "" && c.User == "" {
		return fmt.Errorf("either a cookie file or an RPC user is " +
			"required")
	}
	return nil
}

// connConfig returns the rpcclient configuration for the node endpoint, or
// for the wallet endpoint if walletName is set.
func (c *Config) connConfig(walletName string) *rpcclient.ConnConfig {
	host := c.Host
	if walletName != "" {
		host = fmt.Sprintf("%s/wallet/%s", host, walletName)
	}

	return &rpcclient.ConnConfig{
		Host:         host,
		User:         c.User,
		Pass:         c.Pass,
		CookiePath:   c.CookiePath,
		Params:       c.Params.Name,
		DisableTLS:   true,
		HTTPPostMode: true,
	}
}
