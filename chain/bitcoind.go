package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
)

// errWalletAlreadyLoaded is the code bitcoind answers loadwallet with if the
// wallet is already loaded.
const errWalletAlreadyLoaded btcjson.RPCErrorCode = -35

// Backend talks to a bitcoind node over JSON-RPC. Node level calls go to
// the root endpoint, wallet calls to the wallet endpoint.
type Backend struct {
	cfg *Config

	node   *rpcclient.Client
	wallet *rpcclient.Client
}

// New creates a backend for the configured node. No connection is made
// until the first call.
func New(cfg *Config) (*Backend, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	node, err := rpcclient.New(cfg.connConfig(""), nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create RPC client: %w", err)
	}
	wallet, err := rpcclient.New(cfg.connConfig(cfg.Wallet), nil)
	if err != nil {
		node.Shutdown()
		return nil, fmt.Errorf("unable to create wallet RPC client: %w",
			err)
	}

	log.Infof("Using bitcoind at %s (network %s, wallet %s)", cfg.Host,
		cfg.Params.Name, cfg.Wallet)

	return &Backend{
		cfg:    cfg,
		node:   node,
		wallet: wallet,
	}, nil
}

// Shutdown releases the RPC clients.
func (b *Backend) Shutdown() {
	b.wallet.Shutdown()
	b.node.Shutdown()
}

// read runs an idempotent call with retries.
func (b *Backend) read(ctx context.Context, op string, fn func() error) error {
	return retryRead(ctx, op, b.cfg.RetryAttempts, b.cfg.RetryDelay, fn)
}

// EnsureWallet creates the configured wallet, or loads it if it exists.
func (b *Backend) EnsureWallet() error {
	_, err := b.node.CreateWallet(b.cfg.Wallet)
	if err == nil {
		log.Infof("Created wallet %s", b.cfg.Wallet)
		return nil
	}
	log.Debugf("Wallet %s not created: %v", b.cfg.Wallet, err)

	_, err = b.node.LoadWallet(b.cfg.Wallet)
	if err == nil {
		log.Infof("Loaded wallet %s", b.cfg.Wallet)
		return nil
	}

	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) &&
		rpcErr.Code == errWalletAlreadyLoaded {

		return nil
	}

	return newCollaboratorError("loadwallet", err)
}

// NewAddress returns a fresh address of the wallet.
func (b *Backend) NewAddress() (btcutil.Address, error) {
	addr, err := b.wallet.GetNewAddress("")
	if err != nil {
		return nil, newCollaboratorError("getnewaddress", err)
	}

	return addr, nil
}

// Balance returns the spendable balance of the wallet.
func (b *Backend) Balance(ctx context.Context) (btcutil.Amount, error) {
	var balance btcutil.Amount
	err := b.read(ctx, "getbalance", func() error {
		var err error
		balance, err = b.wallet.GetBalance("*")
		return err
	})

	return balance, err
}

// MineTo mines numBlocks blocks paying to addr and returns their hashes.
func (b *Backend) MineTo(addr btcutil.Address,
	numBlocks int64) ([]*chainhash.Hash, error) {

	hashes, err := b.node.GenerateToAddress(numBlocks, addr, nil)
	if err != nil {
		return nil, newCollaboratorError("generatetoaddress", err)
	}

	log.Debugf("Mined %d blocks to %v", len(hashes), addr)

	return hashes, nil
}

// CoinbaseTx returns the coinbase transaction of the block.
func (b *Backend) CoinbaseTx(ctx context.Context,
	blockHash *chainhash.Hash) (*wire.MsgTx, error) {

	var block *wire.MsgBlock
	err := b.read(ctx, "getblock", func() error {
		var err error
		block, err = b.node.GetBlock(blockHash)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(block.Transactions) == 0 {
		return nil, fmt.Errorf("block %v has no transactions",
			blockHash)
	}

	return block.Transactions[0], nil
}

// FetchTx returns the transaction with the given id.
func (b *Backend) FetchTx(ctx context.Context,
	txid *chainhash.Hash) (*wire.MsgTx, error) {

	var tx *btcutil.Tx
	err := b.read(ctx, "getrawtransaction", func() error {
		var err error
		tx, err = b.node.GetRawTransaction(txid)
		return err
	})
	if err != nil {
		return nil, err
	}

	return tx.MsgTx(), nil
}

// PrevOut returns the output an outpoint refers to.
func (b *Backend) PrevOut(ctx context.Context,
	outpoint wire.OutPoint) (*wire.TxOut, error) {

	tx, err := b.FetchTx(ctx, &outpoint.Hash)
	if err != nil {
		return nil, err
	}
	if int(outpoint.Index) >= len(tx.TxOut) {
		return nil, fmt.Errorf("%w: %v", ErrOutputNotFound, outpoint)
	}

	return tx.TxOut[outpoint.Index], nil
}

// InputValue returns the value of the output an outpoint refers to.
func (b *Backend) InputValue(ctx context.Context,
	outpoint wire.OutPoint) (uint64, error) {

	txOut, err := b.PrevOut(ctx, outpoint)
	if err != nil {
		return 0, err
	}

	return uint64(txOut.Value), nil
}

// Broadcast submits tx to the node. It is never retried.
func (b *Backend) Broadcast(tx *wire.MsgTx) (*chainhash.Hash, error) {
	txid, err := b.node.SendRawTransaction(tx, false)
	if err != nil {
		return nil, newCollaboratorError("sendrawtransaction", err)
	}

	log.Infof("Broadcast transaction %v", txid)

	return txid, nil
}

// SendToAddress pays amount from the wallet to addr.
func (b *Backend) SendToAddress(addr btcutil.Address,
	amount btcutil.Amount) (*chainhash.Hash, error) {

	txid, err := b.wallet.SendToAddress(addr, amount)
	if err != nil {
		return nil, newCollaboratorError("sendtoaddress", err)
	}

	log.Infof("Sent %v to %v in %v", amount, addr, txid)

	return txid, nil
}

// AcceptResult is the node's verdict on a transaction it was asked to
// accept without broadcasting it.
type AcceptResult struct {
	Txid    string `json:"txid"`
	Allowed bool   `json:"allowed"`

	// VSize is only reported for transactions the node would accept.
	VSize int64 `json:"vsize"`

	RejectReason string `json:"reject-reason"`
}

// CheckMempoolAccept runs tx through the node's mempool policy with
// testmempoolaccept. The inputs of tx must exist in the node's UTXO set,
// otherwise the node rejects it with missing-inputs.
func (b *Backend) CheckMempoolAccept(ctx context.Context,
	tx *wire.MsgTx) (*AcceptResult, error) {

	txHex, err := encodeTx(tx)
	if err != nil {
		return nil, err
	}
	rawTxs, err := json.Marshal([]string{txHex})
	if err != nil {
		return nil, err
	}

	var resp json.RawMessage
	err = b.read(ctx, "testmempoolaccept", func() error {
		var err error
		resp, err = b.node.RawRequest(
			"testmempoolaccept", []json.RawMessage{rawTxs},
		)
		return err
	})
	if err != nil {
		return nil, err
	}

	var results []AcceptResult
	if err := json.Unmarshal(resp, &results); err != nil {
		return nil, newCollaboratorError("testmempoolaccept", err)
	}
	if len(results) != 1 {
		return nil, newCollaboratorError("testmempoolaccept",
			fmt.Errorf("expected 1 result, got %d", len(results)))
	}
	result := &results[0]

	if result.Allowed {
		local := mempool.GetTxVirtualSize(btcutil.NewTx(tx))
		if result.VSize != local {
			log.Warnf("Node vsize %d of %v differs from local "+
				"vsize %d", result.VSize, tx.TxHash(), local)
		}
	}

	return result, nil
}
