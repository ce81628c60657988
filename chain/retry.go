package chain

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/btcsuite/btcd/btcjson"
)

// errInWarmup is the code bitcoind answers every call with while it is
// still loading its block index.
const errInWarmup btcjson.RPCErrorCode = -28

// isPermanent reports whether asking again cannot change the outcome of a
// call. An RPC error is an answer from the node, and a transport error has
// already been retried by the RPC client. A node in warmup will answer
// once it is done.
func isPermanent(err error) bool {
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code != errInWarmup
	}

	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// retryRead calls fn until it succeeds, fails permanently, the attempts are
// used up or ctx is done. The delay doubles after every
// failed attempt. It must only be used for idempotent read calls.
func retryRead(ctx context.Context, op string, attempts int,
	delay time.Duration, fn func() error) error {

	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || isPermanent(err) || attempt >= attempts {
			break
		}

		log.Debugf("Call %s failed (attempt %d/%d), retrying in %v: "+
			"%v", op, attempt, attempts, delay, err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return newCollaboratorError(op, ctx.Err())
		}
		delay *= 2
	}

	return newCollaboratorError(op, err)
}
