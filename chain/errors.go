package chain

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
)

var (
	// ErrOutputNotFound is returned when an outpoint refers to an output
	// index the transaction does not have.
	ErrOutputNotFound = errors.New("output not found")
)

// CollaboratorError is returned when the node rejects or fails a call. The
// underlying error is kept unchanged.
type CollaboratorError struct {
	// Op is the RPC method that failed.
	Op string

	Err error
}

// Error returns a description of the failed call.
func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("node call %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// RPCCode returns the JSON-RPC error code of the node, if the node answered
// with one.
func (e *CollaboratorError) RPCCode() (btcjson.RPCErrorCode, bool) {
	var rpcErr *btcjson.RPCError
	if errors.As(e.Err, &rpcErr) {
		return rpcErr.Code, true
	}
	return 0, false
}

// newCollaboratorError wraps err unless it is nil.
func newCollaboratorError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &CollaboratorError{Op: op, Err: err}
}
