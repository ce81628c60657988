package chain

import (
	"bytes"
	"encoding/hex"

	"github.com/btcsuite/btcd/wire"
)

// encodeTx returns the hex encoding of tx including witness data.
func encodeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf.Bytes()), nil
}
