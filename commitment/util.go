package commitment

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// txWithScript pairs a transaction with the witness script of its single
// input.
type txWithScript struct {
	tx     *wire.MsgTx
	script []byte
}

// newOutPoint builds an outpoint from a raw txid and index.
func newOutPoint(txid [32]byte, index uint32) wire.OutPoint {
	return wire.OutPoint{
		Hash:  chainhash.Hash(txid),
		Index: index,
	}
}

// chainhashFromBytes converts a raw 32-byte slice into a chainhash.Hash.
func chainhashFromBytes(b []byte) (*chainhash.Hash, error) {
	return chainhash.NewHash(b)
}

// MarkReSignASAP flags the in-flight sign round so that a new round starts
// as soon as the pending revocation arrives. A no-op while no round is in
// flight.
func (c *Commitments) MarkReSignASAP() *Commitments {
	if c.RemoteNextCommitInfo.IsRight() {
		return c
	}

	cp := c.copy()
	c.RemoteNextCommitInfo.WhenLeft(func(w WaitingForRevocation) {
		w.ReSignASAP = true
		cp.RemoteNextCommitInfo = fn.NewLeft[WaitingForRevocation,
			*btcec.PublicKey](w)
	})

	return cp
}

// ReSignASAP reports whether the in-flight sign round has been flagged for an
// immediate follow-up round.
func (c *Commitments) ReSignASAP() bool {
	var flagged bool
	c.RemoteNextCommitInfo.WhenLeft(func(w WaitingForRevocation) {
		flagged = w.ReSignASAP
	})
	return flagged
}
