package chainntnfs

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// EventTag labels a watch registration so that the resulting notification can
// be dispatched by meaning rather than by txid.
type EventTag uint8

const (
	// BitcoinFundingDepthOK fires once the funding transaction reaches
	// its minimum depth.
	BitcoinFundingDepthOK EventTag = iota

	// BitcoinFundingSpent fires when the funding output is spent by any
	// transaction.
	BitcoinFundingSpent

	// BitcoinFundingLost fires if the funding transaction is reorganized
	// out of the chain.
	BitcoinFundingLost

	// BitcoinFundingTimeout fires if the funding transaction fails to
	// confirm in time.
	BitcoinFundingTimeout

	// BitcoinCloseDone fires once the mutual close transaction is deeply
	// confirmed.
	BitcoinCloseDone

	// BitcoinLocalCommitDone fires once our own commitment claim has been
	// deeply confirmed.
	BitcoinLocalCommitDone

	// BitcoinRemoteCommitDone fires once the claim on the remote
	// commitment has been deeply confirmed.
	BitcoinRemoteCommitDone

	// BitcoinNextRemoteCommitDone fires once the claim on the in-flight
	// remote commitment has been deeply confirmed.
	BitcoinNextRemoteCommitDone

	// BitcoinPenaltyDone fires once a penalty claim has been deeply
	// confirmed.
	BitcoinPenaltyDone

	// BitcoinHtlcSpent fires when a watched HTLC output of a published
	// claim is spent, allowing preimage extraction.
	BitcoinHtlcSpent
)

// String returns a human readable tag name.
func (t EventTag) String() string {
	switch t {
	case BitcoinFundingDepthOK:
		return "BITCOIN_FUNDING_DEPTHOK"
	case BitcoinFundingSpent:
		return "BITCOIN_FUNDING_SPENT"
	case BitcoinFundingLost:
		return "BITCOIN_FUNDING_LOST"
	case BitcoinFundingTimeout:
		return "BITCOIN_FUNDING_TIMEOUT"
	case BitcoinCloseDone:
		return "BITCOIN_CLOSE_DONE"
	case BitcoinLocalCommitDone:
		return "BITCOIN_LOCALCOMMIT_DONE"
	case BitcoinRemoteCommitDone:
		return "BITCOIN_REMOTECOMMIT_DONE"
	case BitcoinNextRemoteCommitDone:
		return "BITCOIN_NEXTREMOTECOMMIT_DONE"
	case BitcoinPenaltyDone:
		return "BITCOIN_PENALTY_DONE"
	case BitcoinHtlcSpent:
		return "BITCOIN_HTLC_SPENT"
	default:
		return "<unknown>"
	}
}

// ChainIO is the blockchain collaborator as seen from a channel. All calls
// are fire-and-forget: results and notifications come back asynchronously as
// events injected into the channel's inbox.
type ChainIO interface {
	// MakeFundingTx requests the construction of a funding transaction
	// with a single output paying amt to pkScript. The response arrives
	// as a MakeFundingTxResponse event.
	MakeFundingTx(amt btcutil.Amount, pkScript []byte)

	// PublishAsap broadcasts the transaction to the network, retrying as
	// needed.
	PublishAsap(tx *wire.MsgTx)

	// WatchConfirmed registers a confirmation watch on the given txid at
	// the given depth.
	WatchConfirmed(txid chainhash.Hash, numConfs uint32, tag EventTag)

	// WatchSpent registers a spend watch on the given outpoint.
	WatchSpent(op wire.OutPoint, tag EventTag)

	// WatchLost registers a reorg watch on the given txid.
	WatchLost(txid chainhash.Hash, numConfs uint32, tag EventTag)
}

// MakeFundingTxResponse delivers a funding transaction built by the
// blockchain collaborator.
type MakeFundingTxResponse struct {
	// FundingTx is the complete, signed funding transaction.
	FundingTx *wire.MsgTx

	// OutputIndex is the index of the funding output.
	OutputIndex uint32
}

// ConfirmationEvent notifies that a watched transaction reached its
// requested depth.
type ConfirmationEvent struct {
	// Tag identifies the watch registration.
	Tag EventTag

	// BlockHeight is the height of the block containing the transaction.
	BlockHeight uint32

	// TxIndex is the transaction's position within that block.
	TxIndex uint32
}

// SpendEvent notifies that a watched outpoint was spent.
type SpendEvent struct {
	// Tag identifies the watch registration.
	Tag EventTag

	// SpendingTx is the transaction that spent the watched outpoint.
	SpendingTx *wire.MsgTx
}

// LostEvent notifies that a watched transaction was reorganized out.
type LostEvent struct {
	// Tag identifies the watch registration.
	Tag EventTag
}

// BlockHeightEvent delivers the current best block height, used to detect
// HTLC timeouts.
type BlockHeightEvent struct {
	// Height is the current best height.
	Height uint32
}
