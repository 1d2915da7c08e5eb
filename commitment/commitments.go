package commitment

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/lightningnetwork/channeld/input"
	"github.com/lightningnetwork/channeld/lnwire"
	"github.com/lightningnetwork/channeld/shachain"
)

// Changes tracks one side's updates as they progress through the signing
// stages. Proposed updates have crossed the wire but aren't covered by any
// signature, signed updates are covered by an in-flight commit_sig, and
// acked updates are locked in by a revocation and may be included in the
// next commitment of the other chain.
type Changes struct {
	Proposed []lnwire.Message
	Signed   []lnwire.Message
	Acked    []lnwire.Message
}

// copy returns a deep copy of the change set. The messages themselves are
// immutable once created, so sharing them is safe.
func (ch Changes) copy() Changes {
	cp := Changes{
		Proposed: make([]lnwire.Message, len(ch.Proposed)),
		Signed:   make([]lnwire.Message, len(ch.Signed)),
		Acked:    make([]lnwire.Message, len(ch.Acked)),
	}
	copy(cp.Proposed, ch.Proposed)
	copy(cp.Signed, ch.Signed)
	copy(cp.Acked, ch.Acked)
	return cp
}

// all returns every change regardless of stage.
func (ch Changes) all() []lnwire.Message {
	var all []lnwire.Message
	all = append(all, ch.Proposed...)
	all = append(all, ch.Signed...)
	all = append(all, ch.Acked...)
	return all
}

// LocalCommit is our current commitment: the fully signed transaction we
// could broadcast at any moment, along with the spec it was built from.
type LocalCommit struct {
	// Index is the commitment number, strictly increasing.
	Index uint64

	// Spec is the balance/HTLC state the transaction commits to.
	Spec Spec

	// TxInfo is the commitment transaction plus output metadata.
	TxInfo *TxInfo

	// TheirSig is the counterparty's signature for the transaction.
	TheirSig lnwire.Sig

	// TheirHtlcSigs holds the counterparty's signatures for our
	// second-level HTLC transactions, ordered by HTLC output index.
	TheirHtlcSigs []lnwire.Sig
}

// RemoteCommit is our view of the counterparty's current commitment. We only
// ever know its txid, its spec (from their point of view), and the
// per-commitment point it was built with.
type RemoteCommit struct {
	// Index is the commitment number, strictly increasing.
	Index uint64

	// Spec is the commitment state from the remote party's point of view.
	Spec Spec

	// Txid identifies the remote commitment transaction so that a spend
	// of the funding output can be classified.
	Txid chainhash.Hash

	// RemotePerCommitPoint is the per-commitment point the commitment was
	// built with.
	RemotePerCommitPoint *btcec.PublicKey
}

// WaitingForRevocation records an in-flight sign round: we've signed the
// counterparty's next commitment and are waiting for them to revoke the
// previous one.
type WaitingForRevocation struct {
	// NextRemoteCommit is the remote commitment we signed.
	NextRemoteCommit RemoteCommit

	// Sent is the commit_sig message we sent, retained for retransmission
	// on reconnect.
	Sent *lnwire.CommitSig

	// ReSignASAP is set when a sign request arrived while this round was
	// still in flight; a new round starts as soon as the revocation
	// arrives.
	ReSignASAP bool
}

// FundingInput describes the funding output every commitment transaction
// spends. Fixed once the funding transaction is known.
type FundingInput struct {
	// OutPoint is the funding outpoint.
	OutPoint wire.OutPoint

	// WitnessScript is the 2-of-2 multisig script of the funding output.
	WitnessScript []byte

	// Capacity is the value of the funding output.
	Capacity btcutil.Amount
}

// TxIn returns the funding outpoint as an unsigned transaction input.
func (f *FundingInput) TxIn() wire.TxIn {
	return wire.TxIn{
		PreviousOutPoint: f.OutPoint,
	}
}

// Commitments is the complete state of the dual commitment chain of one
// channel. Values of this type are treated as immutable: every update
// operation returns a fresh copy, leaving the receiver untouched so that a
// failed operation has no effect.
type Commitments struct {
	// LocalParams and RemoteParams fix the negotiated channel constants.
	LocalParams  *LocalParams
	RemoteParams *RemoteParams

	// ChanID is the channel identifier derived from the funding outpoint.
	ChanID lnwire.ChannelID

	// LocalCommit and RemoteCommit are the tips of the two chains.
	LocalCommit  LocalCommit
	RemoteCommit RemoteCommit

	// LocalChanges are updates we offered, RemoteChanges updates the
	// counterparty offered.
	LocalChanges  Changes
	RemoteChanges Changes

	// LocalNextHtlcID and RemoteNextHtlcID are the next unused HTLC ids
	// on either side.
	LocalNextHtlcID  uint64
	RemoteNextHtlcID uint64

	// RemoteNextCommitInfo is either an in-flight sign round (left) or
	// the counterparty's next per-commitment point (right).
	RemoteNextCommitInfo fn.Either[WaitingForRevocation, *btcec.PublicKey]

	// UnackedMessages holds the wire messages we've sent that are not yet
	// acknowledged by a revocation, in sending order. They are replayed
	// verbatim on reconnection.
	UnackedMessages []lnwire.Message

	// CommitInput is the funding outpoint and script.
	CommitInput FundingInput

	// RemotePerCommitmentSecrets stores every revocation secret the
	// counterparty has revealed.
	RemotePerCommitmentSecrets *shachain.RevocationStore

	// Obfuscator masks the commitment state hints.
	Obfuscator [StateHintSize]byte
}

// copy returns a shallow-plus-slices copy of the commitments, sufficient for
// the value semantics of the update algebra. The params, shachain store, and
// wire messages are shared as they're never mutated destructively by update
// operations (the store is append-only and only written through the copy
// being returned).
func (c *Commitments) copy() *Commitments {
	cp := *c
	cp.LocalChanges = c.LocalChanges.copy()
	cp.RemoteChanges = c.RemoteChanges.copy()
	cp.UnackedMessages = make([]lnwire.Message, len(c.UnackedMessages))
	copy(cp.UnackedMessages, c.UnackedMessages)
	return &cp
}

// producer returns the shachain producer rooted at our sha seed.
func (c *Commitments) producer() *shachain.RevocationProducer {
	return shachain.NewRevocationProducer(c.LocalParams.ShaSeed)
}

// LocalPerCommitSecret derives our per-commitment secret for the given
// commitment index.
func (c *Commitments) LocalPerCommitSecret(index uint64) (*chainhash.Hash,
	error) {

	return c.producer().AtIndex(index)
}

// LocalPerCommitPoint derives our per-commitment point for the given
// commitment index.
func (c *Commitments) LocalPerCommitPoint(index uint64) (*btcec.PublicKey,
	error) {

	secret, err := c.LocalPerCommitSecret(index)
	if err != nil {
		return nil, err
	}

	return input.ComputeCommitmentPoint(secret[:]), nil
}

// localKeys derives the key ring for our commitment at the given
// per-commitment point.
func (c *Commitments) localKeys(perCommitPoint *btcec.PublicKey) *Keys {
	return DeriveKeys(
		perCommitPoint,
		c.LocalParams.PaymentBasePoint(),
		c.LocalParams.DelayBasePoint(),
		c.RemoteParams.PaymentBasePoint,
		c.RemoteParams.RevocationBasePoint,
	)
}

// remoteKeys derives the key ring for the counterparty's commitment at the
// given per-commitment point.
func (c *Commitments) remoteKeys(perCommitPoint *btcec.PublicKey) *Keys {
	return DeriveKeys(
		perCommitPoint,
		c.RemoteParams.PaymentBasePoint,
		c.RemoteParams.DelayBasePoint,
		c.LocalParams.PaymentBasePoint(),
		c.LocalParams.RevocationBasePoint(),
	)
}

// LocalHasChanges reports whether a new sign round would cover anything:
// either updates we proposed, or remote updates we've acked but that aren't
// yet reflected in the remote commitment.
func (c *Commitments) LocalHasChanges() bool {
	return len(c.LocalChanges.Proposed) > 0 ||
		len(c.RemoteChanges.Acked) > 0
}

// RemoteHasUnsignedOutgoingHtlcs reports whether the counterparty has
// proposed adds we haven't signed yet. A shutdown message is illegal while
// this holds.
func (c *Commitments) RemoteHasUnsignedOutgoingHtlcs() bool {
	for _, m := range c.RemoteChanges.Proposed {
		if _, ok := m.(*lnwire.UpdateAddHTLC); ok {
			return true
		}
	}
	return false
}

// HasNoPendingHtlcs reports whether both commitment tips carry no HTLCs and
// no sign round is in flight.
func (c *Commitments) HasNoPendingHtlcs() bool {
	return len(c.LocalCommit.Spec.Htlcs) == 0 &&
		len(c.RemoteCommit.Spec.Htlcs) == 0 &&
		c.RemoteNextCommitInfo.IsRight()
}

// HasTimedOutHtlcs reports whether any HTLC on either commitment tip has
// expired at the given block height.
func (c *Commitments) HasTimedOutHtlcs(height uint32) bool {
	for _, h := range c.LocalCommit.Spec.Htlcs {
		if h.Expiry <= height {
			return true
		}
	}
	for _, h := range c.RemoteCommit.Spec.Htlcs {
		if h.Expiry <= height {
			return true
		}
	}
	return false
}

// NextRemoteCommitTxid returns the txid of the in-flight remote commitment,
// if any.
func (c *Commitments) NextRemoteCommitTxid() fn.Option[chainhash.Hash] {
	ret := fn.None[chainhash.Hash]()
	c.RemoteNextCommitInfo.WhenLeft(func(w WaitingForRevocation) {
		ret = fn.Some(w.NextRemoteCommit.Txid)
	})
	return ret
}

// AddUnackedMessage appends a message to the retransmission buffer.
func (c *Commitments) AddUnackedMessage(msg lnwire.Message) {
	c.UnackedMessages = append(c.UnackedMessages, msg)
}
