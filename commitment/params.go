package commitment

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/lightningnetwork/channeld/lnwire"
)

// ChannelConstraints is the set of constraints a party demands on the other
// party's view of the channel. These are negotiated during the funding
// workflow and are immutable once the first commitment has been signed.
type ChannelConstraints struct {
	// DustLimit is the threshold below which no output should be generated
	// for this party's commitment transaction; in other words, transaction
	// outputs below this amount are considered uneconomical.
	DustLimit btcutil.Amount

	// MaxPendingAmount is the maximum pending HTLC value that the owner of
	// these constraints will accept from the other party at a particular
	// time.
	MaxPendingAmount lnwire.MilliSatoshi

	// ChanReserve is an absolute reservation on the channel for the owner
	// of these constraints. This means that the other party must keep
	// their balance above this amount at all times.
	ChanReserve btcutil.Amount

	// HtlcMinimum is the smallest HTLC that the owner of these constraints
	// will accept.
	HtlcMinimum lnwire.MilliSatoshi

	// CsvDelay is the relative time lock delay, expressed in blocks, that
	// the other party must observe before sweeping their own funds after a
	// unilateral close.
	CsvDelay uint16

	// MaxAcceptedHtlcs is the maximum number of HTLCs that the owner of
	// these constraints is willing to carry on their commitment.
	MaxAcceptedHtlcs uint16
}

// LocalParams bundles the cryptographic material and policy constraints of
// our side of the channel. The private base keys never leave this structure;
// all per-commitment keys are derived on demand.
type LocalParams struct {
	ChannelConstraints

	// NodeID is our identity public key on the network.
	NodeID *btcec.PublicKey

	// FundingPrivKey is the key used within the 2-of-2 funding output.
	FundingPrivKey *btcec.PrivateKey

	// RevocationBaseSecret is the base from which per-commitment
	// revocation keys are derived for the remote commitment.
	RevocationBaseSecret *btcec.PrivateKey

	// PaymentBaseSecret is the base from which our balance and HTLC keys
	// are derived.
	PaymentBaseSecret *btcec.PrivateKey

	// DelayBaseSecret is the base from which the delayed payment keys on
	// our own commitment are derived.
	DelayBaseSecret *btcec.PrivateKey

	// ShaSeed is the root of our per-commitment secret chain.
	ShaSeed chainhash.Hash

	// DefaultFinalScript is the script we'll pay to on a cooperative
	// close, unless the close command overrides it.
	DefaultFinalScript []byte

	// IsFunder denotes whether we funded the channel, and therefore pay
	// the commitment transaction fees.
	IsFunder bool
}

// FundingKey returns the public key used within the funding output multisig.
func (l *LocalParams) FundingKey() *btcec.PublicKey {
	return l.FundingPrivKey.PubKey()
}

// RevocationBasePoint returns the public base revocation point.
func (l *LocalParams) RevocationBasePoint() *btcec.PublicKey {
	return l.RevocationBaseSecret.PubKey()
}

// PaymentBasePoint returns the public base payment point.
func (l *LocalParams) PaymentBasePoint() *btcec.PublicKey {
	return l.PaymentBaseSecret.PubKey()
}

// DelayBasePoint returns the public base delayed payment point.
func (l *LocalParams) DelayBasePoint() *btcec.PublicKey {
	return l.DelayBaseSecret.PubKey()
}

// RemoteParams mirrors LocalParams for the remote node. We only ever learn
// the remote's public points.
type RemoteParams struct {
	ChannelConstraints

	// NodeID is the identity public key of the remote node.
	NodeID *btcec.PublicKey

	// FundingKey is the remote key used within the funding output.
	FundingKey *btcec.PublicKey

	// RevocationBasePoint is the remote base revocation point.
	RevocationBasePoint *btcec.PublicKey

	// PaymentBasePoint is the remote base payment point.
	PaymentBasePoint *btcec.PublicKey

	// DelayBasePoint is the remote base delayed payment point.
	DelayBasePoint *btcec.PublicKey

	// MinimumDepth is the number of confirmations the remote node demands
	// on the funding transaction.
	MinimumDepth uint32
}
