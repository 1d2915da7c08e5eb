package channel

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"

	"github.com/lightningnetwork/channeld/commitment"
	"github.com/lightningnetwork/channeld/htlcswitch"
	"github.com/lightningnetwork/channeld/lnwire"
)

// Event is anything that can be delivered to the channel's inbox: a peer
// message, a local command, a blockchain notification, or a control signal.
// Dispatch is by type.
type Event interface{}

// InitFunder instructs a fresh channel actor to open a channel as the
// funder.
type InitFunder struct {
	// RemoteNodeID is the identity key of the peer.
	RemoteNodeID *btcec.PublicKey

	// TempChanID is the temporary channel id used until the funding
	// transaction is known.
	TempChanID [32]byte

	// FundingAmount is the channel capacity we'll provide.
	FundingAmount btcutil.Amount

	// PushAmount is the amount handed to the peer in the first
	// commitment.
	PushAmount lnwire.MilliSatoshi

	// FeeRatePerKw is the initial commitment fee rate.
	FeeRatePerKw commitment.SatPerKWeight

	// LocalParams are our channel parameters.
	LocalParams *commitment.LocalParams

	// AnnounceChannel is set when both sides want the channel announced.
	AnnounceChannel bool
}

// InitFundee instructs a fresh channel actor to await an open_channel as the
// fundee.
type InitFundee struct {
	// RemoteNodeID is the identity key of the peer.
	RemoteNodeID *btcec.PublicKey

	// TempChanID is the temporary channel id we expect the open_channel
	// to carry.
	TempChanID [32]byte

	// LocalParams are our channel parameters.
	LocalParams *commitment.LocalParams

	// AnnounceChannel is set when both sides want the channel announced.
	AnnounceChannel bool
}

// InputDisconnected signals the loss of the peer connection.
type InputDisconnected struct{}

// InputReconnected signals that the peer connection has been
// re-established.
type InputReconnected struct {
	// Peer is the fresh link to the peer.
	Peer PeerLink
}

// PeerMessage wraps an inbound wire message from the peer.
type PeerMessage struct {
	// Msg is the message as decoded off the wire.
	Msg lnwire.Message
}

// CmdAddHTLC asks the channel to offer a new HTLC to the peer.
type CmdAddHTLC struct {
	// Amount is the HTLC value.
	Amount lnwire.MilliSatoshi

	// PaymentHash locks the HTLC.
	PaymentHash [32]byte

	// Expiry is the absolute block height the HTLC times out at.
	Expiry uint32

	// Origin says where this HTLC comes from, so its resolution can be
	// propagated.
	Origin htlcswitch.Origin

	// Commit triggers an immediate sign round once the add is queued.
	Commit bool

	// Err receives the outcome when non-nil. Command rejections are
	// reported here and cause no state change.
	Err chan error
}

// CmdFulfillHTLC settles an incoming HTLC with its preimage.
type CmdFulfillHTLC struct {
	// ID is the HTLC id assigned by the peer.
	ID uint64

	// Preimage is the payment preimage.
	Preimage [32]byte

	// Commit triggers an immediate sign round once the settle is queued.
	Commit bool

	// Err receives the outcome when non-nil.
	Err chan error
}

// CmdFailHTLC fails an incoming HTLC.
type CmdFailHTLC struct {
	// ID is the HTLC id assigned by the peer.
	ID uint64

	// Reason is the opaque failure reason relayed upstream.
	Reason lnwire.OpaqueReason

	// Commit triggers an immediate sign round once the fail is queued.
	Commit bool

	// Err receives the outcome when non-nil.
	Err chan error
}

// CmdSign starts a new sign round if there is anything to sign.
type CmdSign struct{}

// CmdClose starts a cooperative close.
type CmdClose struct {
	// Script optionally overrides our default final script.
	Script []byte

	// Err receives the outcome when non-nil.
	Err chan error
}

// CmdGetState asks for the current state tag.
type CmdGetState struct {
	Resp chan State
}

// CmdGetStateData asks for the current state data.
type CmdGetStateData struct {
	Resp chan StateData
}

// CmdGetInfo asks for a summary of the channel.
type CmdGetInfo struct {
	Resp chan *Info
}

// Info is the answer to CmdGetInfo.
type Info struct {
	// State is the current state tag.
	State State

	// ChanID is the channel id, zero before funding.
	ChanID lnwire.ChannelID

	// ShortChanID is the compact channel id, zero before confirmation.
	ShortChanID lnwire.ShortChannelID

	// LocalBalance and RemoteBalance are the settled balances.
	LocalBalance  lnwire.MilliSatoshi
	RemoteBalance lnwire.MilliSatoshi

	// Capacity is the funding amount.
	Capacity btcutil.Amount
}

// tickBroadcast is the delayed self-message that flushes pending
// announcements to the router.
type tickBroadcast struct{}

// drainComplete is the delayed self-message that finally kills a terminal
// actor.
type drainComplete struct{}

// ChannelEvent is the interface of the notifications the channel emits on
// its event stream.
type ChannelEvent interface {
	channelEvent()
}

// ChannelCreated is emitted when a funding flow produces its first
// commitment transactions.
type ChannelCreated struct {
	// TempChanID is the temporary channel id.
	TempChanID [32]byte
}

func (ChannelCreated) channelEvent() {}

// ChannelIDAssigned is emitted once the funding transaction is known and the
// permanent channel id is fixed.
type ChannelIDAssigned struct {
	// TempChanID is the temporary id being retired.
	TempChanID [32]byte

	// ChanID is the permanent channel id.
	ChanID lnwire.ChannelID
}

func (ChannelIDAssigned) channelEvent() {}

// ChannelSignatureReceived is emitted every time a valid commit_sig is
// processed.
type ChannelSignatureReceived struct {
	// ChanID identifies the channel.
	ChanID lnwire.ChannelID
}

func (ChannelSignatureReceived) channelEvent() {}

// ChannelChangedState is emitted on every state transition.
type ChannelChangedState struct {
	// Previous is the state being left.
	Previous State

	// Current is the state being entered.
	Current State
}

func (ChannelChangedState) channelEvent() {}
