package htlcswitch

import (
	"github.com/lightningnetwork/channeld/lnwire"
)

// Origin records where an outgoing HTLC came from, so that its resolution
// can be propagated to the right place.
type Origin interface {
	origin()
}

// LocalOrigin marks an HTLC initiated by this node.
type LocalOrigin struct{}

func (LocalOrigin) origin() {}

// RelayedOrigin marks an HTLC forwarded on behalf of an upstream channel.
type RelayedOrigin struct {
	// UpstreamChanID is the channel the HTLC arrived on.
	UpstreamChanID lnwire.ChannelID

	// UpstreamHtlcID is the id of the HTLC on the upstream channel.
	UpstreamHtlcID uint64
}

func (RelayedOrigin) origin() {}

// Relayer is the HTLC switch as seen from a channel. The channel notifies it
// of HTLC lifecycle events; routing decisions and upstream settlement are its
// concern.
type Relayer interface {
	// Bind associates an outgoing HTLC with its origin, before the HTLC
	// is irrevocably committed.
	Bind(add *lnwire.UpdateAddHTLC, origin Origin)

	// ForwardAdd hands over an incoming HTLC that is now locked in on
	// both commitments.
	ForwardAdd(add *lnwire.UpdateAddHTLC)

	// ForwardFulfill propagates a fulfill for an HTLC we offered,
	// carrying the preimage upstream.
	ForwardFulfill(fulfill *lnwire.UpdateFulfillHTLC)

	// ForwardFail propagates a failure for an HTLC we offered.
	ForwardFail(fail *lnwire.UpdateFailHTLC)
}
