package channel

import (
	"errors"

	"github.com/lightningnetwork/channeld/chainntnfs"
	"github.com/lightningnetwork/channeld/commitment"
	"github.com/lightningnetwork/channeld/funding"
	"github.com/lightningnetwork/channeld/htlcswitch"
	"github.com/lightningnetwork/channeld/lnwire"
)

// htlcOriginLocal is the default origin for HTLCs added without an explicit
// one.
var htlcOriginLocal = htlcswitch.LocalOrigin{}

// commitsOf exposes the commitments slot of the states that buffer updates
// while offline.
func commitsOf(data StateData) **commitment.Commitments {
	switch d := data.(type) {
	case *dataNormal:
		return &d.commits
	case *dataShutdown:
		return &d.commits
	}
	return nil
}

// handleOffline services the few commands the actor accepts without a peer:
// adds and settles are merely appended to the change stream, signing waits
// for reconnection.
func (c *Channel) handleOffline(ev Event) error {
	d := c.data.(*dataOffline)

	// Blockchain notifications don't repeat; hold on to them until the
	// underlying state can process them again.
	switch ev.(type) {
	case chainntnfs.ConfirmationEvent, chainntnfs.MakeFundingTxResponse:
		d.pendingChain = append(d.pendingChain, ev)
		return nil
	}

	// Only states with commitments buffer updates while offline.
	switch d.resumeState {
	case Normal, ShuttingDown:
	default:
		c.rejectCommand(ev, errors.New("peer is offline"))
		return nil
	}

	commits := commitsOf(d.inner)
	if commits == nil {
		c.rejectCommand(ev, errors.New("peer is offline"))
		return nil
	}

	switch e := ev.(type) {
	case CmdAddHTLC:
		if d.resumeState == ShuttingDown {
			c.rejectCommand(ev, errors.New(
				"cannot add htlc: shutdown in progress"))
			return nil
		}
		// sendToPeer is a no-op while offline: the add lands in the
		// change stream and the unacked buffer, and is replayed on
		// reconnection.
		return c.handleCmdAdd(e, commits)

	case CmdFulfillHTLC:
		return c.handleCmdFulfill(e, commits)

	case CmdFailHTLC:
		return c.handleCmdFail(e, commits)

	case CmdSign:
		// Signing resumes on reconnection.
		return nil

	default:
		return c.unhandled(ev)
	}
}

// handleReconnect rebinds the peer link and replays whatever the peer may
// have missed, depending on the state we were in when the link dropped.
func (c *Channel) handleReconnect(e InputReconnected) error {
	c.peer = e.Peer

	d, ok := c.data.(*dataOffline)
	if !ok {
		// A reconnect without a prior disconnect just refreshes the
		// link.
		return nil
	}

	resume := d.resumeState
	inner := d.inner
	c.state = resume
	c.data = inner
	c.notify(ChannelChangedState{Previous: Offline, Current: resume})

	log.Infof("reconnected, resuming state %v", resume)

	switch data := inner.(type) {
	// Pre-NORMAL states re-emit their last sent message so the peer can
	// resynchronize.
	case *dataWaitForAcceptChannel:
		c.sendToPeer(data.lastSent)
	case *dataWaitForFundingCreated:
		c.sendToPeer(data.lastSent)
	case *dataWaitForFundingSigned:
		c.sendToPeer(data.lastSent)
	case *dataWaitForFundingConfirmed:
		if data.lastSent != nil {
			c.sendToPeer(data.lastSent)
		}
	case *dataWaitForFundingLocked:
		c.sendToPeer(data.lastSent)
	case *dataWaitForAnnSignatures:
		c.sendToPeer(data.lastSent)

	case *dataNormal:
		c.replayUnacked(data.commits.UnackedMessages)

		// A brand-new channel that disconnected right after the
		// funding flow re-offers its announcement signatures.
		brandNew := data.commits.LocalCommit.Index == 0 &&
			data.commits.RemoteCommit.Index == 0 &&
			len(data.commits.RemoteChanges.Proposed) == 0
		if brandNew && c.announceChannel {
			annSigs, err := resignAnnouncement(c, data)
			if err != nil {
				return err
			}
			c.sendToPeer(annSigs)
		}

		if data.commits.LocalHasChanges() {
			c.selfSend(CmdSign{})
		}

	case *dataShutdown:
		c.replayUnacked(data.commits.UnackedMessages)
		c.sendToPeer(data.localShutdown)
		if data.commits.LocalHasChanges() {
			c.selfSend(CmdSign{})
		}

	case *dataNegotiating:
		c.sendToPeer(data.localShutdown)
	}

	// Chain notifications held back while offline are processed now, in
	// arrival order.
	for _, pending := range d.pendingChain {
		c.selfSend(pending)
	}

	return nil
}

// replayUnacked re-sends the retransmission buffer in order.
func (c *Channel) replayUnacked(msgs []lnwire.Message) {
	for _, msg := range msgs {
		log.Debugf("replaying %v", msg.MsgType())
		c.sendToPeer(msg)
	}
}

// resignAnnouncement rebuilds our announcement signatures after a restart
// race on a fresh channel.
func resignAnnouncement(c *Channel,
	d *dataNormal) (*lnwire.AnnounceSignatures, error) {

	return funding.SignAnnouncementSignatures(
		c.cfg.NodeKey, d.commits.LocalParams.FundingPrivKey,
		c.cfg.NodeKey.PubKey(), d.commits.RemoteParams.NodeID,
		d.commits.RemoteParams.FundingKey, d.commits.ChanID,
		d.shortChanID, c.cfg.ChainHash,
	)
}
