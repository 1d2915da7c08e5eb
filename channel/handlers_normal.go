package channel

import (
	"errors"
	"fmt"

	"github.com/lightningnetwork/channeld/chancloser"
	"github.com/lightningnetwork/channeld/commitment"
	"github.com/lightningnetwork/channeld/lnwire"
)

// handleNormal is the steady-state dispatcher: HTLC traffic, sign rounds,
// and the transition into the cooperative close flow.
func (c *Channel) handleNormal(ev Event) error {
	d := c.data.(*dataNormal)

	switch e := ev.(type) {
	case CmdAddHTLC:
		if d.localShutdown != nil {
			c.rejectCommand(ev, errors.New(
				"cannot add htlc: shutdown in progress"))
			return nil
		}
		return c.handleCmdAdd(e, &d.commits)

	case CmdFulfillHTLC:
		return c.handleCmdFulfill(e, &d.commits)

	case CmdFailHTLC:
		return c.handleCmdFail(e, &d.commits)

	case CmdSign:
		return c.handleCmdSign(&d.commits)

	case CmdClose:
		return c.handleCmdClose(e, d)

	case tickBroadcast:
		if len(d.announcements) > 0 {
			c.cfg.Router.SubmitAnnouncements(d.announcements...)
			d.announcements = nil
		}
		c.cfg.BroadcastTicker.Pause()
		return nil

	case PeerMessage:
		switch msg := e.Msg.(type) {
		case *lnwire.UpdateAddHTLC:
			commits, err := d.commits.ReceiveAdd(msg)
			if err != nil {
				return err
			}
			d.commits = commits
			return nil

		case *lnwire.UpdateFulfillHTLC:
			return c.handleReceiveFulfill(msg, &d.commits)

		case *lnwire.UpdateFailHTLC:
			return c.handleReceiveFail(msg, &d.commits)

		case *lnwire.CommitSig:
			return c.handleCommitSig(msg, &d.commits)

		case *lnwire.RevokeAndAck:
			return c.handleRevokeAndAck(msg, &d.commits)

		case *lnwire.Shutdown:
			return c.handleRemoteShutdown(msg, d)

		default:
			return c.unhandled(ev)
		}

	default:
		return c.unhandled(ev)
	}
}

// handleShutdown accepts settles and sign rounds but no new HTLCs, and falls
// through to fee negotiation once the channel is clean.
func (c *Channel) handleShutdown(ev Event) error {
	d := c.data.(*dataShutdown)

	switch e := ev.(type) {
	case CmdAddHTLC:
		c.rejectCommand(ev, errors.New(
			"cannot add htlc: shutdown in progress"))
		return nil

	case CmdFulfillHTLC:
		return c.handleCmdFulfill(e, &d.commits)

	case CmdFailHTLC:
		return c.handleCmdFail(e, &d.commits)

	case CmdSign:
		return c.handleCmdSign(&d.commits)

	case PeerMessage:
		switch msg := e.Msg.(type) {
		case *lnwire.UpdateAddHTLC:
			return fmt.Errorf("received update_add_htlc during " +
				"shutdown")

		case *lnwire.UpdateFulfillHTLC:
			return c.handleReceiveFulfill(msg, &d.commits)

		case *lnwire.UpdateFailHTLC:
			return c.handleReceiveFail(msg, &d.commits)

		case *lnwire.CommitSig:
			if err := c.handleCommitSig(
				msg, &d.commits,
			); err != nil {
				return err
			}
			return c.maybeStartNegotiation(d)

		case *lnwire.RevokeAndAck:
			if err := c.handleRevokeAndAck(
				msg, &d.commits,
			); err != nil {
				return err
			}
			return c.maybeStartNegotiation(d)

		default:
			return c.unhandled(ev)
		}

	default:
		return c.unhandled(ev)
	}
}

// handleCmdAdd runs the add through the commitments engine and binds the
// HTLC origin in the relayer.
func (c *Channel) handleCmdAdd(e CmdAddHTLC,
	commits **commitment.Commitments) error {

	next, add, err := (*commits).SendAdd(
		e.Amount, e.PaymentHash, e.Expiry,
	)
	if err != nil {
		c.rejectCommand(e, err)
		return nil
	}
	*commits = next

	origin := e.Origin
	if origin == nil {
		origin = htlcOriginLocal
	}
	c.cfg.Relayer.Bind(add, origin)

	c.sendToPeer(add)
	replyErr(e.Err, nil)

	if e.Commit {
		c.selfSend(CmdSign{})
	}
	return nil
}

// handleCmdFulfill settles an incoming HTLC, remembering the preimage for
// potential on-chain claims.
func (c *Channel) handleCmdFulfill(e CmdFulfillHTLC,
	commits **commitment.Commitments) error {

	next, fulfill, err := (*commits).SendFulfill(e.ID, e.Preimage)
	if err != nil {
		c.rejectCommand(e, err)
		return nil
	}
	*commits = next

	var rHash [32]byte = sha256Of(e.Preimage)
	c.preimages[rHash] = e.Preimage

	c.sendToPeer(fulfill)
	replyErr(e.Err, nil)

	if e.Commit {
		c.selfSend(CmdSign{})
	}
	return nil
}

// handleCmdFail fails an incoming HTLC.
func (c *Channel) handleCmdFail(e CmdFailHTLC,
	commits **commitment.Commitments) error {

	next, fail, err := (*commits).SendFail(e.ID, e.Reason)
	if err != nil {
		c.rejectCommand(e, err)
		return nil
	}
	*commits = next

	c.sendToPeer(fail)
	replyErr(e.Err, nil)

	if e.Commit {
		c.selfSend(CmdSign{})
	}
	return nil
}

// handleCmdSign starts a sign round, or schedules one if a round is already
// in flight.
func (c *Channel) handleCmdSign(commits **commitment.Commitments) error {
	switch {
	// A round is in flight: piggyback on the pending revocation.
	case (*commits).RemoteNextCommitInfo.IsLeft():
		*commits = (*commits).MarkReSignASAP()
		return nil

	// Nothing to sign, ignore.
	case !(*commits).LocalHasChanges():
		return nil
	}

	next, commitSig, err := (*commits).SendCommit()
	if err != nil {
		return err
	}
	*commits = next

	c.sendToPeer(commitSig)
	return nil
}

// handleReceiveFulfill processes the peer settling one of our HTLCs and
// relays the resolution upstream.
func (c *Channel) handleReceiveFulfill(msg *lnwire.UpdateFulfillHTLC,
	commits **commitment.Commitments) error {

	next, _, novel, err := (*commits).ReceiveFulfill(msg)
	if err != nil {
		return err
	}
	if !novel {
		return nil
	}
	*commits = next

	c.cfg.Relayer.ForwardFulfill(msg)
	return nil
}

// handleReceiveFail processes the peer failing one of our HTLCs.
func (c *Channel) handleReceiveFail(msg *lnwire.UpdateFailHTLC,
	commits **commitment.Commitments) error {

	next, _, novel, err := (*commits).ReceiveFail(msg)
	if err != nil {
		return err
	}
	if !novel {
		return nil
	}
	*commits = next

	c.cfg.Relayer.ForwardFail(msg)
	return nil
}

// handleCommitSig processes an incoming commit_sig, replies with our
// revocation, and keeps the ping-pong going while we have changes.
func (c *Channel) handleCommitSig(msg *lnwire.CommitSig,
	commits **commitment.Commitments) error {

	next, revocation, novel, err := (*commits).ReceiveCommit(msg)
	if err != nil {
		return err
	}
	if !novel {
		log.Debugf("ignoring replayed commit_sig for %v", msg.ChanID)
		return nil
	}
	*commits = next

	c.notify(ChannelSignatureReceived{ChanID: (*commits).ChanID})
	c.sendToPeer(revocation)

	if (*commits).LocalHasChanges() {
		c.selfSend(CmdSign{})
	}
	return nil
}

// handleRevokeAndAck processes the peer revoking its previous commitment,
// forwarding any HTLC that just became irrevocable.
func (c *Channel) handleRevokeAndAck(msg *lnwire.RevokeAndAck,
	commits **commitment.Commitments) error {

	reSignASAP := (*commits).ReSignASAP()

	next, forwards, err := (*commits).ReceiveRevocation(msg)
	if err != nil {
		return err
	}
	*commits = next

	for _, add := range forwards {
		c.cfg.Relayer.ForwardAdd(add)
	}

	if reSignASAP && (*commits).LocalHasChanges() {
		c.selfSend(CmdSign{})
	}
	return nil
}

// handleCmdClose validates and initiates a cooperative close.
func (c *Channel) handleCmdClose(e CmdClose, d *dataNormal) error {
	if d.localShutdown != nil {
		c.rejectCommand(e, errors.New("closing already in progress"))
		return nil
	}
	if d.commits.LocalHasChanges() {
		c.rejectCommand(e, errors.New(
			"cannot close when there are pending changes"))
		return nil
	}

	script := e.Script
	if script == nil {
		script = d.commits.LocalParams.DefaultFinalScript
	}
	if err := chancloser.ValidateFinalScript(script); err != nil {
		c.rejectCommand(e, err)
		return nil
	}

	shutdown := lnwire.NewShutdown(
		d.commits.ChanID, lnwire.DeliveryAddress(script),
	)
	c.sendToPeer(shutdown)
	d.localShutdown = shutdown
	replyErr(e.Err, nil)

	return nil
}

// handleRemoteShutdown reacts to the peer initiating (or answering) a
// cooperative close.
func (c *Channel) handleRemoteShutdown(msg *lnwire.Shutdown,
	d *dataNormal) error {

	// A shutdown while the peer has unsigned outgoing adds is a protocol
	// violation.
	if d.commits.RemoteHasUnsignedOutgoingHtlcs() {
		return errors.New("peer sent shutdown with unsigned " +
			"outgoing htlcs")
	}

	if err := chancloser.ValidateFinalScript(msg.Address); err != nil {
		return err
	}

	localShutdown := d.localShutdown
	if localShutdown == nil {
		// They initiated. Sign whatever is pending, then answer with
		// our own shutdown.
		if d.commits.LocalHasChanges() {
			c.selfSend(CmdSign{})
		}

		localShutdown = lnwire.NewShutdown(
			d.commits.ChanID,
			d.commits.LocalParams.DefaultFinalScript,
		)
		c.sendToPeer(localShutdown)
	}

	// With nothing in flight we can jump straight into fee negotiation,
	// otherwise we drain HTLCs first.
	if d.commits.HasNoPendingHtlcs() {
		return c.startNegotiation(
			d.commits, localShutdown, msg,
		)
	}

	c.transitionTo(ShuttingDown, &dataShutdown{
		commits:        d.commits,
		localShutdown:  localShutdown,
		remoteShutdown: msg,
	})
	return nil
}

// maybeStartNegotiation moves from SHUTDOWN to NEGOTIATING once all HTLCs
// have drained.
func (c *Channel) maybeStartNegotiation(d *dataShutdown) error {
	if !d.commits.HasNoPendingHtlcs() {
		return nil
	}
	return c.startNegotiation(
		d.commits, d.localShutdown, d.remoteShutdown,
	)
}

// startNegotiation enters NEGOTIATING. The funder opens with the first
// closing_signed; the fundee waits for it.
func (c *Channel) startNegotiation(commits *commitment.Commitments,
	localShutdown, remoteShutdown *lnwire.Shutdown) error {

	data := &dataNegotiating{
		commits:        commits,
		localShutdown:  localShutdown,
		remoteShutdown: remoteShutdown,
	}

	if commits.LocalParams.IsFunder {
		fee := chancloser.FirstCloseFee(commits)
		closingSigned, _, err := chancloser.SignCloseProposal(
			commits, fee, localShutdown.Address,
			remoteShutdown.Address,
		)
		if err != nil {
			return err
		}
		data.lastProposedFee = fee
		c.sendToPeer(closingSigned)
	}

	c.transitionTo(Negotiating, data)
	return nil
}
