package channel

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/lightningnetwork/channeld/chainntnfs"
	"github.com/lightningnetwork/channeld/chancloser"
	"github.com/lightningnetwork/channeld/commitment"
	"github.com/lightningnetwork/channeld/contractcourt"
	"github.com/lightningnetwork/channeld/lnwire"
)

// sha256Of hashes a preimage into its payment hash.
func sha256Of(preimage [32]byte) [32]byte {
	return sha256.Sum256(preimage[:])
}

// handleNegotiating iterates the closing fee negotiation until both sides
// sign at the same fee.
func (c *Channel) handleNegotiating(ev Event) error {
	d := c.data.(*dataNegotiating)

	switch e := ev.(type) {
	case PeerMessage:
		msg, ok := e.Msg.(*lnwire.ClosingSigned)
		if !ok {
			return c.unhandled(ev)
		}
		return c.handleClosingSigned(msg, d)

	default:
		return c.unhandled(ev)
	}
}

// handleClosingSigned verifies the remote proposal and either agrees or
// counters with the midpoint fee.
func (c *Channel) handleClosingSigned(msg *lnwire.ClosingSigned,
	d *dataNegotiating) error {

	// An invalid signature, or a fee outside our policy bounds, is fatal.
	closeTx, err := chancloser.CheckCloseProposal(
		d.commits, msg, d.localShutdown.Address,
		d.remoteShutdown.Address,
	)
	if err != nil {
		return err
	}

	remoteFee := msg.FeeSatoshis

	// Agreement: they echoed our last proposal.
	if d.lastProposedFee == remoteFee {
		return c.publishMutualClose(d, closeTx)
	}

	// Otherwise meet in the middle. Our first counter starts from our
	// ideal fee rather than from nothing.
	lastFee := d.lastProposedFee
	if lastFee == 0 {
		lastFee = chancloser.FirstCloseFee(d.commits)
		if lastFee == remoteFee {
			// Their proposal matches our ideal fee: echo a
			// signature at that fee so they can broadcast too,
			// then publish.
			closingSigned, _, err := chancloser.SignCloseProposal(
				d.commits, remoteFee, d.localShutdown.Address,
				d.remoteShutdown.Address,
			)
			if err != nil {
				return err
			}
			c.sendToPeer(closingSigned)
			return c.publishMutualClose(d, closeTx)
		}
	}

	nextFee := chancloser.NextCloseFee(lastFee, remoteFee)

	// If the midpoint lands on their proposal we're done: they already
	// signed at this fee.
	if nextFee == remoteFee {
		closingSigned, _, err := chancloser.SignCloseProposal(
			d.commits, nextFee, d.localShutdown.Address,
			d.remoteShutdown.Address,
		)
		if err != nil {
			return err
		}
		c.sendToPeer(closingSigned)
		return c.publishMutualClose(d, closeTx)
	}

	closingSigned, _, err := chancloser.SignCloseProposal(
		d.commits, nextFee, d.localShutdown.Address,
		d.remoteShutdown.Address,
	)
	if err != nil {
		return err
	}

	log.Debugf("closing fee disagreement, countering %v with %v",
		remoteFee, nextFee)

	d.lastProposedFee = nextFee
	c.sendToPeer(closingSigned)
	return nil
}

// publishMutualClose broadcasts the fully signed closing transaction and
// parks the channel in CLOSING until it confirms.
func (c *Channel) publishMutualClose(d *dataNegotiating,
	closeTx *wire.MsgTx) error {

	log.Infof("publishing mutual close %v", closeTx.TxHash())

	c.cfg.Chain.PublishAsap(closeTx)
	c.cfg.Chain.WatchConfirmed(
		closeTx.TxHash(), claimConfirmationDepth,
		chainntnfs.BitcoinCloseDone,
	)

	c.transitionTo(Closing, &dataClosing{
		commits:              d.commits,
		mutualClosePublished: closeTx,
	})
	return nil
}

// handleClosing waits for one of the active claim paths to confirm.
func (c *Channel) handleClosing(ev Event) error {
	switch e := ev.(type) {
	case chainntnfs.ConfirmationEvent:
		switch e.Tag {
		case chainntnfs.BitcoinCloseDone,
			chainntnfs.BitcoinLocalCommitDone,
			chainntnfs.BitcoinRemoteCommitDone,
			chainntnfs.BitcoinNextRemoteCommitDone,
			chainntnfs.BitcoinPenaltyDone:

			log.Infof("close confirmed via %v", e.Tag)
			c.transitionTo(Closed, &dataClosed{})
			return nil
		}
		return nil

	default:
		return c.unhandled(ev)
	}
}

// handleFundingSpent classifies a spend of the funding output and mounts the
// matching claim.
func (c *Channel) handleFundingSpent(spendingTx *wire.MsgTx) error {
	commits := c.data.commitments()
	if commits == nil {
		return fmt.Errorf("funding spent without commitments")
	}

	txid := spendingTx.TxHash()

	// Our own broadcasts (commitment or mutual close) come back to us as
	// spend notifications too.
	if d, ok := c.data.(*dataClosing); ok {
		if d.mutualClosePublished != nil &&
			d.mutualClosePublished.TxHash() == txid {

			return nil
		}
		if d.localCommitPublished != nil &&
			d.localCommitPublished.CommitTx.TxHash() == txid {

			return nil
		}
	}
	if commits.LocalCommit.TxInfo.Tx.TxHash() == txid {
		return nil
	}

	// The peer's current commitment.
	if commits.RemoteCommit.Txid == txid {
		return c.handleRemoteSpentCurrent(commits, spendingTx)
	}

	// The in-flight next commitment we signed but they haven't revoked.
	var isNext bool
	commits.NextRemoteCommitTxid().WhenSome(func(h chainhash.Hash) {
		isNext = h == txid
	})
	if isNext {
		return c.handleRemoteSpentNext(commits, spendingTx)
	}

	return c.handleRemoteSpentOther(commits, spendingTx)
}

// handleRemoteSpentCurrent claims our funds out of the peer's published
// current commitment.
func (c *Channel) handleRemoteSpentCurrent(
	commits *commitment.Commitments, spendingTx *wire.MsgTx) error {

	log.Warnf("remote commitment %v hit the chain", spendingTx.TxHash())

	rcp, err := contractcourt.ClaimRemoteCommitTxOutputs(
		commits, &commits.RemoteCommit, spendingTx, c.preimages,
	)
	if err != nil {
		return err
	}

	c.publishRemoteClaims(rcp, chainntnfs.BitcoinRemoteCommitDone)

	data := c.closingData(commits)
	data.remoteCommitPublished = rcp
	c.transitionTo(Closing, data)
	return nil
}

// handleRemoteSpentNext claims our funds out of the in-flight remote
// commitment.
func (c *Channel) handleRemoteSpentNext(commits *commitment.Commitments,
	spendingTx *wire.MsgTx) error {

	log.Warnf("next remote commitment %v hit the chain",
		spendingTx.TxHash())

	var next commitment.RemoteCommit
	commits.RemoteNextCommitInfo.WhenLeft(
		func(w commitment.WaitingForRevocation) {
			next = w.NextRemoteCommit
		},
	)

	rcp, err := contractcourt.ClaimRemoteCommitTxOutputs(
		commits, &next, spendingTx, c.preimages,
	)
	if err != nil {
		return err
	}

	c.publishRemoteClaims(rcp, chainntnfs.BitcoinNextRemoteCommitDone)

	data := c.closingData(commits)
	data.nextRemoteCommitPublished = rcp
	c.transitionTo(Closing, data)
	return nil
}

// handleRemoteSpentOther tries to recognize the spend as a revoked
// commitment; failing that, the channel keys have leaked.
func (c *Channel) handleRemoteSpentOther(commits *commitment.Commitments,
	spendingTx *wire.MsgTx) error {

	rcp, err := contractcourt.ClaimRevokedRemoteCommitTxOutputs(
		commits, spendingTx,
	)
	if err != nil {
		// Not our commit, not theirs, not revoked: someone else can
		// spend the funding output. Salvage what we can and die
		// loudly.
		log.Criticalf("funding spent by unknown tx %v: %v",
			spendingTx.TxHash(), err)

		c.publishLocalClaims(commits)
		c.transitionTo(ErrInformationLeak, &dataClosed{})
		return nil
	}

	log.Warnf("revoked commitment %v (index %d) hit the chain, "+
		"claiming penalties", spendingTx.TxHash(), rcp.CommitIndex)

	if rcp.MainPenaltyTx != nil {
		c.cfg.Chain.PublishAsap(rcp.MainPenaltyTx)
	}
	for _, tx := range rcp.HtlcPenaltyTxs {
		c.cfg.Chain.PublishAsap(tx)
	}
	c.cfg.Chain.WatchConfirmed(
		spendingTx.TxHash(), claimConfirmationDepth,
		chainntnfs.BitcoinPenaltyDone,
	)

	data := c.closingData(commits)
	data.revokedCommitPublished = append(data.revokedCommitPublished, rcp)
	c.transitionTo(Closing, data)
	return nil
}

// spendLocalCurrent publishes our own commitment along with every claim we
// can mount on it, then parks the channel in CLOSING.
func (c *Channel) spendLocalCurrent(commits *commitment.Commitments) {
	lcp := c.publishLocalClaims(commits)

	data := c.closingData(commits)
	data.localCommitPublished = lcp
	c.transitionTo(Closing, data)
}

// publishLocalClaims broadcasts our commitment and its claim chain, arming
// the confirmation and HTLC-spend watches.
func (c *Channel) publishLocalClaims(
	commits *commitment.Commitments) *contractcourt.LocalCommitPublished {

	lcp, err := contractcourt.ClaimLocalCommitTxOutputs(
		commits, c.preimages,
	)
	if err != nil {
		// Claims are best effort: the commitment itself must go out
		// regardless.
		log.Errorf("unable to build local claims: %v", err)
		lcp = &contractcourt.LocalCommitPublished{
			CommitTx: commits.LocalCommit.TxInfo.Tx,
		}
	}

	log.Warnf("publishing local commitment %v", lcp.CommitTx.TxHash())

	c.cfg.Chain.PublishAsap(lcp.CommitTx)
	if lcp.ClaimMainDelayedOutputTx != nil {
		c.cfg.Chain.PublishAsap(lcp.ClaimMainDelayedOutputTx)
	}
	for _, tx := range lcp.HtlcSuccessTxs {
		c.cfg.Chain.PublishAsap(tx)
		c.watchHtlcSpend(tx)
	}
	for _, tx := range lcp.HtlcTimeoutTxs {
		c.cfg.Chain.PublishAsap(tx)
		c.watchHtlcSpend(tx)
	}
	for _, tx := range lcp.ClaimHtlcDelayedTxs {
		c.cfg.Chain.PublishAsap(tx)
	}

	c.cfg.Chain.WatchConfirmed(
		lcp.CommitTx.TxHash(), claimConfirmationDepth,
		chainntnfs.BitcoinLocalCommitDone,
	)

	return lcp
}

// publishRemoteClaims broadcasts the claims on a remote commitment and arms
// the watches.
func (c *Channel) publishRemoteClaims(
	rcp *contractcourt.RemoteCommitPublished, doneTag chainntnfs.EventTag) {

	if rcp.ClaimMainOutputTx != nil {
		c.cfg.Chain.PublishAsap(rcp.ClaimMainOutputTx)
	}
	for _, tx := range rcp.ClaimHtlcSuccessTxs {
		c.cfg.Chain.PublishAsap(tx)
		c.watchHtlcSpend(tx)
	}
	for _, tx := range rcp.ClaimHtlcTimeoutTxs {
		c.cfg.Chain.PublishAsap(tx)
		c.watchHtlcSpend(tx)
	}

	c.cfg.Chain.WatchConfirmed(
		rcp.CommitTx.TxHash(), claimConfirmationDepth, doneTag,
	)
}

// watchHtlcSpend watches the single input of a published claim so the
// relayer can extract preimages from counterparty spends.
func (c *Channel) watchHtlcSpend(tx *wire.MsgTx) {
	c.cfg.Chain.WatchSpent(
		tx.TxIn[0].PreviousOutPoint, chainntnfs.BitcoinHtlcSpent,
	)
}

// closingData returns the current dataClosing, reusing it when several claim
// paths pile up.
func (c *Channel) closingData(
	commits *commitment.Commitments) *dataClosing {

	if d, ok := c.data.(*dataClosing); ok {
		return d
	}
	return &dataClosing{commits: commits}
}
