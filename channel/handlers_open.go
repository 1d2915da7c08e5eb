package channel

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/lightningnetwork/channeld/chainntnfs"
	"github.com/lightningnetwork/channeld/commitment"
	"github.com/lightningnetwork/channeld/funding"
	"github.com/lightningnetwork/channeld/input"
	"github.com/lightningnetwork/channeld/lnwire"
	"github.com/lightningnetwork/channeld/shachain"
)

// handleInitInternal waits for the owning node to pick our role.
func (c *Channel) handleInitInternal(ev Event) error {
	switch e := ev.(type) {
	case InitFunder:
		return c.initFunder(e)

	case InitFundee:
		c.announceChannel = e.AnnounceChannel
		c.transitionTo(WaitForOpenChannel, &dataWaitForOpenChannel{
			init: e,
		})
		return nil

	case CmdClose:
		replyErr(e.Err, nil)
		c.transitionTo(Closed, &dataClosed{})
		return nil

	default:
		return c.unhandled(ev)
	}
}

// initFunder computes our first per-commitment point and offers the channel
// to the peer.
func (c *Channel) initFunder(e InitFunder) error {
	firstPoint, err := funding.PerCommitPoint(e.LocalParams.ShaSeed, 0)
	if err != nil {
		return err
	}

	var flags lnwire.FundingFlag
	if e.AnnounceChannel {
		flags |= lnwire.FFAnnounceChannel
	}

	open := &lnwire.OpenChannel{
		ChainHash:            c.cfg.ChainHash,
		PendingChannelID:     e.TempChanID,
		FundingAmount:        e.FundingAmount,
		PushAmount:           e.PushAmount,
		DustLimit:            e.LocalParams.DustLimit,
		MaxValueInFlight:     e.LocalParams.MaxPendingAmount,
		ChannelReserve:       e.LocalParams.ChanReserve,
		HtlcMinimum:          e.LocalParams.HtlcMinimum,
		FeePerKiloWeight:     uint32(e.FeeRatePerKw),
		CsvDelay:             e.LocalParams.CsvDelay,
		MaxAcceptedHTLCs:     e.LocalParams.MaxAcceptedHtlcs,
		FundingKey:           e.LocalParams.FundingKey(),
		RevocationPoint:      e.LocalParams.RevocationBasePoint(),
		PaymentPoint:         e.LocalParams.PaymentBasePoint(),
		DelayedPaymentPoint:  e.LocalParams.DelayBasePoint(),
		FirstCommitmentPoint: firstPoint,
		ChannelFlags:         flags,
	}

	c.announceChannel = e.AnnounceChannel
	c.notify(ChannelCreated{TempChanID: e.TempChanID})
	c.sendToPeer(open)
	c.transitionTo(WaitForAcceptChannel, &dataWaitForAcceptChannel{
		init:     e,
		lastSent: open,
	})

	return nil
}

// handleWaitForOpenChannel is the fundee waiting for the funder's offer.
func (c *Channel) handleWaitForOpenChannel(ev Event) error {
	d := c.data.(*dataWaitForOpenChannel)

	switch e := ev.(type) {
	case PeerMessage:
		open, ok := e.Msg.(*lnwire.OpenChannel)
		if !ok {
			return c.unhandled(ev)
		}
		return c.acceptOpenChannel(d, open)

	case CmdClose:
		replyErr(e.Err, nil)
		c.transitionTo(Closed, &dataClosed{})
		return nil

	default:
		return c.unhandled(ev)
	}
}

// acceptOpenChannel validates the funder's parameters and responds with our
// own.
func (c *Channel) acceptOpenChannel(d *dataWaitForOpenChannel,
	open *lnwire.OpenChannel) error {

	if open.PendingChannelID != d.init.TempChanID {
		return fmt.Errorf("unexpected temporary channel id %x",
			open.PendingChannelID)
	}
	if err := funding.ValidateOpenChannel(open); err != nil {
		return err
	}

	remoteParams := remoteParamsFromOpen(open)
	remoteParams.NodeID = d.init.RemoteNodeID

	firstPoint, err := funding.PerCommitPoint(
		d.init.LocalParams.ShaSeed, 0,
	)
	if err != nil {
		return err
	}

	accept := &lnwire.AcceptChannel{
		PendingChannelID:     open.PendingChannelID,
		DustLimit:            d.init.LocalParams.DustLimit,
		MaxValueInFlight:     d.init.LocalParams.MaxPendingAmount,
		ChannelReserve:       d.init.LocalParams.ChanReserve,
		HtlcMinimum:          d.init.LocalParams.HtlcMinimum,
		MinAcceptDepth:       c.cfg.MinimumDepth,
		CsvDelay:             d.init.LocalParams.CsvDelay,
		MaxAcceptedHTLCs:     d.init.LocalParams.MaxAcceptedHtlcs,
		FundingKey:           d.init.LocalParams.FundingKey(),
		RevocationPoint:      d.init.LocalParams.RevocationBasePoint(),
		PaymentPoint:         d.init.LocalParams.PaymentBasePoint(),
		DelayedPaymentPoint:  d.init.LocalParams.DelayBasePoint(),
		FirstCommitmentPoint: firstPoint,
	}

	c.sendToPeer(accept)
	c.transitionTo(WaitForFundingCreated, &dataWaitForFundingCreated{
		init:                      d.init,
		remoteParams:              remoteParams,
		fundingAmount:             open.FundingAmount,
		pushAmount:                open.PushAmount,
		feeRatePerKw:              commitment.SatPerKWeight(open.FeePerKiloWeight),
		remoteFirstPerCommitPoint: open.FirstCommitmentPoint,
		lastSent:                  accept,
	})

	return nil
}

// handleWaitForAcceptChannel is the funder waiting for the fundee's
// parameters.
func (c *Channel) handleWaitForAcceptChannel(ev Event) error {
	d := c.data.(*dataWaitForAcceptChannel)

	switch e := ev.(type) {
	case PeerMessage:
		accept, ok := e.Msg.(*lnwire.AcceptChannel)
		if !ok {
			return c.unhandled(ev)
		}

		if err := funding.ValidateAcceptChannel(
			d.lastSent, accept,
		); err != nil {
			return err
		}

		remoteParams := remoteParamsFromAccept(accept)
		remoteParams.NodeID = d.init.RemoteNodeID

		// Ask the blockchain collaborator for a funding transaction
		// paying to the multisig output.
		_, fundingOutput, err := input.GenFundingPkScript(
			d.init.LocalParams.FundingKey().SerializeCompressed(),
			remoteParams.FundingKey.SerializeCompressed(),
			int64(d.init.FundingAmount),
		)
		if err != nil {
			return err
		}
		c.cfg.Chain.MakeFundingTx(
			d.init.FundingAmount, fundingOutput.PkScript,
		)

		c.transitionTo(
			WaitForFundingInternal, &dataWaitForFundingInternal{
				init:         d.init,
				remoteParams: remoteParams,
				remoteFirstPerCommitPoint: accept.
					FirstCommitmentPoint,
				lastSent: d.lastSent,
			},
		)
		return nil

	case CmdClose:
		replyErr(e.Err, nil)
		c.transitionTo(Closed, &dataClosed{})
		return nil

	default:
		return c.unhandled(ev)
	}
}

// handleWaitForFundingInternal is the funder waiting for the funding
// transaction to be built.
func (c *Channel) handleWaitForFundingInternal(ev Event) error {
	d := c.data.(*dataWaitForFundingInternal)

	switch e := ev.(type) {
	case chainntnfs.MakeFundingTxResponse:
		first, err := funding.MakeFirstCommitTxs(
			d.init.LocalParams, d.remoteParams,
			d.init.FundingAmount, d.init.PushAmount,
			d.init.FeeRatePerKw, e.FundingTx.TxHash(),
			e.OutputIndex, d.remoteFirstPerCommitPoint,
		)
		if err != nil {
			return err
		}

		// Sign their first commitment; ours remains unsigned until
		// funding_signed arrives.
		remoteSig, err := input.SignOutputRaw(
			first.RemoteTx.Tx, 0, first.FundingInput.WitnessScript,
			first.FundingInput.Capacity,
			d.init.LocalParams.FundingPrivKey,
		)
		if err != nil {
			return err
		}
		wireSig, err := lnwire.NewSigFromSignature(remoteSig)
		if err != nil {
			return err
		}

		fundingCreated := &lnwire.FundingCreated{
			PendingChannelID: d.init.TempChanID,
			FundingPoint:     first.FundingInput.OutPoint,
			CommitSig:        wireSig,
		}

		commits := newCommitments(
			d.init.LocalParams, d.remoteParams, first,
			lnwire.Sig{}, d.remoteFirstPerCommitPoint,
		)

		c.sendToPeer(fundingCreated)
		c.transitionTo(
			WaitForFundingSigned, &dataWaitForFundingSigned{
				commits:   commits,
				fundingTx: e.FundingTx,
				lastSent:  fundingCreated,
			},
		)
		return nil

	case CmdClose:
		replyErr(e.Err, nil)
		c.transitionTo(Closed, &dataClosed{})
		return nil

	default:
		return c.unhandled(ev)
	}
}

// handleWaitForFundingSigned is the funder waiting for the fundee's
// signature over our first commitment.
func (c *Channel) handleWaitForFundingSigned(ev Event) error {
	d := c.data.(*dataWaitForFundingSigned)

	switch e := ev.(type) {
	case PeerMessage:
		sigMsg, ok := e.Msg.(*lnwire.FundingSigned)
		if !ok {
			return c.unhandled(ev)
		}

		// Verify spendability of our own commitment before committing
		// funds on chain. A bad signature here simply kills the
		// channel; nothing was published yet.
		theirSig, err := sigMsg.CommitSig.ToSignature()
		if err == nil {
			err = input.VerifyOutputSig(
				d.commits.LocalCommit.TxInfo.Tx, 0,
				d.commits.CommitInput.WitnessScript,
				d.commits.CommitInput.Capacity,
				d.commits.RemoteParams.FundingKey, theirSig,
			)
		}
		if err != nil {
			c.sendToPeer(&lnwire.Error{
				ChanID: sigMsg.ChanID,
				Data: lnwire.ErrorData(
					"invalid funding signature",
				),
			})
			c.transitionTo(Closed, &dataClosed{})
			return nil
		}

		d.commits.LocalCommit.TheirSig = sigMsg.CommitSig

		c.notify(ChannelIDAssigned{
			TempChanID: d.lastSent.PendingChannelID,
			ChanID:     d.commits.ChanID,
		})

		// Broadcast and start watching the funding output.
		c.cfg.Chain.PublishAsap(d.fundingTx)
		c.watchFunding(d.commits)

		c.transitionTo(
			WaitForFundingConfirmed, &dataWaitForFundingConfirmed{
				commits:   d.commits,
				fundingTx: d.fundingTx,
				lastSent:  d.lastSent,
			},
		)
		return nil

	case CmdClose:
		// The funding tx hasn't been published: safe to walk away.
		replyErr(e.Err, nil)
		c.transitionTo(Closed, &dataClosed{})
		return nil

	default:
		return c.unhandled(ev)
	}
}

// handleWaitForFundingCreated is the fundee waiting for the funding
// outpoint and the funder's first signature.
func (c *Channel) handleWaitForFundingCreated(ev Event) error {
	d := c.data.(*dataWaitForFundingCreated)

	switch e := ev.(type) {
	case PeerMessage:
		created, ok := e.Msg.(*lnwire.FundingCreated)
		if !ok {
			return c.unhandled(ev)
		}

		first, err := funding.MakeFirstCommitTxs(
			d.init.LocalParams, d.remoteParams, d.fundingAmount,
			d.pushAmount, d.feeRatePerKw,
			created.FundingPoint.Hash,
			created.FundingPoint.Index,
			d.remoteFirstPerCommitPoint,
		)
		if err != nil {
			return err
		}

		// Their signature must make our commitment spendable.
		theirSig, err := created.CommitSig.ToSignature()
		if err != nil {
			return err
		}
		err = input.VerifyOutputSig(
			first.LocalTx.Tx, 0, first.FundingInput.WitnessScript,
			first.FundingInput.Capacity, d.remoteParams.FundingKey,
			theirSig,
		)
		if err != nil {
			return fmt.Errorf("invalid funding_created "+
				"signature: %w", err)
		}

		// Sign their first commitment in return.
		ourSig, err := input.SignOutputRaw(
			first.RemoteTx.Tx, 0, first.FundingInput.WitnessScript,
			first.FundingInput.Capacity,
			d.init.LocalParams.FundingPrivKey,
		)
		if err != nil {
			return err
		}
		ourWireSig, err := lnwire.NewSigFromSignature(ourSig)
		if err != nil {
			return err
		}

		commits := newCommitments(
			d.init.LocalParams, d.remoteParams, first,
			created.CommitSig, d.remoteFirstPerCommitPoint,
		)

		fundingSigned := &lnwire.FundingSigned{
			ChanID:    commits.ChanID,
			CommitSig: ourWireSig,
		}

		c.notify(ChannelIDAssigned{
			TempChanID: d.init.TempChanID,
			ChanID:     commits.ChanID,
		})

		c.sendToPeer(fundingSigned)
		c.watchFunding(commits)
		c.transitionTo(
			WaitForFundingConfirmed, &dataWaitForFundingConfirmed{
				commits:  commits,
				lastSent: fundingSigned,
			},
		)
		return nil

	case CmdClose:
		replyErr(e.Err, nil)
		c.transitionTo(Closed, &dataClosed{})
		return nil

	default:
		return c.unhandled(ev)
	}
}

// handleWaitForFundingConfirmed waits for the funding depth-ok event; an
// early funding_locked from a faster peer is deferred.
func (c *Channel) handleWaitForFundingConfirmed(ev Event) error {
	d := c.data.(*dataWaitForFundingConfirmed)

	switch e := ev.(type) {
	case chainntnfs.ConfirmationEvent:
		if e.Tag != chainntnfs.BitcoinFundingDepthOK {
			return nil
		}

		shortChanID := lnwire.ShortChannelID{
			BlockHeight: e.BlockHeight,
			TxIndex:     e.TxIndex,
			TxPosition: uint16(
				d.commits.CommitInput.OutPoint.Index,
			),
		}

		// From now on a reorg of the funding tx is fatal.
		c.cfg.Chain.WatchLost(
			d.commits.CommitInput.OutPoint.Hash,
			c.cfg.MinimumDepth, chainntnfs.BitcoinFundingLost,
		)

		nextPoint, err := d.commits.LocalPerCommitPoint(1)
		if err != nil {
			return err
		}
		locked := lnwire.NewFundingLocked(d.commits.ChanID, nextPoint)
		c.sendToPeer(locked)

		c.transitionTo(
			WaitForFundingLocked, &dataWaitForFundingLocked{
				commits:     d.commits,
				shortChanID: shortChanID,
				lastSent:    locked,
			},
		)

		// Replay the peer's early funding_locked, if any.
		if d.deferred != nil {
			c.selfSend(PeerMessage{Msg: d.deferred})
		}
		return nil

	case PeerMessage:
		locked, ok := e.Msg.(*lnwire.FundingLocked)
		if !ok {
			return c.unhandled(ev)
		}

		log.Debugf("deferring early funding_locked for %v",
			locked.ChanID)
		d.deferred = locked
		return nil

	case CmdClose:
		c.rejectCommand(ev, errors.New("funding tx already "+
			"published, use force close"))
		return nil

	default:
		return c.unhandled(ev)
	}
}

// handleWaitForFundingLocked waits for the peer's funding_locked carrying
// their next per-commitment point.
func (c *Channel) handleWaitForFundingLocked(ev Event) error {
	d := c.data.(*dataWaitForFundingLocked)

	switch e := ev.(type) {
	case PeerMessage:
		locked, ok := e.Msg.(*lnwire.FundingLocked)
		if !ok {
			return c.unhandled(ev)
		}

		// A channel id mismatch here is unrecoverable: negotiating a
		// new id isn't supported.
		if locked.ChanID != d.commits.ChanID {
			return fmt.Errorf("funding_locked channel id "+
				"mismatch: %v != %v", locked.ChanID,
				d.commits.ChanID)
		}

		d.commits.RemoteNextCommitInfo = fn.NewRight[commitment.WaitingForRevocation](locked.NextPerCommitmentPoint)

		if !c.announceChannel {
			c.transitionTo(Normal, &dataNormal{
				commits:     d.commits,
				shortChanID: d.shortChanID,
			})
			return nil
		}

		annSigs, err := funding.SignAnnouncementSignatures(
			c.cfg.NodeKey,
			d.commits.LocalParams.FundingPrivKey,
			c.cfg.NodeKey.PubKey(),
			d.commits.RemoteParams.NodeID,
			d.commits.RemoteParams.FundingKey,
			d.commits.ChanID, d.shortChanID, c.cfg.ChainHash,
		)
		if err != nil {
			return err
		}

		c.sendToPeer(annSigs)
		c.transitionTo(
			WaitForAnnSignatures, &dataWaitForAnnSignatures{
				commits:     d.commits,
				shortChanID: d.shortChanID,
				lastSent:    annSigs,
			},
		)
		return nil

	case CmdClose:
		c.rejectCommand(ev, errors.New("channel not open yet, use "+
			"force close"))
		return nil

	default:
		return c.unhandled(ev)
	}
}

// handleWaitForAnnSignatures waits for the peer's half of the channel
// announcement.
func (c *Channel) handleWaitForAnnSignatures(ev Event) error {
	d := c.data.(*dataWaitForAnnSignatures)

	switch e := ev.(type) {
	case PeerMessage:
		remoteSigs, ok := e.Msg.(*lnwire.AnnounceSignatures)
		if !ok {
			return c.unhandled(ev)
		}

		anns, err := funding.AssembleChannelAnnouncement(
			c.cfg.NodeKey,
			d.commits.LocalParams.FundingPrivKey,
			c.cfg.NodeKey.PubKey(),
			d.commits.RemoteParams.NodeID,
			d.commits.RemoteParams.FundingKey,
			d.lastSent, remoteSigs, c.cfg.ChainHash,
			d.commits.LocalParams.HtlcMinimum,
		)
		if err != nil {
			return err
		}

		// The announcements are flushed to the router on the next
		// broadcast tick rather than immediately.
		c.cfg.BroadcastTicker.Resume()
		c.transitionTo(Normal, &dataNormal{
			commits:       d.commits,
			shortChanID:   d.shortChanID,
			announcements: anns,
		})
		return nil

	default:
		return c.unhandled(ev)
	}
}

// watchFunding arms the spend and confirmation watches on the funding
// output.
func (c *Channel) watchFunding(commits *commitment.Commitments) {
	depth := c.cfg.MinimumDepth
	if commits.LocalParams.IsFunder {
		depth = commits.RemoteParams.MinimumDepth
	}

	c.cfg.Chain.WatchConfirmed(
		commits.CommitInput.OutPoint.Hash, depth,
		chainntnfs.BitcoinFundingDepthOK,
	)
	c.cfg.Chain.WatchSpent(
		commits.CommitInput.OutPoint,
		chainntnfs.BitcoinFundingSpent,
	)
}

// newCommitments assembles the initial commitments value once the first
// commitment transactions exist.
func newCommitments(localParams *commitment.LocalParams,
	remoteParams *commitment.RemoteParams, first *funding.FirstCommitTxs,
	theirSig lnwire.Sig,
	remoteFirstPoint *btcec.PublicKey) *commitment.Commitments {

	var obfuscator [commitment.StateHintSize]byte
	if localParams.IsFunder {
		obfuscator = commitment.DeriveStateHintObfuscator(
			localParams.PaymentBasePoint(),
			remoteParams.PaymentBasePoint,
		)
	} else {
		obfuscator = commitment.DeriveStateHintObfuscator(
			remoteParams.PaymentBasePoint,
			localParams.PaymentBasePoint(),
		)
	}

	return &commitment.Commitments{
		LocalParams:  localParams,
		RemoteParams: remoteParams,
		ChanID: lnwire.NewChanIDFromOutPoint(
			first.FundingInput.OutPoint,
		),
		LocalCommit: commitment.LocalCommit{
			Index:    0,
			Spec:     first.LocalSpec,
			TxInfo:   first.LocalTx,
			TheirSig: theirSig,
		},
		RemoteCommit: commitment.RemoteCommit{
			Index:                0,
			Spec:                 first.RemoteSpec,
			Txid:                 first.RemoteTx.Tx.TxHash(),
			RemotePerCommitPoint: remoteFirstPoint,
		},
		RemoteNextCommitInfo:       fn.NewRight[commitment.WaitingForRevocation](remoteFirstPoint),
		CommitInput:                first.FundingInput,
		RemotePerCommitmentSecrets: shachain.NewRevocationStore(),
		Obfuscator:                 obfuscator,
	}
}

// remoteParamsFromOpen lifts the remote constraints out of an open_channel.
func remoteParamsFromOpen(m *lnwire.OpenChannel) *commitment.RemoteParams {
	return &commitment.RemoteParams{
		ChannelConstraints: commitment.ChannelConstraints{
			DustLimit:        m.DustLimit,
			MaxPendingAmount: m.MaxValueInFlight,
			ChanReserve:      m.ChannelReserve,
			HtlcMinimum:      m.HtlcMinimum,
			CsvDelay:         m.CsvDelay,
			MaxAcceptedHtlcs: m.MaxAcceptedHTLCs,
		},
		FundingKey:          m.FundingKey,
		RevocationBasePoint: m.RevocationPoint,
		PaymentBasePoint:    m.PaymentPoint,
		DelayBasePoint:      m.DelayedPaymentPoint,
	}
}

// remoteParamsFromAccept lifts the remote constraints out of an
// accept_channel.
func remoteParamsFromAccept(
	m *lnwire.AcceptChannel) *commitment.RemoteParams {

	return &commitment.RemoteParams{
		ChannelConstraints: commitment.ChannelConstraints{
			DustLimit:        m.DustLimit,
			MaxPendingAmount: m.MaxValueInFlight,
			ChanReserve:      m.ChannelReserve,
			HtlcMinimum:      m.HtlcMinimum,
			CsvDelay:         m.CsvDelay,
			MaxAcceptedHtlcs: m.MaxAcceptedHTLCs,
		},
		FundingKey:          m.FundingKey,
		RevocationBasePoint: m.RevocationPoint,
		PaymentBasePoint:    m.PaymentPoint,
		DelayBasePoint:      m.DelayedPaymentPoint,
		MinimumDepth:        m.MinAcceptDepth,
	}
}

// unhandled logs and ignores an event that carries no meaning in the current
// state. Commands are rejected so their senders aren't left hanging.
func (c *Channel) unhandled(ev Event) error {
	log.Debugf("ignoring %T in state %v", ev, c.state)
	c.rejectCommand(ev, fmt.Errorf("cannot handle command in state %v",
		c.state))
	return nil
}
