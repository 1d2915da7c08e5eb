package commitment

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/lightningnetwork/channeld/input"
	"github.com/lightningnetwork/channeld/lnwire"
)

var (
	// ErrNoUpdates is returned when a sign round is requested while there
	// is nothing new to sign.
	ErrNoUpdates = errors.New("cannot sign commitment with no updates")

	// ErrSignInFlight is returned when a sign round is requested while a
	// previous one hasn't been revoked yet.
	ErrSignInFlight = errors.New("cannot sign until next revocation hash " +
		"is received")

	// ErrNoRevocationInFlight is returned when a revocation arrives while
	// no sign round is in flight.
	ErrNoRevocationInFlight = errors.New("received unexpected revocation")

	// ErrInvalidCommitSig is returned when the counterparty's commitment
	// signature fails validation.
	ErrInvalidCommitSig = errors.New("invalid commitment signature")

	// ErrInvalidHtlcSig is returned when one of the counterparty's HTLC
	// signatures fails validation.
	ErrInvalidHtlcSig = errors.New("invalid htlc signature")

	// ErrInvalidRevocation is returned when the revealed revocation secret
	// doesn't match the per-commitment point we know.
	ErrInvalidRevocation = errors.New("revocation secret does not match " +
		"commitment point")

	// ErrHtlcValueTooSmall is returned when an offered HTLC is below the
	// counterparty's minimum.
	ErrHtlcValueTooSmall = errors.New("htlc value below minimum")

	// ErrMaxHtlcValueInFlight is returned when an add would push the
	// aggregate in-flight value over the negotiated limit.
	ErrMaxHtlcValueInFlight = errors.New("max htlc value in flight " +
		"exceeded")

	// ErrMaxAcceptedHtlcs is returned when an add would exceed the
	// negotiated HTLC count limit.
	ErrMaxAcceptedHtlcs = errors.New("max accepted htlcs exceeded")

	// ErrInsufficientBalance is returned when an add would dip a balance
	// below the channel reserve plus the commitment fee.
	ErrInsufficientBalance = errors.New("insufficient balance for htlc")

	// ErrUnexpectedHtlcID is returned when the counterparty skips or
	// reuses an HTLC id.
	ErrUnexpectedHtlcID = errors.New("unexpected htlc id")

	// ErrUnknownHtlc is returned when a settle references an HTLC we
	// don't know about.
	ErrUnknownHtlc = errors.New("unknown htlc")

	// ErrInvalidPreimage is returned when a fulfill carries a preimage
	// that doesn't hash to the HTLC's payment hash.
	ErrInvalidPreimage = errors.New("invalid htlc preimage")
)

// makeLocalTxs builds our commitment transaction at the given index for the
// given spec.
func (c *Commitments) makeLocalTxs(index uint64, spec Spec) (*TxInfo, *Keys,
	error) {

	perCommitPoint, err := c.LocalPerCommitPoint(index)
	if err != nil {
		return nil, nil, err
	}
	keys := c.localKeys(perCommitPoint)

	txInfo, err := CreateCommitTx(
		c.CommitInput.TxIn(), keys, c.RemoteParams.CsvDelay,
		c.LocalParams.DustLimit, c.LocalParams.IsFunder, spec, index,
		c.Obfuscator,
	)
	if err != nil {
		return nil, nil, err
	}

	return txInfo, keys, nil
}

// makeRemoteTxs builds the counterparty's commitment transaction at the given
// index and per-commitment point, from their point of view.
func (c *Commitments) makeRemoteTxs(index uint64,
	perCommitPoint *btcec.PublicKey, spec Spec) (*TxInfo, *Keys, error) {

	keys := c.remoteKeys(perCommitPoint)

	txInfo, err := CreateCommitTx(
		c.CommitInput.TxIn(), keys, c.LocalParams.CsvDelay,
		c.RemoteParams.DustLimit, !c.LocalParams.IsFunder, spec, index,
		c.Obfuscator,
	)
	if err != nil {
		return nil, nil, err
	}

	return txInfo, keys, nil
}

// secondLevelTx builds the second-level transaction sweeping the given HTLC
// output of a commitment owned by the party whose keys are passed. The
// csvDelay is the delay imposed on the commitment owner.
func secondLevelTx(commitTxid [32]byte, out HtlcOutput, keys *Keys,
	csvDelay uint16, feeRate SatPerKWeight) (*txWithScript, error) {

	outpoint := newOutPoint(commitTxid, out.OutputIndex)

	if out.Htlc.Incoming {
		tx, script, err := CreateHtlcSuccessTx(
			outpoint, out.Htlc.Amount, csvDelay, feeRate,
			keys.RevocationKey, keys.DelayKey,
		)
		if err != nil {
			return nil, err
		}
		return &txWithScript{tx: tx, script: script}, nil
	}

	tx, script, err := CreateHtlcTimeoutTx(
		outpoint, out.Htlc.Amount, out.Htlc.Expiry, csvDelay, feeRate,
		keys.RevocationKey, keys.DelayKey,
	)
	if err != nil {
		return nil, err
	}
	return &txWithScript{tx: tx, script: script}, nil
}

// SendAdd validates and applies a locally offered HTLC, returning the new
// commitments and the update_add_htlc to send. The receiver is left
// untouched on failure.
func (c *Commitments) SendAdd(amount lnwire.MilliSatoshi, paymentHash [32]byte,
	expiry uint32) (*Commitments, *lnwire.UpdateAddHTLC, error) {

	if amount < c.RemoteParams.HtlcMinimum {
		return nil, nil, ErrHtlcValueTooSmall
	}

	cp := c.copy()

	add := &lnwire.UpdateAddHTLC{
		ChanID:      cp.ChanID,
		ID:          cp.LocalNextHtlcID,
		Amount:      amount,
		PaymentHash: paymentHash,
		Expiry:      expiry,
	}
	cp.LocalNextHtlcID++
	cp.LocalChanges.Proposed = append(cp.LocalChanges.Proposed, add)
	cp.AddUnackedMessage(add)

	// The update is validated against the remote commitment this htlc
	// will end up in, with every pending change applied.
	spec, err := Reduce(
		cp.RemoteCommit.Spec, cp.RemoteChanges.Acked,
		append(cp.LocalChanges.Proposed, cp.LocalChanges.Signed...),
	)
	if err != nil {
		return nil, nil, err
	}

	// From the remote point of view our offered HTLCs are incoming.
	if spec.TotalPending(true) > c.RemoteParams.MaxPendingAmount {
		return nil, nil, ErrMaxHtlcValueInFlight
	}
	if spec.NumPending(true) > int(c.RemoteParams.MaxAcceptedHtlcs) {
		return nil, nil, ErrMaxAcceptedHtlcs
	}

	// Our balance after the add must cover the reserve the counterparty
	// demands, plus the commitment fee if we're the funder.
	var fees int64
	if c.LocalParams.IsFunder {
		fees = int64(CommitFee(spec.FeeRatePerKw, len(spec.Htlcs)))
	}
	missing := int64(spec.ToRemote.ToSatoshis()) - fees -
		int64(c.RemoteParams.ChanReserve)
	if missing < 0 {
		return nil, nil, fmt.Errorf("%w: missing %d sat",
			ErrInsufficientBalance, -missing)
	}

	return cp, add, nil
}

// ReceiveAdd validates and applies an HTLC offered by the counterparty.
func (c *Commitments) ReceiveAdd(m *lnwire.UpdateAddHTLC) (*Commitments,
	error) {

	// Tolerate a replay, after a reconnection, of an add that is still
	// among the remote changes.
	if m.ID < c.RemoteNextHtlcID {
		for _, prev := range c.RemoteChanges.all() {
			if add, ok := prev.(*lnwire.UpdateAddHTLC); ok &&
				add.ID == m.ID {

				return c, nil
			}
		}
		return nil, fmt.Errorf("%w: got %d, want %d",
			ErrUnexpectedHtlcID, m.ID, c.RemoteNextHtlcID)
	}

	if m.ID != c.RemoteNextHtlcID {
		return nil, fmt.Errorf("%w: got %d, want %d",
			ErrUnexpectedHtlcID, m.ID, c.RemoteNextHtlcID)
	}

	if m.Amount < c.LocalParams.HtlcMinimum {
		return nil, ErrHtlcValueTooSmall
	}

	cp := c.copy()
	cp.RemoteNextHtlcID++
	cp.RemoteChanges.Proposed = append(cp.RemoteChanges.Proposed, m)

	// Mirror checks, against our commitment this time.
	spec, err := Reduce(
		cp.LocalCommit.Spec, cp.LocalChanges.Acked,
		append(cp.RemoteChanges.Proposed, cp.RemoteChanges.Signed...),
	)
	if err != nil {
		return nil, err
	}

	if spec.TotalPending(true) > c.LocalParams.MaxPendingAmount {
		return nil, ErrMaxHtlcValueInFlight
	}
	if spec.NumPending(true) > int(c.LocalParams.MaxAcceptedHtlcs) {
		return nil, ErrMaxAcceptedHtlcs
	}

	var fees int64
	if !c.LocalParams.IsFunder {
		fees = int64(CommitFee(spec.FeeRatePerKw, len(spec.Htlcs)))
	}
	missing := int64(spec.ToRemote.ToSatoshis()) - fees -
		int64(c.LocalParams.ChanReserve)
	if missing < 0 {
		return nil, fmt.Errorf("%w: peer missing %d sat",
			ErrInsufficientBalance, -missing)
	}

	return cp, nil
}

// SendFulfill settles an incoming HTLC with its preimage, returning the
// update_fulfill_htlc to send.
func (c *Commitments) SendFulfill(id uint64,
	preimage [32]byte) (*Commitments, *lnwire.UpdateFulfillHTLC, error) {

	// The HTLC must be present in the remote commitment: from their point
	// of view it is an outgoing HTLC with their id.
	htlc, err := c.RemoteCommit.Spec.GetHTLC(false, id)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnknownHtlc, id)
	}

	if sha256.Sum256(preimage[:]) != htlc.RHash {
		return nil, nil, ErrInvalidPreimage
	}

	fulfill := &lnwire.UpdateFulfillHTLC{
		ChanID:          c.ChanID,
		ID:              id,
		PaymentPreimage: preimage,
	}

	cp := c.copy()
	cp.LocalChanges.Proposed = append(cp.LocalChanges.Proposed, fulfill)
	cp.AddUnackedMessage(fulfill)

	return cp, fulfill, nil
}

// ReceiveFulfill applies the counterparty settling one of our outgoing
// HTLCs. The returned bool is false when the message is an idempotent replay
// of an already settled HTLC.
func (c *Commitments) ReceiveFulfill(m *lnwire.UpdateFulfillHTLC) (
	*Commitments, *HTLC, bool, error) {

	htlc, err := c.LocalCommit.Spec.GetHTLC(false, m.ID)
	if err != nil {
		// If the id was allocated in the past, this is a replay of a
		// settle for an HTLC that's already gone.
		if m.ID < c.LocalNextHtlcID {
			return c, nil, false, nil
		}
		return nil, nil, false, fmt.Errorf("%w: %d", ErrUnknownHtlc,
			m.ID)
	}

	if sha256.Sum256(m.PaymentPreimage[:]) != htlc.RHash {
		return nil, nil, false, ErrInvalidPreimage
	}

	cp := c.copy()
	cp.RemoteChanges.Proposed = append(cp.RemoteChanges.Proposed, m)

	return cp, &htlc, true, nil
}

// SendFail fails an incoming HTLC, carrying an opaque reason.
func (c *Commitments) SendFail(id uint64, reason lnwire.OpaqueReason) (
	*Commitments, *lnwire.UpdateFailHTLC, error) {

	if !c.RemoteCommit.Spec.HasHTLC(false, id) {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnknownHtlc, id)
	}

	fail := &lnwire.UpdateFailHTLC{
		ChanID: c.ChanID,
		ID:     id,
		Reason: reason,
	}

	cp := c.copy()
	cp.LocalChanges.Proposed = append(cp.LocalChanges.Proposed, fail)
	cp.AddUnackedMessage(fail)

	return cp, fail, nil
}

// ReceiveFail applies the counterparty failing one of our outgoing HTLCs.
// The returned bool is false when the message is an idempotent replay.
func (c *Commitments) ReceiveFail(m *lnwire.UpdateFailHTLC) (*Commitments,
	*HTLC, bool, error) {

	htlc, err := c.LocalCommit.Spec.GetHTLC(false, m.ID)
	if err != nil {
		if m.ID < c.LocalNextHtlcID {
			return c, nil, false, nil
		}
		return nil, nil, false, fmt.Errorf("%w: %d", ErrUnknownHtlc,
			m.ID)
	}

	cp := c.copy()
	cp.RemoteChanges.Proposed = append(cp.RemoteChanges.Proposed, m)

	return cp, &htlc, true, nil
}

// SendCommit signs the counterparty's next commitment, covering all our
// proposed updates and all their updates we've acked. It returns the new
// commitments, with an in-flight sign round recorded, and the commit_sig
// message to send.
func (c *Commitments) SendCommit() (*Commitments, *lnwire.CommitSig, error) {
	if c.RemoteNextCommitInfo.IsLeft() {
		return nil, nil, ErrSignInFlight
	}
	if !c.LocalHasChanges() {
		return nil, nil, ErrNoUpdates
	}

	var remoteNextPoint *btcec.PublicKey
	c.RemoteNextCommitInfo.WhenRight(func(p *btcec.PublicKey) {
		remoteNextPoint = p
	})

	spec, err := Reduce(
		c.RemoteCommit.Spec, c.RemoteChanges.Acked,
		c.LocalChanges.Proposed,
	)
	if err != nil {
		return nil, nil, err
	}

	nextIndex := c.RemoteCommit.Index + 1
	txInfo, keys, err := c.makeRemoteTxs(nextIndex, remoteNextPoint, spec)
	if err != nil {
		return nil, nil, err
	}

	// Sign their commitment transaction with our funding key.
	commitSig, err := input.SignOutputRaw(
		txInfo.Tx, 0, c.CommitInput.WitnessScript,
		c.CommitInput.Capacity, c.LocalParams.FundingPrivKey,
	)
	if err != nil {
		return nil, nil, err
	}
	wireSig, err := lnwire.NewSigFromSignature(commitSig)
	if err != nil {
		return nil, nil, err
	}

	// And one signature per untrimmed HTLC output, covering the
	// second-level transaction that would sweep it.
	htlcPriv := input.TweakPrivKey(
		c.LocalParams.PaymentBaseSecret,
		input.SingleTweakBytes(
			remoteNextPoint, c.LocalParams.PaymentBasePoint(),
		),
	)

	commitTxid := txInfo.Tx.TxHash()
	htlcSigs := make([]lnwire.Sig, 0, len(txInfo.HtlcOutputs))
	for _, out := range txInfo.HtlcOutputs {
		tws, err := secondLevelTx(
			commitTxid, out, keys, c.LocalParams.CsvDelay,
			spec.FeeRatePerKw,
		)
		if err != nil {
			return nil, nil, err
		}

		sig, err := input.SignOutputRaw(
			tws.tx, 0, out.WitnessScript,
			out.Htlc.Amount.ToSatoshis(), htlcPriv,
		)
		if err != nil {
			return nil, nil, err
		}
		wireHtlcSig, err := lnwire.NewSigFromSignature(sig)
		if err != nil {
			return nil, nil, err
		}
		htlcSigs = append(htlcSigs, wireHtlcSig)
	}

	commitSigMsg := &lnwire.CommitSig{
		ChanID:    c.ChanID,
		CommitSig: wireSig,
		HtlcSigs:  htlcSigs,
	}

	cp := c.copy()
	cp.LocalChanges = Changes{
		Proposed: nil,
		Signed:   c.LocalChanges.Proposed,
		Acked:    cp.LocalChanges.Acked,
	}
	cp.RemoteChanges = Changes{
		Proposed: cp.RemoteChanges.Proposed,
		Signed:   c.RemoteChanges.Acked,
		Acked:    nil,
	}
	cp.RemoteNextCommitInfo = fn.NewLeft[WaitingForRevocation,
		*btcec.PublicKey](WaitingForRevocation{
		NextRemoteCommit: RemoteCommit{
			Index:                nextIndex,
			Spec:                 spec,
			Txid:                 commitTxid,
			RemotePerCommitPoint: remoteNextPoint,
		},
		Sent: commitSigMsg,
	})
	cp.AddUnackedMessage(commitSigMsg)

	return cp, commitSigMsg, nil
}

// ReceiveCommit verifies the counterparty's signatures over our next
// commitment and, when valid, advances our chain and produces the
// revoke_and_ack reply. The returned bool is false when the message is an
// idempotent retransmission of the signature we already hold.
func (c *Commitments) ReceiveCommit(m *lnwire.CommitSig) (*Commitments,
	*lnwire.RevokeAndAck, bool, error) {

	// They should only send a commit_sig when they have something to
	// sign. A repeat of the signature we already have is tolerated as a
	// reconnection artifact.
	remoteHasChanges := len(c.RemoteChanges.Proposed) > 0 ||
		len(c.LocalChanges.Acked) > 0
	if !remoteHasChanges {
		if bytes.Equal(
			m.CommitSig.RawBytes(),
			c.LocalCommit.TheirSig.RawBytes(),
		) {
			return c, nil, false, nil
		}
		return nil, nil, false, errors.New(
			"received commit sig with no pending changes")
	}

	spec, err := Reduce(
		c.LocalCommit.Spec, c.LocalChanges.Acked,
		c.RemoteChanges.Proposed,
	)
	if err != nil {
		return nil, nil, false, err
	}

	nextIndex := c.LocalCommit.Index + 1
	txInfo, keys, err := c.makeLocalTxs(nextIndex, spec)
	if err != nil {
		return nil, nil, false, err
	}

	// Verify their signature over our new commitment.
	theirCommitSig, err := m.CommitSig.ToSignature()
	if err != nil {
		return nil, nil, false, err
	}
	err = input.VerifyOutputSig(
		txInfo.Tx, 0, c.CommitInput.WitnessScript,
		c.CommitInput.Capacity, c.RemoteParams.FundingKey,
		theirCommitSig,
	)
	if err != nil {
		return nil, nil, false, ErrInvalidCommitSig
	}

	// Then each HTLC signature, against their tweaked payment key.
	if len(m.HtlcSigs) != len(txInfo.HtlcOutputs) {
		return nil, nil, false, fmt.Errorf("%w: wrong number of htlc "+
			"signatures: got %d, want %d", ErrInvalidHtlcSig,
			len(m.HtlcSigs), len(txInfo.HtlcOutputs))
	}

	commitTxid := txInfo.Tx.TxHash()
	for i, out := range txInfo.HtlcOutputs {
		tws, err := secondLevelTx(
			commitTxid, out, keys, c.RemoteParams.CsvDelay,
			spec.FeeRatePerKw,
		)
		if err != nil {
			return nil, nil, false, err
		}

		htlcSig, err := m.HtlcSigs[i].ToSignature()
		if err != nil {
			return nil, nil, false, err
		}
		err = input.VerifyOutputSig(
			tws.tx, 0, out.WitnessScript,
			out.Htlc.Amount.ToSatoshis(), keys.RemoteKey, htlcSig,
		)
		if err != nil {
			return nil, nil, false, ErrInvalidHtlcSig
		}
	}

	// All signatures check out: reveal the secret of the commitment being
	// replaced and hand over the point for the one after next.
	revokedSecret, err := c.LocalPerCommitSecret(c.LocalCommit.Index)
	if err != nil {
		return nil, nil, false, err
	}
	nextPoint, err := c.LocalPerCommitPoint(nextIndex + 1)
	if err != nil {
		return nil, nil, false, err
	}

	var revBytes [32]byte
	copy(revBytes[:], revokedSecret[:])
	revocation := &lnwire.RevokeAndAck{
		ChanID:            c.ChanID,
		Revocation:        revBytes,
		NextRevocationKey: nextPoint,
	}

	cp := c.copy()
	cp.LocalCommit = LocalCommit{
		Index:         nextIndex,
		Spec:          spec,
		TxInfo:        txInfo,
		TheirSig:      m.CommitSig,
		TheirHtlcSigs: m.HtlcSigs,
	}
	cp.LocalChanges.Acked = nil
	cp.RemoteChanges = Changes{
		Proposed: nil,
		Signed:   cp.RemoteChanges.Signed,
		Acked: append(
			cp.RemoteChanges.Acked, cp.RemoteChanges.Proposed...,
		),
	}
	cp.AddUnackedMessage(revocation)

	return cp, revocation, true, nil
}

// ReceiveRevocation processes the counterparty revoking their previous
// commitment. The in-flight remote commitment becomes current, the revealed
// secret is archived, and every remote add that just became locked in on
// both chains is returned for forwarding.
func (c *Commitments) ReceiveRevocation(m *lnwire.RevokeAndAck) (*Commitments,
	[]*lnwire.UpdateAddHTLC, error) {

	if c.RemoteNextCommitInfo.IsRight() {
		return nil, nil, ErrNoRevocationInFlight
	}

	var waiting WaitingForRevocation
	c.RemoteNextCommitInfo.WhenLeft(func(w WaitingForRevocation) {
		waiting = w
	})

	// The revealed secret must generate the per-commitment point of the
	// commitment being revoked.
	point := input.ComputeCommitmentPoint(m.Revocation[:])
	if !point.IsEqual(c.RemoteCommit.RemotePerCommitPoint) {
		return nil, nil, ErrInvalidRevocation
	}

	cp := c.copy()

	secretHash, err := chainhashFromBytes(m.Revocation[:])
	if err != nil {
		return nil, nil, err
	}
	err = cp.RemotePerCommitmentSecrets.AddNextEntry(secretHash)
	if err != nil {
		return nil, nil, err
	}

	// Every remote add we signed into their new commitment is now
	// locked in on both chains and can be handed to the relayer.
	var forwards []*lnwire.UpdateAddHTLC
	for _, msg := range cp.RemoteChanges.Signed {
		if add, ok := msg.(*lnwire.UpdateAddHTLC); ok {
			forwards = append(forwards, add)
		}
	}

	cp.RemoteCommit = waiting.NextRemoteCommit
	cp.RemoteNextCommitInfo = fn.NewRight[WaitingForRevocation](
		m.NextRevocationKey,
	)
	cp.LocalChanges = Changes{
		Proposed: cp.LocalChanges.Proposed,
		Signed:   nil,
		Acked: append(
			cp.LocalChanges.Acked, cp.LocalChanges.Signed...,
		),
	}
	cp.RemoteChanges.Signed = nil
	cp.UnackedMessages = nil

	return cp, forwards, nil
}
