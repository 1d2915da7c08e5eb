package commitment_test

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lightningnetwork/channeld/commitment"
	"github.com/lightningnetwork/channeld/lnwire"
)

// paymentFor returns a deterministic preimage and its hash.
func paymentFor(seed byte) ([32]byte, [32]byte) {
	var preimage [32]byte
	for i := range preimage {
		preimage[i] = seed
	}
	return preimage, sha256.Sum256(preimage[:])
}

// TestAddFulfillRoundTrip walks a full HTLC lifecycle: add, sign round in
// each direction, fulfill, and another pair of sign rounds. Both chains must
// advance twice and end up clean.
func TestAddFulfillRoundTrip(t *testing.T) {
	t.Parallel()

	alice, bob := newTestChannels(t)

	preimage, rHash := paymentFor(0xAA)
	const htlcAmt = lnwire.MilliSatoshi(60_000_000)

	alice1, add, err := alice.SendAdd(htlcAmt, rHash, 400_010)
	require.NoError(t, err)
	require.EqualValues(t, 0, add.ID)
	require.EqualValues(t, 1, alice1.LocalNextHtlcID)

	bob1, err := bob.ReceiveAdd(add)
	require.NoError(t, err)

	// First sign round locks the HTLC in on both chains, and bob learns
	// it's now safe to forward.
	alice2, bob2, forwards := crossSign(t, alice1, bob1)
	require.Len(t, forwards, 1)
	require.Equal(t, add.ID, forwards[0].ID)

	require.EqualValues(t, 1, alice2.LocalCommit.Index)
	require.EqualValues(t, 1, bob2.LocalCommit.Index)
	require.Len(t, alice2.LocalCommit.Spec.Htlcs, 1)
	require.Len(t, bob2.LocalCommit.Spec.Htlcs, 1)
	assertBalanceConservation(t, alice2.LocalCommit.Spec)
	assertBalanceConservation(t, bob2.LocalCommit.Spec)

	// Settle it.
	bob3, fulfill, err := bob2.SendFulfill(add.ID, preimage)
	require.NoError(t, err)

	alice3, settled, novel, err := alice2.ReceiveFulfill(fulfill)
	require.NoError(t, err)
	require.True(t, novel)
	require.Equal(t, rHash, settled.RHash)

	bob4, alice4, _ := crossSign(t, bob3, alice3)

	require.EqualValues(t, 2, alice4.LocalCommit.Index)
	require.EqualValues(t, 2, bob4.LocalCommit.Index)
	require.Empty(t, alice4.LocalCommit.Spec.Htlcs)
	require.Empty(t, bob4.LocalCommit.Spec.Htlcs)
	require.True(t, alice4.HasNoPendingHtlcs())
	require.True(t, bob4.HasNoPendingHtlcs())

	// The 60k sat moved from alice to bob.
	require.Equal(
		t, lnwire.NewMSatFromSatoshis(testFundingAmount)-htlcAmt,
		alice4.LocalCommit.Spec.ToLocal,
	)
	require.Equal(t, htlcAmt, alice4.LocalCommit.Spec.ToRemote)
	require.Equal(t, htlcAmt, bob4.LocalCommit.Spec.ToLocal)

	assertBalanceConservation(t, alice4.LocalCommit.Spec)
	assertBalanceConservation(t, bob4.LocalCommit.Spec)
}

// TestFailedAddLeavesCommitmentsUntouched exercises the value semantics of
// the update algebra: a rejected operation must leave the receiver exactly
// as it was.
func TestFailedAddLeavesCommitmentsUntouched(t *testing.T) {
	t.Parallel()

	alice, _ := newTestChannels(t)

	before := *alice

	// Far above the negotiated in-flight limit.
	_, rHash := paymentFor(0x01)
	_, _, err := alice.SendAdd(
		lnwire.NewMSatFromSatoshis(600_000), rHash, 400_010,
	)
	require.ErrorIs(t, err, commitment.ErrMaxHtlcValueInFlight)

	require.Equal(t, before, *alice)
	require.EqualValues(t, 0, alice.LocalNextHtlcID)
	require.Empty(t, alice.LocalChanges.Proposed)
	require.Empty(t, alice.UnackedMessages)
}

// TestAddValidation covers the policy checks on offered HTLCs.
func TestAddValidation(t *testing.T) {
	t.Parallel()

	alice, bob := newTestChannels(t)

	_, rHash := paymentFor(0x02)

	// Below the peer's minimum.
	_, _, err := alice.SendAdd(500, rHash, 400_010)
	require.ErrorIs(t, err, commitment.ErrHtlcValueTooSmall)

	// Far above the peer's in-flight limit, which rejects the add before
	// the reserve and fee check is reached.
	_, _, err = alice.SendAdd(
		lnwire.NewMSatFromSatoshis(testFundingAmount-5_000), rHash,
		400_010,
	)
	require.Error(t, err)

	// Too many HTLCs.
	cur := alice
	for i := 0; i < int(bob.LocalParams.MaxAcceptedHtlcs); i++ {
		next, _, err := cur.SendAdd(2_000_000, rHash, 400_010)
		require.NoError(t, err)
		cur = next
	}
	_, _, err = cur.SendAdd(2_000_000, rHash, 400_010)
	require.ErrorIs(t, err, commitment.ErrMaxAcceptedHtlcs)

	// The peer must use sequential ids.
	badAdd := &lnwire.UpdateAddHTLC{
		ChanID:      bob.ChanID,
		ID:          7,
		Amount:      2_000_000,
		PaymentHash: rHash,
		Expiry:      400_010,
	}
	_, err = bob.ReceiveAdd(badAdd)
	require.ErrorIs(t, err, commitment.ErrUnexpectedHtlcID)
}

// TestSignRoundGating verifies the in-flight round bookkeeping around
// remote_next_commit_info.
func TestSignRoundGating(t *testing.T) {
	t.Parallel()

	alice, bob := newTestChannels(t)

	// Nothing to sign yet.
	_, _, err := alice.SendCommit()
	require.ErrorIs(t, err, commitment.ErrNoUpdates)

	// A revocation with no round in flight is a protocol violation.
	_, _, err = alice.ReceiveRevocation(&lnwire.RevokeAndAck{})
	require.ErrorIs(t, err, commitment.ErrNoRevocationInFlight)

	_, rHash := paymentFor(0x03)
	alice1, add, err := alice.SendAdd(2_000_000, rHash, 400_010)
	require.NoError(t, err)
	bob1, err := bob.ReceiveAdd(add)
	require.NoError(t, err)

	alice2, commitSig, err := alice1.SendCommit()
	require.NoError(t, err)
	require.True(t, alice2.RemoteNextCommitInfo.IsLeft())

	// No second round until the revocation lands.
	_, _, err = alice2.SendCommit()
	require.ErrorIs(t, err, commitment.ErrSignInFlight)

	// The re-sign flag survives in the in-flight round.
	alice2 = alice2.MarkReSignASAP()
	require.True(t, alice2.ReSignASAP())

	bob2, revocation, novel, err := bob1.ReceiveCommit(commitSig)
	require.NoError(t, err)
	require.True(t, novel)

	// Replay of the same commit_sig is tolerated and flagged stale.
	_, _, novel, err = bob2.ReceiveCommit(commitSig)
	require.NoError(t, err)
	require.False(t, novel)

	alice3, _, err := alice2.ReceiveRevocation(revocation)
	require.NoError(t, err)
	require.True(t, alice3.RemoteNextCommitInfo.IsRight())

	// The unacked buffer was flushed by the revocation.
	require.Empty(t, alice3.UnackedMessages)
}

// TestCorruptedCommitSigRejected makes sure a tampered signature never
// advances the chain.
func TestCorruptedCommitSigRejected(t *testing.T) {
	t.Parallel()

	alice, bob := newTestChannels(t)

	_, rHash := paymentFor(0x04)
	alice1, add, err := alice.SendAdd(2_000_000, rHash, 400_010)
	require.NoError(t, err)
	bob1, err := bob.ReceiveAdd(add)
	require.NoError(t, err)

	_, commitSig, err := alice1.SendCommit()
	require.NoError(t, err)

	// Swap the commitment signature with the HTLC signature, so that
	// the signature offered for the commitment is valid for another
	// transaction.
	tampered := *commitSig
	tampered.CommitSig, tampered.HtlcSigs = tampered.HtlcSigs[0],
		[]lnwire.Sig{tampered.CommitSig}

	_, _, _, err = bob1.ReceiveCommit(&tampered)
	require.ErrorIs(t, err, commitment.ErrInvalidCommitSig)
}

// TestRevocationSecretsAccumulate verifies I4: every revoked remote
// commitment leaves a secret we can still look up later.
func TestRevocationSecretsAccumulate(t *testing.T) {
	t.Parallel()

	alice, bob := newTestChannels(t)

	_, rHash := paymentFor(0x05)

	// Run a few no-frills rounds: add an HTLC and fail it back, twice.
	for i := 0; i < 2; i++ {
		alice1, add, err := alice.SendAdd(2_000_000, rHash, 400_010)
		require.NoError(t, err)
		bob1, err := bob.ReceiveAdd(add)
		require.NoError(t, err)
		alice, bob, _ = crossSign(t, alice1, bob1)

		bob2, fail, err := bob.SendFail(add.ID, []byte("no route"))
		require.NoError(t, err)
		alice2, _, novel, err := alice.ReceiveFail(fail)
		require.NoError(t, err)
		require.True(t, novel)
		bob, alice, _ = crossSign(t, bob2, alice2)
	}

	require.EqualValues(t, 4, alice.LocalCommit.Index)

	// Every prior remote commitment index must now be recoverable.
	for i := uint64(0); i < alice.RemoteCommit.Index; i++ {
		_, err := alice.RemotePerCommitmentSecrets.LookUp(i)
		require.NoError(t, err, "missing secret %d", i)
	}
}
