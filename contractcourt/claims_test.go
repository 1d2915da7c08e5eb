package contractcourt_test

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"

	"github.com/lightningnetwork/channeld/commitment"
	"github.com/lightningnetwork/channeld/contractcourt"
	"github.com/lightningnetwork/channeld/funding"
	"github.com/lightningnetwork/channeld/input"
	"github.com/lightningnetwork/channeld/lnwire"
	"github.com/lightningnetwork/channeld/shachain"
)

const fundingAmount = btcutil.Amount(1_000_000)

func testKey(b byte) *btcec.PrivateKey {
	var raw [32]byte
	for i := range raw {
		raw[i] = b
	}
	raw[31] = b + 1
	priv, _ := btcec.PrivKeyFromBytes(raw[:])
	return priv
}

func newParams(t *testing.T, keyBase byte,
	isFunder bool) *commitment.LocalParams {

	t.Helper()

	finalScript, err := input.CommitScriptUnencumbered(
		testKey(keyBase + 4).PubKey(),
	)
	require.NoError(t, err)

	return &commitment.LocalParams{
		ChannelConstraints: commitment.ChannelConstraints{
			DustLimit:        546,
			MaxPendingAmount: lnwire.NewMSatFromSatoshis(500_000),
			ChanReserve:      10_000,
			HtlcMinimum:      1_000,
			CsvDelay:         144,
			MaxAcceptedHtlcs: 10,
		},
		NodeID:               testKey(keyBase + 5).PubKey(),
		FundingPrivKey:       testKey(keyBase),
		RevocationBaseSecret: testKey(keyBase + 1),
		PaymentBaseSecret:    testKey(keyBase + 2),
		DelayBaseSecret:      testKey(keyBase + 3),
		ShaSeed:              chainhash.Hash(sha256.Sum256([]byte{keyBase})),
		DefaultFinalScript:   finalScript,
		IsFunder:             isFunder,
	}
}

func asRemote(p *commitment.LocalParams) *commitment.RemoteParams {
	return &commitment.RemoteParams{
		ChannelConstraints:  p.ChannelConstraints,
		NodeID:              p.NodeID,
		FundingKey:          p.FundingKey(),
		RevocationBasePoint: p.RevocationBasePoint(),
		PaymentBasePoint:    p.PaymentBasePoint(),
		DelayBasePoint:      p.DelayBasePoint(),
		MinimumDepth:        3,
	}
}

// newTestChannels builds a wired pair of commitments post-funding.
func newTestChannels(t *testing.T) (*commitment.Commitments,
	*commitment.Commitments) {

	t.Helper()

	aliceParams := newParams(t, 0x10, true)
	bobParams := newParams(t, 0x60, false)

	fundingTxid := chainhash.Hash(sha256.Sum256([]byte("funding")))

	alicePoint0, err := funding.PerCommitPoint(aliceParams.ShaSeed, 0)
	require.NoError(t, err)
	bobPoint0, err := funding.PerCommitPoint(bobParams.ShaSeed, 0)
	require.NoError(t, err)
	alicePoint1, err := funding.PerCommitPoint(aliceParams.ShaSeed, 1)
	require.NoError(t, err)
	bobPoint1, err := funding.PerCommitPoint(bobParams.ShaSeed, 1)
	require.NoError(t, err)

	pushAmount := lnwire.NewMSatFromSatoshis(100_000)

	aliceFirst, err := funding.MakeFirstCommitTxs(
		aliceParams, asRemote(bobParams), fundingAmount, pushAmount,
		600, fundingTxid, 0, bobPoint0,
	)
	require.NoError(t, err)
	bobFirst, err := funding.MakeFirstCommitTxs(
		bobParams, asRemote(aliceParams), fundingAmount, pushAmount,
		600, fundingTxid, 0, alicePoint0,
	)
	require.NoError(t, err)

	obfuscator := commitment.DeriveStateHintObfuscator(
		aliceParams.PaymentBasePoint(), bobParams.PaymentBasePoint(),
	)
	chanID := lnwire.NewChanIDFromOutPoint(
		aliceFirst.FundingInput.OutPoint,
	)

	alice := &commitment.Commitments{
		LocalParams:  aliceParams,
		RemoteParams: asRemote(bobParams),
		ChanID:       chanID,
		LocalCommit: commitment.LocalCommit{
			Spec:   aliceFirst.LocalSpec,
			TxInfo: aliceFirst.LocalTx,
		},
		RemoteCommit: commitment.RemoteCommit{
			Spec:                 aliceFirst.RemoteSpec,
			Txid:                 aliceFirst.RemoteTx.Tx.TxHash(),
			RemotePerCommitPoint: bobPoint0,
		},
		RemoteNextCommitInfo:       fn.NewRight[commitment.WaitingForRevocation](bobPoint1),
		CommitInput:                aliceFirst.FundingInput,
		RemotePerCommitmentSecrets: shachain.NewRevocationStore(),
		Obfuscator:                 obfuscator,
	}
	bob := &commitment.Commitments{
		LocalParams:  bobParams,
		RemoteParams: asRemote(aliceParams),
		ChanID:       chanID,
		LocalCommit: commitment.LocalCommit{
			Spec:   bobFirst.LocalSpec,
			TxInfo: bobFirst.LocalTx,
		},
		RemoteCommit: commitment.RemoteCommit{
			Spec:                 bobFirst.RemoteSpec,
			Txid:                 bobFirst.RemoteTx.Tx.TxHash(),
			RemotePerCommitPoint: alicePoint0,
		},
		RemoteNextCommitInfo:       fn.NewRight[commitment.WaitingForRevocation](alicePoint1),
		CommitInput:                bobFirst.FundingInput,
		RemotePerCommitmentSecrets: shachain.NewRevocationStore(),
		Obfuscator:                 obfuscator,
	}

	return alice, bob
}

// crossSign runs one full sign round initiated by sender.
func crossSign(t *testing.T, sender,
	receiver *commitment.Commitments) (*commitment.Commitments,
	*commitment.Commitments) {

	t.Helper()

	sender1, commitSig, err := sender.SendCommit()
	require.NoError(t, err)
	receiver1, revocation, _, err := receiver.ReceiveCommit(commitSig)
	require.NoError(t, err)
	sender2, _, err := sender1.ReceiveRevocation(revocation)
	require.NoError(t, err)

	if !receiver1.LocalHasChanges() {
		return sender2, receiver1
	}

	receiver2, commitSig2, err := receiver1.SendCommit()
	require.NoError(t, err)
	sender3, revocation2, _, err := sender2.ReceiveCommit(commitSig2)
	require.NoError(t, err)
	receiver3, _, err := receiver2.ReceiveRevocation(revocation2)
	require.NoError(t, err)

	return sender3, receiver3
}

// TestClaimRevokedCommit advances the channel past a revoked state, then
// replays that state's commitment transaction and expects a penalty claim
// for it.
func TestClaimRevokedCommit(t *testing.T) {
	t.Parallel()

	alice, bob := newTestChannels(t)

	var preimage [32]byte
	preimage[0] = 0xEE
	rHash := sha256.Sum256(preimage[:])

	// Bob's commitment #1 carries an HTLC.
	alice1, add, err := alice.SendAdd(60_000_000, rHash, 400_010)
	require.NoError(t, err)
	bob1, err := bob.ReceiveAdd(add)
	require.NoError(t, err)
	alice2, bob2 := crossSign(t, alice1, bob1)

	// Keep the now-current remote commitment around: it is about to be
	// revoked by the settle round.
	revokedTx := bob2.LocalCommit.TxInfo.Tx
	revokedIndex := bob2.LocalCommit.Index

	bob3, fulfill, err := bob2.SendFulfill(add.ID, preimage)
	require.NoError(t, err)
	alice3, _, _, err := alice2.ReceiveFulfill(fulfill)
	require.NoError(t, err)
	_, alice4 := crossSign(t, bob3, alice3)

	// Bob cheats: the old commitment hits the chain. Alice recovers the
	// commitment index from the state hint, finds the matching
	// revocation secret, and mounts the penalty.
	rcp, err := contractcourt.ClaimRevokedRemoteCommitTxOutputs(
		alice4, revokedTx,
	)
	require.NoError(t, err)
	require.Equal(t, revokedIndex, rcp.CommitIndex)
	require.NotNil(t, rcp.MainPenaltyTx)

	// The penalty sweeps bob's delayed output in full, minus the sweep
	// fee.
	require.Len(t, rcp.MainPenaltyTx.TxIn, 1)
	require.Equal(
		t, revokedTx.TxHash(),
		rcp.MainPenaltyTx.TxIn[0].PreviousOutPoint.Hash,
	)
}

// TestClaimRevokedCommitUnknown refuses to recognize a commitment whose
// secret was never revealed.
func TestClaimRevokedCommitUnknown(t *testing.T) {
	t.Parallel()

	alice, bob := newTestChannels(t)

	// Bob's current (unrevoked) commitment cannot be claimed as revoked.
	_, err := contractcourt.ClaimRevokedRemoteCommitTxOutputs(
		alice, bob.LocalCommit.TxInfo.Tx,
	)
	require.ErrorIs(t, err, contractcourt.ErrUnknownCommitment)
}

// TestClaimRemoteCommit builds the direct claims on the remote party's
// current commitment.
func TestClaimRemoteCommit(t *testing.T) {
	t.Parallel()

	alice, bob := newTestChannels(t)

	var preimage [32]byte
	preimage[0] = 0xDD
	rHash := sha256.Sum256(preimage[:])

	// Bob offers alice an HTLC whose preimage alice knows.
	bob1, add, err := bob.SendAdd(50_000_000, rHash, 400_020)
	require.NoError(t, err)
	alice1, err := alice.ReceiveAdd(add)
	require.NoError(t, err)
	bob2, alice2 := crossSign(t, bob1, alice1)

	// Bob's commitment hits the chain.
	preimages := map[[32]byte][32]byte{rHash: preimage}
	rcp, err := contractcourt.ClaimRemoteCommitTxOutputs(
		alice2, &alice2.RemoteCommit, bob2.LocalCommit.TxInfo.Tx,
		preimages,
	)
	require.NoError(t, err)

	// Alice sweeps her main output and claims the HTLC with the
	// preimage.
	require.NotNil(t, rcp.ClaimMainOutputTx)
	require.Len(t, rcp.ClaimHtlcSuccessTxs, 1)
	require.Empty(t, rcp.ClaimHtlcTimeoutTxs)
}

// TestClaimLocalCommit builds the claim chain on our own commitment.
func TestClaimLocalCommit(t *testing.T) {
	t.Parallel()

	alice, bob := newTestChannels(t)

	var preimage [32]byte
	preimage[0] = 0xCC
	rHash := sha256.Sum256(preimage[:])

	// Alice offers an HTLC; after the sign round her own commitment
	// carries it as an outgoing output.
	alice1, add, err := alice.SendAdd(70_000_000, rHash, 400_030)
	require.NoError(t, err)
	bob1, err := bob.ReceiveAdd(add)
	require.NoError(t, err)
	alice2, _ := crossSign(t, alice1, bob1)

	lcp, err := contractcourt.ClaimLocalCommitTxOutputs(alice2, nil)
	require.NoError(t, err)

	require.NotNil(t, lcp.ClaimMainDelayedOutputTx)
	require.Len(t, lcp.HtlcTimeoutTxs, 1)
	require.Len(t, lcp.ClaimHtlcDelayedTxs, 1)
	require.Empty(t, lcp.HtlcSuccessTxs)

	// The timeout claim only becomes valid at the HTLC expiry.
	require.Equal(t, uint32(400_030), lcp.HtlcTimeoutTxs[0].LockTime)
}
