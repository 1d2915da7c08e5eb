package commitment_test

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"

	"github.com/lightningnetwork/channeld/commitment"
	"github.com/lightningnetwork/channeld/funding"
	"github.com/lightningnetwork/channeld/input"
	"github.com/lightningnetwork/channeld/lnwire"
	"github.com/lightningnetwork/channeld/shachain"
)

const (
	testFundingAmount = btcutil.Amount(1_000_000)
	testFeeRate       = commitment.SatPerKWeight(600)
)

// testKey derives a deterministic private key from a single byte.
func testKey(b byte) *btcec.PrivateKey {
	var raw [32]byte
	for i := range raw {
		raw[i] = b
	}
	raw[31] = b + 1
	priv, _ := btcec.PrivKeyFromBytes(raw[:])
	return priv
}

// testSeed derives a deterministic sha seed.
func testSeed(b byte) chainhash.Hash {
	return chainhash.Hash(sha256.Sum256([]byte{b}))
}

// newTestParams creates one side's full parameter set.
func newTestParams(t *testing.T, keyBase byte,
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
		ShaSeed:              testSeed(keyBase),
		DefaultFinalScript:   finalScript,
		IsFunder:             isFunder,
	}
}

// asRemote projects one side's parameters into the other side's view.
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

// newTestChannels builds a fully wired pair of commitments, as if the
// funding flow had just completed and both funding_locked messages had been
// exchanged.
func newTestChannels(t *testing.T) (*commitment.Commitments,
	*commitment.Commitments) {

	t.Helper()

	aliceParams := newTestParams(t, 0x10, true)
	bobParams := newTestParams(t, 0x60, false)

	fundingTxid := chainhash.Hash(sha256.Sum256([]byte("funding")))

	alicePoint0, err := funding.PerCommitPoint(aliceParams.ShaSeed, 0)
	require.NoError(t, err)
	bobPoint0, err := funding.PerCommitPoint(bobParams.ShaSeed, 0)
	require.NoError(t, err)

	aliceFirst, err := funding.MakeFirstCommitTxs(
		aliceParams, asRemote(bobParams), testFundingAmount, 0,
		testFeeRate, fundingTxid, 0, bobPoint0,
	)
	require.NoError(t, err)

	bobFirst, err := funding.MakeFirstCommitTxs(
		bobParams, asRemote(aliceParams), testFundingAmount, 0,
		testFeeRate, fundingTxid, 0, alicePoint0,
	)
	require.NoError(t, err)

	// Both sides must agree on every transaction.
	require.Equal(
		t, aliceFirst.LocalTx.Tx.TxHash(),
		bobFirst.RemoteTx.Tx.TxHash(),
	)
	require.Equal(
		t, aliceFirst.RemoteTx.Tx.TxHash(),
		bobFirst.LocalTx.Tx.TxHash(),
	)

	chanID := lnwire.NewChanIDFromOutPoint(aliceFirst.FundingInput.OutPoint)

	obfuscator := commitment.DeriveStateHintObfuscator(
		aliceParams.PaymentBasePoint(), bobParams.PaymentBasePoint(),
	)

	// The funding_locked exchange hands each side the other's point for
	// commitment #1.
	alicePoint1, err := funding.PerCommitPoint(aliceParams.ShaSeed, 1)
	require.NoError(t, err)
	bobPoint1, err := funding.PerCommitPoint(bobParams.ShaSeed, 1)
	require.NoError(t, err)

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

// crossSign performs one full sign round initiated by the sender: commit,
// reply-commit if needed, and both revocations. It returns the updated pair
// plus any forwards collected by the receiver.
func crossSign(t *testing.T, sender, receiver *commitment.Commitments) (
	*commitment.Commitments, *commitment.Commitments,
	[]*lnwire.UpdateAddHTLC) {

	t.Helper()

	sender1, commitSig, err := sender.SendCommit()
	require.NoError(t, err)

	receiver1, revocation, novel, err := receiver.ReceiveCommit(commitSig)
	require.NoError(t, err)
	require.True(t, novel)

	sender2, _, err := sender1.ReceiveRevocation(revocation)
	require.NoError(t, err)

	if !receiver1.LocalHasChanges() {
		return sender2, receiver1, nil
	}

	receiver2, commitSig2, err := receiver1.SendCommit()
	require.NoError(t, err)

	sender3, revocation2, novel, err := sender2.ReceiveCommit(commitSig2)
	require.NoError(t, err)
	require.True(t, novel)

	receiver3, forwards, err := receiver2.ReceiveRevocation(revocation2)
	require.NoError(t, err)

	return sender3, receiver3, forwards
}

// assertBalanceConservation checks invariant I5 on a spec: settled balances
// plus in-flight HTLCs always sum to the funding amount.
func assertBalanceConservation(t *testing.T, spec commitment.Spec) {
	t.Helper()

	total := spec.ToLocal + spec.ToRemote
	for _, h := range spec.Htlcs {
		total += h.Amount
	}
	require.Equal(
		t, lnwire.NewMSatFromSatoshis(testFundingAmount), total,
	)
}
