package commitment_test

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/lightningnetwork/channeld/commitment"
)

// TestStateNumHintRoundTrip checks that the obscured commitment number can
// always be recovered from a commitment transaction.
func TestStateNumHintRoundTrip(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		stateNum := rapid.Uint64Range(0, (1<<48)-1).Draw(rt, "state")

		var obfuscator [commitment.StateHintSize]byte
		for i := range obfuscator {
			obfuscator[i] = byte(
				rapid.IntRange(0, 255).Draw(rt, "obf"),
			)
		}

		tx := wire.NewMsgTx(2)
		tx.AddTxIn(&wire.TxIn{})

		require.NoError(
			rt, commitment.SetStateNumHint(
				tx, stateNum, obfuscator,
			),
		)
		require.Equal(
			rt, stateNum,
			commitment.GetStateNumHint(tx, obfuscator),
		)

		// The high sequence bit stays set so the hint never enables
		// a relative timelock.
		require.NotZero(rt, tx.TxIn[0].Sequence&(1<<31))
	})
}

// TestStateNumHintRange rejects state numbers beyond 48 bits.
func TestStateNumHintRange(t *testing.T) {
	t.Parallel()

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{})

	err := commitment.SetStateNumHint(
		tx, 1<<48, [commitment.StateHintSize]byte{},
	)
	require.Error(t, err)
}

// TestCommitTxOrdering verifies that both parties construct byte-identical
// commitment transactions for the same state, which is what lets commit_sig
// carry only signatures.
func TestCommitTxOrdering(t *testing.T) {
	t.Parallel()

	alice, bob := newTestChannels(t)

	require.Equal(
		t, alice.RemoteCommit.Txid, bob.LocalCommit.TxInfo.Tx.TxHash(),
	)
	require.Equal(
		t, bob.RemoteCommit.Txid, alice.LocalCommit.TxInfo.Tx.TxHash(),
	)

	// The funder pays the commitment fee: on bob's commitment alice's
	// output carries the funding amount minus the fee of a commitment
	// with no HTLCs.
	aliceTx := alice.LocalCommit.TxInfo
	require.Equal(t, -1, aliceTx.ToRemoteIndex) // funder pushed nothing

	bobTx := bob.LocalCommit.TxInfo
	require.Equal(t, -1, bobTx.ToLocalIndex)
	require.NotEqual(t, -1, bobTx.ToRemoteIndex)

	fee := commitment.CommitFee(600, 0)
	remoteOut := bobTx.Tx.TxOut[bobTx.ToRemoteIndex]
	require.EqualValues(t, int64(testFundingAmount-fee), remoteOut.Value)
}
