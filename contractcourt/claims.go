package contractcourt

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/lightningnetwork/channeld/commitment"
	"github.com/lightningnetwork/channeld/input"
)

var (
	// ErrUnknownCommitment is returned when a funding spend can't be
	// mapped to any commitment we know how to claim. The state machine
	// treats this as an information leak.
	ErrUnknownCommitment = errors.New("unrecognized commitment spend")
)

// sweepFeeRate is the flat rate used for all claim transactions. Fee
// estimation policy is outside this subsystem; a conservative constant keeps
// the claims standard.
const sweepFeeRate = commitment.SatPerKWeight(2500)

// sweepTxWeight approximates the weight of a one-input one-output sweep.
const sweepTxWeight = 600

// LocalCommitPublished describes our own commitment hitting the chain and
// everything we intend to claim out of it.
type LocalCommitPublished struct {
	// CommitTx is our commitment transaction.
	CommitTx *wire.MsgTx

	// ClaimMainDelayedOutputTx sweeps our to_self output once the CSV
	// delay has passed.
	ClaimMainDelayedOutputTx *wire.MsgTx

	// HtlcSuccessTxs are the second-level transactions for received HTLCs
	// whose preimage we hold.
	HtlcSuccessTxs []*wire.MsgTx

	// HtlcTimeoutTxs are the second-level transactions for offered HTLCs,
	// valid after their expiry.
	HtlcTimeoutTxs []*wire.MsgTx

	// ClaimHtlcDelayedTxs sweep the outputs of the second-level
	// transactions after the CSV delay.
	ClaimHtlcDelayedTxs []*wire.MsgTx
}

// RemoteCommitPublished describes the counterparty's commitment hitting the
// chain.
type RemoteCommitPublished struct {
	// CommitTx is the remote commitment transaction.
	CommitTx *wire.MsgTx

	// ClaimMainOutputTx sweeps our immediately-spendable output.
	ClaimMainOutputTx *wire.MsgTx

	// ClaimHtlcSuccessTxs claim received HTLCs whose preimage we hold,
	// directly from the commitment.
	ClaimHtlcSuccessTxs []*wire.MsgTx

	// ClaimHtlcTimeoutTxs claim our offered HTLCs back after expiry.
	ClaimHtlcTimeoutTxs []*wire.MsgTx
}

// RevokedCommitPublished describes a revoked remote commitment hitting the
// chain and the penalty transactions that confiscate it.
type RevokedCommitPublished struct {
	// CommitTx is the revoked commitment transaction.
	CommitTx *wire.MsgTx

	// CommitIndex is the commitment number recovered from the state hint.
	CommitIndex uint64

	// MainPenaltyTx claims the counterparty's delayed output through the
	// revocation clause.
	MainPenaltyTx *wire.MsgTx

	// HtlcPenaltyTxs claim every recognizable HTLC output through the
	// revocation clause.
	HtlcPenaltyTxs []*wire.MsgTx
}

// sweepTo builds a one-input sweep of the given output paying to sweepScript.
func sweepTo(op wire.OutPoint, value int64, sequence uint32, lockTime uint32,
	sweepScript []byte) *wire.MsgTx {

	tx := wire.NewMsgTx(2)
	tx.LockTime = lockTime
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: op,
		Sequence:         sequence,
	})

	fee := int64(sweepFeeRate.FeeForWeight(sweepTxWeight))
	tx.AddTxOut(&wire.TxOut{
		Value:    value - fee,
		PkScript: sweepScript,
	})

	return tx
}

// ClaimLocalCommitTxOutputs builds the claim set for our own published
// commitment. Preimages we know are supplied by the caller keyed by payment
// hash.
func ClaimLocalCommitTxOutputs(c *commitment.Commitments,
	preimages map[[32]byte][32]byte) (*LocalCommitPublished, error) {

	commitTx := c.LocalCommit.TxInfo.Tx
	commitTxid := commitTx.TxHash()
	keys, err := localCommitKeys(c)
	if err != nil {
		return nil, err
	}

	lcp := &LocalCommitPublished{
		CommitTx: commitTx,
	}

	// Our main output is time-locked by the CSV delay the counterparty
	// demanded.
	csvDelay := uint32(c.RemoteParams.CsvDelay)
	if idx := c.LocalCommit.TxInfo.ToLocalIndex; idx >= 0 {
		op := wire.OutPoint{Hash: commitTxid, Index: uint32(idx)}
		sweep := sweepTo(
			op, commitTx.TxOut[idx].Value, csvDelay, 0,
			c.LocalParams.DefaultFinalScript,
		)

		delayPriv := input.TweakPrivKey(
			c.LocalParams.DelayBaseSecret,
			input.SingleTweakBytes(
				keys.PerCommitPoint,
				c.LocalParams.DelayBasePoint(),
			),
		)
		sig, err := input.SignOutputRaw(
			sweep, 0, c.LocalCommit.TxInfo.ToLocalScript,
			btcAmount(commitTx.TxOut[idx].Value), delayPriv,
		)
		if err != nil {
			return nil, err
		}
		sweep.TxIn[0].Witness = wire.TxWitness{
			input.AppendSigHashAll(sig),
			nil,
			c.LocalCommit.TxInfo.ToLocalScript,
		}

		lcp.ClaimMainDelayedOutputTx = sweep
	}

	// For each HTLC output we replay the second-level transaction the
	// counterparty already signed for us, then sweep its output after the
	// delay.
	htlcPriv := input.TweakPrivKey(
		c.LocalParams.PaymentBaseSecret,
		input.SingleTweakBytes(
			keys.PerCommitPoint, c.LocalParams.PaymentBasePoint(),
		),
	)

	for i, out := range c.LocalCommit.TxInfo.HtlcOutputs {
		if i >= len(c.LocalCommit.TheirHtlcSigs) {
			return nil, fmt.Errorf("missing htlc sig for output "+
				"%d", out.OutputIndex)
		}
		remoteSig, err := c.LocalCommit.TheirHtlcSigs[i].ToSignatureBytes()
		if err != nil {
			return nil, err
		}
		remoteSig = append(remoteSig, byte(txscript.SigHashAll))

		htlc := out.Htlc
		var (
			secondLevel *wire.MsgTx
			delayScript []byte
			preimage    [32]byte
			haveImage   bool
		)
		if htlc.Incoming {
			preimage, haveImage = preimages[htlc.RHash]
			if !haveImage {
				// Without the preimage there is nothing to
				// claim; the relayer may still learn it from
				// the counterparty's timeout spend.
				continue
			}
			secondLevel, delayScript, err =
				commitment.CreateHtlcSuccessTx(
					wire.OutPoint{
						Hash:  commitTxid,
						Index: out.OutputIndex,
					},
					htlc.Amount, c.RemoteParams.CsvDelay,
					c.LocalCommit.Spec.FeeRatePerKw,
					keys.RevocationKey, keys.DelayKey,
				)
		} else {
			secondLevel, delayScript, err =
				commitment.CreateHtlcTimeoutTx(
					wire.OutPoint{
						Hash:  commitTxid,
						Index: out.OutputIndex,
					},
					htlc.Amount, htlc.Expiry,
					c.RemoteParams.CsvDelay,
					c.LocalCommit.Spec.FeeRatePerKw,
					keys.RevocationKey, keys.DelayKey,
				)
		}
		if err != nil {
			return nil, err
		}

		ourSig, err := input.SignOutputRaw(
			secondLevel, 0, out.WitnessScript,
			htlc.Amount.ToSatoshis(), htlcPriv,
		)
		if err != nil {
			return nil, err
		}

		// Witness layout per BOLT#03: empty slot for CHECKMULTISIG,
		// remote sig, local sig, preimage (or empty for timeout),
		// script.
		var third []byte
		if htlc.Incoming {
			third = preimage[:]
		}
		secondLevel.TxIn[0].Witness = wire.TxWitness{
			nil,
			remoteSig,
			input.AppendSigHashAll(ourSig),
			third,
			out.WitnessScript,
		}

		if htlc.Incoming {
			lcp.HtlcSuccessTxs = append(
				lcp.HtlcSuccessTxs, secondLevel,
			)
		} else {
			lcp.HtlcTimeoutTxs = append(
				lcp.HtlcTimeoutTxs, secondLevel,
			)
		}

		// The second-level output itself is delayed; chain the final
		// sweep now so it only needs broadcasting later.
		slTxid := secondLevel.TxHash()
		delayedSweep := sweepTo(
			wire.OutPoint{Hash: slTxid, Index: 0},
			secondLevel.TxOut[0].Value, csvDelay, 0,
			c.LocalParams.DefaultFinalScript,
		)
		delayPriv := input.TweakPrivKey(
			c.LocalParams.DelayBaseSecret,
			input.SingleTweakBytes(
				keys.PerCommitPoint,
				c.LocalParams.DelayBasePoint(),
			),
		)
		dSig, err := input.SignOutputRaw(
			delayedSweep, 0, delayScript,
			btcAmount(secondLevel.TxOut[0].Value), delayPriv,
		)
		if err != nil {
			return nil, err
		}
		delayedSweep.TxIn[0].Witness = wire.TxWitness{
			input.AppendSigHashAll(dSig),
			nil,
			delayScript,
		}
		lcp.ClaimHtlcDelayedTxs = append(
			lcp.ClaimHtlcDelayedTxs, delayedSweep,
		)
	}

	return lcp, nil
}

// ClaimRemoteCommitTxOutputs builds the claim set for a published remote
// commitment, either the current one or the in-flight next one.
func ClaimRemoteCommitTxOutputs(c *commitment.Commitments,
	remoteCommit *commitment.RemoteCommit, commitTx *wire.MsgTx,
	preimages map[[32]byte][32]byte) (*RemoteCommitPublished, error) {

	commitTxid := commitTx.TxHash()
	keys := remoteCommitKeys(c, remoteCommit.RemotePerCommitPoint)

	rcp := &RemoteCommitPublished{
		CommitTx: commitTx,
	}

	// Our main output on their commitment is a plain p2wkh, spendable
	// right away with our tweaked payment key.
	payPriv := input.TweakPrivKey(
		c.LocalParams.PaymentBaseSecret,
		input.SingleTweakBytes(
			keys.PerCommitPoint, c.LocalParams.PaymentBasePoint(),
		),
	)
	mainScript, err := input.CommitScriptUnencumbered(keys.RemoteKey)
	if err != nil {
		return nil, err
	}
	for idx, txOut := range commitTx.TxOut {
		if !bytes.Equal(txOut.PkScript, mainScript) {
			continue
		}

		sweep := sweepTo(
			wire.OutPoint{Hash: commitTxid, Index: uint32(idx)},
			txOut.Value, wire.MaxTxInSequenceNum, 0,
			c.LocalParams.DefaultFinalScript,
		)

		// p2wkh spends sign over the corresponding p2pkh script.
		sigScript, err := p2pkhScript(payPriv.PubKey())
		if err != nil {
			return nil, err
		}
		sig, err := input.SignOutputRaw(
			sweep, 0, sigScript, btcAmount(txOut.Value), payPriv,
		)
		if err != nil {
			return nil, err
		}
		sweep.TxIn[0].Witness = wire.TxWitness{
			input.AppendSigHashAll(sig),
			payPriv.PubKey().SerializeCompressed(),
		}
		rcp.ClaimMainOutputTx = sweep
		break
	}

	// HTLC outputs on the remote commitment are claimed directly: with
	// the preimage for HTLCs they offered us, after expiry for HTLCs we
	// offered them.
	for _, htlc := range remoteCommit.Spec.Htlcs {
		var (
			witnessScript []byte
			err           error
		)

		// Directions are from the remote's point of view here.
		if htlc.Incoming {
			witnessScript, err = input.ReceiverHTLCScript(
				htlc.Expiry, keys.RemoteKey, keys.LocalKey,
				keys.RevocationKey, htlc.RHash[:],
			)
		} else {
			witnessScript, err = input.SenderHTLCScript(
				keys.LocalKey, keys.RemoteKey,
				keys.RevocationKey, htlc.RHash[:],
			)
		}
		if err != nil {
			return nil, err
		}
		pkScript, err := input.WitnessScriptHash(witnessScript)
		if err != nil {
			return nil, err
		}

		idx := findOutput(commitTx, pkScript)
		if idx < 0 {
			// Trimmed to dust on their version.
			continue
		}

		op := wire.OutPoint{Hash: commitTxid, Index: uint32(idx)}

		if htlc.Incoming {
			// An HTLC the remote received is one we offered: we
			// reclaim it after its expiry.
			sweep := sweepTo(
				op, commitTx.TxOut[idx].Value, 0, htlc.Expiry,
				c.LocalParams.DefaultFinalScript,
			)
			sig, err := input.SignOutputRaw(
				sweep, 0, witnessScript,
				btcAmount(commitTx.TxOut[idx].Value), payPriv,
			)
			if err != nil {
				return nil, err
			}
			sweep.TxIn[0].Witness = wire.TxWitness{
				input.AppendSigHashAll(sig),
				nil,
				witnessScript,
			}
			rcp.ClaimHtlcTimeoutTxs = append(
				rcp.ClaimHtlcTimeoutTxs, sweep,
			)
			continue
		}

		preimage, ok := preimages[htlc.RHash]
		if !ok {
			continue
		}
		sweep := sweepTo(
			op, commitTx.TxOut[idx].Value,
			wire.MaxTxInSequenceNum, 0,
			c.LocalParams.DefaultFinalScript,
		)
		sig, err := input.SignOutputRaw(
			sweep, 0, witnessScript,
			btcAmount(commitTx.TxOut[idx].Value), payPriv,
		)
		if err != nil {
			return nil, err
		}
		sweep.TxIn[0].Witness = wire.TxWitness{
			input.AppendSigHashAll(sig),
			preimage[:],
			witnessScript,
		}
		rcp.ClaimHtlcSuccessTxs = append(
			rcp.ClaimHtlcSuccessTxs, sweep,
		)
	}

	return rcp, nil
}

// ClaimRevokedRemoteCommitTxOutputs attempts to recognize the given funding
// spend as a revoked remote commitment and, when successful, builds the
// penalty transactions claiming its outputs.
func ClaimRevokedRemoteCommitTxOutputs(c *commitment.Commitments,
	commitTx *wire.MsgTx) (*RevokedCommitPublished, error) {

	// The state hint gives us the commitment number the broadcaster
	// claims this to be.
	commitIndex := commitment.GetStateNumHint(commitTx, c.Obfuscator)

	// If we don't hold the revocation secret for that index, this isn't a
	// commitment we can prove revoked.
	secret, err := c.RemotePerCommitmentSecrets.LookUp(commitIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: no revocation secret at index "+
			"%d", ErrUnknownCommitment, commitIndex)
	}

	commitSecret, _ := btcec.PrivKeyFromBytes(secret[:])
	perCommitPoint := commitSecret.PubKey()

	keys := remoteCommitKeys(c, perCommitPoint)
	revokePriv := input.DeriveRevocationPrivKey(
		c.LocalParams.RevocationBaseSecret, commitSecret,
	)

	commitTxid := commitTx.TxHash()
	rcp := &RevokedCommitPublished{
		CommitTx:    commitTx,
		CommitIndex: commitIndex,
	}

	// Their delayed main output is claimed through the revocation clause.
	toSelfScript, err := input.CommitScriptToSelf(
		uint32(c.LocalParams.CsvDelay), keys.DelayKey,
		keys.RevocationKey,
	)
	if err != nil {
		return nil, err
	}
	toSelfPkScript, err := input.WitnessScriptHash(toSelfScript)
	if err != nil {
		return nil, err
	}

	if idx := findOutput(commitTx, toSelfPkScript); idx >= 0 {
		penalty := sweepTo(
			wire.OutPoint{Hash: commitTxid, Index: uint32(idx)},
			commitTx.TxOut[idx].Value, wire.MaxTxInSequenceNum, 0,
			c.LocalParams.DefaultFinalScript,
		)
		sig, err := input.SignOutputRaw(
			penalty, 0, toSelfScript,
			btcAmount(commitTx.TxOut[idx].Value), revokePriv,
		)
		if err != nil {
			return nil, err
		}
		penalty.TxIn[0].Witness = wire.TxWitness{
			input.AppendSigHashAll(sig),
			{0x01},
			toSelfScript,
		}
		rcp.MainPenaltyTx = penalty
	}

	// Best effort on HTLC outputs: we can reconstruct the scripts of any
	// HTLC we still know about. Anything unrecognized is left to the
	// main penalty and logged.
	candidates := append(
		[]commitment.HTLC{}, c.RemoteCommit.Spec.Htlcs...,
	)
	for _, htlc := range candidates {
		var (
			witnessScript []byte
			err           error
		)
		if htlc.Incoming {
			witnessScript, err = input.ReceiverHTLCScript(
				htlc.Expiry, keys.RemoteKey, keys.LocalKey,
				keys.RevocationKey, htlc.RHash[:],
			)
		} else {
			witnessScript, err = input.SenderHTLCScript(
				keys.LocalKey, keys.RemoteKey,
				keys.RevocationKey, htlc.RHash[:],
			)
		}
		if err != nil {
			return nil, err
		}
		pkScript, err := input.WitnessScriptHash(witnessScript)
		if err != nil {
			return nil, err
		}

		idx := findOutput(commitTx, pkScript)
		if idx < 0 {
			continue
		}

		penalty := sweepTo(
			wire.OutPoint{Hash: commitTxid, Index: uint32(idx)},
			commitTx.TxOut[idx].Value, wire.MaxTxInSequenceNum, 0,
			c.LocalParams.DefaultFinalScript,
		)
		sig, err := input.SignOutputRaw(
			penalty, 0, witnessScript,
			btcAmount(commitTx.TxOut[idx].Value), revokePriv,
		)
		if err != nil {
			return nil, err
		}
		penalty.TxIn[0].Witness = wire.TxWitness{
			input.AppendSigHashAll(sig),
			revokePriv.PubKey().SerializeCompressed(),
			witnessScript,
		}
		rcp.HtlcPenaltyTxs = append(rcp.HtlcPenaltyTxs, penalty)
	}

	log.Infof("built penalty claims for revoked commitment %v at index "+
		"%d: main=%v, htlcs=%d", commitTxid, commitIndex,
		rcp.MainPenaltyTx != nil, len(rcp.HtlcPenaltyTxs))

	return rcp, nil
}

// localCommitKeys re-derives the key ring of our current commitment.
func localCommitKeys(c *commitment.Commitments) (*commitment.Keys, error) {
	perCommitPoint, err := c.LocalPerCommitPoint(c.LocalCommit.Index)
	if err != nil {
		return nil, err
	}

	return commitment.DeriveKeys(
		perCommitPoint, c.LocalParams.PaymentBasePoint(),
		c.LocalParams.DelayBasePoint(),
		c.RemoteParams.PaymentBasePoint,
		c.RemoteParams.RevocationBasePoint,
	), nil
}

// remoteCommitKeys derives the key ring of a remote commitment at the given
// per-commitment point.
func remoteCommitKeys(c *commitment.Commitments,
	perCommitPoint *btcec.PublicKey) *commitment.Keys {

	return commitment.DeriveKeys(
		perCommitPoint, c.RemoteParams.PaymentBasePoint,
		c.RemoteParams.DelayBasePoint,
		c.LocalParams.PaymentBasePoint(),
		c.LocalParams.RevocationBasePoint(),
	)
}

// findOutput returns the index of the output carrying pkScript, or -1.
func findOutput(tx *wire.MsgTx, pkScript []byte) int {
	for i, txOut := range tx.TxOut {
		if bytes.Equal(txOut.PkScript, pkScript) {
			return i
		}
	}
	return -1
}

// btcAmount converts a raw satoshi value into a btcutil.Amount.
func btcAmount(v int64) btcutil.Amount {
	return btcutil.Amount(v)
}

// p2pkhScript builds the legacy pay-to-pubkey-hash script for the given key,
// which doubles as the script code when signing p2wkh inputs.
func p2pkhScript(pub *btcec.PublicKey) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_DUP)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(btcutil.Hash160(pub.SerializeCompressed()))
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_CHECKSIG)
	return builder.Script()
}
