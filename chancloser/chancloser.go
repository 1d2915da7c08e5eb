package chancloser

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/txsort"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/lightningnetwork/channeld/commitment"
	"github.com/lightningnetwork/channeld/input"
	"github.com/lightningnetwork/channeld/lnwire"
)

var (
	// ErrInvalidCloseSig is returned when the remote signature over the
	// proposed closing transaction fails validation.
	ErrInvalidCloseSig = errors.New("invalid closing_signed signature")

	// ErrFeeOutOfBounds is returned when the remote proposes a closing
	// fee outside the policy range we're willing to sign for.
	ErrFeeOutOfBounds = errors.New("proposed closing fee out of bounds")

	// ErrInvalidFinalScript is returned when a shutdown script isn't one
	// of the allowed forms.
	ErrInvalidFinalScript = errors.New("invalid final script")
)

// ValidateFinalScript enforces the BOLT#02 set of acceptable shutdown
// scripts: p2pkh, p2sh, p2wpkh and p2wsh.
func ValidateFinalScript(script []byte) error {
	switch {
	case txscript.IsPayToPubKeyHash(script),
		txscript.IsPayToScriptHash(script),
		txscript.IsPayToWitnessPubKeyHash(script),
		txscript.IsPayToWitnessScriptHash(script):

		return nil
	}

	return fmt.Errorf("%w: %x", ErrInvalidFinalScript, script)
}

// CreateCloseTx builds the mutual close transaction paying each side its
// settled balance, with the agreed fee subtracted from the funder's output.
// Outputs below the dust limit are omitted.
func CreateCloseTx(fundingTxIn wire.TxIn, localDust btcutil.Amount,
	proposedFee btcutil.Amount, localIsFunder bool,
	localBalance, remoteBalance btcutil.Amount,
	localScript, remoteScript []byte) (*wire.MsgTx, error) {

	if localIsFunder {
		if localBalance < proposedFee {
			return nil, fmt.Errorf("local balance %v below "+
				"closing fee %v", localBalance, proposedFee)
		}
		localBalance -= proposedFee
	} else {
		if remoteBalance < proposedFee {
			return nil, fmt.Errorf("remote balance %v below "+
				"closing fee %v", remoteBalance, proposedFee)
		}
		remoteBalance -= proposedFee
	}

	closeTx := wire.NewMsgTx(2)
	closeTx.AddTxIn(&fundingTxIn)

	if localBalance >= localDust {
		closeTx.AddTxOut(&wire.TxOut{
			PkScript: localScript,
			Value:    int64(localBalance),
		})
	}
	if remoteBalance >= localDust {
		closeTx.AddTxOut(&wire.TxOut{
			PkScript: remoteScript,
			Value:    int64(remoteBalance),
		})
	}

	txsort.InPlaceSort(closeTx)

	return closeTx, nil
}

// SignCloseProposal builds and signs a closing transaction at the given fee,
// returning the closing_signed message to send.
func SignCloseProposal(c *commitment.Commitments, fee btcutil.Amount,
	localScript, remoteScript []byte) (*lnwire.ClosingSigned, *wire.MsgTx,
	error) {

	closeTx, err := CreateCloseTx(
		c.CommitInput.TxIn(), c.LocalParams.DustLimit, fee,
		c.LocalParams.IsFunder,
		c.LocalCommit.Spec.ToLocal.ToSatoshis(),
		c.LocalCommit.Spec.ToRemote.ToSatoshis(),
		localScript, remoteScript,
	)
	if err != nil {
		return nil, nil, err
	}

	sig, err := input.SignOutputRaw(
		closeTx, 0, c.CommitInput.WitnessScript,
		c.CommitInput.Capacity, c.LocalParams.FundingPrivKey,
	)
	if err != nil {
		return nil, nil, err
	}

	wireSig, err := lnwire.NewSigFromSignature(sig)
	if err != nil {
		return nil, nil, err
	}

	return lnwire.NewClosingSigned(c.ChanID, fee, wireSig), closeTx, nil
}

// CheckCloseProposal verifies the remote signature over the closing
// transaction at the remote's proposed fee and, when valid, returns the
// fully signed transaction ready for broadcast.
func CheckCloseProposal(c *commitment.Commitments,
	msg *lnwire.ClosingSigned, localScript, remoteScript []byte) (
	*wire.MsgTx, error) {

	// Reject an out-of-range remote proposal before wasting a signature
	// check on it.
	if err := checkFeeBounds(c, msg.FeeSatoshis); err != nil {
		return nil, err
	}

	closeTx, err := CreateCloseTx(
		c.CommitInput.TxIn(), c.LocalParams.DustLimit,
		msg.FeeSatoshis, c.LocalParams.IsFunder,
		c.LocalCommit.Spec.ToLocal.ToSatoshis(),
		c.LocalCommit.Spec.ToRemote.ToSatoshis(),
		localScript, remoteScript,
	)
	if err != nil {
		return nil, err
	}

	theirSig, err := msg.Signature.ToSignature()
	if err != nil {
		return nil, err
	}
	err = input.VerifyOutputSig(
		closeTx, 0, c.CommitInput.WitnessScript,
		c.CommitInput.Capacity, c.RemoteParams.FundingKey, theirSig,
	)
	if err != nil {
		return nil, ErrInvalidCloseSig
	}

	ourSig, err := input.SignOutputRaw(
		closeTx, 0, c.CommitInput.WitnessScript,
		c.CommitInput.Capacity, c.LocalParams.FundingPrivKey,
	)
	if err != nil {
		return nil, err
	}

	witness := input.SpendMultiSig(
		c.CommitInput.WitnessScript,
		c.LocalParams.FundingKey().SerializeCompressed(),
		input.AppendSigHashAll(ourSig),
		c.RemoteParams.FundingKey.SerializeCompressed(),
		input.AppendSigHashAll(theirSig),
	)
	closeTx.TxIn[0].Witness = witness

	return closeTx, nil
}

// checkFeeBounds rejects absurd closing fee proposals. The protocol leaves
// the exact policy to the implementation; we refuse anything that exceeds
// half the channel capacity or can't pay for an empty commitment at 1 sat/kw.
func checkFeeBounds(c *commitment.Commitments, fee btcutil.Amount) error {
	if fee > c.CommitInput.Capacity/2 {
		return fmt.Errorf("%w: %v", ErrFeeOutOfBounds, fee)
	}
	if fee < commitment.CommitFee(1, 0) {
		return fmt.Errorf("%w: %v", ErrFeeOutOfBounds, fee)
	}
	return nil
}

// FirstCloseFee computes our opening proposal for the closing fee: the fee of
// a commitment with no HTLC outputs at the current commitment fee rate.
func FirstCloseFee(c *commitment.Commitments) btcutil.Amount {
	return commitment.CommitFee(c.LocalCommit.Spec.FeeRatePerKw, 0)
}

// NextCloseFee computes the next fee to propose given our last proposal and
// the remote's. The midpoint rule halves the disagreement interval on every
// round, so two compliant implementations always converge.
func NextCloseFee(localLast, remoteProposed btcutil.Amount) btcutil.Amount {
	return (localLast + remoteProposed) / 2
}
