package funding

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/lightningnetwork/channeld/commitment"
	"github.com/lightningnetwork/channeld/input"
	"github.com/lightningnetwork/channeld/lnwire"
)

var (
	// ErrChanReserveTooLarge is returned when the proposed channel
	// reserve exceeds the funding amount.
	ErrChanReserveTooLarge = errors.New("channel reserve exceeds funding " +
		"amount")

	// ErrDustLimitTooLarge is returned when the proposed dust limit
	// exceeds the proposed channel reserve.
	ErrDustLimitTooLarge = errors.New("dust limit exceeds channel reserve")

	// ErrFundingAmountTooSmall is returned when the funding amount can't
	// even cover the commitment fee.
	ErrFundingAmountTooSmall = errors.New("funding amount too small")

	// ErrPushAmountTooLarge is returned when the pushed amount exceeds
	// the funding amount.
	ErrPushAmountTooLarge = errors.New("push amount exceeds funding " +
		"amount")

	// ErrNonPositiveCsvDelay is returned for a zero to_self_delay, which
	// would defeat the revocation mechanism.
	ErrNonPositiveCsvDelay = errors.New("to_self_delay must be positive")
)

// ValidateOpenChannel checks the parameters of an incoming open_channel
// against basic sanity bounds. The fundee runs this before accepting.
func ValidateOpenChannel(msg *lnwire.OpenChannel) error {
	if msg.PushAmount.ToSatoshis() > msg.FundingAmount {
		return ErrPushAmountTooLarge
	}
	if msg.ChannelReserve > msg.FundingAmount {
		return ErrChanReserveTooLarge
	}
	if msg.DustLimit > msg.ChannelReserve {
		return ErrDustLimitTooLarge
	}
	if msg.CsvDelay == 0 {
		return ErrNonPositiveCsvDelay
	}

	fee := commitment.CommitFee(
		commitment.SatPerKWeight(msg.FeePerKiloWeight), 0,
	)
	if msg.FundingAmount-msg.PushAmount.ToSatoshis() < fee {
		return ErrFundingAmountTooSmall
	}

	return nil
}

// ValidateAcceptChannel checks the parameters of an accept_channel against
// the open_channel we previously sent. The funder runs this before building
// the funding transaction.
func ValidateAcceptChannel(open *lnwire.OpenChannel,
	accept *lnwire.AcceptChannel) error {

	if accept.ChannelReserve > open.FundingAmount {
		return ErrChanReserveTooLarge
	}
	if accept.DustLimit > accept.ChannelReserve {
		return ErrDustLimitTooLarge
	}
	if accept.CsvDelay == 0 {
		return ErrNonPositiveCsvDelay
	}

	return nil
}

// FirstCommitTxs is the result of building the initial pair of commitment
// transactions: one per chain, both at index 0.
type FirstCommitTxs struct {
	// LocalSpec and LocalTx describe our commitment.
	LocalSpec commitment.Spec
	LocalTx   *commitment.TxInfo

	// RemoteSpec and RemoteTx describe the counterparty's commitment.
	RemoteSpec commitment.Spec
	RemoteTx   *commitment.TxInfo

	// FundingInput is the funding outpoint with its multisig script,
	// spent by both commitments.
	FundingInput commitment.FundingInput

	// FundingOutput is the output the funding transaction must carry.
	FundingOutput *wire.TxOut
}

// MakeFirstCommitTxs builds the funding output and the initial commitment
// transaction pair. The funder's balance is the funding amount minus the
// pushed amount; the fundee starts with the pushed amount.
func MakeFirstCommitTxs(localParams *commitment.LocalParams,
	remoteParams *commitment.RemoteParams, fundingAmount btcutil.Amount,
	pushAmount lnwire.MilliSatoshi, feeRatePerKw commitment.SatPerKWeight,
	fundingTxid chainhash.Hash, fundingOutputIndex uint32,
	remoteFirstPerCommitPoint *btcec.PublicKey) (*FirstCommitTxs, error) {

	fundingWitnessScript, fundingOutput, err := input.GenFundingPkScript(
		localParams.FundingKey().SerializeCompressed(),
		remoteParams.FundingKey.SerializeCompressed(),
		int64(fundingAmount),
	)
	if err != nil {
		return nil, err
	}

	var toLocal, toRemote lnwire.MilliSatoshi
	if localParams.IsFunder {
		toLocal = lnwire.NewMSatFromSatoshis(fundingAmount) -
			pushAmount
		toRemote = pushAmount
	} else {
		toLocal = pushAmount
		toRemote = lnwire.NewMSatFromSatoshis(fundingAmount) -
			pushAmount
	}

	localSpec := commitment.Spec{
		FeeRatePerKw: feeRatePerKw,
		ToLocal:      toLocal,
		ToRemote:     toRemote,
	}
	remoteSpec := commitment.Spec{
		FeeRatePerKw: feeRatePerKw,
		ToLocal:      toRemote,
		ToRemote:     toLocal,
	}

	fundingInput := commitment.FundingInput{
		OutPoint: wire.OutPoint{
			Hash:  fundingTxid,
			Index: fundingOutputIndex,
		},
		WitnessScript: fundingWitnessScript,
		Capacity:      fundingAmount,
	}

	// The state hint obfuscator commits to the funder's payment base
	// point first.
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

	localFirstPoint, err := localFirstPerCommitPoint(localParams)
	if err != nil {
		return nil, err
	}

	localKeys := commitment.DeriveKeys(
		localFirstPoint, localParams.PaymentBasePoint(),
		localParams.DelayBasePoint(), remoteParams.PaymentBasePoint,
		remoteParams.RevocationBasePoint,
	)
	localTx, err := commitment.CreateCommitTx(
		fundingInput.TxIn(), localKeys, remoteParams.CsvDelay,
		localParams.DustLimit, localParams.IsFunder, localSpec, 0,
		obfuscator,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create local commit: %w",
			err)
	}

	remoteKeys := commitment.DeriveKeys(
		remoteFirstPerCommitPoint, remoteParams.PaymentBasePoint,
		remoteParams.DelayBasePoint, localParams.PaymentBasePoint(),
		localParams.RevocationBasePoint(),
	)
	remoteTx, err := commitment.CreateCommitTx(
		fundingInput.TxIn(), remoteKeys, localParams.CsvDelay,
		remoteParams.DustLimit, !localParams.IsFunder, remoteSpec, 0,
		obfuscator,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create remote commit: %w",
			err)
	}

	return &FirstCommitTxs{
		LocalSpec:     localSpec,
		LocalTx:       localTx,
		RemoteSpec:    remoteSpec,
		RemoteTx:      remoteTx,
		FundingInput:  fundingInput,
		FundingOutput: fundingOutput,
	}, nil
}

// localFirstPerCommitPoint derives our per-commitment point for index 0.
func localFirstPerCommitPoint(
	localParams *commitment.LocalParams) (*btcec.PublicKey, error) {

	// The commitments value doesn't exist yet during funding, so derive
	// straight from the seed.
	secret, err := perCommitSecret(localParams.ShaSeed, 0)
	if err != nil {
		return nil, err
	}

	return input.ComputeCommitmentPoint(secret), nil
}
