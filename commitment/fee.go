package commitment

import (
	"github.com/btcsuite/btcd/btcutil"
)

const (
	// CommitWeight is the weight of a commitment transaction without any
	// HTLC outputs.
	CommitWeight int64 = 724

	// HTLCWeight is the added weight of one HTLC output on a commitment
	// transaction.
	HTLCWeight int64 = 172

	// HtlcTimeoutWeight is the weight of the HTLC timeout transaction
	// which will transition an outgoing HTLC to the delay-and-claim state.
	HtlcTimeoutWeight int64 = 663

	// HtlcSuccessWeight is the weight of the HTLC success transaction
	// which will transition an incoming HTLC to the delay-and-claim state.
	HtlcSuccessWeight int64 = 703
)

// SatPerKWeight represents a fee rate in sat/kw (satoshis per 1000 weight
// units).
type SatPerKWeight btcutil.Amount

// FeeForWeight calculates the fee resulting from this fee rate and the given
// weight in weight units (wu).
func (s SatPerKWeight) FeeForWeight(wu int64) btcutil.Amount {
	// The resulting fee is rounded down, as specified in BOLT#03.
	return btcutil.Amount(s) * btcutil.Amount(wu) / 1000
}

// CommitFee computes the fee of a commitment transaction carrying the given
// number of untrimmed HTLC outputs.
func CommitFee(feeRate SatPerKWeight, numHtlcs int) btcutil.Amount {
	return feeRate.FeeForWeight(CommitWeight + int64(numHtlcs)*HTLCWeight)
}

// HtlcTimeoutFee returns the fee in satoshis required for an HTLC timeout
// transaction.
func HtlcTimeoutFee(feeRate SatPerKWeight) btcutil.Amount {
	return feeRate.FeeForWeight(HtlcTimeoutWeight)
}

// HtlcSuccessFee returns the fee in satoshis required for an HTLC success
// transaction.
func HtlcSuccessFee(feeRate SatPerKWeight) btcutil.Amount {
	return feeRate.FeeForWeight(HtlcSuccessWeight)
}

// HtlcIsDust determines if an HTLC output is considered dust on a commitment
// transaction, taking into account the second-level fee that has to be paid
// to sweep it.
func HtlcIsDust(incoming bool, feeRate SatPerKWeight,
	htlcAmt, dustLimit btcutil.Amount) bool {

	// If this is an incoming HTLC on the owner's commitment, a success
	// transaction is needed to sweep it, otherwise a timeout transaction.
	var secondLevelFee btcutil.Amount
	if incoming {
		secondLevelFee = HtlcSuccessFee(feeRate)
	} else {
		secondLevelFee = HtlcTimeoutFee(feeRate)
	}

	return htlcAmt-secondLevelFee < dustLimit
}
