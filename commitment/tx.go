package commitment

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/lightningnetwork/channeld/input"
	"github.com/lightningnetwork/channeld/lnwire"
)

const (
	// StateHintSize is the total number of bytes used between the sequence
	// number and locktime of the commitment transaction used to encode a
	// hint to the state number of a particular commitment transaction.
	StateHintSize = 6

	// maxStateHint is the maximum state number we're able to encode using
	// StateHintSize bytes amongst the sequence number and locktime fields
	// of the commitment transaction.
	maxStateHint uint64 = (1 << 48) - 1
)

// TimelockShift is used to make sure the commitment transaction is spendable
// by setting the locktime with it so that it is larger than 500,000,000, thus
// interpreting it as Unix epoch timestamp and not a block height. This way we
// can safely use the lower 24 bits of the locktime field for part of the
// obscured commitment transaction number.
var TimelockShift = uint32(1 << 29)

// Keys holds the full set of per-commitment public keys for one commitment
// transaction. All keys are tweaked by the per-commitment point of the owner
// of the commitment.
type Keys struct {
	// PerCommitPoint is the per-commitment point of the owner of the
	// commitment these keys belong to.
	PerCommitPoint *btcec.PublicKey

	// LocalKey is the owner's tweaked payment key. It appears within the
	// HTLC scripts of the owner's commitment.
	LocalKey *btcec.PublicKey

	// RemoteKey is the counterparty's tweaked payment key, used for the
	// unencumbered to_remote output and within the HTLC scripts.
	RemoteKey *btcec.PublicKey

	// DelayKey is the owner's tweaked delayed payment key, gating the
	// to_self output and all second-level HTLC outputs.
	DelayKey *btcec.PublicKey

	// RevocationKey is the key that allows the counterparty to claim
	// every output of this commitment should it ever be revoked and still
	// broadcast.
	RevocationKey *btcec.PublicKey
}

// DeriveKeys computes the commitment key set for the commitment owned by the
// party whose base points are given first.
func DeriveKeys(perCommitPoint, ownerPayBase, ownerDelayBase,
	counterPayBase, counterRevocationBase *btcec.PublicKey) *Keys {

	return &Keys{
		PerCommitPoint: perCommitPoint,
		LocalKey:       input.TweakPubKey(ownerPayBase, perCommitPoint),
		RemoteKey:      input.TweakPubKey(counterPayBase, perCommitPoint),
		DelayKey:       input.TweakPubKey(ownerDelayBase, perCommitPoint),
		RevocationKey: input.DeriveRevocationPubkey(
			counterRevocationBase, perCommitPoint,
		),
	}
}

// HtlcOutput ties a pending HTLC to the concrete output it creates on a
// commitment transaction.
type HtlcOutput struct {
	// Htlc is the in-flight payment this output carries.
	Htlc HTLC

	// OutputIndex is the index of the output within the commitment
	// transaction after canonical sorting.
	OutputIndex uint32

	// WitnessScript is the redeem script of the output.
	WitnessScript []byte
}

// TxInfo is a fully built commitment transaction along with the metadata
// required to sign and claim its outputs.
type TxInfo struct {
	// Tx is the commitment transaction itself.
	Tx *wire.MsgTx

	// Fee is the commitment fee paid by the funder.
	Fee btcutil.Amount

	// HtlcOutputs maps every untrimmed HTLC to its output, ordered by
	// output index. HTLC signatures within commit_sig follow this order.
	HtlcOutputs []HtlcOutput

	// ToLocalIndex is the index of the to_self output, or -1 if trimmed.
	ToLocalIndex int

	// ToLocalScript is the witness script of the to_self output.
	ToLocalScript []byte

	// ToRemoteIndex is the index of the to_remote output, or -1 if
	// trimmed.
	ToRemoteIndex int
}

// sortableOutput is an output along with the metadata needed to keep the
// HTLC mapping alive across the canonical sort.
type sortableOutput struct {
	txOut         *wire.TxOut
	witnessScript []byte

	// htlc is non-nil for HTLC outputs.
	htlc *HTLC

	// cltv breaks ties between identical HTLC outputs, per BOLT#03.
	cltv uint32

	// kind tags the balance outputs: 1 for to_self, 2 for to_remote, 0
	// for HTLCs.
	kind int
}

// CreateCommitTx builds the complete commitment transaction for the owner of
// the given spec. The transaction spends fundingTxIn, carries the obscured
// state hint for stateNum, and its outputs are sorted into the canonical
// BIP#69-with-cltv-tie-break ordering both parties agree on.
//
// The ownerIsFunder flag determines which balance output the commitment fee
// is subtracted from. The csvDelay is the delay imposed on the owner, i.e.
// the one demanded by the counterparty during funding.
func CreateCommitTx(fundingTxIn wire.TxIn, keys *Keys, csvDelay uint16,
	ownerDustLimit btcutil.Amount, ownerIsFunder bool, spec Spec,
	stateNum uint64, obfuscator [StateHintSize]byte) (*TxInfo, error) {

	// Determine which HTLCs survive the dust filter, since the commit fee
	// depends on the number of untrimmed HTLC outputs.
	var untrimmed []HTLC
	for _, h := range spec.Htlcs {
		if HtlcIsDust(
			h.Incoming, spec.FeeRatePerKw,
			h.Amount.ToSatoshis(), ownerDustLimit,
		) {
			continue
		}
		untrimmed = append(untrimmed, h)
	}

	commitFee := CommitFee(spec.FeeRatePerKw, len(untrimmed))

	// The funder bears the commitment fee. Underflow means the funder
	// cannot afford the current fee rate, which the callers exclude via
	// the reserve checks.
	toLocal := spec.ToLocal.ToSatoshis()
	toRemote := spec.ToRemote.ToSatoshis()
	if ownerIsFunder {
		if toLocal < commitFee {
			return nil, fmt.Errorf("local balance %v below "+
				"commit fee %v", toLocal, commitFee)
		}
		toLocal -= commitFee
	} else {
		if toRemote < commitFee {
			return nil, fmt.Errorf("remote balance %v below "+
				"commit fee %v", toRemote, commitFee)
		}
		toRemote -= commitFee
	}

	var outputs []sortableOutput

	// The to_self output pays to the owner after the CSV delay, or to the
	// counterparty immediately via the revocation clause.
	if toLocal >= ownerDustLimit {
		toSelfScript, err := input.CommitScriptToSelf(
			uint32(csvDelay), keys.DelayKey, keys.RevocationKey,
		)
		if err != nil {
			return nil, err
		}
		pkScript, err := input.WitnessScriptHash(toSelfScript)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, sortableOutput{
			txOut:         wire.NewTxOut(int64(toLocal), pkScript),
			witnessScript: toSelfScript,
			kind:          1,
		})
	}

	// The to_remote output is a plain p2wkh paying the counterparty.
	if toRemote >= ownerDustLimit {
		pkScript, err := input.CommitScriptUnencumbered(keys.RemoteKey)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, sortableOutput{
			txOut:         wire.NewTxOut(int64(toRemote), pkScript),
			witnessScript: nil,
			kind:          2,
		})
	}

	for i := range untrimmed {
		h := untrimmed[i]

		var (
			witnessScript []byte
			err           error
		)
		if h.Incoming {
			witnessScript, err = input.ReceiverHTLCScript(
				h.Expiry, keys.RemoteKey, keys.LocalKey,
				keys.RevocationKey, h.RHash[:],
			)
		} else {
			witnessScript, err = input.SenderHTLCScript(
				keys.LocalKey, keys.RemoteKey,
				keys.RevocationKey, h.RHash[:],
			)
		}
		if err != nil {
			return nil, err
		}

		pkScript, err := input.WitnessScriptHash(witnessScript)
		if err != nil {
			return nil, err
		}

		outputs = append(outputs, sortableOutput{
			txOut: wire.NewTxOut(
				int64(h.Amount.ToSatoshis()), pkScript,
			),
			witnessScript: witnessScript,
			htlc:          &untrimmed[i],
			cltv:          h.Expiry,
		})
	}

	// Sort the outputs into the canonical ordering: ascending value, then
	// lexicographic script, then cltv. This keeps the ordering stable and
	// identical on both sides so only signatures need cross the wire.
	sort.SliceStable(outputs, func(i, j int) bool {
		if outputs[i].txOut.Value != outputs[j].txOut.Value {
			return outputs[i].txOut.Value < outputs[j].txOut.Value
		}
		cmp := bytes.Compare(
			outputs[i].txOut.PkScript, outputs[j].txOut.PkScript,
		)
		if cmp != 0 {
			return cmp < 0
		}
		return outputs[i].cltv < outputs[j].cltv
	})

	commitTx := wire.NewMsgTx(2)
	commitTx.AddTxIn(&fundingTxIn)

	info := &TxInfo{
		Tx:            commitTx,
		Fee:           commitFee,
		ToLocalIndex:  -1,
		ToRemoteIndex: -1,
	}

	for i, o := range outputs {
		commitTx.AddTxOut(o.txOut)

		switch {
		case o.kind == 1:
			info.ToLocalIndex = i
			info.ToLocalScript = o.witnessScript
		case o.kind == 2:
			info.ToRemoteIndex = i
		default:
			info.HtlcOutputs = append(info.HtlcOutputs, HtlcOutput{
				Htlc:          *o.htlc,
				OutputIndex:   uint32(i),
				WitnessScript: o.witnessScript,
			})
		}
	}

	if err := SetStateNumHint(commitTx, stateNum, obfuscator); err != nil {
		return nil, err
	}

	return info, nil
}

// DeriveStateHintObfuscator derives the obfuscator that is used to mask the
// state hint encoded in a commitment transaction. Both parties can compute
// it, while a chain observer cannot: it is the sha256 of the funder's payment
// base point concatenated with the fundee's.
func DeriveStateHintObfuscator(funderPayBase,
	fundeePayBase *btcec.PublicKey) [StateHintSize]byte {

	h := sha256.New()
	h.Write(funderPayBase.SerializeCompressed())
	h.Write(fundeePayBase.SerializeCompressed())

	sha := h.Sum(nil)

	var obfuscator [StateHintSize]byte
	copy(obfuscator[:], sha[26:])

	return obfuscator
}

// SetStateNumHint encodes the intended state number within the sequence
// number of the commitment transaction's only input and its locktime,
// obscured with the given obfuscator. With this, given knowledge of the
// obfuscator, the state number of a broadcast commitment can be recovered
// directly from the transaction.
func SetStateNumHint(commitTx *wire.MsgTx, stateNum uint64,
	obfuscator [StateHintSize]byte) error {

	if stateNum > maxStateHint {
		return fmt.Errorf("state number %d out of range", stateNum)
	}

	if len(commitTx.TxIn) != 1 {
		return fmt.Errorf("commitment tx must have exactly one input")
	}

	xorInt := uint64(obfuscator[0])<<40 | uint64(obfuscator[1])<<32 |
		uint64(obfuscator[2])<<24 | uint64(obfuscator[3])<<16 |
		uint64(obfuscator[4])<<8 | uint64(obfuscator[5])

	stateNum ^= xorInt

	// The upper 24 bits land in the sequence number (with the high bit
	// set to disable the relative locktime interpretation), and the lower
	// 24 bits in the locktime, shifted into timestamp territory.
	commitTx.TxIn[0].Sequence = uint32(0x80000000) |
		uint32(stateNum>>24)
	commitTx.LockTime = TimelockShift | uint32(stateNum&0xFFFFFF)

	return nil
}

// GetStateNumHint recovers the state number hidden within the sequence
// number and locktime of the passed commitment transaction.
func GetStateNumHint(commitTx *wire.MsgTx,
	obfuscator [StateHintSize]byte) uint64 {

	xorInt := uint64(obfuscator[0])<<40 | uint64(obfuscator[1])<<32 |
		uint64(obfuscator[2])<<24 | uint64(obfuscator[3])<<16 |
		uint64(obfuscator[4])<<8 | uint64(obfuscator[5])

	stateNumXor := (uint64(commitTx.TxIn[0].Sequence)&0xFFFFFF)<<24 |
		uint64(commitTx.LockTime)&0xFFFFFF

	return stateNumXor ^ xorInt
}

// CreateHtlcTimeoutTx creates the second-level HTLC timeout transaction for
// an HTLC offered by the owner of the commitment. The output is a covenant
// forcing a further CSV delay before the owner can sweep.
func CreateHtlcTimeoutTx(htlcOutpoint wire.OutPoint,
	amount lnwire.MilliSatoshi, expiry uint32, csvDelay uint16,
	feeRate SatPerKWeight, revocationKey,
	delayKey *btcec.PublicKey) (*wire.MsgTx, []byte, error) {

	fee := HtlcTimeoutFee(feeRate)

	timeoutTx := wire.NewMsgTx(2)
	timeoutTx.LockTime = expiry
	timeoutTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: htlcOutpoint,
		Sequence:         0,
	})

	witnessScript, err := input.SecondLevelHtlcScript(
		revocationKey, delayKey, uint32(csvDelay),
	)
	if err != nil {
		return nil, nil, err
	}
	pkScript, err := input.WitnessScriptHash(witnessScript)
	if err != nil {
		return nil, nil, err
	}

	timeoutTx.AddTxOut(&wire.TxOut{
		Value:    int64(amount.ToSatoshis() - fee),
		PkScript: pkScript,
	})

	return timeoutTx, witnessScript, nil
}

// CreateHtlcSuccessTx creates the second-level HTLC success transaction for
// an HTLC received by the owner of the commitment.
func CreateHtlcSuccessTx(htlcOutpoint wire.OutPoint,
	amount lnwire.MilliSatoshi, csvDelay uint16, feeRate SatPerKWeight,
	revocationKey, delayKey *btcec.PublicKey) (*wire.MsgTx, []byte,
	error) {

	fee := HtlcSuccessFee(feeRate)

	successTx := wire.NewMsgTx(2)
	successTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: htlcOutpoint,
		Sequence:         0,
	})

	witnessScript, err := input.SecondLevelHtlcScript(
		revocationKey, delayKey, uint32(csvDelay),
	)
	if err != nil {
		return nil, nil, err
	}
	pkScript, err := input.WitnessScriptHash(witnessScript)
	if err != nil {
		return nil, nil, err
	}

	successTx.AddTxOut(&wire.TxOut{
		Value:    int64(amount.ToSatoshis() - fee),
		PkScript: pkScript,
	})

	return successTx, witnessScript, nil
}
