package input

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// WitnessSigHash computes the sighash digest of the given input committing to
// the passed witness script and amount, using the segwit v0 sighash
// algorithm and SIGHASH_ALL.
func WitnessSigHash(tx *wire.MsgTx, idx int, witnessScript []byte,
	amt btcutil.Amount) ([]byte, error) {

	prevFetcher := txscript.NewCannedPrevOutputFetcher(nil, int64(amt))
	sigHashes := txscript.NewTxSigHashes(tx, prevFetcher)

	return txscript.CalcWitnessSigHash(
		witnessScript, sigHashes, txscript.SigHashAll, tx, idx,
		int64(amt),
	)
}

// SignOutputRaw signs the witness sighash of the given input with the passed
// private key, returning the plain ECDSA signature without any appended
// sighash flag.
func SignOutputRaw(tx *wire.MsgTx, idx int, witnessScript []byte,
	amt btcutil.Amount, key *btcec.PrivateKey) (*ecdsa.Signature, error) {

	digest, err := WitnessSigHash(tx, idx, witnessScript, amt)
	if err != nil {
		return nil, err
	}

	return ecdsa.Sign(key, digest), nil
}

// VerifyOutputSig checks that sig is a valid signature from pubKey over the
// witness sighash of the given input.
func VerifyOutputSig(tx *wire.MsgTx, idx int, witnessScript []byte,
	amt btcutil.Amount, pubKey *btcec.PublicKey,
	sig *ecdsa.Signature) error {

	digest, err := WitnessSigHash(tx, idx, witnessScript, amt)
	if err != nil {
		return err
	}

	if !sig.Verify(digest, pubKey) {
		return fmt.Errorf("invalid signature for input %d", idx)
	}

	return nil
}

// AppendSigHashAll returns the DER serialization of the signature with the
// SIGHASH_ALL flag appended, as required within witness stacks.
func AppendSigHashAll(sig *ecdsa.Signature) []byte {
	return append(sig.Serialize(), byte(txscript.SigHashAll))
}
