package funding

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/lightningnetwork/channeld/input"
	"github.com/lightningnetwork/channeld/shachain"
)

// perCommitSecret derives the per-commitment secret at the given index from
// the sha seed.
func perCommitSecret(seed chainhash.Hash, index uint64) ([]byte, error) {
	producer := shachain.NewRevocationProducer(seed)
	secret, err := producer.AtIndex(index)
	if err != nil {
		return nil, err
	}

	return secret[:], nil
}

// PerCommitPoint derives the per-commitment point at the given index from
// the sha seed.
func PerCommitPoint(seed chainhash.Hash, index uint64) (*btcec.PublicKey,
	error) {

	secret, err := perCommitSecret(seed, index)
	if err != nil {
		return nil, err
	}

	return input.ComputeCommitmentPoint(secret), nil
}
