package shachain

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestProducerStoreCompat inserts a long run of produced secrets into the
// store in order and verifies every one of them remains derivable.
func TestProducerStoreCompat(t *testing.T) {
	t.Parallel()

	seed := chainhash.Hash(sha256.Sum256([]byte("shachain seed")))
	producer := NewRevocationProducer(seed)
	store := NewRevocationStore()

	const n = 1000
	secrets := make([]*chainhash.Hash, n)
	for i := uint64(0); i < n; i++ {
		secret, err := producer.AtIndex(i)
		require.NoError(t, err)
		secrets[i] = secret

		require.NoError(t, store.AddNextEntry(secret))
	}

	// The store holds at most maxHeight buckets yet every secret is
	// recoverable.
	require.LessOrEqual(t, store.lenBuckets, maxHeight)
	for i := uint64(0); i < n; i++ {
		got, err := store.LookUp(i)
		require.NoError(t, err)
		require.Equal(t, secrets[i], got)
	}
}

// TestStoreRejectsForeignSecrets makes sure an element that isn't part of
// the chain is refused.
func TestStoreRejectsForeignSecrets(t *testing.T) {
	t.Parallel()

	seed := chainhash.Hash(sha256.Sum256([]byte("seed a")))
	badSeed := chainhash.Hash(sha256.Sum256([]byte("seed b")))

	producer := NewRevocationProducer(seed)
	rogue := NewRevocationProducer(badSeed)
	store := NewRevocationStore()

	// Legit entries first, so the store has prior elements to check
	// derivability against.
	for i := uint64(0); i < 3; i++ {
		secret, err := producer.AtIndex(i)
		require.NoError(t, err)
		require.NoError(t, store.AddNextEntry(secret))
	}

	// The element at this position lands in a higher bucket, forcing a
	// derivability check against the previous ones, which the rogue
	// secret fails.
	rogueSecret, err := rogue.AtIndex(3)
	require.NoError(t, err)
	require.Error(t, store.AddNextEntry(rogueSecret))
}

// TestStoreSerialization round-trips the store encoding.
func TestStoreSerialization(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		seed := chainhash.Hash(sha256.Sum256(
			[]byte(rapid.String().Draw(rt, "seed")),
		))
		producer := NewRevocationProducer(seed)
		store := NewRevocationStore()

		n := rapid.Uint64Range(0, 64).Draw(rt, "n")
		for i := uint64(0); i < n; i++ {
			secret, err := producer.AtIndex(i)
			require.NoError(rt, err)
			require.NoError(rt, store.AddNextEntry(secret))
		}

		var buf bytes.Buffer
		require.NoError(rt, store.Encode(&buf))

		restored, err := NewRevocationStoreFromBytes(&buf)
		require.NoError(rt, err)
		require.Equal(rt, store, restored)

		for i := uint64(0); i < n; i++ {
			_, err := restored.LookUp(i)
			require.NoError(rt, err)
		}
	})
}

// TestLookupFutureSecretFails verifies that secrets not yet revealed cannot
// be derived (the property that makes revocation sound).
func TestLookupFutureSecretFails(t *testing.T) {
	t.Parallel()

	seed := chainhash.Hash(sha256.Sum256([]byte("future")))
	producer := NewRevocationProducer(seed)
	store := NewRevocationStore()

	for i := uint64(0); i < 10; i++ {
		secret, err := producer.AtIndex(i)
		require.NoError(t, err)
		require.NoError(t, store.AddNextEntry(secret))
	}

	_, err := store.LookUp(10)
	require.Error(t, err)
	_, err = store.LookUp(1 << 40)
	require.Error(t, err)
}
