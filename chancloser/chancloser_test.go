package chancloser

import (
	"math/bits"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestNextCloseFeeConverges property-checks the termination of the midpoint
// negotiation: two compliant parties starting from arbitrary fees agree
// within O(log |Fa-Fb|) rounds.
func TestNextCloseFeeConverges(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		feeA := btcutil.Amount(
			rapid.Int64Range(300, 500_000).Draw(rt, "feeA"),
		)
		feeB := btcutil.Amount(
			rapid.Int64Range(300, 500_000).Draw(rt, "feeB"),
		)

		diff := int64(feeA - feeB)
		if diff < 0 {
			diff = -diff
		}

		// Simulate the exchange: A proposes, B counters with the
		// midpoint, and so on until one side echoes the other.
		lastA, lastB := feeA, btcutil.Amount(0)
		rounds := 0
		for {
			rounds++

			// B receives lastA.
			if lastB == lastA {
				break
			}
			next := lastB
			if next == 0 {
				next = feeB
			}
			if next != lastA {
				next = NextCloseFee(next, lastA)
			}
			lastB = next
			if lastB == lastA {
				break
			}

			// A receives lastB.
			lastA = NextCloseFee(lastA, lastB)
			if lastA == lastB {
				break
			}

			require.Less(rt, rounds, 64, "negotiation diverged")
		}

		// The bound is logarithmic in the initial disagreement.
		maxRounds := bits.Len64(uint64(diff)) + 3
		require.LessOrEqual(rt, rounds, maxRounds)
	})
}

// TestNextCloseFeeMidpoint pins the arithmetic.
func TestNextCloseFeeMidpoint(t *testing.T) {
	t.Parallel()

	require.Equal(t, btcutil.Amount(150), NextCloseFee(100, 200))
	require.Equal(t, btcutil.Amount(150), NextCloseFee(200, 100))
	require.Equal(t, btcutil.Amount(100), NextCloseFee(100, 101))
	require.Equal(t, btcutil.Amount(100), NextCloseFee(100, 100))
}

// TestValidateFinalScript accepts the four standard forms and nothing else.
func TestValidateFinalScript(t *testing.T) {
	t.Parallel()

	// p2wpkh: OP_0 <20 bytes>.
	p2wpkh := append([]byte{0x00, 0x14}, make([]byte, 20)...)
	require.NoError(t, ValidateFinalScript(p2wpkh))

	// p2wsh: OP_0 <32 bytes>.
	p2wsh := append([]byte{0x00, 0x20}, make([]byte, 32)...)
	require.NoError(t, ValidateFinalScript(p2wsh))

	// Garbage.
	require.Error(t, ValidateFinalScript([]byte{0x51}))
	require.Error(t, ValidateFinalScript(nil))
}
