package commitment_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/lightningnetwork/channeld/commitment"
	"github.com/lightningnetwork/channeld/lnwire"
)

// TestReduceConservesValue property-checks invariant I5: no sequence of
// adds and settles can create or destroy money.
func TestReduceConservesValue(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		const capacity = lnwire.MilliSatoshi(1_000_000_000)

		base := commitment.Spec{
			FeeRatePerKw: 600,
			ToLocal:      capacity / 2,
			ToRemote:     capacity / 2,
		}

		var (
			ownChanges   []lnwire.Message
			theirChanges []lnwire.Message
			ownID        uint64
			theirID      uint64
		)

		numAdds := rapid.IntRange(0, 20).Draw(rt, "numAdds")
		for i := 0; i < numAdds; i++ {
			amt := lnwire.MilliSatoshi(
				rapid.Int64Range(1, 1_000_000).Draw(rt, "amt"),
			)
			add := &lnwire.UpdateAddHTLC{
				Amount: amt,
				Expiry: 100,
			}
			if rapid.Bool().Draw(rt, "ours") {
				add.ID = ownID
				ownID++
				ownChanges = append(ownChanges, add)
			} else {
				add.ID = theirID
				theirID++
				theirChanges = append(theirChanges, add)
			}
		}

		// Settle a random subset: our settles target their adds and
		// vice versa.
		for _, change := range theirChanges {
			add, ok := change.(*lnwire.UpdateAddHTLC)
			if !ok || !rapid.Bool().Draw(rt, "settleTheirs") {
				continue
			}
			if rapid.Bool().Draw(rt, "fulfill") {
				ownChanges = append(
					ownChanges,
					&lnwire.UpdateFulfillHTLC{ID: add.ID},
				)
			} else {
				ownChanges = append(
					ownChanges,
					&lnwire.UpdateFailHTLC{ID: add.ID},
				)
			}
		}

		spec, err := commitment.Reduce(base, ownChanges, theirChanges)
		require.NoError(rt, err)

		total := spec.ToLocal + spec.ToRemote
		for _, h := range spec.Htlcs {
			total += h.Amount
		}
		require.Equal(rt, capacity, total)
	})
}

// TestReduceSettleUnknownHtlc makes sure settles of unknown HTLCs are
// refused rather than silently dropped.
func TestReduceSettleUnknownHtlc(t *testing.T) {
	t.Parallel()

	base := commitment.Spec{
		ToLocal:  1_000_000,
		ToRemote: 1_000_000,
	}

	_, err := commitment.Reduce(
		base,
		[]lnwire.Message{&lnwire.UpdateFulfillHTLC{ID: 42}},
		nil,
	)
	require.Error(t, err)
}
