package commitment

import (
	"fmt"

	"github.com/lightningnetwork/channeld/lnwire"
)

// HTLC is an in-flight payment carried on a commitment transaction. The
// Incoming field is always interpreted from the point of view of the owner of
// the spec the HTLC lives in.
type HTLC struct {
	// Incoming denotes whether the owner of the spec received this HTLC,
	// as opposed to having offered it.
	Incoming bool

	// ID is the identifier assigned by the offering party. Incoming and
	// outgoing HTLCs use independent id spaces.
	ID uint64

	// Amount is the HTLC value in milli-satoshis.
	Amount lnwire.MilliSatoshi

	// RHash is the payment hash securing the HTLC.
	RHash [32]byte

	// Expiry is the absolute block height after which the HTLC can be
	// timed out.
	Expiry uint32
}

// Spec describes a commitment state from the point of view of its owner: the
// settled balance on each side, and the set of pending HTLCs. A spec is never
// mutated in place; it is recomputed deterministically by applying a change
// stream to a base spec.
type Spec struct {
	// FeeRatePerKw is the fee rate, in satoshis per kilo-weight, used to
	// compute the commitment fee.
	FeeRatePerKw SatPerKWeight

	// ToLocal is the owner's settled balance.
	ToLocal lnwire.MilliSatoshi

	// ToRemote is the counterparty's settled balance.
	ToRemote lnwire.MilliSatoshi

	// Htlcs is the set of pending HTLCs.
	Htlcs []HTLC
}

// copy returns a deep copy of the spec.
func (s Spec) copy() Spec {
	htlcs := make([]HTLC, len(s.Htlcs))
	copy(htlcs, s.Htlcs)
	s.Htlcs = htlcs
	return s
}

// findHTLC returns the index of the HTLC with the given direction and id, or
// -1 if no such HTLC is present.
func (s *Spec) findHTLC(incoming bool, id uint64) int {
	for i, h := range s.Htlcs {
		if h.Incoming == incoming && h.ID == id {
			return i
		}
	}
	return -1
}

// HasHTLC returns true if the spec carries an HTLC with the given direction
// and id.
func (s *Spec) HasHTLC(incoming bool, id uint64) bool {
	return s.findHTLC(incoming, id) != -1
}

// GetHTLC fetches the HTLC with the given direction and id.
func (s *Spec) GetHTLC(incoming bool, id uint64) (HTLC, error) {
	i := s.findHTLC(incoming, id)
	if i == -1 {
		return HTLC{}, fmt.Errorf("unknown htlc: incoming=%v id=%d",
			incoming, id)
	}
	return s.Htlcs[i], nil
}

// removeHTLC deletes the HTLC at index i.
func (s *Spec) removeHTLC(i int) {
	s.Htlcs = append(s.Htlcs[:i], s.Htlcs[i+1:]...)
}

// addOwn applies an update_add_htlc offered by the owner of the spec.
func (s *Spec) addOwn(u *lnwire.UpdateAddHTLC) error {
	if s.ToLocal < u.Amount {
		return fmt.Errorf("insufficient local balance for htlc %d", u.ID)
	}
	s.ToLocal -= u.Amount
	s.Htlcs = append(s.Htlcs, HTLC{
		Incoming: false,
		ID:       u.ID,
		Amount:   u.Amount,
		RHash:    u.PaymentHash,
		Expiry:   u.Expiry,
	})
	return nil
}

// addTheir applies an update_add_htlc offered by the counterparty.
func (s *Spec) addTheir(u *lnwire.UpdateAddHTLC) error {
	if s.ToRemote < u.Amount {
		return fmt.Errorf("insufficient remote balance for htlc %d",
			u.ID)
	}
	s.ToRemote -= u.Amount
	s.Htlcs = append(s.Htlcs, HTLC{
		Incoming: true,
		ID:       u.ID,
		Amount:   u.Amount,
		RHash:    u.PaymentHash,
		Expiry:   u.Expiry,
	})
	return nil
}

// settleOwn removes the incoming HTLC that the owner settled or failed. On a
// fulfill the amount is credited to the owner, on a fail it is returned to
// the counterparty.
func (s *Spec) settleOwn(id uint64, fulfill bool) error {
	i := s.findHTLC(true, id)
	if i == -1 {
		return fmt.Errorf("cannot settle unknown incoming htlc %d", id)
	}
	if fulfill {
		s.ToLocal += s.Htlcs[i].Amount
	} else {
		s.ToRemote += s.Htlcs[i].Amount
	}
	s.removeHTLC(i)
	return nil
}

// settleTheir removes the outgoing HTLC that the counterparty settled or
// failed.
func (s *Spec) settleTheir(id uint64, fulfill bool) error {
	i := s.findHTLC(false, id)
	if i == -1 {
		return fmt.Errorf("cannot settle unknown outgoing htlc %d", id)
	}
	if fulfill {
		s.ToRemote += s.Htlcs[i].Amount
	} else {
		s.ToLocal += s.Htlcs[i].Amount
	}
	s.removeHTLC(i)
	return nil
}

// Reduce evaluates a commitment spec by applying the owner's changes followed
// by the counterparty's changes to the base spec. All adds are applied before
// any settles, mirroring the order in which updates become valid.
func Reduce(base Spec, ownChanges,
	theirChanges []lnwire.Message) (Spec, error) {

	spec := base.copy()

	// First pass: all adds, so that settles within the same batch can
	// resolve them.
	for _, change := range ownChanges {
		if u, ok := change.(*lnwire.UpdateAddHTLC); ok {
			if err := spec.addOwn(u); err != nil {
				return Spec{}, err
			}
		}
	}
	for _, change := range theirChanges {
		if u, ok := change.(*lnwire.UpdateAddHTLC); ok {
			if err := spec.addTheir(u); err != nil {
				return Spec{}, err
			}
		}
	}

	// Second pass: fulfills and fails.
	for _, change := range ownChanges {
		var err error
		switch u := change.(type) {
		case *lnwire.UpdateFulfillHTLC:
			err = spec.settleOwn(u.ID, true)
		case *lnwire.UpdateFailHTLC:
			err = spec.settleOwn(u.ID, false)
		}
		if err != nil {
			return Spec{}, err
		}
	}
	for _, change := range theirChanges {
		var err error
		switch u := change.(type) {
		case *lnwire.UpdateFulfillHTLC:
			err = spec.settleTheir(u.ID, true)
		case *lnwire.UpdateFailHTLC:
			err = spec.settleTheir(u.ID, false)
		}
		if err != nil {
			return Spec{}, err
		}
	}

	return spec, nil
}

// TotalPending sums the amounts of all HTLCs in the given direction.
func (s *Spec) TotalPending(incoming bool) lnwire.MilliSatoshi {
	var sum lnwire.MilliSatoshi
	for _, h := range s.Htlcs {
		if h.Incoming == incoming {
			sum += h.Amount
		}
	}
	return sum
}

// NumPending counts the HTLCs in the given direction.
func (s *Spec) NumPending(incoming bool) int {
	var n int
	for _, h := range s.Htlcs {
		if h.Incoming == incoming {
			n++
		}
	}
	return n
}
