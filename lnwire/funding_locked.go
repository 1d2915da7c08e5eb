package lnwire

import (
	"bytes"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
)

// FundingLocked is the message that both parties to a new channel creation
// send once they have observed the funding transaction being confirmed on the
// blockchain. FundingLocked carries the channel ID and the sender's next
// per-commitment point.
type FundingLocked struct {
	// ChanID is the outpoint of the channel's funding transaction. This
	// can be used to query for the channel in the database.
	ChanID ChannelID

	// NextPerCommitmentPoint is the per-commitment point of the sender's
	// next commitment transaction for the channel.
	NextPerCommitmentPoint *btcec.PublicKey

	// ExtraData is the set of data that was appended to this message.
	ExtraData ExtraOpaqueData
}

// NewFundingLocked creates a new FundingLocked message, populating it with
// the necessary IDs and revocation secret.
func NewFundingLocked(cid ChannelID, npcp *btcec.PublicKey) *FundingLocked {
	return &FundingLocked{
		ChanID:                 cid,
		NextPerCommitmentPoint: npcp,
	}
}

// A compile time check to ensure FundingLocked implements the lnwire.Message
// interface.
var _ Message = (*FundingLocked)(nil)

// Encode serializes the target FundingLocked message into the passed
// io.Writer implementation.
//
// This is part of the lnwire.Message interface.
func (c *FundingLocked) Encode(w *bytes.Buffer, pver uint32) error {
	return WriteElements(
		w, c.ChanID, c.NextPerCommitmentPoint, c.ExtraData,
	)
}

// Decode deserializes the serialized FundingLocked message stored in the
// passed io.Reader into the target FundingLocked.
//
// This is part of the lnwire.Message interface.
func (c *FundingLocked) Decode(r io.Reader, pver uint32) error {
	return ReadElements(
		r, &c.ChanID, &c.NextPerCommitmentPoint, &c.ExtraData,
	)
}

// MsgType returns the uint32 code which uniquely identifies this message as a
// FundingLocked message on the wire.
//
// This is part of the lnwire.Message interface.
func (c *FundingLocked) MsgType() MessageType {
	return MsgFundingLocked
}
