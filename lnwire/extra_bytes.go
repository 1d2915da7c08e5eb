package lnwire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/lightningnetwork/lnd/tlv"
)

// ExtraOpaqueData is the set of data that was appended to this message, some
// of which we may not actually know how to iterate or parse. By holding onto
// this data, we ensure that we're able to properly validate the set of
// signatures that cover these new fields, and ensure we're able to make
// upgrades to the network in a forwards compatible manner.
type ExtraOpaqueData []byte

// Encode attempts to encode the raw extra bytes into the passed io.Writer.
func (e *ExtraOpaqueData) Encode(w *bytes.Buffer) error {
	eBytes := []byte((*e)[:])
	if _, err := w.Write(eBytes); err != nil {
		return err
	}

	return nil
}

// Decode attempts to unpack the raw bytes encoded in the passed io.Reader as
// a set of extra opaque data. All bytes remaining in the reader belong to the
// opaque data, as it always sits at the very end of a message.
func (e *ExtraOpaqueData) Decode(r io.Reader) error {
	// First, we'll attempt to read a set of bytes contained within the
	// passed io.Reader (if any exist).
	rawBytes, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	// If we _do_ have some bytes, then we'll swap out our backing pointer.
	// This ensures that any struct that embeds this type will properly
	// store the bytes once this method exits.
	if len(rawBytes) > 0 {
		*e = rawBytes
	} else {
		*e = make([]byte, 0)
	}

	return nil
}

// PackRecords attempts to encode the set of tlv records into the target
// ExtraOpaqueData instance. The records will be encoded as a raw TLV stream
// and stored within the backing slice pointer.
func (e *ExtraOpaqueData) PackRecords(records ...tlv.Record) error {
	tlvStream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}

	var b bytes.Buffer
	if err := tlvStream.Encode(&b); err != nil {
		return err
	}

	*e = b.Bytes()

	return nil
}

// ExtractRecords attempts to decode the TLV stream backing the opaque data
// into the set of passed records. The set of types parsed out of the stream
// is returned so callers can tell optional records apart from absent ones.
func (e *ExtraOpaqueData) ExtractRecords(
	records ...tlv.Record) (tlv.TypeMap, error) {

	tlvStream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	return tlvStream.DecodeWithParsedTypes(bytes.NewReader(*e))
}

// ValidateTLV checks that the opaque data is either empty or a valid TLV
// stream (sorted, minimally encoded types).
func (e *ExtraOpaqueData) ValidateTLV() error {
	// An empty set of bytes is a valid (empty) TLV stream.
	if len(*e) == 0 {
		return nil
	}

	tlvStream, err := tlv.NewStream()
	if err != nil {
		return err
	}

	if _, err := tlvStream.DecodeWithParsedTypes(
		bytes.NewReader(*e),
	); err != nil {
		return fmt.Errorf("invalid extra opaque data: %w", err)
	}

	return nil
}
