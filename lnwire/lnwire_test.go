package lnwire

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func testPubKey(t *testing.T, b byte) *btcec.PublicKey {
	t.Helper()

	var raw [32]byte
	for i := range raw {
		raw[i] = b
	}
	priv, _ := btcec.PrivKeyFromBytes(raw[:])
	return priv.PubKey()
}

// TestSignatureRoundTrip converts an ECDSA signature to the fixed wire form
// and back, making sure it still validates.
func TestSignatureRoundTrip(t *testing.T) {
	t.Parallel()

	var raw [32]byte
	raw[0] = 0x01
	priv, _ := btcec.PrivKeyFromBytes(raw[:])

	digest := sha256.Sum256([]byte("message"))
	sig := ecdsa.Sign(priv, digest[:])

	wireSig, err := NewSigFromSignature(sig)
	require.NoError(t, err)

	back, err := wireSig.ToSignature()
	require.NoError(t, err)
	require.True(t, back.Verify(digest[:], priv.PubKey()))
	require.True(t, sig.IsEqual(back))
}

// TestSignatureMalformed rejects byte soup.
func TestSignatureMalformed(t *testing.T) {
	t.Parallel()

	_, err := NewSigFromRawSignature(nil)
	require.Error(t, err)

	_, err = NewSigFromRawSignature([]byte{0x30, 0x01, 0x02})
	require.Error(t, err)
}

// TestUpdateAddHTLCEncodeDecode round-trips the message through the wire
// framing.
func TestUpdateAddHTLCEncodeDecode(t *testing.T) {
	t.Parallel()

	msg := &UpdateAddHTLC{
		ChanID: ChannelID{0x01, 0x02},
		ID:     99,
		Amount: 5_000_000,
		Expiry: 400_010,
	}
	copy(msg.PaymentHash[:], bytes.Repeat([]byte{0xAB}, 32))
	msg.OnionBlob[0] = 0x07
	msg.OnionBlob[OnionPacketSize-1] = 0x09

	var buf bytes.Buffer
	_, err := WriteMessage(&buf, msg, 0)
	require.NoError(t, err)

	decoded, err := ReadMessage(&buf, 0)
	require.NoError(t, err)

	decodedAdd, ok := decoded.(*UpdateAddHTLC)
	require.True(t, ok)
	require.Equal(t, msg.ChanID, decodedAdd.ChanID)
	require.Equal(t, msg.ID, decodedAdd.ID)
	require.Equal(t, msg.Amount, decodedAdd.Amount)
	require.Equal(t, msg.PaymentHash, decodedAdd.PaymentHash)
	require.Equal(t, msg.Expiry, decodedAdd.Expiry)
	require.Equal(t, msg.OnionBlob, decodedAdd.OnionBlob)
}

// TestOpenChannelEncodeDecode round-trips the largest funding message.
func TestOpenChannelEncodeDecode(t *testing.T) {
	t.Parallel()

	msg := &OpenChannel{
		ChainHash:            chainhash.Hash{0x11},
		FundingAmount:        1_000_000,
		PushAmount:           42_000,
		DustLimit:            546,
		MaxValueInFlight:     500_000_000,
		ChannelReserve:       10_000,
		HtlcMinimum:          1_000,
		FeePerKiloWeight:     600,
		CsvDelay:             144,
		MaxAcceptedHTLCs:     483,
		FundingKey:           testPubKey(t, 0x02),
		RevocationPoint:      testPubKey(t, 0x03),
		PaymentPoint:         testPubKey(t, 0x04),
		DelayedPaymentPoint:  testPubKey(t, 0x05),
		FirstCommitmentPoint: testPubKey(t, 0x06),
		ChannelFlags:         FFAnnounceChannel,
	}
	msg.PendingChannelID[31] = 0x77

	var buf bytes.Buffer
	_, err := WriteMessage(&buf, msg, 0)
	require.NoError(t, err)

	decoded, err := ReadMessage(&buf, 0)
	require.NoError(t, err)

	decodedOpen, ok := decoded.(*OpenChannel)
	require.True(t, ok)
	require.Equal(t, msg.PendingChannelID, decodedOpen.PendingChannelID)
	require.Equal(t, msg.FundingAmount, decodedOpen.FundingAmount)
	require.Equal(t, msg.ChannelFlags, decodedOpen.ChannelFlags)
	require.True(
		t, msg.FundingKey.IsEqual(decodedOpen.FundingKey),
	)
	require.True(t, msg.FirstCommitmentPoint.IsEqual(
		decodedOpen.FirstCommitmentPoint,
	))
}

// TestChannelIDDerivation checks the txid-xor-index derivation and its
// inverse property.
func TestChannelIDDerivation(t *testing.T) {
	t.Parallel()

	var txid chainhash.Hash
	txid[30] = 0xFF
	txid[31] = 0x0F

	op := wire.OutPoint{Hash: txid, Index: 5}
	cid := NewChanIDFromOutPoint(op)

	require.True(t, cid.IsChanPoint(op))
	require.False(
		t, cid.IsChanPoint(wire.OutPoint{Hash: txid, Index: 6}),
	)
	require.NotEqual(t, ChannelID(txid), cid)
}

// TestUnknownMessage rejects unknown message types.
func TestUnknownMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF})

	_, err := ReadMessage(&buf, 0)
	require.Error(t, err)
}
