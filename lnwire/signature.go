package lnwire

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var (
	errSigTooShort = errors.New("malformed signature: too short")
	errBadLength   = errors.New("malformed signature: bad length")
	errBadRLength  = errors.New("malformed signature: bad length of R")
	errBadSLength  = errors.New("malformed signature: bad length of S")
	errRTooLong    = errors.New("R is over 32 bytes long without padding")
	errSTooLong    = errors.New("S is over 32 bytes long without padding")
)

// Sig is a fixed-sized ECDSA signature. Unlike Bitcoin, we use fixed sized
// signatures on the wire, instead of DER encoded signatures. This type
// provides several methods to convert to/from the regular Go Signature type.
type Sig struct {
	bytes [64]byte
}

// RawBytes returns the raw 64-byte serialization of the signature, R followed
// by S, both big-endian and zero padded to 32 bytes.
func (b *Sig) RawBytes() []byte {
	return b.bytes[:]
}

// NewSigFromRawSignature returns a Sig from a Bitcoin DER-encoded raw
// signature.
func NewSigFromRawSignature(sig []byte) (Sig, error) {
	var b Sig

	if len(sig) < 8 {
		return b, errSigTooShort
	}
	if int(sig[1]) != len(sig)-2 {
		return b, errBadLength
	}

	// Extract lengths of R and S. The DER representation is laid out as:
	//   0x30 <length> 0x02 <length r> r 0x02 <length s> s
	// which means the length of R is the 4th byte and the length of S is
	// the second byte after R ends. 0x02 signifies a length-prefixed,
	// zero-padded, big-endian bigint. 0x30 signifies a DER signature.
	// See the Serialize() method for ecdsa.Signature for details.
	rLen := int(sig[3])
	if len(sig) < 6+rLen {
		return b, errBadRLength
	}
	sLen := int(sig[5+rLen])
	if len(sig) < 6+rLen+sLen {
		return b, errBadSLength
	}

	rBytes := sig[4 : 4+rLen]
	sBytes := sig[6+rLen : 6+rLen+sLen]

	// A 33-byte integer is a 32-byte value with a zero pad keeping it
	// positive; strip the pad. Anything longer can't fit the curve order.
	if rLen == 33 {
		if rBytes[0] != 0x00 || rBytes[1]&0x80 == 0 {
			return b, errRTooLong
		}
		rBytes = rBytes[1:]
		rLen--
	}
	if rLen > 32 {
		return b, errRTooLong
	}
	if sLen == 33 {
		if sBytes[0] != 0x00 || sBytes[1]&0x80 == 0 {
			return b, errSTooLong
		}
		sBytes = sBytes[1:]
		sLen--
	}
	if sLen > 32 {
		return b, errSTooLong
	}

	// Copy the integers into their fixed slots, right aligned so that any
	// stripped padding keeps the big-endian value.
	copy(b.bytes[32-rLen:32], rBytes)
	copy(b.bytes[64-sLen:], sBytes)

	return b, nil
}

// NewSigFromSignature creates a new signature as used on the wire, from an
// existing ecdsa.Signature.
func NewSigFromSignature(e *ecdsa.Signature) (Sig, error) {
	if e == nil {
		return Sig{}, fmt.Errorf("cannot decode empty signature")
	}

	// Serialize the signature with all the checks that entails.
	return NewSigFromRawSignature(e.Serialize())
}

// ToSignature converts the fixed-sized signature to an ecdsa.Signature which
// can be used for signature validation checks.
func (b *Sig) ToSignature() (*ecdsa.Signature, error) {
	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(b.bytes[:32]); overflow {
		return nil, errors.New("r value overflows curve order")
	}
	if overflow := s.SetByteSlice(b.bytes[32:]); overflow {
		return nil, errors.New("s value overflows curve order")
	}

	return ecdsa.NewSignature(&r, &s), nil
}

// ToSignatureBytes serializes the target fixed-sized signature into the
// encoding of the primary domain for the signature, DER.
func (b *Sig) ToSignatureBytes() ([]byte, error) {
	sig, err := b.ToSignature()
	if err != nil {
		return nil, err
	}

	return sig.Serialize(), nil
}
