package shachain

import (
	"crypto/sha256"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// maxHeight is used to determine the maximum allowable index and the
	// length of the array required in order to derive all previous hashes
	// by index. The entries of this array are also known as buckets.
	maxHeight uint8 = 48

	// rootIndex is an index which corresponds to the root hash.
	rootIndex index = 0
)

// startIndex is the index of the first element in the shachain PRF.
var startIndex index = (1 << maxHeight) - 1

// index is a number which identifies the hash number and serves as a way to
// determine the hashing operation required to derive one hash from another.
// index is initialized with the startIndex and decreases down to zero with
// successive derivations.
type index uint64

// newIndex is used to create index instance. The inner operations with index
// imply that the index decreases from some max number to zero, but for
// simplicity and backward compatibility with the BOLT counting it is
// transformed to work the opposite way.
func newIndex(v uint64) index {
	return startIndex - index(v)
}

// getBit returns the bit of the index at the given position.
func getBit(ind index, position uint8) uint8 {
	return uint8((uint64(ind) >> position) & 1)
}

// getPrefix returns the index value with all bits below position zeroed out.
func getPrefix(ind index, position uint8) uint64 {
	var zero uint64
	mask := (zero - 1) - uint64((1<<position)-1)
	return uint64(ind) & mask
}

// countTrailingZeros counts the number of trailing zero bits. This function
// determines the bucket an element lands in.
func countTrailingZeros(ind index) uint8 {
	var zeros uint8
	for ; zeros < maxHeight; zeros++ {
		if getBit(ind, zeros) != 0 {
			break
		}
	}

	return zeros
}

// deriveBitTransformations checks that the 'to' index is derivable from the
// 'from' index by checking that 'from' is a prefix of 'to'. The bit positions
// where zeroes must be flipped to ones in order for the indexes to become the
// same are returned. This set of bits is the recipe for deriving one hash
// from another.
func (from index) deriveBitTransformations(to index) ([]uint8, error) {
	var positions []uint8

	if from == to {
		return positions, nil
	}

	// 'to' is derivable from 'from' iff the bits of 'from' above its
	// trailing-zero run agree with 'to'.
	zeros := countTrailingZeros(from)
	if uint64(from) != getPrefix(to, zeros) {
		return nil, errors.New("prefixes are different - indexes " +
			"aren't derivable")
	}

	// The remaining lower bits of the 'to' index give the positions which
	// are used to derive one element from another.
	for position := zeros - 1; ; position-- {
		if getBit(to, position) == 1 {
			positions = append(positions, position)
		}

		if position == 0 {
			break
		}
	}

	return positions, nil
}

// element represents the entity which contains the hash and the index
// corresponding to it. An element is the output of the shachain PRF. By
// comparing two indexes we're able to mutate the hash in such a way as to
// derive another element.
type element struct {
	index index
	hash  chainhash.Hash
}

// derive computes one shachain element from another by applying a series of
// bit flips and hashing operations determined by the starting and ending
// index.
func (e *element) derive(toIndex index) (*element, error) {
	fromIndex := e.index

	positions, err := fromIndex.deriveBitTransformations(toIndex)
	if err != nil {
		return nil, err
	}

	buf := e.hash.CloneBytes()
	for _, position := range positions {
		// Flip the bit and then hash the current state.
		byteNumber := position / 8
		bitNumber := position % 8

		buf[byteNumber] ^= (1 << bitNumber)

		h := sha256.Sum256(buf)
		buf = h[:]
	}

	hash, err := chainhash.NewHash(buf)
	if err != nil {
		return nil, err
	}

	return &element{
		index: toIndex,
		hash:  *hash,
	}, nil
}

// isEqual returns true if two elements are identical and false otherwise.
func (e *element) isEqual(e2 *element) bool {
	return (e.index == e2.index) && (&e.hash).IsEqual(&e2.hash)
}
