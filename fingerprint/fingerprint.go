// Package fingerprint derives the short quorum identifiers used to
// address loon calls. The fingerprint is a pure function of the
// canonical descriptor bytes, so every participant computes the same
// value from the publicly known descriptor with no coordination.
package fingerprint

import (
	"crypto/sha256"
	"errors"
)

// Size is the length of a quorum fingerprint in bytes.
const Size = 4

// RecipientSize is the length of a full recipient fingerprint:
// quorum fingerprint plus one participant byte.
const RecipientSize = Size + 1

// ErrIndexOutOfRange is returned for quorum indices outside 0..=255.
var ErrIndexOutOfRange = errors.New("quorum index out of range")

// Derive computes the quorum fingerprint of a descriptor: the first
// four bytes of the sha256 hash of its canonical serialization.
// Accounts importing identical descriptors independently derive
// identical fingerprints.
func Derive(descriptor []byte) [Size]byte {
	sum := sha256.Sum256(descriptor)
	var fp [Size]byte
	copy(fp[:], sum[:Size])
	return fp
}

// ParticipantByte maps a quorum index to its wire byte. The mapping is
// the identity on 0..=255; anything else is a construction error.
func ParticipantByte(index int) (byte, error) {
	if index < 0 || index > 255 {
		return 0, ErrIndexOutOfRange
	}
	return byte(index), nil
}

// Recipient concatenates a quorum fingerprint and a participant byte
// into the full 5-byte recipient fingerprint.
func Recipient(fp [Size]byte, pb byte) [RecipientSize]byte {
	var r [RecipientSize]byte
	copy(r[:], fp[:])
	r[Size] = pb
	return r
}
