// Package looncall encodes and decodes the loon call wire format:
//
//	<hrp><fingerprint5><ciphertext>
//
// The hrp is a fixed literal, the fingerprint is five raw bytes
// (4-byte quorum fingerprint plus 1-byte participant index) and the
// ciphertext runs to the end of the transport message with no length
// prefix. Decoding splits; it never looks inside the ciphertext.
package looncall

import (
	"bytes"
	"errors"

	"github.com/looncoop/loon/fingerprint"
)

// HRP is the human-readable prefix identifying protocol and version.
const HRP = "loon1"

var (
	// ErrPrefixMismatch is returned when the leading bytes are not the
	// expected hrp. Most feed traffic fails here; it is dropped, not
	// reported.
	ErrPrefixMismatch = errors.New("hrp prefix mismatch")

	// ErrTooShort is returned when fewer than len(hrp)+5 bytes remain.
	ErrTooShort = errors.New("message too short")

	// ErrInvalidFingerprintLength is returned by Encode when the
	// recipient fingerprint is not exactly five bytes.
	ErrInvalidFingerprintLength = errors.New("fingerprint must be 5 bytes")
)

// Call is a decoded loon call. Immutable once constructed.
type Call struct {
	Fingerprint [fingerprint.RecipientSize]byte
	Ciphertext  []byte
}

// Encode concatenates hrp, recipient fingerprint and ciphertext.
func Encode(hrp string, fp5 []byte, ciphertext []byte) ([]byte, error) {
	if len(fp5) != fingerprint.RecipientSize {
		return nil, ErrInvalidFingerprintLength
	}

	out := make([]byte, 0, len(hrp)+len(fp5)+len(ciphertext))
	out = append(out, hrp...)
	out = append(out, fp5...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decode splits raw bytes into a Call, expecting the given hrp.
func Decode(hrp string, b []byte) (Call, error) {
	var call Call

	if len(b) < len(hrp)+fingerprint.RecipientSize {
		if !bytes.HasPrefix(b, []byte(hrp)) {
			return call, ErrPrefixMismatch
		}
		return call, ErrTooShort
	}
	if !bytes.HasPrefix(b, []byte(hrp)) {
		return call, ErrPrefixMismatch
	}

	rest := b[len(hrp):]
	copy(call.Fingerprint[:], rest[:fingerprint.RecipientSize])
	call.Ciphertext = rest[fingerprint.RecipientSize:]
	return call, nil
}

// Matches reports whether the call is addressed to the given recipient
// fingerprint. Equality is over all five bytes: a quorum-only match
// would alias every participant of the same quorum.
func (c Call) Matches(fp5 [fingerprint.RecipientSize]byte) bool {
	return c.Fingerprint == fp5
}
