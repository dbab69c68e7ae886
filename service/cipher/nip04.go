// Package cipher provides the pluggable message encryption schemes.
// NIP-04 is the scheme quorum participants use today; the router only
// ever sees the core.Cipher interface.
package cipher

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/looncoop/loon/core"
)

type nip04Cipher struct {
	sk  string
	pub string
}

// NewNIP04 builds a NIP-04 cipher around the local identity key, given
// either as bech32 nsec or raw hex.
func NewNIP04(secret string) (core.Cipher, error) {
	sk, err := DecodeSecret(secret)
	if err != nil {
		return nil, err
	}

	pub, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("cipher: derive pubkey: %w", err)
	}

	return &nip04Cipher{sk: sk, pub: pub}, nil
}

// DecodeSecret normalizes an identity secret key to raw hex, accepting
// either bech32 nsec or hex input.
func DecodeSecret(secret string) (string, error) {
	if prefix, value, err := nip19.Decode(secret); err == nil {
		if prefix != "nsec" {
			return "", fmt.Errorf("cipher: expected nsec, got %s", prefix)
		}
		return value.(string), nil
	}

	// Raw hex: validate by deriving the pubkey.
	if _, err := nostr.GetPublicKey(secret); err != nil {
		return "", fmt.Errorf("cipher: bad secret key: %w", err)
	}
	return secret, nil
}

func (c *nip04Cipher) Encrypt(recipientPub string, plaintext []byte) ([]byte, error) {
	shared, err := nip04.ComputeSharedSecret(recipientPub, c.sk)
	if err != nil {
		return nil, fmt.Errorf("cipher: shared secret: %w", err)
	}

	ct, err := nip04.Encrypt(string(plaintext), shared)
	if err != nil {
		return nil, fmt.Errorf("cipher: encrypt: %w", err)
	}

	return []byte(ct), nil
}

func (c *nip04Cipher) Decrypt(senderPub string, ciphertext []byte) ([]byte, error) {
	shared, err := nip04.ComputeSharedSecret(senderPub, c.sk)
	if err != nil {
		return nil, fmt.Errorf("%w: shared secret: %v", core.ErrDecryptionFailed, err)
	}

	pt, err := nip04.Decrypt(string(ciphertext), shared)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDecryptionFailed, err)
	}

	return []byte(pt), nil
}
