package core

import (
	"context"
	"errors"
	"time"
)

// ErrDecryptionFailed is returned by a Cipher when the ciphertext
// cannot be opened with the local key material. The router treats it
// as "not for me" and discards; it is never retried.
var ErrDecryptionFailed = errors.New("decryption failed")

// Envelope is one raw message pulled off the public feed, stripped of
// transport detail. Body is the full call bytes (hrp + fingerprint +
// ciphertext); most envelopes on a shared feed are unrelated traffic.
// Sig, when present, is a detached schnorr signature over
// sha256(Body) claimed to be from Sender.
type Envelope struct {
	ID        string
	Sender    string // 32-byte x-only pubkey, hex
	Body      []byte
	Sig       string // hex, empty when the sender attached none
	CreatedAt time.Time
}

// EntryKind classifies a decrypted call payload.
type EntryKind uint8

const (
	EntryNote EntryKind = iota
	EntryNack
	EntryAck
)

// VerifyStatus records the outcome of the optional provenance check.
type VerifyStatus uint8

const (
	// Unverifiable means no signature accompanied the message. Not an
	// error; callers decide policy.
	Unverifiable VerifyStatus = iota
	Verified
)

// InboxEntry is a matched, decrypted call addressed to the local
// participant of one account.
type InboxEntry struct {
	ID          int64        `json:"id,omitempty"`
	AccountID   int64        `json:"account_id"`
	QuorumIndex int          `json:"quorum_index"`
	// EventID is the feed event the entry came from; the inbox keeps
	// at most one entry per event. Empty for locally built entries.
	EventID string `json:"event_id,omitempty"`
	Sender      string       `json:"sender"`
	SenderAlias string       `json:"sender_alias,omitempty"`
	Kind        EntryKind    `json:"kind"`
	Plaintext   string       `json:"plaintext,omitempty"`
	Verify      VerifyStatus `json:"verify"`
	CreatedAt   time.Time    `json:"created_at"`
}

// MessageStore persists kept inbox entries. Entries keep transport
// arrival order; no cross-sender ordering is implied.
type MessageStore interface {
	Save(ctx context.Context, entries []*InboxEntry) error
	ListAccount(ctx context.Context, accountID int64, limit int) ([]*InboxEntry, error)
	ListSender(ctx context.Context, accountID int64, sender string, limit int) ([]*InboxEntry, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Cipher is the pluggable encryption capability. One implementation
// per scheme; the router is handed one at construction and never
// hard-codes a scheme.
type Cipher interface {
	Encrypt(recipientPub string, plaintext []byte) ([]byte, error)
	Decrypt(senderPub string, ciphertext []byte) ([]byte, error)
}

// Transport moves envelopes to and from the public feed. Fetch returns
// everything authored by the given pubkeys since the cutoff, in the
// order the feed delivered it.
type Transport interface {
	Fetch(ctx context.Context, authors []string, since time.Time) ([]*Envelope, error)
	Publish(ctx context.Context, env *Envelope) error
}
