// Package router moves quorum messages between the public feed and
// the inbox. Inbound it decodes, matches, decrypts and verifies;
// outbound it encrypts, encodes and optionally signs. The feed is
// shared and public, so nearly everything inbound is noise: codec and
// crypto failures are logged and dropped, never propagated.
package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/looncoop/loon/core"
	"github.com/looncoop/loon/fingerprint"
	"github.com/looncoop/loon/looncall"
	"github.com/looncoop/loon/store"
)

// Ack and nack travel as one-byte plaintexts; anything else is a note.
const (
	nackPayload = "0"
	ackPayload  = "1"
)

type Router struct {
	accounts  core.AccountStore
	inbox     core.MessageStore
	cipher    core.Cipher
	transport core.Transport
	logger    *slog.Logger

	hrp string
	// signKey signs outbound calls when requested; nil disables the
	// sign option.
	signKey *btcec.PrivateKey
}

type Option func(*Router)

// WithHRP overrides the wire prefix, for tests and future protocol
// revisions.
func WithHRP(hrp string) Option {
	return func(r *Router) { r.hrp = hrp }
}

// WithSignKey enables outbound signing with the given 32-byte secret.
func WithSignKey(secret []byte) Option {
	return func(r *Router) {
		sk, _ := btcec.PrivKeyFromBytes(secret)
		r.signKey = sk
	}
}

func New(accounts core.AccountStore, inbox core.MessageStore, cipher core.Cipher, transport core.Transport, logger *slog.Logger, opts ...Option) *Router {
	r := &Router{
		accounts:  accounts,
		inbox:     inbox,
		cipher:    cipher,
		transport: transport,
		logger:    logger.With("service", "router"),
		hrp:       looncall.HRP,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ingest runs every envelope through decode, match, decrypt and verify
// and returns the surviving entries in arrival order. Dropped
// envelopes leave a log line and nothing else; an error return means
// the registry itself failed, not that input was garbage.
func (r *Router) Ingest(ctx context.Context, envs []*core.Envelope) ([]*core.InboxEntry, error) {
	var entries []*core.InboxEntry
	for _, env := range envs {
		entry, err := r.ingestOne(ctx, env)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (r *Router) ingestOne(ctx context.Context, env *core.Envelope) (*core.InboxEntry, error) {
	call, err := looncall.Decode(r.hrp, env.Body)
	if err != nil {
		r.logger.Debug("drop: not a call", "id", env.ID, "reason", err)
		return nil, nil
	}

	var quorum [fingerprint.Size]byte
	copy(quorum[:], call.Fingerprint[:fingerprint.Size])
	account, err := r.accounts.LookupFingerprint(ctx, quorum)
	if err != nil {
		if store.IsErrNotFound(err) {
			r.logger.Debug("drop: unknown quorum", "id", env.ID, "fingerprint", hex.EncodeToString(quorum[:]))
			return nil, nil
		}
		return nil, err
	}

	quorumIndex := int(call.Fingerprint[fingerprint.Size])
	if _, err := r.accounts.FindParticipant(ctx, account.ID, quorumIndex); err != nil {
		if store.IsErrNotFound(err) {
			r.logger.Debug("drop: unknown participant", "id", env.ID, "account", account.ID, "index", quorumIndex)
			return nil, nil
		}
		return nil, err
	}

	plaintext, err := r.cipher.Decrypt(env.Sender, call.Ciphertext)
	if err != nil {
		r.logger.Debug("drop: undecryptable", "id", env.ID, "account", account.ID)
		return nil, nil
	}

	verify := core.Unverifiable
	if env.Sig != "" {
		if !r.verify(env) {
			r.logger.Debug("drop: bad signature", "id", env.ID, "sender", env.Sender)
			return nil, nil
		}
		verify = core.Verified
	}

	entry := &core.InboxEntry{
		AccountID:   account.ID,
		QuorumIndex: quorumIndex,
		EventID:     env.ID,
		Sender:      env.Sender,
		SenderAlias: r.aliasFor(ctx, account.ID, env.Sender),
		Kind:        kindOf(string(plaintext)),
		Plaintext:   string(plaintext),
		Verify:      verify,
		CreatedAt:   env.CreatedAt,
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	return entry, nil
}

// verify checks the detached signature over the call bytes against the
// claimed sender key.
func (r *Router) verify(env *core.Envelope) bool {
	sigBytes, err := hex.DecodeString(env.Sig)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}

	pubBytes, err := hex.DecodeString(env.Sender)
	if err != nil {
		return false
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return false
	}

	digest := sha256.Sum256(env.Body)
	return sig.Verify(digest[:], pub)
}

// aliasFor maps the sender pubkey back to a participant alias, best
// effort.
func (r *Router) aliasFor(ctx context.Context, accountID int64, senderPub string) string {
	participants, err := r.accounts.Participants(ctx, accountID)
	if err != nil {
		return ""
	}

	for _, p := range participants {
		prefix, value, err := nip19.Decode(p.NPub)
		if err != nil || prefix != "npub" {
			continue
		}
		if value.(string) == senderPub {
			return p.Alias
		}
	}
	return ""
}

func kindOf(plaintext string) core.EntryKind {
	switch plaintext {
	case nackPayload:
		return core.EntryNack
	case ackPayload:
		return core.EntryAck
	default:
		return core.EntryNote
	}
}

// Keep persists entries the caller decided to retain. Discarding is
// simply not calling Keep.
func (r *Router) Keep(ctx context.Context, entries []*core.InboxEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.inbox.Save(ctx, entries)
}

// Post builds an outbound call for one participant: encrypt for the
// recipient, encode, optionally sign. It does not publish; Send does.
func (r *Router) Post(ctx context.Context, accountID int64, quorumIndex int, kind core.EntryKind, plaintext string, sign bool) (*core.Envelope, error) {
	account, err := r.accounts.Find(ctx, accountID)
	if err != nil {
		return nil, err
	}
	participant, err := r.accounts.FindParticipant(ctx, accountID, quorumIndex)
	if err != nil {
		return nil, err
	}

	prefix, value, err := nip19.Decode(participant.NPub)
	if err != nil || prefix != "npub" {
		return nil, fmt.Errorf("participant %d: bad npub %q", quorumIndex, participant.NPub)
	}
	recipientPub := value.(string)

	switch kind {
	case core.EntryAck:
		plaintext = ackPayload
	case core.EntryNack:
		plaintext = nackPayload
	}

	ct, err := r.cipher.Encrypt(recipientPub, []byte(plaintext))
	if err != nil {
		return nil, err
	}

	pb, err := fingerprint.ParticipantByte(quorumIndex)
	if err != nil {
		return nil, err
	}
	fp5 := fingerprint.Recipient(account.Fingerprint, pb)

	body, err := looncall.Encode(r.hrp, fp5[:], ct)
	if err != nil {
		return nil, err
	}

	env := &core.Envelope{Body: body, CreatedAt: time.Now()}
	if sign {
		if r.signKey == nil {
			return nil, fmt.Errorf("signing requested but no sign key configured")
		}
		digest := sha256.Sum256(body)
		sig, err := schnorr.Sign(r.signKey, digest[:])
		if err != nil {
			return nil, err
		}
		env.Sig = hex.EncodeToString(sig.Serialize())
		env.Sender = hex.EncodeToString(schnorr.SerializePubKey(r.signKey.PubKey()))
	}

	return env, nil
}

// Send posts and publishes in one step.
func (r *Router) Send(ctx context.Context, accountID int64, quorumIndex int, kind core.EntryKind, plaintext string, sign bool) (*core.Envelope, error) {
	env, err := r.Post(ctx, accountID, quorumIndex, kind, plaintext, sign)
	if err != nil {
		return nil, err
	}

	if err := r.transport.Publish(ctx, env); err != nil {
		return nil, err
	}

	r.logger.Info("sent", "account", accountID, "to", quorumIndex, "kind", kind, "signed", sign)
	return env, nil
}
