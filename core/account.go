package core

import (
	"context"
	"errors"
)

var (
	// ErrDuplicateDescriptor is returned when importing a descriptor
	// whose canonical bytes already belong to another account.
	ErrDuplicateDescriptor = errors.New("descriptor already imported")

	// ErrIndexConflict is returned when adding a participant with a
	// quorum index that is already taken within the account.
	ErrIndexConflict = errors.New("quorum index already taken")

	// ErrNotFound is returned when no account matches the query.
	ErrNotFound = errors.New("account not found")
)

// Account is a watch-only quorum wallet. The descriptor is the sole
// source of truth for address derivation and spending policy; once
// imported only the nickname may change.
type Account struct {
	ID          int64   `json:"id"`
	Nick        string  `json:"nick"`
	Descriptor  string  `json:"descriptor"`
	Fingerprint [4]byte `json:"fingerprint"`
}

// Participant is one member of an account's quorum, identified by
// (AccountID, QuorumIndex). It has no lifecycle of its own and is
// removed with its account.
type Participant struct {
	AccountID   int64  `json:"account_id"`
	QuorumIndex int    `json:"quorum_index"`
	NPub        string `json:"npub"`
	Alias       string `json:"alias,omitempty"`
}

// AccountStore is the account registry: watch-only accounts plus
// quorum membership, backed by the account and friend tables.
type AccountStore interface {
	Import(ctx context.Context, nick, descriptor string) (*Account, error)
	Find(ctx context.Context, id int64) (*Account, error)
	List(ctx context.Context) ([]*Account, error)
	LookupFingerprint(ctx context.Context, fp [4]byte) (*Account, error)
	SetNick(ctx context.Context, id int64, nick string) error
	Delete(ctx context.Context, id int64) error

	AddParticipant(ctx context.Context, p *Participant) error
	Participants(ctx context.Context, accountID int64) ([]*Participant, error)
	FindParticipant(ctx context.Context, accountID int64, quorumIndex int) (*Participant, error)
}
