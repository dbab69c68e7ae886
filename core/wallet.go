package core

import (
	"context"
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrNotSynced is returned when reading wallet state before any
	// successful sync.
	ErrNotSynced = errors.New("account not synced")

	// ErrSyncInProgress is returned when a sync is requested for an
	// account that already has one in flight.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrInsufficientFunds is returned when the spendable outputs
	// cannot cover the requested amount plus fee.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrChainUnavailable wraps connection-level chain source
	// failures. Retryable by the caller; the engine never retries.
	ErrChainUnavailable = errors.New("chain source unavailable")

	// ErrChainTimeout wraps a chain source round trip exceeding the
	// caller-supplied deadline. Retryable by the caller.
	ErrChainTimeout = errors.New("chain source timeout")
)

// SyncState tracks the per-account sync lifecycle.
type SyncState uint8

const (
	SyncUnsynced SyncState = iota
	Syncing
	Synced
	Stale
)

func (s SyncState) String() string {
	switch s {
	case Syncing:
		return "syncing"
	case Synced:
		return "synced"
	case Stale:
		return "stale"
	default:
		return "unsynced"
	}
}

// Keychain selects the external (receive) or internal (change) branch
// of a multipath descriptor.
type Keychain uint8

const (
	KeychainExternal Keychain = 0
	KeychainInternal Keychain = 1
)

func (k Keychain) String() string {
	if k == KeychainInternal {
		return "internal"
	}
	return "external"
}

// UTXO is one unspent output controlled by an account's descriptor.
type UTXO struct {
	OutPoint wire.OutPoint  `json:"outpoint"`
	Value    btcutil.Amount `json:"value"`
	PkScript []byte         `json:"pk_script"`
	Keychain Keychain       `json:"keychain"`
	Index    uint32         `json:"index"`
	Height   int32          `json:"height"` // 0 while unconfirmed
	Spent    bool           `json:"spent"`
}

// Confirmations at the given tip; zero while in the mempool.
func (u UTXO) Confirmations(tip int32) int32 {
	if u.Height <= 0 || u.Height > tip {
		return 0
	}
	return tip - u.Height + 1
}

// WalletState is the derived view of one account at a chain snapshot.
// It is a cache recomputed from (descriptor, chain data): never the
// source of truth, safely discarded, replaced wholesale by each sync.
type WalletState struct {
	TipHeight int32
	TipHash   chainhash.Hash
	UTXOs     []UTXO
	LastUsed  map[Keychain]uint32 // highest derivation index seen in use
	SyncedAt  time.Time
}

// Balance splits the account total by confirmation.
type Balance struct {
	Confirmed   btcutil.Amount `json:"confirmed"`
	Unconfirmed btcutil.Amount `json:"unconfirmed"`
}

// Total is the sum of both buckets.
func (b Balance) Total() btcutil.Amount {
	return b.Confirmed + b.Unconfirmed
}

// ScriptUTXO reports one unspent output found for a watched script.
type ScriptUTXO struct {
	ScriptIndex int // position in the request's script list
	OutPoint    wire.OutPoint
	Value       btcutil.Amount
	Height      int32
}

// ChainSource is the external chain-data collaborator. Every call is
// one network round trip bounded by the context deadline.
type ChainSource interface {
	BestBlock(ctx context.Context) (chainhash.Hash, int32, error)
	// ScanUnspent reports unspent outputs paying to any of the given
	// scripts, identified by script position.
	ScanUnspent(ctx context.Context, scripts [][]byte) ([]ScriptUTXO, error)
	// Broadcast submits a final signed transaction once. No retries.
	Broadcast(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error)
}
