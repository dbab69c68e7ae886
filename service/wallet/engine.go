// Package wallet is the coordination engine: it derives addresses from
// account descriptors, syncs unspent outputs from the chain source,
// and drafts unsigned spend proposals for external signers. It holds
// no key material.
package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/looncoop/loon/core"
	"github.com/looncoop/loon/descriptor"
)

const (
	// DefaultGapLimit is how many consecutive unfunded derivation slots
	// end the scan of a keychain.
	DefaultGapLimit = 20

	descriptorCacheSize = 64
)

type Config struct {
	GapLimit uint32 `json:"gap_limit"`
	// StaleAfter marks a synced account stale once its snapshot is
	// older than this. Zero disables staleness.
	StaleAfter time.Duration `json:"stale_after"`
}

type Engine struct {
	accounts core.AccountStore
	chain    core.ChainSource
	params   *chaincfg.Params
	logger   *slog.Logger

	gapLimit   uint32
	staleAfter time.Duration

	descs *lru.Cache[int64, *descriptor.Descriptor]

	mu     sync.Mutex
	states map[int64]*accountState
}

// accountState owns one account's sync lifecycle. syncMu admits a
// single in-flight sync; stateMu guards the published snapshot.
type accountState struct {
	syncMu sync.Mutex

	stateMu sync.RWMutex
	state   *core.WalletState
	syncing bool
	stale   bool
}

func New(accounts core.AccountStore, chain core.ChainSource, params *chaincfg.Params, cfg Config, logger *slog.Logger) *Engine {
	if cfg.GapLimit == 0 {
		cfg.GapLimit = DefaultGapLimit
	}

	descs, _ := lru.New[int64, *descriptor.Descriptor](descriptorCacheSize)

	return &Engine{
		accounts:   accounts,
		chain:      chain,
		params:     params,
		logger:     logger.With("service", "wallet"),
		gapLimit:   cfg.GapLimit,
		staleAfter: cfg.StaleAfter,
		descs:      descs,
	}
}

func (e *Engine) accountState(id int64) *accountState {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.states == nil {
		e.states = make(map[int64]*accountState)
	}
	st, ok := e.states[id]
	if !ok {
		st = &accountState{}
		e.states[id] = st
	}
	return st
}

// Descriptor returns the parsed descriptor for an account, cached
// across calls; descriptors are immutable after import.
func (e *Engine) Descriptor(ctx context.Context, accountID int64) (*descriptor.Descriptor, error) {
	if d, ok := e.descs.Get(accountID); ok {
		return d, nil
	}

	account, err := e.accounts.Find(ctx, accountID)
	if err != nil {
		return nil, err
	}

	d, err := descriptor.Parse(account.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("account %d: %w", accountID, err)
	}

	e.descs.Add(accountID, d)
	return d, nil
}

// SyncStatus reports the account's sync lifecycle state.
func (e *Engine) SyncStatus(accountID int64) core.SyncState {
	st := e.accountState(accountID)

	st.stateMu.RLock()
	defer st.stateMu.RUnlock()

	switch {
	case st.syncing:
		return core.Syncing
	case st.state == nil:
		return core.SyncUnsynced
	case st.stale:
		return core.Stale
	case e.staleAfter > 0 && time.Since(st.state.SyncedAt) > e.staleAfter:
		return core.Stale
	}
	return core.Synced
}

// Invalidate marks the account's snapshot stale without discarding it.
// Reads keep serving the old state until the next successful sync.
func (e *Engine) Invalidate(accountID int64) {
	st := e.accountState(accountID)

	st.stateMu.Lock()
	st.stale = true
	st.stateMu.Unlock()
}

// State returns the last committed snapshot.
func (e *Engine) State(accountID int64) (*core.WalletState, error) {
	st := e.accountState(accountID)

	st.stateMu.RLock()
	defer st.stateMu.RUnlock()

	if st.state == nil {
		return nil, fmt.Errorf("account %d: %w", accountID, core.ErrNotSynced)
	}
	return st.state, nil
}

// Sync rebuilds the account's wallet state from the chain source. One
// sync per account at a time; a second concurrent call fails fast with
// ErrSyncInProgress rather than queueing behind a network round trip.
// The snapshot swaps in wholesale only after every scan succeeded.
func (e *Engine) Sync(ctx context.Context, accountID int64) (*core.WalletState, error) {
	desc, err := e.Descriptor(ctx, accountID)
	if err != nil {
		return nil, err
	}

	st := e.accountState(accountID)
	if !st.syncMu.TryLock() {
		return nil, fmt.Errorf("account %d: %w", accountID, core.ErrSyncInProgress)
	}
	defer st.syncMu.Unlock()

	st.stateMu.Lock()
	st.syncing = true
	st.stateMu.Unlock()
	defer func() {
		st.stateMu.Lock()
		st.syncing = false
		st.stateMu.Unlock()
	}()

	tipHash, tipHeight, err := e.chain.BestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("account %d: sync: %w", accountID, err)
	}

	next := &core.WalletState{
		TipHeight: tipHeight,
		TipHash:   tipHash,
		LastUsed:  make(map[core.Keychain]uint32),
		SyncedAt:  time.Now(),
	}

	keychains := []core.Keychain{core.KeychainExternal}
	if desc.HasInternal() {
		keychains = append(keychains, core.KeychainInternal)
	}

	for _, kc := range keychains {
		utxos, lastUsed, err := e.scanKeychain(ctx, desc, kc)
		if err != nil {
			return nil, fmt.Errorf("account %d: sync %s: %w", accountID, kc, err)
		}

		next.UTXOs = append(next.UTXOs, utxos...)
		if lastUsed >= 0 {
			next.LastUsed[kc] = uint32(lastUsed)
		}
	}

	st.stateMu.Lock()
	st.state = next
	st.stale = false
	st.stateMu.Unlock()

	e.logger.Info("synced",
		"account", accountID,
		"height", tipHeight,
		"utxos", len(next.UTXOs),
	)

	return next, nil
}

// scanKeychain walks derivation slots in gap-sized windows. Any hit
// inside a window extends the scan by another full window, so sparse
// funded slots keep pushing the frontier; the scan ends only once an
// entire window past the last funded slot stays empty. lastUsed is -1
// when no slot was funded.
func (e *Engine) scanKeychain(ctx context.Context, desc *descriptor.Descriptor, kc core.Keychain) ([]core.UTXO, int64, error) {
	var (
		utxos    []core.UTXO
		lastUsed int64 = -1
		from     uint32
	)

	for {
		to := from + e.gapLimit

		scripts := make([][]byte, 0, to-from)
		slots := make([]uint32, 0, to-from)
		for index := from; index < to; index++ {
			dv, err := desc.DeriveAt(kc, index, e.params)
			if err != nil {
				return nil, 0, err
			}
			scripts = append(scripts, dv.PkScript)
			slots = append(slots, index)
		}

		found, err := e.chain.ScanUnspent(ctx, scripts)
		if err != nil {
			return nil, 0, err
		}

		for _, f := range found {
			index := slots[f.ScriptIndex]
			utxos = append(utxos, core.UTXO{
				OutPoint: f.OutPoint,
				Value:    f.Value,
				PkScript: scripts[f.ScriptIndex],
				Keychain: kc,
				Index:    index,
				Height:   f.Height,
			})
			if int64(index) > lastUsed {
				lastUsed = int64(index)
			}
		}

		if len(found) == 0 {
			break
		}
		from = to
	}

	return utxos, lastUsed, nil
}

// Balance splits the synced total by confirmation at the snapshot tip.
func (e *Engine) Balance(accountID int64) (core.Balance, error) {
	state, err := e.State(accountID)
	if err != nil {
		return core.Balance{}, err
	}

	var balance core.Balance
	for _, u := range state.UTXOs {
		if u.Spent {
			continue
		}
		if u.Confirmations(state.TipHeight) > 0 {
			balance.Confirmed += u.Value
		} else {
			balance.Unconfirmed += u.Value
		}
	}

	return balance, nil
}

// Address derives the address at an explicit slot.
func (e *Engine) Address(ctx context.Context, accountID int64, kc core.Keychain, index uint32) (btcutil.Address, error) {
	desc, err := e.Descriptor(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return desc.AddressAt(kc, index, e.params)
}

// NextAddress derives the first unfunded external address per the last
// sync. It requires a sync so the slot reflects chain reality.
func (e *Engine) NextAddress(ctx context.Context, accountID int64) (btcutil.Address, error) {
	state, err := e.State(accountID)
	if err != nil {
		return nil, err
	}

	index := uint32(0)
	if last, ok := state.LastUsed[core.KeychainExternal]; ok {
		index = last + 1
	}
	return e.Address(ctx, accountID, core.KeychainExternal, index)
}

// spendable returns unspent confirmed outputs sorted largest first,
// outpoint order breaking ties so selection is deterministic.
func spendable(state *core.WalletState) []core.UTXO {
	utxos := make([]core.UTXO, 0, len(state.UTXOs))
	for _, u := range state.UTXOs {
		if !u.Spent {
			utxos = append(utxos, u)
		}
	}

	sort.Slice(utxos, func(i, j int) bool {
		if utxos[i].Value != utxos[j].Value {
			return utxos[i].Value > utxos[j].Value
		}
		c := utxos[i].OutPoint.Hash.String()
		d := utxos[j].OutPoint.Hash.String()
		if c != d {
			return c < d
		}
		return utxos[i].OutPoint.Index < utxos[j].OutPoint.Index
	})

	return utxos
}

// parseRecipients resolves addresses to output scripts on the engine's
// network.
func (e *Engine) parseRecipients(recipients []core.Recipient) ([]txOut, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients")
	}

	outs := make([]txOut, 0, len(recipients))
	for _, r := range recipients {
		addr, err := btcutil.DecodeAddress(r.Address, e.params)
		if err != nil {
			return nil, fmt.Errorf("recipient %q: %w", r.Address, err)
		}
		if !addr.IsForNet(e.params) {
			return nil, fmt.Errorf("recipient %q: wrong network", r.Address)
		}
		script, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, fmt.Errorf("recipient %q: %w", r.Address, err)
		}

		outs = append(outs, txOut{script: script, value: r.Amount})
	}

	return outs, nil
}

type txOut struct {
	script []byte
	value  btcutil.Amount
}
