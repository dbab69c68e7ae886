package wallet

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looncoop/loon/core"
	"github.com/looncoop/loon/descriptor"
)

const (
	testXPubA = "tpubDCmcN1ucMUfxxabEnLKHzUbjaxg8P4YR4V7mMsfhnsdRJquRyDTudrBmzZhrpV4Z4PH3MjKKFtBk6WkJbEWqL9Vc8E8v1tqFxtFXRY8zEjG"
	testXPubB = "tpubDCUB1aBPqtRaVXRpV6WT8RBKn6ZJhua9Uat8vvqfz2gD2zjSaGAasvKMsvcXHhCxrtv9T826vDpYRRhkU8DCRBxMd9Se3dzbScvcguWjcqF"
)

func testMultiDesc() string {
	return "wsh(multi(2,[7d94197e/84h/1h/0h]" + testXPubA + "/<0;1>/*,[9aa5b7ee/84h/1h/0h]" + testXPubB + "/<0;1>/*))"
}

// fakeAccounts serves a single account from memory.
type fakeAccounts struct {
	account *core.Account
}

func (f *fakeAccounts) Import(context.Context, string, string) (*core.Account, error) {
	panic("not used")
}

func (f *fakeAccounts) Find(_ context.Context, id int64) (*core.Account, error) {
	if f.account == nil || f.account.ID != id {
		return nil, core.ErrNotFound
	}
	return f.account, nil
}

func (f *fakeAccounts) List(context.Context) ([]*core.Account, error) {
	return []*core.Account{f.account}, nil
}

func (f *fakeAccounts) LookupFingerprint(context.Context, [4]byte) (*core.Account, error) {
	return nil, core.ErrNotFound
}

func (f *fakeAccounts) SetNick(context.Context, int64, string) error { return nil }
func (f *fakeAccounts) Delete(context.Context, int64) error          { return nil }
func (f *fakeAccounts) AddParticipant(context.Context, *core.Participant) error {
	return nil
}
func (f *fakeAccounts) Participants(context.Context, int64) ([]*core.Participant, error) {
	return nil, nil
}
func (f *fakeAccounts) FindParticipant(context.Context, int64, int) (*core.Participant, error) {
	return nil, core.ErrNotFound
}

// fakeChain serves canned unspents keyed by pkScript hex. An optional
// gate blocks scans so tests can hold a sync in flight.
type fakeChain struct {
	mu       sync.Mutex
	height   int32
	unspents map[string][]core.ScriptUTXO // keyed by script hex; outpoint+value+height used
	gate     chan struct{}
	entered  chan struct{}
	scans    int
}

func (f *fakeChain) BestBlock(context.Context) (chainhash.Hash, int32, error) {
	return chainhash.Hash{1}, f.height, nil
}

func (f *fakeChain) ScanUnspent(ctx context.Context, scripts [][]byte) ([]core.ScriptUTXO, error) {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.scans++
	var found []core.ScriptUTXO
	for i, script := range scripts {
		for _, u := range f.unspents[hex.EncodeToString(script)] {
			u.ScriptIndex = i
			found = append(found, u)
		}
	}
	return found, nil
}

func (f *fakeChain) Broadcast(_ context.Context, tx *wire.MsgTx) (chainhash.Hash, error) {
	return tx.TxHash(), nil
}

func scriptHexAt(t *testing.T, desc string, kc core.Keychain, index uint32) string {
	t.Helper()

	d, err := descriptor.Parse(desc)
	require.NoError(t, err)
	dv, err := d.DeriveAt(kc, index, &chaincfg.TestNet3Params)
	require.NoError(t, err)
	return hex.EncodeToString(dv.PkScript)
}

func outpoint(n byte, index uint32) wire.OutPoint {
	var hash chainhash.Hash
	hash[0] = n
	return wire.OutPoint{Hash: hash, Index: index}
}

func testEngine(t *testing.T, chain core.ChainSource) (*Engine, int64) {
	t.Helper()

	accounts := &fakeAccounts{account: &core.Account{
		ID:         7,
		Nick:       "ours",
		Descriptor: testMultiDesc(),
	}}
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	return New(accounts, chain, &chaincfg.TestNet3Params, Config{}, logger), 7
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestSync(t *testing.T) {
	chain := &fakeChain{
		height: 2500000,
		unspents: map[string][]core.ScriptUTXO{
			scriptHexAt(t, testMultiDesc(), core.KeychainExternal, 0): {
				{OutPoint: outpoint(1, 0), Value: 50_000, Height: 2499000},
			},
			// Funded slot past the first window forces frontier extension.
			scriptHexAt(t, testMultiDesc(), core.KeychainExternal, 25): {
				{OutPoint: outpoint(2, 1), Value: 30_000, Height: 2499500},
			},
		},
	}
	engine, accountID := testEngine(t, chain)

	_, err := engine.State(accountID)
	assert.ErrorIs(t, err, core.ErrNotSynced)
	assert.Equal(t, core.SyncUnsynced, engine.SyncStatus(accountID))

	state, err := engine.Sync(context.Background(), accountID)
	require.NoError(t, err)

	assert.Equal(t, int32(2500000), state.TipHeight)
	require.Len(t, state.UTXOs, 2)
	assert.Equal(t, uint32(25), state.LastUsed[core.KeychainExternal])
	assert.Equal(t, core.Synced, engine.SyncStatus(accountID))

	balance, err := engine.Balance(accountID)
	require.NoError(t, err)
	assert.Equal(t, btcutil.Amount(80_000), balance.Confirmed)
	assert.Zero(t, balance.Unconfirmed)

	// Next receive address sits just past the highest funded slot.
	addr, err := engine.NextAddress(context.Background(), accountID)
	require.NoError(t, err)
	want, err := engine.Address(context.Background(), accountID, core.KeychainExternal, 26)
	require.NoError(t, err)
	assert.Equal(t, want.EncodeAddress(), addr.EncodeAddress())
}

func TestSyncRejectsConcurrent(t *testing.T) {
	gate := make(chan struct{})
	chain := &fakeChain{height: 100, gate: gate, entered: make(chan struct{}, 1)}
	engine, accountID := testEngine(t, chain)

	done := make(chan error, 1)
	go func() {
		_, err := engine.Sync(context.Background(), accountID)
		done <- err
	}()

	// The first sync holds the account lock once it reaches the chain
	// round trip; a second call must fail fast, not queue.
	<-chain.entered
	assert.Equal(t, core.Syncing, engine.SyncStatus(accountID))
	_, err := engine.Sync(context.Background(), accountID)
	assert.ErrorIs(t, err, core.ErrSyncInProgress)

	close(gate)
	require.NoError(t, <-done)

	// With the first sync finished another one goes through.
	_, err = engine.Sync(context.Background(), accountID)
	require.NoError(t, err)
}

func TestInvalidate(t *testing.T) {
	chain := &fakeChain{height: 100}
	engine, accountID := testEngine(t, chain)

	_, err := engine.Sync(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, core.Synced, engine.SyncStatus(accountID))

	engine.Invalidate(accountID)
	assert.Equal(t, core.Stale, engine.SyncStatus(accountID))

	// Stale state still serves reads until replaced.
	_, err = engine.State(accountID)
	require.NoError(t, err)

	_, err = engine.Sync(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, core.Synced, engine.SyncStatus(accountID))
}

func TestSyncReplacesStateWholesale(t *testing.T) {
	script := scriptHexAt(t, testMultiDesc(), core.KeychainExternal, 0)
	chain := &fakeChain{
		height: 100,
		unspents: map[string][]core.ScriptUTXO{
			script: {{OutPoint: outpoint(1, 0), Value: 1_000, Height: 90}},
		},
	}
	engine, accountID := testEngine(t, chain)

	_, err := engine.Sync(context.Background(), accountID)
	require.NoError(t, err)

	// The chain moved on: old output gone, new one in its place.
	chain.mu.Lock()
	chain.height = 101
	chain.unspents[script] = []core.ScriptUTXO{
		{OutPoint: outpoint(9, 0), Value: 2_000, Height: 101},
	}
	chain.mu.Unlock()

	state, err := engine.Sync(context.Background(), accountID)
	require.NoError(t, err)
	require.Len(t, state.UTXOs, 1)
	assert.Equal(t, outpoint(9, 0), state.UTXOs[0].OutPoint)
}
