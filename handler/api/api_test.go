package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looncoop/loon/core"
	"github.com/looncoop/loon/service/cipher"
	"github.com/looncoop/loon/service/router"
	"github.com/looncoop/loon/service/wallet"
	"github.com/looncoop/loon/store/account"
	"github.com/looncoop/loon/store/db"
	"github.com/looncoop/loon/store/inbox"
)

const (
	testXPubA = "tpubDCmcN1ucMUfxxabEnLKHzUbjaxg8P4YR4V7mMsfhnsdRJquRyDTudrBmzZhrpV4Z4PH3MjKKFtBk6WkJbEWqL9Vc8E8v1tqFxtFXRY8zEjG"
	testXPubB = "tpubDCUB1aBPqtRaVXRpV6WT8RBKn6ZJhua9Uat8vvqfz2gD2zjSaGAasvKMsvcXHhCxrtv9T826vDpYRRhkU8DCRBxMd9Se3dzbScvcguWjcqF"
)

type emptyChain struct{}

func (emptyChain) BestBlock(context.Context) (chainhash.Hash, int32, error) {
	return chainhash.Hash{}, 100, nil
}

func (emptyChain) ScanUnspent(context.Context, [][]byte) ([]core.ScriptUTXO, error) {
	return nil, nil
}

func (emptyChain) Broadcast(_ context.Context, tx *wire.MsgTx) (chainhash.Hash, error) {
	return tx.TxHash(), nil
}

type fakeTransport struct {
	published []*core.Envelope
}

func (f *fakeTransport) Fetch(context.Context, []string, time.Time) ([]*core.Envelope, error) {
	return nil, nil
}

func (f *fakeTransport) Publish(_ context.Context, env *core.Envelope) error {
	env.ID = "event-1"
	f.published = append(f.published, env)
	return nil
}

func testServer(t *testing.T) (*Server, *fakeTransport) {
	t.Helper()

	conn, err := db.Open(filepath.Join(t.TempDir(), "loon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.Migrate(conn))

	accounts := account.New(conn)
	messages := inbox.New(conn)

	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	engine := wallet.New(accounts, emptyChain{}, &chaincfg.TestNet3Params, wallet.Config{}, logger)

	c, err := cipher.NewNIP04(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	transport := &fakeTransport{}
	routerz := router.New(accounts, messages, c, transport, logger)

	return New(accounts, messages, engine, routerz), transport
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func testNPub(t *testing.T) string {
	t.Helper()

	pk, err := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	npub, err := nip19.EncodePublicKey(pk)
	require.NoError(t, err)
	return npub
}

func TestAccountLifecycle(t *testing.T) {
	server, _ := testServer(t)
	h := server.Handler()

	desc := "wsh(multi(2," + testXPubA + "/<0;1>/*," + testXPubB + "/<0;1>/*))"

	rec := doJSON(t, h, http.MethodPost, "/accounts", map[string]any{
		"nick": "ours", "descriptor": desc,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created accountView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "ours", created.Nick)
	assert.Len(t, created.Fingerprint, 8)
	assert.Equal(t, "unsynced", created.SyncStatus)

	// Duplicate import conflicts.
	rec = doJSON(t, h, http.MethodPost, "/accounts", map[string]any{
		"nick": "again", "descriptor": desc,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/accounts/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []accountView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = doJSON(t, h, http.MethodPost, "/accounts/1/participants", map[string]any{
		"quorum_index": 1, "npub": testNPub(t), "alias": "skipper",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Same index again conflicts.
	rec = doJSON(t, h, http.MethodPost, "/accounts/1/participants", map[string]any{
		"quorum_index": 1, "npub": testNPub(t),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/accounts/99/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWalletEndpoints(t *testing.T) {
	server, _ := testServer(t)
	h := server.Handler()

	desc := "wsh(multi(2," + testXPubA + "/<0;1>/*," + testXPubB + "/<0;1>/*))"
	rec := doJSON(t, h, http.MethodPost, "/accounts", map[string]any{
		"nick": "ours", "descriptor": desc,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Balance before any sync conflicts.
	rec = doJSON(t, h, http.MethodGet, "/accounts/1/balance", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/accounts/1/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/accounts/1/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var balance core.Balance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	assert.Zero(t, balance.Total())

	rec = doJSON(t, h, http.MethodGet, "/accounts/1/address", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var addr map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &addr))
	assert.NotEmpty(t, addr["address"])
}

func TestSendCall(t *testing.T) {
	server, transport := testServer(t)
	h := server.Handler()

	desc := "wsh(multi(2," + testXPubA + "/<0;1>/*," + testXPubB + "/<0;1>/*))"
	rec := doJSON(t, h, http.MethodPost, "/accounts", map[string]any{
		"nick": "ours", "descriptor": desc,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/accounts/1/participants", map[string]any{
		"quorum_index": 0, "npub": testNPub(t),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/accounts/1/calls", map[string]any{
		"to": 0, "kind": "note", "text": "meet at noon",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, transport.published, 1)
	assert.Equal(t, []byte("loon1"), transport.published[0].Body[:5])

	rec = doJSON(t, h, http.MethodPost, "/accounts/1/calls", map[string]any{
		"to": 0, "kind": "sideways",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown participant index.
	rec = doJSON(t, h, http.MethodPost, "/accounts/1/calls", map[string]any{
		"to": 5, "kind": "ack",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/accounts/1/inbox", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
