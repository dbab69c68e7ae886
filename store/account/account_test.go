package account

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looncoop/loon/core"
	"github.com/looncoop/loon/store"
	"github.com/looncoop/loon/store/db"
)

const (
	testXPubA = "tpubDCmcN1ucMUfxxabEnLKHzUbjaxg8P4YR4V7mMsfhnsdRJquRyDTudrBmzZhrpV4Z4PH3MjKKFtBk6WkJbEWqL9Vc8E8v1tqFxtFXRY8zEjG"
	testXPubB = "tpubDCUB1aBPqtRaVXRpV6WT8RBKn6ZJhua9Uat8vvqfz2gD2zjSaGAasvKMsvcXHhCxrtv9T826vDpYRRhkU8DCRBxMd9Se3dzbScvcguWjcqF"
)

func testStore(t *testing.T) core.AccountStore {
	t.Helper()

	conn, err := db.Open(filepath.Join(t.TempDir(), "loon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.Migrate(conn))

	return New(conn)
}

func testNPub(t *testing.T) string {
	t.Helper()

	pk, err := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	npub, err := nip19.EncodePublicKey(pk)
	require.NoError(t, err)
	return npub
}

func testDesc() string {
	return "wsh(multi(2," + testXPubA + "/<0;1>/*," + testXPubB + "/<0;1>/*))"
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	accounts := testStore(t)

	account, err := accounts.Import(ctx, "ours", testDesc())
	require.NoError(t, err)
	assert.NotZero(t, account.ID)
	assert.Equal(t, "ours", account.Nick)
	assert.NotZero(t, account.Fingerprint)

	// Same canonical bytes, different surface form.
	_, err = accounts.Import(ctx, "again", "wsh(multi(2, "+testXPubA+"/<0;1>/*, "+testXPubB+"/<0;1>/*))")
	assert.ErrorIs(t, err, core.ErrDuplicateDescriptor)

	// Invalid descriptors never reach the table.
	_, err = accounts.Import(ctx, "bad", "tr("+testXPubA+"/0/*)")
	require.Error(t, err)
	list, err := accounts.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestFindAndLookup(t *testing.T) {
	ctx := context.Background()
	accounts := testStore(t)

	imported, err := accounts.Import(ctx, "ours", testDesc())
	require.NoError(t, err)

	found, err := accounts.Find(ctx, imported.ID)
	require.NoError(t, err)
	assert.Equal(t, imported, found)

	_, err = accounts.Find(ctx, imported.ID+100)
	assert.True(t, store.IsErrNotFound(err))

	byFp, err := accounts.LookupFingerprint(ctx, imported.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, imported.ID, byFp.ID)

	_, err = accounts.LookupFingerprint(ctx, [4]byte{9, 9, 9, 9})
	assert.True(t, store.IsErrNotFound(err))
}

func TestSetNick(t *testing.T) {
	ctx := context.Background()
	accounts := testStore(t)

	imported, err := accounts.Import(ctx, "ours", testDesc())
	require.NoError(t, err)

	require.NoError(t, accounts.SetNick(ctx, imported.ID, "treasury"))
	found, err := accounts.Find(ctx, imported.ID)
	require.NoError(t, err)
	assert.Equal(t, "treasury", found.Nick)

	err = accounts.SetNick(ctx, imported.ID+100, "nope")
	assert.True(t, store.IsErrNotFound(err))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	accounts := testStore(t)

	imported, err := accounts.Import(ctx, "ours", testDesc())
	require.NoError(t, err)
	require.NoError(t, accounts.AddParticipant(ctx, &core.Participant{
		AccountID:   imported.ID,
		QuorumIndex: 0,
		NPub:        testNPub(t),
	}))

	require.NoError(t, accounts.Delete(ctx, imported.ID))

	_, err = accounts.Find(ctx, imported.ID)
	assert.True(t, store.IsErrNotFound(err))
	_, err = accounts.LookupFingerprint(ctx, imported.Fingerprint)
	assert.True(t, store.IsErrNotFound(err))

	participants, err := accounts.Participants(ctx, imported.ID)
	require.NoError(t, err)
	assert.Empty(t, participants)
}

func TestParticipants(t *testing.T) {
	ctx := context.Background()
	accounts := testStore(t)

	imported, err := accounts.Import(ctx, "ours", testDesc())
	require.NoError(t, err)

	alice, bob := testNPub(t), testNPub(t)
	require.NoError(t, accounts.AddParticipant(ctx, &core.Participant{
		AccountID: imported.ID, QuorumIndex: 0, NPub: alice, Alias: "alice",
	}))
	require.NoError(t, accounts.AddParticipant(ctx, &core.Participant{
		AccountID: imported.ID, QuorumIndex: 1, NPub: bob,
	}))

	// Taken index, any npub.
	err = accounts.AddParticipant(ctx, &core.Participant{
		AccountID: imported.ID, QuorumIndex: 1, NPub: testNPub(t),
	})
	assert.ErrorIs(t, err, core.ErrIndexConflict)

	// Out-of-range index and malformed npub are rejected up front.
	err = accounts.AddParticipant(ctx, &core.Participant{
		AccountID: imported.ID, QuorumIndex: 256, NPub: testNPub(t),
	})
	require.Error(t, err)
	err = accounts.AddParticipant(ctx, &core.Participant{
		AccountID: imported.ID, QuorumIndex: 2, NPub: "nsec1notapubkey",
	})
	require.Error(t, err)

	participants, err := accounts.Participants(ctx, imported.ID)
	require.NoError(t, err)
	require.Len(t, participants, 2)
	assert.Equal(t, "alice", participants[0].Alias)
	assert.Equal(t, bob, participants[1].NPub)

	p, err := accounts.FindParticipant(ctx, imported.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, bob, p.NPub)

	_, err = accounts.FindParticipant(ctx, imported.ID, 7)
	assert.True(t, store.IsErrNotFound(err))
}
