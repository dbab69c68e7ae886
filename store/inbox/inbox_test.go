package inbox

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looncoop/loon/core"
	"github.com/looncoop/loon/store/db"
)

func testStore(t *testing.T) core.MessageStore {
	t.Helper()

	conn, err := db.Open(filepath.Join(t.TempDir(), "loon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.Migrate(conn))

	// Entries reference accounts and the schema enforces the key.
	_, err = conn.Exec(`INSERT INTO account (id, nick, descriptor) VALUES (1, 'one', x'00'), (2, 'two', x'01')`)
	require.NoError(t, err)

	return New(conn)
}

func entry(accountID int64, quorumIndex int, sender, text string, at time.Time) *core.InboxEntry {
	return &core.InboxEntry{
		AccountID:   accountID,
		QuorumIndex: quorumIndex,
		Sender:      sender,
		Kind:        core.EntryNote,
		Plaintext:   text,
		Verify:      core.Unverifiable,
		CreatedAt:   at,
	}
}

func TestSaveAndList(t *testing.T) {
	ctx := context.Background()
	inbox := testStore(t)

	now := time.Now().Truncate(time.Second)
	entries := []*core.InboxEntry{
		entry(1, 0, "aa", "first", now),
		entry(1, 1, "bb", "second", now.Add(time.Second)),
		entry(2, 0, "aa", "other account", now),
	}
	require.NoError(t, inbox.Save(ctx, entries))
	for _, e := range entries {
		assert.NotZero(t, e.ID)
	}

	got, err := inbox.ListAccount(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Plaintext)
	assert.Equal(t, "second", got[1].Plaintext)

	bySender, err := inbox.ListSender(ctx, 1, "aa", 10)
	require.NoError(t, err)
	require.Len(t, bySender, 1)
	assert.Equal(t, "first", bySender[0].Plaintext)

	limited, err := inbox.ListAccount(ctx, 1, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSaveSkipsReplayedEvents(t *testing.T) {
	ctx := context.Background()
	inbox := testStore(t)

	now := time.Now().Truncate(time.Second)
	first := entry(1, 0, "aa", "hello", now)
	first.EventID = "ev1"
	require.NoError(t, inbox.Save(ctx, []*core.InboxEntry{first}))
	assert.NotZero(t, first.ID)

	// The same feed event fetched again, e.g. after a restart lost the
	// in-memory dedupe, lands exactly once.
	replay := entry(1, 0, "aa", "hello", now)
	replay.EventID = "ev1"
	require.NoError(t, inbox.Save(ctx, []*core.InboxEntry{replay}))
	assert.Zero(t, replay.ID)

	got, err := inbox.ListAccount(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	// Entries without an event id never collide with each other.
	require.NoError(t, inbox.Save(ctx, []*core.InboxEntry{
		entry(1, 0, "aa", "one", now),
		entry(1, 1, "bb", "two", now),
	}))
	got, err = inbox.ListAccount(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestDeleteBefore(t *testing.T) {
	ctx := context.Background()
	inbox := testStore(t)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, inbox.Save(ctx, []*core.InboxEntry{
		entry(1, 0, "aa", "old", now.Add(-48*time.Hour)),
		entry(1, 0, "aa", "fresh", now),
	}))

	n, err := inbox.DeleteBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := inbox.ListAccount(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fresh", got[0].Plaintext)
}
