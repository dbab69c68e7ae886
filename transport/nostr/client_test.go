package nostr

import (
	"log/slog"
	"testing"
	"time"

	gonostr "github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t}, nil))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestNewValidatesConfig(t *testing.T) {
	sk := gonostr.GeneratePrivateKey()
	logger := testLogger(t)

	_, err := New(Config{}, sk, logger)
	assert.Error(t, err)

	c, err := New(Config{Relays: []string{"wss://relay.example.com"}}, sk, logger)
	require.NoError(t, err)
	assert.Equal(t, DefaultLookback, c.cfg.Lookback)
	assert.NotEmpty(t, c.PublicKey())

	_, err = New(Config{Relays: []string{"wss://relay.example.com"}}, "zz", logger)
	assert.Error(t, err)
}

func TestToEnvelope(t *testing.T) {
	sk := gonostr.GeneratePrivateKey()

	ev := gonostr.Event{
		CreatedAt: gonostr.Now(),
		Kind:      gonostr.KindTextNote,
		Content:   "loon1\xde\xad\xbe\xef\x01ciphertext",
		Tags:      gonostr.Tags{gonostr.Tag{"sig", "aabb"}},
	}
	require.NoError(t, ev.Sign(sk))

	env := toEnvelope(&ev)
	assert.Equal(t, ev.ID, env.ID)
	assert.Equal(t, ev.PubKey, env.Sender)
	assert.Equal(t, []byte(ev.Content), env.Body)
	assert.Equal(t, "aabb", env.Sig)
	assert.WithinDuration(t, time.Now(), env.CreatedAt, time.Minute)

	// No sig tag: unverifiable, not an error.
	bare := gonostr.Event{CreatedAt: gonostr.Now(), Kind: gonostr.KindTextNote, Content: "x"}
	require.NoError(t, bare.Sign(sk))
	assert.Empty(t, toEnvelope(&bare).Sig)
}
