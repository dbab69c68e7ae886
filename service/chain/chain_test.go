package chain

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCookie(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, ".cookie")
	require.NoError(t, os.WriteFile(path, []byte("__cookie__:a1b2c3\n"), 0o600))

	user, pass, err := ReadCookie(path)
	require.NoError(t, err)
	assert.Equal(t, "__cookie__", user)
	assert.Equal(t, "a1b2c3", pass)

	bad := filepath.Join(dir, "bad")
	require.NoError(t, os.WriteFile(bad, []byte("nocolonhere"), 0o600))
	_, _, err = ReadCookie(bad)
	assert.Error(t, err)

	_, _, err = ReadCookie(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestScanResultDecode(t *testing.T) {
	raw := `{
		"success": true,
		"height": 2500000,
		"unspents": [{
			"txid": "aa00000000000000000000000000000000000000000000000000000000000000",
			"vout": 1,
			"scriptPubKey": "0014deadbeef",
			"amount": 0.00001000,
			"height": 2499990
		}]
	}`

	var result scanResult
	require.NoError(t, json.Unmarshal([]byte(raw), &result))
	assert.True(t, result.Success)
	assert.Equal(t, int32(2500000), result.Height)
	require.Len(t, result.Unspents, 1)
	assert.Equal(t, uint32(1), result.Unspents[0].Vout)
	assert.Equal(t, 0.00001, result.Unspents[0].Amount)
}
