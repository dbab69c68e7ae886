package descriptor

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looncoop/loon/core"
)

const (
	testXPubA = "tpubDCmcN1ucMUfxxabEnLKHzUbjaxg8P4YR4V7mMsfhnsdRJquRyDTudrBmzZhrpV4Z4PH3MjKKFtBk6WkJbEWqL9Vc8E8v1tqFxtFXRY8zEjG"
	testXPubB = "tpubDCUB1aBPqtRaVXRpV6WT8RBKn6ZJhua9Uat8vvqfz2gD2zjSaGAasvKMsvcXHhCxrtv9T826vDpYRRhkU8DCRBxMd9Se3dzbScvcguWjcqF"
)

func testMultiDesc() string {
	return "wsh(multi(2,[7d94197e/84h/1h/0h]" + testXPubA + "/<0;1>/*,[9aa5b7ee/84h/1h/0h]" + testXPubB + "/<0;1>/*))"
}

func TestParseMulti(t *testing.T) {
	d, err := Parse(testMultiDesc())
	require.NoError(t, err)

	assert.Equal(t, ScriptP2WSH, d.Kind)
	assert.Equal(t, 2, d.Threshold())
	assert.True(t, d.HasInternal())

	multi, ok := d.Policy.(Multi)
	require.True(t, ok)
	assert.False(t, multi.Sorted)
	require.Len(t, multi.Keys, 2)

	assert.Equal(t, [4]byte{0x7d, 0x94, 0x19, 0x7e}, multi.Keys[0].Origin.Fingerprint)
	assert.Equal(t, [4]byte{0x9a, 0xa5, 0xb7, 0xee}, multi.Keys[1].Origin.Fingerprint)

	h := uint32(1 << 31)
	assert.Equal(t, []uint32{84 | h, 1 | h, 0 | h}, multi.Keys[0].Origin.Path)

	for _, k := range multi.Keys {
		assert.True(t, k.Multipath)
		ext, ok := k.Branch(core.KeychainExternal)
		require.True(t, ok)
		assert.Equal(t, uint32(0), ext)
		internal, ok := k.Branch(core.KeychainInternal)
		require.True(t, ok)
		assert.Equal(t, uint32(1), internal)
	}
}

func TestParseSingle(t *testing.T) {
	d, err := Parse("wpkh([7d94197e/84h/1h/0h]" + testXPubA + "/<0;1>/*)")
	require.NoError(t, err)

	assert.Equal(t, ScriptP2WPKH, d.Kind)
	assert.Equal(t, 1, d.Threshold())
	assert.True(t, d.HasInternal())

	single, ok := d.Policy.(Single)
	require.True(t, ok)
	assert.Equal(t, testXPubA, single.Key.XPub)
}

func TestParseFixedBranch(t *testing.T) {
	d, err := Parse("wpkh(" + testXPubA + "/0/*)")
	require.NoError(t, err)

	assert.False(t, d.HasInternal())
	key := d.Keys()[0]
	assert.False(t, key.Multipath)
	_, ok := key.Branch(core.KeychainInternal)
	assert.False(t, ok)
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		desc string
		want error
	}{
		{"unknown form", "tr(" + testXPubA + "/0/*)", ErrUnsupported},
		{"wsh wraps unknown", "wsh(pk(" + testXPubA + "/0/*))", ErrUnsupported},
		{"no trailing wildcard", "wpkh(" + testXPubA + "/0)", ErrMalformed},
		{"bad multipath", "wpkh(" + testXPubA + "/<0;1;2>/*)", ErrMalformed},
		{"unterminated origin", "wpkh([7d94197e" + testXPubA + "/0/*)", ErrMalformed},
		{"threshold too high", "wsh(multi(3," + testXPubA + "/0/*," + testXPubB + "/0/*))", ErrBadThreshold},
		{"threshold zero", "wsh(multi(0," + testXPubA + "/0/*))", ErrBadThreshold},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Parse(c.desc)
			assert.ErrorIs(t, err, c.want)
		})
	}
}

func TestCanonicalize(t *testing.T) {
	raw := "wsh(multi(2, " + testXPubA + "/0/*,\n\t" + testXPubB + "/0/*))#abcd1234"
	want := "wsh(multi(2," + testXPubA + "/0/*," + testXPubB + "/0/*))"
	assert.Equal(t, want, Canonicalize(raw))

	d, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, want, d.Canonical())
}

func TestDeriveAt(t *testing.T) {
	d, err := Parse(testMultiDesc())
	require.NoError(t, err)

	params := &chaincfg.TestNet3Params

	dv, err := d.DeriveAt(core.KeychainExternal, 0, params)
	require.NoError(t, err)

	require.Len(t, dv.Keys, 2)
	assert.NotEmpty(t, dv.WitnessScript)
	// p2wsh: OP_0 <32-byte script hash>
	require.Len(t, dv.PkScript, 34)
	assert.Equal(t, byte(0x00), dv.PkScript[0])
	assert.Equal(t, byte(0x20), dv.PkScript[1])

	// Signer-facing path: origin extended with branch and index.
	h := uint32(1 << 31)
	assert.Equal(t, []uint32{84 | h, 1 | h, 0 | h, 0, 0}, dv.Keys[0].Path)

	// Deterministic, and distinct across slots and keychains.
	again, err := d.DeriveAt(core.KeychainExternal, 0, params)
	require.NoError(t, err)
	assert.Equal(t, dv.PkScript, again.PkScript)

	next, err := d.DeriveAt(core.KeychainExternal, 1, params)
	require.NoError(t, err)
	assert.NotEqual(t, dv.PkScript, next.PkScript)

	change, err := d.DeriveAt(core.KeychainInternal, 0, params)
	require.NoError(t, err)
	assert.NotEqual(t, dv.PkScript, change.PkScript)
	assert.Equal(t, []uint32{84 | h, 1 | h, 0 | h, 1, 0}, change.Keys[0].Path)
}

func TestDeriveAtSingle(t *testing.T) {
	d, err := Parse("wpkh(" + testXPubA + "/<0;1>/*)")
	require.NoError(t, err)

	dv, err := d.DeriveAt(core.KeychainExternal, 5, &chaincfg.TestNet3Params)
	require.NoError(t, err)

	assert.Nil(t, dv.WitnessScript)
	// p2wpkh: OP_0 <20-byte pubkey hash>
	require.Len(t, dv.PkScript, 22)
	assert.Equal(t, byte(0x00), dv.PkScript[0])
	assert.Equal(t, byte(0x14), dv.PkScript[1])
}
