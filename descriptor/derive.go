package descriptor

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/looncoop/loon/core"
)

// DerivedKey is one public key derived at a concrete keychain/index,
// with the full path a signer needs to locate its private key.
type DerivedKey struct {
	PubKey            *btcec.PublicKey
	MasterFingerprint [4]byte
	// Path is the origin path extended with branch and index.
	Path []uint32
}

// Derivation is the on-chain material for one keychain/index slot.
type Derivation struct {
	Address  btcutil.Address
	PkScript []byte
	// WitnessScript is set for p2wsh outputs and goes into the PSBT
	// input alongside the witness utxo.
	WitnessScript []byte
	Keys          []DerivedKey
}

// DeriveAt derives the script material at a keychain/index slot.
// Derivation is pure: the same descriptor, slot and params always
// produce the same result.
func (d *Descriptor) DeriveAt(kc core.Keychain, index uint32, params *chaincfg.Params) (*Derivation, error) {
	keys := d.Keys()
	derived := make([]DerivedKey, 0, len(keys))
	for _, k := range keys {
		dk, err := deriveKey(k, kc, index)
		if err != nil {
			return nil, err
		}
		derived = append(derived, dk)
	}

	switch d.Kind {
	case ScriptP2WPKH:
		hash := btcutil.Hash160(derived[0].PubKey.SerializeCompressed())
		addr, err := btcutil.NewAddressWitnessPubKeyHash(hash, params)
		if err != nil {
			return nil, fmt.Errorf("build p2wpkh address: %w", err)
		}
		return finishDerivation(addr, nil, derived)

	case ScriptP2PKH:
		hash := btcutil.Hash160(derived[0].PubKey.SerializeCompressed())
		addr, err := btcutil.NewAddressPubKeyHash(hash, params)
		if err != nil {
			return nil, fmt.Errorf("build p2pkh address: %w", err)
		}
		return finishDerivation(addr, nil, derived)

	case ScriptP2WSH:
		multi := d.Policy.(Multi)
		witnessScript, err := multisigScript(multi, derived)
		if err != nil {
			return nil, err
		}
		scriptHash := sha256.Sum256(witnessScript)
		addr, err := btcutil.NewAddressWitnessScriptHash(scriptHash[:], params)
		if err != nil {
			return nil, fmt.Errorf("build p2wsh address: %w", err)
		}
		return finishDerivation(addr, witnessScript, derived)

	default:
		return nil, fmt.Errorf("%w: script kind %d", ErrUnsupported, d.Kind)
	}
}

// AddressAt returns just the address at a slot.
func (d *Descriptor) AddressAt(kc core.Keychain, index uint32, params *chaincfg.Params) (btcutil.Address, error) {
	dv, err := d.DeriveAt(kc, index, params)
	if err != nil {
		return nil, err
	}
	return dv.Address, nil
}

func finishDerivation(addr btcutil.Address, witnessScript []byte, keys []DerivedKey) (*Derivation, error) {
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("build pkscript: %w", err)
	}
	return &Derivation{
		Address:       addr,
		PkScript:      pkScript,
		WitnessScript: witnessScript,
		Keys:          keys,
	}, nil
}

func deriveKey(k Key, kc core.Keychain, index uint32) (DerivedKey, error) {
	branch, ok := k.Branch(kc)
	if !ok {
		return DerivedKey{}, fmt.Errorf("%w: key %s has no branch for keychain %d", ErrUnsupported, k.XPub[:8], kc)
	}

	ext, err := hdkeychain.NewKeyFromString(k.XPub)
	if err != nil {
		return DerivedKey{}, fmt.Errorf("parse xpub: %w", err)
	}
	branchKey, err := ext.Derive(branch)
	if err != nil {
		return DerivedKey{}, fmt.Errorf("derive branch %d: %w", branch, err)
	}
	childKey, err := branchKey.Derive(index)
	if err != nil {
		return DerivedKey{}, fmt.Errorf("derive index %d: %w", index, err)
	}
	pub, err := childKey.ECPubKey()
	if err != nil {
		return DerivedKey{}, fmt.Errorf("extract pubkey: %w", err)
	}

	path := make([]uint32, 0, len(k.Origin.Path)+2)
	path = append(path, k.Origin.Path...)
	path = append(path, branch, index)

	return DerivedKey{
		PubKey:            pub,
		MasterFingerprint: k.Origin.Fingerprint,
		Path:              path,
	}, nil
}

// multisigScript builds the k-of-n CHECKMULTISIG witness script. For
// sortedmulti the keys are ordered by their compressed serialization
// as BIP-67 requires; plain multi keeps declaration order.
func multisigScript(m Multi, keys []DerivedKey) ([]byte, error) {
	serialized := make([][]byte, len(keys))
	for i, k := range keys {
		serialized[i] = k.PubKey.SerializeCompressed()
	}
	if m.Sorted {
		sort.Slice(serialized, func(i, j int) bool {
			return bytes.Compare(serialized[i], serialized[j]) < 0
		})
	}

	builder := txscript.NewScriptBuilder()
	builder.AddInt64(int64(m.Threshold))
	for _, pub := range serialized {
		builder.AddData(pub)
	}
	builder.AddInt64(int64(len(keys)))
	builder.AddOp(txscript.OP_CHECKMULTISIG)

	script, err := builder.Script()
	if err != nil {
		return nil, fmt.Errorf("build multisig script: %w", err)
	}
	return script, nil
}
