// Package descriptor parses output-script descriptors into a policy
// the wallet engine can act on. A descriptor is parsed once at import
// time; everything downstream works with the parsed form, never the
// raw string.
//
// Supported forms:
//
//	wpkh([origin]xpub/<0;1>/*)
//	pkh([origin]xpub/<0;1>/*)
//	wsh(multi(k,[origin]xpub/<0;1>/*,...))
//	wsh(sortedmulti(k,...))
//
// The <0;1> multipath element splits into the external (receive) and
// internal (change) keychains. Fixed-branch keys (xpub/0/*) are
// accepted and leave the descriptor without an internal keychain.
package descriptor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/looncoop/loon/core"
)

var (
	// ErrUnsupported is returned for script forms outside the set above.
	ErrUnsupported = errors.New("unsupported descriptor form")

	// ErrMalformed is returned when the descriptor cannot be parsed.
	ErrMalformed = errors.New("malformed descriptor")

	// ErrBadThreshold is returned when a multi threshold is not within
	// 1..=len(keys).
	ErrBadThreshold = errors.New("threshold out of range")
)

// KeyOrigin is the [fingerprint/path] prefix of a descriptor key.
type KeyOrigin struct {
	Fingerprint [4]byte
	Path        []uint32 // hardened steps have the 0x80000000 bit set
}

// Key is one extended public key with its origin and derivation
// branches.
type Key struct {
	Origin KeyOrigin
	XPub   string
	// Branches holds the non-hardened branch per keychain. With a
	// multipath element both are present; a fixed branch fills only
	// the external slot.
	Branches  map[core.Keychain]uint32
	Multipath bool
}

// Branch returns the derivation branch for a keychain.
func (k Key) Branch(kc core.Keychain) (uint32, bool) {
	b, ok := k.Branches[kc]
	return b, ok
}

// Policy is the parsed spending policy: Single or Multi. Produced once
// at import; callers switch on the concrete type.
type Policy interface {
	policy()
}

// Single is a single-signature policy (wpkh or pkh).
type Single struct {
	Key Key
}

// Multi is a threshold policy inside wsh().
type Multi struct {
	Threshold int
	Keys      []Key
	Sorted    bool
}

func (Single) policy() {}
func (Multi) policy()  {}

// Script kinds for address construction.
type ScriptKind uint8

const (
	ScriptP2WPKH ScriptKind = iota
	ScriptP2PKH
	ScriptP2WSH
)

// Descriptor is the parsed form of one account descriptor.
type Descriptor struct {
	Kind   ScriptKind
	Policy Policy

	canonical string
}

// Canonical returns the canonical serialization: the input with
// whitespace and any #checksum suffix stripped. Fingerprints and
// duplicate detection both hash these bytes.
func (d *Descriptor) Canonical() string {
	return d.canonical
}

// Threshold returns the number of signatures required to spend.
func (d *Descriptor) Threshold() int {
	if m, ok := d.Policy.(Multi); ok {
		return m.Threshold
	}
	return 1
}

// Keys returns the descriptor keys in declaration order.
func (d *Descriptor) Keys() []Key {
	switch p := d.Policy.(type) {
	case Single:
		return []Key{p.Key}
	case Multi:
		return p.Keys
	default:
		return nil
	}
}

// HasInternal reports whether every key carries an internal (change)
// branch.
func (d *Descriptor) HasInternal() bool {
	for _, k := range d.Keys() {
		if _, ok := k.Branch(core.KeychainInternal); !ok {
			return false
		}
	}
	return len(d.Keys()) > 0
}

// Canonicalize strips whitespace and the #checksum suffix without
// parsing. Import uses it for duplicate detection against stored rows.
func Canonicalize(desc string) string {
	s := strings.Join(strings.Fields(desc), "")
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	return s
}

// Parse parses a descriptor string into its tagged policy form.
func Parse(desc string) (*Descriptor, error) {
	s := Canonicalize(desc)

	inner, ok := strings.CutPrefix(s, "wpkh(")
	if ok {
		return parseSingle(s, inner, ScriptP2WPKH)
	}
	inner, ok = strings.CutPrefix(s, "pkh(")
	if ok {
		return parseSingle(s, inner, ScriptP2PKH)
	}
	inner, ok = strings.CutPrefix(s, "wsh(")
	if ok {
		return parseWsh(s, inner)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupported, head(s))
}

func parseSingle(canonical, inner string, kind ScriptKind) (*Descriptor, error) {
	body, ok := strings.CutSuffix(inner, ")")
	if !ok {
		return nil, fmt.Errorf("%w: missing closing paren", ErrMalformed)
	}

	key, err := parseKey(body)
	if err != nil {
		return nil, err
	}

	return &Descriptor{
		Kind:      kind,
		Policy:    Single{Key: key},
		canonical: canonical,
	}, nil
}

func parseWsh(canonical, inner string) (*Descriptor, error) {
	body, ok := strings.CutSuffix(inner, ")")
	if !ok {
		return nil, fmt.Errorf("%w: missing closing paren", ErrMalformed)
	}

	sorted := false
	multiBody, ok := strings.CutPrefix(body, "multi(")
	if !ok {
		multiBody, ok = strings.CutPrefix(body, "sortedmulti(")
		if !ok {
			return nil, fmt.Errorf("%w: wsh wraps %q", ErrUnsupported, head(body))
		}
		sorted = true
	}
	multiBody, ok = strings.CutSuffix(multiBody, ")")
	if !ok {
		return nil, fmt.Errorf("%w: missing closing paren", ErrMalformed)
	}

	parts := strings.Split(multiBody, ",")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: multi needs a threshold and at least one key", ErrMalformed)
	}

	threshold, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: threshold %q", ErrMalformed, parts[0])
	}

	keys := make([]Key, 0, len(parts)-1)
	for _, p := range parts[1:] {
		key, err := parseKey(p)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	if threshold < 1 || threshold > len(keys) {
		return nil, fmt.Errorf("%w: %d of %d", ErrBadThreshold, threshold, len(keys))
	}

	return &Descriptor{
		Kind:      ScriptP2WSH,
		Policy:    Multi{Threshold: threshold, Keys: keys, Sorted: sorted},
		canonical: canonical,
	}, nil
}

// parseKey parses "[fp/84h/1h/0h]xpub..../<0;1>/*" into its parts.
func parseKey(s string) (Key, error) {
	key := Key{Branches: make(map[core.Keychain]uint32)}

	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return key, fmt.Errorf("%w: unterminated key origin", ErrMalformed)
		}
		origin, err := parseOrigin(s[1:end])
		if err != nil {
			return key, err
		}
		key.Origin = origin
		s = s[end+1:]
	}

	// The xpub runs to the first derivation step.
	slash := strings.IndexByte(s, '/')
	if slash < 0 {
		return key, fmt.Errorf("%w: key has no derivation path", ErrMalformed)
	}
	key.XPub = s[:slash]
	if key.XPub == "" {
		return key, fmt.Errorf("%w: empty key", ErrMalformed)
	}

	path, ok := strings.CutSuffix(s[slash+1:], "/*")
	if !ok {
		return key, fmt.Errorf("%w: key path must end in /*", ErrMalformed)
	}

	// Multipath element <ext;int>, or a fixed numeric branch.
	if strings.HasPrefix(path, "<") {
		body, ok := strings.CutSuffix(strings.TrimPrefix(path, "<"), ">")
		if !ok {
			return key, fmt.Errorf("%w: unterminated multipath element", ErrMalformed)
		}
		branches := strings.Split(body, ";")
		if len(branches) != 2 {
			return key, fmt.Errorf("%w: multipath element %q", ErrMalformed, path)
		}
		ext, err := strconv.ParseUint(branches[0], 10, 31)
		if err != nil {
			return key, fmt.Errorf("%w: branch %q", ErrMalformed, branches[0])
		}
		internal, err := strconv.ParseUint(branches[1], 10, 31)
		if err != nil {
			return key, fmt.Errorf("%w: branch %q", ErrMalformed, branches[1])
		}
		key.Branches[core.KeychainExternal] = uint32(ext)
		key.Branches[core.KeychainInternal] = uint32(internal)
		key.Multipath = true
		return key, nil
	}

	branch, err := strconv.ParseUint(path, 10, 31)
	if err != nil {
		return key, fmt.Errorf("%w: branch %q", ErrMalformed, path)
	}
	key.Branches[core.KeychainExternal] = uint32(branch)
	return key, nil
}

func parseOrigin(s string) (KeyOrigin, error) {
	var origin KeyOrigin

	steps := strings.Split(s, "/")
	fp := steps[0]
	if len(fp) != 8 {
		return origin, fmt.Errorf("%w: origin fingerprint %q", ErrMalformed, fp)
	}
	for i := 0; i < 4; i++ {
		b, err := strconv.ParseUint(fp[i*2:i*2+2], 16, 8)
		if err != nil {
			return origin, fmt.Errorf("%w: origin fingerprint %q", ErrMalformed, fp)
		}
		origin.Fingerprint[i] = byte(b)
	}

	for _, step := range steps[1:] {
		hardened := false
		if cut, ok := strings.CutSuffix(step, "h"); ok {
			step, hardened = cut, true
		} else if cut, ok := strings.CutSuffix(step, "'"); ok {
			step, hardened = cut, true
		}
		n, err := strconv.ParseUint(step, 10, 31)
		if err != nil {
			return origin, fmt.Errorf("%w: origin step %q", ErrMalformed, step)
		}
		idx := uint32(n)
		if hardened {
			idx |= 1 << 31
		}
		origin.Path = append(origin.Path, idx)
	}

	return origin, nil
}

func head(s string) string {
	if i := strings.IndexByte(s, '('); i > 0 {
		return s[:i]
	}
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
