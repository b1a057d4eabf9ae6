// Package address provides box identities and hierarchical field addresses.
//
// An Address is the only reference that may cross an execution-context
// boundary. It is a plain comparable value: it can be used as a map key,
// compared with ==, ordered with Compare and encoded to a fixed layout.
package address

import (
	"bytes"
	"encoding/binary"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrCorruptAddress is returned when a binary address has a malformed length.
	ErrCorruptAddress = errors.New("corrupt address")
	// ErrInvalidAddress is returned when a textual address cannot be parsed.
	ErrInvalidAddress = errors.New("invalid address")
)

const (
	// IdentitySize is the encoded size of an Identity.
	IdentitySize = 16
	// MaxDepth is the maximum number of field keys in an Address.
	MaxDepth = 255
)

// Identity names exactly one box for the lifetime of a document.
type Identity [IdentitySize]byte

// Nil is the zero Identity. It never names a box.
var Nil Identity

// New returns a fresh random identity (UUID v4).
func New() Identity {
	return Identity(uuid.New())
}

// ParseIdentity parses the canonical UUID text form.
func ParseIdentity(s string) (Identity, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, errors.Wrapf(ErrInvalidAddress, "identity %q: %v", s, err)
	}
	return Identity(u), nil
}

// String returns the canonical UUID text form.
func (id Identity) String() string {
	return uuid.UUID(id).String()
}

// MarshalText implements encoding.TextMarshaler.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// IsZero reports whether id is the Nil identity.
func (id Identity) IsZero() bool {
	return id == Nil
}

// Compare orders identities bytewise.
func (id Identity) Compare(other Identity) int {
	return bytes.Compare(id[:], other[:])
}

// FieldKey selects a child of an object field, or an element index of an
// array field.
type FieldKey uint16

// Address is an Identity plus a path of field keys.
type Address struct {
	id Identity
	// path packs the keys as big-endian uint16 pairs so the struct stays
	// comparable and string comparison orders keys numerically.
	path string
}

// Compose builds an address. It performs no graph lookup.
func Compose(id Identity, keys ...FieldKey) Address {
	if len(keys) > MaxDepth {
		panic("address: too many field keys")
	}
	buf := make([]byte, 2*len(keys))
	for i, k := range keys {
		binary.BigEndian.PutUint16(buf[2*i:], uint16(k))
	}
	return Address{id: id, path: string(buf)}
}

// Identity returns the box identity the address starts from.
func (a Address) Identity() Identity {
	return a.id
}

// Depth returns the number of field keys.
func (a Address) Depth() int {
	return len(a.path) / 2
}

// IsBox reports whether the address names a box rather than a field.
func (a Address) IsBox() bool {
	return len(a.path) == 0
}

// Key returns the i-th field key.
func (a Address) Key(i int) FieldKey {
	return FieldKey(binary.BigEndian.Uint16([]byte(a.path[2*i : 2*i+2])))
}

// Keys returns a copy of the field key path.
func (a Address) Keys() []FieldKey {
	keys := make([]FieldKey, a.Depth())
	for i := range keys {
		keys[i] = a.Key(i)
	}
	return keys
}

// Last returns the final field key. It panics on a box address.
func (a Address) Last() FieldKey {
	if a.IsBox() {
		panic("address: box address has no field key")
	}
	return a.Key(a.Depth() - 1)
}

// Append returns a new address with keys appended.
func (a Address) Append(keys ...FieldKey) Address {
	if a.Depth()+len(keys) > MaxDepth {
		panic("address: too many field keys")
	}
	buf := make([]byte, len(a.path), len(a.path)+2*len(keys))
	copy(buf, a.path)
	for _, k := range keys {
		buf = binary.BigEndian.AppendUint16(buf, uint16(k))
	}
	return Address{id: a.id, path: string(buf)}
}

// Parent drops the last key. The parent of a box address is itself.
func (a Address) Parent() Address {
	if a.IsBox() {
		return a
	}
	return Address{id: a.id, path: a.path[:len(a.path)-2]}
}

// Box returns the address of the owning box.
func (a Address) Box() Address {
	return Address{id: a.id}
}

// HasPrefix reports whether p is a (non-strict) ancestor of a.
func (a Address) HasPrefix(p Address) bool {
	return a.id == p.id && strings.HasPrefix(a.path, p.path)
}

// Compare orders by identity, then by key path. Ancestors sort before
// their descendants.
func (a Address) Compare(b Address) int {
	if c := a.id.Compare(b.id); c != 0 {
		return c
	}
	return strings.Compare(a.path, b.path)
}

// String renders "<uuid>/<k1>/<k2>...".
func (a Address) String() string {
	var sb strings.Builder
	sb.WriteString(a.id.String())
	for i := 0; i < a.Depth(); i++ {
		sb.WriteByte('/')
		sb.WriteString(strconv.FormatUint(uint64(a.Key(i)), 10))
	}
	return sb.String()
}

// Parse is the inverse of String.
func Parse(s string) (Address, error) {
	parts := strings.Split(s, "/")
	id, err := ParseIdentity(parts[0])
	if err != nil {
		return Address{}, err
	}
	if len(parts)-1 > MaxDepth {
		return Address{}, errors.Wrapf(ErrInvalidAddress, "%q has too many keys", s)
	}
	keys := make([]FieldKey, 0, len(parts)-1)
	for _, p := range parts[1:] {
		k, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return Address{}, errors.Wrapf(ErrInvalidAddress, "key %q in %q", p, s)
		}
		keys = append(keys, FieldKey(k))
	}
	return Compose(id, keys...), nil
}

// ----- Binary layout -----
//
// [16 bytes identity][1 byte key count][2 bytes per key, big-endian]

// EncodedLen returns the size of the binary form.
func (a Address) EncodedLen() int {
	return IdentitySize + 1 + len(a.path)
}

// AppendBinary appends the binary form to dst.
func (a Address) AppendBinary(dst []byte) []byte {
	dst = append(dst, a.id[:]...)
	dst = append(dst, byte(a.Depth()))
	return append(dst, a.path...)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (a Address) MarshalBinary() ([]byte, error) {
	return a.AppendBinary(make([]byte, 0, a.EncodedLen())), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. The input must be
// exactly one encoded address.
func (a *Address) UnmarshalBinary(data []byte) error {
	decoded, n, err := Decode(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return errors.Wrapf(ErrCorruptAddress, "%d trailing bytes", len(data)-n)
	}
	*a = decoded
	return nil
}

// Decode reads one address from the front of data and returns the number of
// bytes consumed.
func Decode(data []byte) (Address, int, error) {
	if len(data) < IdentitySize+1 {
		return Address{}, 0, errors.Wrapf(ErrCorruptAddress, "need %d bytes, have %d", IdentitySize+1, len(data))
	}
	var id Identity
	copy(id[:], data[:IdentitySize])
	depth := int(data[IdentitySize])
	end := IdentitySize + 1 + 2*depth
	if len(data) < end {
		return Address{}, 0, errors.Wrapf(ErrCorruptAddress, "%d keys need %d bytes, have %d", depth, end, len(data))
	}
	return Address{id: id, path: string(data[IdentitySize+1 : end])}, end, nil
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Sort orders addresses in place.
func Sort(addrs []Address) {
	slices.SortFunc(addrs, Address.Compare)
}
