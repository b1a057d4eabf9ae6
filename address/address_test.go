package address

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdentityIsRandom(t *testing.T) {
	a, b := New(), New()
	assert.NotEqual(t, a, b)
	assert.False(t, a.IsZero())
	assert.True(t, Nil.IsZero())
}

func TestIdentityTextRoundTrip(t *testing.T) {
	id := New()
	parsed, err := ParseIdentity(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseIdentity("not-a-uuid")
	assert.True(t, errors.Is(err, ErrInvalidAddress))

	data, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `"`+id.String()+`"`, string(data))
	var decoded Identity
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, id, decoded)
}

func TestComposeAndKeys(t *testing.T) {
	id := New()
	a := Compose(id, 3, 0, 65535)

	assert.Equal(t, id, a.Identity())
	assert.Equal(t, 3, a.Depth())
	assert.Equal(t, []FieldKey{3, 0, 65535}, a.Keys())
	assert.Equal(t, FieldKey(65535), a.Last())
	assert.False(t, a.IsBox())
	assert.True(t, Compose(id).IsBox())
	assert.Equal(t, Compose(id, 3, 0), a.Parent())
	assert.Equal(t, Compose(id), a.Box())
	assert.Equal(t, a, Compose(id, 3).Append(0, 65535))
}

func TestAddressEqualityAsMapKey(t *testing.T) {
	id := New()
	m := map[Address]string{Compose(id, 1, 2): "x"}
	assert.Equal(t, "x", m[Compose(id, 1, 2)])
	_, ok := m[Compose(id, 1)]
	assert.False(t, ok)
}

func TestAddressCompare(t *testing.T) {
	id := Identity{1}
	other := Identity{2}

	assert.Equal(t, 0, Compose(id, 1).Compare(Compose(id, 1)))
	assert.Equal(t, -1, Compose(id).Compare(Compose(id, 0)), "ancestor sorts first")
	assert.Equal(t, -1, Compose(id, 2).Compare(Compose(id, 256)), "keys compare numerically")
	assert.Equal(t, -1, Compose(id, 9).Compare(Compose(other)), "identity dominates")

	addrs := []Address{Compose(id, 2), Compose(other), Compose(id, 1, 5), Compose(id, 1)}
	Sort(addrs)
	assert.Equal(t, []Address{Compose(id, 1), Compose(id, 1, 5), Compose(id, 2), Compose(other)}, addrs)
}

func TestHasPrefix(t *testing.T) {
	id := New()
	assert.True(t, Compose(id, 1, 2).HasPrefix(Compose(id, 1)))
	assert.True(t, Compose(id, 1, 2).HasPrefix(Compose(id)))
	assert.False(t, Compose(id, 1).HasPrefix(Compose(id, 1, 2)))
	assert.False(t, Compose(id, 1).HasPrefix(Compose(New(), 1)))
}

func TestBinaryRoundTrip(t *testing.T) {
	for _, a := range []Address{
		Compose(New()),
		Compose(New(), 7),
		Compose(New(), 1, 2, 3, 4000),
	} {
		data, err := a.MarshalBinary()
		require.NoError(t, err)
		assert.Len(t, data, IdentitySize+1+2*a.Depth())

		var decoded Address
		require.NoError(t, decoded.UnmarshalBinary(data))
		assert.Equal(t, a, decoded)
	}
}

func TestDecodeCorrupt(t *testing.T) {
	a := Compose(New(), 1, 2)
	data, _ := a.MarshalBinary()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short identity", data[:10]},
		{"missing keys", data[:len(data)-1]},
		{"trailing bytes", append(append([]byte{}, data...), 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var decoded Address
			err := decoded.UnmarshalBinary(tt.data)
			assert.True(t, errors.Is(err, ErrCorruptAddress), "got %v", err)
		})
	}
}

func TestDecodeStream(t *testing.T) {
	a, b := Compose(New(), 1), Compose(New())
	buf := b.AppendBinary(a.AppendBinary(nil))

	first, n, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, a, first)

	second, m, err := Decode(buf[n:])
	require.NoError(t, err)
	assert.Equal(t, b, second)
	assert.Equal(t, len(buf), n+m)
}

func TestTextRoundTrip(t *testing.T) {
	a := Compose(New(), 4, 12)
	parsed, err := Parse(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)

	_, err = Parse(a.Identity().String() + "/x")
	assert.True(t, errors.Is(err, ErrInvalidAddress))
	_, err = Parse(a.Identity().String() + "/70000")
	assert.True(t, errors.Is(err, ErrInvalidAddress))
}

func TestJSON(t *testing.T) {
	a := Compose(New(), 9)
	data, err := json.Marshal(map[string]Address{"target": a})
	require.NoError(t, err)

	var out map[string]Address
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, a, out["target"])
}
