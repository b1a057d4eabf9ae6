// Package cas provides BLAKE3 digests and canonical JSON for content
// addressing of documents, journal entries and pack entries.
package cas

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"maps"
	"slices"
	"time"

	"lukechampine.com/blake3"
)

// DigestSize is the length of every digest produced by this package.
const DigestSize = 32

// NowMs returns the current time in milliseconds since epoch.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// Blake3Hash returns the 32-byte BLAKE3 digest of data.
func Blake3Hash(data []byte) []byte {
	sum := blake3.Sum256(data)
	return sum[:]
}

// Blake3HashHex returns the hex form of Blake3Hash.
func Blake3HashHex(data []byte) string {
	return hex.EncodeToString(Blake3Hash(data))
}

// NewHasher returns a streaming BLAKE3 hasher producing DigestSize bytes.
func NewHasher() *blake3.Hasher {
	return blake3.New(DigestSize, nil)
}

// Chain digests data linked to the digest before it, so that altering or
// dropping any element of a sequence changes every later digest. prev is
// empty for the first element.
func Chain(prev, data []byte) []byte {
	h := NewHasher()
	h.Write(prev)
	h.Write([]byte{'\n'})
	h.Write(data)
	return h.Sum(nil)
}

// ContentID is blake3(kind + "\n" + CanonicalJSON(payload)).
func ContentID(kind string, payload any) ([]byte, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return nil, err
	}
	return Blake3Hash(append([]byte(kind+"\n"), canonical...)), nil
}

// CanonicalJSON marshals v with object keys sorted at every level, so equal
// values always produce equal bytes.
func CanonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		buf.WriteByte('{')
		for i, k := range slices.Sorted(maps.Keys(val)) {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(data)
	}
	return nil
}

// HexToBytes decodes a hex digest.
func HexToBytes(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

// BytesToHex encodes a digest as hex.
func BytesToHex(b []byte) string {
	return hex.EncodeToString(b)
}
