package graph

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"math"

	"github.com/pkg/errors"
)

// Primitive holds one scalar value and owns it exclusively.
type Primitive struct {
	fieldBase
	value any
}

// Type implements Field.
func (p *Primitive) Type() FieldType { return TypePrimitive }

// PrimitiveType returns the declared scalar type.
func (p *Primitive) PrimitiveType() PrimitiveType { return p.spec.Primitive }

// Value returns the current value. Byte slices are copied.
func (p *Primitive) Value() any {
	if b, ok := p.value.([]byte); ok {
		return bytes.Clone(b)
	}
	return p.value
}

// Bool returns the value of a bool field.
func (p *Primitive) Bool() bool {
	v, _ := p.value.(bool)
	return v
}

// Int32 returns the value of an int32 field.
func (p *Primitive) Int32() int32 {
	v, _ := p.value.(int32)
	return v
}

// Int64 returns the value of an int64 field.
func (p *Primitive) Int64() int64 {
	v, _ := p.value.(int64)
	return v
}

// Float32 returns the value of a float32 field.
func (p *Primitive) Float32() float32 {
	v, _ := p.value.(float32)
	return v
}

// Float64 returns the value of a float64 field.
func (p *Primitive) Float64() float64 {
	v, _ := p.value.(float64)
	return v
}

// Text returns the value of a string field.
func (p *Primitive) Text() string {
	v, _ := p.value.(string)
	return v
}

// Bytes returns a copy of the value of a bytes field.
func (p *Primitive) Bytes() []byte {
	v, _ := p.value.([]byte)
	return bytes.Clone(v)
}

// SetValue replaces the value. Numeric values are converted when they fit
// the declared type. Setting an equal value records nothing.
func (p *Primitive) SetValue(v any) error {
	if err := p.mutable(); err != nil {
		return err
	}
	next, err := coerce(p.spec.Primitive, v)
	if err != nil {
		return p.box.graph.fail(violation(err, p.Address(), "%T for %s", v, p.spec.Primitive))
	}
	if equalValues(p.value, next) {
		return nil
	}
	old := p.value
	p.value = next
	p.box.graph.record(Change{
		Kind:     ValueChanged,
		Address:  p.Address(),
		BoxKind:  p.box.kind,
		OldValue: old,
		NewValue: next,
		field:    p,
	})
	return nil
}

func (p *Primitive) assign(v any, live bool) error {
	if live {
		return p.SetValue(v)
	}
	next, err := coerce(p.spec.Primitive, v)
	if err != nil {
		return err
	}
	p.value = next
	return nil
}

// Encode implements Field.
func (p *Primitive) Encode() []byte {
	return appendPrimitive(nil, p.spec.Primitive, p.value)
}

// Decode implements Field.
func (p *Primitive) Decode(data []byte) error {
	live := p.live()
	return p.guard(live, p.decode(data, live))
}

func (p *Primitive) decode(data []byte, live bool) error {
	v, err := parsePrimitive(p.spec.Primitive, data)
	if err != nil {
		return errors.Wrapf(err, "decoding %s", p.spec.Name)
	}
	return p.assign(v, live)
}

// ToTree implements Field. Bytes are rendered as standard base64.
func (p *Primitive) ToTree() any {
	if b, ok := p.value.([]byte); ok {
		return base64.StdEncoding.EncodeToString(b)
	}
	return p.value
}

// FromTree implements Field. A nil value leaves the field unchanged.
func (p *Primitive) FromTree(v any) error {
	live := p.live()
	return p.guard(live, p.fromTree(v, live))
}

func (p *Primitive) fromTree(v any, live bool) error {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok && p.spec.Primitive == Bytes {
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return errors.Wrapf(ErrValueType, "%s: %v", p.spec.Name, err)
		}
		v = decoded
	}
	return p.assign(v, live)
}

// ----- Values -----

func zeroOrDefault(spec *FieldSpec) any {
	if spec.Default != nil {
		if v, err := coerce(spec.Primitive, spec.Default); err == nil {
			return v
		}
	}
	switch spec.Primitive {
	case Bool:
		return false
	case Int32:
		return int32(0)
	case Int64:
		return int64(0)
	case Float32:
		return float32(0)
	case Float64:
		return float64(0)
	case String:
		return ""
	case Bytes:
		return []byte{}
	default:
		return nil
	}
}

func equalValues(a, b any) bool {
	ab, aok := a.([]byte)
	bb, bok := b.([]byte)
	if aok || bok {
		return aok && bok && bytes.Equal(ab, bb)
	}
	return a == b
}

// coerce converts v to the canonical Go type of t.
func coerce(t PrimitiveType, v any) (any, error) {
	switch t {
	case Bool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case Int32:
		if i, ok := toInt64(v); ok && i >= math.MinInt32 && i <= math.MaxInt32 {
			return int32(i), nil
		}
	case Int64:
		if i, ok := toInt64(v); ok {
			return i, nil
		}
	case Float32:
		// Non-finite values have no JSON form.
		if f, ok := toFloat64(v); ok && isFinite(float64(float32(f))) {
			return float32(f), nil
		}
	case Float64:
		if f, ok := toFloat64(v); ok && isFinite(f) {
			return f, nil
		}
	case String:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case Bytes:
		if b, ok := v.([]byte); ok {
			return bytes.Clone(b), nil
		}
	}
	return nil, errors.Wrapf(ErrValueType, "cannot use %T (%v) as %s", v, v, t)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		if uint64(n) <= math.MaxInt64 {
			return int64(n), true
		}
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n), true
		}
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	return 0, false
}

func floatToInt(f float64) (int64, bool) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

func appendPrimitive(dst []byte, t PrimitiveType, v any) []byte {
	switch t {
	case Bool:
		if v.(bool) {
			return append(dst, 1)
		}
		return append(dst, 0)
	case Int32:
		return binary.BigEndian.AppendUint32(dst, uint32(v.(int32)))
	case Int64:
		return binary.BigEndian.AppendUint64(dst, uint64(v.(int64)))
	case Float32:
		return binary.BigEndian.AppendUint32(dst, math.Float32bits(v.(float32)))
	case Float64:
		return binary.BigEndian.AppendUint64(dst, math.Float64bits(v.(float64)))
	case String:
		return append(dst, v.(string)...)
	case Bytes:
		return append(dst, v.([]byte)...)
	}
	return dst
}

func parsePrimitive(t PrimitiveType, data []byte) (any, error) {
	fixed := map[PrimitiveType]int{Bool: 1, Int32: 4, Int64: 8, Float32: 4, Float64: 8}
	if n, ok := fixed[t]; ok && len(data) != n {
		return nil, errors.Wrapf(ErrCorruptPayload, "%s payload has %d bytes, want %d", t, len(data), n)
	}
	switch t {
	case Bool:
		return data[0] != 0, nil
	case Int32:
		return int32(binary.BigEndian.Uint32(data)), nil
	case Int64:
		return int64(binary.BigEndian.Uint64(data)), nil
	case Float32:
		return math.Float32frombits(binary.BigEndian.Uint32(data)), nil
	case Float64:
		return math.Float64frombits(binary.BigEndian.Uint64(data)), nil
	case String:
		return string(data), nil
	case Bytes:
		return bytes.Clone(data), nil
	}
	return nil, errors.Wrapf(ErrCorruptPayload, "unknown primitive type %d", t)
}
