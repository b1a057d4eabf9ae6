// Package proto defines the wire DTOs for change batches, journal entries
// and pack headers.
package proto

import (
	"encoding/json"

	"github.com/pkg/errors"

	"boxgraph/address"
	"boxgraph/graph"
)

// ErrBadMessage is returned when a message cannot be turned back into
// graph changes.
var ErrBadMessage = errors.New("bad message")

// Value is a primitive value tagged with its type so it survives JSON.
type Value struct {
	// Type is a primitive type name: "bool", "int32", ..., "bytes".
	Type string `json:"type"`
	// Data is the JSON value. Bytes are base64 strings.
	Data json.RawMessage `json:"data"`
}

// ChangeMessage is one graph change.
type ChangeMessage struct {
	Kind    string          `json:"kind"`
	Address address.Address `json:"address"`
	BoxKind string          `json:"boxKind,omitempty"`

	Old *Value `json:"old,omitempty"`
	New *Value `json:"new,omitempty"`

	OldTarget   *address.Address `json:"oldTarget,omitempty"`
	NewTarget   *address.Address `json:"newTarget,omitempty"`
	WasDeferred bool             `json:"wasDeferred,omitempty"`
	Deferred    bool             `json:"deferred,omitempty"`

	// Snapshot is the binary payload of a created or deleted box or element.
	Snapshot []byte `json:"snapshot,omitempty"`
}

// BatchMessage is one committed transaction.
type BatchMessage struct {
	Seq        uint64          `json:"seq"`
	Record     bool            `json:"record"`
	Checkpoint bool            `json:"checkpoint,omitempty"`
	Changes    []ChangeMessage `json:"changes"`
}

// JournalEntry is a stored batch linked into the journal's hash chain.
type JournalEntry struct {
	// ID is blake3 of the entry's canonical JSON chained to Parent.
	ID []byte `json:"id"`
	// Seq is the entry's position in its document's journal.
	Seq int64 `json:"seq"`
	// Parent is the previous entry's ID, empty for the first entry.
	Parent []byte `json:"parent,omitempty"`
	// Time is Unix milliseconds.
	Time  int64        `json:"time"`
	Actor string       `json:"actor,omitempty"`
	Batch BatchMessage `json:"batch"`
}

// PackHeader describes the entries of a pack.
type PackHeader struct {
	Entries []PackEntry `json:"entries"`
}

// PackEntry describes a single entry in a pack.
type PackEntry struct {
	Digest []byte `json:"digest"`
	// Kind is "document" or "batch".
	Kind   string `json:"kind"`
	Offset int64  `json:"offset"`
	Length int64  `json:"length"`
}

// ----- Conversion -----

// FromBatch converts a committed batch.
func FromBatch(b *graph.Batch) (BatchMessage, error) {
	msg := BatchMessage{
		Seq:        b.Seq,
		Record:     b.Record,
		Checkpoint: b.Checkpoint,
		Changes:    make([]ChangeMessage, 0, len(b.Changes)),
	}
	for _, c := range b.Changes {
		cm, err := FromChange(c)
		if err != nil {
			return BatchMessage{}, err
		}
		msg.Changes = append(msg.Changes, cm)
	}
	return msg, nil
}

// FromChange converts one change.
func FromChange(c graph.Change) (ChangeMessage, error) {
	cm := ChangeMessage{
		Kind:        c.Kind.String(),
		Address:     c.Address,
		BoxKind:     c.BoxKind,
		OldTarget:   c.OldTarget,
		NewTarget:   c.NewTarget,
		WasDeferred: c.WasDeferred,
		Deferred:    c.Deferred,
		Snapshot:    c.Snapshot,
	}
	if c.Kind == graph.ValueChanged {
		var err error
		if cm.Old, err = EncodeValue(c.OldValue); err != nil {
			return cm, errors.Wrapf(err, "old value at %s", c.Address)
		}
		if cm.New, err = EncodeValue(c.NewValue); err != nil {
			return cm, errors.Wrapf(err, "new value at %s", c.Address)
		}
	}
	return cm, nil
}

// ToChanges converts the message back into replayable changes.
func (m BatchMessage) ToChanges() ([]graph.Change, error) {
	out := make([]graph.Change, 0, len(m.Changes))
	for i, cm := range m.Changes {
		c, err := cm.ToChange()
		if err != nil {
			return nil, errors.Wrapf(err, "batch %d change %d", m.Seq, i)
		}
		out = append(out, c)
	}
	return out, nil
}

// ToChange converts the message back into a change.
func (cm ChangeMessage) ToChange() (graph.Change, error) {
	kind, ok := graph.ParseChangeKind(cm.Kind)
	if !ok {
		return graph.Change{}, errors.Wrapf(ErrBadMessage, "change kind %q", cm.Kind)
	}
	c := graph.Change{
		Kind:        kind,
		Address:     cm.Address,
		BoxKind:     cm.BoxKind,
		OldTarget:   cm.OldTarget,
		NewTarget:   cm.NewTarget,
		WasDeferred: cm.WasDeferred,
		Deferred:    cm.Deferred,
		Snapshot:    cm.Snapshot,
	}
	if kind == graph.ValueChanged {
		var err error
		if c.OldValue, err = cm.Old.Decode(); err != nil {
			return c, err
		}
		if c.NewValue, err = cm.New.Decode(); err != nil {
			return c, err
		}
	}
	return c, nil
}

// EncodeValue tags a primitive value with its type.
func EncodeValue(v any) (*Value, error) {
	var t graph.PrimitiveType
	switch v.(type) {
	case bool:
		t = graph.Bool
	case int32:
		t = graph.Int32
	case int64:
		t = graph.Int64
	case float32:
		t = graph.Float32
	case float64:
		t = graph.Float64
	case string:
		t = graph.String
	case []byte:
		t = graph.Bytes
	default:
		return nil, errors.Wrapf(ErrBadMessage, "unsupported value type %T", v)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling value")
	}
	return &Value{Type: t.String(), Data: data}, nil
}

// Decode returns the value in its Go type.
func (v *Value) Decode() (any, error) {
	if v == nil {
		return nil, errors.Wrap(ErrBadMessage, "missing value")
	}
	t, ok := graph.ParsePrimitiveType(v.Type)
	if !ok {
		return nil, errors.Wrapf(ErrBadMessage, "value type %q", v.Type)
	}
	var (
		out any
		err error
	)
	switch t {
	case graph.Bool:
		out, err = decodeAs[bool](v.Data)
	case graph.Int32:
		out, err = decodeAs[int32](v.Data)
	case graph.Int64:
		out, err = decodeAs[int64](v.Data)
	case graph.Float32:
		out, err = decodeAs[float32](v.Data)
	case graph.Float64:
		out, err = decodeAs[float64](v.Data)
	case graph.String:
		out, err = decodeAs[string](v.Data)
	case graph.Bytes:
		out, err = decodeAs[[]byte](v.Data)
	}
	if err != nil {
		return nil, errors.Wrapf(ErrBadMessage, "%s value: %v", v.Type, err)
	}
	return out, nil
}

func decodeAs[T any](data json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
