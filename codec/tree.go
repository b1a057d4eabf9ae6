package codec

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"

	"boxgraph/address"
	"boxgraph/cas"
	"boxgraph/graph"
)

// TreeFormat names the tree document in its "format" member.
const TreeFormat = "boxgraph"

// ErrMalformedTree is returned when a tree document does not have the
// expected shape.
var ErrMalformedTree = errors.New("malformed document tree")

// ToTree returns the JSON-compatible form of g:
//
//	{"format": "boxgraph", "version": 1, "boxes": [{"kind", "id", "fields"}, ...]}
//
// Fields are keyed by decimal field key.
func ToTree(g *graph.Graph) map[string]any {
	boxes := g.Boxes()
	list := make([]any, len(boxes))
	for i, b := range boxes {
		list[i] = b.ToTree()
	}
	return map[string]any{
		"format":  TreeFormat,
		"version": Version,
		"boxes":   list,
	}
}

// FromTree adds the boxes of a tree document to g. Like Decode it resolves
// pointers in a second pass and adds nothing on failure.
func FromTree(tree map[string]any, g *graph.Graph) error {
	records, err := TreeRecords(tree)
	if err != nil {
		return err
	}
	return g.Import(records)
}

// TreeRecords validates a tree document and returns its records.
func TreeRecords(tree map[string]any) ([]graph.Record, error) {
	if format, _ := tree["format"].(string); format != TreeFormat {
		return nil, errors.Wrapf(ErrCorruptHeader, "format %q", tree["format"])
	}
	version, ok := asInt(tree["version"])
	if !ok {
		return nil, errors.Wrapf(ErrCorruptHeader, "version %v", tree["version"])
	}
	if version != int64(Version) {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "version %d, want %d", version, Version)
	}
	list, ok := tree["boxes"].([]any)
	if !ok {
		return nil, errors.Wrapf(ErrMalformedTree, "boxes is %T", tree["boxes"])
	}
	records := make([]graph.Record, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, errors.Wrapf(ErrMalformedTree, "box %d is %T", i, item)
		}
		kind, _ := m["kind"].(string)
		idText, _ := m["id"].(string)
		if kind == "" || idText == "" {
			return nil, errors.Wrapf(ErrMalformedTree, "box %d lacks kind or id", i)
		}
		id, err := address.ParseIdentity(idText)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedTree, "box %d: %v", i, err)
		}
		fields := m["fields"]
		if fields == nil {
			fields = map[string]any{}
		}
		records = append(records, graph.Record{Kind: kind, ID: id, Fields: fields})
	}
	return records, nil
}

// EncodeJSON renders ToTree as canonical JSON.
func EncodeJSON(g *graph.Graph) ([]byte, error) {
	return cas.CanonicalJSON(ToTree(g))
}

// DecodeJSON parses a JSON tree document into g. Numbers are kept exact
// until they reach their fields.
func DecodeJSON(data []byte, g *graph.Graph) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree map[string]any
	if err := dec.Decode(&tree); err != nil {
		return errors.Wrapf(ErrMalformedTree, "%v", err)
	}
	return FromTree(tree, g)
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), float64(int64(n)) == n
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}
