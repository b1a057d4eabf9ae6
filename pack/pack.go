// Package pack bundles a document and the batches committed after it into
// a single zstd-compressed file.
package pack

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"boxgraph/cas"
	"boxgraph/codec"
	"boxgraph/graph"
	"boxgraph/proto"
)

// Pack format, compressed as one zstd stream:
// [4 bytes: header length (big-endian)]
// [header JSON: proto.PackHeader]
// [entry data...]
//
// Entry offsets are relative to the start of the data section.

const (
	HeaderLengthSize = 4
	MaxHeaderSize    = 10 * 1024 * 1024
	// MaxPackSize bounds the decompressed size of a pack.
	MaxPackSize = 1 << 30

	// KindDocument entries hold a binary document.
	KindDocument = "document"
	// KindBatch entries hold a JSON proto.BatchMessage.
	KindBatch = "batch"
)

// ErrCorruptPack is returned for packs that fail to parse or verify.
var ErrCorruptPack = errors.New("corrupt pack")

// Object is one entry to be packed.
type Object struct {
	Kind    string
	Content []byte
}

// Entry is one verified entry of a read pack.
type Entry struct {
	Digest  []byte
	Kind    string
	Content []byte
}

// Pack is a decoded pack.
type Pack struct {
	Entries []Entry
}

// Build creates a zstd-compressed pack. Digests are computed here.
func Build(objects []Object, opts ...zstd.EOption) ([]byte, error) {
	var header proto.PackHeader
	var data bytes.Buffer
	for _, obj := range objects {
		header.Entries = append(header.Entries, proto.PackEntry{
			Digest: cas.Blake3Hash(obj.Content),
			Kind:   obj.Kind,
			Offset: int64(data.Len()),
			Length: int64(len(obj.Content)),
		})
		data.Write(obj.Content)
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling header")
	}

	var compressed bytes.Buffer
	encoder, err := zstd.NewWriter(&compressed, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating zstd encoder")
	}
	for _, part := range [][]byte{
		binary.BigEndian.AppendUint32(nil, uint32(len(headerJSON))),
		headerJSON,
		data.Bytes(),
	} {
		if _, err := encoder.Write(part); err != nil {
			encoder.Close()
			return nil, errors.Wrap(err, "compressing")
		}
	}
	if err := encoder.Close(); err != nil {
		return nil, errors.Wrap(err, "closing encoder")
	}
	return compressed.Bytes(), nil
}

// Read decompresses a pack of up to MaxPackSize bytes and verifies every
// entry digest.
func Read(r io.Reader) (*Pack, error) {
	return ReadLimit(r, MaxPackSize)
}

// ReadLimit is Read with a custom bound on the decompressed size.
func ReadLimit(r io.Reader, limit int64) (*Pack, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "creating zstd decoder")
	}
	defer decoder.Close()

	decompressed, err := io.ReadAll(io.LimitReader(decoder, limit+1))
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptPack, "decompressing: %v", err)
	}
	if int64(len(decompressed)) > limit {
		return nil, errors.Wrapf(ErrCorruptPack, "pack exceeds %d bytes", limit)
	}
	if len(decompressed) < HeaderLengthSize {
		return nil, errors.Wrapf(ErrCorruptPack, "pack too small: %d bytes", len(decompressed))
	}

	headerLen := int64(binary.BigEndian.Uint32(decompressed[:HeaderLengthSize]))
	if headerLen > MaxHeaderSize {
		return nil, errors.Wrapf(ErrCorruptPack, "header too large: %d bytes", headerLen)
	}
	if HeaderLengthSize+headerLen > int64(len(decompressed)) {
		return nil, errors.Wrap(ErrCorruptPack, "header length exceeds pack size")
	}

	var header proto.PackHeader
	if err := json.Unmarshal(decompressed[HeaderLengthSize:HeaderLengthSize+headerLen], &header); err != nil {
		return nil, errors.Wrapf(ErrCorruptPack, "parsing header: %v", err)
	}

	data := decompressed[HeaderLengthSize+headerLen:]
	p := &Pack{Entries: make([]Entry, 0, len(header.Entries))}
	for i, e := range header.Entries {
		if e.Offset < 0 || e.Length < 0 || e.Offset+e.Length > int64(len(data)) {
			return nil, errors.Wrapf(ErrCorruptPack, "entry %d extends beyond data", i)
		}
		content := data[e.Offset : e.Offset+e.Length]
		if !bytes.Equal(cas.Blake3Hash(content), e.Digest) {
			return nil, errors.Wrapf(ErrCorruptPack, "digest mismatch for entry %d at offset %d", i, e.Offset)
		}
		p.Entries = append(p.Entries, Entry{Digest: e.Digest, Kind: e.Kind, Content: content})
	}
	return p, nil
}

// ----- Sessions -----

// FromGraph packs the current document of g followed by batches.
func FromGraph(g *graph.Graph, batches []proto.BatchMessage, opts ...zstd.EOption) ([]byte, error) {
	objects := []Object{{Kind: KindDocument, Content: codec.Encode(g)}}
	for _, b := range batches {
		content, err := json.Marshal(b)
		if err != nil {
			return nil, errors.Wrapf(err, "marshaling batch %d", b.Seq)
		}
		objects = append(objects, Object{Kind: KindBatch, Content: content})
	}
	return Build(objects, opts...)
}

// Document returns the content of the first document entry.
func (p *Pack) Document() ([]byte, bool) {
	for _, e := range p.Entries {
		if e.Kind == KindDocument {
			return e.Content, true
		}
	}
	return nil, false
}

// Batches decodes the batch entries in pack order.
func (p *Pack) Batches() ([]proto.BatchMessage, error) {
	var out []proto.BatchMessage
	for i, e := range p.Entries {
		if e.Kind != KindBatch {
			continue
		}
		var msg proto.BatchMessage
		if err := json.Unmarshal(e.Content, &msg); err != nil {
			return nil, errors.Wrapf(ErrCorruptPack, "entry %d: %v", i, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

// Restore loads the pack's document into g and replays its batches, each
// in its own transaction without undo recording. Batch sequence numbers
// must increase.
func (p *Pack) Restore(g *graph.Graph) error {
	doc, ok := p.Document()
	if !ok {
		return errors.Wrap(ErrCorruptPack, "no document entry")
	}
	batches, err := p.Batches()
	if err != nil {
		return err
	}
	if err := codec.Decode(doc, g); err != nil {
		return errors.Wrap(err, "loading document")
	}
	var last uint64
	for _, b := range batches {
		if b.Seq <= last {
			return errors.Wrapf(ErrCorruptPack, "batch %d follows batch %d", b.Seq, last)
		}
		last = b.Seq
		changes, err := b.ToChanges()
		if err != nil {
			return err
		}
		if err := g.Transact(func() error { return g.ApplyAll(changes) }, graph.WithoutUndo()); err != nil {
			return errors.Wrapf(err, "replaying batch %d", b.Seq)
		}
	}
	return nil
}
