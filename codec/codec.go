// Package codec reads and writes whole box graphs in the binary document
// format and in the tree format.
//
// Binary document layout (big-endian):
//
//	[int32 magic][int32 version][int32 payloadLength][payload]
//
// The payload is a record stream in creation order:
//
//	[uint32 count] then per box
//	[uint16 kindLength][kind][16-byte identity][uint32 fieldsLength][fields]
package codec

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"boxgraph/address"
	"boxgraph/graph"
)

const (
	// Magic is "BXGR".
	Magic int32 = 0x42584752
	// Version is the only version this package reads and writes.
	Version int32 = 1

	headerSize = 12
)

var (
	// ErrCorruptHeader is returned when the magic or the payload length does
	// not match.
	ErrCorruptHeader = errors.New("corrupt document header")

	// ErrUnsupportedVersion is returned for any version other than Version.
	ErrUnsupportedVersion = errors.New("unsupported document version")

	// ErrCorruptRecord is returned when the record stream is malformed.
	ErrCorruptRecord = errors.New("corrupt box record")
)

// Encode serializes every box of g.
func Encode(g *graph.Graph) []byte {
	return EncodeRecords(g.Export())
}

// EncodeRecords frames records as a binary document.
func EncodeRecords(records []graph.Record) []byte {
	payload := binary.BigEndian.AppendUint32(nil, uint32(len(records)))
	for _, r := range records {
		payload = binary.BigEndian.AppendUint16(payload, uint16(len(r.Kind)))
		payload = append(payload, r.Kind...)
		payload = append(payload, r.ID[:]...)
		payload = binary.BigEndian.AppendUint32(payload, uint32(len(r.Payload)))
		payload = append(payload, r.Payload...)
	}

	doc := make([]byte, 0, headerSize+len(payload))
	doc = binary.BigEndian.AppendUint32(doc, uint32(Magic))
	doc = binary.BigEndian.AppendUint32(doc, uint32(Version))
	doc = binary.BigEndian.AppendUint32(doc, uint32(len(payload)))
	return append(doc, payload...)
}

// Decode adds the boxes of a binary document to g. Nothing is added when
// decoding fails.
func Decode(data []byte, g *graph.Graph) error {
	records, err := DecodeRecords(data)
	if err != nil {
		return err
	}
	return g.Import(records)
}

// ReadHeader validates the document header and returns the payload.
func ReadHeader(data []byte) ([]byte, error) {
	if len(data) < headerSize {
		return nil, errors.Wrapf(ErrCorruptHeader, "document has %d bytes", len(data))
	}
	if magic := int32(binary.BigEndian.Uint32(data[0:4])); magic != Magic {
		return nil, errors.Wrapf(ErrCorruptHeader, "magic %#08x", uint32(magic))
	}
	if version := int32(binary.BigEndian.Uint32(data[4:8])); version != Version {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "version %d, want %d", version, Version)
	}
	length := int32(binary.BigEndian.Uint32(data[8:12]))
	if length < 0 || int(length) != len(data)-headerSize {
		return nil, errors.Wrapf(ErrCorruptHeader, "payload length %d, have %d bytes", length, len(data)-headerSize)
	}
	return data[headerSize:], nil
}

// DecodeRecords parses a binary document into records without touching
// any graph.
func DecodeRecords(data []byte) ([]graph.Record, error) {
	payload, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(payload)
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, errors.Wrap(ErrCorruptRecord, "missing record count")
	}
	// Each record takes at least 22 bytes.
	if int64(count)*22 > int64(r.Len()) {
		return nil, errors.Wrapf(ErrCorruptRecord, "%d records in %d bytes", count, r.Len())
	}
	records := make([]graph.Record, 0, count)
	for i := uint32(0); i < count; i++ {
		rec, err := readRecord(r)
		if err != nil {
			return nil, errors.Wrapf(err, "record %d", i)
		}
		records = append(records, rec)
	}
	if r.Len() != 0 {
		return nil, errors.Wrapf(ErrCorruptRecord, "%d trailing bytes", r.Len())
	}
	return records, nil
}

func readRecord(r *bytes.Reader) (graph.Record, error) {
	var rec graph.Record
	var kindLen uint16
	if err := binary.Read(r, binary.BigEndian, &kindLen); err != nil {
		return rec, errors.Wrap(ErrCorruptRecord, "kind length")
	}
	kind := make([]byte, kindLen)
	if _, err := readFull(r, kind); err != nil {
		return rec, errors.Wrap(ErrCorruptRecord, "kind")
	}
	var id address.Identity
	if _, err := readFull(r, id[:]); err != nil {
		return rec, errors.Wrap(ErrCorruptRecord, "identity")
	}
	var fieldsLen uint32
	if err := binary.Read(r, binary.BigEndian, &fieldsLen); err != nil {
		return rec, errors.Wrap(ErrCorruptRecord, "fields length")
	}
	if int64(fieldsLen) > int64(r.Len()) {
		return rec, errors.Wrapf(ErrCorruptRecord, "fields length %d, have %d bytes", fieldsLen, r.Len())
	}
	fields := make([]byte, fieldsLen)
	if _, err := readFull(r, fields); err != nil {
		return rec, errors.Wrap(ErrCorruptRecord, "fields")
	}
	rec.Kind = string(kind)
	rec.ID = id
	rec.Payload = fields
	return rec, nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if r.Len() < len(buf) {
		return 0, ErrCorruptRecord
	}
	return r.Read(buf)
}
