package vtree

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vtreedb/vtree/internal/appendfile"
)

// legacyMagic is a prior header-marker format accepted on read and
// rewritten in the current format on the next WriteHeader.
var legacyMagic = []byte("rck\x00")

// Header is the spatial group state persisted at the file's fixed header
// slot: signature, sequence bookkeeping, id-btree state, and one tree root
// offset per declared index.
type Header struct {
	Signature    [16]byte
	CurrentSeq   uint64
	PurgeSeq     uint64
	IDBTreeState []byte
	Roots        []appendfile.Offset
}

// Signature hashes an index definition's serialized form into the 16-byte
// key used both as the header's identity check and the index file's name:
// a cryptographic hash over (indices, language, design_options).
func Signature(definition []byte) [16]byte {
	return md5.Sum(definition)
}

// EncodeHeader serializes h in the current (non-legacy) format.
func EncodeHeader(h *Header) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(h.Signature[:])
	if err := binary.Write(&buf, binary.LittleEndian, h.CurrentSeq); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, h.PurgeSeq); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint64(len(h.IDBTreeState))); err != nil {
		return nil, err
	}
	buf.Write(h.IDBTreeState)
	if err := binary.Write(&buf, binary.LittleEndian, uint64(len(h.Roots))); err != nil {
		return nil, err
	}
	for _, r := range h.Roots {
		if err := binary.Write(&buf, binary.LittleEndian, uint64(r)); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeHeader parses a header record, accepting and stripping the legacy
// "rck\0" magic prefix if present. legacy reports whether that prefix was
// found, so the caller can rewrite the header in the current format.
func DecodeHeader(data []byte) (h *Header, legacy bool, err error) {
	body := data
	if bytes.HasPrefix(data, legacyMagic) {
		legacy = true
		body = data[len(legacyMagic):]
	}

	r := bytes.NewReader(body)
	h = &Header{}
	if _, err := io.ReadFull(r, h.Signature[:]); err != nil {
		return nil, false, fmt.Errorf("vtree: decode header signature: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &h.CurrentSeq); err != nil {
		return nil, false, fmt.Errorf("vtree: decode header current_seq: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &h.PurgeSeq); err != nil {
		return nil, false, fmt.Errorf("vtree: decode header purge_seq: %w", err)
	}
	var idLen uint64
	if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
		return nil, false, fmt.Errorf("vtree: decode header id_btree_state len: %w", err)
	}
	h.IDBTreeState = make([]byte, idLen)
	if idLen > 0 {
		if _, err := io.ReadFull(r, h.IDBTreeState); err != nil {
			return nil, false, fmt.Errorf("vtree: decode header id_btree_state: %w", err)
		}
	}
	var rootsLen uint64
	if err := binary.Read(r, binary.LittleEndian, &rootsLen); err != nil {
		return nil, false, fmt.Errorf("vtree: decode header roots count: %w", err)
	}
	h.Roots = make([]appendfile.Offset, rootsLen)
	for i := range h.Roots {
		var off uint64
		if err := binary.Read(r, binary.LittleEndian, &off); err != nil {
			return nil, false, fmt.Errorf("vtree: decode header root %d: %w", i, err)
		}
		h.Roots[i] = appendfile.Offset(off)
	}
	return h, legacy, nil
}

// MatchesSignature reports whether h was written for the given index
// definition's signature. A mismatch (including an all-zero header from a
// freshly reserved, never-written file) triggers the caller's reset path.
func (h *Header) MatchesSignature(expected [16]byte) bool {
	return bytes.Equal(h.Signature[:], expected[:])
}
