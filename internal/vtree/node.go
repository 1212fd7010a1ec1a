package vtree

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/vtreedb/vtree/internal/appendfile"
	"github.com/vtreedb/vtree/internal/mbr"
)

// Kind distinguishes leaf nodes (holding spatial data entries) from inner
// nodes (holding offsets to child nodes).
type Kind uint8

const (
	Leaf Kind = iota
	Inner
)

// LeafEntry is a single (mbr, doc_id) data entry held by a leaf node.
type LeafEntry struct {
	MBR   mbr.Box
	DocID []byte
}

// Node is one on-disk tree record: an MBR, a kind, and that kind's
// children. For a leaf node, Leaves holds the data entries and Children is
// unused; for an inner node, Children holds offsets to child nodes and
// Leaves is unused.
type Node struct {
	MBR      mbr.Box
	Kind     Kind
	Leaves   []LeafEntry
	Children []appendfile.Offset
}

// flagCompressed marks a record as zstd-compressed so decode works
// regardless of the writer's current CompressNodes setting — the same
// file may contain records written under different configs over its
// lifetime.
const (
	flagPlain      byte = 0
	flagCompressed byte = 1
)

var zstdEncoder, _ = zstd.NewWriter(nil)
var zstdDecoder, _ = zstd.NewReader(nil)

func encodeNode(n *Node, compress bool) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(n.Kind))
	for _, v := range []float64{n.MBR.W, n.MBR.S, n.MBR.E, n.MBR.N} {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("vtree: encode mbr: %w", err)
		}
	}
	switch n.Kind {
	case Leaf:
		if err := binary.Write(&buf, binary.LittleEndian, uint64(len(n.Leaves))); err != nil {
			return nil, err
		}
		for _, e := range n.Leaves {
			for _, v := range []float64{e.MBR.W, e.MBR.S, e.MBR.E, e.MBR.N} {
				if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
					return nil, err
				}
			}
			if err := binary.Write(&buf, binary.LittleEndian, uint64(len(e.DocID))); err != nil {
				return nil, err
			}
			buf.Write(e.DocID)
		}
	case Inner:
		if err := binary.Write(&buf, binary.LittleEndian, uint64(len(n.Children))); err != nil {
			return nil, err
		}
		for _, c := range n.Children {
			if err := binary.Write(&buf, binary.LittleEndian, uint64(c)); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("vtree: unknown node kind %d", n.Kind)
	}

	if !compress {
		return append([]byte{flagPlain}, buf.Bytes()...), nil
	}
	compressed := zstdEncoder.EncodeAll(buf.Bytes(), nil)
	return append([]byte{flagCompressed}, compressed...), nil
}

func decodeNode(data []byte) (*Node, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty record", ErrCorruptNode)
	}
	flag, body := data[0], data[1:]
	if flag == flagCompressed {
		raw, err := zstdDecoder.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd decode: %v", ErrCorruptNode, err)
		}
		body = raw
	}

	r := bytes.NewReader(body)
	var kindByte byte
	if err := binary.Read(r, binary.LittleEndian, &kindByte); err != nil {
		return nil, fmt.Errorf("%w: kind: %v", ErrCorruptNode, err)
	}
	n := &Node{Kind: Kind(kindByte)}

	var coords [4]float64
	for i := range coords {
		if err := binary.Read(r, binary.LittleEndian, &coords[i]); err != nil {
			return nil, fmt.Errorf("%w: mbr: %v", ErrCorruptNode, err)
		}
	}
	n.MBR = mbr.Box{W: coords[0], S: coords[1], E: coords[2], N: coords[3]}

	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: count: %v", ErrCorruptNode, err)
	}

	switch n.Kind {
	case Leaf:
		n.Leaves = make([]LeafEntry, count)
		for i := range n.Leaves {
			var c [4]float64
			for j := range c {
				if err := binary.Read(r, binary.LittleEndian, &c[j]); err != nil {
					return nil, fmt.Errorf("%w: leaf mbr: %v", ErrCorruptNode, err)
				}
			}
			var idLen uint64
			if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
				return nil, fmt.Errorf("%w: docid len: %v", ErrCorruptNode, err)
			}
			id := make([]byte, idLen)
			if _, err := r.Read(id); err != nil {
				return nil, fmt.Errorf("%w: docid: %v", ErrCorruptNode, err)
			}
			n.Leaves[i] = LeafEntry{MBR: mbr.Box{W: c[0], S: c[1], E: c[2], N: c[3]}, DocID: id}
		}
	case Inner:
		n.Children = make([]appendfile.Offset, count)
		for i := range n.Children {
			var off uint64
			if err := binary.Read(r, binary.LittleEndian, &off); err != nil {
				return nil, fmt.Errorf("%w: child offset: %v", ErrCorruptNode, err)
			}
			n.Children[i] = appendfile.Offset(off)
		}
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrCorruptNode, n.Kind)
	}
	return n, nil
}

// mergedMBR recomputes a node's MBR from its current children, used after
// a leaf shrinks or an inner node's child set changes.
func mergedMBR(n *Node) mbr.Box {
	switch n.Kind {
	case Leaf:
		boxes := make([]mbr.Box, len(n.Leaves))
		for i, e := range n.Leaves {
			boxes[i] = e.MBR
		}
		return mbr.MergeAll(boxes)
	default:
		return n.MBR
	}
}
