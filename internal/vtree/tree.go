// Package vtree implements a copy-on-write R-tree: MBR-based search,
// split-node insertion via a 4-way partition heuristic, and
// subtree-rebuilding deletion, all layered on the append-only file in
// internal/appendfile. Structurally it follows the chooseLeaf/adjustTree/
// Search shape of a classic paged R-tree, generalized from a fixed-size
// paged buffer pool to variable-length append-only records addressed by
// byte offset.
package vtree

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/vtreedb/vtree/internal/appendfile"
	"github.com/vtreedb/vtree/internal/mbr"
)

// Offset re-exports appendfile.Offset so callers of this package rarely
// need to import appendfile directly.
type Offset = appendfile.Offset

const InvalidOffset = appendfile.InvalidOffset

// Tree is a single R-tree instance over one append-only file. A group may
// hold several Trees (one per declared spatial index) sharing one file.
type Tree struct {
	af  *appendfile.File
	cfg Config
	log *zap.Logger
}

// New wraps af with the tree engine. af is owned by the caller (typically
// the group coordinator).
func New(af *appendfile.File, cfg Config, log *zap.Logger) *Tree {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tree{af: af, cfg: cfg.withDefaults(), log: log.Named("vtree")}
}

// GetNode fetches and decodes the node at off.
func (t *Tree) GetNode(off Offset) (*Node, error) {
	raw, err := t.af.Read(off)
	if err != nil {
		return nil, fmt.Errorf("vtree: get node at %d: %w", off, err)
	}
	return decodeNode(raw)
}

func (t *Tree) putNode(n *Node) (Offset, error) {
	data, err := encodeNode(n, t.cfg.CompressNodes)
	if err != nil {
		return InvalidOffset, fmt.Errorf("vtree: encode node: %w", err)
	}
	off, err := t.af.Append(data)
	if err != nil {
		return InvalidOffset, fmt.Errorf("vtree: append node: %w", err)
	}
	return off, nil
}

// insertOutcome is the result of a recursive Insert step: either ok
// (new_root_mbr, new_root_offset) or splitted (merged_mbr, off1, off2).
type insertOutcome struct {
	Split    bool
	MBR      mbr.Box
	Off1     Offset
	Off2     Offset
}

// Insert adds entry under root (InvalidOffset for an empty tree) and
// returns the new root offset.
func (t *Tree) Insert(root Offset, entry LeafEntry) (Offset, error) {
	outcome, err := t.insertRec(root, entry)
	if err != nil {
		return InvalidOffset, err
	}
	if !outcome.Split {
		return outcome.Off1, nil
	}
	// Root promotion: the outermost splitted() result creates a new inner
	// root, increasing tree height by one.
	newRoot := &Node{Kind: Inner, MBR: outcome.MBR, Children: []Offset{outcome.Off1, outcome.Off2}}
	off, err := t.putNode(newRoot)
	if err != nil {
		return InvalidOffset, err
	}
	t.log.Debug("promoted new root", zap.Uint64("offset", uint64(off)))
	return off, nil
}

func (t *Tree) insertRec(off Offset, entry LeafEntry) (insertOutcome, error) {
	if off == InvalidOffset {
		leaf := &Node{Kind: Leaf, MBR: entry.MBR, Leaves: []LeafEntry{entry}}
		newOff, err := t.putNode(leaf)
		if err != nil {
			return insertOutcome{}, err
		}
		return insertOutcome{MBR: entry.MBR, Off1: newOff}, nil
	}

	node, err := t.GetNode(off)
	if err != nil {
		return insertOutcome{}, err
	}

	if node.Kind == Leaf {
		children := append(append([]LeafEntry{}, node.Leaves...), entry)
		newMBR := mergedMBR(&Node{Kind: Leaf, Leaves: children})

		if len(children) < t.cfg.MaxFilled {
			newOff, err := t.putNode(&Node{Kind: Leaf, MBR: newMBR, Leaves: children})
			if err != nil {
				return insertOutcome{}, err
			}
			return insertOutcome{MBR: newMBR, Off1: newOff}, nil
		}

		return t.splitLeaf(children, newMBR)
	}

	// Inner node: choose-subtree by minimum MBR expansion, ties broken by
	// first occurrence in child order.
	chosenIdx, err := t.chooseSubtree(node.Children, entry.MBR)
	if err != nil {
		return insertOutcome{}, err
	}

	childOutcome, err := t.insertRec(node.Children[chosenIdx], entry)
	if err != nil {
		return insertOutcome{}, err
	}

	newChildren := append([]Offset{}, node.Children...)
	if !childOutcome.Split {
		newChildren[chosenIdx] = childOutcome.Off1
		newMBR, err := t.mergeChildrenMBR(newChildren)
		if err != nil {
			return insertOutcome{}, err
		}
		newOff, err := t.putNode(&Node{Kind: Inner, MBR: newMBR, Children: newChildren})
		if err != nil {
			return insertOutcome{}, err
		}
		return insertOutcome{MBR: newMBR, Off1: newOff}, nil
	}

	// Splitted child: replace its single slot with both new offsets.
	newChildren = append(newChildren[:chosenIdx], append([]Offset{childOutcome.Off1, childOutcome.Off2}, newChildren[chosenIdx+1:]...)...)

	if len(newChildren) < t.cfg.MaxFilled {
		newMBR, err := t.mergeChildrenMBR(newChildren)
		if err != nil {
			return insertOutcome{}, err
		}
		newOff, err := t.putNode(&Node{Kind: Inner, MBR: newMBR, Children: newChildren})
		if err != nil {
			return insertOutcome{}, err
		}
		return insertOutcome{MBR: newMBR, Off1: newOff}, nil
	}

	return t.splitInner(newChildren)
}

// chooseSubtree picks the child with minimum MBR expansion, first
// occurrence wins ties.
func (t *Tree) chooseSubtree(children []Offset, entryMBR mbr.Box) (int, error) {
	best := -1
	bestEnlargement := 0.0
	for i, c := range children {
		child, err := t.GetNode(c)
		if err != nil {
			return 0, err
		}
		enlargement := child.MBR.Enlargement(entryMBR)
		if best == -1 || enlargement < bestEnlargement {
			best = i
			bestEnlargement = enlargement
		}
	}
	if best == -1 {
		return 0, fmt.Errorf("vtree: inner node has no children")
	}
	return best, nil
}

func (t *Tree) mergeChildrenMBR(children []Offset) (mbr.Box, error) {
	boxes := make([]mbr.Box, len(children))
	for i, c := range children {
		child, err := t.GetNode(c)
		if err != nil {
			return mbr.Zero, err
		}
		boxes[i] = child.MBR
	}
	return mbr.MergeAll(boxes), nil
}

func (t *Tree) splitLeaf(children []LeafEntry, outer mbr.Box) (insertOutcome, error) {
	boxes := make([]mbr.Box, len(children))
	for i, e := range children {
		boxes[i] = e.MBR
	}
	res := split(boxes, outer)
	if res.Degenerate {
		t.log.Warn("degenerate leaf split partition", zap.String("note", res.Note), zap.Int("entries", len(children)))
	}

	groupA := pickLeaves(children, res.GroupA)
	groupB := pickLeaves(children, res.GroupB)
	mbrA := mergedMBR(&Node{Kind: Leaf, Leaves: groupA})
	mbrB := mergedMBR(&Node{Kind: Leaf, Leaves: groupB})

	offA, err := t.putNode(&Node{Kind: Leaf, MBR: mbrA, Leaves: groupA})
	if err != nil {
		return insertOutcome{}, err
	}
	offB, err := t.putNode(&Node{Kind: Leaf, MBR: mbrB, Leaves: groupB})
	if err != nil {
		return insertOutcome{}, err
	}
	return insertOutcome{Split: true, MBR: mbrA.Merge(mbrB), Off1: offA, Off2: offB}, nil
}

func (t *Tree) splitInner(children []Offset) (insertOutcome, error) {
	boxes := make([]mbr.Box, len(children))
	for i, c := range children {
		child, err := t.GetNode(c)
		if err != nil {
			return insertOutcome{}, err
		}
		boxes[i] = child.MBR
	}
	outer := mbr.MergeAll(boxes)
	res := split(boxes, outer)
	if res.Degenerate {
		t.log.Warn("degenerate inner split partition", zap.String("note", res.Note), zap.Int("children", len(children)))
	}

	groupA := pickOffsets(children, res.GroupA)
	groupB := pickOffsets(children, res.GroupB)
	mbrA, err := t.mergeChildrenMBR(groupA)
	if err != nil {
		return insertOutcome{}, err
	}
	mbrB, err := t.mergeChildrenMBR(groupB)
	if err != nil {
		return insertOutcome{}, err
	}

	offA, err := t.putNode(&Node{Kind: Inner, MBR: mbrA, Children: groupA})
	if err != nil {
		return insertOutcome{}, err
	}
	offB, err := t.putNode(&Node{Kind: Inner, MBR: mbrB, Children: groupB})
	if err != nil {
		return insertOutcome{}, err
	}
	return insertOutcome{Split: true, MBR: mbrA.Merge(mbrB), Off1: offA, Off2: offB}, nil
}

func pickLeaves(all []LeafEntry, idx []int) []LeafEntry {
	out := make([]LeafEntry, len(idx))
	for i, j := range idx {
		out[i] = all[j]
	}
	return out
}

func pickOffsets(all []Offset, idx []int) []Offset {
	out := make([]Offset, len(idx))
	for i, j := range idx {
		out[i] = all[j]
	}
	return out
}

// Lookup returns every entry whose MBR is not disjoint from query,
// pruning inner subtrees whose MBR is disjoint from query rather than
// descending into every inner child unconditionally.
func (t *Tree) Lookup(root Offset, query mbr.Box) ([]LeafEntry, error) {
	if root == InvalidOffset {
		return nil, nil
	}
	node, err := t.GetNode(root)
	if err != nil {
		return nil, err
	}
	var out []LeafEntry
	if err := t.lookupFetched(node, query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Tree) lookupFetched(node *Node, query mbr.Box, out *[]LeafEntry) error {
	if node.Kind == Leaf {
		for _, e := range node.Leaves {
			if !e.MBR.Disjoint(query) {
				*out = append(*out, e)
			}
		}
		return nil
	}
	for _, c := range node.Children {
		child, err := t.GetNode(c)
		if err != nil {
			return err
		}
		if child.MBR.Disjoint(query) {
			continue
		}
		if err := t.lookupFetched(child, query, out); err != nil {
			return err
		}
	}
	return nil
}

// AddRemove applies removes then adds, each individually, against root,
// producing successive root offsets.
func (t *Tree) AddRemove(root Offset, adds, removes []LeafEntry) (Offset, error) {
	cur := root
	for _, r := range removes {
		newRoot, err := t.Delete(cur, r.DocID, r.MBR)
		if err != nil {
			return InvalidOffset, fmt.Errorf("vtree: add_remove delete %q: %w", r.DocID, err)
		}
		cur = newRoot
	}
	for _, a := range adds {
		newRoot, err := t.Insert(cur, a)
		if err != nil {
			return InvalidOffset, fmt.Errorf("vtree: add_remove insert %q: %w", a.DocID, err)
		}
		cur = newRoot
	}
	return cur, nil
}

type deleteOutcome int

const (
	delOK deleteOutcome = iota
	delEmpty
	delNotFound
)

// Delete removes the entry identified by (docID, docMBR) from root and
// returns the new root offset. A missing entry yields ErrNotFound; a tree
// that becomes fully empty yields (InvalidOffset, nil).
func (t *Tree) Delete(root Offset, docID []byte, docMBR mbr.Box) (Offset, error) {
	if root == InvalidOffset {
		return InvalidOffset, ErrNotFound
	}
	newOff, outcome, err := t.deleteRec(root, docID, docMBR)
	if err != nil {
		return InvalidOffset, err
	}
	switch outcome {
	case delNotFound:
		return InvalidOffset, ErrNotFound
	case delEmpty:
		return InvalidOffset, nil
	default:
		return newOff, nil
	}
}

func (t *Tree) deleteRec(off Offset, docID []byte, docMBR mbr.Box) (Offset, deleteOutcome, error) {
	node, err := t.GetNode(off)
	if err != nil {
		return InvalidOffset, delNotFound, err
	}
	if !docMBR.Within(node.MBR) {
		return off, delNotFound, nil
	}

	if node.Kind == Leaf {
		idx := -1
		for i, e := range node.Leaves {
			if bytesEqual(e.DocID, docID) {
				idx = i
				break
			}
		}
		if idx == -1 {
			return off, delNotFound, nil
		}
		if len(node.Leaves) == 1 {
			return InvalidOffset, delEmpty, nil
		}
		remaining := append(append([]LeafEntry{}, node.Leaves[:idx]...), node.Leaves[idx+1:]...)
		newMBR := mergedMBR(&Node{Kind: Leaf, Leaves: remaining})
		newOff, err := t.putNode(&Node{Kind: Leaf, MBR: newMBR, Leaves: remaining})
		if err != nil {
			return InvalidOffset, delNotFound, err
		}
		return newOff, delOK, nil
	}

	for i, c := range node.Children {
		childOff, outcome, err := t.deleteRec(c, docID, docMBR)
		if err != nil {
			return InvalidOffset, delNotFound, err
		}
		switch outcome {
		case delNotFound:
			continue
		case delEmpty:
			remaining := append(append([]Offset{}, node.Children[:i]...), node.Children[i+1:]...)
			if len(remaining) == 0 {
				return InvalidOffset, delEmpty, nil
			}
			newMBR, err := t.mergeChildrenMBR(remaining)
			if err != nil {
				return InvalidOffset, delNotFound, err
			}
			newOff, err := t.putNode(&Node{Kind: Inner, MBR: newMBR, Children: remaining})
			if err != nil {
				return InvalidOffset, delNotFound, err
			}
			return newOff, delOK, nil
		default: // delOK
			replaced := append([]Offset{}, node.Children...)
			replaced[i] = childOff
			newMBR, err := t.mergeChildrenMBR(replaced)
			if err != nil {
				return InvalidOffset, delNotFound, err
			}
			newOff, err := t.putNode(&Node{Kind: Inner, MBR: newMBR, Children: replaced})
			if err != nil {
				return InvalidOffset, delNotFound, err
			}
			return newOff, delOK, nil
		}
	}
	return off, delNotFound, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
