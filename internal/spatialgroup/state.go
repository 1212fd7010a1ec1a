package spatialgroup

import (
	"github.com/vtreedb/vtree/internal/vtree"
)

// State is the in-memory form of a spatial group's state: {current_seq,
// purge_seq, id_btree_state, [tree_root_per_index]}. The signature itself
// is not carried here — it is a property of the Definition the Group was
// opened with, checked once at open time.
type State struct {
	CurrentSeq uint64
	PurgeSeq   uint64
	// IDBTreeState is carried through the header as part of its layout,
	// but is not the source of truth for the id-btree's own durability:
	// internal/idbtree
	// is backed by Pebble, which fsyncs its own WAL on every Put/Delete
	// independently of this header's commit cadence. It is kept here,
	// opaque, so a reimplementation that relies on it for recovery still
	// round-trips correctly.
	IDBTreeState []byte
	// Roots holds one tree-root offset per id_num (Definition.NumRoots()),
	// InvalidOffset for an empty index.
	Roots []vtree.Offset
}

// stateFromHeader converts a decoded on-disk header into a State.
func stateFromHeader(h *vtree.Header, numRoots int) State {
	roots := make([]vtree.Offset, numRoots)
	copy(roots, h.Roots)
	return State{
		CurrentSeq:   h.CurrentSeq,
		PurgeSeq:     h.PurgeSeq,
		IDBTreeState: append([]byte{}, h.IDBTreeState...),
		Roots:        roots,
	}
}

// toHeader converts a State back into an on-disk header record under sig.
func (s State) toHeader(sig [16]byte) *vtree.Header {
	return &vtree.Header{
		Signature:    sig,
		CurrentSeq:   s.CurrentSeq,
		PurgeSeq:     s.PurgeSeq,
		IDBTreeState: s.IDBTreeState,
		Roots:        append([]vtree.Offset{}, s.Roots...),
	}
}

// clone returns a deep-enough copy of s so callers may mutate the roots
// slice independently of the version handed to a reader snapshot.
func (s State) clone() State {
	return State{
		CurrentSeq:   s.CurrentSeq,
		PurgeSeq:     s.PurgeSeq,
		IDBTreeState: s.IDBTreeState,
		Roots:        append([]vtree.Offset{}, s.Roots...),
	}
}
