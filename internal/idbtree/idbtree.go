// Package idbtree persists the updater's doc_id -> [(index_id, mbr)]
// mapping so removes can be computed without re-running the spatial
// function against a deleted document. It wraps Pebble with an Options
// struct tuned for write-heavy small-key workloads and uses only point
// Set/Get/Delete operations; it performs no range scans.
package idbtree

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/vtreedb/vtree/internal/mbr"
)

// Entry is one (index_id, mbr) pair a document contributed to a group's
// combined spatial index.
type Entry struct {
	IndexID uint32
	MBR     mbr.Box
}

// Store is the id-btree: a persistent map from doc_id to the set of
// entries that document currently contributes.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) the id-btree at dir.
func Open(dir string) (*Store, error) {
	opts := &pebble.Options{
		MemTableSize:                16 << 20,
		MemTableStopWritesThreshold: 4,
		L0CompactionThreshold:       4,
		L0StopWritesThreshold:       12,
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("idbtree: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close cleanly shuts down the underlying Pebble instance.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put replaces the full entry set for docID. An empty entries slice is
// equivalent to Delete.
func (s *Store) Put(docID []byte, entries []Entry) error {
	if len(entries) == 0 {
		return s.Delete(docID)
	}
	val, err := encodeEntries(entries)
	if err != nil {
		return fmt.Errorf("idbtree: encode entries for %q: %w", docID, err)
	}
	if err := s.db.Set(docID, val, pebble.Sync); err != nil {
		return fmt.Errorf("idbtree: put %q: %w", docID, err)
	}
	return nil
}

// Get returns the entry set previously stored for docID, or nil if none.
func (s *Store) Get(docID []byte) ([]Entry, error) {
	val, closer, err := s.db.Get(docID)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idbtree: get %q: %w", docID, err)
	}
	defer closer.Close()
	entries, err := decodeEntries(val)
	if err != nil {
		return nil, fmt.Errorf("idbtree: decode entries for %q: %w", docID, err)
	}
	return entries, nil
}

// Delete removes docID's entry set entirely.
func (s *Store) Delete(docID []byte) error {
	if err := s.db.Delete(docID, pebble.Sync); err != nil {
		return fmt.Errorf("idbtree: delete %q: %w", docID, err)
	}
	return nil
}

// Diff computes the adds/removes needed to move docID's stored entry set to
// newEntries, per index_id — the operation the updater calls on every
// changed document instead of re-running the spatial function against
// documents it can no longer read (deletions).
func (s *Store) Diff(docID []byte, newEntries []Entry) (adds, removes []Entry, err error) {
	old, err := s.Get(docID)
	if err != nil {
		return nil, nil, err
	}
	oldByIndex := map[uint32]mbr.Box{}
	for _, e := range old {
		oldByIndex[e.IndexID] = e.MBR
	}
	newByIndex := map[uint32]mbr.Box{}
	for _, e := range newEntries {
		newByIndex[e.IndexID] = e.MBR
	}
	for idx, b := range newByIndex {
		oldBox, ok := oldByIndex[idx]
		if !ok {
			adds = append(adds, Entry{IndexID: idx, MBR: b})
			continue
		}
		if oldBox != b {
			// Same index, moved box: the tree identifies leaf entries by
			// (doc_id, mbr), so a position change must remove the stale
			// entry as well as add the new one, not just add the new one
			// on top.
			removes = append(removes, Entry{IndexID: idx, MBR: oldBox})
			adds = append(adds, Entry{IndexID: idx, MBR: b})
		}
	}
	for idx, b := range oldByIndex {
		if _, ok := newByIndex[idx]; !ok {
			removes = append(removes, Entry{IndexID: idx, MBR: b})
		}
	}
	return adds, removes, nil
}

func encodeEntries(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(entries))); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := binary.Write(&buf, binary.LittleEndian, e.IndexID); err != nil {
			return nil, err
		}
		for _, v := range []float64{e.MBR.W, e.MBR.S, e.MBR.E, e.MBR.N} {
			if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
				return nil, err
			}
		}
	}
	return buf.Bytes(), nil
}

func decodeEntries(data []byte) ([]Entry, error) {
	r := bytes.NewReader(data)
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	entries := make([]Entry, count)
	for i := range entries {
		if err := binary.Read(r, binary.LittleEndian, &entries[i].IndexID); err != nil {
			return nil, err
		}
		var c [4]float64
		for j := range c {
			if err := binary.Read(r, binary.LittleEndian, &c[j]); err != nil {
				return nil, err
			}
		}
		entries[i].MBR = mbr.Box{W: c[0], S: c[1], E: c[2], N: c[3]}
	}
	return entries, nil
}
