package spatialgroup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vtreedb/vtree/internal/appendfile"
	"github.com/vtreedb/vtree/internal/docdb"
	"github.com/vtreedb/vtree/internal/mbr"
	"github.com/vtreedb/vtree/internal/vtree"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CommitDelay = 20 * time.Millisecond
	cfg.CheckpointDocs = 3
	cfg.CheckpointInterval = 20 * time.Millisecond
	return cfg
}

func box(w, s, e, n float64) mbr.Box { return mbr.Box{W: w, S: s, E: e, N: n} }

func openTestGroup(t *testing.T, db *docdb.MemDB, def *Definition) *Group {
	t.Helper()
	dir := t.TempDir()
	openDB := func(ctx context.Context, name string) (docdb.DB, error) {
		return db.Handle(), nil
	}
	g, err := Open(db.Name(), "design/spatial", def, dir, filepath.Join(dir, "idb"), testConfig(), nil, openDB, nil)
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g
}

func emit(idx uint32, b mbr.Box) docdb.Emission { return docdb.Emission{IndexID: idx, MBR: b} }

// E6: request at seq=0 with current_seq=0 replies immediately; a request
// beyond the current sequence enqueues and only replies once the updater
// catches up.
func TestE6_RequestGroupImmediateAndDeferred(t *testing.T) {
	db := docdb.NewMemDB("geo")
	def := NewDefinition([]IndexSpec{{Name: "by_bbox", FunctionBody: "f"}}, "javascript", nil)
	g := openTestGroup(t, db, def)

	ctx := context.Background()
	snap, err := g.RequestGroup(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(0), snap.CurrentSeq)
	require.NoError(t, snap.Release())

	for i := 0; i < 5; i++ {
		db.Put([]byte(uuid.New().String()), []docdb.Emission{emit(0, box(float64(i), float64(i), float64(i+1), float64(i+1)))})
	}
	db.Commit(5)

	deferredCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	snap2, err := g.RequestGroup(deferredCtx, 5)
	require.NoError(t, err)
	require.GreaterOrEqual(t, snap2.CurrentSeq, uint64(5))
	hits, err := snap2.Lookup("by_bbox", box(0, 0, 10, 10))
	require.NoError(t, err)
	require.Len(t, hits, 5)
	require.NoError(t, snap2.Release())
}

func TestGroup_DeleteRemovesEntry(t *testing.T) {
	db := docdb.NewMemDB("geo")
	def := NewDefinition([]IndexSpec{{Name: "by_bbox", FunctionBody: "f"}}, "javascript", nil)
	g := openTestGroup(t, db, def)

	db.Put([]byte("a"), []docdb.Emission{emit(0, box(0, 0, 1, 1))})
	db.Put([]byte("b"), []docdb.Emission{emit(0, box(0, 0, 1, 1))})
	seq := db.Delete([]byte("a"))
	db.Commit(seq)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := g.RequestGroup(ctx, seq)
	require.NoError(t, err)
	defer snap.Release()

	hits, err := snap.Lookup("by_bbox", box(0, 0, 1, 1))
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "b", string(hits[0].DocID))
}

func TestGroup_UpdateDiffsEmissions(t *testing.T) {
	db := docdb.NewMemDB("geo")
	def := NewDefinition([]IndexSpec{{Name: "by_bbox", FunctionBody: "f"}}, "javascript", nil)
	g := openTestGroup(t, db, def)

	db.Put([]byte("a"), []docdb.Emission{emit(0, box(0, 0, 1, 1))})
	seq := db.Put([]byte("a"), []docdb.Emission{emit(0, box(50, 50, 51, 51))})
	db.Commit(seq)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := g.RequestGroup(ctx, seq)
	require.NoError(t, err)
	defer snap.Release()

	stale, err := snap.Lookup("by_bbox", box(0, 0, 1, 1))
	require.NoError(t, err)
	require.Empty(t, stale, "old emission must be removed on update")

	fresh, err := snap.Lookup("by_bbox", box(50, 50, 51, 51))
	require.NoError(t, err)
	require.Len(t, fresh, 1)
}

// Durability: the header is only committed once the database's committed
// sequence covers the indexed range; a reopened group resumes from the
// last committed header rather than resetting, and never observes a
// state fresher than what was committed when this test's first
// RequestGroup succeeded.
func TestGroup_RecoversFromHeaderOnReopen(t *testing.T) {
	db := docdb.NewMemDB("geo")
	def := NewDefinition([]IndexSpec{{Name: "by_bbox", FunctionBody: "f"}}, "javascript", nil)

	dir := t.TempDir()
	idbDir := filepath.Join(dir, "idb")
	openDB := func(ctx context.Context, name string) (docdb.DB, error) { return db.Handle(), nil }

	g, err := Open(db.Name(), "design/spatial", def, dir, idbDir, testConfig(), nil, openDB, nil)
	require.NoError(t, err)

	seq := db.Put([]byte("a"), []docdb.Emission{emit(0, box(0, 0, 1, 1))})
	db.Commit(seq)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := g.RequestGroup(ctx, seq)
	require.NoError(t, err)
	require.NoError(t, snap.Release())

	// Give delayed_commit a chance to fire and write the header.
	time.Sleep(150 * time.Millisecond)
	g.Close()
	<-g.Done()

	g2, err := Open(db.Name(), "design/spatial", def, dir, idbDir, testConfig(), nil, openDB, nil)
	require.NoError(t, err)
	defer g2.Close()

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	snap2, err := g2.RequestGroup(ctx2, 0)
	require.NoError(t, err)
	defer snap2.Release()
	require.GreaterOrEqual(t, snap2.CurrentSeq, seq, "reopened group must resume from the committed header, not reset")

	hits, err := snap2.Lookup("by_bbox", box(0, 0, 1, 1))
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestGroup_SignatureMismatchResets(t *testing.T) {
	db := docdb.NewMemDB("geo")
	def := NewDefinition([]IndexSpec{{Name: "by_bbox", FunctionBody: "f1"}}, "javascript", nil)

	dir := t.TempDir()
	designRoot := filepath.Join(dir, "design/spatial")
	require.NoError(t, os.MkdirAll(designRoot, 0755))
	path := filepath.Join(designRoot, def.FileName())

	// Write a header carrying a foreign signature and a nonzero seq,
	// simulating a file left over from a prior, different index
	// definition under the same (collided) file name.
	af, err := appendfile.Open(path, nil)
	require.NoError(t, err)
	foreign := State{CurrentSeq: 999, Roots: make([]vtree.Offset, def.NumRoots())}
	data, err := vtree.EncodeHeader(foreign.toHeader([16]byte{0xFF}))
	require.NoError(t, err)
	require.NoError(t, af.WriteHeader(data))
	require.NoError(t, af.Close())

	openDB := func(ctx context.Context, name string) (docdb.DB, error) { return db.Handle(), nil }
	g, err := Open(db.Name(), "design/spatial", def, dir, filepath.Join(dir, "idb"), testConfig(), nil, openDB, nil)
	require.NoError(t, err)
	defer g.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	snap, err := g.RequestGroup(ctx, 0)
	require.NoError(t, err)
	defer snap.Release()
	require.Equal(t, uint64(0), snap.CurrentSeq, "signature mismatch must reset current_seq, not resume the foreign 999")
}
