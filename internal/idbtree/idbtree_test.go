package idbtree

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vtreedb/vtree/internal/mbr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "idbtree"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	entries := []Entry{
		{IndexID: 0, MBR: mbr.Box{W: 0, S: 0, E: 1, N: 1}},
		{IndexID: 1, MBR: mbr.Box{W: 5, S: 5, E: 6, N: 6}},
	}
	require.NoError(t, s.Put([]byte("doc1"), entries))

	got, err := s.Get([]byte("doc1"))
	require.NoError(t, err)
	require.ElementsMatch(t, entries, got)
}

func TestGetMissingReturnsNil(t *testing.T) {
	s := openTestStore(t)
	got, err := s.Get([]byte("nope"))
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestPutEmptyDeletes(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put([]byte("doc1"), []Entry{{IndexID: 0, MBR: mbr.Box{E: 1, N: 1}}}))
	require.NoError(t, s.Put([]byte("doc1"), nil))

	got, err := s.Get([]byte("doc1"))
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestDiffComputesAddsAndRemoves(t *testing.T) {
	s := openTestStore(t)
	docID := []byte("doc1")

	adds, removes, err := s.Diff(docID, []Entry{{IndexID: 0, MBR: mbr.Box{E: 1, N: 1}}})
	require.NoError(t, err)
	require.Len(t, adds, 1)
	require.Empty(t, removes)
	require.NoError(t, s.Put(docID, adds))

	adds, removes, err = s.Diff(docID, []Entry{{IndexID: 1, MBR: mbr.Box{E: 2, N: 2}}})
	require.NoError(t, err)
	require.ElementsMatch(t, []Entry{{IndexID: 1, MBR: mbr.Box{E: 2, N: 2}}}, adds)
	require.ElementsMatch(t, []Entry{{IndexID: 0, MBR: mbr.Box{E: 1, N: 1}}}, removes)
}

func TestDiffSameIndexMovedBoxRemovesStaleEntry(t *testing.T) {
	s := openTestStore(t)
	docID := []byte("doc1")
	require.NoError(t, s.Put(docID, []Entry{{IndexID: 0, MBR: mbr.Box{W: 0, S: 0, E: 1, N: 1}}}))

	adds, removes, err := s.Diff(docID, []Entry{{IndexID: 0, MBR: mbr.Box{W: 50, S: 50, E: 51, N: 51}}})
	require.NoError(t, err)
	require.ElementsMatch(t, []Entry{{IndexID: 0, MBR: mbr.Box{W: 50, S: 50, E: 51, N: 51}}}, adds)
	require.ElementsMatch(t, []Entry{{IndexID: 0, MBR: mbr.Box{W: 0, S: 0, E: 1, N: 1}}}, removes)
}

func TestDiffAgainstDeletedDocumentRemovesEverything(t *testing.T) {
	s := openTestStore(t)
	docID := []byte("doc1")
	require.NoError(t, s.Put(docID, []Entry{{IndexID: 0, MBR: mbr.Box{E: 1, N: 1}}}))

	adds, removes, err := s.Diff(docID, nil)
	require.NoError(t, err)
	require.Empty(t, adds)
	require.ElementsMatch(t, []Entry{{IndexID: 0, MBR: mbr.Box{E: 1, N: 1}}}, removes)
}
