package docdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutAdvancesCurrentSeqNotCommitted(t *testing.T) {
	db := NewMemDB("test")
	seq := db.Put([]byte("doc1"), nil)
	require.Equal(t, uint64(1), seq)

	cur, err := db.CurrentSeq(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), cur)

	committed, err := db.CommittedSeq(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(0), committed)
}

func TestCommitAdvancesWatermark(t *testing.T) {
	db := NewMemDB("test")
	db.Put([]byte("doc1"), nil)
	db.Put([]byte("doc2"), nil)
	db.Commit(1)

	committed, err := db.CommittedSeq(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), committed)
}

func TestChangesSinceOrderingAndInvalidSeq(t *testing.T) {
	db := NewMemDB("test")
	db.Put([]byte("doc1"), nil)
	db.Delete([]byte("doc2"))

	ch, err := db.ChangesSince(context.Background(), 0)
	require.NoError(t, err)
	var seqs []uint64
	for c := range ch {
		seqs = append(seqs, c.Seq)
	}
	require.Equal(t, []uint64{1, 2}, seqs)

	_, err = db.ChangesSince(context.Background(), 100)
	require.ErrorIs(t, err, ErrInvalidViewSeq)
}

func TestCloseFiresClosedChannel(t *testing.T) {
	db := NewMemDB("test")
	select {
	case <-db.Closed():
		t.Fatal("closed channel fired before Close")
	default:
	}
	require.NoError(t, db.Close())
	<-db.Closed()
}
