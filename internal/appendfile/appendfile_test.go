package appendfile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.vtree")
	af, err := Open(path, nil)
	require.NoError(t, err)
	defer af.Close()

	off1, err := af.Append([]byte("hello"))
	require.NoError(t, err)
	off2, err := af.Append([]byte("world!!"))
	require.NoError(t, err)
	require.NotEqual(t, off1, off2)

	got1, err := af.Read(off1)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got1))

	got2, err := af.Read(off2)
	require.NoError(t, err)
	require.Equal(t, "world!!", string(got2))
}

func TestHeaderRoundTripAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.vtree")
	af, err := Open(path, nil)
	require.NoError(t, err)

	require.NoError(t, af.WriteHeader([]byte("my-header")))
	off, err := af.Append([]byte("node-data"))
	require.NoError(t, err)
	require.NoError(t, af.Sync())
	require.NoError(t, af.Close())

	af2, err := Open(path, nil)
	require.NoError(t, err)
	defer af2.Close()

	hdr, err := af2.ReadHeader()
	require.NoError(t, err)
	require.Equal(t, "my-header", string(hdr[:len("my-header")]))

	data, err := af2.Read(off)
	require.NoError(t, err)
	require.Equal(t, "node-data", string(data))
}

func TestTruncateResetsBody(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.vtree")
	af, err := Open(path, nil)
	require.NoError(t, err)
	defer af.Close()

	require.NoError(t, af.WriteHeader([]byte("sig")))
	_, err = af.Append([]byte("stale"))
	require.NoError(t, err)

	require.NoError(t, af.Truncate())
	require.Equal(t, int64(HeaderSize), af.Size())

	hdr, err := af.ReadHeader()
	require.NoError(t, err)
	for _, b := range hdr {
		require.Equal(t, byte(0), b)
	}
}

func TestRefCounterKeepsFileOpenAcrossRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.vtree")
	af, err := Open(path, nil)
	require.NoError(t, err)

	rc := NewRefCounter(af)
	rc.AddRef() // reader snapshot 1
	rc.AddRef() // reader snapshot 2

	require.NoError(t, rc.Close()) // owner drops its reference, not yet zero

	// Readers can still use the file.
	_, err = rc.File().Append([]byte("still-open"))
	require.NoError(t, err)

	require.NoError(t, rc.Release()) // reader 1 done
	require.NoError(t, rc.Release()) // reader 2 done, file now closed

	_, err = rc.File().Append([]byte("after-close"))
	require.Error(t, err)
}
