package vtree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vtreedb/vtree/internal/appendfile"
)

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	sig := Signature([]byte(`{"indices":["by_location"],"language":"javascript"}`))
	h := &Header{
		Signature:    sig,
		CurrentSeq:   42,
		PurgeSeq:     3,
		IDBTreeState: []byte("pebble-manifest-ref"),
		Roots:        []appendfile.Offset{appendfile.InvalidOffset, 4096, 9001},
	}

	data, err := EncodeHeader(h)
	require.NoError(t, err)

	got, legacy, err := DecodeHeader(data)
	require.NoError(t, err)
	require.False(t, legacy)
	require.Equal(t, h.Signature, got.Signature)
	require.Equal(t, h.CurrentSeq, got.CurrentSeq)
	require.Equal(t, h.PurgeSeq, got.PurgeSeq)
	require.Equal(t, h.IDBTreeState, got.IDBTreeState)
	require.Equal(t, h.Roots, got.Roots)
	require.True(t, got.MatchesSignature(sig))
}

func TestHeaderLegacyMagicPrefixAccepted(t *testing.T) {
	h := &Header{Signature: Signature([]byte("def")), CurrentSeq: 7, Roots: []appendfile.Offset{4096}}
	data, err := EncodeHeader(h)
	require.NoError(t, err)

	legacyData := append(append([]byte{}, legacyMagic...), data...)

	got, legacy, err := DecodeHeader(legacyData)
	require.NoError(t, err)
	require.True(t, legacy)
	require.Equal(t, h.CurrentSeq, got.CurrentSeq)
	require.Equal(t, h.Roots, got.Roots)
}

func TestHeaderSignatureMismatchOnFreshFile(t *testing.T) {
	// A freshly reserved header region is all zero bytes; decoding it must
	// not error, but it must not match any real signature.
	fresh := make([]byte, appendfile.HeaderSize)
	h, legacy, err := DecodeHeader(fresh)
	require.NoError(t, err)
	require.False(t, legacy)
	require.False(t, h.MatchesSignature(Signature([]byte("anything"))))
}

func TestSignatureIsDeterministicPerDefinition(t *testing.T) {
	a := Signature([]byte(`{"indices":["x"]}`))
	b := Signature([]byte(`{"indices":["x"]}`))
	c := Signature([]byte(`{"indices":["y"]}`))
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}
