package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZlib_RoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte(`{"room_id": 7}`),
		[]byte(""),
		[]byte("a"),
		bytes.Repeat([]byte("payload "), 1024),
		{0x00, 0xff, 0x10, 0x80, 0x7f},
	}

	c := NewZlib()
	for _, in := range cases {
		compressed, err := c.Compress(in)
		require.NoError(t, err)

		out, err := c.Decompress(compressed)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestZlib_CompressesLargePayloads(t *testing.T) {
	c := NewZlib()
	in := bytes.Repeat([]byte(`{"room_id": 7}`), 500)

	compressed, err := c.Compress(in)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(in))
}

func TestZlib_DecompressGarbage(t *testing.T) {
	c := NewZlib()
	_, err := c.Decompress([]byte("not zlib data"))
	assert.Error(t, err)
}

func TestNoop_PassThrough(t *testing.T) {
	c := Noop{}
	in := []byte(`{"room_id": 7}`)

	compressed, err := c.Compress(in)
	require.NoError(t, err)
	assert.Equal(t, in, compressed)

	out, err := c.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
