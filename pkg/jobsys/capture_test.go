package jobsys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedBufferKeepsEverythingBelowLimit(t *testing.T) {
	buf := newBoundedBuffer(16)

	n, err := buf.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("hello"), buf.Bytes())
}

func TestBoundedBufferMarksTruncation(t *testing.T) {
	buf := newBoundedBuffer(4)

	_, err := buf.Write([]byte("0123456789"))
	require.NoError(t, err)
	_, err = buf.Write([]byte("abcdef"))
	require.NoError(t, err)

	out := string(buf.Bytes())
	assert.Contains(t, out, "0123")
	assert.NotContains(t, out, "4567")
	assert.Contains(t, out, "12 bytes dropped")
}
