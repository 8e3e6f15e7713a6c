package disk

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesMissingImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image")
	assert.False(t, Exists(path))

	d, err := Open(path)
	require.NoError(t, err)
	defer d.Close()

	assert.True(t, Exists(path))
	assert.Equal(t, path, d.Path())
}

func TestTruncateZeroFills(t *testing.T) {
	d, err := Open(filepath.Join(t.TempDir(), "image"))
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Truncate(4096))
	size, err := d.Size()
	require.NoError(t, err)
	assert.EqualValues(t, 4096, size)

	buf := make([]byte, 4096)
	_, err = d.Seek(0, io.SeekStart)
	require.NoError(t, err)
	_, err = io.ReadFull(d, buf)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 4096), buf)
}

func TestReadBackWhatWasWritten(t *testing.T) {
	d, err := Open(filepath.Join(t.TempDir(), "image"))
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Truncate(1024))

	payload := []byte("cluster payload")
	_, err = d.Seek(100, io.SeekStart)
	require.NoError(t, err)
	n, err := d.Write(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.NoError(t, d.Flush())

	_, err = d.Seek(100, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, len(payload))
	_, err = io.ReadFull(d, buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf)
}

func TestRemoveUnlinksImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image")
	d, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, d.Close())
	require.NoError(t, d.Remove())
	assert.False(t, Exists(path))
}
