package storage

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	m := NewMemory(16)
	require.Equal(t, uint32(16), m.Size())
	buf := make([]byte, 4)
	require.NoError(t, m.Read(0, buf))
	require.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, buf)
	require.NoError(t, m.Write(12, []byte{1, 2, 3, 4}))
	require.NoError(t, m.Read(12, buf))
	require.Equal(t, []byte{1, 2, 3, 4}, buf)

	err := m.Write(13, []byte{1, 2, 3, 4})
	require.IsType(t, &RangeError{}, err)
	require.Error(t, m.Read(16, buf[:1]))
}

func TestFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "storage")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "flash.bin")

	d, err := OpenFile(path, 64)
	require.NoError(t, err)
	require.NoError(t, d.Write(10, []byte("gos")))
	require.NoError(t, d.Close())

	d, err = OpenFile(path, 64)
	require.NoError(t, err)
	defer d.Close()
	buf := make([]byte, 5)
	require.NoError(t, d.Read(9, buf))
	require.Equal(t, []byte{0xff, 'g', 'o', 's', 0xff}, buf)
	require.Error(t, d.Write(62, buf))
}

func TestFlash(t *testing.T) {
	f := NewFlash(0x08000000, 32)
	require.Equal(t, ErrLocked, f.WriteChunk(0x08000000, []byte{1}))
	require.NoError(t, f.Unlock())
	require.NoError(t, f.WriteChunk(0x08000004, []byte{1, 2}))
	require.Equal(t, ErrNotErased, f.WriteChunk(0x08000005, []byte{3}))
	require.NoError(t, f.Erase(0x08000000, 8))
	require.NoError(t, f.WriteChunk(0x08000005, []byte{3}))
	require.NoError(t, f.Lock())

	buf := make([]byte, 3)
	require.NoError(t, f.Read(0x08000004, buf))
	require.Equal(t, []byte{0xff, 3, 0xff}, buf)
	require.Error(t, f.Read(0x07ffffff, buf))
	require.Error(t, f.Erase(0x08000010, 32))
}
