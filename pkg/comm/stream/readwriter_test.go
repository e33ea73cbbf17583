package stream

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadWriterLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	rw := New(&buf)
	require.NoError(t, rw.WritePacket([]byte("hello")))
	require.Equal(t, []byte{5, 0, 0, 0, 'h', 'e', 'l', 'l', 'o'}, buf.Bytes())
	require.NoError(t, rw.WritePacket(nil))

	pkt, err := rw.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), pkt)
	pkt, err = rw.ReadPacket()
	require.NoError(t, err)
	require.Empty(t, pkt)
}

func TestReadWriterOversize(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 1})
	rw := New(buf)
	rw.MaxPacketSize = 1024
	_, err := rw.ReadPacket()
	require.Error(t, err)
}

func TestReadWriterOverConn(t *testing.T) {
	a, b := net.Pipe()
	ra, rb := New(a), New(b)
	defer ra.Close()
	defer rb.Close()
	go ra.WritePacket([]byte{1, 2, 3})
	pkt, err := rb.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, pkt)
}
