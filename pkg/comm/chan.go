package comm

import (
	"io"
	"sync"
)

// ChanReadWriter is an in-process PacketReadWriter backed by channels.
type ChanReadWriter struct {
	in   <-chan []byte
	out  chan<- []byte
	done chan struct{}
	once *sync.Once
}

// NewChanPair creates two connected ChanReadWriter. Closing either one
// closes both.
func NewChanPair(buffer int) (*ChanReadWriter, *ChanReadWriter) {
	a2b, b2a := make(chan []byte, buffer), make(chan []byte, buffer)
	done, once := make(chan struct{}), &sync.Once{}
	return &ChanReadWriter{in: b2a, out: a2b, done: done, once: once},
		&ChanReadWriter{in: a2b, out: b2a, done: done, once: once}
}

// ReadPacket implements PacketReader.
func (c *ChanReadWriter) ReadPacket() ([]byte, error) {
	select {
	case pkt := <-c.in:
		return pkt, nil
	case <-c.done:
		return nil, io.EOF
	}
}

// WritePacket implements PacketWriter.
func (c *ChanReadWriter) WritePacket(pkt []byte) error {
	select {
	case c.out <- append([]byte(nil), pkt...):
		return nil
	case <-c.done:
		return io.ErrClosedPipe
	}
}

// Close implements io.Closer.
func (c *ChanReadWriter) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
