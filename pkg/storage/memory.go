package storage

import "sync"

// Memory is a RAM backed Device, initially erased.
type Memory struct {
	data []byte
	lock sync.RWMutex
}

// NewMemory creates an erased Memory device of size bytes.
func NewMemory(size uint32) *Memory {
	m := &Memory{data: make([]byte, size)}
	fill(m.data, ErasedByte)
	return m
}

// Read implements Device.
func (m *Memory) Read(addr uint32, p []byte) error {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if err := checkRange(0, uint32(len(m.data)), addr, len(p)); err != nil {
		return err
	}
	copy(p, m.data[addr:])
	return nil
}

// Write implements Device.
func (m *Memory) Write(addr uint32, p []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if err := checkRange(0, uint32(len(m.data)), addr, len(p)); err != nil {
		return err
	}
	copy(m.data[addr:], p)
	return nil
}

// Size implements Device.
func (m *Memory) Size() uint32 {
	return uint32(len(m.data))
}

func fill(p []byte, b byte) {
	for i := range p {
		p[i] = b
	}
}
