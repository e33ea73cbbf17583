package storage

import "sync"

// Flash simulates internal program memory mapped at Base. Writes require
// Unlock and may only program erased bytes, like NOR flash.
type Flash struct {
	Base uint32

	dev    Device
	locked bool
	lock   sync.Mutex
}

// NewFlash creates program memory of size bytes at base, backed by RAM.
func NewFlash(base, size uint32) *Flash {
	return NewFlashOn(base, NewMemory(size))
}

// NewFlashOn creates program memory at base backed by dev, so the image
// survives restarts when dev is a File.
func NewFlashOn(base uint32, dev Device) *Flash {
	return &Flash{Base: base, dev: dev, locked: true}
}

// Size returns the capacity in bytes.
func (f *Flash) Size() uint32 {
	return f.dev.Size()
}

// Read implements ProgramMemory.
func (f *Flash) Read(addr uint32, p []byte) error {
	if err := checkRange(f.Base, f.dev.Size(), addr, len(p)); err != nil {
		return err
	}
	return f.dev.Read(addr-f.Base, p)
}

// Erase implements ProgramMemory. The lock state is not checked.
func (f *Flash) Erase(addr, length uint32) error {
	if err := checkRange(f.Base, f.dev.Size(), addr, int(length)); err != nil {
		return err
	}
	erased := make([]byte, length)
	fill(erased, ErasedByte)
	return f.dev.Write(addr-f.Base, erased)
}

// Unlock implements ProgramMemory.
func (f *Flash) Unlock() error {
	f.lock.Lock()
	f.locked = false
	f.lock.Unlock()
	return nil
}

// Lock implements ProgramMemory.
func (f *Flash) Lock() error {
	f.lock.Lock()
	f.locked = true
	f.lock.Unlock()
	return nil
}

// WriteChunk implements ProgramMemory.
func (f *Flash) WriteChunk(addr uint32, p []byte) error {
	f.lock.Lock()
	locked := f.locked
	f.lock.Unlock()
	if locked {
		return ErrLocked
	}
	if err := checkRange(f.Base, f.dev.Size(), addr, len(p)); err != nil {
		return err
	}
	cur := make([]byte, len(p))
	if err := f.dev.Read(addr-f.Base, cur); err != nil {
		return err
	}
	for _, b := range cur {
		if b != ErasedByte {
			return ErrNotErased
		}
	}
	return f.dev.Write(addr-f.Base, p)
}
