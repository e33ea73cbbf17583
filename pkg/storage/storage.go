// Package storage provides the storage devices used by the update pipeline:
// the external device holding the binary catalog and the internal program
// memory the installer writes applications into.
package storage

import (
	"errors"
	"fmt"
)

// ErasedByte is the value of an erased flash byte.
const ErasedByte byte = 0xff

var (
	// ErrLocked indicates a write to program memory without Unlock.
	ErrLocked = errors.New("program memory locked")
	// ErrNotErased indicates programming over bytes which are not erased.
	ErrNotErased = errors.New("program memory not erased")
)

// Device is the external storage device (e.g. SPI flash) holding the catalog.
type Device interface {
	// Read fills p with bytes starting at addr.
	Read(addr uint32, p []byte) error
	// Write stores p starting at addr.
	Write(addr uint32, p []byte) error
	// Size returns the capacity in bytes.
	Size() uint32
}

// ProgramMemory is the internal program memory applications execute from.
type ProgramMemory interface {
	Read(addr uint32, p []byte) error
	Erase(addr, length uint32) error
	Unlock() error
	Lock() error
	WriteChunk(addr uint32, p []byte) error
}

// RangeError indicates an access outside the device.
type RangeError struct {
	Addr   uint32
	Length int
	Base   uint32
	Size   uint32
}

// Error implements error.
func (e *RangeError) Error() string {
	return fmt.Sprintf("access 0x%08x+%d out of range [0x%08x, 0x%08x)",
		e.Addr, e.Length, e.Base, uint64(e.Base)+uint64(e.Size))
}

func checkRange(base, size, addr uint32, length int) error {
	if addr < base || uint64(addr-base)+uint64(length) > uint64(size) {
		return &RangeError{Addr: addr, Length: length, Base: base, Size: size}
	}
	return nil
}
