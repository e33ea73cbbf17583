package storage

import (
	"io"
	"os"
	"sync"
)

// File is a Device backed by a regular file, used to persist the catalog
// of a simulated node across restarts.
type File struct {
	f    *os.File
	size uint32
	lock sync.Mutex
}

// OpenFile opens or creates path as a device of size bytes. A new or short
// file is extended with erased bytes.
func OpenFile(path string, size uint32) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if cur := info.Size(); cur < int64(size) {
		pad := make([]byte, int64(size)-cur)
		fill(pad, ErasedByte)
		if _, err = f.WriteAt(pad, cur); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &File{f: f, size: size}, nil
}

// Read implements Device.
func (d *File) Read(addr uint32, p []byte) error {
	if err := checkRange(0, d.size, addr, len(p)); err != nil {
		return err
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	_, err := d.f.ReadAt(p, int64(addr))
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}

// Write implements Device.
func (d *File) Write(addr uint32, p []byte) error {
	if err := checkRange(0, d.size, addr, len(p)); err != nil {
		return err
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if _, err := d.f.WriteAt(p, int64(addr)); err != nil {
		return err
	}
	return d.f.Sync()
}

// Size implements Device.
func (d *File) Size() uint32 {
	return d.size
}

// Close implements io.Closer.
func (d *File) Close() error {
	return d.f.Close()
}
