package sdh

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/robotalks/gos.go/pkg/bootcfg"
	"github.com/robotalks/gos.go/pkg/ipl"
	"github.com/robotalks/gos.go/pkg/storage"
)

const (
	// DescriptorSize is the encoded size of BinaryDescriptor.
	DescriptorSize = 48
	// NameSize is the size of the name field, including the terminating NUL.
	NameSize = 32
	// DefragBlockSize is the unit of data moved during defragmentation.
	DefragBlockSize = 256

	countSize   = 2
	erasedCount = 0xffff
)

// BinaryInfo describes an application image.
type BinaryInfo = bootcfg.BinaryInfo

// BinaryDescriptor is an entry of the catalog.
type BinaryDescriptor struct {
	Name string
	// StorageOffset is the device address of the first byte of the binary.
	StorageOffset uint32
	Info          BinaryInfo
}

// End returns the device address following the last byte of the binary.
func (d BinaryDescriptor) End() uint32 {
	return d.StorageOffset + d.Info.Size
}

// Encode encodes the descriptor.
func (d BinaryDescriptor) Encode() []byte {
	b := make([]byte, DescriptorSize)
	ipl.PutName(b[:NameSize-1], d.Name)
	le := binary.LittleEndian
	le.PutUint32(b[32:], d.StorageOffset)
	le.PutUint32(b[36:], d.Info.StartAddress)
	le.PutUint32(b[40:], d.Info.Size)
	le.PutUint32(b[44:], d.Info.CRC32)
	return b
}

// DecodeDescriptor decodes a BinaryDescriptor.
func DecodeDescriptor(b []byte) (d BinaryDescriptor, err error) {
	if len(b) != DescriptorSize {
		return d, fmt.Errorf("%w: descriptor %d bytes", ErrMalformed, len(b))
	}
	le := binary.LittleEndian
	d.Name = ipl.GetName(b[:NameSize])
	d.StorageOffset = le.Uint32(b[32:])
	d.Info.StartAddress = le.Uint32(b[36:])
	d.Info.Size = le.Uint32(b[40:])
	d.Info.CRC32 = le.Uint32(b[44:])
	return
}

// Layout places the catalog on the external device.
type Layout struct {
	CatalogBase uint32
	// Capacity is the maximum number of descriptors.
	Capacity        int
	BinaryAreaStart uint32
	ChunkSize       uint32
}

// DefaultLayout returns the layout used by gosd.
func DefaultLayout() Layout {
	return Layout{
		CatalogBase:     0x0100,
		Capacity:        16,
		BinaryAreaStart: 0x1000,
		ChunkSize:       1024,
	}
}

// DescriptorAreaSize returns the size of count plus all descriptor slots.
func (l Layout) DescriptorAreaSize() uint32 {
	return countSize + uint32(l.Capacity)*DescriptorSize
}

// Validate checks the layout fits a device of devSize bytes.
func (l Layout) Validate(devSize uint32) error {
	switch {
	case l.Capacity <= 0 || l.Capacity > erasedCount-1:
		return fmt.Errorf("invalid catalog capacity %d", l.Capacity)
	case l.ChunkSize == 0:
		return errors.New("chunk size must be positive")
	case uint64(l.BinaryAreaStart) < uint64(l.CatalogBase)+uint64(l.DescriptorAreaSize()):
		return fmt.Errorf("binary area 0x%x overlaps descriptor area 0x%x+%d",
			l.BinaryAreaStart, l.CatalogBase, l.DescriptorAreaSize())
	case l.BinaryAreaStart >= devSize:
		return fmt.Errorf("binary area 0x%x beyond device size %d", l.BinaryAreaStart, devSize)
	}
	return nil
}

func (l Layout) slotAddr(index int) uint32 {
	return l.CatalogBase + countSize + uint32(index)*DescriptorSize
}

// NumChunks returns the number of chunks of a binary of size bytes.
func (l Layout) NumChunks(size uint32) uint32 {
	return (size + l.ChunkSize - 1) / l.ChunkSize
}

// ChunkLength returns the length of chunk index of a binary of size bytes.
func (l Layout) ChunkLength(size uint32, index uint32) uint32 {
	start := index * l.ChunkSize
	if start >= size {
		return 0
	}
	if rest := size - start; rest < l.ChunkSize {
		return rest
	}
	return l.ChunkSize
}

// Catalog is a read-only view of the catalog. Every call reads the device.
type Catalog struct {
	Device storage.Device
	Layout Layout
}

// NewCatalog creates a Catalog view.
func NewCatalog(dev storage.Device, layout Layout) *Catalog {
	return &Catalog{Device: dev, Layout: layout}
}

// Count returns the number of committed descriptors. An erased header reads as 0.
func (c *Catalog) Count() (int, error) {
	n, err := c.rawCount()
	if err != nil {
		return 0, err
	}
	if n == erasedCount {
		return 0, nil
	}
	if int(n) > c.Layout.Capacity {
		return 0, fmt.Errorf("%w: catalog count %d exceeds capacity %d", ErrCorrupted, n, c.Layout.Capacity)
	}
	return int(n), nil
}

func (c *Catalog) rawCount() (uint16, error) {
	var b [countSize]byte
	if err := c.Device.Read(c.Layout.CatalogBase, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func (c *Catalog) writeCount(n int) error {
	var b [countSize]byte
	binary.LittleEndian.PutUint16(b[:], uint16(n))
	return c.Device.Write(c.Layout.CatalogBase, b[:])
}

// Descriptor returns the committed descriptor at index.
func (c *Catalog) Descriptor(index int) (BinaryDescriptor, error) {
	n, err := c.Count()
	if err != nil {
		return BinaryDescriptor{}, err
	}
	if index < 0 || index >= n {
		return BinaryDescriptor{}, ErrInvalidIndex
	}
	return c.slot(index)
}

// Descriptors returns all committed descriptors.
func (c *Catalog) Descriptors() ([]BinaryDescriptor, error) {
	n, err := c.Count()
	if err != nil {
		return nil, err
	}
	descs := make([]BinaryDescriptor, 0, n)
	for i := 0; i < n; i++ {
		d, err := c.slot(i)
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	return descs, nil
}

func (c *Catalog) slot(index int) (BinaryDescriptor, error) {
	b := make([]byte, DescriptorSize)
	if err := c.Device.Read(c.Layout.slotAddr(index), b); err != nil {
		return BinaryDescriptor{}, err
	}
	return DecodeDescriptor(b)
}

func (c *Catalog) writeSlot(index int, d BinaryDescriptor) error {
	return c.Device.Write(c.Layout.slotAddr(index), d.Encode())
}

func (c *Catalog) clearSlot(index int) error {
	b := make([]byte, DescriptorSize)
	for i := range b {
		b[i] = storage.ErasedByte
	}
	return c.Device.Write(c.Layout.slotAddr(index), b)
}

// ReadBinary reads the bytes of a binary starting at off.
func (c *Catalog) ReadBinary(d BinaryDescriptor, off uint32, p []byte) error {
	if uint64(off)+uint64(len(p)) > uint64(d.Info.Size) {
		return fmt.Errorf("read %d bytes at %d beyond binary size %d", len(p), off, d.Info.Size)
	}
	return c.Device.Read(d.StorageOffset+off, p)
}
