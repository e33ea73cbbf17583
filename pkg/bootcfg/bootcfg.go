// Package bootcfg persists the UpdateConfig record shared by the installer
// and the update store.
package bootcfg

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/gos.go/pkg/storage"
)

// RecordSize is the encoded size of UpdateConfig.
const RecordSize = 40

// Version is the record layout version.
const Version byte = 1

var magic = []byte("GOSU")

const (
	flagUpdateMode byte = 1 << iota
	flagInstallRequested
	flagWaitForConnection
)

// BinaryInfo describes an application image.
type BinaryInfo struct {
	// StartAddress is the destination in program memory.
	StartAddress uint32
	Size         uint32
	CRC32        uint32
}

// UpdateConfig controls the installer behavior across resets.
type UpdateConfig struct {
	UpdateMode        bool
	InstallRequested  bool
	WaitForConnection bool
	SelectedIndex     uint16
	ConnectionTimeout time.Duration
	RequestTimeout    time.Duration
	InstallTimeout    time.Duration
	// Software is the active application record.
	Software BinaryInfo
}

// Default returns the configuration used when nothing valid is persisted.
func Default() UpdateConfig {
	return UpdateConfig{
		ConnectionTimeout: 10 * time.Second,
		RequestTimeout:    30 * time.Second,
		InstallTimeout:    time.Minute,
	}
}

func millis(d time.Duration) uint32 {
	return uint32(d / time.Millisecond)
}

func duration(ms uint32) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Encode encodes the record including its CRC-32.
func (c UpdateConfig) Encode() []byte {
	b := make([]byte, RecordSize)
	copy(b, magic)
	b[4] = Version
	if c.UpdateMode {
		b[5] |= flagUpdateMode
	}
	if c.InstallRequested {
		b[5] |= flagInstallRequested
	}
	if c.WaitForConnection {
		b[5] |= flagWaitForConnection
	}
	le := binary.LittleEndian
	le.PutUint16(b[6:], c.SelectedIndex)
	le.PutUint32(b[8:], millis(c.ConnectionTimeout))
	le.PutUint32(b[12:], millis(c.RequestTimeout))
	le.PutUint32(b[16:], millis(c.InstallTimeout))
	le.PutUint32(b[20:], c.Software.StartAddress)
	le.PutUint32(b[24:], c.Software.Size)
	le.PutUint32(b[28:], c.Software.CRC32)
	le.PutUint32(b[36:], crc32.ChecksumIEEE(b[:36]))
	return b
}

// Decode decodes a record. It returns false if the record is not valid.
func Decode(b []byte) (c UpdateConfig, ok bool) {
	le := binary.LittleEndian
	if len(b) < RecordSize || !bytes.Equal(b[:4], magic) || b[4] != Version ||
		le.Uint32(b[36:]) != crc32.ChecksumIEEE(b[:36]) {
		return Default(), false
	}
	c.UpdateMode = b[5]&flagUpdateMode != 0
	c.InstallRequested = b[5]&flagInstallRequested != 0
	c.WaitForConnection = b[5]&flagWaitForConnection != 0
	c.SelectedIndex = le.Uint16(b[6:])
	c.ConnectionTimeout = duration(le.Uint32(b[8:]))
	c.RequestTimeout = duration(le.Uint32(b[12:]))
	c.InstallTimeout = duration(le.Uint32(b[16:]))
	c.Software.StartAddress = le.Uint32(b[20:])
	c.Software.Size = le.Uint32(b[24:])
	c.Software.CRC32 = le.Uint32(b[28:])
	return c, true
}

// Store reads and writes the record on a device.
type Store struct {
	Device storage.Device
	Addr   uint32

	lock sync.Mutex
}

// NewStore creates a Store for the record at addr.
func NewStore(dev storage.Device, addr uint32) *Store {
	return &Store{Device: dev, Addr: addr}
}

// Load reads the record. An invalid record reads as Default.
func (s *Store) Load() (UpdateConfig, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.load()
}

func (s *Store) load() (UpdateConfig, error) {
	b := make([]byte, RecordSize)
	if err := s.Device.Read(s.Addr, b); err != nil {
		return Default(), err
	}
	c, ok := Decode(b)
	if !ok {
		glog.V(2).Info("bootcfg: no valid record, using defaults")
	}
	return c, nil
}

// Save writes the record.
func (s *Store) Save(c UpdateConfig) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.Device.Write(s.Addr, c.Encode())
}

// Update applies fn to the persisted record and writes it back.
func (s *Store) Update(fn func(*UpdateConfig)) (UpdateConfig, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	c, err := s.load()
	if err != nil {
		return c, err
	}
	fn(&c)
	return c, s.Device.Write(s.Addr, c.Encode())
}

// RequestInstall marks the binary at index to be installed on next boot.
func (s *Store) RequestInstall(index uint16) error {
	_, err := s.Update(func(c *UpdateConfig) {
		c.InstallRequested = true
		c.SelectedIndex = index
	})
	if err == nil {
		glog.Infof("bootcfg: install of binary %d requested", index)
	}
	return err
}
