package ipl

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/robotalks/gos.go/pkg/kernel"
)

// NameSize is the size of fixed-length names on the wire.
const NameSize = 16

// PutName copies s into a NUL padded fixed-size field.
func PutName(b []byte, s string) {
	n := copy(b, s)
	for ; n < len(b); n++ {
		b[n] = 0
	}
}

// GetName extracts a NUL padded string.
func GetName(b []byte) string {
	if n := bytes.IndexByte(b, 0); n >= 0 {
		b = b[:n]
	}
	return string(b)
}

func checkLen(what string, p []byte, size int) error {
	if len(p) != size {
		return fmt.Errorf("%w: %s payload %d bytes, want %d", ErrProtocol, what, len(p), size)
	}
	return nil
}

// DiscoverPayload is carried by both the discover request and its ack.
type DiscoverPayload struct {
	Version uint16
	Name    string
}

const discoverPayloadSize = 2 + NameSize

// Encode encodes the payload.
func (p DiscoverPayload) Encode() []byte {
	b := make([]byte, discoverPayloadSize)
	binary.LittleEndian.PutUint16(b, p.Version)
	PutName(b[2:], p.Name)
	return b
}

// DecodeDiscoverPayload decodes a DiscoverPayload.
func DecodeDiscoverPayload(b []byte) (p DiscoverPayload, err error) {
	if err = checkLen("discover", b, discoverPayloadSize); err != nil {
		return
	}
	p.Version = binary.LittleEndian.Uint16(b)
	p.Name = GetName(b[2:])
	return
}

// ConfigPayload is carried by both the config request and its ack.
type ConfigPayload struct {
	MaxPayloadLength uint32
	RequestTimeout   time.Duration
}

// Encode encodes the payload.
func (p ConfigPayload) Encode() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b, p.MaxPayloadLength)
	binary.LittleEndian.PutUint32(b[4:], uint32(p.RequestTimeout/time.Millisecond))
	return b
}

// DecodeConfigPayload decodes a ConfigPayload.
func DecodeConfigPayload(b []byte) (p ConfigPayload, err error) {
	if err = checkLen("config", b, 8); err != nil {
		return
	}
	p.MaxPayloadLength = binary.LittleEndian.Uint32(b)
	p.RequestTimeout = time.Duration(binary.LittleEndian.Uint32(b[4:])) * time.Millisecond
	return
}

// EncodeUint16 encodes a single u16 payload (CPU load, task count, task index).
func EncodeUint16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

// DecodeUint16 decodes a single u16 payload.
func DecodeUint16(b []byte) (uint16, error) {
	if err := checkLen("u16", b, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// TaskDataAck describes a task.
type TaskDataAck struct {
	Index     uint16
	Result    byte
	Priority  uint8
	State     kernel.TaskState
	StackSize uint32
	Name      string
}

const taskDataAckSize = 9 + NameSize

// Encode encodes the payload.
func (a TaskDataAck) Encode() []byte {
	b := make([]byte, taskDataAckSize)
	binary.LittleEndian.PutUint16(b, a.Index)
	b[2], b[3], b[4] = a.Result, a.Priority, byte(a.State)
	binary.LittleEndian.PutUint32(b[5:], a.StackSize)
	PutName(b[9:], a.Name)
	return b
}

// DecodeTaskDataAck decodes a TaskDataAck.
func DecodeTaskDataAck(b []byte) (a TaskDataAck, err error) {
	if err = checkLen("task data", b, taskDataAckSize); err != nil {
		return
	}
	a.Index = binary.LittleEndian.Uint16(b)
	a.Result, a.Priority, a.State = b[2], b[3], kernel.TaskState(b[4])
	a.StackSize = binary.LittleEndian.Uint32(b[5:])
	a.Name = GetName(b[9:])
	return
}

// TaskVariableDataAck carries the variable data of a task.
type TaskVariableDataAck struct {
	Index    uint16
	Result   byte
	State    kernel.TaskState
	RunCount uint32
	Uptime   time.Duration
}

// Encode encodes the payload.
func (a TaskVariableDataAck) Encode() []byte {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint16(b, a.Index)
	b[2], b[3] = a.Result, byte(a.State)
	binary.LittleEndian.PutUint32(b[4:], a.RunCount)
	binary.LittleEndian.PutUint32(b[8:], uint32(a.Uptime/time.Millisecond))
	return b
}

// DecodeTaskVariableDataAck decodes a TaskVariableDataAck.
func DecodeTaskVariableDataAck(b []byte) (a TaskVariableDataAck, err error) {
	if err = checkLen("task variable data", b, 12); err != nil {
		return
	}
	a.Index = binary.LittleEndian.Uint16(b)
	a.Result, a.State = b[2], kernel.TaskState(b[3])
	a.RunCount = binary.LittleEndian.Uint32(b[4:])
	a.Uptime = time.Duration(binary.LittleEndian.Uint32(b[8:])) * time.Millisecond
	return
}

// TaskModifyRequest asks to change the state of a task.
type TaskModifyRequest struct {
	Index uint16
	Op    kernel.TaskOp
}

// Encode encodes the payload.
func (r TaskModifyRequest) Encode() []byte {
	b := make([]byte, 3)
	binary.LittleEndian.PutUint16(b, r.Index)
	b[2] = byte(r.Op)
	return b
}

// DecodeTaskModifyRequest decodes a TaskModifyRequest.
func DecodeTaskModifyRequest(b []byte) (r TaskModifyRequest, err error) {
	if err = checkLen("task modify", b, 3); err != nil {
		return
	}
	r.Index, r.Op = binary.LittleEndian.Uint16(b), kernel.TaskOp(b[2])
	return
}

// IndexResult is the ack of task modification: index and result.
type IndexResult struct {
	Index  uint16
	Result byte
}

// Encode encodes the payload.
func (r IndexResult) Encode() []byte {
	b := make([]byte, 3)
	binary.LittleEndian.PutUint16(b, r.Index)
	b[2] = r.Result
	return b
}

// DecodeIndexResult decodes an IndexResult.
func DecodeIndexResult(b []byte) (r IndexResult, err error) {
	if err = checkLen("index result", b, 3); err != nil {
		return
	}
	r.Index, r.Result = binary.LittleEndian.Uint16(b), b[2]
	return
}

// EncodeTime encodes a time as unix milliseconds.
func EncodeTime(t time.Time) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(t.UnixNano()/int64(time.Millisecond)))
	return b
}

// DecodeTime decodes unix milliseconds.
func DecodeTime(b []byte) (time.Time, error) {
	if err := checkLen("time", b, 8); err != nil {
		return time.Time{}, err
	}
	ms := int64(binary.LittleEndian.Uint64(b))
	return time.Unix(0, ms*int64(time.Millisecond)), nil
}
