package sdh

import (
	"encoding/binary"
	"fmt"

	"github.com/robotalks/gos.go/pkg/ipl"
)

// Message ids, acknowledgements are ipl.AckID of these.
const (
	MsgBinaryNum      uint32 = 0x0301
	MsgBinaryInfo     uint32 = 0x0302
	MsgBinaryDownload uint32 = 0x0303
	MsgBinaryChunk    uint32 = 0x0304
	MsgBinaryInstall  uint32 = 0x0305
	MsgBinaryErase    uint32 = 0x0306
	MsgBinaryAbort    uint32 = 0x0307
)

// MessageIDs lists all request ids.
var MessageIDs = []uint32{
	MsgBinaryNum,
	MsgBinaryInfo,
	MsgBinaryDownload,
	MsgBinaryChunk,
	MsgBinaryInstall,
	MsgBinaryErase,
	MsgBinaryAbort,
}

var messageNames = map[uint32]string{
	MsgBinaryNum:      "BINARY_NUM",
	MsgBinaryInfo:     "BINARY_INFO",
	MsgBinaryDownload: "BINARY_DOWNLOAD",
	MsgBinaryChunk:    "BINARY_CHUNK",
	MsgBinaryInstall:  "BINARY_INSTALL",
	MsgBinaryErase:    "BINARY_ERASE",
	MsgBinaryAbort:    "BINARY_ABORT",
}

func messageName(id uint32) string {
	if name, ok := messageNames[id]; ok {
		return name
	}
	if name, ok := messageNames[id-ipl.AckOffset]; ok {
		return name + "_ACK"
	}
	return fmt.Sprintf("0x%04x", id)
}

// Request is a request to the update store.
type Request interface {
	MessageID() uint32
	Encode() []byte
}

// Response is the reply of the update store.
type Response interface {
	MessageID() uint32
	ResultCode() Result
	Encode() []byte
}

// NumRequest asks for the number of binaries.
type NumRequest struct{}

// InfoRequest asks for the descriptor at Index.
type InfoRequest struct {
	Index uint16
}

// DownloadRequest starts the download of a binary. The storage offset of
// Descriptor is assigned by the store.
type DownloadRequest struct {
	Descriptor BinaryDescriptor
}

// ChunkFlagCRC indicates ChunkRequest.CRC is valid.
const ChunkFlagCRC byte = 1

// ChunkRequest carries one chunk of the binary being downloaded.
type ChunkRequest struct {
	Index  uint16
	HasCRC bool
	CRC    uint32
	Data   []byte
}

// InstallRequest requests installation of the binary at Index.
type InstallRequest struct {
	Index uint16
}

// EraseRequest removes the binary at Index.
type EraseRequest struct {
	Index      uint16
	Defragment bool
}

// AbortRequest cancels the download in progress.
type AbortRequest struct{}

// NumResponse replies NumRequest.
type NumResponse struct {
	Result Result
	Count  uint16
}

// InfoResponse replies InfoRequest.
type InfoResponse struct {
	Result     Result
	Index      uint16
	Descriptor BinaryDescriptor
}

// DownloadResponse replies DownloadRequest.
type DownloadResponse struct {
	Result        Result
	NumChunks     uint16
	ChunkSize     uint32
	StorageOffset uint32
}

// ChunkResponse is the ChunkDescriptor acknowledging a chunk.
type ChunkResponse struct {
	Index  uint16
	Result Result
}

// InstallResponse replies InstallRequest.
type InstallResponse struct {
	Index  uint16
	Result Result
}

// EraseResponse replies EraseRequest.
type EraseResponse struct {
	Index  uint16
	Result Result
}

// AbortResponse replies AbortRequest.
type AbortResponse struct {
	Result Result
}

// MessageID implements Request.
func (NumRequest) MessageID() uint32 { return MsgBinaryNum }

// MessageID implements Request.
func (InfoRequest) MessageID() uint32 { return MsgBinaryInfo }

// MessageID implements Request.
func (DownloadRequest) MessageID() uint32 { return MsgBinaryDownload }

// MessageID implements Request.
func (ChunkRequest) MessageID() uint32 { return MsgBinaryChunk }

// MessageID implements Request.
func (InstallRequest) MessageID() uint32 { return MsgBinaryInstall }

// MessageID implements Request.
func (EraseRequest) MessageID() uint32 { return MsgBinaryErase }

// MessageID implements Request.
func (AbortRequest) MessageID() uint32 { return MsgBinaryAbort }

// MessageID implements Response.
func (NumResponse) MessageID() uint32 { return ipl.AckID(MsgBinaryNum) }

// MessageID implements Response.
func (InfoResponse) MessageID() uint32 { return ipl.AckID(MsgBinaryInfo) }

// MessageID implements Response.
func (DownloadResponse) MessageID() uint32 { return ipl.AckID(MsgBinaryDownload) }

// MessageID implements Response.
func (ChunkResponse) MessageID() uint32 { return ipl.AckID(MsgBinaryChunk) }

// MessageID implements Response.
func (InstallResponse) MessageID() uint32 { return ipl.AckID(MsgBinaryInstall) }

// MessageID implements Response.
func (EraseResponse) MessageID() uint32 { return ipl.AckID(MsgBinaryErase) }

// MessageID implements Response.
func (AbortResponse) MessageID() uint32 { return ipl.AckID(MsgBinaryAbort) }

// ResultCode implements Response.
func (r NumResponse) ResultCode() Result { return r.Result }

// ResultCode implements Response.
func (r InfoResponse) ResultCode() Result { return r.Result }

// ResultCode implements Response.
func (r DownloadResponse) ResultCode() Result { return r.Result }

// ResultCode implements Response.
func (r ChunkResponse) ResultCode() Result { return r.Result }

// ResultCode implements Response.
func (r InstallResponse) ResultCode() Result { return r.Result }

// ResultCode implements Response.
func (r EraseResponse) ResultCode() Result { return r.Result }

// ResultCode implements Response.
func (r AbortResponse) ResultCode() Result { return r.Result }

var le = binary.LittleEndian

func encodeIndex(index uint16, extra ...byte) []byte {
	b := make([]byte, 2, 2+len(extra))
	le.PutUint16(b, index)
	return append(b, extra...)
}

// Encode implements Request.
func (NumRequest) Encode() []byte { return nil }

// Encode implements Request.
func (r InfoRequest) Encode() []byte { return encodeIndex(r.Index) }

// Encode implements Request.
func (r DownloadRequest) Encode() []byte { return r.Descriptor.Encode() }

// Encode implements Request.
func (r ChunkRequest) Encode() []byte {
	var flags byte
	if r.HasCRC {
		flags |= ChunkFlagCRC
	}
	b := make([]byte, 7+len(r.Data))
	le.PutUint16(b, r.Index)
	b[2] = flags
	le.PutUint32(b[3:], r.CRC)
	copy(b[7:], r.Data)
	return b
}

// Encode implements Request.
func (r InstallRequest) Encode() []byte { return encodeIndex(r.Index) }

// Encode implements Request.
func (r EraseRequest) Encode() []byte {
	var flags byte
	if r.Defragment {
		flags = 1
	}
	return encodeIndex(r.Index, flags)
}

// Encode implements Request.
func (AbortRequest) Encode() []byte { return nil }

// Encode implements Response.
func (r NumResponse) Encode() []byte {
	b := make([]byte, 3)
	b[0] = byte(r.Result)
	le.PutUint16(b[1:], r.Count)
	return b
}

// Encode implements Response.
func (r InfoResponse) Encode() []byte {
	b := make([]byte, 3, 3+DescriptorSize)
	b[0] = byte(r.Result)
	le.PutUint16(b[1:], r.Index)
	return append(b, r.Descriptor.Encode()...)
}

// Encode implements Response.
func (r DownloadResponse) Encode() []byte {
	b := make([]byte, 11)
	b[0] = byte(r.Result)
	le.PutUint16(b[1:], r.NumChunks)
	le.PutUint32(b[3:], r.ChunkSize)
	le.PutUint32(b[7:], r.StorageOffset)
	return b
}

// Encode implements Response.
func (r ChunkResponse) Encode() []byte { return encodeIndex(r.Index, byte(r.Result)) }

// Encode implements Response.
func (r InstallResponse) Encode() []byte { return encodeIndex(r.Index, byte(r.Result)) }

// Encode implements Response.
func (r EraseResponse) Encode() []byte { return encodeIndex(r.Index, byte(r.Result)) }

// Encode implements Response.
func (r AbortResponse) Encode() []byte { return []byte{byte(r.Result)} }

func malformed(id uint32, b []byte, want int) error {
	return fmt.Errorf("%w: %s payload %d bytes, want %d", ErrMalformed, messageName(id), len(b), want)
}

// EncodeRequest frames a request.
func EncodeRequest(req Request) *ipl.Message {
	return &ipl.Message{ID: req.MessageID(), Payload: req.Encode()}
}

// EncodeResponse frames a response.
func EncodeResponse(resp Response) *ipl.Message {
	return &ipl.Message{ID: resp.MessageID(), Payload: resp.Encode()}
}

// DecodeRequest decodes a request message.
func DecodeRequest(msg *ipl.Message) (Request, error) {
	b := msg.Payload
	fixed := func(n int) error {
		if len(b) != n {
			return malformed(msg.ID, b, n)
		}
		return nil
	}
	switch msg.ID {
	case MsgBinaryNum:
		return NumRequest{}, fixed(0)
	case MsgBinaryInfo:
		if err := fixed(2); err != nil {
			return nil, err
		}
		return InfoRequest{Index: le.Uint16(b)}, nil
	case MsgBinaryDownload:
		d, err := DecodeDescriptor(b)
		if err != nil {
			return nil, err
		}
		return DownloadRequest{Descriptor: d}, nil
	case MsgBinaryChunk:
		if len(b) < 7 {
			return nil, malformed(msg.ID, b, 7)
		}
		return ChunkRequest{
			Index:  le.Uint16(b),
			HasCRC: b[2]&ChunkFlagCRC != 0,
			CRC:    le.Uint32(b[3:]),
			Data:   b[7:],
		}, nil
	case MsgBinaryInstall:
		if err := fixed(2); err != nil {
			return nil, err
		}
		return InstallRequest{Index: le.Uint16(b)}, nil
	case MsgBinaryErase:
		if err := fixed(3); err != nil {
			return nil, err
		}
		return EraseRequest{Index: le.Uint16(b), Defragment: b[2]&1 != 0}, nil
	case MsgBinaryAbort:
		return AbortRequest{}, fixed(0)
	}
	return nil, fmt.Errorf("%w: unknown request 0x%04x", ErrMalformed, msg.ID)
}

// DecodeResponse decodes a response message.
func DecodeResponse(msg *ipl.Message) (Response, error) {
	b := msg.Payload
	fixed := func(n int) error {
		if len(b) != n {
			return malformed(msg.ID, b, n)
		}
		return nil
	}
	switch msg.ID - ipl.AckOffset {
	case MsgBinaryNum:
		if err := fixed(3); err != nil {
			return nil, err
		}
		return NumResponse{Result: Result(b[0]), Count: le.Uint16(b[1:])}, nil
	case MsgBinaryInfo:
		if err := fixed(3 + DescriptorSize); err != nil {
			return nil, err
		}
		d, err := DecodeDescriptor(b[3:])
		if err != nil {
			return nil, err
		}
		return InfoResponse{Result: Result(b[0]), Index: le.Uint16(b[1:]), Descriptor: d}, nil
	case MsgBinaryDownload:
		if err := fixed(11); err != nil {
			return nil, err
		}
		return DownloadResponse{
			Result:        Result(b[0]),
			NumChunks:     le.Uint16(b[1:]),
			ChunkSize:     le.Uint32(b[3:]),
			StorageOffset: le.Uint32(b[7:]),
		}, nil
	case MsgBinaryChunk:
		if err := fixed(3); err != nil {
			return nil, err
		}
		return ChunkResponse{Index: le.Uint16(b), Result: Result(b[2])}, nil
	case MsgBinaryInstall:
		if err := fixed(3); err != nil {
			return nil, err
		}
		return InstallResponse{Index: le.Uint16(b), Result: Result(b[2])}, nil
	case MsgBinaryErase:
		if err := fixed(3); err != nil {
			return nil, err
		}
		return EraseResponse{Index: le.Uint16(b), Result: Result(b[2])}, nil
	case MsgBinaryAbort:
		if err := fixed(1); err != nil {
			return nil, err
		}
		return AbortResponse{Result: Result(b[0])}, nil
	}
	return nil, fmt.Errorf("%w: unknown response 0x%04x", ErrMalformed, msg.ID)
}

// Failure builds the response to req carrying only the result code.
func Failure(req Request, result Result) Response {
	switch r := req.(type) {
	case InfoRequest:
		return InfoResponse{Result: result, Index: r.Index}
	case ChunkRequest:
		return ChunkResponse{Index: r.Index, Result: result}
	case InstallRequest:
		return InstallResponse{Index: r.Index, Result: result}
	case EraseRequest:
		return EraseResponse{Index: r.Index, Result: result}
	}
	return FailureFor(req.MessageID(), result)
}

// FailureFor builds a response to the request id carrying only the result
// code, used when the request itself can't be decoded.
func FailureFor(id uint32, result Result) Response {
	switch id {
	case MsgBinaryNum:
		return NumResponse{Result: result}
	case MsgBinaryInfo:
		return InfoResponse{Result: result}
	case MsgBinaryDownload:
		return DownloadResponse{Result: result}
	case MsgBinaryChunk:
		return ChunkResponse{Result: result}
	case MsgBinaryInstall:
		return InstallResponse{Result: result}
	case MsgBinaryErase:
		return EraseResponse{Result: result}
	case MsgBinaryAbort:
		return AbortResponse{Result: result}
	}
	return nil
}
