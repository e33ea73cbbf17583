package ipl

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// HeaderSize is the encoded size of Header.
const HeaderSize = 16

// Header is the FrameHeader preceding every payload.
type Header struct {
	MessageID     uint32
	PayloadLength uint32
	Reserved      uint32
	PayloadCRC    uint32
}

// Checksum computes the CRC-32 (IEEE) of p.
func Checksum(p []byte) uint32 {
	if len(p) == 0 {
		return 0
	}
	return crc32.ChecksumIEEE(p)
}

// VerifyChecksum tells if p matches the expected CRC-32.
func VerifyChecksum(p []byte, expected uint32) bool {
	return Checksum(p) == expected
}

// Encode writes the header into b, which must hold HeaderSize bytes.
func (h Header) Encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], h.MessageID)
	binary.LittleEndian.PutUint32(b[4:], h.PayloadLength)
	binary.LittleEndian.PutUint32(b[8:], h.Reserved)
	binary.LittleEndian.PutUint32(b[12:], h.PayloadCRC)
}

// DecodeHeader decodes a header from b.
func DecodeHeader(b []byte) (h Header, err error) {
	if len(b) < HeaderSize {
		return h, fmt.Errorf("%w: header too short (%d bytes)", ErrProtocol, len(b))
	}
	h.MessageID = binary.LittleEndian.Uint32(b[0:])
	h.PayloadLength = binary.LittleEndian.Uint32(b[4:])
	h.Reserved = binary.LittleEndian.Uint32(b[8:])
	h.PayloadCRC = binary.LittleEndian.Uint32(b[12:])
	return
}

// Message is a decoded frame.
type Message struct {
	ID      uint32
	Payload []byte
}

// Header builds the FrameHeader for the message.
func (m *Message) Header() Header {
	return Header{
		MessageID:     m.ID,
		PayloadLength: uint32(len(m.Payload)),
		PayloadCRC:    Checksum(m.Payload),
	}
}

// Bytes returns the encoded frame.
func (m *Message) Bytes() []byte {
	b := make([]byte, HeaderSize+len(m.Payload))
	m.Header().Encode(b)
	copy(b[HeaderSize:], m.Payload)
	return b
}

// WriteTo writes the encoded frame.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(m.Bytes())
	return int64(n), err
}

// DecodeFrame decodes exactly one frame from b, verifying its length and CRC.
func DecodeFrame(b []byte) (*Message, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	if uint64(len(b)-HeaderSize) != uint64(h.PayloadLength) {
		return nil, fmt.Errorf("%w: payload length %d, frame carries %d",
			ErrProtocol, h.PayloadLength, len(b)-HeaderSize)
	}
	msg := &Message{ID: h.MessageID, Payload: b[HeaderSize:]}
	if !VerifyChecksum(msg.Payload, h.PayloadCRC) {
		return msg, ErrIntegrity
	}
	return msg, nil
}
