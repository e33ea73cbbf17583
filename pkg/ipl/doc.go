// Package ipl implements the Inter-Processor Link, the framed byte-stream
// protocol between two GOS processors.
//
// Every message on the wire is a 16-byte little-endian FrameHeader
// (message id, payload length, reserved, CRC-32 of the payload) immediately
// followed by the payload. The CRC never covers the header.
//
// A Link discovers its peer, exchanges configuration and connects before
// dispatching requests to built-in and registered handlers. The peer side of
// the handshake is implemented by Client.
package ipl
