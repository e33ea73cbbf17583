package ipl

import (
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// SendFunc transmits all of p within timeout.
type SendFunc func(p []byte, timeout time.Duration) error

// ReceiveFunc fills all of p within timeout. It returns ErrTimeout only when
// nothing was received.
type ReceiveFunc func(p []byte, timeout time.Duration) error

// DeadlineReadWriter is a byte stream with deadlines, e.g. net.Conn or a
// serial port.
type DeadlineReadWriter interface {
	io.ReadWriter
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

func deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return os.IsTimeout(err)
}

// ConnFuncs adapts a deadline capable stream into a send/receive pair.
func ConnFuncs(conn DeadlineReadWriter) (SendFunc, ReceiveFunc) {
	send := func(p []byte, timeout time.Duration) error {
		if err := conn.SetWriteDeadline(deadline(timeout)); err != nil {
			return err
		}
		n, err := conn.Write(p)
		if err != nil && isTimeout(err) && n == 0 {
			return ErrTimeout
		}
		return err
	}
	receive := func(p []byte, timeout time.Duration) error {
		if err := conn.SetReadDeadline(deadline(timeout)); err != nil {
			return err
		}
		n, err := io.ReadFull(conn, p)
		if err != nil && isTimeout(err) {
			if n == 0 {
				return ErrTimeout
			}
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return send, receive
}

type receiver struct {
	receive    ReceiveFunc
	maxPayload uint32
}

// ReadMessage reads one frame. A timeout before any header byte returns
// ErrTimeout unwrapped; a CRC mismatch returns the message with ErrIntegrity.
func (r receiver) ReadMessage(timeout time.Duration) (*Message, error) {
	var hb [HeaderSize]byte
	if err := r.receive(hb[:], timeout); err != nil {
		if err == ErrTimeout {
			return nil, err
		}
		return nil, &TransportError{Op: "receive header", Err: err}
	}
	h, err := DecodeHeader(hb[:])
	if err != nil {
		return nil, err
	}
	if r.maxPayload > 0 && h.PayloadLength > r.maxPayload {
		return nil, &TransportError{Op: "receive header", Err: ErrProtocol}
	}
	msg := &Message{ID: h.MessageID}
	if h.PayloadLength > 0 {
		msg.Payload = make([]byte, h.PayloadLength)
		if err = r.receive(msg.Payload, timeout); err != nil {
			return nil, &TransportError{Op: "receive payload", Err: err}
		}
	}
	if !VerifyChecksum(msg.Payload, h.PayloadCRC) {
		return msg, ErrIntegrity
	}
	return msg, nil
}

func writeMessage(send SendFunc, id uint32, payload []byte, timeout time.Duration) error {
	msg := &Message{ID: id, Payload: payload}
	var hb [HeaderSize]byte
	msg.Header().Encode(hb[:])
	if err := send(hb[:], timeout); err != nil {
		return &TransportError{Op: "send header", Err: err}
	}
	if len(payload) > 0 {
		if err := send(payload, timeout); err != nil {
			return &TransportError{Op: "send payload", Err: err}
		}
	}
	return nil
}
