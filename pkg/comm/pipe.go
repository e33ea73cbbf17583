package comm

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/gos.go/pkg/ipl"
)

// DefaultRequestTimeout bounds Pipe.Do when RequestTimeout is not set.
const DefaultRequestTimeout = 5 * time.Second

// ErrPipeClosed is returned by Do once the pipe stopped running.
var ErrPipeClosed = errors.New("pipe closed")

// Pipe exchanges frames over a PacketReadWriter. Incoming acknowledgements
// are matched with the outstanding Do call, everything else is served by
// Handler with the Pipe as the Responder.
type Pipe struct {
	ReadWriter PacketReadWriter
	Handler    ipl.Handler
	// MaxPayloadLength drops larger frames when non-zero.
	MaxPayloadLength uint32
	RequestTimeout   time.Duration

	sendLock sync.Mutex
	callLock sync.Mutex
	lock     sync.Mutex
	pending  map[uint32]chan *ipl.Message
	closed   bool
}

// NewPipe creates a Pipe with given PacketReadWriter.
func NewPipe(rw PacketReadWriter, handler ipl.Handler) *Pipe {
	return &Pipe{
		ReadWriter:     rw,
		Handler:        handler,
		RequestTimeout: DefaultRequestTimeout,
		pending:        make(map[uint32]chan *ipl.Message),
	}
}

// SendMessage implements ipl.Responder.
func (p *Pipe) SendMessage(id uint32, payload []byte) error {
	msg := &ipl.Message{ID: id, Payload: payload}
	p.sendLock.Lock()
	defer p.sendLock.Unlock()
	return p.ReadWriter.WritePacket(msg.Bytes())
}

// Do sends a request and waits for the acknowledgement payload. Requests
// are issued one at a time. Run must be running.
func (p *Pipe) Do(ctx context.Context, id uint32, payload []byte) ([]byte, error) {
	p.callLock.Lock()
	defer p.callLock.Unlock()

	ackID := ipl.AckID(id)
	ch := make(chan *ipl.Message, 1)
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return nil, ErrPipeClosed
	}
	if p.pending == nil {
		p.pending = make(map[uint32]chan *ipl.Message)
	}
	p.pending[ackID] = ch
	p.lock.Unlock()
	defer func() {
		p.lock.Lock()
		delete(p.pending, ackID)
		p.lock.Unlock()
	}()

	if err := p.SendMessage(id, payload); err != nil {
		return nil, err
	}
	timeout := p.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, ErrPipeClosed
		}
		return msg.Payload, nil
	case <-timer.C:
		return nil, ipl.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run implements framework.Runnable. It returns when the transport fails or
// ctx is done, closing the transport in both cases.
func (p *Pipe) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.Close()
		case <-done:
		}
	}()
	defer p.shutdown()

	for {
		pkt, err := p.ReadWriter.ReadPacket()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		msg, err := ipl.DecodeFrame(pkt)
		if err != nil {
			if msg != nil {
				glog.Warningf("comm: dropped 0x%04x: %v", msg.ID, err)
			} else {
				glog.Warningf("comm: dropped packet: %v", err)
			}
			continue
		}
		if max := p.MaxPayloadLength; max > 0 && uint32(len(msg.Payload)) > max {
			glog.Warningf("comm: dropped 0x%04x: payload %d exceeds %d", msg.ID, len(msg.Payload), max)
			continue
		}
		if p.deliver(msg) {
			continue
		}
		if h := p.Handler; h != nil {
			if err = h.HandleMessage(ctx, p, msg); err != nil {
				glog.Errorf("comm: handle 0x%04x: %v", msg.ID, err)
			}
			continue
		}
		glog.V(4).Infof("comm: skipped 0x%04x", msg.ID)
	}
}

func (p *Pipe) deliver(msg *ipl.Message) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	ch, ok := p.pending[msg.ID]
	if !ok {
		return false
	}
	delete(p.pending, msg.ID)
	ch <- msg
	return true
}

func (p *Pipe) shutdown() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.closed = true
	for id, ch := range p.pending {
		close(ch)
		delete(p.pending, id)
	}
}

// Close implements io.Closer.
func (p *Pipe) Close() error {
	if closer, ok := p.ReadWriter.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
