// Package sysmon serves the update store over the system-monitor channel:
// packet transports carrying the same frames as the transport link.
package sysmon

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/gos.go/pkg/comm"
	"github.com/robotalks/gos.go/pkg/comm/stream"
	"github.com/robotalks/gos.go/pkg/comm/websocket"
	"github.com/robotalks/gos.go/pkg/ipl"
	"github.com/robotalks/gos.go/pkg/sdh"
)

// Mux routes frames to handlers by message id.
type Mux struct {
	handlers map[uint32]ipl.Handler
}

// NewMux creates a Mux answering ping.
func NewMux() *Mux {
	m := &Mux{handlers: make(map[uint32]ipl.Handler)}
	m.Handle(ipl.MsgPing, ipl.HandleMessageFunc(func(ctx context.Context, r ipl.Responder, msg *ipl.Message) error {
		return r.SendMessage(ipl.MsgPingAck, msg.Payload)
	}))
	return m
}

// Handle registers h for id, replacing any previous one.
func (m *Mux) Handle(id uint32, h ipl.Handler) {
	m.handlers[id] = h
}

// HandleMessage implements ipl.Handler. Unknown ids are dropped.
func (m *Mux) HandleMessage(ctx context.Context, r ipl.Responder, msg *ipl.Message) error {
	h, ok := m.handlers[msg.ID]
	if !ok {
		glog.V(4).Infof("sysmon: skipped 0x%04x", msg.ID)
		return nil
	}
	return h.HandleMessage(ctx, r, msg)
}

// Server serves store requests on any number of packet transports.
type Server struct {
	Handler ipl.Handler
	// MaxPayloadLength drops larger frames when non-zero.
	MaxPayloadLength uint32

	lock  sync.Mutex
	pipes map[*comm.Pipe]struct{}
}

// NewServer creates a Server for the store daemon.
func NewServer(d *sdh.Daemon) *Server {
	mux := NewMux()
	h := &sdh.Handler{Daemon: d}
	for _, id := range sdh.MessageIDs {
		mux.Handle(id, h)
	}
	return &Server{Handler: mux, pipes: make(map[*comm.Pipe]struct{})}
}

// Serve serves rw until it fails or ctx is done.
func (s *Server) Serve(ctx context.Context, rw comm.PacketReadWriter) error {
	pipe := comm.NewPipe(rw, s.Handler)
	pipe.MaxPayloadLength = s.MaxPayloadLength
	s.lock.Lock()
	s.pipes[pipe] = struct{}{}
	s.lock.Unlock()
	defer func() {
		s.lock.Lock()
		delete(s.pipes, pipe)
		s.lock.Unlock()
	}()
	return pipe.Run(ctx)
}

// NumConns returns the number of transports being served.
func (s *Server) NumConns() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.pipes)
}

// ServeListener accepts stream connections from l until ctx is done.
func (s *Server) ServeListener(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		glog.V(2).Infof("sysmon: accepted %s", conn.RemoteAddr())
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Serve(ctx, stream.New(conn))
			glog.V(2).Infof("sysmon: %s closed: %v", conn.RemoteAddr(), err)
		}()
	}
}

// WebsocketHandler serves each websocket connection as a transport.
func (s *Server) WebsocketHandler() http.Handler {
	return websocket.Handler(func(ctx context.Context, rw *websocket.ReadWriter) {
		err := s.Serve(ctx, rw)
		glog.V(2).Infof("sysmon: websocket closed: %v", err)
	})
}
