package sdh

import (
	"context"

	"github.com/golang/glog"

	"github.com/robotalks/gos.go/pkg/ipl"
)

// Handler serves framed store requests on behalf of a Daemon. The same
// handler is used for the link and the system-monitor channel.
type Handler struct {
	Daemon *Daemon
}

// HandleMessage implements ipl.Handler.
func (h *Handler) HandleMessage(ctx context.Context, r ipl.Responder, msg *ipl.Message) error {
	var resp Response
	req, err := DecodeRequest(msg)
	if err != nil {
		glog.Warningf("sdh: %v", err)
		resp = FailureFor(msg.ID, ResultInvalidRequest)
		if resp == nil {
			return err
		}
	} else {
		resp = h.Daemon.Serve(ctx, req)
	}
	reply := EncodeResponse(resp)
	return r.SendMessage(reply.ID, reply.Payload)
}

// Register binds all store requests onto link.
func Register(link *ipl.Link, d *Daemon) error {
	h := &Handler{Daemon: d}
	for _, id := range MessageIDs {
		if err := link.Register(id, h); err != nil {
			return err
		}
	}
	return nil
}
