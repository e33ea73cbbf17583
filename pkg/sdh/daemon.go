package sdh

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/gos.go/pkg/kernel"
)

// Default timeouts of the daemon.
const (
	DefaultIdleTimeout     = 5 * time.Second
	DefaultFeedbackTimeout = 3 * time.Second
)

type call struct {
	req   Request
	reply chan Response
}

// Daemon serves store requests from one task. Callers hand over a request
// through a single slot and wait for the reply with a bounded timeout.
type Daemon struct {
	Store *Store
	// IdleTimeout degrades an unfinished download to IDLE.
	IdleTimeout time.Duration
	// FeedbackTimeout bounds how long Do waits for the reply.
	FeedbackTimeout time.Duration

	calls chan call
}

// NewDaemon creates a Daemon serving store.
func NewDaemon(store *Store) *Daemon {
	return &Daemon{
		Store:           store,
		IdleTimeout:     DefaultIdleTimeout,
		FeedbackTimeout: DefaultFeedbackTimeout,
		calls:           make(chan call, 1),
	}
}

// Name implements framework.Named.
func (d *Daemon) Name() string {
	return "sdh"
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Run processes requests until ctx is done. A non-positive IdleTimeout or
// FeedbackTimeout uses the default.
func (d *Daemon) Run(ctx context.Context) error {
	for {
		if err := kernel.Checkpoint(ctx); err != nil {
			return err
		}
		timer := time.NewTimer(orDefault(d.IdleTimeout, DefaultIdleTimeout))
		select {
		case c := <-d.calls:
			timer.Stop()
			resp := d.Store.Handle(c.req)
			glog.V(2).Infof("sdh: %s -> %s", messageName(c.req.MessageID()), resp.ResultCode())
			c.reply <- resp
		case <-timer.C:
			d.Store.Expire()
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Do submits a request and waits for its response. It fails with ErrBusy
// when another request already waits in the slot, and ErrNoFeedback when
// no reply arrives in time. A late reply is discarded.
func (d *Daemon) Do(ctx context.Context, req Request) (Response, error) {
	c := call{req: req, reply: make(chan Response, 1)}
	select {
	case d.calls <- c:
	default:
		return nil, ErrBusy
	}
	timer := time.NewTimer(orDefault(d.FeedbackTimeout, DefaultFeedbackTimeout))
	defer timer.Stop()
	select {
	case resp := <-c.reply:
		return resp, nil
	case <-timer.C:
		return nil, ErrNoFeedback
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Serve is Do which converts failures into a coded response.
func (d *Daemon) Serve(ctx context.Context, req Request) Response {
	resp, err := d.Do(ctx, req)
	switch err {
	case nil:
		return resp
	case ErrBusy:
		return Failure(req, ResultBusy)
	}
	glog.Warningf("sdh: %s: %v", messageName(req.MessageID()), err)
	return Failure(req, ResultFailed)
}
