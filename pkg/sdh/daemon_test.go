package sdh

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/gos.go/pkg/ipl"
)

func TestDaemonIdleTimeout(t *testing.T) {
	s := newTestStore(t, testLayout, 0x4000)
	d := NewDaemon(s.Store)
	d.IdleTimeout = 30 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	defer func() {
		cancel()
		require.Equal(t, context.Canceled, <-done)
	}()

	resp, err := d.Do(ctx, DownloadRequest{Descriptor: BinaryDescriptor{Name: "app", Info: BinaryInfo{Size: 3000}}})
	require.NoError(t, err)
	require.Equal(t, ResultOK, resp.ResultCode())
	require.Equal(t, StateDownloading, s.State())

	deadline := time.Now().Add(time.Second)
	for s.State() != StateIdle {
		require.True(t, time.Now().Before(deadline), "download not expired")
		time.Sleep(5 * time.Millisecond)
	}
	resp, err = d.Do(ctx, NumRequest{})
	require.NoError(t, err)
	require.Equal(t, NumResponse{Result: ResultOK, Count: 0}, resp)
}

func TestDaemonBusy(t *testing.T) {
	s := newTestStore(t, testLayout, 0x4000)
	d := NewDaemon(s.Store)
	d.FeedbackTimeout = 100 * time.Millisecond

	// not running: the first request occupies the slot.
	first := make(chan error, 1)
	go func() {
		_, err := d.Do(context.Background(), NumRequest{})
		first <- err
	}()
	deadline := time.Now().Add(time.Second)
	for len(d.calls) == 0 {
		require.True(t, time.Now().Before(deadline))
		time.Sleep(time.Millisecond)
	}
	_, err := d.Do(context.Background(), NumRequest{})
	require.Equal(t, ErrBusy, err)
	require.Equal(t, InfoResponse{Result: ResultBusy, Index: 3}, d.Serve(context.Background(), InfoRequest{Index: 3}))
	require.Equal(t, ErrNoFeedback, <-first)
}

func TestDaemonNonPositiveIdleTimeout(t *testing.T) {
	s := newTestStore(t, testLayout, 0x4000)
	d := NewDaemon(s.Store)
	d.IdleTimeout = -time.Second
	d.FeedbackTimeout = 0
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	defer func() {
		cancel()
		require.Equal(t, context.Canceled, <-done)
	}()

	resp, err := d.Do(ctx, DownloadRequest{Descriptor: BinaryDescriptor{Name: "app", Info: BinaryInfo{Size: 3000}}})
	require.NoError(t, err)
	require.Equal(t, ResultOK, resp.ResultCode())
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, StateDownloading, s.State())
}

func TestHandlerMalformed(t *testing.T) {
	s := newTestStore(t, testLayout, 0x4000)
	h := &Handler{Daemon: NewDaemon(s.Store)}
	var sent []*ipl.Message
	r := responderFunc(func(id uint32, payload []byte) error {
		sent = append(sent, &ipl.Message{ID: id, Payload: payload})
		return nil
	})
	require.NoError(t, h.HandleMessage(context.Background(), r, &ipl.Message{ID: MsgBinaryInfo, Payload: []byte{1}}))
	require.Len(t, sent, 1)
	resp, err := DecodeResponse(sent[0])
	require.NoError(t, err)
	require.Equal(t, InfoResponse{Result: ResultInvalidRequest}, resp)

	err = h.HandleMessage(context.Background(), r, &ipl.Message{ID: 0x0399})
	require.True(t, errors.Is(err, ErrMalformed))
}

type responderFunc func(id uint32, payload []byte) error

func (f responderFunc) SendMessage(id uint32, payload []byte) error { return f(id, payload) }

func TestUploadOverLink(t *testing.T) {
	s := newTestStore(t, testLayout, 0x8000)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	daemon := NewDaemon(s.Store)
	go daemon.Run(ctx)

	conf := ipl.DefaultConfig()
	conf.ReceiveTimeout = 20 * time.Millisecond
	link := ipl.NewLink(conf, nil)
	require.NoError(t, Register(link, daemon))
	require.True(t, errors.Is(Register(link, daemon), ipl.ErrHandlerExists))

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	link.Configure(ipl.ConnFuncs(a))
	go link.Run(ctx)

	peer := ipl.NewClient(ipl.ConnFuncs(b))
	require.NoError(t, peer.Accept(ctx))
	client := NewClient(peer)

	n, err := client.Num(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	image := testImage(3000, 9)
	var progress []int
	d, err := client.Upload(ctx, "firmware", 0x08004000, image, func(sent, total int) {
		require.Equal(t, 3000, total)
		progress = append(progress, sent)
	})
	require.NoError(t, err)
	require.Equal(t, []int{1024, 2048, 3000}, progress)
	require.Equal(t, testLayout.BinaryAreaStart, d.StorageOffset)

	descs, err := client.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []BinaryDescriptor{d}, descs)

	err = client.Install(ctx, 1)
	require.Equal(t, &ResultError{MessageID: MsgBinaryInstall, Result: ResultInvalidIndex}, err)
	require.NoError(t, client.Install(ctx, 0))
	require.NoError(t, client.Erase(ctx, 0, true))
	n, err = client.Num(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
