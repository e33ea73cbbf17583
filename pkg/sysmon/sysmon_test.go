package sysmon

import (
	"context"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/gos.go/pkg/boot"
	"github.com/robotalks/gos.go/pkg/bootcfg"
	"github.com/robotalks/gos.go/pkg/comm"
	"github.com/robotalks/gos.go/pkg/ipl"
	"github.com/robotalks/gos.go/pkg/msgs"
	"github.com/robotalks/gos.go/pkg/sdh"
	"github.com/robotalks/gos.go/pkg/storage"
)

func startDaemon(t *testing.T) *sdh.Daemon {
	dev := storage.NewMemory(0x10000)
	store, err := sdh.NewStore(dev, sdh.DefaultLayout(), bootcfg.NewStore(dev, 0))
	require.NoError(t, err)
	d := sdh.NewDaemon(store)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return d
}

func image(size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	return b
}

func uploadAndList(t *testing.T, caller sdh.Caller) {
	ctx := context.Background()
	c := sdh.NewClient(caller)
	desc, err := c.Upload(ctx, "app", 0x08004000, image(2500), nil)
	require.NoError(t, err)
	require.Equal(t, uint32(2500), desc.Info.Size)

	list, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "app", list[0].Name)
	require.NoError(t, c.Install(ctx, 0))
}

func TestServerOverPackets(t *testing.T) {
	srv := NewServer(startDaemon(t))
	nodeRW, hostRW := comm.NewChanPair(4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, nodeRW) }()
	defer func() {
		cancel()
		<-done
	}()

	client := NewClient(hostRW)
	defer client.Close()
	echo, err := client.Ping(ctx, []byte("hi"))
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), echo)
	require.Equal(t, 1, srv.NumConns())

	uploadAndList(t, client)

	// a malformed store request is answered with INVALID_REQUEST.
	reply, err := client.Do(ctx, sdh.MsgBinaryInfo, []byte{1})
	require.NoError(t, err)
	resp, err := sdh.DecodeResponse(&ipl.Message{ID: ipl.AckID(sdh.MsgBinaryInfo), Payload: reply})
	require.NoError(t, err)
	require.Equal(t, sdh.ResultInvalidRequest, resp.ResultCode())
}

func TestServerOverTCP(t *testing.T) {
	srv := NewServer(startDaemon(t))
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, l) }()

	client, err := Dial("tcp://" + l.Addr().String())
	require.NoError(t, err)
	uploadAndList(t, client)
	client.Close()

	cancel()
	require.Equal(t, context.Canceled, <-done)
}

func TestServerOverWebsocket(t *testing.T) {
	srv := NewServer(startDaemon(t))
	hs := httptest.NewServer(srv.WebsocketHandler())
	defer hs.Close()

	client, err := Dial("ws" + strings.TrimPrefix(hs.URL, "http") + "/sysmon")
	require.NoError(t, err)
	defer client.Close()
	uploadAndList(t, client)
}

func TestDialRejectsTargets(t *testing.T) {
	_, err := Dial("serial:///dev/ttyUSB0")
	require.Error(t, err)
	_, err = Dial("mqtt://localhost:1883/gos")
	require.Equal(t, ErrNodeRequired, err)
}

type recordingPublisher struct {
	lock   sync.Mutex
	topics []string
	msgs   []proto.Message
	status msgs.NodeStatus
}

func (p *recordingPublisher) PublishMsg(topic string, msg proto.Message) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.topics = append(p.topics, topic)
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) UpdateStatus(fn func(*msgs.NodeStatus)) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	fn(&p.status)
	return nil
}

func (p *recordingPublisher) count() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.topics)
}

func TestReporter(t *testing.T) {
	pub := &recordingPublisher{}
	r := NewReporter(pub, pub)
	r.SetBinaries(1)
	r.StoreEvent(sdh.Event{
		Type:       sdh.EventDownloadCompleted,
		Index:      1,
		Descriptor: sdh.BinaryDescriptor{Name: "app", Info: sdh.BinaryInfo{StartAddress: 0x08004000, Size: 10, CRC32: 7}},
	})
	r.Progress(boot.Progress{Phase: boot.PhaseCopying, Name: "app", Percent: 50, Written: 5, Total: 10})
	r.BootState(boot.StateInstall)
	link := ipl.NewLink(ipl.DefaultConfig(), nil)
	r.LinkNotifier(link).StateChanged(context.Background(), ipl.StateDiscover)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	deadline := time.Now().Add(time.Second)
	for pub.count() < 3 {
		require.True(t, time.Now().Before(deadline), "reports not published")
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	pub.lock.Lock()
	defer pub.lock.Unlock()
	require.Equal(t, []string{msgs.TopicStoreEvents, msgs.TopicInstallProgress, msgs.TopicLinkState}, pub.topics)
	ev := pub.msgs[0].(*msgs.StoreEvent)
	require.Equal(t, msgs.StoreEventDownloadCompleted, ev.Type)
	require.Equal(t, int32(1), ev.Index)
	require.Equal(t, "app", ev.Binary.Name)
	require.Equal(t, uint32(50), pub.msgs[1].(*msgs.InstallProgress).Percent)
	require.Equal(t, "DISCOVER", pub.msgs[2].(*msgs.LinkState).State)
	require.Equal(t, uint32(2), pub.status.Binaries)
	require.Equal(t, "INSTALL", pub.status.BootState)
	require.Equal(t, "DISCOVER", pub.status.LinkState)
}
