package sysmon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/robotalks/gos.go/pkg/comm"
	"github.com/robotalks/gos.go/pkg/comm/mqtt"
	"github.com/robotalks/gos.go/pkg/comm/stream"
	"github.com/robotalks/gos.go/pkg/comm/websocket"
	"github.com/robotalks/gos.go/pkg/ipl"
)

// DefaultDialTimeout bounds establishing the transport in Dial.
const DefaultDialTimeout = 5 * time.Second

// ErrNodeRequired indicates a MQTT target without node name.
var ErrNodeRequired = errors.New("node name required, e.g. mqtt://broker:1883/gos?node=name")

// Client issues requests over the system-monitor channel. It implements
// sdh.Caller.
type Client struct {
	*comm.Pipe

	cancel  context.CancelFunc
	done    chan struct{}
	closers []io.Closer
}

// NewClient starts a Client on rw. closers are closed with the client.
func NewClient(rw comm.PacketReadWriter, closers ...io.Closer) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		Pipe:    comm.NewPipe(rw, nil),
		cancel:  cancel,
		done:    make(chan struct{}),
		closers: closers,
	}
	go func() {
		defer close(c.done)
		c.Pipe.Run(ctx)
	}()
	return c
}

// Dial connects to a node. Supported targets:
//   tcp://host:port
//   ws://host:port/path
//   mqtt://broker:port/prefix?node=name
func Dial(target string) (*Client, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "tcp":
		conn, err := net.DialTimeout("tcp", u.Host, DefaultDialTimeout)
		if err != nil {
			return nil, err
		}
		return NewClient(stream.New(conn)), nil
	case "ws", "wss":
		origin := "http://" + u.Host
		if u.Scheme == "wss" {
			origin = "https://" + u.Host
		}
		rw, err := websocket.Dial(target, origin)
		if err != nil {
			return nil, err
		}
		return NewClient(rw), nil
	case "mqtt", "mqtts":
		return dialMQTT(u)
	}
	return nil, fmt.Errorf("unsupported sysmon target: %q", target)
}

func dialMQTT(u *url.URL) (*Client, error) {
	node := u.Query().Get("node")
	if node == "" {
		return nil, ErrNodeRequired
	}
	conn, err := mqtt.Dial(u.String(), DefaultDialTimeout)
	if err != nil {
		return nil, err
	}
	rw := mqtt.NewPacketReadWriter(conn).ForHost(node)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rw.Run(ctx) }()
	select {
	case <-rw.Ready():
	case err = <-done:
		cancel()
		conn.Close()
		return nil, err
	case <-time.After(DefaultDialTimeout):
		cancel()
		<-done
		conn.Close()
		return nil, mqtt.ErrConnectTimeout
	}
	return NewClient(rw, closerFunc(func() error {
		cancel()
		<-done
		return nil
	}), conn), nil
}

// Ping sends payload and returns the echo.
func (c *Client) Ping(ctx context.Context, payload []byte) ([]byte, error) {
	return c.Do(ctx, ipl.MsgPing, payload)
}

// Close stops the client and closes the transport.
func (c *Client) Close() error {
	c.cancel()
	err := c.Pipe.Close()
	for _, closer := range c.closers {
		closer.Close()
	}
	<-c.done
	return err
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}
