package sh

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"strings"

	"github.com/robotalks/gos.go/pkg/ipl"
	"github.com/robotalks/gos.go/pkg/sdh"
	"github.com/robotalks/gos.go/pkg/sysmon"
)

// ErrNoLink indicates the command needs a transport link connection
// rather than the system-monitor channel.
var ErrNoLink = errors.New("not connected through the transport link")

// Conn is a connection to a node, either through the transport link or the
// system-monitor channel.
type Conn struct {
	Target string
	// Link is set when connected through the transport link.
	Link  *ipl.Client
	Store *sdh.Client

	caller sdh.Caller
	name   string
	closer io.Closer
}

// Dial connects to target. ipl://host:port reaches the transport link and
// completes the handshake announcing name, the other schemes reach the
// system-monitor channel (see sysmon.Dial).
func Dial(ctx context.Context, target, name string) (*Conn, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	conn := &Conn{Target: target}
	if u.Scheme == "ipl" {
		var d net.Dialer
		netConn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, err
		}
		client := ipl.NewClient(ipl.ConnFuncs(netConn))
		client.Name = name
		if err = client.Accept(ctx); err != nil {
			netConn.Close()
			return nil, err
		}
		conn.Link, conn.caller, conn.closer = client, client, netConn
		conn.name = client.Peer().Name
	} else {
		client, err := sysmon.Dial(target)
		if err != nil {
			return nil, err
		}
		conn.caller, conn.closer = client, client
		conn.name = u.Query().Get("node")
		if conn.name == "" {
			conn.name = u.Host
		}
	}
	conn.Store = sdh.NewClient(conn.caller)
	return conn, nil
}

// Name returns the display name of the node.
func (c *Conn) Name() string {
	return c.name
}

// Ping sends payload and returns the echo.
func (c *Conn) Ping(ctx context.Context, payload []byte) ([]byte, error) {
	return c.caller.Do(ctx, ipl.MsgPing, payload)
}

// Close implements io.Closer.
func (c *Conn) Close() error {
	return c.closer.Close()
}

// MQTTTarget builds the system-monitor target of a node on the broker.
func MQTTTarget(brokerURL, node string) string {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return brokerURL
	}
	q := u.Query()
	q.Set("node", node)
	u.RawQuery = q.Encode()
	if !strings.HasPrefix(u.Scheme, "mqtt") {
		u.Scheme = "mqtt"
	}
	return u.String()
}
