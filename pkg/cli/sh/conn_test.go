package sh

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/gos.go/pkg/ipl"
)

func TestDialLink(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	conf := ipl.DefaultConfig()
	conf.Name = "node-1"
	link := ipl.NewLink(conf, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		link.Configure(ipl.ConnFuncs(conn))
		link.Run(ctx)
	}()

	dialCtx, dialCancel := context.WithTimeout(ctx, 3*time.Second)
	defer dialCancel()
	conn, err := Dial(dialCtx, "ipl://"+l.Addr().String(), "tester")
	require.NoError(t, err)
	defer conn.Close()
	require.Equal(t, "node-1", conn.Name())
	require.NotNil(t, conn.Link)
	require.NotNil(t, conn.Store)

	echo, err := conn.Ping(dialCtx, []byte("x"))
	require.NoError(t, err)
	require.Equal(t, []byte("x"), echo)
	require.Equal(t, "tester", link.Peer().Name)
}

func TestMQTTTarget(t *testing.T) {
	require.Equal(t, "mqtt://broker:1883/gos/?node=n1", MQTTTarget("mqtt://broker:1883/gos/", "n1"))
	require.Equal(t, "mqtts://broker/?node=n2", MQTTTarget("mqtts://broker/", "n2"))
	require.Equal(t, "mqtt://broker?node=n3", MQTTTarget("tcp://broker", "n3"))
}
