package mqtt

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/golang/protobuf/proto"

	"github.com/robotalks/gos.go/pkg/msgs"
)

// NodeConn connects a node to the broker: it keeps the retained status of
// the node and publishes its events.
type NodeConn struct {
	*Conn
	Node string

	lock   sync.Mutex
	status msgs.NodeStatus
	online bool
}

// NewNodeConn creates a NodeConn. The broker clears the online flag of the
// node when the connection drops.
func NewNodeConn(brokerURL, node string) (*NodeConn, error) {
	opts, prefix, err := ParseURL(brokerURL)
	if err != nil {
		return nil, err
	}
	will, err := msgs.Encode(&msgs.NodeStatus{Name: node})
	if err != nil {
		return nil, err
	}
	opts.SetBinaryWill(prefix+msgs.NodeTopic(node, msgs.TopicStatus), will, 1, true)
	if opts.ClientID == "" {
		opts.SetClientID("gos:" + node)
	}
	n := &NodeConn{Conn: NewConn(opts, prefix), Node: node}
	n.status.Name = node
	n.Conn.OnConnect = func(*Conn) { n.announce() }
	return n, nil
}

// PublishMsg implements sysmon.Publisher.
func (n *NodeConn) PublishMsg(topic string, msg proto.Message) error {
	data, err := msgs.Encode(msg)
	if err != nil {
		return err
	}
	token := n.Publish(msgs.NodeTopic(n.Node, topic), data, topic == msgs.TopicStatus)
	token.Wait()
	return token.Error()
}

// UpdateStatus changes the retained status. fn is called with a copy.
func (n *NodeConn) UpdateStatus(fn func(*msgs.NodeStatus)) error {
	n.lock.Lock()
	fn(&n.status)
	n.status.Name = n.Node
	status := n.status
	online := n.online
	n.lock.Unlock()
	if !online {
		return nil
	}
	status.Online = true
	status.Timestamp = msgs.Timestamp(time.Now())
	return n.PublishMsg(msgs.TopicStatus, &status)
}

func (n *NodeConn) announce() {
	n.lock.Lock()
	n.online = true
	n.lock.Unlock()
	if err := n.UpdateStatus(func(*msgs.NodeStatus) {}); err != nil {
		glog.Warningf("mqtt: announce %q: %v", n.Node, err)
	}
}

// Run implements Runnable. It connects unless already connected, keeps the connection until ctx is
// done and finally publishes the node offline.
func (n *NodeConn) Run(ctx context.Context) error {
	if !n.Client.IsConnected() {
		token := n.Client.Connect()
		select {
		case <-ctx.Done():
		case <-waitToken(token):
			if err := token.Error(); err != nil {
				return err
			}
		}
	}
	<-ctx.Done()
	n.lock.Lock()
	n.online = false
	status := n.status
	n.lock.Unlock()
	status.Online = false
	status.Timestamp = msgs.Timestamp(time.Now())
	if data, err := msgs.Encode(&status); err == nil {
		n.Publish(msgs.NodeTopic(n.Node, msgs.TopicStatus), data, true).WaitTimeout(time.Second)
	}
	n.Close()
	return ctx.Err()
}

func waitToken(token interface{ Wait() bool }) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		token.Wait()
		close(ch)
	}()
	return ch
}
