package mqtt

import (
	"context"
	"sort"
	"time"

	"github.com/golang/glog"
	"github.com/golang/protobuf/proto"

	"github.com/robotalks/gos.go/pkg/msgs"
)

// DefaultDiscoverTimeout defines the default timeout value of discovery.
const DefaultDiscoverTimeout = 500 * time.Millisecond

// Discover collects the retained status of nodes for the duration of
// timeout. Offline nodes are included.
func Discover(ctx context.Context, c *Conn, timeout time.Duration) ([]*msgs.NodeStatus, error) {
	resCh := make(chan *msgs.NodeStatus, 16)
	sub := c.Subscribe("+/"+msgs.TopicStatus, Handler(func(topic string, payload []byte) {
		node, _ := msgs.SplitNodeTopic(topic)
		if len(payload) == 0 {
			return
		}
		msg, err := msgs.Decode(msgs.TopicStatus, payload)
		if err != nil {
			glog.Warningf("mqtt: status of %q: %v", node, err)
			return
		}
		select {
		case resCh <- msg.(*msgs.NodeStatus):
		case <-time.After(time.Second):
		}
	}))
	defer sub.Close()

	if timeout <= 0 {
		timeout = DefaultDiscoverTimeout
	}
	found := make(map[string]*msgs.NodeStatus)
	expire := time.After(timeout)
	for {
		select {
		case status := <-resCh:
			found[status.Name] = status
		case <-expire:
			res := make([]*msgs.NodeStatus, 0, len(found))
			for _, status := range found {
				res = append(res, status)
			}
			sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
			return res, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Events subscribes to the events and status of all nodes. handler receives
// the node name, the relative topic and the decoded message.
func Events(c *Conn, handler func(node, topic string, msg proto.Message)) *Subscription {
	return c.Subscribe("#", Handler(func(topic string, payload []byte) {
		node, rel := msgs.SplitNodeTopic(topic)
		if _, ok := msgs.MessageTypes[rel]; !ok || len(payload) == 0 {
			return
		}
		msg, err := msgs.Decode(rel, payload)
		if err != nil {
			glog.Warningf("mqtt: %s: %v", topic, err)
			return
		}
		handler(node, rel, msg)
	}))
}
