package msgs

import (
	"fmt"
	"strings"

	"github.com/golang/protobuf/proto"
)

// Topics relative to a node.
const (
	TopicStatus          = "status"
	TopicStoreEvents     = "events/store"
	TopicInstallProgress = "events/install"
	TopicLinkState       = "events/link"
)

// MessageTypes maps a topic to the message type published on it.
var MessageTypes = map[string]func() proto.Message{
	TopicStatus:          func() proto.Message { return &NodeStatus{} },
	TopicStoreEvents:     func() proto.Message { return &StoreEvent{} },
	TopicInstallProgress: func() proto.Message { return &InstallProgress{} },
	TopicLinkState:       func() proto.Message { return &LinkState{} },
}

// ErrUnknownTopic indicates no message type is published on the topic.
type ErrUnknownTopic struct {
	Topic string
}

// Error implements error.
func (e *ErrUnknownTopic) Error() string {
	return fmt.Sprintf("unknown topic: %q", e.Topic)
}

// NodeTopic joins a node name and a relative topic.
func NodeTopic(node, topic string) string {
	return node + "/" + topic
}

// SplitNodeTopic splits a full topic into node name and relative topic.
func SplitNodeTopic(topic string) (node, rel string) {
	pos := strings.Index(topic, "/")
	if pos < 0 {
		return "", topic
	}
	return topic[:pos], topic[pos+1:]
}

// Encode serializes msg.
func Encode(msg proto.Message) ([]byte, error) {
	return proto.Marshal(msg)
}

// Decode parses data published on a topic relative to a node.
func Decode(topic string, data []byte) (proto.Message, error) {
	newMsg, ok := MessageTypes[topic]
	if !ok {
		return nil, &ErrUnknownTopic{Topic: topic}
	}
	msg := newMsg()
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
