package mqtt

import (
	"context"
	"io"
)

// Topics of the system-monitor channel relative to a node.
const (
	TopicSysmonRequest = "sysmon/req"
	TopicSysmonReply   = "sysmon/rsp"
)

// ReadWriter implements PacketReadWriter on a pair of topics.
type ReadWriter struct {
	Conn     *Conn
	SubTopic string
	PubTopic string

	packetCh chan []byte
	ready    chan struct{}
	done     chan struct{}
}

// NewPacketReadWriter creates the ReadWriter.
func NewPacketReadWriter(c *Conn) *ReadWriter {
	return &ReadWriter{
		Conn:     c,
		packetCh: make(chan []byte, 4),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// WithTopics specifies the topics.
func (p *ReadWriter) WithTopics(sub, pub string) *ReadWriter {
	p.SubTopic, p.PubTopic = sub, pub
	return p
}

// ForNode sets topics for the node side:
// SubTopic = node/sysmon/req
// PubTopic = node/sysmon/rsp
func (p *ReadWriter) ForNode(node string) *ReadWriter {
	return p.WithTopics(node+"/"+TopicSysmonRequest, node+"/"+TopicSysmonReply)
}

// ForHost sets topics for the host talking to a node:
// SubTopic = node/sysmon/rsp
// PubTopic = node/sysmon/req
func (p *ReadWriter) ForHost(node string) *ReadWriter {
	return p.WithTopics(node+"/"+TopicSysmonReply, node+"/"+TopicSysmonRequest)
}

// ReadPacket implements PacketReader.
func (p *ReadWriter) ReadPacket() ([]byte, error) {
	select {
	case pkt := <-p.packetCh:
		return pkt, nil
	case <-p.done:
		return nil, io.EOF
	}
}

// WritePacket implements PacketWriter.
func (p *ReadWriter) WritePacket(pkt []byte) error {
	token := p.Conn.Publish(p.PubTopic, pkt, false)
	token.Wait()
	return token.Error()
}

// Ready is closed once Run subscribed SubTopic.
func (p *ReadWriter) Ready() <-chan struct{} {
	return p.ready
}

// Run implements Runnable.
func (p *ReadWriter) Run(ctx context.Context) error {
	sub := p.Conn.Subscribe(p.SubTopic, Handler(p.handleMsg))
	defer sub.Close()
	defer close(p.done)
	sub.Token.Wait()
	if err := sub.Token.Error(); err != nil {
		return err
	}
	close(p.ready)
	<-ctx.Done()
	return ctx.Err()
}

func (p *ReadWriter) handleMsg(_ string, payload []byte) {
	select {
	case p.packetCh <- payload:
	case <-p.done:
	}
}
