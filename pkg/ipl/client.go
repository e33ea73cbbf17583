package ipl

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/gos.go/pkg/kernel"
)

// Client is the peer side of a Link. It answers the handshake and issues
// requests, one at a time.
type Client struct {
	Name             string
	MaxPayloadLength uint32
	RequestTimeout   time.Duration
	SendTimeout      time.Duration
	// PollInterval bounds each receive call while waiting.
	PollInterval time.Duration

	send    SendFunc
	receive ReceiveFunc
	peer    PeerInfo
	lock    sync.Mutex
}

// NewClient creates a Client over the byte-level functions.
func NewClient(send SendFunc, receive ReceiveFunc) *Client {
	return &Client{
		Name:             "host",
		MaxPayloadLength: 4096,
		RequestTimeout:   5 * time.Second,
		SendTimeout:      time.Second,
		PollInterval:     100 * time.Millisecond,
		send:             send,
		receive:          receive,
	}
}

// Peer returns the information announced by the link.
func (c *Client) Peer() PeerInfo {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.peer
}

// Accept waits for the link handshake and answers it. It returns once the
// connect request is acknowledged.
func (c *Client) Accept(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	for {
		msg, err := c.read(ctx)
		if err != nil {
			return err
		}
		connected, err := c.answerHandshake(msg)
		if err != nil {
			return err
		}
		if connected {
			return nil
		}
	}
}

// Do sends a request and waits for its acknowledgement payload. When the link
// restarts the handshake meanwhile, it's answered and the request is sent again.
func (c *Client) Do(ctx context.Context, id uint32, payload []byte) ([]byte, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.RequestTimeout)
		defer cancel()
	}
	if err := writeMessage(c.send, id, payload, c.SendTimeout); err != nil {
		return nil, err
	}
	for {
		msg, err := c.read(ctx)
		if err != nil {
			return nil, err
		}
		if msg.ID == AckID(id) {
			return msg.Payload, nil
		}
		connected, err := c.answerHandshake(msg)
		if err != nil {
			return nil, err
		}
		if connected {
			if err = writeMessage(c.send, id, payload, c.SendTimeout); err != nil {
				return nil, err
			}
		}
	}
}

// read polls for a valid frame until ctx is done. Frames failing CRC are skipped.
func (c *Client) read(ctx context.Context) (*Message, error) {
	r := receiver{receive: c.receive, maxPayload: c.MaxPayloadLength}
	for {
		if err := ctx.Err(); err != nil {
			if err == context.DeadlineExceeded {
				return nil, ErrTimeout
			}
			return nil, err
		}
		msg, err := r.ReadMessage(c.PollInterval)
		switch err {
		case nil:
			return msg, nil
		case ErrTimeout:
		case ErrIntegrity:
			glog.Warningf("ipl client: dropped 0x%04x: %v", msg.ID, err)
		default:
			return nil, err
		}
	}
}

func (c *Client) answerHandshake(msg *Message) (connected bool, err error) {
	switch msg.ID {
	case MsgDiscover:
		p, err := DecodeDiscoverPayload(msg.Payload)
		if err != nil {
			return false, err
		}
		c.peer.Name, c.peer.Version = p.Name, p.Version
		reply := DiscoverPayload{Version: ProtocolVersion, Name: c.Name}
		return false, writeMessage(c.send, MsgDiscoverAck, reply.Encode(), c.SendTimeout)
	case MsgConfig:
		p, err := DecodeConfigPayload(msg.Payload)
		if err != nil {
			return false, err
		}
		c.peer.MaxPayloadLength, c.peer.RequestTimeout = p.MaxPayloadLength, p.RequestTimeout
		reply := ConfigPayload{MaxPayloadLength: c.MaxPayloadLength, RequestTimeout: c.RequestTimeout}
		if p.MaxPayloadLength < reply.MaxPayloadLength {
			reply.MaxPayloadLength = p.MaxPayloadLength
		}
		return false, writeMessage(c.send, MsgConfigAck, reply.Encode(), c.SendTimeout)
	case MsgConnect:
		glog.V(2).Infof("ipl client: connected to %q", c.peer.Name)
		return true, writeMessage(c.send, MsgConnectAck, nil, c.SendTimeout)
	}
	glog.V(4).Infof("ipl client: skipped 0x%04x", msg.ID)
	return false, nil
}

// Ping sends payload and returns the echo.
func (c *Client) Ping(ctx context.Context, payload []byte) ([]byte, error) {
	return c.Do(ctx, MsgPing, payload)
}

// CPULoad returns the CPU load of the device in percent.
func (c *Client) CPULoad(ctx context.Context) (float64, error) {
	reply, err := c.Do(ctx, MsgCPULoad, nil)
	if err != nil {
		return 0, err
	}
	v, err := DecodeUint16(reply)
	return float64(v) / 100, err
}

// TaskCount returns the number of tasks.
func (c *Client) TaskCount(ctx context.Context) (int, error) {
	reply, err := c.Do(ctx, MsgTaskCount, nil)
	if err != nil {
		return 0, err
	}
	v, err := DecodeUint16(reply)
	return int(v), err
}

// TaskData queries the description of a task.
func (c *Client) TaskData(ctx context.Context, index uint16) (TaskDataAck, error) {
	reply, err := c.Do(ctx, MsgTaskData, EncodeUint16(index))
	if err != nil {
		return TaskDataAck{}, err
	}
	ack, err := DecodeTaskDataAck(reply)
	if err == nil && ack.Result != ResultOK {
		err = &ResultError{MessageID: MsgTaskData, Result: ack.Result}
	}
	return ack, err
}

// TaskVariableData queries the variable data of a task.
func (c *Client) TaskVariableData(ctx context.Context, index uint16) (TaskVariableDataAck, error) {
	reply, err := c.Do(ctx, MsgTaskVariableData, EncodeUint16(index))
	if err != nil {
		return TaskVariableDataAck{}, err
	}
	ack, err := DecodeTaskVariableDataAck(reply)
	if err == nil && ack.Result != ResultOK {
		err = &ResultError{MessageID: MsgTaskVariableData, Result: ack.Result}
	}
	return ack, err
}

// ModifyTask changes the state of a task.
func (c *Client) ModifyTask(ctx context.Context, index uint16, op kernel.TaskOp) error {
	reply, err := c.Do(ctx, MsgTaskModify, TaskModifyRequest{Index: index, Op: op}.Encode())
	if err != nil {
		return err
	}
	ack, err := DecodeIndexResult(reply)
	if err == nil && ack.Result != ResultOK {
		err = &ResultError{MessageID: MsgTaskModify, Result: ack.Result}
	}
	return err
}

// SyncTime sets the device clock and returns the device time after setting.
func (c *Client) SyncTime(ctx context.Context, t time.Time) (time.Time, error) {
	reply, err := c.Do(ctx, MsgTimeSync, EncodeTime(t))
	if err != nil {
		return time.Time{}, err
	}
	return DecodeTime(reply)
}

// Reset requests a supervised reset of the device.
func (c *Client) Reset(ctx context.Context) error {
	_, err := c.Do(ctx, MsgReset, nil)
	return err
}
