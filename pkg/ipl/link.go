package ipl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/gos.go/pkg/framework"
	"github.com/robotalks/gos.go/pkg/kernel"
)

// State is the state of the link state machine.
type State int

// Link states.
const (
	StateNotConfigured State = iota
	StateDiscoverStart
	StateDiscover
	StateConfigStart
	StateConfig
	StateConnectStart
	StateConnect
	StateConnected
)

var stateNames = [...]string{
	"NOT_CONFIGURED",
	"DISCOVER_START",
	"DISCOVER",
	"CONFIG_START",
	"CONFIG",
	"CONNECT_START",
	"CONNECT",
	"CONNECTED",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// StateNotifier is called when the link state changed.
type StateNotifier interface {
	StateChanged(context.Context, State)
}

// StateChangedFunc is func type of StateNotifier.
type StateChangedFunc func(context.Context, State)

// StateChanged implements StateNotifier.
func (f StateChangedFunc) StateChanged(ctx context.Context, state State) {
	f(ctx, state)
}

// Responder sends replies to the peer.
type Responder interface {
	SendMessage(id uint32, payload []byte) error
}

// Handler serves a request received in CONNECTED state.
type Handler interface {
	HandleMessage(ctx context.Context, r Responder, msg *Message) error
}

// HandleMessageFunc is func type of Handler.
type HandleMessageFunc func(ctx context.Context, r Responder, msg *Message) error

// HandleMessage implements Handler.
func (f HandleMessageFunc) HandleMessage(ctx context.Context, r Responder, msg *Message) error {
	return f(ctx, r, msg)
}

// MaxHandlers is the capacity of the registered handler list.
const MaxHandlers = 16

// Config contains the link parameters.
type Config struct {
	// Name is announced during discovery.
	Name string
	// MaxDiscoverAttempts parks the link after that many failed handshakes.
	// Zero means retry forever.
	MaxDiscoverAttempts int
	// Backoff is the delay before restarting from DISCOVER_START.
	Backoff time.Duration
	// ResponseTimeout bounds waiting for a handshake acknowledgement.
	ResponseTimeout time.Duration
	SendTimeout     time.Duration
	// ReceiveTimeout is the idle poll interval in CONNECTED state.
	ReceiveTimeout time.Duration
	// RetryDelay is the pause after a dropped frame.
	RetryDelay       time.Duration
	MaxPayloadLength uint32
	RequestTimeout   time.Duration
}

// DefaultConfig returns the default link parameters.
func DefaultConfig() Config {
	return Config{
		Name:                "gos",
		MaxDiscoverAttempts: 10,
		Backoff:             500 * time.Millisecond,
		ResponseTimeout:     time.Second,
		SendTimeout:         time.Second,
		ReceiveTimeout:      200 * time.Millisecond,
		RetryDelay:          10 * time.Millisecond,
		MaxPayloadLength:    4096,
		RequestTimeout:      5 * time.Second,
	}
}

// PeerInfo is what the peer announced during the handshake.
type PeerInfo struct {
	Name             string
	Version          uint16
	MaxPayloadLength uint32
	RequestTimeout   time.Duration
}

// Kernel is the kernel facade consumed by built-in requests.
type Kernel interface {
	CPULoad() (float64, error)
	NumTasks() int
	TaskInfo(index int) (kernel.TaskInfo, error)
	TaskStats(index int) (kernel.TaskStats, error)
	ModifyTask(index int, op kernel.TaskOp) error
	Now() time.Time
	SetTime(time.Time) error
	Reset() error
}

type handlerEntry struct {
	id      uint32
	handler Handler
}

// Link is the IPL state machine.
type Link struct {
	Config   Config
	Kernel   Kernel
	Notifier StateNotifier

	send     SendFunc
	receive  ReceiveFunc
	state    State
	attempts int
	parked   bool
	peer     PeerInfo
	builtins map[uint32]Handler
	handlers []handlerEntry
	wakeCh   chan struct{}

	lock     sync.RWMutex
	sendLock sync.Mutex
}

// NewLink creates a Link in NOT_CONFIGURED state. The built-in requests are
// served from k; only ping is served when k is nil.
func NewLink(conf Config, k Kernel) *Link {
	l := &Link{
		Config: conf,
		Kernel: k,
		wakeCh: make(chan struct{}, 1),
	}
	l.builtins = l.builtinHandlers()
	return l
}

// Name implements framework.Named.
func (l *Link) Name() string {
	return "ipl:" + l.Config.Name
}

// Configure installs the byte-level functions. The link restarts discovery
// when both are present, otherwise it becomes NOT_CONFIGURED.
func (l *Link) Configure(send SendFunc, receive ReceiveFunc) {
	l.lock.Lock()
	l.send, l.receive = send, receive
	l.attempts, l.parked = 0, false
	if send != nil && receive != nil {
		l.state = StateDiscoverStart
	} else {
		l.state = StateNotConfigured
	}
	l.lock.Unlock()
	l.wake()
}

// State returns the current state.
func (l *Link) State() State {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.state
}

// Parked tells if discovery gave up after the maximum number of attempts.
func (l *Link) Parked() bool {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.parked
}

// Resume restarts a parked link.
func (l *Link) Resume() {
	l.lock.Lock()
	resumed := l.parked
	l.parked, l.attempts = false, 0
	l.lock.Unlock()
	if resumed {
		glog.Infof("%s: resumed", l.Name())
		l.wake()
	}
}

// Peer returns the information exchanged with the peer.
func (l *Link) Peer() PeerInfo {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.peer
}

// Register adds a handler for a message id.
func (l *Link) Register(id uint32, h Handler) error {
	if _, ok := l.builtins[id]; ok || isHandshake(id) {
		return fmt.Errorf("%w: 0x%04x is built-in", ErrHandlerExists, id)
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	for _, entry := range l.handlers {
		if entry.id == id {
			return fmt.Errorf("%w: 0x%04x", ErrHandlerExists, id)
		}
	}
	if len(l.handlers) >= MaxHandlers {
		return ErrHandlersFull
	}
	l.handlers = append(l.handlers, handlerEntry{id: id, handler: h})
	return nil
}

// SendMessage implements Responder.
func (l *Link) SendMessage(id uint32, payload []byte) error {
	l.lock.RLock()
	send := l.send
	l.lock.RUnlock()
	if send == nil {
		return ErrNotConfigured
	}
	l.sendLock.Lock()
	defer l.sendLock.Unlock()
	glog.V(4).Infof("%s: send 0x%04x len=%d", l.Name(), id, len(payload))
	return writeMessage(send, id, payload, l.Config.SendTimeout)
}

// Run drives the state machine until ctx is done.
func (l *Link) Run(ctx context.Context) error {
	return fx.StepLoop(ctx, kernel.Checkpointed(l))
}

// Step performs one transition. It only fails when ctx is done.
func (l *Link) Step(ctx context.Context) error {
	l.lock.RLock()
	state, parked := l.state, l.parked
	l.lock.RUnlock()

	switch state {
	case StateNotConfigured:
		return l.waitWake(ctx)
	case StateDiscoverStart:
		if parked {
			return l.waitWake(ctx)
		}
		return l.discoverStart(ctx)
	case StateDiscover:
		msg, err := l.expect(MsgDiscoverAck)
		if err != nil {
			return l.fail(ctx, err)
		}
		p, err := DecodeDiscoverPayload(msg.Payload)
		if err != nil {
			return l.fail(ctx, err)
		}
		if p.Version != ProtocolVersion {
			return l.fail(ctx, fmt.Errorf("%w: peer protocol version %d", ErrProtocol, p.Version))
		}
		l.lock.Lock()
		l.peer.Name, l.peer.Version = p.Name, p.Version
		l.lock.Unlock()
		glog.V(2).Infof("%s: discovered %q", l.Name(), p.Name)
		l.setState(ctx, StateConfigStart)
	case StateConfigStart:
		payload := ConfigPayload{
			MaxPayloadLength: l.Config.MaxPayloadLength,
			RequestTimeout:   l.Config.RequestTimeout,
		}
		if err := l.SendMessage(MsgConfig, payload.Encode()); err != nil {
			return l.fail(ctx, err)
		}
		l.setState(ctx, StateConfig)
	case StateConfig:
		msg, err := l.expect(MsgConfigAck)
		if err != nil {
			return l.fail(ctx, err)
		}
		p, err := DecodeConfigPayload(msg.Payload)
		if err != nil {
			return l.fail(ctx, err)
		}
		l.lock.Lock()
		l.peer.MaxPayloadLength, l.peer.RequestTimeout = p.MaxPayloadLength, p.RequestTimeout
		l.lock.Unlock()
		l.setState(ctx, StateConnectStart)
	case StateConnectStart:
		if err := l.SendMessage(MsgConnect, nil); err != nil {
			return l.fail(ctx, err)
		}
		l.setState(ctx, StateConnect)
	case StateConnect:
		if _, err := l.expect(MsgConnectAck); err != nil {
			return l.fail(ctx, err)
		}
		l.lock.Lock()
		l.attempts = 0
		l.lock.Unlock()
		glog.Infof("%s: connected to %q", l.Name(), l.Peer().Name)
		l.setState(ctx, StateConnected)
	case StateConnected:
		return l.serve(ctx)
	}
	return nil
}

func (l *Link) discoverStart(ctx context.Context) error {
	l.lock.Lock()
	if max := l.Config.MaxDiscoverAttempts; max > 0 && l.attempts >= max {
		l.parked = true
		l.lock.Unlock()
		glog.Warningf("%s: parked after %d discover attempts", l.Name(), l.Config.MaxDiscoverAttempts)
		return nil
	}
	l.attempts++
	l.lock.Unlock()
	payload := DiscoverPayload{Version: ProtocolVersion, Name: l.Config.Name}
	if err := l.SendMessage(MsgDiscover, payload.Encode()); err != nil {
		return l.fail(ctx, err)
	}
	l.setState(ctx, StateDiscover)
	return nil
}

func (l *Link) serve(ctx context.Context) error {
	msg, err := l.reader().ReadMessage(l.Config.ReceiveTimeout)
	switch {
	case err == nil:
	case err == ErrTimeout:
		return nil
	case err == ErrIntegrity:
		glog.Warningf("%s: dropped 0x%04x: %v", l.Name(), msg.ID, err)
		return sleep(ctx, l.Config.RetryDelay)
	default:
		return l.fail(ctx, err)
	}
	glog.V(4).Infof("%s: recv 0x%04x len=%d", l.Name(), msg.ID, len(msg.Payload))
	if isHandshake(msg.ID) {
		glog.V(2).Infof("%s: ignored handshake 0x%04x while connected", l.Name(), msg.ID)
		return nil
	}
	h := l.lookup(msg.ID)
	if h == nil {
		glog.V(2).Infof("%s: ignored unknown 0x%04x", l.Name(), msg.ID)
		return nil
	}
	if err = h.HandleMessage(ctx, l, msg); err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			return l.fail(ctx, err)
		}
		glog.Errorf("%s: handle 0x%04x: %v", l.Name(), msg.ID, err)
	}
	return nil
}

func (l *Link) lookup(id uint32) Handler {
	if h, ok := l.builtins[id]; ok {
		return h
	}
	l.lock.RLock()
	defer l.lock.RUnlock()
	for _, entry := range l.handlers {
		if entry.id == id {
			return entry.handler
		}
	}
	return nil
}

func (l *Link) reader() receiver {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return receiver{receive: l.receive, maxPayload: l.Config.MaxPayloadLength}
}

func (l *Link) expect(id uint32) (*Message, error) {
	msg, err := l.reader().ReadMessage(l.Config.ResponseTimeout)
	if err != nil {
		return nil, err
	}
	if msg.ID != id {
		return nil, fmt.Errorf("%w: expect 0x%04x, got 0x%04x", ErrProtocol, id, msg.ID)
	}
	return msg, nil
}

func (l *Link) fail(ctx context.Context, err error) error {
	glog.Warningf("%s: %s failed: %v", l.Name(), l.State(), err)
	l.setState(ctx, StateDiscoverStart)
	return sleep(ctx, l.Config.Backoff)
}

func (l *Link) setState(ctx context.Context, state State) {
	var notifier StateNotifier
	l.lock.Lock()
	if l.state != state {
		l.state = state
		notifier = l.Notifier
	}
	l.lock.Unlock()
	if notifier != nil {
		notifier.StateChanged(ctx, state)
	}
}

func (l *Link) wake() {
	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
}

func (l *Link) waitWake(ctx context.Context) error {
	select {
	case <-l.wakeCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
