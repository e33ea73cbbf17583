// Package node assembles a simulated GOS node: the transport link, the update
// store daemon, the installer and the system-monitor transports, all running
// as tasks of one kernel scheduler.
package node

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/gos.go/pkg/framework"

	"github.com/robotalks/gos.go/pkg/boot"
	"github.com/robotalks/gos.go/pkg/bootcfg"
	"github.com/robotalks/gos.go/pkg/comm/mqtt"
	"github.com/robotalks/gos.go/pkg/config"
	"github.com/robotalks/gos.go/pkg/ipl"
	"github.com/robotalks/gos.go/pkg/kernel"
	"github.com/robotalks/gos.go/pkg/sdh"
	"github.com/robotalks/gos.go/pkg/storage"
	"github.com/robotalks/gos.go/pkg/sysmon"
)

// ErrReset is returned by Run after a supervised reset was requested.
var ErrReset = errors.New("reset requested")

// WebsocketPath is where the system-monitor websocket is served.
const WebsocketPath = "/sysmon"

// InboxSize is the capacity of the installer inbox.
const InboxSize = 16

// Task priorities, higher runs first on a device.
const (
	PriorityLink      = 3
	PriorityStore     = 2
	PriorityInstaller = 1
	PriorityMonitor   = 1
)

// Node is a running node.
type Node struct {
	Config    *config.Config
	Storage   *storage.File
	Program   *storage.Flash
	BootCfg   *bootcfg.Store
	Host      *kernel.Host
	Link      *ipl.Link
	Store     *sdh.Store
	Daemon    *sdh.Daemon
	Installer *boot.Installer
	Inbox     *kernel.Mailbox
	CPU       *boot.HostCPU
	Sysmon    *sysmon.Server
	MQTT      *mqtt.NodeConn
	Reporter  *sysmon.Reporter

	programFile *storage.File
	bootcfgFile *storage.File
	listeners   []net.Listener
	linkConn    net.Conn
	reset       chan struct{}
	resetOnce   sync.Once
	lock        sync.Mutex
}

// New opens the devices and creates the components of the node. cfg must be
// validated and normalized.
func New(cfg *config.Config) (n *Node, err error) {
	n = &Node{
		Config: cfg,
		Inbox:  kernel.NewMailbox(InboxSize),
		CPU:    &boot.HostCPU{},
		reset:  make(chan struct{}),
	}
	defer func() {
		if err != nil {
			n.Close()
			n = nil
		}
	}()

	if n.Storage, err = storage.OpenFile(cfg.Storage.Path, cfg.Storage.Size); err != nil {
		return
	}
	if n.programFile, err = storage.OpenFile(cfg.Program.Path, cfg.Program.Size); err != nil {
		return
	}
	n.Program = storage.NewFlashOn(cfg.Program.Base, n.programFile)
	var confDev storage.Device = n.Storage
	if cfg.BootCfg.Path != "" {
		if n.bootcfgFile, err = storage.OpenFile(cfg.BootCfg.Path, cfg.BootCfg.Addr+bootcfg.RecordSize); err != nil {
			return
		}
		confDev = n.bootcfgFile
	}
	n.BootCfg = bootcfg.NewStore(confDev, cfg.BootCfg.Addr)
	if cfg.Boot.WaitForConnection {
		if _, err = n.BootCfg.Update(func(c *bootcfg.UpdateConfig) { c.WaitForConnection = true }); err != nil {
			return
		}
	}

	if n.Store, err = sdh.NewStore(n.Storage, cfg.Layout(), n.BootCfg); err != nil {
		return
	}
	n.Store.Notifier = &boot.InboxNotifier{Inbox: n.Inbox}
	n.Daemon = sdh.NewDaemon(n.Store)
	n.Daemon.IdleTimeout = cfg.Sysmon.IdleTimeout
	n.Daemon.FeedbackTimeout = cfg.Sysmon.FeedbackTimeout

	n.Host = &kernel.Host{ResetFunc: n.requestReset}
	n.Link = ipl.NewLink(cfg.LinkConfig(), n.Host)
	if err = sdh.Register(n.Link, n.Daemon); err != nil {
		return
	}

	n.Sysmon = sysmon.NewServer(n.Daemon)
	n.Sysmon.MaxPayloadLength = cfg.IPL.MaxPayloadLength

	events := sdh.EventHandlers{sdh.StoreEventFunc(n.keepAlive)}
	opts := cfg.BootOptions()
	if cfg.Sysmon.MQTTURL != "" {
		if n.MQTT, err = mqtt.NewNodeConn(cfg.Sysmon.MQTTURL, cfg.Node.Name); err != nil {
			return
		}
		n.Reporter = sysmon.NewReporter(n.MQTT, n.MQTT)
		n.Link.Notifier = n.Reporter.LinkNotifier(n.Link)
		events = append(events, n.Reporter)
		opts = append(opts,
			boot.WithProgressCallback(n.Reporter.Progress),
			boot.WithStateCallback(n.Reporter.BootState))
	}
	n.Store.Events = events
	n.CPU.OnBranch = n.launched
	n.Installer = boot.NewInstaller(n.BootCfg, n.Store.Catalog, n.Program,
		&boot.CPUJumper{CPU: n.CPU, Program: n.Program}, n.Inbox, opts...)
	return n, nil
}

// keepAlive extends the installer wait on store activity.
func (n *Node) keepAlive(ev sdh.Event) {
	if ev.Type == sdh.EventInstallRequested {
		return
	}
	if err := n.Inbox.Post(boot.KeepAlive{}, 0); err != nil {
		glog.V(4).Infof("node: keep-alive dropped: %v", err)
	}
}

func (n *Node) launched(l boot.Launch) error {
	glog.Infof("node: application running at 0x%08x", l.PC)
	if n.Reporter == nil {
		return nil
	}
	conf, err := n.BootCfg.Load()
	if err != nil {
		return err
	}
	name := ""
	if count, err := n.Store.Count(); err == nil {
		for i := 0; i < count; i++ {
			d, err := n.Store.Descriptor(i)
			if err == nil && d.Info == conf.Software {
				name = d.Name
				break
			}
		}
	}
	n.Reporter.Software(name, conf.Software)
	return nil
}

func (n *Node) requestReset() error {
	n.resetOnce.Do(func() { close(n.reset) })
	return nil
}

// Run runs the node until ctx is done or a reset is requested, in which
// case ErrReset is returned.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	runner := fx.NewRunnerWith(ctx)
	sched := kernel.NewScheduler(runner)
	n.Host.Scheduler = sched
	sched.Spawn("ipl", PriorityLink, 2048, n.Link)
	sched.Spawn("sdh", PriorityStore, 4096, n.Daemon)
	sched.Spawn("boot", PriorityInstaller, 4096, n.Installer)

	if err := n.listen(runner); err != nil {
		cancel()
		runner.Wait()
		return err
	}
	if n.MQTT != nil {
		if err := n.startMQTT(runner, sched); err != nil {
			cancel()
			runner.Wait()
			return err
		}
	}

	var resetRequested bool
	select {
	case <-ctx.Done():
	case <-n.reset:
		resetRequested = true
		glog.Warning("node: resetting")
	}
	cancel()
	err := runner.Wait()
	if resetRequested {
		return ErrReset
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (n *Node) listen(runner *fx.Runner) error {
	cfg := n.Config
	l, err := net.Listen("tcp", cfg.IPL.Listen)
	if err != nil {
		return err
	}
	n.addListener(l)
	glog.Infof("node: transport link on %s", l.Addr())
	runner.Go(fx.NamedRun("ipl:listener", fx.RunFunc(func(ctx context.Context) error {
		return n.acceptLink(ctx, l)
	})))

	if cfg.Sysmon.Listen != "" {
		l, err := net.Listen("tcp", cfg.Sysmon.Listen)
		if err != nil {
			return err
		}
		n.addListener(l)
		glog.Infof("node: system monitor on %s", l.Addr())
		runner.Go(fx.NamedRun("sysmon:tcp", fx.RunFunc(func(ctx context.Context) error {
			return n.Sysmon.ServeListener(ctx, l)
		})))
	}

	if cfg.Sysmon.WebsocketListen != "" {
		l, err := net.Listen("tcp", cfg.Sysmon.WebsocketListen)
		if err != nil {
			return err
		}
		n.addListener(l)
		mux := http.NewServeMux()
		mux.Handle(WebsocketPath, n.Sysmon.WebsocketHandler())
		srv := &http.Server{Handler: mux}
		glog.Infof("node: system monitor websocket on %s%s", l.Addr(), WebsocketPath)
		runner.Go(fx.NamedRun("sysmon:websocket", fx.RunFunc(func(ctx context.Context) error {
			return fx.RunWithContextCloser(ctx, srv, func() error {
				if err := srv.Serve(l); err != http.ErrServerClosed {
					return err
				}
				return nil
			})
		})))
	}
	return nil
}

// acceptLink hands each accepted connection to the link, replacing the
// previous one.
func (n *Node) acceptLink(ctx context.Context, l net.Listener) error {
	return fx.RunWithContextCloser(ctx, l, func() error {
		for {
			conn, err := l.Accept()
			if err != nil {
				return err
			}
			glog.Infof("node: link peer %s", conn.RemoteAddr())
			n.lock.Lock()
			prev := n.linkConn
			n.linkConn = conn
			n.lock.Unlock()
			if prev != nil {
				prev.Close()
			}
			n.Link.Configure(ipl.ConnFuncs(conn))
		}
	})
}

func (n *Node) startMQTT(runner *fx.Runner, sched *kernel.Scheduler) error {
	if err := n.MQTT.Connect(mqttConnectTimeout); err != nil {
		return err
	}
	if count, err := n.Store.Count(); err == nil {
		n.Reporter.SetBinaries(count)
	}
	rw := mqtt.NewPacketReadWriter(n.MQTT.Conn).ForNode(n.Config.Node.Name)
	runner.Go(n.MQTT, fx.NamedRun("sysmon:mqtt", fx.RunFunc(rw.Run)))
	sched.Spawn("sysmon", PriorityMonitor, 2048, fx.RunFunc(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-rw.Ready():
		}
		return n.Sysmon.Serve(ctx, rw)
	}))
	sched.Spawn("report", PriorityMonitor, 1024, n.Reporter)
	return nil
}

const mqttConnectTimeout = 10 * time.Second

func (n *Node) addListener(l net.Listener) {
	n.lock.Lock()
	n.listeners = append(n.listeners, l)
	n.lock.Unlock()
}

// Addrs returns the addresses listened on, the transport link first.
func (n *Node) Addrs() []net.Addr {
	n.lock.Lock()
	defer n.lock.Unlock()
	addrs := make([]net.Addr, 0, len(n.listeners))
	for _, l := range n.listeners {
		addrs = append(addrs, l.Addr())
	}
	return addrs
}

// Close releases the devices.
func (n *Node) Close() error {
	var errs fx.AggregatedError
	n.lock.Lock()
	if n.linkConn != nil {
		n.linkConn.Close()
		n.linkConn = nil
	}
	n.lock.Unlock()
	for _, f := range []*storage.File{n.Storage, n.programFile, n.bootcfgFile} {
		if f != nil {
			errs.Add(f.Close())
		}
	}
	return errs.Aggregate()
}
