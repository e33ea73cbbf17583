// Package boot implements the installer: the bootloader state machine which
// installs binaries from the update store into program memory, verifies the
// resident application and launches it.
package boot

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/gos.go/pkg/bootcfg"
	"github.com/robotalks/gos.go/pkg/kernel"
	"github.com/robotalks/gos.go/pkg/sdh"
	"github.com/robotalks/gos.go/pkg/storage"
)

var (
	// ErrAppInvalid indicates the resident application failed verification.
	ErrAppInvalid = errors.New("application invalid")
	// ErrInstallRejected indicates the selected binary can't be installed.
	ErrInstallRejected = errors.New("install rejected")
	// ErrInstallTimeout indicates the copy exceeded the install timeout.
	ErrInstallTimeout = errors.New("install timeout")
)

// State is the installer state.
type State int

// Installer states.
const (
	StateInstall State = iota
	StateConnectWait
	StateWait
	StateAppCheck
	StateLaunch
	StateDone
)

var stateNames = [...]string{
	"INSTALL",
	"CONNECT_WAIT",
	"WAIT",
	"APP_CHECK",
	"LAUNCH",
	"DONE",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// InstallNotification is posted to the inbox when an install was requested.
type InstallNotification struct {
	Index uint16
}

// KeepAlive is posted to the inbox on activity which should extend a wait.
type KeepAlive struct{}

// InboxNotifier posts InstallNotification to an installer inbox.
type InboxNotifier struct {
	Inbox *kernel.Mailbox
}

// InstallRequested implements sdh.InstallNotifier.
func (n *InboxNotifier) InstallRequested(index uint16) {
	if err := n.Inbox.Post(InstallNotification{Index: index}, 0); err != nil {
		glog.Warningf("boot: install notification dropped: %v", err)
	}
}

// Installer is the bootloader state machine.
type Installer struct {
	Config  *bootcfg.Store
	Catalog *sdh.Catalog
	Program storage.ProgramMemory
	Jumper  Jumper
	Inbox   *kernel.Mailbox

	settings  Settings
	state     State
	// candidate is the installed image awaiting APP_CHECK.
	candidate *bootcfg.BinaryInfo
	lock      sync.RWMutex
}

// NewInstaller creates an Installer. Start must be called before Step.
func NewInstaller(conf *bootcfg.Store, catalog *sdh.Catalog, program storage.ProgramMemory,
	jumper Jumper, inbox *kernel.Mailbox, opts ...Option) *Installer {
	inst := &Installer{
		Config:   conf,
		Catalog:  catalog,
		Program:  program,
		Jumper:   jumper,
		Inbox:    inbox,
		settings: defaultSettings(),
	}
	for _, opt := range opts {
		opt(&inst.settings)
	}
	return inst
}

// Name implements framework.Named.
func (i *Installer) Name() string {
	return "boot"
}

// Settings returns the effective settings.
func (i *Installer) Settings() Settings {
	return i.settings
}

// State returns the current state.
func (i *Installer) State() State {
	i.lock.RLock()
	defer i.lock.RUnlock()
	return i.state
}

func (i *Installer) setState(state State) {
	i.lock.Lock()
	prev := i.state
	i.state = state
	i.lock.Unlock()
	if prev != state {
		glog.V(2).Infof("boot: %s -> %s", prev, state)
		if cb := i.settings.StateCallback; cb != nil {
			cb(state)
		}
	}
}

// Start selects the initial state from the persisted flags.
func (i *Installer) Start() error {
	conf, err := i.Config.Load()
	if err != nil {
		return err
	}
	switch {
	case conf.InstallRequested:
		i.setState(StateInstall)
	case conf.WaitForConnection:
		i.setState(StateConnectWait)
	case conf.UpdateMode:
		i.setState(StateWait)
	default:
		i.setState(StateAppCheck)
	}
	glog.Infof("boot: starting in %s", i.State())
	return nil
}

// Run starts the installer and steps until the application is launched.
func (i *Installer) Run(ctx context.Context) error {
	if err := i.Start(); err != nil {
		return err
	}
	for i.State() != StateDone {
		if err := kernel.Checkpoint(ctx); err != nil {
			return err
		}
		if err := i.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Step performs one transition. Errors are returned only when ctx is done or
// the persisted configuration can't be accessed.
func (i *Installer) Step(ctx context.Context) error {
	switch i.State() {
	case StateInstall:
		return i.install(ctx)
	case StateConnectWait:
		conf, err := i.Config.Load()
		if err != nil {
			return err
		}
		requested, err := i.wait(ctx, conf.ConnectionTimeout)
		if err != nil {
			return err
		}
		if requested {
			i.setState(StateInstall)
		} else {
			i.setState(StateAppCheck)
		}
	case StateWait:
		conf, err := i.Config.Load()
		if err != nil {
			return err
		}
		requested, err := i.wait(ctx, conf.RequestTimeout)
		if err != nil {
			return err
		}
		if !requested {
			// an install request may have raced the window expiry.
			if conf, err = i.Config.Load(); err != nil {
				return err
			}
			requested = conf.InstallRequested
		}
		if requested {
			i.setState(StateInstall)
		} else {
			i.setState(StateAppCheck)
		}
	case StateAppCheck:
		return i.appCheck()
	case StateLaunch:
		return i.launch()
	}
	return nil
}

// wait polls the inbox within window. Any message restarts the window.
func (i *Installer) wait(ctx context.Context, window time.Duration) (bool, error) {
	deadline := time.Now().Add(window)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		if remaining > i.settings.PollInterval {
			remaining = i.settings.PollInterval
		}
		if i.Inbox == nil {
			if err := sleep(ctx, remaining); err != nil {
				return false, err
			}
			continue
		}
		msg, err := i.Inbox.ReceiveContext(ctx, remaining)
		if err == kernel.ErrMailboxEmpty {
			continue
		}
		if err != nil {
			return false, err
		}
		if n, ok := msg.(InstallNotification); ok {
			glog.Infof("boot: install of binary %d notified", n.Index)
			return true, nil
		}
		deadline = time.Now().Add(window)
	}
}

func (i *Installer) report(p Progress) {
	if cb := i.settings.ProgressCallback; cb != nil {
		cb(p)
	}
}

func (i *Installer) install(ctx context.Context) error {
	conf, err := i.Config.Load()
	if err != nil {
		return err
	}
	desc, err := i.copyBinary(ctx, conf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		glog.Errorf("boot: install of binary %d failed: %v", conf.SelectedIndex, err)
		i.report(Progress{Phase: PhaseFailed, Name: desc.Name})
		if _, err = i.Config.Update(func(c *bootcfg.UpdateConfig) {
			c.InstallRequested = false
			c.UpdateMode = true
		}); err != nil {
			return err
		}
		i.setState(StateWait)
		return nil
	}
	info := desc.Info
	i.candidate = &info
	glog.Infof("boot: installed %q (%d bytes) at 0x%08x", desc.Name, desc.Info.Size, desc.Info.StartAddress)
	i.report(Progress{Phase: PhaseComplete, Name: desc.Name, Percent: 100, Written: desc.Info.Size, Total: desc.Info.Size})
	i.setState(StateAppCheck)
	return nil
}

func (i *Installer) inRegion(info bootcfg.BinaryInfo) bool {
	s := i.settings
	return info.Size > 0 && info.Size <= s.MaxAppSize && info.StartAddress >= s.AppStart &&
		uint64(info.StartAddress)+uint64(info.Size) <= uint64(s.AppStart)+uint64(s.MaxAppSize)
}

func (i *Installer) copyBinary(ctx context.Context, conf bootcfg.UpdateConfig) (desc sdh.BinaryDescriptor, err error) {
	if desc, err = i.Catalog.Descriptor(int(conf.SelectedIndex)); err != nil {
		return desc, err
	}
	info := desc.Info
	if !i.inRegion(info) {
		return desc, fmt.Errorf("%w: %d bytes at 0x%08x outside application region", ErrInstallRejected, info.Size, info.StartAddress)
	}
	var deadline time.Time
	if conf.InstallTimeout > 0 {
		deadline = time.Now().Add(conf.InstallTimeout)
	}

	i.report(Progress{Phase: PhaseErasing, Name: desc.Name, Total: info.Size})
	if err = i.Program.Erase(info.StartAddress, info.Size); err != nil {
		return desc, err
	}
	if err = i.Program.Unlock(); err != nil {
		return desc, err
	}
	defer func() {
		if lockErr := i.Program.Lock(); err == nil {
			err = lockErr
		}
	}()

	buf := make([]byte, i.settings.ChunkSize)
	for off := uint32(0); off < info.Size; {
		if err = ctx.Err(); err != nil {
			return desc, err
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return desc, ErrInstallTimeout
		}
		p := buf
		if rest := info.Size - off; rest < uint32(len(p)) {
			p = p[:rest]
		}
		if err = i.Catalog.ReadBinary(desc, off, p); err != nil {
			return desc, err
		}
		if err = i.Program.WriteChunk(info.StartAddress+off, p); err != nil {
			return desc, err
		}
		off += uint32(len(p))
		pct := percent(off, info.Size)
		glog.Infof("install: %d%% (%d/%d)", pct, off, info.Size)
		i.report(Progress{Phase: PhaseCopying, Name: desc.Name, Percent: pct, Written: off, Total: info.Size})
	}
	return desc, nil
}

// VerifyApplication checks the application described by info against the
// program memory.
func (i *Installer) VerifyApplication(info bootcfg.BinaryInfo) error {
	if !i.inRegion(info) {
		return fmt.Errorf("%w: size %d at 0x%08x", ErrAppInvalid, info.Size, info.StartAddress)
	}
	h := crc32.NewIEEE()
	buf := make([]byte, i.settings.ChunkSize)
	for off := uint32(0); off < info.Size; off += uint32(len(buf)) {
		p := buf
		if rest := info.Size - off; rest < uint32(len(p)) {
			p = p[:rest]
		}
		if err := i.Program.Read(info.StartAddress+off, p); err != nil {
			return err
		}
		h.Write(p)
	}
	if sum := h.Sum32(); sum != info.CRC32 {
		return fmt.Errorf("%w: crc 0x%08x, expect 0x%08x", ErrAppInvalid, sum, info.CRC32)
	}
	return nil
}

func (i *Installer) appCheck() error {
	conf, err := i.Config.Load()
	if err != nil {
		return err
	}
	info, installed := conf.Software, i.candidate != nil
	if installed {
		info = *i.candidate
		i.candidate = nil
	}
	i.report(Progress{Phase: PhaseVerifying, Total: info.Size})
	if err = i.VerifyApplication(info); err != nil {
		glog.Warningf("boot: %v, entering update mode", err)
		if _, err = i.Config.Update(func(c *bootcfg.UpdateConfig) {
			c.UpdateMode = true
			if installed {
				c.InstallRequested = false
			}
		}); err != nil {
			return err
		}
		i.setState(StateWait)
		return nil
	}
	if _, err = i.Config.Update(func(c *bootcfg.UpdateConfig) {
		c.UpdateMode = false
		c.InstallRequested = false
		c.Software = info
	}); err != nil {
		return err
	}
	i.setState(StateLaunch)
	return nil
}

func (i *Installer) launch() error {
	conf, err := i.Config.Load()
	if err != nil {
		return err
	}
	i.report(Progress{Phase: PhaseLaunching, Percent: 100, Total: conf.Software.Size})
	glog.Infof("boot: launching application at 0x%08x", conf.Software.StartAddress)
	i.setState(StateDone)
	if i.Jumper == nil {
		return nil
	}
	return i.Jumper.Jump(conf.Software.StartAddress)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
