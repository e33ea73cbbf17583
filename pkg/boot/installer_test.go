package boot

import (
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/gos.go/pkg/bootcfg"
	"github.com/robotalks/gos.go/pkg/ipl"
	"github.com/robotalks/gos.go/pkg/kernel"
	"github.com/robotalks/gos.go/pkg/sdh"
	"github.com/robotalks/gos.go/pkg/storage"
)

const (
	flashBase  = 0x08000000
	appStart   = 0x08004000
	maxAppSize = 0x3c000
)

type fixture struct {
	conf     *bootcfg.Store
	store    *sdh.Store
	program  *storage.Flash
	cpu      *HostCPU
	inbox    *kernel.Mailbox
	inst     *Installer
	progress []Progress
}

type storeCaller struct {
	store *sdh.Store
}

func (c storeCaller) Do(ctx context.Context, id uint32, payload []byte) ([]byte, error) {
	req, err := sdh.DecodeRequest(&ipl.Message{ID: id, Payload: payload})
	if err != nil {
		return nil, err
	}
	return c.store.Handle(req).Encode(), nil
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	dev := storage.NewMemory(0x10000)
	f := &fixture{
		conf:    bootcfg.NewStore(dev, 0),
		program: storage.NewFlash(flashBase, 0x40000),
		cpu:     &HostCPU{},
		inbox:   kernel.NewMailbox(4),
	}
	var err error
	f.store, err = sdh.NewStore(dev, sdh.DefaultLayout(), f.conf)
	require.NoError(t, err)
	opts = append([]Option{
		WithAppRegion(appStart, maxAppSize),
		WithPollInterval(5 * time.Millisecond),
		WithProgressCallback(func(p Progress) { f.progress = append(f.progress, p) }),
	}, opts...)
	f.inst = NewInstaller(f.conf, f.store.Catalog, f.program,
		&CPUJumper{CPU: f.cpu, Program: f.program}, f.inbox, opts...)
	return f
}

func appImage(size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(i * 13)
	}
	binary.LittleEndian.PutUint32(b[0:], 0x20001000)
	binary.LittleEndian.PutUint32(b[4:], appStart+0x101)
	return b
}

func (f *fixture) upload(t *testing.T, start uint32, image []byte) {
	_, err := sdh.NewClient(storeCaller{store: f.store}).Upload(context.Background(), "app", start, image, nil)
	require.NoError(t, err)
}

func (f *fixture) update(t *testing.T, fn func(*bootcfg.UpdateConfig)) {
	_, err := f.conf.Update(fn)
	require.NoError(t, err)
}

func (f *fixture) load(t *testing.T) bootcfg.UpdateConfig {
	c, err := f.conf.Load()
	require.NoError(t, err)
	return c
}

func TestInstallAndLaunch(t *testing.T) {
	f := newFixture(t, WithChunkSize(1024))
	image := appImage(3000)
	f.upload(t, appStart, image)
	require.Equal(t, sdh.InstallResponse{Index: 0, Result: sdh.ResultOK}, f.store.Handle(sdh.InstallRequest{Index: 0}))

	require.NoError(t, f.inst.Start())
	require.Equal(t, StateInstall, f.inst.State())
	require.NoError(t, f.inst.Step(context.Background()))
	require.Equal(t, StateAppCheck, f.inst.State())

	installed := make([]byte, len(image))
	require.NoError(t, f.program.Read(appStart, installed))
	require.Equal(t, image, installed)
	conf := f.load(t)
	// not recorded as active before verification.
	require.True(t, conf.InstallRequested)
	require.Equal(t, bootcfg.BinaryInfo{}, conf.Software)

	var copied []Progress
	for _, p := range f.progress {
		if p.Phase == PhaseCopying {
			copied = append(copied, p)
		}
	}
	require.Len(t, copied, 3)
	require.Equal(t, Progress{Phase: PhaseCopying, Name: "app", Percent: 100, Written: 3000, Total: 3000}, copied[2])
	require.Equal(t, 68, copied[1].Percent)

	require.NoError(t, f.inst.Step(context.Background()))
	require.Equal(t, StateLaunch, f.inst.State())
	conf = f.load(t)
	require.False(t, conf.UpdateMode)
	require.False(t, conf.InstallRequested)
	require.Equal(t, bootcfg.BinaryInfo{StartAddress: appStart, Size: 3000, CRC32: crc32.ChecksumIEEE(image)}, conf.Software)
	require.NoError(t, f.inst.Step(context.Background()))
	require.Equal(t, StateDone, f.inst.State())
	require.Equal(t, []Launch{{VectorTable: appStart, SP: 0x20001000, PC: appStart + 0x101}}, f.cpu.Launches())
}

func TestRunBootsValidApplication(t *testing.T) {
	var states []State
	f := newFixture(t, WithStateCallback(func(s State) { states = append(states, s) }))
	image := appImage(500)
	require.NoError(t, f.program.Unlock())
	require.NoError(t, f.program.WriteChunk(appStart, image))
	require.NoError(t, f.program.Lock())
	f.update(t, func(c *bootcfg.UpdateConfig) {
		c.UpdateMode = true
		c.RequestTimeout = 10 * time.Millisecond
		c.Software = bootcfg.BinaryInfo{StartAddress: appStart, Size: 500, CRC32: crc32.ChecksumIEEE(image)}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.inst.Run(ctx))
	require.Len(t, f.cpu.Launches(), 1)
	require.False(t, f.load(t).UpdateMode)
	require.Equal(t, []State{StateWait, StateAppCheck, StateLaunch, StateDone}, states)
}

func TestAppCheckFailureEntersUpdateMode(t *testing.T) {
	cases := []struct {
		name string
		info bootcfg.BinaryInfo
	}{
		{"empty", bootcfg.BinaryInfo{StartAddress: appStart}},
		{"too large", bootcfg.BinaryInfo{StartAddress: appStart, Size: maxAppSize + 1}},
		{"crc", bootcfg.BinaryInfo{StartAddress: appStart, Size: 16, CRC32: 1}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(t)
			f.update(t, func(conf *bootcfg.UpdateConfig) { conf.Software = c.info })
			require.NoError(t, f.inst.Start())
			require.Equal(t, StateAppCheck, f.inst.State())
			require.NoError(t, f.inst.Step(context.Background()))
			require.Equal(t, StateWait, f.inst.State())
			require.True(t, f.load(t).UpdateMode)
			require.True(t, errors.Is(f.inst.VerifyApplication(c.info), ErrAppInvalid))
			require.Empty(t, f.cpu.Launches())
		})
	}
}

// corruptingProgram flips the first byte of every programmed chunk.
type corruptingProgram struct {
	*storage.Flash
}

func (p corruptingProgram) WriteChunk(addr uint32, data []byte) error {
	data = append([]byte(nil), data...)
	data[0] ^= 0x01
	return p.Flash.WriteChunk(addr, data)
}

func TestInstalledImageFailingCheckIsNotRecorded(t *testing.T) {
	f := newFixture(t)
	previous := bootcfg.BinaryInfo{StartAddress: appStart, Size: 64, CRC32: 0x1234}
	f.update(t, func(c *bootcfg.UpdateConfig) { c.Software = previous })
	f.upload(t, appStart, appImage(2000))
	require.NoError(t, f.conf.RequestInstall(0))
	inst := NewInstaller(f.conf, f.store.Catalog, corruptingProgram{Flash: f.program},
		&CPUJumper{CPU: f.cpu, Program: f.program}, f.inbox, WithAppRegion(appStart, maxAppSize))

	require.NoError(t, inst.Start())
	require.NoError(t, inst.Step(context.Background()))
	require.Equal(t, StateAppCheck, inst.State())
	require.Equal(t, previous, f.load(t).Software)

	require.NoError(t, inst.Step(context.Background()))
	require.Equal(t, StateWait, inst.State())
	conf := f.load(t)
	require.Equal(t, previous, conf.Software)
	require.False(t, conf.InstallRequested)
	require.True(t, conf.UpdateMode)
	require.Empty(t, f.cpu.Launches())
}

func TestInstallRejectsBinaryOutsideRegion(t *testing.T) {
	f := newFixture(t)
	f.upload(t, flashBase, appImage(100))
	require.NoError(t, f.conf.RequestInstall(0))
	require.NoError(t, f.inst.Start())
	require.NoError(t, f.inst.Step(context.Background()))
	require.Equal(t, StateWait, f.inst.State())
	conf := f.load(t)
	require.False(t, conf.InstallRequested)
	require.True(t, conf.UpdateMode)
	require.Equal(t, PhaseFailed, f.progress[len(f.progress)-1].Phase)

	installed := make([]byte, 8)
	require.NoError(t, f.program.Read(flashBase, installed))
	require.Equal(t, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, installed)
}

func TestStartPriority(t *testing.T) {
	cases := []struct {
		conf  bootcfg.UpdateConfig
		state State
	}{
		{bootcfg.UpdateConfig{InstallRequested: true, WaitForConnection: true, UpdateMode: true}, StateInstall},
		{bootcfg.UpdateConfig{WaitForConnection: true, UpdateMode: true}, StateConnectWait},
		{bootcfg.UpdateConfig{UpdateMode: true}, StateWait},
		{bootcfg.UpdateConfig{}, StateAppCheck},
	}
	for _, c := range cases {
		f := newFixture(t)
		require.NoError(t, f.conf.Save(c.conf))
		require.NoError(t, f.inst.Start())
		require.Equal(t, c.state, f.inst.State())
	}
}

func TestConnectWaitExpires(t *testing.T) {
	f := newFixture(t)
	f.update(t, func(c *bootcfg.UpdateConfig) {
		c.WaitForConnection = true
		c.ConnectionTimeout = 20 * time.Millisecond
	})
	require.NoError(t, f.inst.Start())
	require.Equal(t, StateConnectWait, f.inst.State())
	require.NoError(t, f.inst.Step(context.Background()))
	require.Equal(t, StateAppCheck, f.inst.State())
}

func TestWaitKeepAlive(t *testing.T) {
	f := newFixture(t)
	f.update(t, func(c *bootcfg.UpdateConfig) {
		c.UpdateMode = true
		c.RequestTimeout = 60 * time.Millisecond
	})
	require.NoError(t, f.inst.Start())
	require.Equal(t, StateWait, f.inst.State())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 6; i++ {
			time.Sleep(25 * time.Millisecond)
			f.inbox.Post(KeepAlive{}, time.Second)
		}
	}()
	start := time.Now()
	require.NoError(t, f.inst.Step(context.Background()))
	<-done
	require.True(t, time.Since(start) >= 150*time.Millisecond)
	require.Equal(t, StateAppCheck, f.inst.State())
}

func TestWaitInstallNotification(t *testing.T) {
	f := newFixture(t)
	f.update(t, func(c *bootcfg.UpdateConfig) {
		c.UpdateMode = true
		c.RequestTimeout = time.Minute
	})
	f.upload(t, appStart, appImage(64))
	f.store.Notifier = &InboxNotifier{Inbox: f.inbox}
	require.NoError(t, f.inst.Start())

	require.Equal(t, sdh.ResultOK, f.store.Handle(sdh.InstallRequest{Index: 0}).ResultCode())
	require.NoError(t, f.inst.Step(context.Background()))
	require.Equal(t, StateInstall, f.inst.State())
}

func TestWaitHonorsRacingInstallRequest(t *testing.T) {
	f := newFixture(t)
	f.update(t, func(c *bootcfg.UpdateConfig) {
		c.UpdateMode = true
		c.RequestTimeout = 20 * time.Millisecond
	})
	require.NoError(t, f.inst.Start())
	// persisted without a notification.
	require.NoError(t, f.conf.RequestInstall(0))
	require.NoError(t, f.inst.Step(context.Background()))
	require.Equal(t, StateInstall, f.inst.State())
}

func TestWaitCanceled(t *testing.T) {
	f := newFixture(t)
	f.update(t, func(c *bootcfg.UpdateConfig) { c.UpdateMode = true })
	require.NoError(t, f.inst.Start())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Equal(t, context.Canceled, f.inst.Run(ctx))
}

type recordingCPU struct {
	calls []string
	sp    uint32
	pc    uint32
}

func (c *recordingCPU) DisableInterrupts()         { c.calls = append(c.calls, "irq") }
func (c *recordingCPU) StopSysTick()               { c.calls = append(c.calls, "systick") }
func (c *recordingCPU) ResetClocks()               { c.calls = append(c.calls, "clocks") }
func (c *recordingCPU) SetVectorTable(addr uint32) { c.calls = append(c.calls, "vtor") }
func (c *recordingCPU) Branch(sp, pc uint32) error {
	c.calls = append(c.calls, "branch")
	c.sp, c.pc = sp, pc
	return nil
}

func TestJumpToApplication(t *testing.T) {
	program := storage.NewFlash(flashBase, 0x40000)
	require.NoError(t, program.Unlock())
	require.NoError(t, program.WriteChunk(appStart, appImage(8)))

	cpu := &recordingCPU{}
	require.NoError(t, JumpToApplication(cpu, program, appStart))
	require.Equal(t, []string{"irq", "systick", "clocks", "vtor", "branch"}, cpu.calls)
	require.Equal(t, uint32(0x20001000), cpu.sp)
	require.Equal(t, uint32(appStart+0x101), cpu.pc)

	cpu = &recordingCPU{}
	require.Error(t, JumpToApplication(cpu, program, flashBase+0x40000))
	require.Empty(t, cpu.calls)
}
