package boot

import (
	"encoding/binary"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/gos.go/pkg/storage"
)

// CPU is the privileged processor interface used to launch an application.
type CPU interface {
	DisableInterrupts()
	StopSysTick()
	ResetClocks()
	SetVectorTable(addr uint32)
	// Branch loads the stack pointer and jumps to pc. It doesn't return on
	// hardware.
	Branch(sp, pc uint32) error
}

// JumpToApplication hands the processor over to the application whose
// vector table is at start.
func JumpToApplication(cpu CPU, program storage.ProgramMemory, start uint32) error {
	var vectors [8]byte
	if err := program.Read(start, vectors[:]); err != nil {
		return err
	}
	sp := binary.LittleEndian.Uint32(vectors[0:])
	pc := binary.LittleEndian.Uint32(vectors[4:])
	cpu.DisableInterrupts()
	cpu.StopSysTick()
	cpu.ResetClocks()
	cpu.SetVectorTable(start)
	return cpu.Branch(sp, pc)
}

// Jumper launches the verified application.
type Jumper interface {
	Jump(start uint32) error
}

// JumpFunc is func type of Jumper.
type JumpFunc func(start uint32) error

// Jump implements Jumper.
func (f JumpFunc) Jump(start uint32) error {
	return f(start)
}

// CPUJumper launches through JumpToApplication.
type CPUJumper struct {
	CPU     CPU
	Program storage.ProgramMemory
}

// Jump implements Jumper.
func (j *CPUJumper) Jump(start uint32) error {
	return JumpToApplication(j.CPU, j.Program, start)
}

// Launch is recorded by HostCPU on Branch.
type Launch struct {
	VectorTable uint32
	SP          uint32
	PC          uint32
}

// HostCPU stands in for the processor on a development host. It logs the
// launch sequence and hands the launch to OnBranch.
type HostCPU struct {
	OnBranch func(Launch) error

	vectorTable uint32
	launches    []Launch
	lock        sync.Mutex
}

// DisableInterrupts implements CPU.
func (c *HostCPU) DisableInterrupts() {
	glog.V(2).Info("cpu: interrupts disabled")
}

// StopSysTick implements CPU.
func (c *HostCPU) StopSysTick() {
	glog.V(2).Info("cpu: systick stopped")
}

// ResetClocks implements CPU.
func (c *HostCPU) ResetClocks() {
	glog.V(2).Info("cpu: peripheral clocks reset")
}

// SetVectorTable implements CPU.
func (c *HostCPU) SetVectorTable(addr uint32) {
	c.lock.Lock()
	c.vectorTable = addr
	c.lock.Unlock()
	glog.V(2).Infof("cpu: vector table at 0x%08x", addr)
}

// Branch implements CPU.
func (c *HostCPU) Branch(sp, pc uint32) error {
	c.lock.Lock()
	l := Launch{VectorTable: c.vectorTable, SP: sp, PC: pc}
	c.launches = append(c.launches, l)
	c.lock.Unlock()
	glog.Infof("cpu: branch to 0x%08x sp=0x%08x", pc, sp)
	if c.OnBranch != nil {
		return c.OnBranch(l)
	}
	return nil
}

// Launches returns the recorded launches.
func (c *HostCPU) Launches() []Launch {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]Launch(nil), c.launches...)
}
