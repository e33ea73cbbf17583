package kernel

import (
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/shirou/gopsutil/v3/cpu"
)

// ErrResetUnsupported indicates no reset hook is installed.
var ErrResetUnsupported = errors.New("reset not supported")

// Host is the kernel facade backed by the host OS. The link's built-in
// requests are served from it.
type Host struct {
	Scheduler *Scheduler
	// ResetFunc performs the supervised reset.
	ResetFunc func() error

	offset time.Duration
	lock   sync.Mutex
}

// NewHost creates a Host kernel over the scheduler.
func NewHost(s *Scheduler) *Host {
	return &Host{Scheduler: s}
}

// CPULoad returns the system CPU usage in percent.
func (h *Host) CPULoad() (float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0], nil
}

// NumTasks returns the number of tasks.
func (h *Host) NumTasks() int {
	return h.Scheduler.NumTasks()
}

// TaskInfo returns the description of the task at index.
func (h *Host) TaskInfo(index int) (TaskInfo, error) {
	t, err := h.Scheduler.Task(index)
	if err != nil {
		return TaskInfo{}, err
	}
	return t.Info(), nil
}

// TaskStats returns the variable data of the task at index.
func (h *Host) TaskStats(index int) (TaskStats, error) {
	t, err := h.Scheduler.Task(index)
	if err != nil {
		return TaskStats{}, err
	}
	return t.Stats(), nil
}

// ModifyTask applies op to the task at index.
func (h *Host) ModifyTask(index int, op TaskOp) error {
	return h.Scheduler.Modify(index, op)
}

// Now returns the system time, including the offset applied by SetTime.
func (h *Host) Now() time.Time {
	h.lock.Lock()
	defer h.lock.Unlock()
	return time.Now().Add(h.offset)
}

// SetTime sets the system time. The host clock is untouched; an offset is kept.
func (h *Host) SetTime(t time.Time) error {
	h.lock.Lock()
	h.offset = time.Until(t)
	h.lock.Unlock()
	glog.Infof("system time set to %s", t.UTC().Format(time.RFC3339Nano))
	return nil
}

// Reset performs the supervised reset.
func (h *Host) Reset() error {
	if h.ResetFunc == nil {
		return ErrResetUnsupported
	}
	glog.Warning("supervised reset requested")
	return h.ResetFunc()
}
