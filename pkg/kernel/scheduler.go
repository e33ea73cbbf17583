package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/gos.go/pkg/framework"
)

// TaskState is the scheduling state of a task.
type TaskState uint8

// Task states.
const (
	TaskRunning TaskState = iota
	TaskSuspended
	TaskBlocked
	TaskDeleted
	TaskStopped
)

var taskStateNames = map[TaskState]string{
	TaskRunning:   "running",
	TaskSuspended: "suspended",
	TaskBlocked:   "blocked",
	TaskDeleted:   "deleted",
	TaskStopped:   "stopped",
}

func (s TaskState) String() string {
	if name, ok := taskStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", s)
}

// TaskOp is a state modification requested on a task.
type TaskOp uint8

// Task operations.
const (
	OpSuspend TaskOp = iota + 1
	OpResume
	OpBlock
	OpUnblock
	OpDelete
)

var taskOpNames = map[TaskOp]string{
	OpSuspend: "suspend",
	OpResume:  "resume",
	OpBlock:   "block",
	OpUnblock: "unblock",
	OpDelete:  "delete",
}

func (op TaskOp) String() string {
	if name, ok := taskOpNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", op)
}

// ParseTaskOp parses the name of a task operation.
func ParseTaskOp(name string) (TaskOp, error) {
	for op, n := range taskOpNames {
		if n == name {
			return op, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidOp, name)
}

var (
	// ErrNoTask indicates the task index is out of range.
	ErrNoTask = errors.New("no such task")
	// ErrInvalidOp indicates the operation is not allowed in the task's state.
	ErrInvalidOp = errors.New("invalid task operation")
)

// TaskInfo is the static description of a task.
type TaskInfo struct {
	Index     int
	Name      string
	Priority  uint8
	StackSize uint32
}

// TaskStats is the variable data of a task.
type TaskStats struct {
	Index    int
	State    TaskState
	RunCount uint32
	Uptime   time.Duration
}

// Task is an entry of the task table.
type Task struct {
	info    TaskInfo
	started time.Time
	cancel  context.CancelFunc

	state    TaskState
	runCount uint32
	wake     chan struct{}
	lock     sync.Mutex
}

type taskCtxKey struct{}

// TaskFrom returns the Task running with ctx, or nil.
func TaskFrom(ctx context.Context) *Task {
	t, _ := ctx.Value(taskCtxKey{}).(*Task)
	return t
}

// Checkpoint is called by a task between units of work. It blocks while the
// task is suspended or blocked and fails once the task is deleted.
// It's a no-op when ctx doesn't belong to a spawned task.
func Checkpoint(ctx context.Context) error {
	t := TaskFrom(ctx)
	if t == nil {
		return ctx.Err()
	}
	for {
		t.lock.Lock()
		state, wake := t.state, t.wake
		if state == TaskRunning {
			t.runCount++
		}
		t.lock.Unlock()
		switch state {
		case TaskRunning:
			return ctx.Err()
		case TaskDeleted, TaskStopped:
			return context.Canceled
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type checkpointed struct {
	fx.Stepper
}

func (c checkpointed) Step(ctx context.Context) error {
	if err := Checkpoint(ctx); err != nil {
		return err
	}
	return c.Stepper.Step(ctx)
}

// Checkpointed passes a Checkpoint before each step of s.
func Checkpointed(s fx.Stepper) fx.Stepper {
	return checkpointed{Stepper: s}
}

// Info returns the static task description.
func (t *Task) Info() TaskInfo {
	return t.info
}

// Stats returns the variable task data.
func (t *Task) Stats() TaskStats {
	t.lock.Lock()
	defer t.lock.Unlock()
	return TaskStats{
		Index:    t.info.Index,
		State:    t.state,
		RunCount: t.runCount,
		Uptime:   time.Since(t.started),
	}
}

// State returns the current task state.
func (t *Task) State() TaskState {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.state
}

func (t *Task) modify(op TaskOp) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	switch {
	case op == OpSuspend && (t.state == TaskRunning || t.state == TaskBlocked):
		t.state, t.wake = TaskSuspended, make(chan struct{})
	case op == OpBlock && t.state == TaskRunning:
		t.state, t.wake = TaskBlocked, make(chan struct{})
	case op == OpResume && t.state == TaskSuspended,
		op == OpUnblock && t.state == TaskBlocked:
		t.state = TaskRunning
		close(t.wake)
	case op == OpDelete && t.state != TaskDeleted && t.state != TaskStopped:
		if t.state != TaskRunning {
			close(t.wake)
		}
		t.state = TaskDeleted
		t.cancel()
	default:
		return ErrInvalidOp
	}
	return nil
}

func (t *Task) stopped() {
	t.lock.Lock()
	if t.state != TaskDeleted {
		t.state = TaskStopped
	}
	t.lock.Unlock()
}

// Scheduler spawns tasks on a Runner and keeps the task table.
type Scheduler struct {
	Runner *fx.Runner

	tasks []*Task
	lock  sync.RWMutex
}

// NewScheduler creates a Scheduler spawning tasks on runner.
func NewScheduler(runner *fx.Runner) *Scheduler {
	return &Scheduler{Runner: runner}
}

// Spawn starts a task. Priority and stack size are recorded for reporting.
func (s *Scheduler) Spawn(name string, priority uint8, stackSize uint32, r fx.Runnable) *Task {
	ctx, cancel := context.WithCancel(s.Runner.Context)
	s.lock.Lock()
	t := &Task{
		info: TaskInfo{
			Index:     len(s.tasks),
			Name:      name,
			Priority:  priority,
			StackSize: stackSize,
		},
		started: time.Now(),
		cancel:  cancel,
	}
	s.tasks = append(s.tasks, t)
	s.lock.Unlock()

	glog.V(2).Infof("spawn task %d %q priority=%d", t.info.Index, name, priority)
	s.Runner.GoWith(context.WithValue(ctx, taskCtxKey{}, t), fx.NamedRun(name, fx.RunFunc(func(ctx context.Context) error {
		defer t.stopped()
		err := r.Run(ctx)
		if t.State() == TaskDeleted && err == context.Canceled {
			glog.Infof("task %q deleted", name)
			return nil
		}
		return err
	})))
	return t
}

// NumTasks returns the size of the task table.
func (s *Scheduler) NumTasks() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.tasks)
}

// Task returns the task at index.
func (s *Scheduler) Task(index int) (*Task, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if index < 0 || index >= len(s.tasks) {
		return nil, ErrNoTask
	}
	return s.tasks[index], nil
}

// Modify applies op to the task at index.
func (s *Scheduler) Modify(index int, op TaskOp) error {
	t, err := s.Task(index)
	if err != nil {
		return err
	}
	if err = t.modify(op); err == nil {
		glog.Infof("task %d %q: op %d -> %s", index, t.info.Name, op, t.State())
	}
	return err
}
