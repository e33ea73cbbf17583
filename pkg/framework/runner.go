package framework

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/golang/glog"
)

type namedTask struct {
	Runnable
	name string
}

func (t *namedTask) Name() string {
	return t.name
}

// NamedRun attaches a name to a task for logging.
func NamedRun(name string, task Runnable) Runnable {
	return &namedTask{name: name, Runnable: task}
}

// NameOf returns the name of a task, or fallback if it has none.
func NameOf(task Runnable, fallback string) string {
	if named, ok := task.(Named); ok {
		return named.Name()
	}
	return fallback
}

// ErrForcedExit is returned by Wait when a second stop signal is received.
var ErrForcedExit = errors.New("forced exit")

// Runner starts the tasks of a node on their own goroutines and collects
// their results. A task stopping with context.Canceled is not a failure.
type Runner struct {
	Context context.Context

	started int
	lock    sync.Mutex
	results chan error
	forced  chan struct{}
}

// NewRunner creates a runner on the background context.
func NewRunner() *Runner {
	return NewRunnerWith(context.Background())
}

// NewRunnerWith creates a runner on ctx.
func NewRunnerWith(ctx context.Context) *Runner {
	return &Runner{
		Context: ctx,
		results: make(chan error, 16),
		forced:  make(chan struct{}),
	}
}

// HandleSignals cancels the runner context on SIGINT or SIGTERM. A second
// signal makes Wait return ErrForcedExit.
func (r *Runner) HandleSignals() *Runner {
	ctx, cancel := context.WithCancel(r.Context)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	r.Context = ctx
	go func() {
		<-sigCh
		glog.Info("stop requested")
		cancel()
		<-sigCh
		glog.Error("stop requested again, force exit")
		close(r.forced)
	}()
	return r
}

// Go starts tasks on the runner context.
func (r *Runner) Go(tasks ...Runnable) *Runner {
	return r.GoWith(r.Context, tasks...)
}

// GoWith starts tasks on ctx.
func (r *Runner) GoWith(ctx context.Context, tasks ...Runnable) *Runner {
	for _, task := range tasks {
		r.lock.Lock()
		name := NameOf(task, "task-"+strconv.Itoa(r.started))
		r.started++
		r.lock.Unlock()
		go r.run(ctx, name, task)
	}
	return r
}

func (r *Runner) run(ctx context.Context, name string, task Runnable) {
	glog.V(4).Infof("task %s: started", name)
	err := task.Run(ctx)
	switch {
	case err == nil, err == context.Canceled:
		glog.V(4).Infof("task %s: stopped", name)
	default:
		glog.Errorf("task %s: %v", name, err)
	}
	r.results <- err
}

// Count returns the number of tasks started so far.
func (r *Runner) Count() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.started
}

// Wait blocks until every started task returns and reports the failures.
func (r *Runner) Wait() error {
	var errs AggregatedError
	for n := r.Count(); n > 0; n-- {
		select {
		case <-r.forced:
			return ErrForcedExit
		case err := <-r.results:
			if err != context.Canceled {
				errs.Add(err)
			}
		}
	}
	return errs.Aggregate()
}

// RunWithContextCancel runs a blocking fn which takes no context. onCancel
// is called when ctx is done and must make fn return.
func RunWithContextCancel(ctx context.Context, onCancel func(), fn func() error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- fn()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	if onCancel != nil {
		onCancel()
	}
	<-errCh
	return context.Canceled
}

// RunWithContextCloser runs fn until ctx is done, closing closer to unblock
// it. closer is closed exactly once either way.
func RunWithContextCloser(ctx context.Context, closer io.Closer, fn func() error) error {
	var once sync.Once
	closeOnce := func() { once.Do(func() { closer.Close() }) }
	defer closeOnce()
	return RunWithContextCancel(ctx, closeOnce, fn)
}
