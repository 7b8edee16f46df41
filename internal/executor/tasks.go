package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tristanlee/substrate/internal/fault"
	"github.com/tristanlee/substrate/internal/logging"
)

// faultBuffer is large enough that one burst of faults never blocks a task.
const faultBuffer = 16

// TaskFunc is the body of a supervised task. It must return once ctx is done.
type TaskFunc func(ctx context.Context) error

// Spawner starts best-effort tasks. *TaskManager implements it.
type Spawner interface {
	Spawn(name string, fn TaskFunc) *Task
}

// Task is a handle to one spawned task.
type Task struct {
	name string
	done chan struct{}
	err  error
}

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// Done is closed when the task has returned.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the classified result once Done is closed. Nil means the task
// returned because the manager was shutting down.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// TaskManager runs tasks under a shared context and reports abnormal exits.
type TaskManager struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	faults chan error

	mu    sync.Mutex
	tasks []*Task
}

// NewTaskManager creates a task manager whose tasks stop when parent is done
// or Shutdown is called.
func (e *Executor) NewTaskManager(parent context.Context) *TaskManager {
	ctx, cancel := context.WithCancel(parent)
	group, groupCtx := errgroup.WithContext(ctx)

	return &TaskManager{
		ctx:    groupCtx,
		cancel: cancel,
		group:  group,
		faults: make(chan error, faultBuffer),
	}
}

// Context returns the context tasks run under.
func (tm *TaskManager) Context() context.Context {
	return tm.ctx
}

// Faults delivers task panics and unexpected essential task exits.
func (tm *TaskManager) Faults() <-chan error {
	return tm.faults
}

// SpawnEssential runs fn as a task the node cannot live without.
func (tm *TaskManager) SpawnEssential(name string, fn TaskFunc) *Task {
	return tm.spawn(name, fn, true)
}

// Spawn runs fn as a best-effort task. Its errors are logged; a panic still
// escalates.
func (tm *TaskManager) Spawn(name string, fn TaskFunc) *Task {
	return tm.spawn(name, fn, false)
}

func (tm *TaskManager) spawn(name string, fn TaskFunc, essential bool) *Task {
	task := &Task{name: name, done: make(chan struct{})}

	tm.mu.Lock()
	tm.tasks = append(tm.tasks, task)
	tm.mu.Unlock()

	tm.group.Go(func() error {
		defer tm.forget(task)
		defer close(task.done)

		err := tm.run(name, fn)
		task.err = tm.classify(name, err, essential)
		if task.err != nil {
			tm.report(task.err)
		}
		return task.err
	})

	logging.Debug("Spawned task %s", name)
	return task
}

// forget drops a finished task so short-lived tasks do not accumulate.
func (tm *TaskManager) forget(task *Task) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	for i, t := range tm.tasks {
		if t == task {
			tm.tasks = append(tm.tasks[:i], tm.tasks[i+1:]...)
			return
		}
	}
}

// Running returns the number of tasks that have not returned yet.
func (tm *TaskManager) Running() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return len(tm.tasks)
}

// run executes fn, converting a panic into a classified error.
func (tm *TaskManager) run(name string, fn TaskFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Task %s panicked: %v\n%s", name, r, debug.Stack())
			err = fault.Panicked(name, r)
		}
	}()
	return fn(tm.ctx)
}

// classify decides whether a returned task needs to be reported.
func (tm *TaskManager) classify(name string, err error, essential bool) error {
	if fault.Is(err, fault.Panic) {
		return err
	}

	stopping := tm.ctx.Err() != nil
	if stopping && (err == nil || errors.Is(err, context.Canceled)) {
		return nil
	}

	if !essential {
		if err != nil {
			logging.Warn("Task %s failed: %v", name, err)
		}
		return nil
	}

	if err == nil {
		err = fmt.Errorf("essential task returned")
	}
	return fault.Faulted(name, err)
}

func (tm *TaskManager) report(err error) {
	select {
	case tm.faults <- err:
	default:
		logging.Warn("Dropping task fault report: %v", err)
	}
}

// Shutdown cancels every task and waits for them to return, bounded by ctx.
// Tasks still running when ctx expires are named in the returned error.
func (tm *TaskManager) Shutdown(ctx context.Context) error {
	tm.cancel()

	done := make(chan struct{})
	go func() {
		_ = tm.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	var pending []string
	tm.mu.Lock()
	for _, task := range tm.tasks {
		select {
		case <-task.done:
		default:
			pending = append(pending, task.name)
		}
	}
	tm.mu.Unlock()

	return fault.TimedOut("tasks", fmt.Errorf("still running: %s", strings.Join(pending, ", ")))
}
