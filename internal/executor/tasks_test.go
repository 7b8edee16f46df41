package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tristanlee/substrate/internal/fault"
)

func newTestManager(t *testing.T) *TaskManager {
	t.Helper()
	ex := &Executor{workers: 1}
	tm := ex.NewTaskManager(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = tm.Shutdown(ctx)
	})
	return tm
}

func waitFault(t *testing.T, tm *TaskManager) error {
	t.Helper()
	select {
	case err := <-tm.Faults():
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a fault report")
		return nil
	}
}

// TestPanicBecomesFault tests that a panicking task is recovered and classified
func TestPanicBecomesFault(t *testing.T) {
	tm := newTestManager(t)

	task := tm.SpawnEssential("sync", func(ctx context.Context) error {
		panic("invariant broken")
	})

	err := waitFault(t, tm)
	assert.True(t, fault.Is(err, fault.Panic))
	assert.Equal(t, "sync", fault.SubsystemOf(err))
	assert.Equal(t, fault.ExitPanic, fault.ExitCode(err))

	<-task.Done()
	assert.True(t, fault.Is(task.Err(), fault.Panic))
}

// TestEssentialExitIsFault tests that a task returning on its own is a fault
func TestEssentialExitIsFault(t *testing.T) {
	tm := newTestManager(t)

	tm.SpawnEssential("import-queue", func(ctx context.Context) error {
		return nil
	})

	err := waitFault(t, tm)
	assert.True(t, fault.Is(err, fault.SubsystemFault))
	assert.Equal(t, "import-queue", fault.SubsystemOf(err))
}

// TestBestEffortErrorIgnored tests that ordinary tasks do not escalate errors
func TestBestEffortErrorIgnored(t *testing.T) {
	tm := newTestManager(t)

	task := tm.Spawn("telemetry-flush", func(ctx context.Context) error {
		return errors.New("endpoint unreachable")
	})
	<-task.Done()

	assert.NoError(t, task.Err())
	select {
	case err := <-tm.Faults():
		t.Errorf("Expected no fault, got %v", err)
	default:
	}
}

// TestShutdownIsQuiet tests that cancelled tasks are not reported
func TestShutdownIsQuiet(t *testing.T) {
	ex := &Executor{workers: 1}
	tm := ex.NewTaskManager(context.Background())

	task := tm.SpawnEssential("network", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tm.Shutdown(ctx))

	<-task.Done()
	assert.NoError(t, task.Err())
	select {
	case err := <-tm.Faults():
		t.Errorf("Expected no fault, got %v", err)
	default:
	}
}

// TestShutdownTimeout tests that a stuck task is named in the timeout
func TestShutdownTimeout(t *testing.T) {
	ex := &Executor{workers: 1}
	tm := ex.NewTaskManager(context.Background())

	release := make(chan struct{})
	defer close(release)
	tm.Spawn("stuck", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := tm.Shutdown(ctx)

	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.ShutdownTimeout))
	assert.Contains(t, err.Error(), "stuck")
}

// TestFinishedTasksAreForgotten tests that returned tasks leave the running set
func TestFinishedTasksAreForgotten(t *testing.T) {
	tm := newTestManager(t)

	release := make(chan struct{})
	held := tm.Spawn("held", func(ctx context.Context) error {
		<-release
		return nil
	})
	for i := 0; i < 10; i++ {
		task := tm.Spawn("conn", func(ctx context.Context) error { return nil })
		<-task.Done()
	}

	assert.Eventually(t, func() bool { return tm.Running() == 1 }, time.Second, 5*time.Millisecond)

	close(release)
	<-held.Done()
	assert.Eventually(t, func() bool { return tm.Running() == 0 }, time.Second, 5*time.Millisecond)
}
