// Package executor builds the execution environment every long-running hoster
// command runs in: the scheduler worker count, the process open-file ceiling,
// and a task manager that supervises the goroutines subsystems spawn.
//
// PROCESS-WIDE STATE:
// GOMAXPROCS and RLIMIT_NOFILE belong to the whole process. Build applies the
// file limit exactly once per process no matter how many times it is called;
// later calls observe the recorded outcome. A failure to raise the limit is
// logged at WARN and never fails the build, since the OS default is usually
// sufficient for small nodes.
//
// TASK SUPERVISION:
// Node subsystems start their loops through a TaskManager instead of bare go
// statements: block authoring, the network accept, sync, gossip event and
// per-connection loops, and the telemetry delivery and interval loops. A
// panic inside a task is recovered, logged with the full stack and reported
// as a fault.Panic so the node supervisor tears the whole node down. An
// essential task that returns while the node is not shutting down is reported
// as a fault.SubsystemFault.
//
// Two kinds of goroutine stay with their owner. The block database WAL sync
// loop belongs to the client, which offline commands open without a task
// manager; it reports failures through the client's Done and Err. Goroutines
// that only wait on a library call (the RPC HTTP serve loop, the telemetry
// websocket reader, stop waiters) end when their owner closes the resource.
package executor

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/tristanlee/substrate/internal/fault"
	"github.com/tristanlee/substrate/internal/logging"
)

// Config sizes the execution environment. Zero values select defaults.
type Config struct {
	Workers      int    // Scheduler worker count, 0 = runtime.NumCPU()
	MaxOpenFiles uint64 // Requested open-file ceiling, 0 = leave unchanged
}

// Executor is the built execution environment.
type Executor struct {
	workers   int
	fileLimit uint64
	limitErr  error
}

// fdRaiser applies the open-file limit at most once.
type fdRaiser struct {
	once  sync.Once
	raise func(uint64) (uint64, error)
	limit uint64
	err   error
	calls int
}

func (r *fdRaiser) apply(max uint64) (uint64, error) {
	r.once.Do(func() {
		r.calls++
		r.limit, r.err = r.raise(max)
	})
	return r.limit, r.err
}

// processLimit is the single open-file adjustment for this process
var processLimit = &fdRaiser{raise: raiseFDLimit}

// Build constructs the execution environment. It must run before any
// subsystem is constructed.
func Build(cfg Config) (*Executor, error) {
	if cfg.Workers < 0 {
		return nil, fault.Config("worker count cannot be negative: %d", cfg.Workers)
	}

	// Full goroutine dumps on crash
	debug.SetTraceback("all")

	workers := cfg.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	runtime.GOMAXPROCS(workers)
	logging.Debug("Scheduler sized to %d workers", workers)

	ex := &Executor{workers: workers}

	if cfg.MaxOpenFiles > 0 {
		ex.fileLimit, ex.limitErr = processLimit.apply(cfg.MaxOpenFiles)
		if ex.limitErr != nil {
			logging.Warn("Could not raise open file limit to %d: %v", cfg.MaxOpenFiles, ex.limitErr)
		} else if ex.fileLimit < cfg.MaxOpenFiles {
			logging.Warn("Open file limit capped at %d (requested %d)", ex.fileLimit, cfg.MaxOpenFiles)
		} else {
			logging.Debug("Open file limit is %d", ex.fileLimit)
		}
	}

	return ex, nil
}

// Workers returns the scheduler worker count.
func (e *Executor) Workers() int {
	return e.workers
}

// FileLimit returns the open-file soft limit in effect and the error from
// raising it, if any.
func (e *Executor) FileLimit() (uint64, error) {
	return e.fileLimit, e.limitErr
}
