// Package supervisor owns the lifetime of a running node.
//
// The supervisor starts the node subsystems one at a time in dependency order,
// then waits for a stop condition and tears them down in exact reverse order.
//
// LIFECYCLE:
//
//	Initializing → Starting → Running → ShuttingDown → Stopped
//	                  │                      ▲    │
//	                  └──────────────────────┘    └──→ Errored
//
// Every teardown passes through ShuttingDown. A run that ends because of a
// fault or a missed grace period finishes in Errored instead of Stopped.
//
// START ORDER:
// client → network → rpc → telemetry. A subsystem that fails to construct
// starts the teardown, every subsystem already started is stopped in reverse
// and the run fails with a SubsystemStartError naming the culprit. Later
// subsystems are never constructed.
//
// STOP CONDITIONS:
//   - The shutdown signal fires (operator signal or context cancellation)
//   - A subsystem handle reports Done while the node is Running
//   - An essential task returns or panics
//
// Faults fire the shutdown signal themselves, so there is exactly one teardown
// no matter how many stop conditions race. Faults observed once teardown has
// begun are logged and do not change the outcome.
//
// TEARDOWN:
// Background tasks are cancelled first so nothing writes to a subsystem being
// stopped. Each handle then gets one Stop call bounded by the grace period. A
// stop that misses its deadline is abandoned, reported as ShutdownTimeout, and
// teardown moves on to the next handle.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tristanlee/substrate/internal/config"
	"github.com/tristanlee/substrate/internal/executor"
	"github.com/tristanlee/substrate/internal/fault"
	"github.com/tristanlee/substrate/internal/logging"
	"github.com/tristanlee/substrate/internal/shutdown"
)

// Subsystem names, in start order.
const (
	ClientName    = "client"
	NetworkName   = "network"
	RPCName       = "rpc"
	TelemetryName = "telemetry"
)

// Components constructs the node subsystems. Each method is called at most
// once, in start order, and only after every earlier method succeeded. A nil
// handle with a nil error means the subsystem is disabled.
type Components interface {
	StartClient(tasks *executor.TaskManager) (Handle, error)
	StartNetwork() (Handle, error)
	StartRPC() (Handle, error)
	StartTelemetry() (Handle, error)
}

// Config holds supervisor configuration.
type Config struct {
	GracePeriod time.Duration         // Bound on each subsystem stop
	Registerer  prometheus.Registerer // Receives the state gauge, may be nil

	// OnTransition, if set, is called after every state change.
	OnTransition func(from, to State)
}

// DefaultConfig returns the default supervisor configuration.
func DefaultConfig() *Config {
	return &Config{GracePeriod: config.DefaultGracePeriod}
}

// Supervisor runs one node until a stop condition.
type Supervisor struct {
	cfg        *Config
	components Components
	signal     *shutdown.Signal
	tasks      *executor.TaskManager

	state atomic.Int32
	gauge *prometheus.GaugeVec
	ran   atomic.Bool
}

type stage struct {
	name  string
	start func() (Handle, error)
}

// New creates a supervisor. The signal is shared with the signal guard; tasks
// is the task manager background work of this node runs under.
func New(cfg *Config, components Components, sig *shutdown.Signal, tasks *executor.TaskManager) (*Supervisor, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.GracePeriod <= 0 {
		return nil, fmt.Errorf("grace period must be positive, got: %v", cfg.GracePeriod)
	}
	if components == nil || sig == nil || tasks == nil {
		return nil, fmt.Errorf("supervisor requires components, a shutdown signal and a task manager")
	}

	s := &Supervisor{
		cfg:        cfg,
		components: components,
		signal:     sig,
		tasks:      tasks,
		gauge:      newStateGauge(cfg.Registerer),
	}
	s.setGauge(Initializing)
	return s, nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) transition(to State) {
	from := s.State()
	if from == to {
		return
	}
	if !canTransition(from, to) {
		logging.Warn("Ignoring node state change %s -> %s", from, to)
		return
	}
	s.state.Store(int32(to))
	s.setGauge(to)
	logging.Debug("Node state %s -> %s", from, to)
	if s.cfg.OnTransition != nil {
		s.cfg.OnTransition(from, to)
	}
}

func (s *Supervisor) stages() []stage {
	return []stage{
		{ClientName, func() (Handle, error) { return s.components.StartClient(s.tasks) }},
		{NetworkName, s.components.StartNetwork},
		{RPCName, s.components.StartRPC},
		{TelemetryName, s.components.StartTelemetry},
	}
}

// Run starts the node and blocks until it has been torn down. It returns nil
// after a clean signal-initiated shutdown, and a classified error otherwise.
// Run may be called once.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.ran.CompareAndSwap(false, true) {
		return fmt.Errorf("supervisor already ran")
	}

	s.transition(Starting)
	started := make([]*guarded, 0, 4)

	for _, st := range s.stages() {
		if s.interrupted(ctx) {
			logging.Info("Shutdown requested during startup (%s)", s.signal.Reason())
			return s.finish(nil, started)
		}

		logging.Info("Starting %s", st.name)
		h, err := st.start()
		if err != nil {
			logging.Error("Failed to start %s: %v", st.name, err)
			s.transition(ShuttingDown)
			s.teardown(started)
			s.transition(Errored)
			return fault.StartFailed(st.name, err)
		}
		if h == nil {
			logging.Info("Subsystem %s disabled", st.name)
			continue
		}
		started = append(started, &guarded{Handle: h})
	}

	s.transition(Running)
	logging.Success("Node running with %d subsystems", len(started))

	cause := s.wait(ctx, started)
	return s.finish(cause, started)
}

func (s *Supervisor) interrupted(ctx context.Context) bool {
	if ctx.Err() != nil {
		s.signal.Fire("context cancelled")
	}
	return s.signal.Fired()
}

// wait blocks until the first stop condition and returns the fault that caused
// it, or nil for a requested shutdown.
func (s *Supervisor) wait(ctx context.Context, handles []*guarded) error {
	exited := make(chan error, len(handles))
	quit := make(chan struct{})
	defer close(quit)

	for _, h := range handles {
		go func(h Handle) {
			select {
			case <-h.Done():
				exited <- fault.Faulted(h.Name(), h.Err())
			case <-quit:
			}
		}(h)
	}

	var cause error
	select {
	case <-s.signal.Done():
		logging.Info("Shutdown requested (%s)", s.signal.Reason())
		return nil
	case <-ctx.Done():
		s.signal.Fire("context cancelled")
		logging.Info("Shutdown requested (context cancelled)")
		return nil
	case cause = <-exited:
	case cause = <-s.tasks.Faults():
	}

	name := fault.SubsystemOf(cause)
	logging.Error("Subsystem %s failed: %v", name, cause)
	s.signal.Fire(fmt.Sprintf("%s failed", name))
	return cause
}

// finish tears down the started handles and picks the run result.
func (s *Supervisor) finish(cause error, handles []*guarded) error {
	s.transition(ShuttingDown)
	timeout := s.teardown(handles)

	switch {
	case cause != nil:
		s.transition(Errored)
		return cause
	case timeout != nil:
		s.transition(Errored)
		return timeout
	default:
		s.transition(Stopped)
		logging.Success("Node stopped")
		return nil
	}
}

// teardown stops background tasks, then every handle in reverse start order.
// It returns the first ShutdownTimeout, if any.
func (s *Supervisor) teardown(handles []*guarded) error {
	var timeout error
	record := func(err error) {
		if err == nil {
			return
		}
		if fault.Is(err, fault.ShutdownTimeout) {
			logging.Error("Shutdown timed out: %v", err)
			if timeout == nil {
				timeout = err
			}
			return
		}
		logging.Warn("Error during shutdown: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GracePeriod)
	record(s.tasks.Shutdown(ctx))
	cancel()
	s.drainFaults()

	for i := len(handles) - 1; i >= 0; i-- {
		h := handles[i]
		logging.Info("Stopping %s", h.Name())
		err := h.stop(s.cfg.GracePeriod)
		if err != nil && !fault.Is(err, fault.ShutdownTimeout) && !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%s: %w", h.Name(), err)
		}
		record(err)
	}
	return timeout
}

// drainFaults logs task faults that arrived after the stop decision.
func (s *Supervisor) drainFaults() {
	for {
		select {
		case err := <-s.tasks.Faults():
			logging.Warn("Ignoring fault during shutdown: %v", err)
		default:
			return
		}
	}
}

func newStateGauge(reg prometheus.Registerer) *prometheus.GaugeVec {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hoster_node_state",
		Help: "Current node lifecycle state (1 for the active state).",
	}, []string{"state"})
	if reg == nil {
		return gauge
	}
	if err := reg.Register(gauge); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing
			}
		}
		logging.Warn("Failed to register node state gauge: %v", err)
	}
	return gauge
}

func (s *Supervisor) setGauge(current State) {
	for st := Initializing; st <= Errored; st++ {
		v := 0.0
		if st == current {
			v = 1
		}
		s.gauge.WithLabelValues(st.String()).Set(v)
	}
}
