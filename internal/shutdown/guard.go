package shutdown

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/tristanlee/substrate/internal/fault"
	"github.com/tristanlee/substrate/internal/logging"
)

// ForceSignalNone disables the force signal.
const ForceSignalNone = "none"

var forceSignals = map[string]os.Signal{
	"SIGQUIT": syscall.SIGQUIT,
	"SIGUSR1": syscall.SIGUSR1,
	"SIGUSR2": syscall.SIGUSR2,
	"SIGHUP":  syscall.SIGHUP,
}

// ParseForceSignal resolves a configured force signal name. The empty string
// and "none" disable it.
func ParseForceSignal(name string) (os.Signal, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if upper == "" || upper == strings.ToUpper(ForceSignalNone) {
		return nil, nil
	}
	if !strings.HasPrefix(upper, "SIG") {
		upper = "SIG" + upper
	}
	sig, ok := forceSignals[upper]
	if !ok {
		return nil, fault.Config("unsupported force signal %q", name)
	}
	return sig, nil
}

// Guard translates OS signals into the shutdown signal. SIGINT and SIGTERM
// request a graceful stop; the force signal exits the process immediately.
type Guard struct {
	signal *Signal
	force  os.Signal
	exit   func(int)

	ch       chan os.Signal
	stopOnce sync.Once
	stopped  chan struct{}
	wg       sync.WaitGroup
}

// GuardOption customizes a Guard.
type GuardOption func(*Guard)

// WithExit replaces os.Exit for the force signal path.
func WithExit(exit func(int)) GuardOption {
	return func(g *Guard) { g.exit = exit }
}

// WithForceSignal sets the immediate-exit signal. Nil disables it.
func WithForceSignal(sig os.Signal) GuardOption {
	return func(g *Guard) { g.force = sig }
}

// NewGuard creates a guard for sig. The force signal defaults to SIGQUIT.
func NewGuard(sig *Signal, opts ...GuardOption) *Guard {
	g := &Guard{
		signal:  sig,
		force:   syscall.SIGQUIT,
		exit:    os.Exit,
		ch:      make(chan os.Signal, 4),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start subscribes to OS signals and begins handling them.
func (g *Guard) Start() {
	signals := []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	if g.force != nil {
		signals = append(signals, g.force)
	}
	signal.Notify(g.ch, signals...)

	g.wg.Add(1)
	go g.loop()
}

// Stop unsubscribes and waits for the handler to return. Safe to call twice.
func (g *Guard) Stop() {
	g.stopOnce.Do(func() {
		signal.Stop(g.ch)
		close(g.stopped)
	})
	g.wg.Wait()
}

func (g *Guard) loop() {
	defer g.wg.Done()
	for {
		select {
		case sig := <-g.ch:
			g.handle(sig)
		case <-g.stopped:
			return
		}
	}
}

// handle processes one delivery.
func (g *Guard) handle(sig os.Signal) {
	if g.force != nil && sig == g.force {
		logging.Error("Received %v, exiting without teardown", sig)
		g.exit(fault.ExitForcedShutdown)
		return
	}

	if !g.signal.Fire(fmt.Sprintf("received %v", sig)) {
		logging.Warn("Received %v, already shutting down", sig)
		return
	}
	logging.Info("Received signal: %v", sig)
}
