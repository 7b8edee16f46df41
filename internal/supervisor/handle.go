package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tristanlee/substrate/internal/fault"
)

// Handle is a running subsystem as seen by the supervisor.
type Handle interface {
	Name() string
	// Done is closed when the subsystem stops, on request or on its own.
	Done() <-chan struct{}
	// Err reports why the subsystem stopped on its own, if it did.
	Err() error
	Stop(ctx context.Context) error
}

// Runner is a subsystem without a name of its own.
type Runner interface {
	Done() <-chan struct{}
	Err() error
	Stop(ctx context.Context) error
}

type named struct {
	Runner
	name string
}

func (n named) Name() string { return n.name }

// Named attaches a name to a runner.
func Named(name string, r Runner) Handle {
	return named{Runner: r, name: name}
}

// guarded wraps a handle so Stop runs at most once, bounded by a grace period.
type guarded struct {
	Handle
	once sync.Once
	err  error
}

// stop calls Stop once. A stop that outlives grace is abandoned and reported
// as a ShutdownTimeout; its goroutine is left to finish on its own.
func (g *guarded) stop(grace time.Duration) error {
	g.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()

		result := make(chan error, 1)
		go func() { result <- g.Handle.Stop(ctx) }()

		select {
		case err := <-result:
			if errors.Is(err, context.DeadlineExceeded) {
				err = fault.TimedOut(g.Name(), err)
			}
			g.err = err
		case <-ctx.Done():
			g.err = fault.TimedOut(g.Name(), ctx.Err())
		}
	})
	return g.err
}
