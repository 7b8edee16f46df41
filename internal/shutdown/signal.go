// Package shutdown owns the process-wide stop conditions: the one-shot
// shutdown signal every subsystem observes, the OS signal guard that fires it,
// and the panic policy of the main goroutine.
package shutdown

import "sync"

// Signal is a one-shot broadcast. The first Fire wins; later calls are no-ops.
type Signal struct {
	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	reason string
}

// NewSignal creates an unfired signal.
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Fire delivers the signal. Returns true only for the call that delivered it.
func (s *Signal) Fire(reason string) bool {
	fired := false
	s.once.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		close(s.done)
		fired = true
	})
	return fired
}

// Done is closed once the signal has fired.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Fired reports whether the signal has been delivered.
func (s *Signal) Fired() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Reason returns the reason given to the delivering Fire call.
func (s *Signal) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}
