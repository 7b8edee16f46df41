package shutdown

import (
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tristanlee/substrate/internal/fault"
)

// TestSignalFiresOnce tests that concurrent deliveries produce one firing
func TestSignalFiresOnce(t *testing.T) {
	sig := NewSignal()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sig.Fire("test") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.True(t, sig.Fired())
	assert.Equal(t, "test", sig.Reason())
}

// TestSignalKeepsFirstReason tests that later firings do not overwrite the reason
func TestSignalKeepsFirstReason(t *testing.T) {
	sig := NewSignal()
	assert.False(t, sig.Fired())

	require.True(t, sig.Fire("received interrupt"))
	require.False(t, sig.Fire("received terminated"))

	select {
	case <-sig.Done():
	default:
		t.Fatal("Expected Done to be closed")
	}
	assert.Equal(t, "received interrupt", sig.Reason())
}

// TestGuardGracefulThenRepeat tests that a second graceful signal is ignored
func TestGuardGracefulThenRepeat(t *testing.T) {
	sig := NewSignal()
	exited := -1
	g := NewGuard(sig, WithExit(func(code int) { exited = code }))

	g.handle(syscall.SIGINT)
	g.handle(syscall.SIGTERM)

	assert.True(t, sig.Fired())
	assert.Equal(t, "received interrupt", sig.Reason())
	assert.Equal(t, -1, exited)
}

// TestGuardForceSignal tests immediate exit on the force signal
func TestGuardForceSignal(t *testing.T) {
	sig := NewSignal()
	exited := -1
	g := NewGuard(sig, WithExit(func(code int) { exited = code }))

	g.handle(syscall.SIGQUIT)

	assert.Equal(t, fault.ExitForcedShutdown, exited)
	assert.False(t, sig.Fired())
}

// TestGuardForceDisabled tests that without a force signal SIGQUIT is not special
func TestGuardForceDisabled(t *testing.T) {
	sig := NewSignal()
	exited := -1
	g := NewGuard(sig, WithForceSignal(nil), WithExit(func(code int) { exited = code }))

	g.handle(syscall.SIGQUIT)

	assert.Equal(t, -1, exited)
	assert.True(t, sig.Fired())
}

// TestGuardDelivery tests the OS signal path end to end
func TestGuardDelivery(t *testing.T) {
	sig := NewSignal()
	g := NewGuard(sig, WithForceSignal(nil), WithExit(func(int) {}))
	g.Start()
	defer g.Stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))

	select {
	case <-sig.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Expected shutdown signal to fire")
	}
	g.Stop()
}

// TestParseForceSignal tests force signal name resolution
func TestParseForceSignal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    any
		wantErr bool
	}{
		{"default name", "SIGQUIT", syscall.SIGQUIT, false},
		{"short lowercase", "usr1", syscall.SIGUSR1, false},
		{"disabled", "none", nil, false},
		{"empty", "", nil, false},
		{"unsupported", "SIGKILL", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseForceSignal(tt.input)
			if tt.wantErr {
				assert.True(t, fault.Is(err, fault.ConfigError))
				return
			}
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, got)
			} else {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

// TestRecoverAndExit tests that a main goroutine panic maps to the panic status
func TestRecoverAndExit(t *testing.T) {
	code := -1
	func() {
		defer RecoverAndExit(func(c int) { code = c })
		panic("boom")
	}()
	assert.Equal(t, fault.ExitPanic, code)

	code = -1
	func() {
		defer RecoverAndExit(func(c int) { code = c })
	}()
	assert.Equal(t, -1, code)
}
