package executor

import (
	"errors"
	"runtime"
	"testing"

	"github.com/tristanlee/substrate/internal/fault"
)

// withRaiser swaps the process-wide limit raiser for the duration of a test
func withRaiser(t *testing.T, raise func(uint64) (uint64, error)) *fdRaiser {
	t.Helper()
	prev := processLimit
	r := &fdRaiser{raise: raise}
	processLimit = r
	t.Cleanup(func() { processLimit = prev })
	return r
}

// TestBuildWorkers tests worker count selection
func TestBuildWorkers(t *testing.T) {
	prev := runtime.GOMAXPROCS(0)
	defer runtime.GOMAXPROCS(prev)
	withRaiser(t, func(max uint64) (uint64, error) { return max, nil })

	tests := []struct {
		name     string
		workers  int
		expected int
	}{
		{"default uses cpu count", 0, runtime.NumCPU()},
		{"explicit single worker", 1, 1},
		{"explicit three workers", 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, err := Build(Config{Workers: tt.workers})
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if ex.Workers() != tt.expected {
				t.Errorf("Expected %d workers, got %d", tt.expected, ex.Workers())
			}
			if got := runtime.GOMAXPROCS(0); got != tt.expected {
				t.Errorf("Expected GOMAXPROCS %d, got %d", tt.expected, got)
			}
		})
	}
}

// TestBuildRejectsNegativeWorkers tests configuration validation
func TestBuildRejectsNegativeWorkers(t *testing.T) {
	_, err := Build(Config{Workers: -1})
	if !fault.Is(err, fault.ConfigError) {
		t.Errorf("Expected ConfigError, got %v", err)
	}
}

// TestFileLimitRaisedOnce tests that repeated builds adjust the limit once
func TestFileLimitRaisedOnce(t *testing.T) {
	r := withRaiser(t, func(max uint64) (uint64, error) { return max, nil })

	for i := 0; i < 3; i++ {
		ex, err := Build(Config{Workers: 1, MaxOpenFiles: 4096})
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if limit, _ := ex.FileLimit(); limit != 4096 {
			t.Errorf("Expected limit 4096, got %d", limit)
		}
	}

	if r.calls != 1 {
		t.Errorf("Expected a single limit adjustment, got %d", r.calls)
	}
}

// TestFileLimitFailureNotFatal tests that a refused raise still builds
func TestFileLimitFailureNotFatal(t *testing.T) {
	refused := errors.New("operation not permitted")
	withRaiser(t, func(uint64) (uint64, error) { return 0, refused })

	ex, err := Build(Config{Workers: 1, MaxOpenFiles: 1 << 20})
	if err != nil {
		t.Fatalf("Expected build to succeed, got %v", err)
	}
	if _, limitErr := ex.FileLimit(); !errors.Is(limitErr, refused) {
		t.Errorf("Expected recorded limit error, got %v", limitErr)
	}
}

// TestFileLimitSkippedWhenUnset tests that zero leaves the limit alone
func TestFileLimitSkippedWhenUnset(t *testing.T) {
	r := withRaiser(t, func(max uint64) (uint64, error) { return max, nil })

	if _, err := Build(Config{Workers: 1}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if r.calls != 0 {
		t.Errorf("Expected no limit adjustment, got %d", r.calls)
	}
}
