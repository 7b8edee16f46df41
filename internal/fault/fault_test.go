package fault

import (
	"errors"
	"fmt"
	"testing"
)

// TestExitCodesDistinct ensures no two kinds share an exit status
func TestExitCodesDistinct(t *testing.T) {
	seen := make(map[int]Kind)
	for kind := Internal; kind <= Panic; kind++ {
		code := kind.ExitCode()
		if code == ExitOK {
			t.Errorf("Expected non-zero exit code for %s", kind)
		}
		if other, dup := seen[code]; dup {
			t.Errorf("Expected distinct exit codes, %s and %s both map to %d", kind, other, code)
		}
		seen[code] = kind
	}
}

// TestExitCode tests exit status selection through wrapped chains
func TestExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil", nil, ExitOK},
		{"plain error", errors.New("boom"), ExitInternal},
		{"usage", Usage("unknown command %q", "frob"), ExitUsage},
		{"config wrapped", fmt.Errorf("load: %w", Config("bad chain spec")), ExitConfig},
		{"credential", Credential("password required"), ExitMissingCredential},
		{"keystore", Keystore("invalid seed"), ExitKeystore},
		{"start failure", StartFailed("network", errors.New("bind")), ExitSubsystemStart},
		{"fault", Faulted("rpc", nil), ExitSubsystemFault},
		{"timeout", TimedOut("client", nil), ExitShutdownTimeout},
		{"panic", Panicked("sync", "oops"), ExitPanic},
		{"forced", New(ForcedShutdown, nil), ExitForcedShutdown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.expected {
				t.Errorf("Expected exit code %d, got %d", tt.expected, got)
			}
		})
	}
}

// TestErrorMessage tests that subsystem names and causes are reported
func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{"kind only", &Error{Kind: ShutdownTimeout}, "shutdown timeout"},
		{"with subsystem", &Error{Kind: SubsystemFault, Subsystem: "rpc"}, "subsystem fault: rpc"},
		{"with cause", Keystore("bad seed"), "keystore error: bad seed"},
		{"with both", StartFailed("network", errors.New("address in use")), "subsystem start failure: network: address in use"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

// TestUnwrap tests that classified errors keep their cause reachable
func TestUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("insert: %w", New(KeystoreError, cause))

	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is to find the underlying cause")
	}
	if !Is(err, KeystoreError) {
		t.Error("Expected Is to detect KeystoreError")
	}
	if Is(err, ConfigError) {
		t.Error("Expected Is to reject ConfigError")
	}
	if got := SubsystemOf(StartFailed("client", cause)); got != "client" {
		t.Errorf("Expected subsystem client, got %q", got)
	}
}
