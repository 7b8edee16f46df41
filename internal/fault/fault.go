// Package fault defines the error taxonomy shared by every hoster command and
// the process exit status each kind of failure maps to.
//
// Errors stay ordinary Go errors wrapped with fmt.Errorf("...: %w", err). A
// *fault.Error sits somewhere in the chain and carries the Kind, plus the name
// of the subsystem involved when there is one. Callers classify a failure with
// KindOf or go straight to ExitCode, and both walk the chain with errors.As.
//
// EXIT STATUS MAP:
//
//	Internal            1   unclassified failure
//	UsageError          64  bad invocation, nothing started
//	SubsystemStartError 69  a subsystem failed to construct
//	SubsystemFault      70  a running subsystem exited unexpectedly
//	Panic               71  unrecoverable fault in a task
//	KeystoreError       74  key material could not be read or persisted
//	ShutdownTimeout     75  a subsystem missed its grace period
//	MissingCredential   77  a required password was not supplied
//	ConfigError         78  chain spec, path or flag value resolution failed
//	ForcedShutdown      130 operator sent the force signal
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for reporting and exit status selection.
type Kind int

const (
	Internal Kind = iota
	UsageError
	ConfigError
	MissingCredential
	KeystoreError
	SubsystemStartError
	SubsystemFault
	ShutdownTimeout
	ForcedShutdown
	Panic
)

// Process exit codes. Zero is reserved for clean completion.
const (
	ExitOK                = 0
	ExitInternal          = 1
	ExitUsage             = 64
	ExitSubsystemStart    = 69
	ExitSubsystemFault    = 70
	ExitPanic             = 71
	ExitKeystore          = 74
	ExitShutdownTimeout   = 75
	ExitMissingCredential = 77
	ExitConfig            = 78
	ExitForcedShutdown    = 130
)

var kindNames = map[Kind]string{
	Internal:            "internal error",
	UsageError:          "usage error",
	ConfigError:         "configuration error",
	MissingCredential:   "missing credential",
	KeystoreError:       "keystore error",
	SubsystemStartError: "subsystem start failure",
	SubsystemFault:      "subsystem fault",
	ShutdownTimeout:     "shutdown timeout",
	ForcedShutdown:      "forced shutdown",
	Panic:               "panic",
}

var kindExitCodes = map[Kind]int{
	Internal:            ExitInternal,
	UsageError:          ExitUsage,
	ConfigError:         ExitConfig,
	MissingCredential:   ExitMissingCredential,
	KeystoreError:       ExitKeystore,
	SubsystemStartError: ExitSubsystemStart,
	SubsystemFault:      ExitSubsystemFault,
	ShutdownTimeout:     ExitShutdownTimeout,
	ForcedShutdown:      ExitForcedShutdown,
	Panic:               ExitPanic,
}

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ExitCode returns the process exit status for the kind.
func (k Kind) ExitCode() int {
	if code, ok := kindExitCodes[k]; ok {
		return code
	}
	return ExitInternal
}

// Error is a classified failure. Subsystem is empty for failures that are not
// tied to a running component.
type Error struct {
	Kind      Kind
	Subsystem string
	Err       error
}

func (e *Error) Error() string {
	switch {
	case e.Subsystem != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Subsystem, e.Err)
	case e.Subsystem != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Subsystem)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with the given kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Newf builds a classified error from a format string. %w verbs are honoured.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Usage reports a malformed invocation.
func Usage(format string, args ...any) *Error {
	return Newf(UsageError, format, args...)
}

// Config reports a chain spec, path or flag resolution failure.
func Config(format string, args ...any) *Error {
	return Newf(ConfigError, format, args...)
}

// Credential reports a required password that could not be obtained.
func Credential(format string, args ...any) *Error {
	return Newf(MissingCredential, format, args...)
}

// Keystore reports a key parsing or persistence failure.
func Keystore(format string, args ...any) *Error {
	return Newf(KeystoreError, format, args...)
}

// StartFailed reports that subsystem could not be constructed.
func StartFailed(subsystem string, err error) *Error {
	return &Error{Kind: SubsystemStartError, Subsystem: subsystem, Err: err}
}

// Faulted reports that subsystem exited while it was expected to keep running.
func Faulted(subsystem string, err error) *Error {
	if err == nil {
		err = errors.New("exited unexpectedly")
	}
	return &Error{Kind: SubsystemFault, Subsystem: subsystem, Err: err}
}

// TimedOut reports that subsystem did not stop within its grace period.
func TimedOut(subsystem string, err error) *Error {
	return &Error{Kind: ShutdownTimeout, Subsystem: subsystem, Err: err}
}

// Panicked reports a recovered panic in the named task.
func Panicked(task string, value any) *Error {
	return &Error{Kind: Panic, Subsystem: task, Err: fmt.Errorf("%v", value)}
}

// KindOf returns the kind of the first *Error in err's chain. Nil errors have
// no kind and report Internal, as do errors that were never classified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}

// SubsystemOf returns the subsystem name attached to err, if any.
func SubsystemOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Subsystem
	}
	return ""
}

// ExitCode maps err to a process exit status. A nil error exits cleanly.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	return KindOf(err).ExitCode()
}
