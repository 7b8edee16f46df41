package logging

import (
	"fmt"

	"github.com/tristanlee/substrate/internal/fault"
)

// StoreLogger adapts the unified logger to the printf-style logger interface
// expected by the block database engine. Fatalf never exits the process: the
// message is logged at ERROR and handed to OnFatal so the owner can report a
// fault through the normal shutdown path, then the calling goroutine unwinds.
type StoreLogger struct {
	Prefix  string
	OnFatal func(error)
}

// Infof logs engine housekeeping at DEBUG; compactions and flushes are noisy.
func (l *StoreLogger) Infof(format string, args ...interface{}) {
	Debug("(%s) %s", l.prefix(), fmt.Sprintf(format, args...))
}

// Errorf logs engine errors.
func (l *StoreLogger) Errorf(format string, args ...interface{}) {
	Error("(%s) %s", l.prefix(), fmt.Sprintf(format, args...))
}

// Fatalf logs an unrecoverable engine error and reports it to OnFatal. It
// does not return: the engine must not continue past a fatal error, so Fatalf
// panics with a fault.Panic error. Task goroutines and main recover it into
// the panic exit status.
func (l *StoreLogger) Fatalf(format string, args ...interface{}) {
	err := fmt.Errorf(format, args...)
	Error("(%s) fatal: %v", l.prefix(), err)
	if l.OnFatal != nil {
		l.OnFatal(err)
	}
	panic(fault.Panicked(l.prefix(), err))
}

func (l *StoreLogger) prefix() string {
	if l.Prefix == "" {
		return "db"
	}
	return l.Prefix
}

// RestyLogger implements the HTTP client's logger interface. Client errors
// are reported at WARN: the callers retry on their own.
type RestyLogger struct{}

func (RestyLogger) Errorf(format string, v ...interface{}) {
	Warn("(http) "+format, v...)
}

func (RestyLogger) Warnf(format string, v ...interface{}) {
	Warn("(http) "+format, v...)
}

func (RestyLogger) Debugf(format string, v ...interface{}) {
	Debug("(http) "+format, v...)
}
