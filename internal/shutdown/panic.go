package shutdown

import (
	"runtime/debug"

	"github.com/tristanlee/substrate/internal/fault"
	"github.com/tristanlee/substrate/internal/logging"
)

// InstallPanicPolicy makes an unrecovered panic print every goroutine stack.
func InstallPanicPolicy() {
	debug.SetTraceback("all")
}

// RecoverAndExit must be deferred directly in main. A panic on the main
// goroutine is logged with its stack and the process exits with the panic
// status instead of the runtime's default.
func RecoverAndExit(exit func(int)) {
	r := recover()
	if r == nil {
		return
	}
	err := fault.Panicked("main", r)
	logging.Error("%v\n%s", err, debug.Stack())
	exit(fault.ExitCode(err))
}
