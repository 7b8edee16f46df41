// Package utils contains output helpers for the hoster binary.
package utils

import (
	"fmt"
	"io"

	"github.com/mattn/go-isatty"
	"github.com/tristanlee/substrate/internal/version"
)

const logo = ` ░░░░░░░░░░░░░░░░░░░░░░░░░
 ░█░█░█▀█░█▀▀░▀█▀░█▀▀░█▀▄░
 ░█▀█░█░█░▀▀█░░█░░█▀▀░█▀▄░
 ░▀░▀░▀▀▀░▀▀▀░░▀░░▀▀▀░▀░▀░
 ░░░░░░░░░░░░░░░░░░░░░░░░░`

// DisplayLogo prints the hoster logo with version information. The logo is
// skipped when w is a file that is not a terminal.
func DisplayLogo(w io.Writer, ver string) {
	if f, ok := w.(interface{ Fd() uintptr }); ok && !isatty.IsTerminal(f.Fd()) {
		fmt.Fprintf(w, "%s v%s\n", version.ImplName, ver)
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, logo)
	fmt.Fprintf(w, "\n %s v%s - Runtime Hoster ledger node\n", version.ImplName, ver)
	fmt.Fprintln(w, " Block database, gossip, RPC and telemetry under one supervisor")
	fmt.Fprintln(w)
}
