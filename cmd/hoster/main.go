// Command hoster runs a ledger node and the tools that manage its chain data
// and keystore.
package main

import (
	"os"

	"github.com/tristanlee/substrate/cmd/hoster/commands"
	"github.com/tristanlee/substrate/internal/shutdown"
)

func main() {
	shutdown.InstallPanicPolicy()
	defer shutdown.RecoverAndExit(os.Exit)

	os.Exit(commands.Execute(os.Args[1:]))
}
