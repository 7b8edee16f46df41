// Package commands provides the command structure of the hoster binary.
//
// COMMAND ARCHITECTURE:
// Parsing and execution are separate steps. Parse builds a fresh cobra tree
// for every call whose leaf commands only capture a typed Invocation; nothing
// is opened, bound or started while flags are being read. Dispatch then maps
// the Invocation to its handler.
//
//   - run:            start a full node under the node supervisor
//   - build-spec:     print the chain specification
//   - purge-chain:    delete the block database
//   - export-blocks:  write blocks as JSON lines or length-prefixed binary
//   - import-blocks:  read blocks written by export-blocks
//   - revert:         remove blocks from the tip of the chain
//   - generate-key:   create a mnemonic and print the key it derives
//   - insert-key:     store a key in the chain's keystore
//
// EXIT STATUS:
// Every failure is classified by internal/fault and Execute turns the class
// into the process exit status. Malformed invocations exit with the usage
// status before any subsystem is touched.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tristanlee/substrate/cmd/hoster/config"
	"github.com/tristanlee/substrate/internal/fault"
	"github.com/tristanlee/substrate/internal/keystore"
	"github.com/tristanlee/substrate/internal/logging"
	"github.com/tristanlee/substrate/internal/shutdown"
	"github.com/tristanlee/substrate/internal/supervisor"
	"github.com/tristanlee/substrate/internal/version"
)

// Deps are the process resources handlers use. Tests substitute them.
type Deps struct {
	Stdin    io.Reader
	Stdout   io.Writer
	Stderr   io.Writer
	Prompter keystore.Prompter

	// Signal fires when the operator asks the process to stop.
	Signal *shutdown.Signal
	// Exit is called by the force signal path.
	Exit func(int)
	// NewComponents builds the node subsystems for run.
	NewComponents func(supervisor.NodeConfig) (supervisor.Components, error)
}

// DefaultDeps returns the resources of a real process.
func DefaultDeps() *Deps {
	return &Deps{
		Stdin:    os.Stdin,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		Prompter: keystore.NewTerminalPrompter(),
		Exit:     os.Exit,
		NewComponents: func(cfg supervisor.NodeConfig) (supervisor.Components, error) {
			return supervisor.NewNodeComponents(cfg)
		},
	}
}

// Parse turns args into exactly one Invocation. Help and version requests
// print their output and return Help. Every parse failure is a UsageError.
func Parse(args []string, stdout, stderr io.Writer) (Invocation, error) {
	var captured Invocation
	capture := func(inv Invocation) { captured = inv }

	// cobra falls back to os.Args when given nil
	if args == nil {
		args = []string{}
	}

	root := newRootCmd(capture)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		var fe *fault.Error
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, fault.Usage("%v", err)
	}
	if captured == nil {
		return Help{}, nil
	}
	return captured, nil
}

func newRootCmd(capture func(Invocation)) *cobra.Command {
	root := &cobra.Command{
		Use:   "hoster",
		Short: "Runtime Hoster ledger node",
		Long: `hoster runs a ledger node and the tools that manage its local state.

The run command starts the block database, gossip network, RPC server and
telemetry reporter under one supervisor and stops them in reverse order on
SIGINT or SIGTERM. The remaining commands work on a stopped node's chain data
and keystore.`,
		Version:       version.HosterVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		Example: `  # Start a development validator with a generated name
  hoster run --chain=dev --validator

  # Join an existing network
  hoster run --chain=./spec.json --bootnodes=10.0.0.1:30333

  # Create and store a block production key
  hoster generate-key --key-type=babe
  hoster insert-key --key-type=babe --suri="<phrase>"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return fault.Usage("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		newRunCmd(capture),
		newBuildSpecCmd(capture),
		newPurgeChainCmd(capture),
		newExportBlocksCmd(capture),
		newImportBlocksCmd(capture),
		newRevertCmd(capture),
		newGenerateKeyCmd(capture),
		newInsertKeyCmd(capture),
	)
	return root
}

// Execute runs the hoster command line and returns the process exit status.
func Execute(args []string) int {
	return ExecuteWith(context.Background(), args, DefaultDeps())
}

// ExecuteWith is Execute with explicit process resources.
func ExecuteWith(ctx context.Context, args []string, deps *Deps) int {
	inv, err := Parse(args, deps.Stdout, deps.Stderr)
	if err != nil {
		logging.Error("%v", err)
		return fault.ExitCode(err)
	}
	if _, ok := inv.(Help); ok {
		return fault.ExitOK
	}

	closeLog, err := setupLogging(inv)
	if err != nil {
		logging.Error("%v", err)
		return fault.ExitCode(err)
	}
	defer closeLog()

	if deps.Signal == nil {
		deps.Signal = shutdown.NewSignal()
	}
	force, err := shutdown.ParseForceSignal(forceSignalName(inv))
	if err != nil {
		logging.Error("%v", err)
		return fault.ExitCode(err)
	}
	guard := shutdown.NewGuard(deps.Signal, shutdown.WithExit(deps.Exit), shutdown.WithForceSignal(force))
	guard.Start()
	defer guard.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-deps.Signal.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	err = Dispatch(ctx, inv, deps)
	if err != nil {
		logging.Error("%v", err)
	}
	return fault.ExitCode(err)
}

// Dispatch runs the handler for inv.
func Dispatch(ctx context.Context, inv Invocation, deps *Deps) error {
	switch inv := inv.(type) {
	case *Run:
		return runNode(ctx, inv, deps)
	case *BuildSpec:
		return buildSpec(inv, deps)
	case *PurgeChain:
		return purgeChain(inv, deps)
	case *ExportBlocks:
		return exportBlocks(ctx, inv, deps)
	case *ImportBlocks:
		return importBlocks(ctx, inv, deps)
	case *Revert:
		return revert(inv)
	case *GenerateKey:
		return generateKey(ctx, inv, deps)
	case *InsertKey:
		return insertKey(ctx, inv, deps)
	case Help, *Help:
		return nil
	default:
		return fmt.Errorf("no handler for command %q", inv.Name())
	}
}

// sharedOf returns the chain settings of inv, if it has any.
func sharedOf(inv Invocation) *Shared {
	switch inv := inv.(type) {
	case *Run:
		return &inv.Shared
	case *BuildSpec:
		return &inv.Shared
	case *PurgeChain:
		return &inv.Shared
	case *ExportBlocks:
		return &inv.Shared
	case *ImportBlocks:
		return &inv.Shared
	case *Revert:
		return &inv.Shared
	case *InsertKey:
		return &inv.Shared
	}
	return nil
}

// writesResultToStdout reports whether inv prints data on stdout.
func writesResultToStdout(inv Invocation) bool {
	switch inv := inv.(type) {
	case *BuildSpec:
		return true
	case *ExportBlocks:
		return inv.Output == ""
	}
	return false
}

func forceSignalName(inv Invocation) string {
	if run, ok := inv.(*Run); ok {
		return run.Config.ForceSignal
	}
	return config.Default().ForceSignal
}

// setupLogging resolves the config file and environment layers of inv and
// applies its log level and log file. The returned func closes the log file.
func setupLogging(inv Invocation) (func(), error) {
	noop := func() {}

	// Key generation prints its result on stdout
	if _, ok := inv.(*GenerateKey); ok {
		logging.SuppressOutput()
		return noop, nil
	}

	shared := sharedOf(inv)
	if shared == nil {
		return noop, nil
	}
	cfg := shared.Config
	if err := cfg.Load(shared.ConfigFile); err != nil {
		return noop, err
	}
	if err := cfg.ValidateShared(); err != nil {
		return noop, fault.Config("%v", err)
	}

	logging.MarkConfigured()
	logging.SetLevel(cfg.LogLevel)
	logging.RedirectStandardLog(logging.NewLevelWriter("DEBUG", "stdlib"))

	if cfg.LogFile == "" {
		if writesResultToStdout(inv) {
			logging.UseStderr()
			return logging.RestoreOutput, nil
		}
		return noop, nil
	}

	logDir := filepath.Dir(cfg.LogFile)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return noop, fault.Config("create log directory %s: %w", logDir, err)
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return noop, fault.Config("open log file %s: %w", cfg.LogFile, err)
	}
	logging.SetOutput(f)

	return func() {
		logging.RestoreOutput()
		if err := f.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
		}
	}, nil
}
