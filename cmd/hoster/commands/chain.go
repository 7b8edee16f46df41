package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tristanlee/substrate/cmd/hoster/config"
	"github.com/tristanlee/substrate/internal/chainspec"
	"github.com/tristanlee/substrate/internal/client"
	defaults "github.com/tristanlee/substrate/internal/config"
	"github.com/tristanlee/substrate/internal/fault"
	"github.com/tristanlee/substrate/internal/logging"
	"github.com/tristanlee/substrate/internal/validate"
)

// sharedRunE records explicit flags before capturing inv.
func sharedRunE(shared *Shared, inv Invocation, capture func(Invocation)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		CheckExplicitFlags(cmd, shared.Config)
		capture(inv)
		return nil
	}
}

func newBuildSpecCmd(capture func(Invocation)) *cobra.Command {
	inv := &BuildSpec{Shared: Shared{Config: config.Default()}}

	cmd := &cobra.Command{
		Use:   "build-spec",
		Short: "Print the chain specification as JSON",
		Args:  cobra.NoArgs,
		RunE:  sharedRunE(&inv.Shared, inv, capture),
	}
	setupSharedFlags(cmd, &inv.Shared)
	cmd.Flags().BoolVar(&inv.Raw, "raw", false,
		"Include the computed genesis hash")
	return cmd
}

func newPurgeChainCmd(capture func(Invocation)) *cobra.Command {
	inv := &PurgeChain{Shared: Shared{Config: config.Default()}}

	cmd := &cobra.Command{
		Use:   "purge-chain",
		Short: "Delete the block database of a chain",
		Long: `Delete the block database of a chain. The keystore and the network
identity are kept. The node must be stopped.`,
		Args: cobra.NoArgs,
		RunE: sharedRunE(&inv.Shared, inv, capture),
	}
	setupSharedFlags(cmd, &inv.Shared)
	cmd.Flags().BoolVarP(&inv.Yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func newExportBlocksCmd(capture func(Invocation)) *cobra.Command {
	inv := &ExportBlocks{Shared: Shared{Config: config.Default()}}
	var to uint64

	cmd := &cobra.Command{
		Use:   "export-blocks [OUTPUT]",
		Short: "Export blocks to a file or stdout",
		Long: `Export canonical blocks as JSON lines, or as length-prefixed binary with
--binary. An OUTPUT ending in .zst is zstd compressed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			CheckExplicitFlags(cmd, inv.Config)
			if cmd.Flags().Changed("to") {
				inv.To = &to
			}
			if err := validate.ValidateBlockRange(inv.From, inv.To); err != nil {
				return fault.Usage("%v", err)
			}
			if len(args) == 1 {
				inv.Output = args[0]
			}
			capture(inv)
			return nil
		},
	}
	setupSharedFlags(cmd, &inv.Shared)
	cmd.Flags().Uint64Var(&inv.From, "from", 0, "First block to export")
	cmd.Flags().Uint64Var(&to, "to", 0, "Last block to export (default: best block)")
	cmd.Flags().BoolVar(&inv.Binary, "binary", false, "Write length-prefixed binary instead of JSON lines")
	return cmd
}

func newImportBlocksCmd(capture func(Invocation)) *cobra.Command {
	inv := &ImportBlocks{Shared: Shared{Config: config.Default()}}

	cmd := &cobra.Command{
		Use:   "import-blocks [INPUT]",
		Short: "Import blocks from a file or stdin",
		Long: `Import blocks written by export-blocks. Blocks already in the chain are
skipped and compressed input is detected automatically.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			CheckExplicitFlags(cmd, inv.Config)
			if len(args) == 1 {
				inv.Input = args[0]
			}
			capture(inv)
			return nil
		},
	}
	setupSharedFlags(cmd, &inv.Shared)
	cmd.Flags().BoolVar(&inv.Binary, "binary", false, "Read length-prefixed binary instead of JSON lines")
	return cmd
}

func newRevertCmd(capture func(Invocation)) *cobra.Command {
	inv := &Revert{Shared: Shared{Config: config.Default()}, Blocks: defaults.DefaultRevertBlocks}

	cmd := &cobra.Command{
		Use:   "revert [N]",
		Short: "Remove the last N blocks from the chain",
		Long: fmt.Sprintf(`Remove the last N blocks (default %d) from the tip of the chain. The
genesis block is never removed.`, defaults.DefaultRevertBlocks),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			CheckExplicitFlags(cmd, inv.Config)
			if len(args) == 1 {
				n, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fault.Usage("invalid block count %q", args[0])
				}
				inv.Blocks = n
			}
			capture(inv)
			return nil
		},
	}
	setupSharedFlags(cmd, &inv.Shared)
	return cmd
}

func buildSpec(inv *BuildSpec, deps *Deps) error {
	spec, err := chainspec.Load(inv.Config.Chain)
	if err != nil {
		return err
	}
	out, err := spec.JSON(inv.Raw)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(deps.Stdout, string(out))
	return err
}

func chainDirOf(cfg *config.Config) (*chainspec.Spec, string, error) {
	spec, err := chainspec.Load(cfg.Chain)
	if err != nil {
		return nil, "", err
	}
	return spec, config.ChainDir(cfg.ResolvedBasePath(), spec.ID), nil
}

// openClient opens the block database of the configured chain.
func openClient(cfg *config.Config) (*client.Client, error) {
	spec, chainDir, err := chainDirOf(cfg)
	if err != nil {
		return nil, err
	}
	return client.Open(spec, chainDir)
}

func closeClient(c *client.Client) {
	if err := c.Shutdown(); err != nil {
		logging.Warn("%v", err)
	}
}

func purgeChain(inv *PurgeChain, deps *Deps) error {
	_, chainDir, err := chainDirOf(inv.Config)
	if err != nil {
		return err
	}
	dbPath := client.DatabasePath(chainDir)

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		logging.Info("%s does not exist", dbPath)
		return nil
	}

	if !inv.Yes {
		fmt.Fprintf(deps.Stdout, "Are you sure to remove %q? [y/N]: ", dbPath)
		answer, err := bufio.NewReader(deps.Stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("read confirmation: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
		default:
			logging.Info("Aborted")
			return nil
		}
	}

	removed, err := client.Purge(chainDir)
	if err != nil {
		return err
	}
	if removed {
		logging.Success("%s removed", dbPath)
	} else {
		logging.Info("%s does not exist", dbPath)
	}
	return nil
}

func exportBlocks(ctx context.Context, inv *ExportBlocks, deps *Deps) error {
	c, err := openClient(inv.Config)
	if err != nil {
		return err
	}
	defer closeClient(c)

	var w io.Writer = deps.Stdout
	var closers []io.Closer
	// Closed in reverse on the error path; the success path closes explicitly
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	if inv.Output != "" {
		f, err := os.Create(inv.Output)
		if err != nil {
			return fault.Config("create %s: %w", inv.Output, err)
		}
		closers = append(closers, f)
		w = f

		if strings.HasSuffix(inv.Output, ".zst") {
			zw, err := client.NewCompressedWriter(f)
			if err != nil {
				return err
			}
			closers = append(closers, zw)
			w = zw
		}
	}

	stats, err := c.Export(ctx, w, inv.From, inv.To, inv.Binary)
	if err != nil {
		return fmt.Errorf("export blocks: %w", err)
	}
	if err := flushOutput(inv.Output, closers); err != nil {
		return err
	}
	closers = nil

	logging.Success("Exported %s blocks (%s)",
		humanize.Comma(int64(stats.Blocks)), humanize.Bytes(stats.Bytes))
	return nil
}

// flushOutput closes the writers of an export, innermost first, and returns
// the first error. Every writer is closed even when an earlier one fails.
func flushOutput(path string, closers []io.Closer) error {
	var first error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil && first == nil {
			first = fmt.Errorf("flush %s: %w", path, err)
		}
	}
	return first
}

func importBlocks(ctx context.Context, inv *ImportBlocks, deps *Deps) error {
	c, err := openClient(inv.Config)
	if err != nil {
		return err
	}
	defer closeClient(c)

	r := deps.Stdin
	if inv.Input != "" {
		f, err := os.Open(inv.Input)
		if err != nil {
			return fault.Config("open %s: %w", inv.Input, err)
		}
		defer f.Close()
		r = f
	}

	stats, err := c.Import(ctx, r, inv.Binary)
	if err != nil {
		return fmt.Errorf("import blocks: %w", err)
	}
	info := c.Info()
	logging.Success("Imported %s blocks, skipped %s (%s), best #%d %s",
		humanize.Comma(int64(stats.Imported)), humanize.Comma(int64(stats.Skipped)),
		humanize.Bytes(stats.Bytes), info.BestNumber, logging.FormatHash(info.BestHash.String()))
	return nil
}

func revert(inv *Revert) error {
	c, err := openClient(inv.Config)
	if err != nil {
		return err
	}
	defer closeClient(c)

	removed, err := c.Revert(inv.Blocks)
	if err != nil {
		return err
	}
	info := c.Info()
	logging.Success("Reverted %d blocks, best is now #%d %s",
		removed, info.BestNumber, logging.FormatHash(info.BestHash.String()))
	return nil
}
