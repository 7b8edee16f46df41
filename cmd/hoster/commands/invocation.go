package commands

import (
	"github.com/tristanlee/substrate/cmd/hoster/config"
	"github.com/tristanlee/substrate/internal/keystore"
)

// Invocation is one parsed hoster command. Exactly one is produced per process
// and it is never modified after parsing.
type Invocation interface {
	Name() string
}

// Shared carries the settings common to every chain command and the config
// file they may be merged with.
type Shared struct {
	Config     *config.Config
	ConfigFile string
}

// Run starts a full node.
type Run struct {
	Shared
}

// BuildSpec prints the chain specification.
type BuildSpec struct {
	Shared
	Raw bool
}

// PurgeChain deletes the block database.
type PurgeChain struct {
	Shared
	Yes bool
}

// ExportBlocks writes blocks to a file or stdout.
type ExportBlocks struct {
	Shared
	From   uint64
	To     *uint64
	Binary bool
	Output string // empty for stdout
}

// ImportBlocks reads blocks from a file or stdin.
type ImportBlocks struct {
	Shared
	Binary bool
	Input string // empty for stdin
}

// Revert removes blocks from the tip of the chain.
type Revert struct {
	Shared
	Blocks uint64
}

// GenerateKey creates a new mnemonic and prints the key it derives.
type GenerateKey struct {
	Scheme   keystore.Scheme
	Words    int
	KeyType  string // optional, selects scheme and password policy
	Password keystore.PasswordSource
	JSON     bool
}

// InsertKey stores a key in the chain's keystore.
type InsertKey struct {
	Shared
	KeyType  string
	SURI     string
	Scheme   keystore.Scheme // empty selects the key type's scheme
	Password keystore.PasswordSource
}

// Help is produced when help or version output was printed instead of a
// command.
type Help struct{}

func (Run) Name() string          { return "run" }
func (BuildSpec) Name() string    { return "build-spec" }
func (PurgeChain) Name() string   { return "purge-chain" }
func (ExportBlocks) Name() string { return "export-blocks" }
func (ImportBlocks) Name() string { return "import-blocks" }
func (Revert) Name() string       { return "revert" }
func (GenerateKey) Name() string  { return "generate-key" }
func (InsertKey) Name() string    { return "insert-key" }
func (Help) Name() string         { return "help" }
