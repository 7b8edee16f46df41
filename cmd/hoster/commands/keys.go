package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tristanlee/substrate/cmd/hoster/config"
	"github.com/tristanlee/substrate/internal/fault"
	"github.com/tristanlee/substrate/internal/keystore"
	"github.com/tristanlee/substrate/internal/logging"
)

func newGenerateKeyCmd(capture func(Invocation)) *cobra.Command {
	inv := &GenerateKey{}
	var scheme, output string

	cmd := &cobra.Command{
		Use:   "generate-key",
		Short: "Generate a mnemonic phrase and print the key it derives",
		Long: `Generate a new mnemonic phrase and print it with the seed and public key it
derives. Nothing is written to disk. A --key-type selects the scheme of that
key type and enforces its password policy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := keystore.ParseScheme(scheme)
			if err != nil {
				return err
			}
			inv.Scheme = s

			if inv.KeyType != "" {
				kt, err := keystore.LookupKeyType(inv.KeyType)
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("scheme") && s != kt.Scheme {
					return fault.Usage("key type %s uses %s keys, not %s", kt.Tag, kt.Scheme, s)
				}
				inv.Scheme = kt.Scheme
			}

			switch strings.ToLower(output) {
			case "text":
			case "json":
				inv.JSON = true
			default:
				return fault.Usage("invalid output format %q (expected text or json)", output)
			}
			capture(inv)
			return nil
		},
	}

	cmd.Flags().StringVar(&scheme, "scheme", string(keystore.Sr25519),
		"Signature scheme: sr25519, ed25519, bls")
	cmd.Flags().IntVarP(&inv.Words, "words", "w", 12,
		"Number of mnemonic words: 12, 15, 18, 21 or 24")
	cmd.Flags().StringVar(&inv.KeyType, "key-type", "",
		"Key type the key is for, e.g. babe or gran (selects the scheme)")
	cmd.Flags().StringVarP(&output, "output", "o", "text",
		"Output format: text, json")
	setupPasswordFlags(cmd, &inv.Password)
	return cmd
}

func newInsertKeyCmd(capture func(Invocation)) *cobra.Command {
	inv := &InsertKey{Shared: Shared{Config: config.Default()}}
	var scheme string

	cmd := &cobra.Command{
		Use:   "insert-key",
		Short: "Store a key in the keystore of a chain",
		Long: `Store a key in the keystore of a chain. The secret URI is a mnemonic
phrase or a 0x-prefixed 32 byte hex seed. Key types that require a password
are encrypted with it.`,
		Example: `  hoster insert-key --chain=dev --key-type=babe --suri="<phrase>"
  hoster insert-key --key-type=acco --suri=0x<seed> --password-filename=./pw`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			CheckExplicitFlags(cmd, inv.Config)
			kt, err := keystore.LookupKeyType(inv.KeyType)
			if err != nil {
				return err
			}
			inv.Scheme = kt.Scheme
			if scheme != "" {
				s, err := keystore.ParseScheme(scheme)
				if err != nil {
					return err
				}
				if s != kt.Scheme {
					return fault.Usage("key type %s uses %s keys, not %s", kt.Tag, kt.Scheme, s)
				}
			}
			capture(inv)
			return nil
		},
	}

	setupSharedFlags(cmd, &inv.Shared)
	cmd.Flags().StringVar(&inv.KeyType, "key-type", "",
		"Four character key type, e.g. babe, gran, acco")
	cmd.Flags().StringVar(&inv.SURI, "suri", "",
		"Secret URI: mnemonic phrase or 0x hex seed")
	cmd.Flags().StringVar(&scheme, "scheme", "",
		"Signature scheme (default: the key type's scheme)")
	_ = cmd.MarkFlagRequired("key-type")
	_ = cmd.MarkFlagRequired("suri")
	setupPasswordFlags(cmd, &inv.Password)
	return cmd
}

// generatedKey is the JSON form of generate-key output.
type generatedKey struct {
	Phrase    string `json:"secretPhrase"`
	Seed      string `json:"secretSeed"`
	PublicKey string `json:"publicKey"`
	Scheme    string `json:"scheme"`
	KeyType   string `json:"keyType,omitempty"`
}

func generateKey(ctx context.Context, inv *GenerateKey, deps *Deps) error {
	required := false
	if inv.KeyType != "" {
		kt, err := keystore.LookupKeyType(inv.KeyType)
		if err != nil {
			return err
		}
		required = kt.RequiresPassword
	}

	password, err := keystore.ResolvePassword(ctx, inv.Password, required, deps.Prompter)
	if err != nil {
		return err
	}

	phrase, km, err := keystore.Generate(inv.Scheme, inv.Words, password)
	if err != nil {
		return err
	}
	defer km.Zero()

	out := generatedKey{
		Phrase:    phrase,
		Seed:      km.SeedHex(),
		PublicKey: km.PublicHex(),
		Scheme:    string(inv.Scheme),
		KeyType:   inv.KeyType,
	}

	if inv.JSON {
		enc := json.NewEncoder(deps.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(deps.Stdout, "Secret phrase:  %s\n", out.Phrase)
	fmt.Fprintf(deps.Stdout, "Secret seed:    %s\n", out.Seed)
	fmt.Fprintf(deps.Stdout, "Public key:     %s\n", out.PublicKey)
	fmt.Fprintf(deps.Stdout, "Scheme:         %s\n", out.Scheme)
	if out.KeyType != "" {
		fmt.Fprintf(deps.Stdout, "Key type:       %s\n", out.KeyType)
	}
	return nil
}

func insertKey(ctx context.Context, inv *InsertKey, deps *Deps) error {
	kt, err := keystore.LookupKeyType(inv.KeyType)
	if err != nil {
		return err
	}

	password, err := keystore.ResolvePassword(ctx, inv.Password, kt.RequiresPassword, deps.Prompter)
	if err != nil {
		return err
	}

	km, err := keystore.ParseSURI(inv.Scheme, inv.SURI, password)
	if err != nil {
		return err
	}
	defer km.Zero()

	_, chainDir, err := chainDirOf(inv.Config)
	if err != nil {
		return err
	}
	ks, err := keystore.Open(config.KeystoreDir(chainDir))
	if err != nil {
		return err
	}
	if err := ks.Insert(kt, km, password); err != nil {
		return err
	}

	logging.Success("Stored %s key %s in %s", kt.Tag, km.PublicHex(), ks.Dir())
	return nil
}
