// Package chainspec loads the chain specification a node runs against: the
// built-in "dev" and "local" chains or a JSON document on disk.
package chainspec

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/tristanlee/substrate/internal/fault"
	"github.com/tristanlee/substrate/internal/validate"
)

// ChainType classifies how a chain is meant to be used.
type ChainType string

const (
	Development ChainType = "Development"
	Local       ChainType = "Local"
	Live        ChainType = "Live"
)

// Authority is an initial block author listed in genesis.
type Authority struct {
	Name   string `json:"name"`
	Public string `json:"public"`
}

// Genesis is the content of block zero.
type Genesis struct {
	Timestamp   uint64      `json:"timestamp"`
	ExtraData   string      `json:"extraData,omitempty"`
	Authorities []Authority `json:"authorities"`
}

// Spec is a chain specification.
type Spec struct {
	Name               string            `json:"name"`
	ID                 string            `json:"id"`
	ChainType          ChainType         `json:"chainType"`
	BootNodes          []string          `json:"bootNodes"`
	TelemetryEndpoints []string          `json:"telemetryEndpoints,omitempty"`
	ProtocolID         string            `json:"protocolId,omitempty"`
	Properties         map[string]any    `json:"properties,omitempty"`
	Genesis            Genesis           `json:"genesis"`
	GenesisHashHex     string            `json:"genesisHash,omitempty"`
	Extensions         map[string]string `json:"extensions,omitempty"`
}

var builtins = map[string]func() *Spec{
	"dev":   devSpec,
	"local": localSpec,
}

func devSpec() *Spec {
	return &Spec{
		Name:       "Development",
		ID:         "dev",
		ChainType:  Development,
		BootNodes:  []string{},
		ProtocolID: "hoster-dev",
		Properties: map[string]any{"tokenSymbol": "UNIT", "tokenDecimals": 12},
		Genesis: Genesis{
			Timestamp:   0,
			ExtraData:   "development",
			Authorities: []Authority{{Name: "alice"}},
		},
	}
}

func localSpec() *Spec {
	return &Spec{
		Name:       "Local Testnet",
		ID:         "local_testnet",
		ChainType:  Local,
		BootNodes:  []string{},
		ProtocolID: "hoster-local",
		Properties: map[string]any{"tokenSymbol": "UNIT", "tokenDecimals": 12},
		Genesis: Genesis{
			Timestamp:   0,
			ExtraData:   "local testnet",
			Authorities: []Authority{{Name: "alice"}, {Name: "bob"}},
		},
	}
}

// Builtins lists the names of the built-in chains.
func Builtins() []string {
	return []string{"dev", "local"}
}

// Load resolves a chain identifier. Built-in names win over file paths; an
// empty identifier selects "dev".
func Load(chain string) (*Spec, error) {
	chain = strings.TrimSpace(chain)
	if chain == "" {
		chain = "dev"
	}
	if build, ok := builtins[chain]; ok {
		return build(), nil
	}

	content, err := os.ReadFile(chain)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fault.Config("unknown chain %q: not a built-in chain (%s) and no such file", chain, strings.Join(Builtins(), ", "))
		}
		return nil, fault.Config("read chain spec %s: %w", chain, err)
	}
	return Parse(content)
}

// Parse decodes and validates a JSON chain spec.
func Parse(content []byte) (*Spec, error) {
	var spec Spec
	if err := json.Unmarshal(content, &spec); err != nil {
		return nil, fault.Config("decode chain spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if spec.GenesisHashHex != "" && spec.GenesisHashHex != spec.GenesisHashString() {
		return nil, fault.Config("chain spec %s: genesis hash %s does not match its genesis (%s)",
			spec.ID, spec.GenesisHashHex, spec.GenesisHashString())
	}
	return &spec, nil
}

// Validate checks the fields every spec needs.
func (s *Spec) Validate() error {
	if err := validate.ValidateRequiredString(s.Name, "name"); err != nil {
		return fault.Config("chain spec: %w", err)
	}
	if err := validate.ValidateRequiredString(s.ID, "id"); err != nil {
		return fault.Config("chain spec: %w", err)
	}
	switch s.ChainType {
	case Development, Local, Live:
	case "":
		s.ChainType = Live
	default:
		return fault.Config("chain spec %s: unknown chain type %q", s.ID, s.ChainType)
	}
	if len(s.BootNodes) > 0 {
		if err := validate.ValidateAddressList(s.BootNodes); err != nil {
			return fault.Config("chain spec %s: boot nodes: %w", s.ID, err)
		}
	}
	for _, raw := range s.TelemetryEndpoints {
		if _, err := validate.ParseTelemetryEndpoint(raw); err != nil {
			return fault.Config("chain spec %s: %w", s.ID, err)
		}
	}
	return nil
}

// GenesisHash returns the blake3 hash of the canonical genesis encoding:
// chain id, timestamp, extra data and authority names and keys, each
// length-prefixed.
func (s *Spec) GenesisHash() [32]byte {
	h := blake3.New()

	writeField := func(b []byte) {
		var size [4]byte
		binary.BigEndian.PutUint32(size[:], uint32(len(b)))
		h.Write(size[:])
		h.Write(b)
	}

	writeField([]byte(s.ID))
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], s.Genesis.Timestamp)
	h.Write(ts[:])
	writeField([]byte(s.Genesis.ExtraData))
	for _, a := range s.Genesis.Authorities {
		writeField([]byte(a.Name))
		writeField([]byte(a.Public))
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// GenesisHashString returns the 0x-prefixed genesis hash.
func (s *Spec) GenesisHashString() string {
	hash := s.GenesisHash()
	return "0x" + hex.EncodeToString(hash[:])
}

// JSON renders the spec. raw includes the computed genesis hash.
func (s *Spec) JSON(raw bool) ([]byte, error) {
	out := *s
	out.GenesisHashHex = ""
	if raw {
		out.GenesisHashHex = s.GenesisHashString()
	}
	b, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode chain spec: %w", err)
	}
	return b, nil
}
