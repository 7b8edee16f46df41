// Package config provides configuration management for the hoster command line.
//
// A Config starts life as the flag values cobra parsed for one invocation. Values
// the operator did not set explicitly can then be filled from a TOML file given
// with --config and from environment variables, in that order, before the
// result is validated and resolved into the paths and subsystem settings a
// command needs.
//
// PRECEDENCE (highest first):
//
//	explicit flag  >  environment  >  config file  >  flag default
//
// EXPLICIT OVERRIDE TRACKING:
// Every field a flag can set has a ConfigField. The command layer records which
// flags the operator actually passed, and the file and environment layers only
// touch fields that were not explicitly set.
//
// DIRECTORY LAYOUT:
//
//	<base>/chains/<chain id>/db         block database
//	<base>/chains/<chain id>/keystore   key files
//	<base>/chains/<chain id>/network    node key
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/naoina/toml"

	defaults "github.com/tristanlee/substrate/internal/config"
	"github.com/tristanlee/substrate/internal/fault"
	"github.com/tristanlee/substrate/internal/logging"
)

// ConfigField represents a configuration field that can be explicitly set
type ConfigField int

const (
	ChainField ConfigField = iota
	BasePathField
	LogLevelField
	LogFileField
	NodeNameField
	NodeKeyField
	ValidatorField
	ListenAddrField
	SyncPortField
	BootNodesField
	RPCPortField
	RPCExternalField
	RPCCorsField
	RPCMethodsField
	NoRPCField
	PrometheusField
	TelemetryField
	NoTelemetryField
	GracePeriodField
	AuthorIntervalField
	MaxOpenFilesField
	WorkersField
	ForceSignalField
)

const (
	DefaultListenAddr     = defaults.DefaultBindAddr + ":30333"
	DefaultAuthorInterval = 6 * time.Second
	DefaultRPCMethods     = "auto"

	// EnvDebug=true forces DEBUG logging, as in the reference daemon
	EnvDebug = "DEBUG"
)

// Duration is a time.Duration written as a string such as "10s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Set implements pflag.Value.
func (d *Duration) Set(s string) error {
	return d.UnmarshalText([]byte(s))
}

// Type implements pflag.Value.
func (d *Duration) Type() string {
	return "duration"
}

// Config holds every value a hoster invocation can be configured with. Field
// names double as TOML keys.
type Config struct {
	Chain    string
	BasePath string
	LogLevel string
	LogFile  string

	NodeName  string
	NodeKey   string `toml:",omitempty"` // hex ed25519 seed, generated when empty
	Validator bool

	ListenAddr string   // gossip host:port
	SyncPort   int      // QUIC block sync port
	BootNodes  []string // gossip seeds, added to the chain spec's

	RPCPort     int
	RPCExternal bool
	RPCCors     []string
	RPCMethods  string
	NoRPC       bool
	Prometheus  bool

	TelemetryURLs []string // "URL VERBOSITY"
	NoTelemetry   bool

	GracePeriod    Duration
	AuthorInterval Duration
	MaxOpenFiles   uint64
	Workers        int
	ForceSignal    string

	explicit map[ConfigField]bool
}

// Default returns a configuration holding every flag default.
func Default() *Config {
	return &Config{
		Chain:          defaults.DefaultChain,
		LogLevel:       defaults.DefaultLogLevel,
		ListenAddr:     DefaultListenAddr,
		SyncPort:       defaults.DefaultSyncPort,
		RPCPort:        defaults.DefaultRPCPort,
		RPCMethods:     DefaultRPCMethods,
		GracePeriod:    Duration{defaults.DefaultGracePeriod},
		AuthorInterval: Duration{DefaultAuthorInterval},
		MaxOpenFiles:   defaults.DefaultMaxOpenFiles,
		ForceSignal:    defaults.DefaultForceSignal,
	}
}

// SetExplicitlySet marks a configuration field as explicitly set by the user.
func (c *Config) SetExplicitlySet(field ConfigField, value bool) {
	if c.explicit == nil {
		c.explicit = make(map[ConfigField]bool)
	}
	c.explicit[field] = value
}

// IsExplicitlySet returns whether a configuration field was explicitly set by the user.
func (c *Config) IsExplicitlySet(field ConfigField) bool {
	return c.explicit[field]
}

// TOML keys are the Go field names, as in go-ethereum's config files.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// LoadFile decodes a TOML configuration file.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fault.Config("open config file: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg); err != nil {
		var lineErr *toml.LineError
		if errors.As(err, &lineErr) {
			return nil, fault.Config("%s, %v", path, err)
		}
		return nil, fault.Config("decode config file %s: %w", path, err)
	}
	return &cfg, nil
}

// fileFields copies one field from a config file when the file sets it.
var fileFields = []struct {
	field ConfigField
	apply func(dst, src *Config)
}{
	{ChainField, func(d, s *Config) { setString(&d.Chain, s.Chain) }},
	{BasePathField, func(d, s *Config) { setString(&d.BasePath, s.BasePath) }},
	{LogLevelField, func(d, s *Config) { setString(&d.LogLevel, s.LogLevel) }},
	{LogFileField, func(d, s *Config) { setString(&d.LogFile, s.LogFile) }},
	{NodeNameField, func(d, s *Config) { setString(&d.NodeName, s.NodeName) }},
	{NodeKeyField, func(d, s *Config) { setString(&d.NodeKey, s.NodeKey) }},
	{ValidatorField, func(d, s *Config) { d.Validator = d.Validator || s.Validator }},
	{ListenAddrField, func(d, s *Config) { setString(&d.ListenAddr, s.ListenAddr) }},
	{SyncPortField, func(d, s *Config) { setInt(&d.SyncPort, s.SyncPort) }},
	{BootNodesField, func(d, s *Config) { setList(&d.BootNodes, s.BootNodes) }},
	{RPCPortField, func(d, s *Config) { setInt(&d.RPCPort, s.RPCPort) }},
	{RPCExternalField, func(d, s *Config) { d.RPCExternal = d.RPCExternal || s.RPCExternal }},
	{RPCCorsField, func(d, s *Config) { setList(&d.RPCCors, s.RPCCors) }},
	{RPCMethodsField, func(d, s *Config) { setString(&d.RPCMethods, s.RPCMethods) }},
	{NoRPCField, func(d, s *Config) { d.NoRPC = d.NoRPC || s.NoRPC }},
	{PrometheusField, func(d, s *Config) { d.Prometheus = d.Prometheus || s.Prometheus }},
	{TelemetryField, func(d, s *Config) { setList(&d.TelemetryURLs, s.TelemetryURLs) }},
	{NoTelemetryField, func(d, s *Config) { d.NoTelemetry = d.NoTelemetry || s.NoTelemetry }},
	{GracePeriodField, func(d, s *Config) { setDuration(&d.GracePeriod, s.GracePeriod) }},
	{AuthorIntervalField, func(d, s *Config) { setDuration(&d.AuthorInterval, s.AuthorInterval) }},
	{MaxOpenFilesField, func(d, s *Config) {
		if s.MaxOpenFiles != 0 {
			d.MaxOpenFiles = s.MaxOpenFiles
		}
	}},
	{WorkersField, func(d, s *Config) { setInt(&d.Workers, s.Workers) }},
	{ForceSignalField, func(d, s *Config) { setString(&d.ForceSignal, s.ForceSignal) }},
}

// MergeFile fills every field the operator did not set explicitly with the
// value from file, when file sets one.
func (c *Config) MergeFile(file *Config) {
	for _, f := range fileFields {
		if c.IsExplicitlySet(f.field) {
			continue
		}
		f.apply(c, file)
	}
}

// ApplyEnv applies environment overrides to fields not set explicitly.
func (c *Config) ApplyEnv() {
	if !c.IsExplicitlySet(LogLevelField) {
		if os.Getenv(EnvDebug) == "true" {
			c.LogLevel = "DEBUG"
			logging.Info("DEBUG environment variable detected, setting log level to DEBUG")
		} else if v := os.Getenv(defaults.EnvLogLevel); v != "" {
			c.LogLevel = v
			logging.Debug("%s environment variable detected, setting log level to %s", defaults.EnvLogLevel, v)
		}
	}

	if !c.IsExplicitlySet(BasePathField) {
		if v := os.Getenv(defaults.EnvBasePath); v != "" {
			c.BasePath = v
			logging.Debug("%s environment variable detected, using base path %s", defaults.EnvBasePath, v)
		}
	}
}

// Load runs the file and environment layers: the file named by path (when not
// empty) is merged first, then the environment.
func (c *Config) Load(path string) error {
	if path != "" {
		file, err := LoadFile(path)
		if err != nil {
			return err
		}
		c.MergeFile(file)
		logging.Debug("Loaded configuration from %s", path)
	}
	c.ApplyEnv()
	return nil
}

// ResolvedBasePath returns the base path, falling back to the platform default.
func (c *Config) ResolvedBasePath() string {
	if c.BasePath != "" {
		return c.BasePath
	}
	return defaults.DefaultBasePath()
}

// ChainDir returns the directory holding everything of one chain.
func ChainDir(basePath, chainID string) string {
	return filepath.Join(basePath, "chains", chainID)
}

// KeystoreDir returns the key file directory of a chain.
func KeystoreDir(chainDir string) string {
	return filepath.Join(chainDir, "keystore")
}

// NetworkDir returns the directory holding the node key of a chain.
func NetworkDir(chainDir string) string {
	return filepath.Join(chainDir, "network")
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setList(dst *[]string, v []string) {
	if len(v) > 0 {
		*dst = append([]string(nil), v...)
	}
}

func setDuration(dst *Duration, v Duration) {
	if v.Duration != 0 {
		*dst = v
	}
}
