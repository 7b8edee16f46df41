package keystore

import (
	"encoding/hex"
	"strings"

	"github.com/tristanlee/substrate/internal/fault"
)

// ParseSURI parses a secret URI into key material. Accepted forms are a
// mnemonic phrase or a 0x-prefixed 32 byte hex seed. Derivation paths are
// rejected.
func ParseSURI(scheme Scheme, suri, password string) (*KeyMaterial, error) {
	suri = strings.TrimSpace(suri)
	if suri == "" {
		return nil, fault.Keystore("secret URI is empty")
	}
	if strings.Contains(suri, "//") {
		return nil, fault.Keystore("derivation paths are not supported")
	}

	if strings.HasPrefix(suri, "0x") {
		seed, err := hex.DecodeString(suri[2:])
		if err != nil {
			return nil, fault.Keystore("invalid hex seed: %w", err)
		}
		defer wipe(seed)
		if len(seed) != SeedSize {
			return nil, fault.Keystore("hex seed must be %d bytes, got %d", SeedSize, len(seed))
		}
		return FromSeed(scheme, seed)
	}

	if len(strings.Fields(suri)) < 12 {
		return nil, fault.Keystore("secret URI is neither a 0x seed nor a mnemonic phrase")
	}
	return FromPhrase(scheme, suri, password)
}
