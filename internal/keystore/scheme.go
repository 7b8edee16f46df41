package keystore

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
	"github.com/oasisprotocol/curve25519-voi/primitives/sr25519"
	blst "github.com/supranational/blst/bindings/go"

	"github.com/tristanlee/substrate/internal/fault"
	"github.com/tristanlee/substrate/internal/validate"
)

// SeedSize is the length of every secret seed regardless of scheme.
const SeedSize = 32

// Scheme is a signature scheme a key can be derived for.
type Scheme string

const (
	Sr25519 Scheme = "sr25519"
	Ed25519 Scheme = "ed25519"
	BLS     Scheme = "bls"
)

// ParseScheme resolves a scheme name. Matching is case-insensitive.
func ParseScheme(name string) (Scheme, error) {
	switch Scheme(strings.ToLower(strings.TrimSpace(name))) {
	case Sr25519:
		return Sr25519, nil
	case Ed25519:
		return Ed25519, nil
	case BLS, "bls12-381", "bls12381":
		return BLS, nil
	}
	return "", fault.Usage("unknown key scheme %q (expected sr25519, ed25519 or bls)", name)
}

// publicFromSeed derives the public key for seed.
func (s Scheme) publicFromSeed(seed []byte) ([]byte, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}

	switch s {
	case Sr25519:
		msk, err := sr25519.NewMiniSecretKeyFromBytes(seed)
		if err != nil {
			return nil, err
		}
		return msk.ExpandEd25519().PublicKey().MarshalBinary()

	case Ed25519:
		priv := ed25519.NewKeyFromSeed(seed)
		pub := priv.Public().(ed25519.PublicKey)
		return []byte(pub), nil

	case BLS:
		secret := blst.KeyGen(seed)
		if secret == nil {
			return nil, fmt.Errorf("bls key generation failed")
		}
		defer secret.Zeroize()
		return new(blst.P1Affine).From(secret).Compress(), nil
	}

	return nil, fmt.Errorf("unsupported scheme %q", s)
}

// KeyType describes a four character key type tag and the scheme its keys use.
type KeyType struct {
	Tag              string
	Scheme           Scheme
	RequiresPassword bool
	Description      string
}

var keyTypes = map[string]KeyType{
	"babe": {Tag: "babe", Scheme: Sr25519, Description: "block production"},
	"gran": {Tag: "gran", Scheme: Ed25519, Description: "finality voting"},
	"imon": {Tag: "imon", Scheme: Sr25519, Description: "liveness heartbeats"},
	"audi": {Tag: "audi", Scheme: Sr25519, Description: "authority discovery"},
	"acco": {Tag: "acco", Scheme: Sr25519, RequiresPassword: true, Description: "account"},
	"blsv": {Tag: "blsv", Scheme: BLS, RequiresPassword: true, Description: "aggregate signing"},
}

// LookupKeyType returns the registered key type for tag.
func LookupKeyType(tag string) (KeyType, error) {
	if err := validate.KeyTypeTag(tag); err != nil {
		return KeyType{}, fault.Usage("invalid key type %q: %v", tag, err)
	}
	kt, ok := keyTypes[tag]
	if !ok {
		return KeyType{}, fault.Usage("unknown key type %q (known: %s)", tag, strings.Join(KeyTypeTags(), ", "))
	}
	return kt, nil
}

// KeyTypeTags lists the registered tags in sorted order.
func KeyTypeTags() []string {
	tags := make([]string, 0, len(keyTypes))
	for tag := range keyTypes {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// KeyMaterial is a secret seed with its derived public key. Callers holding
// one must defer Zero.
type KeyMaterial struct {
	Scheme Scheme
	Seed   []byte
	Public []byte
}

// FromSeed derives key material for scheme from a 32 byte seed. The seed is
// copied.
func FromSeed(scheme Scheme, seed []byte) (*KeyMaterial, error) {
	pub, err := scheme.publicFromSeed(seed)
	if err != nil {
		return nil, fault.Keystore("derive %s key: %w", scheme, err)
	}
	return &KeyMaterial{
		Scheme: scheme,
		Seed:   append([]byte(nil), seed...),
		Public: pub,
	}, nil
}

// PublicHex returns the 0x-prefixed public key.
func (k *KeyMaterial) PublicHex() string {
	return "0x" + hex.EncodeToString(k.Public)
}

// SeedHex returns the 0x-prefixed secret seed.
func (k *KeyMaterial) SeedHex() string {
	return "0x" + hex.EncodeToString(k.Seed)
}

// Zero wipes the secret seed.
func (k *KeyMaterial) Zero() {
	if k == nil {
		return
	}
	for i := range k.Seed {
		k.Seed[i] = 0
	}
}
