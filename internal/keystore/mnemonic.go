package keystore

import (
	"crypto/sha512"
	"strings"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/pbkdf2"

	"github.com/tristanlee/substrate/internal/fault"
)

const (
	mnemonicSaltPrefix = "mnemonic"
	mnemonicRounds     = 2048
)

// entropyBits maps phrase length to entropy size.
var entropyBits = map[int]int{
	12: 128,
	15: 160,
	18: 192,
	21: 224,
	24: 256,
}

// Generate creates a fresh mnemonic and the key it derives under password.
// The phrase is returned to the caller for display and is never persisted.
func Generate(scheme Scheme, words int, password string) (string, *KeyMaterial, error) {
	bits, ok := entropyBits[words]
	if !ok {
		return "", nil, fault.Usage("invalid word count %d (expected 12, 15, 18, 21 or 24)", words)
	}

	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", nil, fault.Keystore("generate entropy: %w", err)
	}
	defer wipe(entropy)

	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", nil, fault.Keystore("encode mnemonic: %w", err)
	}

	km, err := fromEntropy(scheme, entropy, password)
	if err != nil {
		return "", nil, err
	}
	return phrase, km, nil
}

// FromPhrase derives the key for a mnemonic phrase.
func FromPhrase(scheme Scheme, phrase, password string) (*KeyMaterial, error) {
	normalized := strings.Join(strings.Fields(phrase), " ")
	entropy, err := bip39.EntropyFromMnemonic(normalized)
	if err != nil {
		return nil, fault.Keystore("invalid mnemonic phrase: %w", err)
	}
	defer wipe(entropy)

	return fromEntropy(scheme, entropy, password)
}

// fromEntropy stretches mnemonic entropy into a mini secret. Unlike BIP-39
// seeds the entropy, not the phrase text, is the PBKDF2 input.
func fromEntropy(scheme Scheme, entropy []byte, password string) (*KeyMaterial, error) {
	seed := pbkdf2.Key(entropy, []byte(mnemonicSaltPrefix+password), mnemonicRounds, 64, sha512.New)
	defer wipe(seed)

	return FromSeed(scheme, seed[:SeedSize])
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
