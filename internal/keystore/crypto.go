package keystore

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	kdfScrypt    = "scrypt"
	cipherSecret = "xsalsa20-poly1305"
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltSize     = 32
	nonceSize    = 24
)

// scryptN is the scrypt work factor for new entries.
var scryptN = 1 << 15

var errDecrypt = errors.New("could not decrypt key with given password")

// cryptoJSON is the encrypted form of a seed.
type cryptoJSON struct {
	Cipher     string `json:"cipher"`
	KDF        string `json:"kdf"`
	N          int    `json:"n"`
	R          int    `json:"r"`
	P          int    `json:"p"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	CipherText string `json:"ciphertext"`
}

func encryptSeed(seed []byte, password string) (*cryptoJSON, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}

	key, err := deriveKey(password, salt, scryptN, scryptR, scryptP)
	if err != nil {
		return nil, err
	}
	defer wipe(key[:])

	sealed := secretbox.Seal(nil, seed, &nonce, key)
	return &cryptoJSON{
		Cipher:     cipherSecret,
		KDF:        kdfScrypt,
		N:          scryptN,
		R:          scryptR,
		P:          scryptP,
		Salt:       hex.EncodeToString(salt),
		Nonce:      hex.EncodeToString(nonce[:]),
		CipherText: hex.EncodeToString(sealed),
	}, nil
}

func decryptSeed(c *cryptoJSON, password string) ([]byte, error) {
	if c.KDF != kdfScrypt || c.Cipher != cipherSecret {
		return nil, fmt.Errorf("unsupported key encryption %s/%s", c.KDF, c.Cipher)
	}
	salt, err := hex.DecodeString(c.Salt)
	if err != nil {
		return nil, fmt.Errorf("salt: %w", err)
	}
	nonceBytes, err := hex.DecodeString(c.Nonce)
	if err != nil || len(nonceBytes) != nonceSize {
		return nil, fmt.Errorf("malformed nonce")
	}
	sealed, err := hex.DecodeString(c.CipherText)
	if err != nil {
		return nil, fmt.Errorf("ciphertext: %w", err)
	}

	key, err := deriveKey(password, salt, c.N, c.R, c.P)
	if err != nil {
		return nil, err
	}
	defer wipe(key[:])

	var nonce [nonceSize]byte
	copy(nonce[:], nonceBytes)
	seed, ok := secretbox.Open(nil, sealed, &nonce, key)
	if !ok {
		return nil, errDecrypt
	}
	return seed, nil
}

func deriveKey(password string, salt []byte, n, r, p int) (*[scryptKeyLen]byte, error) {
	derived, err := scrypt.Key([]byte(password), salt, n, r, p, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	var key [scryptKeyLen]byte
	copy(key[:], derived)
	wipe(derived)
	return &key, nil
}
