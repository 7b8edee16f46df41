// Package keystore stores session keys on disk and implements the key
// commands: generation from a fresh mnemonic, insertion from a secret URI and
// password acquisition.
//
// LAYOUT:
// One file per key under the keystore directory, named hex(tag)+hex(public).
// The file holds a small JSON document with the scheme and either the plain
// seed or its scrypt/secretbox encryption. Writes go to a temporary file in
// the same directory and are renamed into place, so a failed insert never
// leaves a partial entry and never disturbs existing ones.
//
// Operations on one Keystore are serialized.
package keystore

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tristanlee/substrate/internal/fault"
	"github.com/tristanlee/substrate/internal/logging"
)

// entryJSON is the on-disk form of one key.
type entryJSON struct {
	Scheme Scheme      `json:"scheme"`
	SURI   string      `json:"suri,omitempty"`
	Crypto *cryptoJSON `json:"crypto,omitempty"`
}

// Keystore is a directory of key files.
type Keystore struct {
	dir string
	mu  sync.Mutex
}

// Open opens the keystore at dir, creating it with owner-only permissions.
func Open(dir string) (*Keystore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fault.Keystore("create keystore directory: %w", err)
	}
	return &Keystore{dir: dir}, nil
}

// Dir returns the keystore directory.
func (ks *Keystore) Dir() string {
	return ks.dir
}

func fileName(tag string, public []byte) string {
	return hex.EncodeToString([]byte(tag)) + hex.EncodeToString(public)
}

func (ks *Keystore) path(tag string, public []byte) string {
	return filepath.Join(ks.dir, fileName(tag, public))
}

// Insert stores km under key type kt. A non-empty password encrypts the seed.
// Inserting the same key twice is a no-op; an unreadable entry in the way is
// an error and is left untouched.
func (ks *Keystore) Insert(kt KeyType, km *KeyMaterial, password string) error {
	if km == nil || len(km.Public) == 0 {
		return fault.Keystore("no key material to insert")
	}
	if km.Scheme != kt.Scheme {
		return fault.Keystore("key type %s requires a %s key, got %s", kt.Tag, kt.Scheme, km.Scheme)
	}
	if kt.RequiresPassword && password == "" {
		return fault.Credential("key type %s must be stored encrypted", kt.Tag)
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	path := ks.path(kt.Tag, km.Public)
	if existing, err := readEntry(path); err == nil {
		if existing.Scheme == km.Scheme {
			logging.Debug("Key %s/%s already present", kt.Tag, logging.FormatHash(km.PublicHex()))
			return nil
		}
		return fault.Keystore("entry %s exists with scheme %s", filepath.Base(path), existing.Scheme)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fault.Keystore("existing entry %s: %w", filepath.Base(path), err)
	}

	entry := entryJSON{Scheme: km.Scheme}
	if password == "" {
		entry.SURI = km.SeedHex()
	} else {
		sealed, err := encryptSeed(km.Seed, password)
		if err != nil {
			return fault.Keystore("encrypt key: %w", err)
		}
		entry.Crypto = sealed
	}

	content, err := json.Marshal(entry)
	if err != nil {
		return fault.Keystore("encode key: %w", err)
	}
	if err := writeKeyFile(path, content); err != nil {
		return fault.Keystore("write key: %w", err)
	}

	logging.Info("Inserted %s key %s", kt.Tag, logging.FormatHash(km.PublicHex()))
	return nil
}

// Has reports whether a key with the given tag and public key is stored.
func (ks *Keystore) Has(tag string, public []byte) bool {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	_, err := os.Stat(ks.path(tag, public))
	return err == nil
}

// Keys returns the public keys stored under tag, sorted.
func (ks *Keystore) Keys(tag string) ([][]byte, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	entries, err := os.ReadDir(ks.dir)
	if err != nil {
		return nil, fault.Keystore("list keystore: %w", err)
	}

	prefix := hex.EncodeToString([]byte(tag))
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	keys := make([][]byte, 0, len(names))
	for _, name := range names {
		pub, err := hex.DecodeString(name[len(prefix):])
		if err != nil {
			logging.Warn("Ignoring unrecognized keystore file %s", name)
			continue
		}
		keys = append(keys, pub)
	}
	return keys, nil
}

// Load reads and decrypts a stored key.
func (ks *Keystore) Load(tag string, public []byte, password string) (*KeyMaterial, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	entry, err := readEntry(ks.path(tag, public))
	if err != nil {
		return nil, fault.Keystore("read key: %w", err)
	}

	var km *KeyMaterial
	switch {
	case entry.Crypto != nil:
		if password == "" {
			return nil, fault.Credential("key %s is encrypted", fileName(tag, public))
		}
		seed, err := decryptSeed(entry.Crypto, password)
		if err != nil {
			return nil, fault.Keystore("decrypt key: %w", err)
		}
		defer wipe(seed)
		km, err = FromSeed(entry.Scheme, seed)
		if err != nil {
			return nil, err
		}
	default:
		km, err = ParseSURI(entry.Scheme, entry.SURI, "")
		if err != nil {
			return nil, err
		}
	}

	if hex.EncodeToString(km.Public) != hex.EncodeToString(public) {
		km.Zero()
		return nil, fault.Keystore("stored key does not match its file name")
	}
	return km, nil
}

func readEntry(path string) (*entryJSON, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entry entryJSON
	if err := json.Unmarshal(content, &entry); err != nil {
		return nil, fmt.Errorf("corrupt key file: %w", err)
	}
	if entry.SURI == "" && entry.Crypto == nil {
		return nil, fmt.Errorf("corrupt key file: no secret")
	}
	return &entry, nil
}

// writeKeyFile atomically writes content to file with owner-only permissions.
func writeKeyFile(file string, content []byte) error {
	f, err := os.CreateTemp(filepath.Dir(file), "."+filepath.Base(file)+".tmp")
	if err != nil {
		return err
	}
	name := f.Name()

	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(name)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o600); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, file); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}
