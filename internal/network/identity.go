package network

import (
	stded25519 "crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
)

// NodeKeyFileName is the node key file inside the network directory.
const NodeKeyFileName = "secret_ed25519"

// Identity is the node's long-lived ed25519 network key.
type Identity struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// NewIdentity derives an identity from a 32 byte seed.
func NewIdentity(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("node key must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Identity{private: priv, public: priv.Public().(ed25519.PublicKey)}, nil
}

// ParseNodeKey parses a hex node key, with or without 0x prefix.
func ParseNodeKey(s string) (*Identity, error) {
	seed, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid node key: %w", err)
	}
	return NewIdentity(seed)
}

// LoadOrCreateIdentity reads the node key at path, generating and persisting
// a new one when the file does not exist.
func LoadOrCreateIdentity(path string) (*Identity, error) {
	content, err := os.ReadFile(path)
	if err == nil {
		return ParseNodeKey(string(content))
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read node key: %w", err)
	}

	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, fmt.Errorf("generate node key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create network directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(seed)), 0o600); err != nil {
		return nil, fmt.Errorf("write node key: %w", err)
	}
	return NewIdentity(seed)
}

// PeerID returns the hex public key that names this node to peers.
func (id *Identity) PeerID() string {
	return hex.EncodeToString(id.public)
}

// Sign signs msg with the node key.
func (id *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.private, msg)
}

// Verify checks a signature made by the holder of the hex peer id.
func Verify(peerID string, msg, sig []byte) bool {
	pub, err := hex.DecodeString(peerID)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}

// certificate creates a self-signed certificate for the QUIC transport. The
// x509 package only accepts the standard library key type, which shares the
// seed||public layout.
func (id *Identity) certificate() (tls.Certificate, error) {
	privateKey := stded25519.PrivateKey(id.private)
	publicKey := stded25519.PublicKey(id.public)

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName: id.PeerID()[:16],
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, publicKey, privateKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("marshal private key: %w", err)
	}

	return tls.X509KeyPair(
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}),
	)
}

// peerIDFromTLS extracts the remote peer id from its certificate.
func peerIDFromTLS(state tls.ConnectionState) (string, error) {
	if len(state.PeerCertificates) == 0 {
		return "", fmt.Errorf("no peer certificate")
	}
	pub, ok := state.PeerCertificates[0].PublicKey.(stded25519.PublicKey)
	if !ok {
		return "", fmt.Errorf("peer certificate does not contain an ed25519 key")
	}
	return hex.EncodeToString(pub), nil
}
