package network

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseNodeKey tests node key parsing and the derived peer id
func TestParseNodeKey(t *testing.T) {
	seed := "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"

	id, err := ParseNodeKey("0x" + seed + "\n")
	require.NoError(t, err)
	assert.Equal(t, "d75a980182b10ab7d54bfed3c964073a0ee172f3daa62325af021a68f707511a", id.PeerID())

	for _, bad := range []string{"", "zz", strings.Repeat("ab", 31)} {
		_, err := ParseNodeKey(bad)
		assert.Error(t, err, "key %q", bad)
	}
}

// TestLoadOrCreateIdentity tests that a generated key is persisted and reused
func TestLoadOrCreateIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "network", NodeKeyFileName)

	first, err := LoadOrCreateIdentity(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := LoadOrCreateIdentity(path)
	require.NoError(t, err)
	assert.Equal(t, first.PeerID(), second.PeerID())
}

// TestSignVerify tests peer message signatures
func TestSignVerify(t *testing.T) {
	id, err := LoadOrCreateIdentity(filepath.Join(t.TempDir(), NodeKeyFileName))
	require.NoError(t, err)

	msg := []byte("best #12")
	sig := id.Sign(msg)

	assert.True(t, Verify(id.PeerID(), msg, sig))
	assert.False(t, Verify(id.PeerID(), []byte("best #13"), sig))
	assert.False(t, Verify("not-hex", msg, sig))
}

// TestCertificateCarriesPeerID tests that the TLS certificate names the node key
func TestCertificateCarriesPeerID(t *testing.T) {
	id, err := LoadOrCreateIdentity(filepath.Join(t.TempDir(), NodeKeyFileName))
	require.NoError(t, err)

	cert, err := id.certificate()
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)

	peerID, err := peerIDFromTLS(tls.ConnectionState{PeerCertificates: []*x509.Certificate{leaf}})
	require.NoError(t, err)
	assert.Equal(t, id.PeerID(), peerID)

	_, err = peerIDFromTLS(tls.ConnectionState{})
	assert.Error(t, err)
}
