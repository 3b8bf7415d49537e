package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testCA is a minimal self-signed CA used only to mint certificates for
// these tests; the real CA lives wherever a cluster's control plane issues
// certificates, well outside this package's scope.
type testCA struct {
	cert *x509.Certificate
	key  *rsa.PrivateKey
}

func newTestCA(t *testing.T) *testCA {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "libra test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:               time.Now().Add(10 * 365 * 24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &testCA{cert: cert, key: key}
}

func (ca *testCA) issue(t *testing.T, cn string) *tls.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(90 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &key.PublicKey, ca.key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
		Leaf:        leaf,
	}
}

func TestSaveLoadCertToFile(t *testing.T) {
	ca := newTestCA(t)
	cert := ca.issue(t, "test-node")

	certDir := t.TempDir()
	require.NoError(t, SaveCertToFile(cert, certDir))

	assert.FileExists(t, filepath.Join(certDir, "node.crt"))
	assert.FileExists(t, filepath.Join(certDir, "node.key"))

	loaded, err := LoadCertFromFile(certDir)
	require.NoError(t, err)
	assert.Equal(t, cert.Leaf.Subject.CommonName, loaded.Leaf.Subject.CommonName)
}

func TestSaveLoadCACertToFile(t *testing.T) {
	ca := newTestCA(t)
	certDir := t.TempDir()

	require.NoError(t, SaveCACertToFile(ca.cert.Raw, certDir))
	assert.FileExists(t, filepath.Join(certDir, "ca.crt"))

	loaded, err := LoadCACertFromFile(certDir)
	require.NoError(t, err)
	assert.True(t, loaded.Equal(ca.cert))
}

func TestCertExists(t *testing.T) {
	tmpDir := t.TempDir()
	assert.False(t, CertExists(tmpDir))

	for _, name := range []string{"node.crt", "node.key", "ca.crt"} {
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, name), []byte("x"), 0o600))
	}
	assert.True(t, CertExists(tmpDir))

	require.NoError(t, os.Remove(filepath.Join(tmpDir, "node.key")))
	assert.False(t, CertExists(tmpDir))
}

func TestCertNeedsRotation(t *testing.T) {
	tests := []struct {
		name     string
		notAfter time.Time
		want     bool
	}{
		{"expires in 1 day", time.Now().Add(24 * time.Hour), true},
		{"expires in 29 days", time.Now().Add(29 * 24 * time.Hour), true},
		{"expires in 31 days", time.Now().Add(31 * 24 * time.Hour), false},
		{"expires in 60 days", time.Now().Add(60 * 24 * time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cert := &x509.Certificate{NotAfter: tt.notAfter}
			assert.Equal(t, tt.want, CertNeedsRotation(cert))
		})
	}
	assert.True(t, CertNeedsRotation(nil))
}

func TestGetCertExpiry(t *testing.T) {
	expiry := time.Now().Add(90 * 24 * time.Hour)
	cert := &x509.Certificate{NotAfter: expiry}
	assert.True(t, GetCertExpiry(cert).Equal(expiry))
	assert.True(t, GetCertExpiry(nil).IsZero())
}

func TestGetCertTimeRemaining(t *testing.T) {
	remaining := 45 * 24 * time.Hour
	cert := &x509.Certificate{NotAfter: time.Now().Add(remaining)}
	got := GetCertTimeRemaining(cert)
	assert.InDelta(t, remaining, got, float64(time.Second))
	assert.Equal(t, time.Duration(0), GetCertTimeRemaining(nil))
}

func TestValidateCertChain(t *testing.T) {
	ca := newTestCA(t)
	cert := ca.issue(t, "test-node")

	assert.NoError(t, ValidateCertChain(cert.Leaf, ca.cert))
	assert.Error(t, ValidateCertChain(nil, ca.cert))
	assert.Error(t, ValidateCertChain(cert.Leaf, nil))
}

func TestGetCertInfo(t *testing.T) {
	ca := newTestCA(t)
	cert := ca.issue(t, "test-node")

	info := GetCertInfo(cert.Leaf)
	assert.Equal(t, "test-node", info["subject"])
	assert.Equal(t, "libra test CA", info["issuer"])
	assert.Equal(t, false, info["is_ca"])

	nilInfo := GetCertInfo(nil)
	_, hasError := nilInfo["error"]
	assert.True(t, hasError)
}

func TestGetCertDir(t *testing.T) {
	tests := []struct{ nodeType, nodeID string }{
		{"manager", "node1"},
		{"worker", "node2"},
	}
	for _, tt := range tests {
		t.Run(tt.nodeType+"-"+tt.nodeID, func(t *testing.T) {
			dir, err := GetCertDir(tt.nodeType, tt.nodeID)
			require.NoError(t, err)
			assert.Equal(t, tt.nodeType+"-"+tt.nodeID, filepath.Base(dir))
		})
	}
}

func TestGetCLICertDir(t *testing.T) {
	dir, err := GetCLICertDir()
	require.NoError(t, err)
	assert.Equal(t, "cli", filepath.Base(dir))
}

func TestRemoveCerts(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "node.crt"), []byte("cert"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "node.key"), []byte("key"), 0o600))

	require.NoError(t, RemoveCerts(tmpDir))
	_, err := os.Stat(tmpDir)
	assert.True(t, os.IsNotExist(err))
}

func TestClientTLSConfig(t *testing.T) {
	ca := newTestCA(t)
	cert := ca.issue(t, "test-node")
	certDir := t.TempDir()

	require.NoError(t, SaveCertToFile(cert, certDir))
	require.NoError(t, SaveCACertToFile(ca.cert.Raw, certDir))

	cfg, err := ClientTLSConfig(certDir)
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	assert.NotNil(t, cfg.RootCAs)
}

func TestClientTLSConfigMissingCert(t *testing.T) {
	_, err := ClientTLSConfig(t.TempDir())
	assert.Error(t, err)
}
