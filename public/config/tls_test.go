package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fujin-io/stompbridge/public/cerr"
)

// writeCert writes a self-signed certificate and its key into dir.
func writeCert(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "localhost"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certPath, keyPath
}

func TestTLSConfig(t *testing.T) {
	certPath, keyPath := writeCert(t, t.TempDir())

	disabled := TLSConfig{}
	require.NoError(t, disabled.Parse())
	assert.Nil(t, disabled.Config)

	c := TLSConfig{Enabled: true, ServerCertPEMPath: certPath, ServerKeyPEMPath: keyPath, MinVersion: "1.3"}
	require.NoError(t, c.Parse())
	require.NotNil(t, c.Config)
	assert.Len(t, c.Config.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS13), c.Config.MinVersion)
	assert.Equal(t, tls.NoClientCert, c.Config.ClientAuth)

	caDir := t.TempDir()
	writeCert(t, caDir)
	require.NoError(t, os.Remove(filepath.Join(caDir, "key.pem")))
	mtls := TLSConfig{
		Enabled:                    true,
		ServerCertPEMPath:          certPath,
		ServerKeyPEMPath:           keyPath,
		ClientCertsDir:             caDir,
		RequireAndVerifyClientCert: true,
	}
	require.NoError(t, mtls.Parse())
	assert.Equal(t, tls.RequireAndVerifyClientCert, mtls.Config.ClientAuth)
	assert.NotNil(t, mtls.Config.ClientCAs)
}

func TestTLSConfigErrors(t *testing.T) {
	certPath, keyPath := writeCert(t, t.TempDir())

	tests := []struct {
		name string
		conf TLSConfig
		err  error
	}{
		{"no cert", TLSConfig{Enabled: true, ServerKeyPEMPath: keyPath}, ErrTLSServerCertPathNotSpecified},
		{"no key", TLSConfig{Enabled: true, ServerCertPEMPath: certPath}, ErrTLSServerKeyPathNotSpecified},
		{"mtls without dir", TLSConfig{Enabled: true, ServerCertPEMPath: certPath, ServerKeyPEMPath: keyPath, RequireAndVerifyClientCert: true}, ErrTLSClientCertsDirNotSpecified},
		{"min version", TLSConfig{Enabled: true, ServerCertPEMPath: certPath, ServerKeyPEMPath: keyPath, MinVersion: "1.0"}, ErrTLSUnknownMinVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.conf.Parse(), tt.err)
		})
	}
}

func TestClientTLSConfig(t *testing.T) {
	certPath, keyPath := writeCert(t, t.TempDir())

	c := ClientTLSConfig{}
	_, err := c.Parse()
	assert.ErrorIs(t, err, cerr.ErrValidateConf)

	c = ClientTLSConfig{ServerCertPath: certPath, ClientCertPath: certPath}
	_, err = c.Parse()
	assert.ErrorIs(t, err, cerr.ErrValidateConf)

	c = ClientTLSConfig{ServerCertPath: certPath, ClientCertPath: certPath, ClientKeyPath: keyPath}
	conf, err := c.Parse()
	require.NoError(t, err)
	assert.NotNil(t, conf.RootCAs)
	assert.Len(t, conf.Certificates, 1)

	c = ClientTLSConfig{InsecureSkipVerify: true}
	conf, err = c.Parse()
	require.NoError(t, err)
	assert.True(t, conf.InsecureSkipVerify)
}
