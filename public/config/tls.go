package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	ErrTLSClientCertsDirNotSpecified = errors.New("client certs dir not specified, while mtls enabled")
	ErrTLSServerCertPathNotSpecified = errors.New("server cert path not specified")
	ErrTLSServerKeyPathNotSpecified  = errors.New("server key path not specified")
	ErrTLSUnknownMinVersion          = errors.New("unknown tls min version")
)

var tlsVersions = map[string]uint16{
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

// TLSConfig is the listener side TLS of the TCP, WebSocket and QUIC
// transports.
type TLSConfig struct {
	Enabled                    bool   `yaml:"enabled"`
	ClientCertsDir             string `yaml:"client_certs_dir"`
	ServerCertPEMPath          string `yaml:"server_cert_pem_path"`
	ServerKeyPEMPath           string `yaml:"server_key_pem_path"`
	RequireAndVerifyClientCert bool   `yaml:"require_and_verify_client_cert"`
	// MinVersion is "1.2" (default) or "1.3".
	MinVersion string `yaml:"min_version"`

	Config *tls.Config `yaml:"-"`
}

// Parse builds Config once. It leaves Config nil when TLS is disabled.
func (c *TLSConfig) Parse() error {
	if c.Config != nil || !c.Enabled {
		return nil
	}
	if err := c.validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	cert, err := tls.LoadX509KeyPair(c.ServerCertPEMPath, c.ServerKeyPEMPath)
	if err != nil {
		return fmt.Errorf("load x509 key pair: %w", err)
	}

	conf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if c.MinVersion != "" {
		conf.MinVersion = tlsVersions[c.MinVersion]
	}

	if c.ClientCertsDir != "" {
		pool, err := loadCertsDir(c.ClientCertsDir)
		if err != nil {
			return err
		}
		conf.ClientCAs = pool
		conf.ClientAuth = tls.VerifyClientCertIfGiven
	}
	if c.RequireAndVerifyClientCert {
		conf.ClientAuth = tls.RequireAndVerifyClientCert
	}

	c.Config = conf
	return nil
}

func loadCertsDir(dir string) (*x509.CertPool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read client certs dir: %w", err)
	}

	pool := x509.NewCertPool()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		pem, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read client cert: %w", err)
		}
		pool.AppendCertsFromPEM(pem)
	}
	return pool, nil
}

func (c *TLSConfig) validate() error {
	if c.ClientCertsDir == "" && c.RequireAndVerifyClientCert {
		return ErrTLSClientCertsDirNotSpecified
	}
	if c.ServerCertPEMPath == "" {
		return ErrTLSServerCertPathNotSpecified
	}
	if c.ServerKeyPEMPath == "" {
		return ErrTLSServerKeyPathNotSpecified
	}
	if _, ok := tlsVersions[c.MinVersion]; c.MinVersion != "" && !ok {
		return fmt.Errorf("%w: %q", ErrTLSUnknownMinVersion, c.MinVersion)
	}
	return nil
}
