package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/fujin-io/stompbridge/public/cerr"
)

// ClientTLSConfig configures TLS for connections the bridge dials to
// brokers.
type ClientTLSConfig struct {
	ClientCertPath     string `yaml:"client_cert_path"`
	ClientKeyPath      string `yaml:"client_key_path"`
	ServerCertPath     string `yaml:"server_cert_path"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

func (c *ClientTLSConfig) Validate() error {
	if c.ServerCertPath == "" && !c.InsecureSkipVerify {
		return cerr.ValidationErr("server cert path not provided")
	}
	if (c.ClientCertPath == "") != (c.ClientKeyPath == "") {
		return cerr.ValidationErr("client cert path and client key path must be set together")
	}
	return nil
}

func (c *ClientTLSConfig) Parse() (*tls.Config, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	tlsConf := &tls.Config{
		InsecureSkipVerify: c.InsecureSkipVerify,
	}

	if c.ServerCertPath != "" {
		caCert, err := os.ReadFile(c.ServerCertPath)
		if err != nil {
			return nil, fmt.Errorf("read server cert file: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("append certs from PEM")
		}
		tlsConf.RootCAs = caCertPool
	}

	if c.ClientCertPath != "" {
		cert, err := tls.LoadX509KeyPair(c.ClientCertPath, c.ClientKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load cert from key pair: %w", err)
		}
		tlsConf.Certificates = []tls.Certificate{cert}
	}

	return tlsConf, nil
}
