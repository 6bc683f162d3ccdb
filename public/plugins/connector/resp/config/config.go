// Package config holds the settings shared by the RESP based connectors.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/redis/rueidis"

	"github.com/fujin-io/stompbridge/public/cerr"
	pconfig "github.com/fujin-io/stompbridge/public/config"
)

// RedisConfig contains common Redis connection settings
type RedisConfig struct {
	InitAddress  []string                 `yaml:"init_address"`
	Username     string                   `yaml:"username"`
	Password     string                   `yaml:"password"`
	SelectDB     int                      `yaml:"select_db"`
	DisableCache bool                     `yaml:"disable_cache"`
	TLS          *pconfig.ClientTLSConfig `yaml:"tls,omitempty"`
}

// Validate validates the Redis configuration
func (c RedisConfig) Validate() error {
	if len(c.InitAddress) == 0 {
		return cerr.ValidationErr("init_address is required")
	}
	if c.TLS != nil {
		if err := c.TLS.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Endpoint returns the connection endpoint string
func (c RedisConfig) Endpoint() string {
	return strings.Join(c.InitAddress, ",")
}

// NewClient dials a rueidis client.
func (c RedisConfig) NewClient() (rueidis.Client, error) {
	opt := rueidis.ClientOption{
		InitAddress:  c.InitAddress,
		Username:     c.Username,
		Password:     c.Password,
		SelectDB:     c.SelectDB,
		DisableCache: c.DisableCache,
	}
	if c.TLS != nil {
		tlsConf, err := c.TLS.Parse()
		if err != nil {
			return nil, fmt.Errorf("parse tls: %w", err)
		}
		opt.TLSConfig = tlsConf
	}

	client, err := rueidis.NewClient(opt)
	if err != nil {
		return nil, fmt.Errorf("new client: %w", err)
	}
	return client, nil
}

// WriterBatchConfig contains batching configuration for writers
type WriterBatchConfig struct {
	BatchSize int           `yaml:"batch_size"`
	Linger    time.Duration `yaml:"linger"`
}

// ValidateBatch validates batch configuration
func (c WriterBatchConfig) ValidateBatch() error {
	if c.BatchSize <= 0 {
		return cerr.ValidationErr("batch_size must be greater than 0")
	}
	if c.Linger <= 0 {
		return cerr.ValidationErr("linger must be greater than 0")
	}
	return nil
}

// ApplyBatchDefaults sets default values for batch configuration
func (c *WriterBatchConfig) ApplyBatchDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.Linger == 0 {
		c.Linger = 10 * time.Millisecond
	}
}
