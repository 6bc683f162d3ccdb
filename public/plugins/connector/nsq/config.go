package nsq

import (
	"time"

	"github.com/fujin-io/stompbridge/public/cerr"
)

// PoolConfig contains pool configuration for writers
type PoolConfig struct {
	Size           int           `yaml:"size"`
	PreAlloc       bool          `yaml:"pre_alloc"`
	ReleaseTimeout time.Duration `yaml:"release_timeout"`
}

type Config struct {
	// Address is the nsqd writers publish to.
	Address string `yaml:"address"`
	// Readers connect to Addresses directly, or discover nsqd instances
	// through LookupdAddresses when set.
	Addresses        []string `yaml:"addresses,omitempty"`
	LookupdAddresses []string `yaml:"lookupd_addresses,omitempty"`

	MaxInFlight int        `yaml:"max_in_flight,omitempty"`
	Pool        PoolConfig `yaml:"pool,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.MaxInFlight == 0 {
		c.MaxInFlight = 1
	}
	if c.Pool.Size == 0 {
		c.Pool.Size = 1000
	}
	if c.Pool.ReleaseTimeout == 0 {
		c.Pool.ReleaseTimeout = 5 * time.Second
	}
	if len(c.Addresses) == 0 && len(c.LookupdAddresses) == 0 && c.Address != "" {
		c.Addresses = []string{c.Address}
	}
}

func (c Config) Validate() error {
	if c.Address == "" && len(c.Addresses) == 0 && len(c.LookupdAddresses) == 0 {
		return cerr.ValidationErr("at least one of address, addresses, or lookupd_addresses is required")
	}
	if c.MaxInFlight < 0 {
		return cerr.ValidationErr("max_in_flight must not be negative")
	}
	return nil
}
