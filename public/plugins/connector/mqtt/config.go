package mqtt

import (
	"time"

	"github.com/fujin-io/stompbridge/public/cerr"
)

// PoolConfig sizes the worker pool writers publish from.
type PoolConfig struct {
	Size           int           `yaml:"size"`
	PreAlloc       bool          `yaml:"pre_alloc"`
	ReleaseTimeout time.Duration `yaml:"release_timeout"`
}

type Config struct {
	BrokerURL         string        `yaml:"broker_url"`
	KeepAlive         uint16        `yaml:"keep_alive"` // seconds
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`

	// ClientIDPrefix is followed by a random suffix for every reader and
	// writer, MQTT brokers drop the older session on client id clashes.
	ClientIDPrefix   string        `yaml:"client_id_prefix"`
	QoS              byte          `yaml:"qos"`
	Retain           bool          `yaml:"retain"`
	CleanStart       bool          `yaml:"clean_start"`
	SessionExpiry    uint32        `yaml:"session_expiry"`     // seconds
	SendAcksInterval time.Duration `yaml:"send_acks_interval"` // batching of manual acks
	AckTTL           time.Duration `yaml:"ack_ttl"`            // pending acks older than this are dropped
	Pool             PoolConfig    `yaml:"pool"`
}

func (c *Config) SetDefaults() {
	if c.KeepAlive == 0 {
		c.KeepAlive = 30
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.DisconnectTimeout == 0 {
		c.DisconnectTimeout = 5 * time.Second
	}
	if c.ClientIDPrefix == "" {
		c.ClientIDPrefix = "stompbridge"
	}
	if c.SendAcksInterval == 0 {
		c.SendAcksInterval = 50 * time.Millisecond
	}
	if c.AckTTL == 0 {
		c.AckTTL = 5 * time.Minute
	}
	if c.Pool.Size == 0 {
		c.Pool.Size = 1000
	}
	if c.Pool.ReleaseTimeout == 0 {
		c.Pool.ReleaseTimeout = 5 * time.Second
	}
}

func (c Config) Validate() error {
	if c.BrokerURL == "" {
		return cerr.ValidationErr("broker_url is required")
	}
	if c.QoS > 2 {
		return cerr.ValidationErr("qos must be 0, 1, or 2")
	}
	if c.Pool.Size < 0 {
		return cerr.ValidationErr("pool.size must not be negative")
	}
	return nil
}
