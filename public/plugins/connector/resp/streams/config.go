package streams

import (
	"fmt"
	"time"

	"github.com/fujin-io/stompbridge/public/cerr"
	respconfig "github.com/fujin-io/stompbridge/public/plugins/connector/resp/config"
)

type Marshaller string

const (
	// Plain carries the body in the "msg" field and each header in an
	// "h:" prefixed field.
	Plain Marshaller = ""
	// JSON delivers all entry fields as one JSON object body. Use it to read
	// streams written by other producers.
	JSON Marshaller = "json"
)

// Config is the configuration of the Redis Streams connector. Destinations
// are stream keys and groups are Redis consumer groups.
type Config struct {
	respconfig.RedisConfig `yaml:",inline"`

	Block time.Duration `yaml:"block,omitempty"`
	Count int64         `yaml:"count,omitempty"`
	// GroupCreateID is where new consumer groups start, "$" by default.
	GroupCreateID string `yaml:"group_create_id,omitempty"`
	// MaxLen approximately caps streams on every XADD when positive.
	MaxLen int64 `yaml:"max_len,omitempty"`

	Marshaller Marshaller `yaml:"marshaller,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.Block <= 0 {
		c.Block = time.Second
	}
	if c.Count <= 0 {
		c.Count = 100
	}
	if c.GroupCreateID == "" {
		c.GroupCreateID = "$"
	}
}

// Validate validates the Redis Streams configuration.
func (c Config) Validate() error {
	if err := c.RedisConfig.Validate(); err != nil {
		return fmt.Errorf("resp_streams: %w", err)
	}
	switch c.Marshaller {
	case Plain, JSON:
	default:
		return cerr.ValidationErr("unknown marshaller " + string(c.Marshaller))
	}
	if c.MaxLen < 0 {
		return cerr.ValidationErr("max_len must not be negative")
	}
	return nil
}
