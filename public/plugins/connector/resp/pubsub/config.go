package pubsub

import (
	"fmt"

	respconfig "github.com/fujin-io/stompbridge/public/plugins/connector/resp/config"
)

// Config is the configuration of the Redis PubSub connector. Destinations
// are channels; a destination containing glob characters subscribes to a
// pattern.
type Config struct {
	respconfig.RedisConfig       `yaml:",inline"`
	respconfig.WriterBatchConfig `yaml:",inline"`
}

func (c *Config) SetDefaults() {
	c.WriterBatchConfig.ApplyBatchDefaults()
}

// Validate validates the Redis PubSub configuration
func (c Config) Validate() error {
	if err := c.RedisConfig.Validate(); err != nil {
		return fmt.Errorf("resp_pubsub: %w", err)
	}
	if err := c.WriterBatchConfig.ValidateBatch(); err != nil {
		return fmt.Errorf("resp_pubsub: %w", err)
	}
	return nil
}
