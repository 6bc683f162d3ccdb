package core

import (
	"fmt"
	"time"
)

// Config is the configuration of the NATS Core connector
type Config struct {
	URL string `yaml:"url"`
	// Name is reported to the server as the client connection name.
	Name          string        `yaml:"name"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "stompbridge"
	}
}

// Validate validates the NATS Core configuration
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("nats_core: url is required")
	}
	if c.MaxReconnects < -1 {
		return fmt.Errorf("nats_core: max_reconnects must be -1 (forever) or positive")
	}
	return nil
}
