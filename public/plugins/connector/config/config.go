package config

import (
	"fmt"

	decoratorconfig "github.com/fujin-io/stompbridge/public/plugins/decorator/config"
)

// ConnectorsConfig maps connector names to their configurations
type ConnectorsConfig map[string]ConnectorConfig

// ConnectorConfig represents the configuration for a single connector
type ConnectorConfig struct {
	Protocol   string                   `yaml:"protocol"`
	Decorators []decoratorconfig.Config `yaml:"decorators,omitempty"` // Decorators to apply to this connector
	Settings   any                      `yaml:"settings"`
}

// Validate checks that every connector names a protocol.
func (c ConnectorsConfig) Validate() error {
	for name, conf := range c {
		if conf.Protocol == "" {
			return fmt.Errorf("connector %q: protocol is required", name)
		}
		for i, d := range conf.Decorators {
			if err := d.Validate(); err != nil {
				return fmt.Errorf("connector %q: decorator %d: %w", name, i, err)
			}
		}
	}
	return nil
}
