package memory

// Config is the configuration of the in-process broker connector.
type Config struct {
	// Broker names the in-process broker. Connectors naming the same broker
	// share topics. Defaults to "default".
	Broker string `yaml:"broker"`
}

func (c *Config) SetDefaults() {
	if c.Broker == "" {
		c.Broker = "default"
	}
}
