// Package config holds the YAML shape of a decorator reference.
package config

import "errors"

// Config names a registered decorator and carries its settings.
type Config struct {
	Name   string `yaml:"name"`
	Config any    `yaml:"config,omitempty"`
}

func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("name is required")
	}
	return nil
}
