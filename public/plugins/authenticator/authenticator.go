// Package authenticator provides a plugin system for CONNECT authenticators.
// An authenticator checks the login and passcode headers of a CONNECT frame
// before the session is established.
package authenticator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrUnauthorized is returned (wrapped) by authenticators that reject credentials.
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator validates CONNECT credentials.
type Authenticator interface {
	// Authenticate returns an error if the credentials must be rejected.
	Authenticate(ctx context.Context, login, passcode string) error
}

// Config selects an authenticator by name.
type Config struct {
	Name   string `yaml:"name"`
	Config any    `yaml:"config,omitempty"`
}

// Factory creates an authenticator from configuration.
// config is the authenticator-specific configuration (can be nil).
type Factory func(config any, l *slog.Logger) (Authenticator, error)

var (
	factories = make(map[string]Factory)
	mu        sync.RWMutex
)

// Register registers an authenticator factory with the given name.
// This is typically called from init() in authenticator implementations.
func Register(name string, factory Factory) error {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		return fmt.Errorf("authenticator %q already registered", name)
	}

	factories[name] = factory
	return nil
}

// Get returns an authenticator factory by name.
func Get(name string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()

	factory, ok := factories[name]
	return factory, ok
}

// List returns all registered authenticator names.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}

// New creates the configured authenticator. An empty name means no
// authentication and yields a nil Authenticator.
func New(conf Config, l *slog.Logger) (Authenticator, error) {
	if conf.Name == "" {
		return nil, nil
	}

	factory, ok := Get(conf.Name)
	if !ok {
		return nil, fmt.Errorf("authenticator %q not found (available: %v)", conf.Name, List())
	}

	a, err := factory(conf.Config, l)
	if err != nil {
		return nil, fmt.Errorf("create authenticator %q: %w", conf.Name, err)
	}
	return a, nil
}
