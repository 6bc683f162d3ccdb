// Package decorator provides a plugin system for connector decorators.
// Decorators wrap readers and writers to add cross-cutting functionality
// like observability, rate limiting, retries, etc.
package decorator

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/fujin-io/stompbridge/public/plugins/connector"
	"github.com/fujin-io/stompbridge/public/plugins/decorator/config"
)

// Decorator wraps readers and writers with additional functionality.
type Decorator interface {
	// WrapWriter wraps a writer with additional functionality.
	WrapWriter(w connector.Writer, connectorName string) connector.Writer
	// WrapReader wraps a reader with additional functionality.
	WrapReader(r connector.Reader, connectorName string) connector.Reader
}

// Factory creates a decorator from configuration.
// config is the decorator-specific configuration (can be nil).
type Factory func(config any, l *slog.Logger) (Decorator, error)

var (
	factories = make(map[string]Factory)
	mu        sync.RWMutex
)

// Register registers a decorator factory with the given name.
// This is typically called from init() in decorator implementations.
func Register(name string, factory Factory) error {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		return fmt.Errorf("decorator %q already registered", name)
	}

	factories[name] = factory
	return nil
}

// Get returns a decorator factory by name.
func Get(name string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()

	factory, ok := factories[name]
	return factory, ok
}

// List returns all registered decorator names.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}

// Chain is an ordered, already constructed list of decorators.
// Build it once per connector and apply it to every reader and writer.
type Chain []Decorator

// Build instantiates the decorators named in configs, in order.
func Build(configs []config.Config, l *slog.Logger) (Chain, error) {
	chain := make(Chain, 0, len(configs))
	for _, cfg := range configs {
		factory, ok := Get(cfg.Name)
		if !ok {
			return nil, fmt.Errorf("decorator %q not found (is it compiled in?)", cfg.Name)
		}

		dec, err := factory(cfg.Config, l)
		if err != nil {
			return nil, fmt.Errorf("create decorator %q: %w", cfg.Name, err)
		}
		chain = append(chain, dec)
	}
	return chain, nil
}

// Writer applies the chain to w. The first decorator is the innermost.
func (c Chain) Writer(w connector.Writer, connectorName string) connector.Writer {
	for _, dec := range c {
		w = dec.WrapWriter(w, connectorName)
	}
	return w
}

// Reader applies the chain to r. The first decorator is the innermost.
func (c Chain) Reader(r connector.Reader, connectorName string) connector.Reader {
	for _, dec := range c {
		r = dec.WrapReader(r, connectorName)
	}
	return r
}

// WriteCloser applies the chain to wc, keeping the original closer.
func (c Chain) WriteCloser(wc connector.WriteCloser, connectorName string) connector.WriteCloser {
	if len(c) == 0 {
		return wc
	}
	return &decoratedWriteCloser{Writer: c.Writer(wc, connectorName), closer: wc}
}

// ReadCloser applies the chain to rc, keeping the original closer.
func (c Chain) ReadCloser(rc connector.ReadCloser, connectorName string) connector.ReadCloser {
	if len(c) == 0 {
		return rc
	}
	return &decoratedReadCloser{Reader: c.Reader(rc, connectorName), closer: rc}
}

type decoratedWriteCloser struct {
	connector.Writer
	closer connector.WriteCloser
}

func (d *decoratedWriteCloser) Close() error {
	return d.closer.Close()
}

type decoratedReadCloser struct {
	connector.Reader
	closer connector.ReadCloser
}

func (d *decoratedReadCloser) Close() error {
	return d.closer.Close()
}
