// Package connector provides a plugin system for message broker connectors.
// Connectors implement readers and writers for different message broker protocols
// like AMQP, Kafka, NATS, MQTT, etc. The STOMP gateway routes destinations to
// connectors and talks to brokers exclusively through this package.
//
// To register a connector, import it in your main package:
//
//	import _ "github.com/fujin-io/stompbridge/public/plugins/connector/amqp091"
//
// The connector will register itself automatically via init().
package connector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/fujin-io/stompbridge/public/plugins/connector/config"
)

// Message is a message received from a broker.
type Message struct {
	// Topic is the broker topic, subject, routing key or queue the message was read from.
	Topic string
	Body  []byte
	// Headers are alternating key/value pairs.
	Headers [][]byte
	// MsgID identifies the message for Ack and Nack. It is nil for auto-commit readers.
	MsgID []byte
}

// Reader is the interface for message readers. One reader serves exactly one
// subscription.
type Reader interface {
	// Subscribe binds the reader to topic. It returns once the broker has
	// accepted the binding; messages are then passed to h, one at a time and
	// in broker order, until the reader is closed.
	Subscribe(ctx context.Context, topic string, h func(msg Message)) error
	Ack(ctx context.Context, msgID []byte) error
	Nack(ctx context.Context, msgID []byte) error
	IsAutoCommit() bool
}

// Writer is the interface for message writers.
type Writer interface {
	// Produce publishes msg to topic. headers are alternating key/value pairs.
	// callback is invoked exactly once, possibly from another goroutine.
	Produce(ctx context.Context, topic string, msg []byte, headers [][]byte, callback func(err error))
	Flush(ctx context.Context) error
	// BeginTx returns cerr.ErrNotSupported when the broker has no transactions.
	BeginTx(ctx context.Context) error
	CommitTx(ctx context.Context) error
	RollbackTx(ctx context.Context) error
}

// Connector creates readers and writers for a specific message broker protocol.
type Connector interface {
	// NewReader creates a reader.
	// group is the consumer group (or queue, or channel) shared by competing
	// subscribers. An empty group means an exclusive, non-durable binding.
	// autoCommit indicates whether the reader should settle messages itself.
	NewReader(group string, autoCommit bool, l *slog.Logger) (ReadCloser, error)

	// NewWriter creates a writer.
	NewWriter(l *slog.Logger) (WriteCloser, error)
}

// ReadCloser combines Reader and Closer interfaces
type ReadCloser interface {
	Reader
	io.Closer
}

// WriteCloser combines Writer and Closer interfaces
type WriteCloser interface {
	Writer
	io.Closer
}

// Factory creates a connector from configuration.
// config is the connector-specific configuration (can be nil).
type Factory func(config any, l *slog.Logger) (Connector, error)

var (
	factories = make(map[string]Factory)
	mu        sync.RWMutex
)

// Register registers a connector factory with the given protocol name.
// This is typically called from init() in connector implementations.
// Returns an error if the protocol is already registered.
func Register(protocol string, factory Factory) error {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[protocol]; exists {
		return fmt.Errorf("connector factory for protocol %q already registered", protocol)
	}

	factories[protocol] = factory
	return nil
}

// Get returns a connector factory by protocol name.
func Get(protocol string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()

	factory, ok := factories[protocol]
	return factory, ok
}

// List returns all registered protocol names.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for protocol := range factories {
		names = append(names, protocol)
	}
	return names
}

// New creates a connector using the registered factory for the protocol.
func New(conf config.ConnectorConfig, l *slog.Logger) (Connector, error) {
	factory, ok := Get(conf.Protocol)
	if !ok {
		return nil, fmt.Errorf("unsupported protocol: %q (is it compiled in?)", conf.Protocol)
	}

	conn, err := factory(conf.Settings, l)
	if err != nil {
		return nil, fmt.Errorf("create connector: %w", err)
	}
	return conn, nil
}

// NewWriter creates a new writer using the registered factory for the protocol.
func NewWriter(conf config.ConnectorConfig, l *slog.Logger) (WriteCloser, error) {
	conn, err := New(conf, l)
	if err != nil {
		return nil, err
	}
	return conn.NewWriter(l)
}

// NewReader creates a new reader using the registered factory for the protocol.
func NewReader(conf config.ConnectorConfig, group string, autoCommit bool, l *slog.Logger) (ReadCloser, error) {
	conn, err := New(conf, l)
	if err != nil {
		return nil, err
	}
	return conn.NewReader(group, autoCommit, l)
}

// Produce publishes one message and waits for the writer's callback.
// Writers that buffer (Kafka lingering, for example) are flushed first so
// that the callback can fire.
func Produce(ctx context.Context, w Writer, topic string, msg []byte, headers [][]byte) error {
	done := make(chan error, 1)
	w.Produce(ctx, topic, msg, headers, func(err error) {
		done <- err
	})

	select {
	case err := <-done:
		return err
	default:
	}

	if err := w.Flush(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HeaderValue returns the first value for key in alternating key/value headers.
func HeaderValue(headers [][]byte, key string) ([]byte, bool) {
	for i := 0; i+1 < len(headers); i += 2 {
		if string(headers[i]) == key {
			return headers[i+1], true
		}
	}
	return nil, false
}
