package connectors

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/fujin-io/stompbridge/internal/common/pool"
	"github.com/fujin-io/stompbridge/public/plugins/connector"
	connectorconfig "github.com/fujin-io/stompbridge/public/plugins/connector/config"
	"github.com/fujin-io/stompbridge/public/plugins/decorator"
)

var ErrConnectorNotFound = errors.New("connector not found")

// Manager owns one connector: the connector instance, its decorator chain
// and a pool of idle writers.
type Manager struct {
	name    string
	conn    connector.Connector
	chain   decorator.Chain
	writers *pool.Pool[connector.WriteCloser]

	l *slog.Logger
}

func NewManager(name string, conf connectorconfig.ConnectorConfig, l *slog.Logger) (*Manager, error) {
	l = l.With("connector", name)

	conn, err := connector.New(conf, l)
	if err != nil {
		return nil, fmt.Errorf("connector %q: %w", name, err)
	}
	return newManager(name, conn, conf, l)
}

func newManager(name string, conn connector.Connector, conf connectorconfig.ConnectorConfig, l *slog.Logger) (*Manager, error) {
	chain, err := decorator.Build(conf.Decorators, l)
	if err != nil {
		return nil, fmt.Errorf("connector %q: %w", name, err)
	}

	m := &Manager{
		name:  name,
		conn:  conn,
		chain: chain,
		l:     l,
	}
	m.writers = pool.NewPool(func() (connector.WriteCloser, error) {
		w, err := m.conn.NewWriter(m.l)
		if err != nil {
			return nil, err
		}
		return m.chain.WriteCloser(w, m.name), nil
	})

	return m, nil
}

func (m *Manager) Name() string {
	return m.name
}

// GetReader creates a fresh decorated reader. Readers are never pooled:
// each one is bound to a single subscription.
func (m *Manager) GetReader(group string, autoCommit bool) (connector.ReadCloser, error) {
	r, err := m.conn.NewReader(group, autoCommit, m.l)
	if err != nil {
		return nil, fmt.Errorf("new reader: %w", err)
	}
	return m.chain.ReadCloser(r, m.name), nil
}

func (m *Manager) GetWriter() (connector.WriteCloser, error) {
	w, err := m.writers.Get()
	if err != nil {
		return nil, fmt.Errorf("get writer: %w", err)
	}
	return w, nil
}

// PutWriter returns a healthy writer to the pool.
func (m *Manager) PutWriter(w connector.WriteCloser) {
	m.writers.Put(w)
}

// DiscardWriter closes a writer that must not be reused.
func (m *Manager) DiscardWriter(w connector.WriteCloser) {
	if err := w.Close(); err != nil {
		m.l.Error("close writer", "err", err)
	}
}

func (m *Manager) Close() error {
	return m.writers.Close()
}

// Managers holds one Manager per configured connector.
type Managers struct {
	mu sync.RWMutex
	m  map[string]*Manager
}

func NewManagers(conf connectorconfig.ConnectorsConfig, l *slog.Logger) (*Managers, error) {
	ms := &Managers{m: make(map[string]*Manager, len(conf))}
	for _, name := range slices.Sorted(maps.Keys(conf)) {
		m, err := NewManager(name, conf[name], l)
		if err != nil {
			_ = ms.Close()
			return nil, err
		}
		ms.m[name] = m
	}
	return ms, nil
}

// Add registers an already constructed connector under name.
func (ms *Managers) Add(name string, conn connector.Connector, conf connectorconfig.ConnectorConfig, l *slog.Logger) error {
	m, err := newManager(name, conn, conf, l.With("connector", name))
	if err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.m[name]; ok {
		return fmt.Errorf("connector %q already added", name)
	}
	ms.m[name] = m
	return nil
}

func (ms *Managers) Get(name string) (*Manager, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	m, ok := ms.m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrConnectorNotFound, name)
	}
	return m, nil
}

func (ms *Managers) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var errs []error
	for _, m := range ms.m {
		errs = append(errs, m.Close())
	}
	return errors.Join(errs...)
}
