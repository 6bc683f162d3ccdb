package memory

import (
	"fmt"
	"log/slog"

	"github.com/fujin-io/stompbridge/public/plugins/connector"
	"github.com/fujin-io/stompbridge/public/util"
)

// memoryConnector implements connector.Connector on top of an in-process Broker
type memoryConnector struct {
	broker *Broker
	l      *slog.Logger
}

// NewMemoryConnector creates a new in-process connector instance
func NewMemoryConnector(config any, l *slog.Logger) (connector.Connector, error) {
	var typedConfig Config
	if parsedConfig, ok := config.(Config); ok {
		typedConfig = parsedConfig
	} else if err := util.ConvertConfig(config, &typedConfig); err != nil {
		return nil, fmt.Errorf("memory connector: failed to convert config: %w", err)
	}
	typedConfig.SetDefaults()

	return &memoryConnector{
		broker: GetBroker(typedConfig.Broker),
		l:      l,
	}, nil
}

// NewConnector wraps an existing broker, mostly for tests and embedding.
func NewConnector(b *Broker, l *slog.Logger) connector.Connector {
	return &memoryConnector{broker: b, l: l}
}

func (m *memoryConnector) NewReader(group string, autoCommit bool, l *slog.Logger) (connector.ReadCloser, error) {
	return newReader(m.broker, group, autoCommit, l), nil
}

func (m *memoryConnector) NewWriter(l *slog.Logger) (connector.WriteCloser, error) {
	return newWriter(m.broker, l), nil
}
