package core

import (
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/fujin-io/stompbridge/public/plugins/connector"
	"github.com/fujin-io/stompbridge/public/util"
)

// natsConnector implements connector.Connector interface for NATS Core
type natsConnector struct {
	config Config
	l      *slog.Logger
}

// NewNATSConnector creates a new NATS Core connector instance
func NewNATSConnector(config any, l *slog.Logger) (connector.Connector, error) {
	var typedConfig Config
	if parsedConfig, ok := config.(Config); ok {
		typedConfig = parsedConfig
	} else {
		if err := util.ConvertConfig(config, &typedConfig); err != nil {
			return nil, fmt.Errorf("nats_core connector: failed to convert config: %w", err)
		}
	}
	typedConfig.SetDefaults()
	if err := typedConfig.Validate(); err != nil {
		return nil, fmt.Errorf("nats_core connector: invalid config: %w", err)
	}

	return &natsConnector{
		config: typedConfig,
		l:      l,
	}, nil
}

// NewReader creates a reader. A non empty group becomes a NATS queue group.
func (n *natsConnector) NewReader(group string, autoCommit bool, l *slog.Logger) (connector.ReadCloser, error) {
	return NewReader(n.config, group, autoCommit, l)
}

// NewWriter creates a writer
func (n *natsConnector) NewWriter(l *slog.Logger) (connector.WriteCloser, error) {
	return NewWriter(n.config, l)
}

func connect(conf Config) (*nats.Conn, error) {
	opts := []nats.Option{nats.Name(conf.Name)}
	if conf.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(conf.MaxReconnects))
	}
	if conf.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(conf.ReconnectWait))
	}

	nc, err := nats.Connect(conf.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats: connect: %w", err)
	}
	return nc, nil
}
