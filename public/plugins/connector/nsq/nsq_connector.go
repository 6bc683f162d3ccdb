package nsq

import (
	"fmt"
	"log/slog"

	"github.com/fujin-io/stompbridge/public/plugins/connector"
	"github.com/fujin-io/stompbridge/public/util"
)

// nsqConnector implements connector.Connector interface for NSQ
type nsqConnector struct {
	config Config
	l      *slog.Logger
}

// NewNSQConnector creates a new NSQ connector instance
func NewNSQConnector(config any, l *slog.Logger) (connector.Connector, error) {
	var typedConfig Config
	if parsedConfig, ok := config.(Config); ok {
		typedConfig = parsedConfig
	} else {
		if err := util.ConvertConfig(config, &typedConfig); err != nil {
			return nil, fmt.Errorf("nsq connector: failed to convert config: %w", err)
		}
	}
	typedConfig.SetDefaults()
	if err := typedConfig.Validate(); err != nil {
		return nil, fmt.Errorf("nsq connector: invalid config: %w", err)
	}

	return &nsqConnector{
		config: typedConfig,
		l:      l,
	}, nil
}

// NewReader creates a reader. The group is the NSQ channel; without one
// the reader gets its own ephemeral channel.
func (n *nsqConnector) NewReader(group string, autoCommit bool, l *slog.Logger) (connector.ReadCloser, error) {
	return NewReader(n.config, group, autoCommit, l), nil
}

// NewWriter creates a writer
func (n *nsqConnector) NewWriter(l *slog.Logger) (connector.WriteCloser, error) {
	if n.config.Address == "" {
		return nil, fmt.Errorf("nsq: address is required for writer")
	}
	return NewWriter(n.config, l)
}
