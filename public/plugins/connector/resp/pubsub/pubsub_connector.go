package pubsub

import (
	"fmt"
	"log/slog"

	"github.com/fujin-io/stompbridge/public/cerr"
	"github.com/fujin-io/stompbridge/public/plugins/connector"
	"github.com/fujin-io/stompbridge/public/util"
)

// pubsubConnector implements connector.Connector interface for Redis PubSub
type pubsubConnector struct {
	config Config
	l      *slog.Logger
}

// NewRESPPubSubConnector creates a new Redis PubSub connector instance
func NewRESPPubSubConnector(config any, l *slog.Logger) (connector.Connector, error) {
	var typedConfig Config
	if parsedConfig, ok := config.(Config); ok {
		typedConfig = parsedConfig
	} else {
		if err := util.ConvertConfig(config, &typedConfig); err != nil {
			return nil, fmt.Errorf("resp_pubsub connector: failed to convert config: %w", err)
		}
	}
	typedConfig.SetDefaults()
	if err := typedConfig.Validate(); err != nil {
		return nil, fmt.Errorf("resp_pubsub connector: invalid config: %w", err)
	}

	return &pubsubConnector{
		config: typedConfig,
		l:      l,
	}, nil
}

// NewReader creates a reader. Redis PubSub fans out to every subscriber,
// so competing consumer groups cannot be honoured.
func (p *pubsubConnector) NewReader(group string, autoCommit bool, l *slog.Logger) (connector.ReadCloser, error) {
	if group != "" {
		return nil, fmt.Errorf("resp_pubsub: consumer group %q: %w", group, cerr.ErrNotSupported)
	}
	return NewReader(p.config, autoCommit, l)
}

// NewWriter creates a writer
func (p *pubsubConnector) NewWriter(l *slog.Logger) (connector.WriteCloser, error) {
	return NewWriter(p.config, l)
}
