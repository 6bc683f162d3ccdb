package kafka

import (
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/fujin-io/stompbridge/public/plugins/connector"
	"github.com/fujin-io/stompbridge/public/util"
)

// kafkaConnector implements connector.Connector interface
type kafkaConnector struct {
	config Config
	tls    *tls.Config
	l      *slog.Logger
}

// NewKafkaConnector creates a new Kafka connector instance
func NewKafkaConnector(config any, l *slog.Logger) (connector.Connector, error) {
	var typedConfig Config
	if parsedConfig, ok := config.(Config); ok {
		typedConfig = parsedConfig
	} else {
		if err := util.ConvertConfig(config, &typedConfig); err != nil {
			return nil, fmt.Errorf("kafka connector: failed to convert config: %w", err)
		}
	}
	typedConfig.SetDefaults()
	if err := typedConfig.Validate(); err != nil {
		return nil, fmt.Errorf("kafka connector: invalid config: %w", err)
	}
	var tlsConf *tls.Config
	if typedConfig.TLS != nil {
		var err error
		if tlsConf, err = typedConfig.TLS.Parse(); err != nil {
			return nil, fmt.Errorf("kafka connector: parse tls: %w", err)
		}
	}

	return &kafkaConnector{
		config: typedConfig,
		tls:    tlsConf,
		l:      l,
	}, nil
}

// NewReader creates a reader. A non empty group becomes the consumer group.
func (k *kafkaConnector) NewReader(group string, autoCommit bool, l *slog.Logger) (connector.ReadCloser, error) {
	return NewReader(k.config, k.tls, group, autoCommit, l), nil
}

// NewWriter creates a writer
func (k *kafkaConnector) NewWriter(l *slog.Logger) (connector.WriteCloser, error) {
	return NewWriter(k.config, k.tls, l)
}
