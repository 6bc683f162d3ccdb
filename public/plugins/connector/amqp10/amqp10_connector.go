package amqp10

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Azure/go-amqp"

	"github.com/fujin-io/stompbridge/public/plugins/connector"
	"github.com/fujin-io/stompbridge/public/util"
)

// amqp10Connector implements connector.Connector interface. Destinations
// are AMQP 1.0 node addresses.
type amqp10Connector struct {
	config Config
	l      *slog.Logger
}

// NewAMQP10Connector creates a new AMQP10 connector instance
func NewAMQP10Connector(config any, l *slog.Logger) (connector.Connector, error) {
	var typedConfig Config
	if parsedConfig, ok := config.(Config); ok {
		typedConfig = parsedConfig
	} else {
		if err := util.ConvertConfig(config, &typedConfig); err != nil {
			return nil, fmt.Errorf("amqp10 connector: failed to convert config: %w", err)
		}
	}
	typedConfig.SetDefaults()
	if err := typedConfig.Validate(); err != nil {
		return nil, fmt.Errorf("amqp10 connector: invalid config: %w", err)
	}

	return &amqp10Connector{
		config: typedConfig,
		l:      l,
	}, nil
}

// NewReader creates a reader. A non empty group becomes the link name so
// that brokers supporting shared subscriptions can pair competing readers.
func (a *amqp10Connector) NewReader(group string, autoCommit bool, l *slog.Logger) (connector.ReadCloser, error) {
	return NewReader(a.config, group, autoCommit, l)
}

// NewWriter creates a writer
func (a *amqp10Connector) NewWriter(l *slog.Logger) (connector.WriteCloser, error) {
	return NewWriter(a.config, l)
}

func dial(ctx context.Context, conf Config) (*amqp.Conn, *amqp.Session, error) {
	conn, err := amqp.Dial(ctx, conf.Conn.Addr, conf.Conn.options())
	if err != nil {
		return nil, nil, fmt.Errorf("amqp10: dial: %w", err)
	}

	session, err := conn.NewSession(ctx, &amqp.SessionOptions{
		MaxLinks: conf.Session.MaxLinks,
	})
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp10: new session: %w", err)
	}
	return conn, session, nil
}

func toProperties(headers [][]byte) map[string]any {
	if len(headers) == 0 {
		return nil
	}
	props := make(map[string]any, len(headers)/2)
	for i := 0; i+1 < len(headers); i += 2 {
		props[string(headers[i])] = string(headers[i+1])
	}
	return props
}

func fromProperties(props map[string]any) [][]byte {
	if len(props) == 0 {
		return nil
	}
	hs := make([][]byte, 0, 2*len(props))
	for k, v := range props {
		switch val := v.(type) {
		case string:
			hs = append(hs, []byte(k), []byte(val))
		case []byte:
			hs = append(hs, []byte(k), val)
		}
	}
	return hs
}
