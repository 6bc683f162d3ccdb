package amqp091

import (
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fujin-io/stompbridge/public/plugins/connector"
	"github.com/fujin-io/stompbridge/public/util"
)

// amqp091Connector implements connector.Connector interface
type amqp091Connector struct {
	config Config
	l      *slog.Logger
}

// NewAMQP091Connector creates a new AMQP091 connector instance
func NewAMQP091Connector(config any, l *slog.Logger) (connector.Connector, error) {
	var typedConfig Config
	if parsedConfig, ok := config.(Config); ok {
		typedConfig = parsedConfig
	} else {
		if err := util.ConvertConfig(config, &typedConfig); err != nil {
			return nil, fmt.Errorf("amqp091 connector: failed to convert config: %w", err)
		}
	}
	typedConfig.SetDefaults()
	if err := typedConfig.Validate(); err != nil {
		return nil, fmt.Errorf("amqp091 connector: invalid config: %w", err)
	}

	return &amqp091Connector{
		config: typedConfig,
		l:      l,
	}, nil
}

// NewReader creates a reader. A non empty group names a shared queue.
func (a *amqp091Connector) NewReader(group string, autoCommit bool, l *slog.Logger) (connector.ReadCloser, error) {
	return NewReader(a.config, group, autoCommit, l)
}

// NewWriter creates a writer
func (a *amqp091Connector) NewWriter(l *slog.Logger) (connector.WriteCloser, error) {
	return NewWriter(a.config, l)
}

func dial(conf Config) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(conf.Conn.URL, conf.Conn.amqp())
	if err != nil {
		return nil, nil, fmt.Errorf("amqp091: dial config: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp091: open channel: %w", err)
	}

	if err = ch.ExchangeDeclare(
		conf.Exchange.Name,
		conf.Exchange.Kind,
		conf.Exchange.Durable,
		conf.Exchange.AutoDelete,
		conf.Exchange.Internal,
		conf.Exchange.NoWait,
		conf.Exchange.Args,
	); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp091: declare exchange: %w", err)
	}

	return conn, ch, nil
}

func toTable(headers [][]byte) amqp.Table {
	if len(headers) == 0 {
		return nil
	}
	t := make(amqp.Table, len(headers)/2)
	for i := 0; i+1 < len(headers); i += 2 {
		t[string(headers[i])] = string(headers[i+1])
	}
	return t
}

// fromTable keeps string and byte slice values, the only ones a STOMP
// header can carry.
func fromTable(t amqp.Table) [][]byte {
	if len(t) == 0 {
		return nil
	}
	hs := make([][]byte, 0, 2*len(t))
	for k, v := range t {
		switch val := v.(type) {
		case string:
			hs = append(hs, []byte(k), []byte(val))
		case []byte:
			hs = append(hs, []byte(k), val)
		}
	}
	return hs
}
