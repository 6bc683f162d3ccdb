package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/fujin-io/stompbridge/public/plugins/connector"
	"github.com/fujin-io/stompbridge/public/util"
)

// mqttConnector implements connector.Connector interface
type mqttConnector struct {
	config Config
	l      *slog.Logger
}

// NewMQTTConnector creates a new MQTT connector instance
func NewMQTTConnector(config any, l *slog.Logger) (connector.Connector, error) {
	var typedConfig Config
	if parsedConfig, ok := config.(Config); ok {
		typedConfig = parsedConfig
	} else {
		if err := util.ConvertConfig(config, &typedConfig); err != nil {
			return nil, fmt.Errorf("mqtt connector: failed to convert config: %w", err)
		}
	}
	typedConfig.SetDefaults()
	if err := typedConfig.Validate(); err != nil {
		return nil, fmt.Errorf("mqtt connector: invalid config: %w", err)
	}

	return &mqttConnector{
		config: typedConfig,
		l:      l,
	}, nil
}

// NewReader creates a reader. A non empty group turns the subscription into
// an MQTT 5 shared subscription.
func (m *mqttConnector) NewReader(group string, autoCommit bool, l *slog.Logger) (connector.ReadCloser, error) {
	return NewReader(m.config, group, autoCommit, l)
}

// NewWriter creates a writer
func (m *mqttConnector) NewWriter(l *slog.Logger) (connector.WriteCloser, error) {
	return NewWriter(m.config, l)
}

func connect(conf Config, clientConf paho.ClientConfig, l *slog.Logger) (*autopaho.ConnectionManager, error) {
	serverURL, err := url.Parse(conf.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("mqtt: parse broker url: %w", err)
	}

	clientConf.ClientID = conf.ClientIDPrefix + "-" + uuid.NewString()
	cliCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{serverURL},
		KeepAlive:                     conf.KeepAlive,
		CleanStartOnInitialConnection: conf.CleanStart,
		SessionExpiryInterval:         conf.SessionExpiry,
		ConnectTimeout:                conf.ConnectTimeout,
		OnConnectionUp: func(_ *autopaho.ConnectionManager, connAck *paho.Connack) {
			l.Info("mqtt connection up", "client_id", clientConf.ClientID, "session_present", connAck.SessionPresent)
		},
		OnConnectError: func(err error) {
			l.Error("mqtt connection error", "err", err)
		},
		ClientConfig: clientConf,
	}

	cm, err := autopaho.NewConnection(context.Background(), cliCfg)
	if err != nil {
		return nil, fmt.Errorf("mqtt: new connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), conf.ConnectTimeout)
	defer cancel()
	if err := cm.AwaitConnection(ctx); err != nil {
		dctx, dcancel := context.WithTimeout(context.Background(), conf.DisconnectTimeout)
		defer dcancel()
		_ = cm.Disconnect(dctx)
		return nil, fmt.Errorf("mqtt: await connection: %w", err)
	}
	return cm, nil
}
