package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/fujin-io/stompbridge/internal/observability"
	"github.com/fujin-io/stompbridge/internal/stomp/dispatcher"
	"github.com/fujin-io/stompbridge/internal/stomp/gateway"
	pconfig "github.com/fujin-io/stompbridge/public/config"
	"github.com/fujin-io/stompbridge/public/plugins/authenticator"
	connectorconfig "github.com/fujin-io/stompbridge/public/plugins/connector/config"
	serverconfig "github.com/fujin-io/stompbridge/public/server/config"
)

var ErrNilConfig = errors.New("nil config")

type Config struct {
	STOMP         dispatcher.Config                `yaml:"stomp"`
	WS            WSConfig                         `yaml:"ws"`
	TCP           TCPConfig                        `yaml:"tcp"`
	QUIC          QUICConfig                       `yaml:"quic"`
	Health        HealthConfig                     `yaml:"health"`
	Observability observability.Config             `yaml:"observability"`
	Auth          authenticator.Config             `yaml:"auth"`
	Gateway       gateway.Config                   `yaml:"gateway"`
	Connectors    connectorconfig.ConnectorsConfig `yaml:"connectors"`
}

type WSConfig struct {
	Enabled         bool              `yaml:"enabled"`
	Addr            string            `yaml:"addr"`
	Path            string            `yaml:"path"`
	AllowedOrigins  []string          `yaml:"allowed_origins"`
	ReadBufferSize  int               `yaml:"read_buffer_size"`
	WriteBufferSize int               `yaml:"write_buffer_size"`
	WriteDeadline   time.Duration     `yaml:"write_deadline"`
	TLS             pconfig.TLSConfig `yaml:"tls"`
}

type TCPConfig struct {
	Enabled               bool              `yaml:"enabled"`
	Addr                  string            `yaml:"addr"`
	WriteDeadline         time.Duration     `yaml:"write_deadline"`
	ForceTerminateTimeout time.Duration     `yaml:"force_terminate_timeout"`
	TLS                   pconfig.TLSConfig `yaml:"tls"`
}

type QUICConfig struct {
	Enabled               bool              `yaml:"enabled"`
	Addr                  string            `yaml:"addr"`
	WriteDeadline         time.Duration     `yaml:"write_deadline"`
	ForceTerminateTimeout time.Duration     `yaml:"force_terminate_timeout"`
	ObservabilityEnabled  bool              `yaml:"observability_enabled"`
	TLS                   pconfig.TLSConfig `yaml:"tls"`
	QUIC                  QUICSettings      `yaml:"quic"`
}

type QUICSettings struct {
	MaxIncomingStreams   int64         `yaml:"max_incoming_streams"`
	KeepAlivePeriod      time.Duration `yaml:"keepalive_period"`
	HandshakeIdleTimeout time.Duration `yaml:"handshake_idle_timeout"`
	MaxIdleTimeout       time.Duration `yaml:"max_idle_timeout"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

func (c *Config) parse() (serverconfig.Config, error) {
	if c == nil {
		return serverconfig.Config{}, ErrNilConfig
	}

	if err := c.Connectors.Validate(); err != nil {
		return serverconfig.Config{}, fmt.Errorf("validate connectors config: %w", err)
	}

	ws, err := c.WS.parse()
	if err != nil {
		return serverconfig.Config{}, fmt.Errorf("parse ws config: %w", err)
	}
	tcp, err := c.TCP.parse()
	if err != nil {
		return serverconfig.Config{}, fmt.Errorf("parse tcp config: %w", err)
	}
	q, err := c.QUIC.parse()
	if err != nil {
		return serverconfig.Config{}, fmt.Errorf("parse quic config: %w", err)
	}

	return serverconfig.Config{
		STOMP: c.STOMP,
		WS:    ws,
		TCP:   tcp,
		QUIC:  q,
		Health: serverconfig.HealthServerConfig{
			Enabled: c.Health.Enabled,
			Addr:    c.Health.Addr,
		},
		Auth:          c.Auth,
		Gateway:       c.Gateway,
		Connectors:    c.Connectors,
		Observability: c.Observability,
	}, nil
}

func (c *WSConfig) parse() (serverconfig.WSServerConfig, error) {
	if !c.Enabled {
		return serverconfig.WSServerConfig{}, nil
	}
	if err := c.TLS.Parse(); err != nil {
		return serverconfig.WSServerConfig{}, fmt.Errorf("parse tls conf: %w", err)
	}

	return serverconfig.WSServerConfig{
		Enabled:         c.Enabled,
		Addr:            c.Addr,
		Path:            c.Path,
		AllowedOrigins:  c.AllowedOrigins,
		ReadBufferSize:  c.ReadBufferSize,
		WriteBufferSize: c.WriteBufferSize,
		WriteDeadline:   c.WriteDeadline,
		TLS:             c.TLS.Config,
	}, nil
}

func (c *TCPConfig) parse() (serverconfig.TCPServerConfig, error) {
	if !c.Enabled {
		return serverconfig.TCPServerConfig{}, nil
	}
	if err := c.TLS.Parse(); err != nil {
		return serverconfig.TCPServerConfig{}, fmt.Errorf("parse tls conf: %w", err)
	}

	return serverconfig.TCPServerConfig{
		Enabled:               c.Enabled,
		Addr:                  c.Addr,
		WriteDeadline:         c.WriteDeadline,
		ForceTerminateTimeout: c.ForceTerminateTimeout,
		TLS:                   c.TLS.Config,
	}, nil
}

func (c *QUICConfig) parse() (serverconfig.QUICServerConfig, error) {
	if !c.Enabled {
		return serverconfig.QUICServerConfig{}, nil
	}
	if err := c.TLS.Parse(); err != nil {
		return serverconfig.QUICServerConfig{}, fmt.Errorf("parse tls conf: %w", err)
	}

	return serverconfig.QUICServerConfig{
		Enabled:               c.Enabled,
		Addr:                  c.Addr,
		WriteDeadline:         c.WriteDeadline,
		ForceTerminateTimeout: c.ForceTerminateTimeout,
		ObservabilityEnabled:  c.ObservabilityEnabled,
		TLS:                   c.TLS.Config,
		QUIC: &quic.Config{
			MaxIncomingStreams:   c.QUIC.MaxIncomingStreams,
			KeepAlivePeriod:      c.QUIC.KeepAlivePeriod,
			HandshakeIdleTimeout: c.QUIC.HandshakeIdleTimeout,
			MaxIdleTimeout:       c.QUIC.MaxIdleTimeout,
		},
	}, nil
}
