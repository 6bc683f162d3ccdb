package config

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/fujin-io/stompbridge/internal/observability"
	"github.com/fujin-io/stompbridge/internal/stomp/dispatcher"
	"github.com/fujin-io/stompbridge/internal/stomp/gateway"
	"github.com/fujin-io/stompbridge/public/plugins/authenticator"
	connectorconfig "github.com/fujin-io/stompbridge/public/plugins/connector/config"
)

type Config struct {
	STOMP         dispatcher.Config
	WS            WSServerConfig
	TCP           TCPServerConfig
	QUIC          QUICServerConfig
	Health        HealthServerConfig
	Auth          authenticator.Config
	Gateway       gateway.Config
	Connectors    connectorconfig.ConnectorsConfig
	Observability observability.Config
}

type WSServerConfig struct {
	Enabled         bool
	Addr            string
	Path            string
	AllowedOrigins  []string
	ReadBufferSize  int
	WriteBufferSize int
	WriteDeadline   time.Duration
	TLS             *tls.Config
}

type TCPServerConfig struct {
	Enabled               bool
	Addr                  string
	WriteDeadline         time.Duration
	ForceTerminateTimeout time.Duration
	TLS                   *tls.Config
}

type QUICServerConfig struct {
	Enabled               bool
	Addr                  string
	WriteDeadline         time.Duration
	ForceTerminateTimeout time.Duration
	ObservabilityEnabled  bool
	TLS                   *tls.Config
	QUIC                  *quic.Config
}

type HealthServerConfig struct {
	Enabled bool
	Addr    string
}

func (c *Config) SetDefaults() {
	if c.WS.Addr == "" {
		c.WS.Addr = ":8080"
	}
	if c.WS.Path == "" {
		c.WS.Path = "/stomp"
	}
	if c.WS.WriteDeadline == 0 {
		c.WS.WriteDeadline = 10 * time.Second
	}

	if c.TCP.Addr == "" {
		c.TCP.Addr = ":61613"
	}
	if c.TCP.WriteDeadline == 0 {
		c.TCP.WriteDeadline = 10 * time.Second
	}
	if c.TCP.ForceTerminateTimeout == 0 {
		c.TCP.ForceTerminateTimeout = 15 * time.Second
	}

	if c.QUIC.Addr == "" {
		c.QUIC.Addr = ":61614"
	}
	if c.QUIC.WriteDeadline == 0 {
		c.QUIC.WriteDeadline = 10 * time.Second
	}
	if c.QUIC.ForceTerminateTimeout == 0 {
		c.QUIC.ForceTerminateTimeout = 15 * time.Second
	}

	if c.Health.Addr == "" {
		c.Health.Addr = ":4849"
	}

	c.Observability.SetDefaults()
	c.STOMP.SetDefaults()
	c.Gateway.SetDefaults()
}

func (c *Config) Validate() error {
	if err := c.STOMP.Validate(); err != nil {
		return err
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	return c.Gateway.Validate()
}
