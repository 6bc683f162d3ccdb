package amqp10

import (
	"time"

	"github.com/Azure/go-amqp"

	"github.com/fujin-io/stompbridge/public/cerr"
)

type ConnConfig struct {
	Addr         string         `yaml:"addr"`
	ContainerID  string         `yaml:"container_id"`
	HostName     string         `yaml:"host_name"`
	IdleTimeout  time.Duration  `yaml:"idle_timeout"`
	MaxFrameSize uint32         `yaml:"max_frame_size"`
	MaxSessions  uint16         `yaml:"max_sessions"`
	Properties   map[string]any `yaml:"properties"`
	WriteTimeout time.Duration  `yaml:"write_timeout"`
}

type SessionConfig struct {
	MaxLinks uint32 `yaml:"max_links"`
}

type SenderConfig struct {
	Durability   amqp.Durability `yaml:"durability"`
	Capabilities []string        `yaml:"capabilities"`
	// Settled sends pre settled messages. Produce then completes without
	// waiting for the broker disposition.
	Settled bool `yaml:"settled"`
}

type ReceiverConfig struct {
	Credit       int32           `yaml:"credit"`
	Durability   amqp.Durability `yaml:"durability"`
	Capabilities []string        `yaml:"capabilities"`
	// Reject settles nacked messages as rejected instead of released, so
	// the broker dead letters them rather than redelivering.
	Reject bool `yaml:"reject"`
}

type Config struct {
	Conn     ConnConfig     `yaml:"conn"`
	Session  SessionConfig  `yaml:"session"`
	Sender   SenderConfig   `yaml:"sender"`
	Receiver ReceiverConfig `yaml:"receiver"`
}

func (c *Config) SetDefaults() {
	if c.Receiver.Credit == 0 {
		c.Receiver.Credit = 64
	}
}

func (c Config) Validate() error {
	if c.Conn.Addr == "" {
		return cerr.ValidationErr("conn.addr is not defined")
	}
	if c.Receiver.Credit < 0 {
		return cerr.ValidationErr("receiver.credit must not be negative")
	}
	return nil
}

func (c ConnConfig) options() *amqp.ConnOptions {
	return &amqp.ConnOptions{
		ContainerID:  c.ContainerID,
		HostName:     c.HostName,
		IdleTimeout:  c.IdleTimeout,
		MaxFrameSize: c.MaxFrameSize,
		MaxSessions:  c.MaxSessions,
		Properties:   c.Properties,
		WriteTimeout: c.WriteTimeout,
	}
}
