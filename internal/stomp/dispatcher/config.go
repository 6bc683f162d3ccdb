package dispatcher

import (
	"fmt"
	"time"

	"github.com/fujin-io/stompbridge/public/cerr"
	"github.com/fujin-io/stompbridge/public/stomp/frame"
)

const (
	DefaultIdleTimeout = 60 * time.Second
	DefaultMaxSessions = 10000
	DefaultServerName  = "stompbridge"
)

type Config struct {
	// Versions the server accepts. Defaults to 1.0, 1.1 and 1.2.
	Versions []string `yaml:"versions"`
	// HeartBeat is the server's heart-beat wish, negotiated per CONNECT.
	HeartBeat HeartBeatConfig `yaml:"heart_beat"`
	// IdleTimeout closes connections that sent nothing for this long.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// MaxSessions bounds concurrent connections.
	MaxSessions int          `yaml:"max_sessions"`
	ServerName  string       `yaml:"server_name"`
	Limits      frame.Limits `yaml:"limits"`
}

type HeartBeatConfig struct {
	Send time.Duration `yaml:"send"`
	Recv time.Duration `yaml:"recv"`
}

func (c *Config) SetDefaults() {
	if len(c.Versions) == 0 {
		for _, v := range frame.SupportedVersions {
			c.Versions = append(c.Versions, string(v))
		}
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.ServerName == "" {
		c.ServerName = DefaultServerName
	}
}

func (c *Config) Validate() error {
	for _, v := range c.Versions {
		if !frame.Version(v).Valid() {
			return cerr.ValidationErr(fmt.Sprintf("stomp.versions: unsupported version %q", v))
		}
	}
	if c.HeartBeat.Send < 0 || c.HeartBeat.Recv < 0 {
		return cerr.ValidationErr("stomp.heart_beat: negative interval")
	}
	return nil
}

func (c *Config) versions() []frame.Version {
	out := make([]frame.Version, len(c.Versions))
	for i, v := range c.Versions {
		out[i] = frame.Version(v)
	}
	return out
}
