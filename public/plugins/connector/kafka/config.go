package kafka

import (
	"time"

	"github.com/fujin-io/stompbridge/public/cerr"
	pconfig "github.com/fujin-io/stompbridge/public/config"
)

type Balancer string

const (
	BalancerUnknown           Balancer = ""
	BalancerSticky            Balancer = "sticky"
	BalancerCooperativeSticky Balancer = "cooperative_sticky"
	BalancerRange             Balancer = "range"
	BalancerRoundRobin        Balancer = "round_robin"
)

type IsolationLevel string

const (
	IsolationLevelDefault        IsolationLevel = ""
	IsolationLevelReadUncommited IsolationLevel = "read_uncommited"
	IsolationLevelReadCommited   IsolationLevel = "read_commited"
)

type Config struct {
	Brokers                []string                 `yaml:"brokers"`
	AllowAutoTopicCreation bool                     `yaml:"allow_auto_topic_creation"`
	PingTimeout            time.Duration            `yaml:"ping_timeout"`
	TLS                    *pconfig.ClientTLSConfig `yaml:"tls,omitempty"`

	// reader settings
	MaxPollRecords       int            `yaml:"max_poll_records"`
	FetchIsolationLevel  IsolationLevel `yaml:"fetch_isolation_level"`
	AutoCommitInterval   time.Duration  `yaml:"auto_commit_interval"`
	Balancers            []Balancer     `yaml:"balancers"`
	BlockRebalanceOnPoll bool           `yaml:"block_rebalance_on_poll"`
	// ConsumeFromStart makes readers without a group start at the earliest
	// offset. By default they only see records produced after subscribing.
	ConsumeFromStart bool `yaml:"consume_from_start"`

	// writer settings
	Linger                 time.Duration `yaml:"linger"`
	MaxBufferedRecords     int           `yaml:"max_buffered_records"`
	DisableIdempotentWrite bool          `yaml:"disable_idempotent_write"`
	// TransactionalIDPrefix enables transactions. Every writer gets its own
	// transactional id made of the prefix and a random suffix.
	TransactionalIDPrefix string `yaml:"transactional_id_prefix"`
}

func (c *Config) SetDefaults() {
	if c.PingTimeout <= 0 {
		c.PingTimeout = 5 * time.Second
	}
	if c.MaxPollRecords <= 0 {
		c.MaxPollRecords = 100
	}
}

func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return cerr.ValidationErr("brokers not defined")
	}
	switch c.FetchIsolationLevel {
	case IsolationLevelDefault, IsolationLevelReadUncommited, IsolationLevelReadCommited:
	default:
		return cerr.ValidationErr("unknown fetch isolation level")
	}
	for _, b := range c.Balancers {
		switch b {
		case BalancerSticky, BalancerCooperativeSticky, BalancerRange, BalancerRoundRobin:
		default:
			return cerr.ValidationErr("unknown balancer " + string(b))
		}
	}
	if c.DisableIdempotentWrite && c.TransactionalIDPrefix != "" {
		return cerr.ValidationErr("transactions require idempotent writes")
	}
	return nil
}
