package amqp091

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fujin-io/stompbridge/public/cerr"
)

type ConnConfig struct {
	URL string `yaml:"url"`

	Vhost      string        `yaml:"vhost"`
	ChannelMax uint16        `yaml:"channel_max"`
	FrameSize  int           `yaml:"frame_size"`
	Heartbeat  time.Duration `yaml:"heartbeat"`
}

func (c ConnConfig) amqp() amqp.Config {
	return amqp.Config{
		Vhost:      c.Vhost,
		ChannelMax: c.ChannelMax,
		FrameSize:  c.FrameSize,
		Heartbeat:  c.Heartbeat,
	}
}

// ExchangeConfig is the exchange every writer publishes to and every
// reader binds its queue to. Destinations become routing keys.
type ExchangeConfig struct {
	Name       string     `yaml:"name"`
	Kind       string     `yaml:"kind"`
	Durable    bool       `yaml:"durable"`
	AutoDelete bool       `yaml:"auto_delete"`
	Internal   bool       `yaml:"internal"`
	NoWait     bool       `yaml:"no_wait"`
	Args       amqp.Table `yaml:"args"`
}

// QueueConfig applies to queues declared for grouped readers. Readers
// without a group always get a server named, exclusive, auto delete queue.
type QueueConfig struct {
	Durable    bool       `yaml:"durable"`
	AutoDelete bool       `yaml:"auto_delete"`
	NoWait     bool       `yaml:"no_wait"`
	Args       amqp.Table `yaml:"args"`
}

type ConsumeConfig struct {
	Consumer      string     `yaml:"consumer"`
	NoLocal       bool       `yaml:"no_local"`
	NoWait        bool       `yaml:"no_wait"`
	PrefetchCount int        `yaml:"prefetch_count"`
	Args          amqp.Table `yaml:"args"`
}

type NackConfig struct {
	Requeue bool `yaml:"requeue"`
}

type PublishConfig struct {
	Mandatory bool `yaml:"mandatory"`
	Immediate bool `yaml:"immediate"`

	ContentType     string `yaml:"content_type"`
	ContentEncoding string `yaml:"content_encoding"`
	DeliveryMode    uint8  `yaml:"delivery_mode"`
	Priority        uint8  `yaml:"priority"`
	AppId           string `yaml:"app_id"`
}

type Config struct {
	Conn     ConnConfig     `yaml:"conn"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Queue    QueueConfig    `yaml:"queue"`
	Consume  ConsumeConfig  `yaml:"consume"`
	Nack     NackConfig     `yaml:"nack"`
	Publish  PublishConfig  `yaml:"publish"`
}

func (c *Config) SetDefaults() {
	if c.Exchange.Name == "" {
		c.Exchange.Name = "amq.topic"
		c.Exchange.Kind = amqp.ExchangeTopic
		c.Exchange.Durable = true
	}
	if c.Exchange.Kind == "" {
		c.Exchange.Kind = amqp.ExchangeTopic
	}
	if c.Publish.DeliveryMode == 0 {
		c.Publish.DeliveryMode = amqp.Persistent
	}
}

func (c Config) Validate() error {
	if c.Conn.URL == "" {
		return cerr.ValidationErr("conn.url is not defined")
	}
	switch c.Exchange.Kind {
	case amqp.ExchangeDirect, amqp.ExchangeFanout, amqp.ExchangeTopic, amqp.ExchangeHeaders:
	default:
		return cerr.ValidationErr("exchange.kind must be one of direct, fanout, topic, headers")
	}
	if c.Consume.PrefetchCount < 0 {
		return cerr.ValidationErr("consume.prefetch_count must not be negative")
	}
	if c.Publish.DeliveryMode != amqp.Transient && c.Publish.DeliveryMode != amqp.Persistent {
		return cerr.ValidationErr("publish.delivery_mode must be 1 (transient) or 2 (persistent)")
	}
	return nil
}
