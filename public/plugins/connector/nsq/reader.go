package nsq

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"github.com/fujin-io/stompbridge/public/cerr"
	"github.com/fujin-io/stompbridge/public/plugins/connector"
)

// Reader consumes one topic on one channel. Message ids are the 16 byte
// NSQ message ids.
type Reader struct {
	conf    Config
	channel string
	autoAck bool

	mu       sync.Mutex
	consumer *nsq.Consumer
	msgs     sync.Map // string(msg.ID[:]) -> *nsq.Message

	l *slog.Logger
}

func NewReader(conf Config, group string, autoAck bool, l *slog.Logger) *Reader {
	channel := group
	if channel == "" {
		channel = "stomp-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16] + "#ephemeral"
	}
	return &Reader{
		conf:    conf,
		channel: channel,
		autoAck: autoAck,
		l:       l.With("reader_type", "nsq", "channel", channel),
	}
}

func (r *Reader) Subscribe(_ context.Context, topic string, h func(msg connector.Message)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.consumer != nil {
		return fmt.Errorf("nsq: reader already subscribed")
	}

	cfg := nsq.NewConfig()
	cfg.MaxInFlight = r.conf.MaxInFlight

	consumer, err := nsq.NewConsumer(topic, r.channel, cfg)
	if err != nil {
		return fmt.Errorf("new consumer: %w", err)
	}
	consumer.SetLogger(nsqLogger{r.l}, nsq.LogLevelWarning)

	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		msg := connector.Message{
			Topic: topic,
			Body:  m.Body,
		}
		if !r.autoAck {
			m.DisableAutoResponse()
			msg.MsgID = append([]byte(nil), m.ID[:]...)
			r.msgs.Store(string(msg.MsgID), m)
		}
		h(msg)
		return nil
	}))

	if len(r.conf.LookupdAddresses) > 0 {
		err = consumer.ConnectToNSQLookupds(r.conf.LookupdAddresses)
	} else {
		err = consumer.ConnectToNSQDs(r.conf.Addresses)
	}
	if err != nil {
		consumer.Stop()
		return fmt.Errorf("nsq: connect: %w", err)
	}

	r.consumer = consumer
	return nil
}

func (r *Reader) take(msgID []byte) (*nsq.Message, error) {
	v, ok := r.msgs.LoadAndDelete(string(msgID))
	if !ok {
		return nil, cerr.ErrUnknownMsgID
	}
	return v.(*nsq.Message), nil
}

func (r *Reader) Ack(_ context.Context, msgID []byte) error {
	m, err := r.take(msgID)
	if err != nil {
		return err
	}
	m.Finish()
	return nil
}

func (r *Reader) Nack(_ context.Context, msgID []byte) error {
	m, err := r.take(msgID)
	if err != nil {
		return err
	}
	m.Requeue(-1)
	return nil
}

func (r *Reader) IsAutoCommit() bool {
	return r.autoAck
}

func (r *Reader) Close() error {
	r.mu.Lock()
	consumer := r.consumer
	r.consumer = nil
	r.mu.Unlock()

	if consumer != nil {
		consumer.Stop()
		<-consumer.StopChan
	}
	return nil
}

// nsqLogger forwards go-nsq log lines to slog.
type nsqLogger struct {
	l *slog.Logger
}

func (n nsqLogger) Output(_ int, s string) error {
	n.l.Warn(s)
	return nil
}
