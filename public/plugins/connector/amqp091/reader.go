package amqp091

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fujin-io/stompbridge/public/cerr"
	"github.com/fujin-io/stompbridge/public/plugins/connector"
)

// Reader consumes one queue bound to the exchange with the subscribed
// destination as binding key. Message ids are big endian delivery tags.
type Reader struct {
	conf       Config
	group      string
	autoCommit bool

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	done    chan struct{}

	l *slog.Logger
}

func NewReader(conf Config, group string, autoCommit bool, l *slog.Logger) (connector.ReadCloser, error) {
	conn, ch, err := dial(conf)
	if err != nil {
		return nil, err
	}

	if conf.Consume.PrefetchCount > 0 {
		if err := ch.Qos(conf.Consume.PrefetchCount, 0, false); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("amqp091: qos: %w", err)
		}
	}

	return &Reader{
		conf:       conf,
		group:      group,
		autoCommit: autoCommit,
		conn:       conn,
		channel:    ch,
		l:          l.With("reader_type", "amqp091"),
	}, nil
}

func (r *Reader) Subscribe(_ context.Context, topic string, h func(msg connector.Message)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return fmt.Errorf("amqp091: reader already subscribed to queue %q", r.queue)
	}

	var (
		q   amqp.Queue
		err error
	)
	if r.group != "" {
		q, err = r.channel.QueueDeclare(
			r.group,
			r.conf.Queue.Durable,
			r.conf.Queue.AutoDelete,
			false,
			r.conf.Queue.NoWait,
			r.conf.Queue.Args,
		)
	} else {
		q, err = r.channel.QueueDeclare("", false, true, true, false, nil)
	}
	if err != nil {
		return fmt.Errorf("amqp091: declare queue: %w", err)
	}

	if err = r.channel.QueueBind(q.Name, topic, r.conf.Exchange.Name, false, nil); err != nil {
		return fmt.Errorf("amqp091: queue bind: %w", err)
	}

	msgs, err := r.channel.Consume(
		q.Name,
		r.conf.Consume.Consumer,
		r.autoCommit,
		r.group == "",
		r.conf.Consume.NoLocal,
		r.conf.Consume.NoWait,
		r.conf.Consume.Args,
	)
	if err != nil {
		return fmt.Errorf("amqp091: consume: %w", err)
	}

	r.queue = q.Name
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		for d := range msgs {
			msg := connector.Message{
				Topic:   d.RoutingKey,
				Body:    d.Body,
				Headers: fromTable(d.Headers),
			}
			if !r.autoCommit {
				msg.MsgID = binary.BigEndian.AppendUint64(nil, d.DeliveryTag)
			}
			h(msg)
		}
	}()
	return nil
}

func (r *Reader) Ack(_ context.Context, msgID []byte) error {
	tag, err := deliveryTag(msgID)
	if err != nil {
		return err
	}
	return r.channel.Ack(tag, false)
}

func (r *Reader) Nack(_ context.Context, msgID []byte) error {
	tag, err := deliveryTag(msgID)
	if err != nil {
		return err
	}
	return r.channel.Nack(tag, false, r.conf.Nack.Requeue)
}

func (r *Reader) IsAutoCommit() bool {
	return r.autoCommit
}

func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.channel.Close(); err != nil && !r.conn.IsClosed() {
		r.l.Error("close channel", "err", err)
	}
	if err := r.conn.Close(); err != nil && err != amqp.ErrClosed {
		r.l.Error("close conn", "err", err)
	}
	if r.done != nil {
		<-r.done
	}
	return nil
}

func deliveryTag(msgID []byte) (uint64, error) {
	if len(msgID) != 8 {
		return 0, fmt.Errorf("amqp091: delivery tag of %d bytes: %w", len(msgID), cerr.ErrUnknownMsgID)
	}
	return binary.BigEndian.Uint64(msgID), nil
}
