package streams

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/rueidis"

	"github.com/fujin-io/stompbridge/public/cerr"
	"github.com/fujin-io/stompbridge/public/plugins/connector"
)

// Reader reads one stream, through a consumer group when one is set.
// Message ids are stream entry ids.
type Reader struct {
	conf       Config
	client     rueidis.Client
	group      string
	consumer   string
	autoCommit bool

	mu     sync.Mutex
	topic  string
	cancel context.CancelFunc
	done   chan struct{}

	l *slog.Logger
}

func NewReader(conf Config, group string, autoCommit bool, l *slog.Logger) (connector.ReadCloser, error) {
	client, err := conf.NewClient()
	if err != nil {
		return nil, fmt.Errorf("resp_streams: %w", err)
	}

	return &Reader{
		conf:       conf,
		client:     client,
		group:      group,
		consumer:   uuid.NewString(),
		autoCommit: autoCommit,
		l:          l.With("reader_type", "resp_streams"),
	}, nil
}

func (r *Reader) Subscribe(ctx context.Context, topic string, h func(msg connector.Message)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return fmt.Errorf("resp_streams: reader already subscribed to %q", r.topic)
	}

	lastID := ">"
	if r.group != "" {
		err := r.client.Do(ctx, r.client.B().
			XgroupCreate().Key(topic).Group(r.group).Id(r.conf.GroupCreateID).Mkstream().
			Build()).Error()
		if err != nil && !rueidis.IsRedisBusyGroup(err) {
			return fmt.Errorf("resp_streams: xgroup create: %w", err)
		}
	} else {
		// pin the start so entries added right after Subscribe are not missed
		entries, err := r.client.Do(ctx, r.client.B().
			Xrevrange().Key(topic).End("+").Start("-").Count(1).
			Build()).AsXRange()
		if err != nil && !rueidis.IsRedisNil(err) {
			return fmt.Errorf("resp_streams: xrevrange: %w", err)
		}
		lastID = "0-0"
		if len(entries) > 0 {
			lastID = entries[0].ID
		}
	}

	pctx, cancel := context.WithCancel(context.Background())
	r.topic = topic
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.read(pctx, topic, lastID, h)
	return nil
}

func (r *Reader) cmd(topic, lastID string) rueidis.Completed {
	block := r.conf.Block.Milliseconds()
	if r.group == "" {
		return r.client.B().
			Xread().Count(r.conf.Count).Block(block).
			Streams().Key(topic).Id(lastID).
			Build()
	}
	if r.autoCommit {
		return r.client.B().
			Xreadgroup().Group(r.group, r.consumer).
			Count(r.conf.Count).Block(block).Noack().
			Streams().Key(topic).Id(lastID).
			Build()
	}
	return r.client.B().
		Xreadgroup().Group(r.group, r.consumer).
		Count(r.conf.Count).Block(block).
		Streams().Key(topic).Id(lastID).
		Build()
}

func (r *Reader) read(ctx context.Context, topic, lastID string, h func(msg connector.Message)) {
	defer close(r.done)

	for {
		resp, err := r.client.Do(ctx, r.cmd(topic, lastID)).AsXRead()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if rueidis.IsRedisNil(err) {
				continue
			}
			if errors.Is(err, rueidis.ErrClosing) {
				return
			}
			r.l.Error("xread", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.conf.Block):
			}
			continue
		}

		for _, entry := range resp[topic] {
			body, hs, err := decodeEntry(r.conf.Marshaller, entry.FieldValues)
			if err != nil {
				r.l.Error("decode entry", "id", entry.ID, "err", err)
				continue
			}
			msg := connector.Message{
				Topic:   topic,
				Body:    body,
				Headers: hs,
			}
			if !r.autoCommit {
				msg.MsgID = []byte(entry.ID)
			}
			h(msg)

			if r.group == "" {
				lastID = entry.ID
			}
		}
	}
}

// Ack removes the entry from the group's pending list. Readers without a
// group have nothing to acknowledge.
func (r *Reader) Ack(ctx context.Context, msgID []byte) error {
	if len(msgID) == 0 {
		return cerr.ErrUnknownMsgID
	}
	if r.group == "" {
		return nil
	}

	r.mu.Lock()
	topic := r.topic
	r.mu.Unlock()

	return r.client.Do(ctx, r.client.B().Xack().Key(topic).Group(r.group).Id(string(msgID)).Build()).Error()
}

// Nack leaves the entry pending. Another consumer can claim it with
// XAUTOCLAIM once it is idle long enough.
func (r *Reader) Nack(_ context.Context, msgID []byte) error {
	if len(msgID) == 0 {
		return cerr.ErrUnknownMsgID
	}
	return nil
}

func (r *Reader) IsAutoCommit() bool {
	return r.autoCommit
}

func (r *Reader) Close() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	r.client.Close()
	return nil
}
