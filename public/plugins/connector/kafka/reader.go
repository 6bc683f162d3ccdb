package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/fujin-io/stompbridge/public/plugins/connector"
)

// Reader owns one kgo client consuming one topic. The client is created by
// Subscribe because kgo binds topics at construction.
type Reader struct {
	conf       Config
	tls        *tls.Config
	group      string
	autoCommit bool

	mu     sync.Mutex
	cl     *kgo.Client
	cancel context.CancelFunc
	done   chan struct{}

	l *slog.Logger
}

func NewReader(conf Config, tlsConf *tls.Config, group string, autoCommit bool, l *slog.Logger) *Reader {
	return &Reader{
		conf:       conf,
		tls:        tlsConf,
		group:      group,
		autoCommit: autoCommit,
		l:          l.With("reader_type", "kafka"),
	}
}

func (r *Reader) Subscribe(ctx context.Context, topic string, h func(msg connector.Message)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cl != nil {
		return errors.New("kafka: reader already subscribed")
	}

	cl, err := kgo.NewClient(readerOpts(r.conf, r.tls, topic, r.group, r.autoCommit)...)
	if err != nil {
		return fmt.Errorf("kafka: new client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, r.conf.PingTimeout)
	defer cancel()
	if err := cl.Ping(pingCtx); err != nil {
		cl.Close()
		return fmt.Errorf("kafka: ping: %w", err)
	}

	pctx, pcancel := context.WithCancel(context.Background())
	r.cl = cl
	r.cancel = pcancel
	r.done = make(chan struct{})
	go r.poll(pctx, cl, h)
	return nil
}

func (r *Reader) poll(ctx context.Context, cl *kgo.Client, h func(msg connector.Message)) {
	defer close(r.done)

	for {
		fetches := cl.PollRecords(ctx, r.conf.MaxPollRecords)
		if ctx.Err() != nil || fetches.IsClientClosed() {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			r.l.Error("poll", "topic", topic, "partition", partition, "err", err)
		})

		fetches.EachRecord(func(rec *kgo.Record) {
			msg := connector.Message{
				Topic:   rec.Topic,
				Body:    rec.Value,
				Headers: messageHeaders(rec.Headers),
			}
			if !r.autoCommit {
				msg.MsgID = encodeMsgID(rec)
			}
			h(msg)
		})
		if r.conf.BlockRebalanceOnPoll {
			cl.AllowRebalance()
		}
	}
}

// Ack commits the offset after the record. Without a consumer group there
// is nothing to commit and Ack succeeds.
func (r *Reader) Ack(ctx context.Context, msgID []byte) error {
	topic, partition, eo, err := decodeMsgID(msgID)
	if err != nil {
		return err
	}
	if r.group == "" {
		return nil
	}

	r.mu.Lock()
	cl := r.cl
	r.mu.Unlock()
	if cl == nil {
		return errors.New("kafka: reader is not subscribed")
	}

	eo.Offset++
	offsets := map[string]map[int32]kgo.EpochOffset{
		topic: {partition: eo},
	}

	var commitErr error
	cl.CommitOffsetsSync(ctx, offsets, func(_ *kgo.Client, _ *kmsg.OffsetCommitRequest, resp *kmsg.OffsetCommitResponse, err error) {
		if err != nil {
			commitErr = err
			return
		}
		for _, t := range resp.Topics {
			for _, p := range t.Partitions {
				if err := kerr.ErrorForCode(p.ErrorCode); err != nil {
					commitErr = err
				}
			}
		}
	})
	if commitErr != nil {
		return fmt.Errorf("kafka: commit offset: %w", commitErr)
	}
	return nil
}

// Nack leaves the offset uncommitted. Kafka has no per record negative
// acknowledgement; the record is redelivered after a rebalance or restart.
func (r *Reader) Nack(_ context.Context, msgID []byte) error {
	_, _, _, err := decodeMsgID(msgID)
	return err
}

func (r *Reader) IsAutoCommit() bool {
	return r.autoCommit
}

func (r *Reader) Close() error {
	r.mu.Lock()
	cl, cancel, done := r.cl, r.cancel, r.done
	r.mu.Unlock()
	if cl == nil {
		return nil
	}

	cancel()
	<-done
	cl.Close()
	return nil
}
