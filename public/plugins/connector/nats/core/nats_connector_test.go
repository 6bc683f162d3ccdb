package core

import (
	"context"
	"log/slog"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fujin-io/stompbridge/public/cerr"
	"github.com/fujin-io/stompbridge/public/plugins/connector"
)

func runNATS(t *testing.T) string {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		t.Fatal("nats: not ready for connections")
	}
	t.Cleanup(ns.Shutdown)
	return ns.ClientURL()
}

func newConnector(t *testing.T) connector.Connector {
	t.Helper()
	c, err := NewNATSConnector(map[string]any{"url": runNATS(t)}, slog.Default())
	require.NoError(t, err)
	return c
}

func collect(t *testing.T, r connector.Reader, topic string) <-chan connector.Message {
	t.Helper()
	ch := make(chan connector.Message, 16)
	require.NoError(t, r.Subscribe(context.Background(), topic, func(msg connector.Message) {
		ch <- msg
	}))
	return ch
}

func next(t *testing.T, ch <-chan connector.Message) connector.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return connector.Message{}
	}
}

func TestConfig(t *testing.T) {
	_, err := NewNATSConnector(map[string]any{}, slog.Default())
	assert.Error(t, err)

	_, err = NewNATSConnector(Config{URL: "nats://127.0.0.1:4222", MaxReconnects: -2}, slog.Default())
	assert.Error(t, err)
}

func TestProduceSubscribe(t *testing.T) {
	c := newConnector(t)
	ctx := context.Background()

	r, err := c.NewReader("", true, slog.Default())
	require.NoError(t, err)
	defer r.Close()
	ch := collect(t, r, "orders.*")

	w, err := c.NewWriter(slog.Default())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, connector.Produce(ctx, w, "orders.eu", []byte("hello"), [][]byte{[]byte("x-id"), []byte("1")}))

	msg := next(t, ch)
	assert.Equal(t, "orders.eu", msg.Topic)
	assert.Equal(t, []byte("hello"), msg.Body)
	v, ok := connector.HeaderValue(msg.Headers, "x-id")
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	assert.NoError(t, r.Ack(ctx, msg.MsgID))
	assert.NoError(t, r.Nack(ctx, msg.MsgID))
}

func TestQueueGroup(t *testing.T) {
	c := newConnector(t)
	ctx := context.Background()

	r1, err := c.NewReader("workers", false, slog.Default())
	require.NoError(t, err)
	defer r1.Close()
	r2, err := c.NewReader("workers", false, slog.Default())
	require.NoError(t, err)
	defer r2.Close()
	assert.False(t, r1.IsAutoCommit())

	ch := make(chan connector.Message, 32)
	h := func(msg connector.Message) { ch <- msg }
	require.NoError(t, r1.Subscribe(ctx, "jobs", h))
	require.NoError(t, r2.Subscribe(ctx, "jobs", h))

	w, err := c.NewWriter(slog.Default())
	require.NoError(t, err)
	defer w.Close()
	for range 10 {
		require.NoError(t, connector.Produce(ctx, w, "jobs", []byte("job"), nil))
	}

	for range 10 {
		next(t, ch)
	}
	select {
	case <-ch:
		t.Fatal("queue group delivered a message twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribeTwice(t *testing.T) {
	c := newConnector(t)

	r, err := c.NewReader("", true, slog.Default())
	require.NoError(t, err)
	defer r.Close()

	collect(t, r, "a")
	assert.Error(t, r.Subscribe(context.Background(), "b", func(connector.Message) {}))
}

func TestTransactionsNotSupported(t *testing.T) {
	c := newConnector(t)
	ctx := context.Background()

	w, err := c.NewWriter(slog.Default())
	require.NoError(t, err)
	defer w.Close()

	assert.ErrorIs(t, w.BeginTx(ctx), cerr.ErrNotSupported)
	assert.ErrorIs(t, w.CommitTx(ctx), cerr.ErrNotSupported)
	assert.ErrorIs(t, w.RollbackTx(ctx), cerr.ErrNotSupported)
}

func TestCloseStopsDelivery(t *testing.T) {
	c := newConnector(t)
	ctx := context.Background()

	r, err := c.NewReader("", true, slog.Default())
	require.NoError(t, err)
	ch := collect(t, r, "gone")
	require.NoError(t, r.Close())

	w, err := c.NewWriter(slog.Default())
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, connector.Produce(ctx, w, "gone", []byte("x"), nil))

	select {
	case <-ch:
		t.Fatal("closed reader received a message")
	case <-time.After(100 * time.Millisecond):
	}
}
