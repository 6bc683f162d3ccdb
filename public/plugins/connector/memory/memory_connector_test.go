package memory

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fujin-io/stompbridge/public/cerr"
	"github.com/fujin-io/stompbridge/public/plugins/connector"
)

func collect(t *testing.T, r connector.Reader, topic string) <-chan connector.Message {
	t.Helper()
	ch := make(chan connector.Message, 64)
	require.NoError(t, r.Subscribe(context.Background(), topic, func(msg connector.Message) {
		ch <- msg
	}))
	return ch
}

func recv(t *testing.T, ch <-chan connector.Message) connector.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return connector.Message{}
	}
}

func assertNone(t *testing.T, ch <-chan connector.Message) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message %q", msg.Body)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestConnector(t *testing.T) (connector.Connector, *Broker) {
	t.Helper()
	b := NewBroker()
	return NewConnector(b, slog.Default()), b
}

func TestFactory_NamedBroker(t *testing.T) {
	c1, err := NewMemoryConnector(map[string]any{"broker": "factory-test"}, slog.Default())
	require.NoError(t, err)
	c2, err := NewMemoryConnector(Config{Broker: "factory-test"}, slog.Default())
	require.NoError(t, err)

	assert.Same(t, c1.(*memoryConnector).broker, c2.(*memoryConnector).broker)

	c3, err := NewMemoryConnector(nil, slog.Default())
	require.NoError(t, err)
	assert.Same(t, GetBroker("default"), c3.(*memoryConnector).broker)
}

func TestProduceAndSubscribe(t *testing.T) {
	c, b := newTestConnector(t)

	r, err := c.NewReader("", true, slog.Default())
	require.NoError(t, err)
	defer r.Close()
	msgs := collect(t, r, "orders/*")
	assert.Equal(t, 1, b.Subscribers("orders/eu"))

	w, err := c.NewWriter(slog.Default())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, connector.Produce(context.Background(), w, "orders/eu", []byte("hello"), [][]byte{[]byte("k"), []byte("v")}))
	require.NoError(t, connector.Produce(context.Background(), w, "billing/eu", []byte("skip"), nil))

	msg := recv(t, msgs)
	assert.Equal(t, "orders/eu", msg.Topic)
	assert.Equal(t, []byte("hello"), msg.Body)
	assert.Equal(t, [][]byte{[]byte("k"), []byte("v")}, msg.Headers)
	assert.Nil(t, msg.MsgID)
	assertNone(t, msgs)
}

func TestSubscribeTwice(t *testing.T) {
	c, _ := newTestConnector(t)
	r, err := c.NewReader("", true, slog.Default())
	require.NoError(t, err)
	defer r.Close()

	collect(t, r, "a")
	assert.ErrorIs(t, r.Subscribe(context.Background(), "b", func(connector.Message) {}), ErrAlreadySubscribed)
	assert.Error(t, r.Subscribe(context.Background(), "", func(connector.Message) {}))
}

func TestGroupRoundRobin(t *testing.T) {
	c, b := newTestConnector(t)

	r1, _ := c.NewReader("workers", true, slog.Default())
	r2, _ := c.NewReader("workers", true, slog.Default())
	defer r1.Close()
	defer r2.Close()
	m1 := collect(t, r1, "jobs")
	m2 := collect(t, r2, "jobs")

	for range 4 {
		assert.Equal(t, 1, b.Publish("jobs", []byte("job"), nil))
	}

	for range 2 {
		recv(t, m1)
		recv(t, m2)
	}
	assertNone(t, m1)
	assertNone(t, m2)
}

func TestExclusiveFanOut(t *testing.T) {
	c, b := newTestConnector(t)

	r1, _ := c.NewReader("", true, slog.Default())
	r2, _ := c.NewReader("", true, slog.Default())
	defer r1.Close()
	defer r2.Close()
	m1 := collect(t, r1, "news")
	m2 := collect(t, r2, "news")

	assert.Equal(t, 2, b.Publish("news", []byte("x"), nil))
	recv(t, m1)
	recv(t, m2)
}

func TestAckAndNack(t *testing.T) {
	c, b := newTestConnector(t)

	r, err := c.NewReader("", false, slog.Default())
	require.NoError(t, err)
	defer r.Close()
	msgs := collect(t, r, "q")

	b.Publish("q", []byte("one"), nil)
	msg := recv(t, msgs)
	require.NotEmpty(t, msg.MsgID)

	require.NoError(t, r.Nack(context.Background(), msg.MsgID))
	again := recv(t, msgs)
	assert.Equal(t, msg.MsgID, again.MsgID)
	assert.Equal(t, []byte("one"), again.Body)

	require.NoError(t, r.Ack(context.Background(), again.MsgID))
	assert.ErrorIs(t, r.Ack(context.Background(), again.MsgID), cerr.ErrUnknownMsgID)
	assertNone(t, msgs)
}

func TestAutoCommitRejectsAck(t *testing.T) {
	c, _ := newTestConnector(t)
	r, _ := c.NewReader("", true, slog.Default())
	defer r.Close()

	assert.ErrorIs(t, r.Ack(context.Background(), []byte("1")), cerr.ErrNotSupported)
	assert.ErrorIs(t, r.Nack(context.Background(), []byte("1")), cerr.ErrNotSupported)
}

func TestCloseRequeuesUnacked(t *testing.T) {
	c, b := newTestConnector(t)

	r1, _ := c.NewReader("g", false, slog.Default())
	m1 := collect(t, r1, "q")

	b.Publish("q", []byte("pending"), nil)
	recv(t, m1)

	r2, _ := c.NewReader("g", false, slog.Default())
	defer r2.Close()
	m2 := collect(t, r2, "q")

	require.NoError(t, r1.Close())
	require.NoError(t, r1.Close())

	msg := recv(t, m2)
	assert.Equal(t, []byte("pending"), msg.Body)
}

func TestWriterTransaction(t *testing.T) {
	c, _ := newTestConnector(t)

	r, _ := c.NewReader("", true, slog.Default())
	defer r.Close()
	msgs := collect(t, r, "tx")

	w, _ := c.NewWriter(slog.Default())
	defer w.Close()
	ctx := context.Background()

	assert.ErrorIs(t, w.CommitTx(ctx), ErrNoTx)
	require.NoError(t, w.BeginTx(ctx))
	assert.ErrorIs(t, w.BeginTx(ctx), ErrTxInProgress)

	require.NoError(t, connector.Produce(ctx, w, "tx", []byte("a"), nil))
	require.NoError(t, connector.Produce(ctx, w, "tx", []byte("b"), nil))
	assertNone(t, msgs)

	require.NoError(t, w.CommitTx(ctx))
	assert.Equal(t, []byte("a"), recv(t, msgs).Body)
	assert.Equal(t, []byte("b"), recv(t, msgs).Body)

	require.NoError(t, w.BeginTx(ctx))
	require.NoError(t, connector.Produce(ctx, w, "tx", []byte("c"), nil))
	require.NoError(t, w.RollbackTx(ctx))
	assertNone(t, msgs)
}

func TestWriterClosed(t *testing.T) {
	c, _ := newTestConnector(t)
	w, _ := c.NewWriter(slog.Default())
	require.NoError(t, w.Close())

	err := connector.Produce(context.Background(), w, "x", []byte("y"), nil)
	assert.ErrorIs(t, err, cerr.ErrClosed)
	assert.ErrorIs(t, w.BeginTx(context.Background()), cerr.ErrClosed)
}
