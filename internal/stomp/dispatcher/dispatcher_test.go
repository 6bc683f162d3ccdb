package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fujin-io/stompbridge/internal/connectors"
	"github.com/fujin-io/stompbridge/internal/stomp/gateway"
	"github.com/fujin-io/stompbridge/internal/stomp/registry"
	connectorconfig "github.com/fujin-io/stompbridge/public/plugins/connector/config"
	"github.com/fujin-io/stompbridge/public/plugins/connector/memory"
	"github.com/fujin-io/stompbridge/public/stomp/frame"
)

var connSeq atomic.Uint64

type fakeConn struct {
	id     string
	frames chan *frame.Frame
	hbs    atomic.Int32

	mu     sync.Mutex
	closed bool
	reason string
	after  int // frames sent after close
	done   chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		id:     fmt.Sprintf("conn-%d", connSeq.Add(1)),
		frames: make(chan *frame.Frame, 128),
		done:   make(chan struct{}),
	}
}

func (c *fakeConn) SessionID() string { return c.id }

func (c *fakeConn) Send(f *frame.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.after++
		return fmt.Errorf("closed")
	}
	c.frames <- f
	return nil
}

func (c *fakeConn) SendHeartbeat() error {
	c.hbs.Add(1)
	return nil
}

func (c *fakeConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.reason = reason
		close(c.done)
	}
	return nil
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) next(t *testing.T) *frame.Frame {
	t.Helper()
	select {
	case f := <-c.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func (c *fakeConn) waitClosed(t *testing.T) string {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *fakeConn) assertNoFrame(t *testing.T) {
	t.Helper()
	select {
	case f := <-c.frames:
		t.Fatalf("unexpected frame %s", f)
	case <-time.After(50 * time.Millisecond):
	}
}

type testEnv struct {
	d      *Dispatcher
	broker *memory.Broker
}

func newTestEnv(t *testing.T, conf Config) *testEnv {
	t.Helper()
	l := slog.Default()

	broker := memory.NewBroker()
	ms, err := connectors.NewManagers(nil, l)
	require.NoError(t, err)
	require.NoError(t, ms.Add("mem", memory.NewConnector(broker, l), connectorconfig.ConnectorConfig{}, l))

	gw, err := gateway.New(gateway.Config{Routes: []gateway.Route{{Prefix: "/", Connector: "mem"}}}, ms, l)
	require.NoError(t, err)

	d, err := New(conf, gw, nil, l)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.Close(ctx)
		_ = gw.Close()
		_ = ms.Close()
	})
	return &testEnv{d: d, broker: broker}
}

func (e *testEnv) connect(t *testing.T, kv ...string) *fakeConn {
	t.Helper()
	c := newFakeConn()
	if len(kv) == 0 {
		kv = []string{frame.HdrAcceptVersion, "1.2", frame.HdrHost, "localhost"}
	}
	e.d.OnFrame(c, frame.Newf(frame.CONNECT, kv...))
	f := c.next(t)
	require.Equal(t, frame.CONNECTED, f.Command(), f.String())
	return c
}

// sync sends a frame with a receipt and waits for it, so that everything
// before it has been applied.
func (e *testEnv) sync(t *testing.T, c *fakeConn, f *frame.Frame) {
	t.Helper()
	receipt := fmt.Sprintf("r-%d", connSeq.Add(1))
	e.d.OnFrame(c, frame.New(f.Command(), f.Header().With(frame.HdrReceipt, receipt), f.Body()))
	got := c.next(t)
	require.Equal(t, frame.RECEIPT, got.Command(), got.String())
	require.Equal(t, receipt, got.Value(frame.HdrReceiptID))
}

func TestConnect(t *testing.T) {
	env := newTestEnv(t, Config{ServerName: "stompbridge/test"})

	c := newFakeConn()
	env.d.OnFrame(c, frame.Newf(frame.STOMP, frame.HdrAcceptVersion, "1.1,1.2", frame.HdrReceipt, "r1"))

	f := c.next(t)
	assert.Equal(t, frame.CONNECTED, f.Command())
	assert.Equal(t, "1.2", f.Value(frame.HdrVersion))
	assert.Equal(t, "stompbridge/test", f.Value(frame.HdrServer))
	assert.Equal(t, c.id, f.Value(frame.HdrSession))
	assert.Equal(t, "0,0", f.Value(frame.HdrHeartBeat))

	r := c.next(t)
	assert.Equal(t, frame.RECEIPT, r.Command())
	assert.Equal(t, "r1", r.Value(frame.HdrReceiptID))
	assert.Equal(t, 1, env.d.Sessions())
}

func TestFirstFrameMustBeConnect(t *testing.T) {
	env := newTestEnv(t, Config{})

	for _, cmd := range []frame.Command{frame.SEND, frame.SUBSCRIBE, frame.ACK, frame.NACK, frame.BEGIN, frame.COMMIT, frame.ABORT} {
		t.Run(cmd.String(), func(t *testing.T) {
			c := newFakeConn()
			env.d.OnFrame(c, frame.Newf(cmd, frame.HdrDestination, "/q", frame.HdrID, "0",
				frame.HdrTransaction, "tx", frame.HdrReceipt, "r"))

			f := c.next(t)
			assert.Equal(t, frame.ERROR, f.Command())
			assert.Equal(t, "r", f.Value(frame.HdrReceiptID))
			assert.Contains(t, f.Value(frame.HdrMessage), "expected CONNECT")
			c.waitClosed(t)
			c.assertNoFrame(t)
			assert.Zero(t, env.broker.Subscribers("/q"))
		})
	}
}

func TestVersionMismatch(t *testing.T) {
	env := newTestEnv(t, Config{Versions: []string{"1.2"}})

	c := newFakeConn()
	env.d.OnFrame(c, frame.Newf(frame.CONNECT, frame.HdrAcceptVersion, "1.0"))
	f := c.next(t)
	assert.Equal(t, frame.ERROR, f.Command())
	assert.Equal(t, "text/plain", f.Value(frame.HdrContentType))
	assert.Contains(t, string(f.Body()), "1.2")
	c.waitClosed(t)
}

func TestSubscribeDeliverAck(t *testing.T) {
	env := newTestEnv(t, Config{})
	c := env.connect(t)

	env.sync(t, c, frame.Newf(frame.SUBSCRIBE, frame.HdrID, "sub-0", frame.HdrDestination, "/queue/a", frame.HdrAck, "client-individual"))
	assert.Equal(t, 1, env.broker.Subscribers("/queue/a"))
	assert.Len(t, env.d.Subscribers("/queue/a"), 1)

	env.broker.Publish("/queue/a", []byte("hello"), [][]byte{[]byte("x-custom"), []byte("1")})

	m := c.next(t)
	require.Equal(t, frame.MESSAGE, m.Command())
	assert.Equal(t, "/queue/a", m.Value(frame.HdrDestination))
	assert.Equal(t, "sub-0", m.Value(frame.HdrSubscription))
	assert.NotEmpty(t, m.Value(frame.HdrMessageID))
	assert.Equal(t, m.Value(frame.HdrMessageID), m.Value(frame.HdrAck))
	assert.Equal(t, "1", m.Value("x-custom"))
	assert.Equal(t, []byte("hello"), m.Body())

	env.sync(t, c, frame.Newf(frame.ACK, frame.HdrID, m.Value(frame.HdrAck)))

	// acking twice is an unknown ack and ends the connection
	env.d.OnFrame(c, frame.Newf(frame.ACK, frame.HdrID, m.Value(frame.HdrAck)))
	f := c.next(t)
	assert.Equal(t, frame.ERROR, f.Command())
	c.waitClosed(t)
}

func TestSendRoundTrip(t *testing.T) {
	env := newTestEnv(t, Config{})
	sub := env.connect(t)
	pub := env.connect(t)

	env.sync(t, sub, frame.Newf(frame.SUBSCRIBE, frame.HdrID, "0", frame.HdrDestination, "/topic/*"))

	env.sync(t, pub, frame.New(frame.SEND,
		frame.NewHeader(frame.HdrDestination, "/topic/news", frame.HdrContentType, "text/plain"),
		[]byte("extra")))

	m := sub.next(t)
	assert.Equal(t, frame.MESSAGE, m.Command())
	assert.Equal(t, "/topic/news", m.Value(frame.HdrDestination))
	assert.Equal(t, "text/plain", m.Value(frame.HdrContentType))
	assert.False(t, m.Header().Has(frame.HdrAck), "auto mode carries no ack header")
	assert.Equal(t, []byte("extra"), m.Body())
}

func TestTransactionAbortAndCommit(t *testing.T) {
	env := newTestEnv(t, Config{})
	sub := env.connect(t)
	pub := env.connect(t)
	env.sync(t, sub, frame.Newf(frame.SUBSCRIBE, frame.HdrID, "0", frame.HdrDestination, "/queue/tx"))

	send := func(tx, body string) {
		env.d.OnFrame(pub, frame.New(frame.SEND, frame.NewHeader(frame.HdrDestination, "/queue/tx", frame.HdrTransaction, tx), []byte(body)))
	}

	env.sync(t, pub, frame.Newf(frame.BEGIN, frame.HdrTransaction, "t1"))
	send("t1", "dropped-1")
	send("t1", "dropped-2")
	send("t1", "dropped-3")
	env.sync(t, pub, frame.Newf(frame.ABORT, frame.HdrTransaction, "t1"))
	sub.assertNoFrame(t)

	env.sync(t, pub, frame.Newf(frame.BEGIN, frame.HdrTransaction, "t2"))
	send("t2", "1")
	send("t2", "2")
	send("t2", "3")
	sub.assertNoFrame(t)
	env.sync(t, pub, frame.Newf(frame.COMMIT, frame.HdrTransaction, "t2"))

	for _, want := range []string{"1", "2", "3"} {
		m := sub.next(t)
		assert.Equal(t, want, string(m.Body()))
	}
}

func TestDuplicateSubscription(t *testing.T) {
	env := newTestEnv(t, Config{})
	c := env.connect(t)

	env.sync(t, c, frame.Newf(frame.SUBSCRIBE, frame.HdrID, "0", frame.HdrDestination, "/a"))
	env.d.OnFrame(c, frame.Newf(frame.SUBSCRIBE, frame.HdrID, "0", frame.HdrDestination, "/b", frame.HdrReceipt, "dup"))

	f := c.next(t)
	assert.Equal(t, frame.ERROR, f.Command())
	assert.Equal(t, "dup", f.Value(frame.HdrReceiptID))
	c.waitClosed(t)
	c.assertNoFrame(t)

	assert.Eventually(t, func() bool { return env.broker.Subscribers("/a") == 0 }, 2*time.Second, 10*time.Millisecond,
		"closing the session cancels its subscriptions")
}

func TestUnknownUnsubscribe(t *testing.T) {
	env := newTestEnv(t, Config{})
	c := env.connect(t)

	env.d.OnFrame(c, frame.Newf(frame.UNSUBSCRIBE, frame.HdrID, "missing"))
	f := c.next(t)
	assert.Equal(t, frame.ERROR, f.Command())
	c.waitClosed(t)

	// frames after the error are ignored
	env.d.OnFrame(c, frame.Newf(frame.SEND, frame.HdrDestination, "/q"))
	c.assertNoFrame(t)
}

func TestMalformedFrame(t *testing.T) {
	env := newTestEnv(t, Config{})

	tests := []struct {
		name string
		f    *frame.Frame
	}{
		{"send without destination", frame.Newf(frame.SEND)},
		{"subscribe without id", frame.Newf(frame.SUBSCRIBE, frame.HdrDestination, "/q")},
		{"begin without transaction", frame.Newf(frame.BEGIN)},
		{"ack without id", frame.Newf(frame.ACK)},
		{"server command", frame.Newf(frame.RECEIPT, frame.HdrReceiptID, "x")},
		{"body on subscribe", frame.New(frame.SUBSCRIBE, frame.NewHeader(frame.HdrID, "0", frame.HdrDestination, "/q"), []byte("x"))},
		{"bad ack mode", frame.Newf(frame.SUBSCRIBE, frame.HdrID, "0", frame.HdrDestination, "/q", frame.HdrAck, "sometimes")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := env.connect(t)
			env.d.OnFrame(c, tt.f)
			f := c.next(t)
			assert.Equal(t, frame.ERROR, f.Command())
			c.waitClosed(t)
		})
	}
}

func TestNonFatalBrokerError(t *testing.T) {
	l := slog.Default()
	ms, err := connectors.NewManagers(nil, l)
	require.NoError(t, err)
	require.NoError(t, ms.Add("mem", memory.NewConnector(memory.NewBroker(), l), connectorconfig.ConnectorConfig{}, l))
	gw, err := gateway.New(gateway.Config{Routes: []gateway.Route{{Prefix: "/queue/", Connector: "mem"}}}, ms, l)
	require.NoError(t, err)
	d, err := New(Config{}, gw, nil, l)
	require.NoError(t, err)
	defer d.Close(context.Background())

	env := &testEnv{d: d}
	c := env.connect(t)

	// no route: the broker side fails, the session survives
	d.OnFrame(c, frame.Newf(frame.SEND, frame.HdrDestination, "/unrouted", frame.HdrReceipt, "r1"))
	f := c.next(t)
	assert.Equal(t, frame.ERROR, f.Command())
	assert.Equal(t, "r1", f.Value(frame.HdrReceiptID))

	env.sync(t, c, frame.Newf(frame.SEND, frame.HdrDestination, "/queue/ok"))
}

func TestDisconnect(t *testing.T) {
	env := newTestEnv(t, Config{})
	c := env.connect(t)

	env.sync(t, c, frame.Newf(frame.SUBSCRIBE, frame.HdrID, "0", frame.HdrDestination, "/live"))
	env.sync(t, c, frame.Newf(frame.BEGIN, frame.HdrTransaction, "tx"))
	env.d.OnFrame(c, frame.New(frame.SEND, frame.NewHeader(frame.HdrDestination, "/live", frame.HdrTransaction, "tx"), []byte("never")))
	env.d.OnFrame(c, frame.Newf(frame.DISCONNECT, frame.HdrReceipt, "bye"))

	r := c.next(t)
	assert.Equal(t, frame.RECEIPT, r.Command())
	assert.Equal(t, "bye", r.Value(frame.HdrReceiptID))
	assert.Equal(t, "disconnect", c.waitClosed(t))
	c.assertNoFrame(t)

	assert.Eventually(t, func() bool { return env.broker.Subscribers("/live") == 0 && env.d.Sessions() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestOnClose(t *testing.T) {
	env := newTestEnv(t, Config{})
	c := env.connect(t)
	env.sync(t, c, frame.Newf(frame.SUBSCRIBE, frame.HdrID, "0", frame.HdrDestination, "/x"))

	env.d.OnClose(c, nil)
	assert.Eventually(t, func() bool { return env.broker.Subscribers("/x") == 0 && env.d.Sessions() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	env := newTestEnv(t, Config{})
	c := env.connect(t)

	env.sync(t, c, frame.Newf(frame.SUBSCRIBE, frame.HdrID, "0", frame.HdrDestination, "/u"))
	env.sync(t, c, frame.Newf(frame.UNSUBSCRIBE, frame.HdrID, "0"))
	env.broker.Publish("/u", []byte("late"), nil)
	c.assertNoFrame(t)
	assert.Empty(t, env.d.Subscribers("/u"))
}

func TestIdleTimeout(t *testing.T) {
	env := newTestEnv(t, Config{IdleTimeout: 100 * time.Millisecond})
	c := env.connect(t)

	assert.Equal(t, "idle timeout", c.waitClosed(t))
}

func TestHeartbeatsKeepAlive(t *testing.T) {
	env := newTestEnv(t, Config{
		IdleTimeout: 150 * time.Millisecond,
		HeartBeat:   HeartBeatConfig{Send: 20 * time.Millisecond},
	})
	c := env.connect(t, frame.HdrAcceptVersion, "1.2", frame.HdrHeartBeat, "0,20")

	stop := time.After(300 * time.Millisecond)
	tick := time.NewTicker(30 * time.Millisecond)
	defer tick.Stop()
loop:
	for {
		select {
		case <-tick.C:
			env.d.OnHeartbeat(c)
		case <-stop:
			break loop
		}
	}

	select {
	case <-c.done:
		t.Fatal("connection with inbound heartbeats must stay open")
	default:
	}
	assert.Positive(t, c.hbs.Load(), "server heart-beats are sent")
}

func TestClientHeartbeatExtendsIdleTimeout(t *testing.T) {
	env := newTestEnv(t, Config{
		IdleTimeout: 30 * time.Millisecond,
		HeartBeat:   HeartBeatConfig{Recv: 100 * time.Millisecond},
	})
	start := time.Now()
	c := env.connect(t, frame.HdrAcceptVersion, "1.2", frame.HdrHeartBeat, "100,0")

	time.Sleep(80 * time.Millisecond)
	select {
	case <-c.done:
		t.Fatal("negotiated heart-beat must extend the idle timeout")
	default:
	}

	assert.Equal(t, "idle timeout", c.waitClosed(t))
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestHandlers(t *testing.T) {
	env := newTestEnv(t, Config{})

	var mu sync.Mutex
	var seen []string
	record := func(ctx context.Context, ev Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.Command.String()+" "+ev.Destination)
	}
	env.d.Handle(frame.SUBSCRIBE, "/orders/**", record)
	env.d.Handle(frame.UNSUBSCRIBE, "", record)
	env.d.Handle(frame.SEND, "/orders/*", record)
	env.d.Handle(frame.MESSAGE, "", record)

	c := env.connect(t)
	env.sync(t, c, frame.Newf(frame.SUBSCRIBE, frame.HdrID, "0", frame.HdrDestination, "/orders/**"))
	env.sync(t, c, frame.Newf(frame.SUBSCRIBE, frame.HdrID, "1", frame.HdrDestination, "/billing"))
	env.sync(t, c, frame.Newf(frame.SEND, frame.HdrDestination, "/orders/eu"))
	c.next(t) // the MESSAGE for subscription 0
	env.sync(t, c, frame.Newf(frame.UNSUBSCRIBE, frame.HdrID, "0"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"SUBSCRIBE /orders/**",
		"SEND /orders/eu",
		"MESSAGE /orders/eu",
		"UNSUBSCRIBE /orders/**",
	}, seen)
}

func TestHandlers_OverlapWarning(t *testing.T) {
	env := newTestEnv(t, Config{})
	var buf bytes.Buffer
	env.d.l = slog.New(slog.NewTextHandler(&buf, nil))

	var calls atomic.Int32
	count := func(context.Context, Event) { calls.Add(1) }
	env.d.Handle(frame.SEND, "/orders/*", count)
	env.d.Handle(frame.SEND, "/billing/*", count)
	env.d.Handle(frame.SUBSCRIBE, "/orders/eu", count)
	assert.Empty(t, buf.String())

	env.d.Handle(frame.SEND, "/orders/eu", count)
	assert.Contains(t, buf.String(), "overlapping frame handlers")
	assert.Contains(t, buf.String(), "existing=/orders/*")

	c := env.connect(t)
	env.sync(t, c, frame.Newf(frame.SEND, frame.HdrDestination, "/orders/eu"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestSubscribers(t *testing.T) {
	env := newTestEnv(t, Config{})
	c1 := env.connect(t)
	c2 := env.connect(t)

	env.sync(t, c1, frame.Newf(frame.SUBSCRIBE, frame.HdrID, "a", frame.HdrDestination, "/s/*"))
	env.sync(t, c2, frame.Newf(frame.SUBSCRIBE, frame.HdrID, "a", frame.HdrDestination, "/s/x"))

	got := env.d.Subscribers("/s/x")
	assert.ElementsMatch(t, []registry.Entry{{SessionID: c1.id, SubID: "a"}, {SessionID: c2.id, SubID: "a"}}, got)
}

func TestMaxSessions(t *testing.T) {
	env := newTestEnv(t, Config{MaxSessions: 1})
	env.connect(t)

	c := newFakeConn()
	env.d.OnFrame(c, frame.Newf(frame.CONNECT))
	f := c.next(t)
	assert.Equal(t, frame.ERROR, f.Command())
	c.waitClosed(t)
}

func TestCloseDispatcher(t *testing.T) {
	env := newTestEnv(t, Config{})
	c := env.connect(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, env.d.Close(ctx))
	assert.Equal(t, "server shutting down", c.waitClosed(t))

	late := newFakeConn()
	env.d.OnFrame(late, frame.Newf(frame.CONNECT))
	assert.Equal(t, frame.ERROR, late.next(t).Command())
}

func TestConfig(t *testing.T) {
	var conf Config
	conf.SetDefaults()
	assert.Equal(t, []string{"1.0", "1.1", "1.2"}, conf.Versions)
	assert.Equal(t, DefaultIdleTimeout, conf.IdleTimeout)
	assert.NoError(t, conf.Validate())

	conf.Versions = []string{"3.0"}
	assert.Error(t, conf.Validate())
}

func TestDecodeError(t *testing.T) {
	env := newTestEnv(t, Config{})
	c := env.connect(t)

	env.d.OnDecodeError(c, &frame.MalformedError{Field: "command", Reason: "unknown command \"HELLO\""})
	f := c.next(t)
	assert.Equal(t, frame.ERROR, f.Command())
	assert.Equal(t, "malformed_frame", f.Value(frame.HdrMessage))
	c.waitClosed(t)
}
