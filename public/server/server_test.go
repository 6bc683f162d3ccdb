package server_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/gorilla/websocket"
	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fujin-io/stompbridge/internal/stomp/gateway"
	"github.com/fujin-io/stompbridge/public/plugins/authenticator"
	_ "github.com/fujin-io/stompbridge/public/plugins/authenticator/api_key"
	connectorconfig "github.com/fujin-io/stompbridge/public/plugins/connector/config"
	_ "github.com/fujin-io/stompbridge/public/plugins/connector/memory"
	"github.com/fujin-io/stompbridge/public/server"
	"github.com/fujin-io/stompbridge/public/server/config"
	"github.com/fujin-io/stompbridge/public/stomp/frame"
)

var brokerSeq atomic.Uint64

func baseConfig() config.Config {
	return config.Config{
		TCP: config.TCPServerConfig{Enabled: true, Addr: "127.0.0.1:0", ForceTerminateTimeout: time.Second},
		WS:  config.WSServerConfig{Enabled: true, Addr: "127.0.0.1:0"},
		Gateway: gateway.Config{Routes: []gateway.Route{
			{Prefix: "/", Connector: "mem"},
		}},
		Connectors: connectorconfig.ConnectorsConfig{
			"mem": {
				Protocol: "memory",
				Settings: map[string]any{"broker": fmt.Sprintf("server-test-%d", brokerSeq.Add(1))},
			},
		},
	}
}

func startServer(t *testing.T, conf config.Config, setup ...func(s *server.Server)) *server.Server {
	t.Helper()

	s, err := server.NewServer(conf, slog.Default())
	require.NoError(t, err)
	for _, fn := range setup {
		fn(s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe(ctx) }()
	require.True(t, s.ReadyForConnections(5*time.Second), "server not ready")

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	})
	return s
}

func dialTCP(t *testing.T, s *server.Server, opts ...func(*stomp.Conn) error) *stomp.Conn {
	t.Helper()
	c, err := stomp.Dial("tcp", s.TCPAddr().String(), opts...)
	require.NoError(t, err)
	return c
}

func receive(t *testing.T, sub *stomp.Subscription) *stomp.Message {
	t.Helper()
	select {
	case msg := <-sub.C:
		require.NotNil(t, msg)
		require.NoError(t, msg.Err)
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func assertNothing(t *testing.T, sub *stomp.Subscription) {
	t.Helper()
	select {
	case msg := <-sub.C:
		t.Fatalf("unexpected message %v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTCPSendSubscribe(t *testing.T) {
	s := startServer(t, baseConfig())

	sub := dialTCP(t, s)
	defer sub.Disconnect()
	pub := dialTCP(t, s)
	defer pub.Disconnect()

	subscription, err := sub.Subscribe("/queue/orders", stomp.AckClientIndividual)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(s.Subscribers("/queue/orders")) == 1 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, pub.Send("/queue/orders", "text/plain", []byte("order-1"), stomp.SendOpt.Receipt))

	msg := receive(t, subscription)
	assert.Equal(t, "/queue/orders", msg.Destination)
	assert.Equal(t, "text/plain", msg.ContentType)
	assert.Equal(t, []byte("order-1"), msg.Body)
	require.NoError(t, sub.Ack(msg))

	require.NoError(t, subscription.Unsubscribe())
	require.Eventually(t, func() bool { return len(s.Subscribers("/queue/orders")) == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestTCPTransactions(t *testing.T) {
	s := startServer(t, baseConfig())

	c := dialTCP(t, s)
	defer c.Disconnect()

	subscription, err := c.Subscribe("/queue/tx", stomp.AckAuto)
	require.NoError(t, err)

	tx := c.Begin()
	for i := range 3 {
		require.NoError(t, tx.Send("/queue/tx", "text/plain", fmt.Appendf(nil, "aborted-%d", i)))
	}
	require.NoError(t, tx.Abort())
	assertNothing(t, subscription)

	tx = c.Begin()
	for i := range 3 {
		require.NoError(t, tx.Send("/queue/tx", "text/plain", fmt.Appendf(nil, "%d", i)))
	}
	assertNothing(t, subscription)
	require.NoError(t, tx.Commit())

	for i := range 3 {
		msg := receive(t, subscription)
		assert.Equal(t, fmt.Sprintf("%d", i), string(msg.Body))
	}
}

func TestTCPHandlers(t *testing.T) {
	var sends, messages atomic.Int32
	s := startServer(t, baseConfig(), func(s *server.Server) {
		s.Handle(frame.SEND, "/events/*", func(ctx context.Context, ev server.Event) {
			sends.Add(1)
		})
		s.Handle(frame.MESSAGE, "/events/**", func(ctx context.Context, ev server.Event) {
			messages.Add(1)
		})
	})

	c := dialTCP(t, s)
	defer c.Disconnect()

	subscription, err := c.Subscribe("/events/*", stomp.AckAuto)
	require.NoError(t, err)
	require.NoError(t, c.Send("/events/a", "text/plain", []byte("x")))
	require.NoError(t, c.Send("/other", "text/plain", []byte("y")))
	receive(t, subscription)

	assert.Eventually(t, func() bool { return sends.Load() == 1 && messages.Load() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestTCPAuthentication(t *testing.T) {
	conf := baseConfig()
	conf.Auth = authenticator.Config{Name: "api_key", Config: map[string]any{"api_key": "secret"}}
	s := startServer(t, conf)

	_, err := stomp.Dial("tcp", s.TCPAddr().String(), stomp.ConnOpt.Login("guest", "wrong"))
	require.Error(t, err)

	c, err := stomp.Dial("tcp", s.TCPAddr().String(), stomp.ConnOpt.Login("guest", "secret"))
	require.NoError(t, err)
	require.NoError(t, c.Disconnect())
}

func TestTCPProtocolError(t *testing.T) {
	s := startServer(t, baseConfig())

	nc, err := net.Dial("tcp", s.TCPAddr().String())
	require.NoError(t, err)
	defer nc.Close()
	require.NoError(t, nc.SetDeadline(time.Now().Add(2*time.Second)))

	// anything but CONNECT as the first frame ends the connection
	_, err = nc.Write(frame.Encode(frame.Newf(frame.SEND, frame.HdrDestination, "/a", frame.HdrReceipt, "r")))
	require.NoError(t, err)

	r := frame.NewReader(nc)
	f, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, frame.ERROR, f.Command())
	assert.Equal(t, "r", f.Value(frame.HdrReceiptID))

	_, err = r.Read()
	assert.ErrorIs(t, err, io.EOF)
}

type wsClient struct {
	t  *testing.T
	wc *websocket.Conn
}

func dialWS(t *testing.T, s *server.Server) *wsClient {
	t.Helper()
	d := websocket.Dialer{Subprotocols: []string{"v12.stomp"}}
	wc, resp, err := d.Dial("ws://"+s.WSAddr().String()+"/stomp", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "v12.stomp", wc.Subprotocol())
	t.Cleanup(func() { _ = wc.Close() })
	return &wsClient{t: t, wc: wc}
}

func (c *wsClient) send(f *frame.Frame) {
	c.t.Helper()
	require.NoError(c.t, c.wc.WriteMessage(websocket.TextMessage, frame.Encode(f)))
}

func (c *wsClient) next() *frame.Frame {
	c.t.Helper()
	require.NoError(c.t, c.wc.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := c.wc.ReadMessage()
		require.NoError(c.t, err)
		f, err := frame.NewReader(bytes.NewReader(data)).Read()
		require.NoError(c.t, err)
		if f != nil {
			return f
		}
	}
}

func TestWebSocket(t *testing.T) {
	s := startServer(t, baseConfig())
	c := dialWS(t, s)

	c.send(frame.Newf(frame.CONNECT, frame.HdrAcceptVersion, "1.2", frame.HdrHost, "localhost"))
	f := c.next()
	require.Equal(t, frame.CONNECTED, f.Command(), f.String())
	assert.Equal(t, "1.2", f.Value(frame.HdrVersion))

	c.send(frame.Newf(frame.SUBSCRIBE, frame.HdrID, "0", frame.HdrDestination, "/topic/chat", frame.HdrReceipt, "sub"))
	f = c.next()
	require.Equal(t, frame.RECEIPT, f.Command())
	assert.Equal(t, "sub", f.Value(frame.HdrReceiptID))

	c.send(frame.New(frame.SEND, frame.NewHeader(frame.HdrDestination, "/topic/chat"), []byte("hello\nworld")))
	f = c.next()
	require.Equal(t, frame.MESSAGE, f.Command())
	assert.Equal(t, "0", f.Value(frame.HdrSubscription))
	assert.Equal(t, []byte("hello\nworld"), f.Body())

	c.send(frame.Newf(frame.UNSUBSCRIBE, frame.HdrID, "nope"))
	f = c.next()
	assert.Equal(t, frame.ERROR, f.Command())

	_, _, err := c.wc.ReadMessage()
	assert.Error(t, err, "connection is closed after ERROR")
}

func TestQUIC(t *testing.T) {
	conf := baseConfig()
	conf.QUIC = config.QUICServerConfig{
		Enabled:               true,
		Addr:                  "127.0.0.1:0",
		ForceTerminateTimeout: time.Second,
		TLS:                   selfSignedTLS(t),
	}
	s := startServer(t, conf)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	qc, err := quic.DialAddr(ctx, s.QUICAddr().String(),
		&tls.Config{InsecureSkipVerify: true, NextProtos: []string{"stomp"}}, nil)
	require.NoError(t, err)
	defer qc.CloseWithError(0, "")

	str, err := qc.OpenStreamSync(ctx)
	require.NoError(t, err)

	c, err := stomp.Connect(str)
	require.NoError(t, err)
	defer c.Disconnect()

	sub, err := c.Subscribe("/quic", stomp.AckAuto)
	require.NoError(t, err)
	require.NoError(t, c.Send("/quic", "application/octet-stream", []byte{0, 1, 2}))

	msg := receive(t, sub)
	assert.Equal(t, []byte{0, 1, 2}, msg.Body)
}

func TestShutdownClosesConnections(t *testing.T) {
	s, err := server.NewServer(baseConfig(), slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe(ctx) }()
	require.True(t, s.ReadyForConnections(5*time.Second))

	c := dialTCP(t, s)
	sub, err := c.Subscribe("/x", stomp.AckAuto)
	require.NoError(t, err)

	cancel()
	select {
	case <-s.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
	require.NoError(t, <-errCh)

	select {
	case msg, ok := <-sub.C:
		if ok {
			assert.Error(t, msg.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not terminated")
	}
}

func TestNewServerValidation(t *testing.T) {
	conf := baseConfig()
	conf.Gateway.Routes = append(conf.Gateway.Routes, gateway.Route{Prefix: "/x"})
	_, err := server.NewServer(conf, slog.Default())
	assert.Error(t, err)

	conf = baseConfig()
	conf.Connectors["bad"] = connectorconfig.ConnectorConfig{Protocol: "does-not-exist"}
	_, err = server.NewServer(conf, slog.Default())
	assert.Error(t, err)

	conf = baseConfig()
	conf.STOMP.Versions = []string{"2.0"}
	_, err = server.NewServer(conf, slog.Default())
	assert.Error(t, err)

	conf = baseConfig()
	conf.Auth = authenticator.Config{Name: "missing"}
	_, err = server.NewServer(conf, slog.Default())
	assert.Error(t, err)
}

func selfSignedTLS(t *testing.T) *tls.Config {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		DNSNames:     []string{"localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
	}
}
