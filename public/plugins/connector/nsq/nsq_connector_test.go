package nsq

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fujin-io/stompbridge/public/cerr"
)

func TestConfig(t *testing.T) {
	_, err := NewNSQConnector(map[string]any{}, slog.Default())
	assert.ErrorIs(t, err, cerr.ErrValidateConf)

	c := Config{Address: "127.0.0.1:4150"}
	c.SetDefaults()
	require.NoError(t, c.Validate())
	assert.Equal(t, []string{"127.0.0.1:4150"}, c.Addresses)
	assert.Equal(t, 1, c.MaxInFlight)

	c = Config{Address: "127.0.0.1:4150", LookupdAddresses: []string{"127.0.0.1:4161"}}
	c.SetDefaults()
	assert.Empty(t, c.Addresses)
}

func TestWriterRequiresAddress(t *testing.T) {
	conn, err := NewNSQConnector(Config{LookupdAddresses: []string{"127.0.0.1:4161"}}, slog.Default())
	require.NoError(t, err)
	_, err = conn.NewWriter(slog.Default())
	assert.Error(t, err)
}

func TestReaderChannel(t *testing.T) {
	r := NewReader(Config{}, "", true, slog.Default())
	assert.True(t, strings.HasSuffix(r.channel, "#ephemeral"))
	assert.LessOrEqual(t, len(r.channel), 64)

	r = NewReader(Config{}, "workers", false, slog.Default())
	assert.Equal(t, "workers", r.channel)
	assert.False(t, r.IsAutoCommit())

	assert.ErrorIs(t, r.Ack(context.Background(), []byte("missing")), cerr.ErrUnknownMsgID)
	assert.ErrorIs(t, r.Nack(context.Background(), []byte("missing")), cerr.ErrUnknownMsgID)
	assert.NoError(t, r.Close())
}

func TestTransactionsNotSupported(t *testing.T) {
	w, err := NewWriter(Config{Address: "127.0.0.1:1"}, slog.Default())
	require.NoError(t, err)
	defer w.Close()

	ctx := context.Background()
	assert.ErrorIs(t, w.BeginTx(ctx), cerr.ErrNotSupported)
	assert.ErrorIs(t, w.CommitTx(ctx), cerr.ErrNotSupported)
	assert.ErrorIs(t, w.RollbackTx(ctx), cerr.ErrNotSupported)
}
