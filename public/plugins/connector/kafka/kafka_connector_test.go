package kafka

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fujin-io/stompbridge/public/cerr"
)

func TestConfig(t *testing.T) {
	_, err := NewKafkaConnector(map[string]any{}, slog.Default())
	assert.ErrorIs(t, err, cerr.ErrValidateConf)

	_, err = NewKafkaConnector(map[string]any{
		"brokers":   []any{"localhost:9092"},
		"balancers": []any{"fastest"},
	}, slog.Default())
	assert.ErrorIs(t, err, cerr.ErrValidateConf)

	_, err = NewKafkaConnector(Config{
		Brokers:                []string{"localhost:9092"},
		DisableIdempotentWrite: true,
		TransactionalIDPrefix:  "tx",
	}, slog.Default())
	assert.ErrorIs(t, err, cerr.ErrValidateConf)

	c := Config{Brokers: []string{"localhost:9092"}}
	c.SetDefaults()
	require.NoError(t, c.Validate())
	assert.Equal(t, 5*time.Second, c.PingTimeout)
	assert.Equal(t, 100, c.MaxPollRecords)
}

func TestMsgID(t *testing.T) {
	rec := &kgo.Record{Topic: "orders", Partition: 3, LeaderEpoch: 7, Offset: 1 << 40}
	id := encodeMsgID(rec)

	topic, partition, eo, err := decodeMsgID(id)
	require.NoError(t, err)
	assert.Equal(t, "orders", topic)
	assert.Equal(t, int32(3), partition)
	assert.Equal(t, int32(7), eo.Epoch)
	assert.Equal(t, int64(1<<40), eo.Offset)

	_, _, _, err = decodeMsgID(id[:msgIDStaticLen])
	assert.ErrorIs(t, err, cerr.ErrUnknownMsgID)
}

func TestHeaders(t *testing.T) {
	kh := recordHeaders([][]byte{[]byte("a"), []byte("1"), []byte("dangling")})
	require.Len(t, kh, 1)
	assert.Equal(t, kgo.RecordHeader{Key: "a", Value: []byte("1")}, kh[0])
	assert.Equal(t, [][]byte{[]byte("a"), []byte("1")}, messageHeaders(kh))
	assert.Nil(t, messageHeaders(nil))
}

func TestTransactionsDisabled(t *testing.T) {
	w, err := NewWriter(Config{Brokers: []string{"127.0.0.1:1"}}, nil, slog.Default())
	require.NoError(t, err)
	defer w.Close()

	ctx := t.Context()
	assert.ErrorIs(t, w.BeginTx(ctx), cerr.ErrNotSupported)
	assert.ErrorIs(t, w.CommitTx(ctx), cerr.ErrNotSupported)
	assert.ErrorIs(t, w.RollbackTx(ctx), cerr.ErrNotSupported)
}
