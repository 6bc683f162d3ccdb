package amqp10

import (
	"log/slog"
	"testing"

	"github.com/Azure/go-amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fujin-io/stompbridge/public/cerr"
)

func TestConfig(t *testing.T) {
	_, err := NewAMQP10Connector(map[string]any{}, slog.Default())
	assert.ErrorIs(t, err, cerr.ErrValidateConf)

	_, err = NewAMQP10Connector(map[string]any{
		"conn":     map[string]any{"addr": "amqp://localhost:5672"},
		"receiver": map[string]any{"credit": -1},
	}, slog.Default())
	assert.ErrorIs(t, err, cerr.ErrValidateConf)

	c := Config{Conn: ConnConfig{Addr: "amqp://localhost:5672"}}
	c.SetDefaults()
	require.NoError(t, c.Validate())
	assert.Equal(t, int32(64), c.Receiver.Credit)
}

func TestProperties(t *testing.T) {
	props := toProperties([][]byte{[]byte("k"), []byte("v")})
	assert.Equal(t, map[string]any{"k": "v"}, props)
	assert.Nil(t, toProperties(nil))

	hs := fromProperties(map[string]any{"k": "v", "n": int64(1)})
	assert.Equal(t, [][]byte{[]byte("k"), []byte("v")}, hs)
}

func TestTakeUnknown(t *testing.T) {
	r := &Reader{pending: map[uint64]*amqp.Message{}}
	_, _, err := r.take([]byte{1, 2})
	assert.ErrorIs(t, err, cerr.ErrUnknownMsgID)
	_, _, err = r.take([]byte{0, 0, 0, 0, 0, 0, 0, 7})
	assert.ErrorIs(t, err, cerr.ErrUnknownMsgID)
}
