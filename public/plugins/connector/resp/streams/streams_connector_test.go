package streams

import (
	"log/slog"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fujin-io/stompbridge/public/cerr"
)

func TestConfig(t *testing.T) {
	_, err := NewStreamsConnector(map[string]any{}, slog.Default())
	assert.ErrorIs(t, err, cerr.ErrValidateConf)

	_, err = NewStreamsConnector(map[string]any{
		"init_address": []any{"127.0.0.1:6379"},
		"marshaller":   "xml",
	}, slog.Default())
	assert.ErrorIs(t, err, cerr.ErrValidateConf)

	c := Config{}
	c.InitAddress = []string{"127.0.0.1:6379"}
	c.SetDefaults()
	require.NoError(t, c.Validate())
	assert.Equal(t, time.Second, c.Block)
	assert.Equal(t, int64(100), c.Count)
	assert.Equal(t, "$", c.GroupCreateID)
}

func TestXaddArgs(t *testing.T) {
	args := xaddArgs(0, []byte("body"), [][]byte{[]byte("k"), []byte("v")})
	assert.Equal(t, []string{"*", "msg", "body", "h:k", "v"}, args)

	args = xaddArgs(1000, []byte("body"), nil)
	assert.Equal(t, []string{"MAXLEN", "~", "1000", "*", "msg", "body"}, args)
}

func TestDecodeEntry(t *testing.T) {
	body, hs, err := decodeEntry(Plain, map[string]string{"msg": "hello", "h:k": "v", "other": "x"})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), body)
	assert.Equal(t, [][]byte{[]byte("k"), []byte("v")}, hs)

	body, hs, err = decodeEntry(JSON, map[string]string{"a": "1"})
	require.NoError(t, err)
	assert.Nil(t, hs)
	var decoded map[string]string
	require.NoError(t, sonic.Unmarshal(body, &decoded))
	assert.Equal(t, map[string]string{"a": "1"}, decoded)
}
