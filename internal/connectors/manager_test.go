package connectors

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fujin-io/stompbridge/public/plugins/connector"
	connectorconfig "github.com/fujin-io/stompbridge/public/plugins/connector/config"
	"github.com/fujin-io/stompbridge/public/plugins/connector/memory"
	decoratorconfig "github.com/fujin-io/stompbridge/public/plugins/decorator/config"
)

func TestManager_WriterPool(t *testing.T) {
	ms, err := NewManagers(connectorconfig.ConnectorsConfig{
		"mem": {Protocol: "memory", Settings: map[string]any{"broker": "manager-test"}},
	}, slog.Default())
	require.NoError(t, err)
	defer ms.Close()

	m, err := ms.Get("mem")
	require.NoError(t, err)
	assert.Equal(t, "mem", m.Name())

	w1, err := m.GetWriter()
	require.NoError(t, err)
	m.PutWriter(w1)

	w2, err := m.GetWriter()
	require.NoError(t, err)
	assert.Same(t, w1, w2)
	m.DiscardWriter(w2)

	r, err := m.GetReader("g", false)
	require.NoError(t, err)
	assert.False(t, r.IsAutoCommit())
	require.NoError(t, r.Close())
}

func TestManagers_UnknownConnector(t *testing.T) {
	ms, err := NewManagers(nil, slog.Default())
	require.NoError(t, err)

	_, err = ms.Get("missing")
	assert.ErrorIs(t, err, ErrConnectorNotFound)
}

func TestManagers_UnknownProtocol(t *testing.T) {
	_, err := NewManagers(connectorconfig.ConnectorsConfig{
		"bad": {Protocol: "does_not_exist"},
	}, slog.Default())
	assert.Error(t, err)
}

func TestManagers_UnknownDecorator(t *testing.T) {
	_, err := NewManagers(connectorconfig.ConnectorsConfig{
		"mem": {
			Protocol:   "memory",
			Decorators: []decoratorconfig.Config{{Name: "does_not_exist"}},
		},
	}, slog.Default())
	assert.Error(t, err)
}

func TestManagers_Add(t *testing.T) {
	ms, err := NewManagers(nil, slog.Default())
	require.NoError(t, err)

	var conn connector.Connector = memory.NewConnector(memory.NewBroker(), slog.Default())
	require.NoError(t, ms.Add("mem", conn, connectorconfig.ConnectorConfig{}, slog.Default()))
	assert.Error(t, ms.Add("mem", conn, connectorconfig.ConnectorConfig{}, slog.Default()))

	_, err = ms.Get("mem")
	assert.NoError(t, err)
}
