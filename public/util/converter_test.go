package util_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fujin-io/stompbridge/public/util"
)

type sample struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	Tags    []string      `yaml:"tags"`
}

func TestConvertConfig(t *testing.T) {
	var out sample
	err := util.ConvertConfig(map[string]any{
		"url":     "nats://localhost:4222",
		"timeout": "5s",
		"tags":    []any{"a", "b"},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "nats://localhost:4222", out.URL)
	assert.Equal(t, 5*time.Second, out.Timeout)
	assert.Equal(t, []string{"a", "b"}, out.Tags)
}

func TestConvertConfig_Typed(t *testing.T) {
	var out sample
	require.NoError(t, util.ConvertConfig(sample{URL: "x"}, &out))
	assert.Equal(t, "x", out.URL)
}

func TestConvertConfig_Nil(t *testing.T) {
	out := sample{URL: "keep"}
	require.NoError(t, util.ConvertConfig(nil, &out))
	assert.Equal(t, "keep", out.URL)
}

func TestConvertConfig_WrongShape(t *testing.T) {
	var out sample
	err := util.ConvertConfig(map[string]any{"tags": "not-a-list"}, &out)
	assert.Error(t, err)
}
