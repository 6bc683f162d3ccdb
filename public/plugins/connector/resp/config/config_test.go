package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fujin-io/stompbridge/public/cerr"
	pconfig "github.com/fujin-io/stompbridge/public/config"
)

func TestRedisConfig_Validate(t *testing.T) {
	assert.ErrorIs(t, RedisConfig{}.Validate(), cerr.ErrValidateConf)
	assert.NoError(t, RedisConfig{InitAddress: []string{"127.0.0.1:6379"}}.Validate())

	c := RedisConfig{
		InitAddress: []string{"127.0.0.1:6379"},
		TLS:         &pconfig.ClientTLSConfig{ClientCertPath: "cert.pem"},
	}
	assert.ErrorIs(t, c.Validate(), cerr.ErrValidateConf)
	assert.Equal(t, "a:1,b:2", RedisConfig{InitAddress: []string{"a:1", "b:2"}}.Endpoint())
}

func TestWriterBatchConfig(t *testing.T) {
	var c WriterBatchConfig
	assert.ErrorIs(t, c.ValidateBatch(), cerr.ErrValidateConf)

	c.ApplyBatchDefaults()
	assert.NoError(t, c.ValidateBatch())
	assert.Equal(t, 100, c.BatchSize)
	assert.Equal(t, 10*time.Millisecond, c.Linger)
}
