package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	conf := modulePath + "/public/plugins/configurator/file"
	nats := modulePath + "/public/plugins/connector/nats/core"

	assert.Error(t, plugins{connectors: []string{nats}}.validate())
	assert.Error(t, plugins{configurators: []string{conf}}.validate())
	assert.Error(t, plugins{configurators: []string{conf}, connectors: []string{nats, nats}}.validate())
	assert.Error(t, plugins{configurators: []string{conf}, connectors: []string{" "}}.validate())
	assert.NoError(t, plugins{configurators: []string{conf}, connectors: []string{nats}}.validate())
}

func TestGenerateMain(t *testing.T) {
	src := generateMain(plugins{
		configurators: []string{"example.com/conf"},
		connectors:    []string{"example.com/conn"},
		decorators:    []string{"example.com/deco"},
	})

	require.Contains(t, src, "package main")
	assert.Contains(t, src, `"`+servicePackage+`"`)
	assert.Contains(t, src, `_ "example.com/conf"`)
	assert.Contains(t, src, `_ "example.com/conn"`)
	assert.Contains(t, src, `_ "example.com/deco"`)
	assert.Contains(t, src, "service.RunCLI(ctx)")
}

func TestLdflags(t *testing.T) {
	assert.Equal(t, "-s -w", ldflags("", ""))
	assert.Equal(t, "-s -w -X "+servicePackage+".Version=1.2.3 -extldflags=-static", ldflags("1.2.3", "-extldflags=-static"))
}
