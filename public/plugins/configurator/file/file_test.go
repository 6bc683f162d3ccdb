package file

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Name  string `json:"name" yaml:"name"`
	Ports []int  `json:"ports" yaml:"ports"`
}

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParsePaths(t *testing.T) {
	assert.Equal(t, defaultPaths, parsePaths(""))
	assert.Equal(t, defaultPaths, parsePaths(" , "))
	assert.Equal(t, []string{"a.yaml", "b.json"}, parsePaths("a.yaml, b.json"))
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml", "config.yaml", "name: bridge\nports: [61613, 8080]\n"},
		{"json", "config.json", `{"name":"bridge","ports":[61613,8080]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := write(t, tt.file, tt.content)
			loader, err := New(Config{Paths: []string{filepath.Join(t.TempDir(), "missing.yaml"), path}}, slog.Default())
			require.NoError(t, err)

			var cfg testConfig
			require.NoError(t, loader.Load(context.Background(), &cfg))
			assert.Equal(t, testConfig{Name: "bridge", Ports: []int{61613, 8080}}, cfg)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := New(Config{}, slog.Default())
	assert.Error(t, err)

	loader, err := New(Config{Paths: []string{filepath.Join(t.TempDir(), "missing.yaml")}}, slog.Default())
	require.NoError(t, err)
	var cfg testConfig
	assert.Error(t, loader.Load(context.Background(), &cfg))

	loader, err = New(Config{Paths: []string{write(t, "bad.yaml", "name: [unterminated\n")}}, slog.Default())
	require.NoError(t, err)
	assert.Error(t, loader.Load(context.Background(), &cfg))
}

func TestEnvPaths(t *testing.T) {
	path := write(t, "env.yaml", "name: env\n")
	t.Setenv(pathsEnv, path)

	loader, err := newFileLoader(slog.Default())
	require.NoError(t, err)
	var cfg testConfig
	require.NoError(t, loader.Load(context.Background(), &cfg))
	assert.Equal(t, "env", cfg.Name)
}
