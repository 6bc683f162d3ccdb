package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"

	"github.com/fujin-io/stompbridge/public/plugins/configurator"
)

const pathsEnv = "STOMPBRIDGE_CONFIGURATOR_FILE_PATHS"

var defaultPaths = []string{"./config.yaml", "conf/config.yaml", "config/config.yaml"}

// fileLoader implements configurator.Configurator for file-based configuration.
type fileLoader struct {
	config Config
	l      *slog.Logger
}

func init() {
	if err := configurator.Register("file", newFileLoader); err != nil {
		panic(fmt.Sprintf("register file configurator: %v", err))
	}
}

// newFileLoader reads the comma separated search paths from the environment.
func newFileLoader(l *slog.Logger) (configurator.Configurator, error) {
	return New(Config{Paths: parsePaths(os.Getenv(pathsEnv))}, l)
}

// New creates a file configurator with explicit paths.
func New(config Config, l *slog.Logger) (configurator.Configurator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("file configurator: invalid config: %w", err)
	}

	return &fileLoader{
		config: config,
		l:      l.With("configurator", "file"),
	}, nil
}

func parsePaths(env string) []string {
	var paths []string
	for p := range strings.SplitSeq(env, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return defaultPaths
	}
	return paths
}

// Load parses the first existing file in the paths list into cfg. JSON is
// tried first, YAML second.
func (f *fileLoader) Load(_ context.Context, cfg any) error {
	for _, path := range f.config.Paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("file configurator: read file %q: %w", path, err)
		}

		f.l.Info("loading config from file", "path", path)

		if err := sonic.Unmarshal(data, cfg); err == nil {
			return nil
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("file configurator: failed to parse %q as JSON or YAML: %w", path, err)
		}
		return nil
	}

	return fmt.Errorf("file configurator: failed to find config in paths: %v", f.config.Paths)
}
