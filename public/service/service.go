package service

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/fujin-io/stompbridge/public/plugins/authenticator"
	"github.com/fujin-io/stompbridge/public/plugins/configurator"
	"github.com/fujin-io/stompbridge/public/plugins/connector"
	"github.com/fujin-io/stompbridge/public/plugins/decorator"
	"github.com/fujin-io/stompbridge/public/server"
)

var (
	Version string
	conf    Config
)

func RunCLI(ctx context.Context) {
	log.Printf("version: %s", Version)

	if err := loadConfig(ctx, &conf); err != nil {
		log.Fatal(err)
	}
	serverConf, err := conf.parse()
	if err != nil {
		log.Fatal(err)
	}

	logLevel := os.Getenv("STOMPBRIDGE_LOG_LEVEL")
	logType := os.Getenv("STOMPBRIDGE_LOG_TYPE")
	logger := configureLogger(logLevel, logType)

	logRegisteredPlugins(logger)

	s, err := server.NewServer(serverConf, logger)
	if err != nil {
		logger.Error("new server", "err", err)
		os.Exit(1)
	}

	if err := s.ListenAndServe(ctx); err != nil {
		logger.Error("listen and serve", "err", err)
		os.Exit(1)
	}
}

func configureLogger(logLevel, logType string) *slog.Logger {
	var parsedLogLevel slog.Level
	switch strings.ToUpper(logLevel) {
	case "DEBUG":
		parsedLogLevel = slog.LevelDebug
	case "WARN":
		parsedLogLevel = slog.LevelWarn
	case "ERROR":
		parsedLogLevel = slog.LevelError
	default:
		parsedLogLevel = slog.LevelInfo
	}

	var handler slog.Handler
	switch strings.ToLower(logType) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: parsedLogLevel,
		})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: parsedLogLevel,
		})
	}

	return slog.New(handler)
}

// loadConfig fills cfg using the configurator named by STOMPBRIDGE_CONFIGURATOR,
// "file" when unset.
func loadConfig(ctx context.Context, cfg *Config) error {
	loaderType := os.Getenv("STOMPBRIDGE_CONFIGURATOR")
	if loaderType == "" {
		loaderType = "file"
	}

	if cfg == nil {
		return ErrNilConfig
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	if err := configurator.Load(ctx, loaderType, cfg, logger); err != nil {
		return fmt.Errorf("load config: configurator %s: %w", loaderType, err)
	}
	log.Printf("loaded config using configurator: %s\n", loaderType)
	return nil
}

// logRegisteredPlugins logs all registered connectors, decorators, authenticators and configurators
func logRegisteredPlugins(l *slog.Logger) {
	plugins := []struct {
		kind  string
		names []string
	}{
		{"connectors", connector.List()},
		{"decorators", decorator.List()},
		{"authenticators", authenticator.List()},
		{"configurators", configurator.List()},
	}

	for _, p := range plugins {
		sort.Strings(p.names)
		if len(p.names) > 0 {
			l.Info("registered "+p.kind, "list", strings.Join(p.names, ", "))
		} else {
			l.Warn("no " + p.kind + " registered")
		}
	}
}
