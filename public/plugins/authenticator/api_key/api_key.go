// Package api_key provides API key authentication for CONNECT frames.
// Import this package to enable it:
//
//	import _ "github.com/fujin-io/stompbridge/public/plugins/authenticator/api_key"
//
// Configure in YAML:
//
//	auth:
//	  name: api_key
//	  config:
//	    api_key: my-secret-api-key
//	    users:
//	      alice: alice-secret
//
// The client sends the key as the CONNECT passcode. When users are
// configured, the login selects the expected passcode instead.
package api_key

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"

	"github.com/fujin-io/stompbridge/public/plugins/authenticator"
	"github.com/fujin-io/stompbridge/public/util"
)

// Config for API key authentication
type Config struct {
	APIKey string            `yaml:"api_key"`
	Users  map[string]string `yaml:"users"`
}

func init() {
	if err := authenticator.Register("api_key", newAPIKeyAuthenticator); err != nil {
		panic(fmt.Sprintf("register api_key authenticator: %v", err))
	}
}

func newAPIKeyAuthenticator(config any, l *slog.Logger) (authenticator.Authenticator, error) {
	var cfg Config
	if err := util.ConvertConfig(config, &cfg); err != nil {
		return nil, fmt.Errorf("api_key: %w", err)
	}
	if cfg.APIKey == "" && len(cfg.Users) == 0 {
		return nil, fmt.Errorf("api_key or users is required")
	}

	return &apiKeyAuthenticator{conf: cfg, l: l}, nil
}

type apiKeyAuthenticator struct {
	conf Config
	l    *slog.Logger
}

func (a *apiKeyAuthenticator) Authenticate(ctx context.Context, login, passcode string) error {
	if passcode == "" {
		a.l.Warn("connect rejected: passcode missing", "login", login)
		return fmt.Errorf("%w: passcode missing", authenticator.ErrUnauthorized)
	}

	expected := a.conf.APIKey
	if login != "" {
		if p, ok := a.conf.Users[login]; ok {
			expected = p
		}
	}

	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(passcode)) != 1 {
		a.l.Warn("connect rejected: invalid credentials", "login", login)
		return fmt.Errorf("%w: invalid credentials", authenticator.ErrUnauthorized)
	}

	a.l.Debug("connect authenticated", "login", login)
	return nil
}
