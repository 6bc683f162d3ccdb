package api_key

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/fujin-io/stompbridge/public/plugins/authenticator"
)

func TestAPIKeyAuthenticator(t *testing.T) {
	logger := slog.Default()

	tests := []struct {
		name      string
		config    map[string]any
		login     string
		passcode  string
		wantErr   bool
		createErr bool
	}{
		{
			name:     "valid api key",
			config:   map[string]any{"api_key": "secret-key-123"},
			passcode: "secret-key-123",
		},
		{
			name:     "missing passcode",
			config:   map[string]any{"api_key": "secret-key-123"},
			wantErr:  true,
		},
		{
			name:     "invalid api key",
			config:   map[string]any{"api_key": "secret-key-123"},
			passcode: "wrong-key",
			wantErr:  true,
		},
		{
			name:     "user passcode",
			config:   map[string]any{"users": map[string]any{"alice": "alice-secret"}},
			login:    "alice",
			passcode: "alice-secret",
		},
		{
			name:     "unknown user without api key",
			config:   map[string]any{"users": map[string]any{"alice": "alice-secret"}},
			login:    "bob",
			passcode: "alice-secret",
			wantErr:  true,
		},
		{
			name:     "unknown user falls back to api key",
			config:   map[string]any{"api_key": "k", "users": map[string]any{"alice": "a"}},
			login:    "bob",
			passcode: "k",
		},
		{
			name:      "empty config",
			config:    map[string]any{"api_key": ""},
			createErr: true,
		},
		{
			name:      "nil config",
			config:    nil,
			createErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory, ok := authenticator.Get("api_key")
			if !ok {
				t.Fatal("api_key authenticator not registered")
			}

			var conf any
			if tt.config != nil {
				conf = tt.config
			}
			a, err := factory(conf, logger)
			if tt.createErr {
				if err == nil {
					t.Fatal("expected creation error")
				}
				return
			}
			if err != nil {
				t.Fatalf("factory error = %v", err)
			}

			err = a.Authenticate(context.Background(), tt.login, tt.passcode)
			if tt.wantErr {
				if !errors.Is(err, authenticator.ErrUnauthorized) {
					t.Fatalf("expected ErrUnauthorized, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestNew(t *testing.T) {
	a, err := authenticator.New(authenticator.Config{}, slog.Default())
	if err != nil || a != nil {
		t.Fatalf("empty name must disable authentication, got %v, %v", a, err)
	}

	if _, err := authenticator.New(authenticator.Config{Name: "missing"}, slog.Default()); err == nil {
		t.Fatal("expected error for unknown authenticator")
	}

	a, err = authenticator.New(authenticator.Config{Name: "api_key", Config: map[string]any{"api_key": "x"}}, slog.Default())
	if err != nil || a == nil {
		t.Fatalf("New() = %v, %v", a, err)
	}
}
