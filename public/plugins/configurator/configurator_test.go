package configurator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConfigurator struct {
	err error
	cfg any
}

func (m *mockConfigurator) Load(_ context.Context, cfg any) error {
	m.cfg = cfg
	return m.err
}

func mockFactory(err error) Factory {
	return func(*slog.Logger) (Configurator, error) {
		return &mockConfigurator{err: err}, nil
	}
}

func TestRegister(t *testing.T) {
	require.NoError(t, Register("test_loader", mockFactory(nil)))
	assert.Error(t, Register("test_loader", mockFactory(nil)))
}

func TestGetAndList(t *testing.T) {
	require.NoError(t, Register("b_loader", mockFactory(nil)))
	require.NoError(t, Register("a_loader", mockFactory(nil)))

	f, ok := Get("a_loader")
	require.True(t, ok)
	require.NotNil(t, f)

	_, ok = Get("nonexistent_loader")
	assert.False(t, ok)

	names := List()
	assert.Contains(t, names, "a_loader")
	assert.Contains(t, names, "b_loader")
	assert.IsNonDecreasing(t, names)
}

func TestLoad(t *testing.T) {
	require.NoError(t, Register("load_error_loader", mockFactory(errors.New("load error"))))

	f, ok := Get("load_error_loader")
	require.True(t, ok)
	c, err := f(slog.Default())
	require.NoError(t, err)

	var cfg struct{ Name string }
	assert.Error(t, c.Load(context.Background(), &cfg))
	assert.Same(t, &cfg, c.(*mockConfigurator).cfg)
}

func TestRegisterConcurrent(t *testing.T) {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if Register("concurrent_loader", mockFactory(nil)) == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}

func TestLoadByName(t *testing.T) {
	require.NoError(t, Register("by_name_loader", mockFactory(nil)))

	var cfg struct{ Name string }
	require.NoError(t, Load(context.Background(), "by_name_loader", &cfg, slog.Default()))
	assert.Error(t, Load(context.Background(), "missing_loader", &cfg, slog.Default()))

	require.NoError(t, Register("broken_factory", func(*slog.Logger) (Configurator, error) {
		return nil, errors.New("factory error")
	}))
	assert.Error(t, Load(context.Background(), "broken_factory", &cfg, slog.Default()))
}
