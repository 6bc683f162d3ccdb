package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/fujin-io/stompbridge/internal/connectors"
	"github.com/fujin-io/stompbridge/public/cerr"
	"github.com/fujin-io/stompbridge/public/plugins/connector"
	"github.com/fujin-io/stompbridge/public/stomp/frame"
)

const releaseFlushTimeout = 5 * time.Second

type boundWriter struct {
	m      *connectors.Manager
	w      connector.WriteCloser
	broken bool
}

// producer caches one writer per connector for the lifetime of a session.
type producer struct {
	gw *ConnectorGateway

	mu       sync.Mutex
	writers  map[string]*boundWriter
	inTx     []string
	released bool
	once     sync.Once

	l *slog.Logger
}

func (p *producer) writer(m *connectors.Manager) (*boundWriter, error) {
	if bw, ok := p.writers[m.Name()]; ok {
		return bw, nil
	}
	w, err := m.GetWriter()
	if err != nil {
		return nil, err
	}
	bw := &boundWriter{m: m, w: w}
	p.writers[m.Name()] = bw
	return bw, nil
}

func (p *producer) Publish(ctx context.Context, dest string, headers frame.Header, body []byte) error {
	route, m, err := p.gw.route(dest)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released {
		return ErrReleased
	}
	if p.inTx != nil && !slices.Contains(p.inTx, m.Name()) {
		return fmt.Errorf("connector %q is not part of the open transaction", m.Name())
	}

	topic, err := route.topic(dest)
	if err != nil {
		return err
	}
	bw, err := p.writer(m)
	if err != nil {
		return err
	}

	if err := connector.Produce(ctx, bw.w, topic, body, toConnectorHeaders(headers)); err != nil {
		return fmt.Errorf("produce to %q: %w", dest, err)
	}
	return nil
}

// Begin opens one broker transaction. Destinations served by more than
// one connector cannot be committed atomically and are reported as not
// supported.
func (p *producer) Begin(ctx context.Context, dests []string) error {
	managers := make(map[string]*connectors.Manager)
	for _, d := range dests {
		_, m, err := p.gw.route(d)
		if err != nil {
			return err
		}
		managers[m.Name()] = m
	}
	if len(managers) > 1 {
		return fmt.Errorf("transaction spans %d connectors: %w", len(managers), cerr.ErrNotSupported)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released {
		return ErrReleased
	}
	if p.inTx != nil {
		return ErrTxInProgress
	}

	names := slices.Sorted(maps.Keys(managers))
	for _, name := range names {
		bw, err := p.writer(managers[name])
		if err != nil {
			return err
		}
		if err := bw.w.BeginTx(ctx); err != nil {
			return fmt.Errorf("begin tx on %q: %w", name, err)
		}
	}
	p.inTx = names
	return nil
}

func (p *producer) Commit(ctx context.Context) error {
	return p.endTx(ctx, true)
}

func (p *producer) Rollback(ctx context.Context) error {
	return p.endTx(ctx, false)
}

func (p *producer) endTx(ctx context.Context, commit bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inTx == nil {
		return ErrNoTxInProgress
	}
	names := p.inTx
	p.inTx = nil

	var errs []error
	for _, name := range names {
		bw := p.writers[name]
		var err error
		if commit {
			err = bw.w.CommitTx(ctx)
		} else {
			err = bw.w.RollbackTx(ctx)
		}
		if err != nil {
			bw.broken = true
			errs = append(errs, fmt.Errorf("%q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (p *producer) Release() {
	p.once.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), releaseFlushTimeout)
		defer cancel()

		for _, name := range p.inTx {
			bw := p.writers[name]
			if err := bw.w.RollbackTx(ctx); err != nil {
				p.l.Error("rollback on release", "connector", name, "err", err)
				bw.broken = true
			}
		}
		p.inTx = nil

		for name, bw := range p.writers {
			if !bw.broken {
				if err := bw.w.Flush(ctx); err != nil {
					p.l.Error("flush on release", "connector", name, "err", err)
					bw.broken = true
				}
			}
			if bw.broken {
				bw.m.DiscardWriter(bw.w)
				continue
			}
			bw.m.PutWriter(bw.w)
		}
		p.writers = nil
		p.released = true
	})
}
