package pool

import (
	"errors"
	"io"
	"sync"
)

var ErrPoolClosed = errors.New("pool closed")

// Pool keeps idle values for reuse. Values are created on demand by the
// constructor and closed when the pool is closed.
type Pool[T io.Closer] struct {
	f      func() (T, error)
	p      []T
	closed bool
	mu     sync.Mutex
}

func NewPool[T io.Closer](f func() (T, error)) *Pool[T] {
	return &Pool[T]{
		f: f,
	}
}

func (p *Pool[T]) Get() (T, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		var zero T
		return zero, ErrPoolClosed
	}

	if len(p.p) == 0 {
		p.mu.Unlock()
		return p.f()
	}

	c := p.p[len(p.p)-1]
	p.p = p.p[:len(p.p)-1]
	p.mu.Unlock()
	return c, nil
}

// Put returns c to the pool. After Close, c is closed instead.
func (p *Pool[T]) Put(c T) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = c.Close()
		return
	}
	p.p = append(p.p, c)
	p.mu.Unlock()
}

// Idle returns the number of values waiting in the pool.
func (p *Pool[T]) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.p)
}

func (p *Pool[T]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for _, c := range p.p {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.p = nil
	return errors.Join(errs...)
}
