// Package offload runs blocking collaborator calls on a bounded set of
// goroutines so a slow network call cannot hold a pipeline worker past its
// deadline.
package offload

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Do after Close.
var ErrClosed = errors.New("offload pool closed")

// Pool bounds the number of concurrently running blocking calls.
type Pool struct {
	sem    *semaphore.Weighted
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a Pool running at most size calls at once.
func New(size int) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("offload pool size must be > 0, got %d", size)
	}
	base, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		base:   base,
		cancel: cancel,
	}, nil
}

// Do runs fn on a pool goroutine and waits for it or for ctx. When ctx ends
// first, Do returns ctx.Err() and the call keeps running until it observes
// cancellation of its own context. Close cancels and awaits such leftovers.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	callCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(p.base, cancel)
	release := func() {
		stop()
		cancel()
		p.wg.Done()
	}

	if err := p.sem.Acquire(callCtx, 1); err != nil {
		release()
		return fmt.Errorf("acquire offload slot: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		defer release()
		defer p.sem.Release(1)
		done <- fn(callCtx)
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels leftover calls and waits for them to return. It is safe to
// call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}
