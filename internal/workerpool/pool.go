// Package workerpool offloads blocking external invocations (codec runs,
// recognition, synthesis) onto a bounded set of goroutines so a request's
// own goroutine only waits on a completion channel.
package workerpool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Submit schedules fn and returns a channel that receives its result exactly once.
// If ctx ends before a slot frees up, the channel receives ctx.Err() and fn never runs.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context) error) <-chan error {
	done := make(chan error, 1)
	if err := p.sem.Acquire(ctx, 1); err != nil {
		done <- err
		close(done)
		return done
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer close(done)
		done <- fn(ctx)
	}()
	return done
}

// Do runs fn on the pool and waits for it. When ctx ends first, Do still
// waits for fn to return so callers may clean up what fn touched, then
// reports ctx.Err().
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	done := p.Submit(ctx, fn)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		<-done
		return ctx.Err()
	}
}

// Wait blocks until every submitted task has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
