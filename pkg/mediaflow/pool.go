package mediaflow

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of decode calls running at the same time. It can be shared between
// pipelines.
type Pool struct {
	active int64
	s      *semaphore.Weighted
	size   int
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Pool{
		s:    semaphore.NewWeighted(int64(size)),
		size: size,
	}
}

// Do blocks until a slot is available and executes fn in the caller's goroutine
func (p *Pool) Do(ctx context.Context, fn func()) error {
	// Acquire
	if err := p.s.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("mediaflow: acquiring pool slot failed: %w", err)
	}
	defer p.s.Release(1)

	// Execute
	atomic.AddInt64(&p.active, 1)
	defer atomic.AddInt64(&p.active, -1)
	fn()
	return nil
}

func (p *Pool) Size() int {
	return p.size
}

func (p *Pool) Active() int {
	return int(atomic.LoadInt64(&p.active))
}
