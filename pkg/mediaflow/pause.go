package mediaflow

import (
	"context"
	"sync"
	"time"

	"github.com/asticode/go-astikit"
)

// pause blocks output loops while playback is paused
type pause struct {
	at     time.Time
	cancel context.CancelFunc
	ctx    context.Context
	m      sync.Mutex
}

func newPause() *pause {
	return &pause{}
}

func (p *pause) close() {
	// Lock
	p.m.Lock()
	defer p.m.Unlock()

	// Make sure to cancel context
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *pause) pause() {
	// Lock
	p.m.Lock()
	defer p.m.Unlock()

	// Already paused
	if p.ctx != nil {
		return
	}

	// Create context
	p.ctx, p.cancel = context.WithCancel(context.Background())

	// Store at
	p.at = astikit.Now()
}

// resume executes f with the duration playback has been paused for
func (p *pause) resume(f func(time.Duration)) {
	// Lock
	p.m.Lock()
	defer p.m.Unlock()

	// Not paused
	if p.cancel == nil {
		return
	}

	// Callback
	if f != nil {
		f(astikit.Now().Sub(p.at))
	}

	// Cancel context
	p.cancel()

	// Reset
	p.at = time.Time{}
	p.cancel = nil
	p.ctx = nil
}

func (p *pause) paused() bool {
	p.m.Lock()
	defer p.m.Unlock()
	return p.ctx != nil
}

// wait blocks while paused, unless ctx is done first
func (p *pause) wait(ctx context.Context) error {
	// Get context
	p.m.Lock()
	pctx := p.ctx
	p.m.Unlock()

	// Wait
	if pctx != nil {
		select {
		case <-pctx.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}
