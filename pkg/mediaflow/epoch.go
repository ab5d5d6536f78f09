package mediaflow

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errEpochSuperseded = errors.New("mediaflow: epoch has been superseded")

// epoch is a period of playback between two seeks. Its context is cancelled as soon as a new
// seek begins so that workers leave their blocking calls and park.
type epoch struct {
	cancel context.CancelFunc
	ctx    context.Context
	id     uint64
	// Only set in exact seek mode, frames before it are trimmed
	trim *time.Duration
}

// epochs is the barrier between workers and seeks. A seek begins a new epoch that is only
// released once every registered worker has parked and queues, demuxer and decoders have
// been repositioned.
type epochs struct {
	ctx      context.Context
	cur      *epoch
	m        sync.Mutex // Locks everything except ctx
	parked   int
	released bool
	signal   chan struct{}
	workers  int
}

func newEpochs(ctx context.Context) *epochs {
	es := &epochs{
		ctx:      ctx,
		released: true,
		signal:   make(chan struct{}),
	}
	es.cur = es.newEpochUnsafe(nil)
	return es
}

// Mutex should be locked
func (es *epochs) newEpochUnsafe(trim *time.Duration) *epoch {
	e := &epoch{trim: trim}
	if es.cur != nil {
		e.id = es.cur.id + 1
	}
	e.ctx, e.cancel = context.WithCancel(es.ctx)
	return e
}

// Mutex should be locked
func (es *epochs) broadcastUnsafe() {
	close(es.signal)
	es.signal = make(chan struct{})
}

func (es *epochs) register() {
	es.m.Lock()
	defer es.m.Unlock()
	es.workers++
}

func (es *epochs) unregister() {
	es.m.Lock()
	defer es.m.Unlock()
	es.workers--
	es.broadcastUnsafe()
}

// enter returns the current epoch once it has been released. It only returns an error when
// ctx is done.
func (es *epochs) enter(ctx context.Context) (*epoch, error) {
	var parked bool
	for {
		// Lock
		es.m.Lock()

		// Epoch is released
		if es.released {
			if parked {
				es.parked--
			}
			e := es.cur
			es.m.Unlock()
			return e, nil
		}

		// Park
		if !parked {
			parked = true
			es.parked++
			es.broadcastUnsafe()
		}

		// Get signal
		s := es.signal

		// Unlock
		es.m.Unlock()

		//!\\ Mutex should be unlocked at this point

		// Wait
		select {
		case <-ctx.Done():
			es.m.Lock()
			es.parked--
			es.broadcastUnsafe()
			es.m.Unlock()
			return nil, ctx.Err()
		case <-s:
		}
	}
}

// begin cancels the current epoch and creates a new unreleased one
func (es *epochs) begin(trim *time.Duration) uint64 {
	es.m.Lock()
	defer es.m.Unlock()
	es.cur.cancel()
	es.cur = es.newEpochUnsafe(trim)
	es.released = false
	es.broadcastUnsafe()
	return es.cur.id
}

// waitParked blocks until every registered worker is parked
func (es *epochs) waitParked(ctx context.Context, id uint64) error {
	for {
		// Lock
		es.m.Lock()

		// Superseded
		if es.cur.id != id {
			es.m.Unlock()
			return errEpochSuperseded
		}

		// All workers are parked
		if es.parked >= es.workers {
			es.m.Unlock()
			return nil
		}

		// Get signal
		s := es.signal

		// Unlock
		es.m.Unlock()

		//!\\ Mutex should be unlocked at this point

		// Wait
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s:
		}
	}
}

// release lets parked workers enter the epoch, unless it has been superseded
func (es *epochs) release(id uint64) bool {
	es.m.Lock()
	defer es.m.Unlock()
	if es.cur.id != id || es.released {
		return false
	}
	es.released = true
	es.broadcastUnsafe()
	return true
}

func (es *epochs) current() *epoch {
	es.m.Lock()
	defer es.m.Unlock()
	return es.cur
}

func (es *epochs) close() {
	es.m.Lock()
	defer es.m.Unlock()
	es.cur.cancel()
}

// run executes fn once per epoch until fn returns true or ctx is done. The worker must have
// been registered beforehand.
func (es *epochs) run(ctx context.Context, fn func(e *epoch) (done bool)) {
	defer es.unregister()
	for {
		e, err := es.enter(ctx)
		if err != nil {
			return
		}
		if fn(e) {
			return
		}
	}
}
