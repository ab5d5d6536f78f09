package mediaflow

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/asticode/go-astikit"
)

// Worker is one of the goroutines of a playback: the demux worker, a decode worker per track
// or an output worker per track
type Worker struct {
	ctx context.Context
	id  uint64
	o   WorkerOptions
	p   *Pipeline
	t   *task
}

type WorkerOptions struct {
	DeltaStats []astikit.DeltaStat
	Metadata   Metadata
	Run        func(ctx context.Context)
}

func (p *Pipeline) newWorker(c *astikit.Closer, o WorkerOptions) *Worker {
	// Create worker
	w := &Worker{
		ctx: context.Background(),
		id:  atomic.AddUint64(&p.workerCount, 1),
		o:   o,
		p:   p,
	}

	// Create task
	w.t = newTask(c, w.onTaskStart)

	// Adapt context
	if p.o.ContextAdapters.Worker != nil {
		w.ctx = p.o.ContextAdapters.Worker(w.ctx, p, w)
	}

	// Listen to task events
	for _, v := range []struct {
		log  string
		name astikit.EventName
		on   astikit.EventName
	}{
		{log: "closed", name: EventNameWorkerClosed, on: eventNameTaskClosed},
		{log: "done", name: EventNameWorkerDone, on: eventNameTaskDone},
		{log: "running", name: EventNameWorkerRunning, on: eventNameTaskRunning},
		{log: "starting", name: EventNameWorkerStarting, on: eventNameTaskStarting},
		{log: "stopping", name: EventNameWorkerStopping, on: eventNameTaskStopping},
	} {
		lv := v
		w.t.e.On(lv.on, func(payload interface{}) (delete bool) {
			// Log
			p.l.InfoCf(w.ctx, "mediaflow: worker %s is %s", w, lv.log)

			// Emit
			p.e.Emit(lv.name, w)
			return lv.on == eventNameTaskClosed
		})
	}

	// Emit
	p.e.Emit(EventNameWorkerCreated, w)
	return w
}

func (w *Worker) ID() uint64 {
	return w.id
}

func (w *Worker) String() string {
	if w.Metadata().Name != "" {
		return fmt.Sprintf("%s (worker_%d)", w.Metadata().Name, w.id)
	}
	return fmt.Sprintf("worker_%d", w.id)
}

func (w *Worker) Context() context.Context {
	return w.ctx
}

func (w *Worker) DeltaStats() []astikit.DeltaStat {
	return w.o.DeltaStats
}

func (w *Worker) Metadata() Metadata {
	return w.o.Metadata
}

func (w *Worker) Pipeline() *Pipeline {
	return w.p
}

func (w *Worker) Status() Status {
	return w.t.status()
}

func (w *Worker) start(ctx context.Context, tc astikit.TaskCreator) error {
	// Start task
	if err := w.t.start(ctx, tc); err != nil {
		return fmt.Errorf("mediaflow: starting task failed: %w", err)
	}
	return nil
}

func (w *Worker) onTaskStart(ctx context.Context, cancel context.CancelFunc, tc astikit.TaskCreator) {
	// Worker is alive until its run function returns
	atomic.AddInt64(&w.p.activeWorkers, 1)
	tc().Do(func() {
		defer atomic.AddInt64(&w.p.activeWorkers, -1)
		defer cancel()
		w.o.Run(ctx)
	})
}
