package mediaflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/asticode/go-astikit"
)

// task drives the created > starting > running > stopping > done lifecycle shared by
// pipelines and workers. A task stops once its context is cancelled, either by its parent or
// by its own start callback.
type task struct {
	c       *astikit.Closer
	cancel  context.CancelFunc
	done    chan struct{}
	e       *astikit.EventManager
	m       *sync.Mutex // Locks s
	onStart onTaskStart
	s       Status
	t       *astikit.Task
}

type onTaskStart func(ctx context.Context, cancel context.CancelFunc, tc astikit.TaskCreator)

func newTask(c *astikit.Closer, onStart onTaskStart) *task {
	// Create task
	t := &task{
		c:       c,
		done:    make(chan struct{}),
		e:       astikit.NewEventManager(),
		m:       &sync.Mutex{},
		onStart: onStart,
		s:       StatusCreated,
	}

	// Closing the task cancels its context
	t.c.Add(func() {
		t.m.Lock()
		cancel := t.cancel
		t.m.Unlock()
		if cancel != nil {
			cancel()
		}
	})

	// Emit closed event when task closes
	t.c.OnClosed(func(err error) { t.e.Emit(eventNameTaskClosed, nil) })
	return t
}

func (t *task) status() Status {
	t.m.Lock()
	defer t.m.Unlock()
	return t.s
}

func (t *task) setStatus(s Status, n astikit.EventName) {
	t.m.Lock()
	t.s = s
	t.m.Unlock()
	t.e.Emit(n, nil)
}

func (t *task) start(ctx context.Context, tc astikit.TaskCreator) error {
	// Lock
	t.m.Lock()

	// Invalid status
	if t.s != StatusCreated {
		s := t.s
		t.m.Unlock()
		return fmt.Errorf("mediaflow: invalid status %s", s)
	}

	// Check context
	if err := ctx.Err(); err != nil {
		t.m.Unlock()
		return err
	}

	// Create task and context
	t.t = tc()
	var taskCtx context.Context
	taskCtx, t.cancel = context.WithCancel(ctx)
	cancel := t.cancel

	// Unlock
	t.m.Unlock()

	// Starting
	t.setStatus(StatusStarting, eventNameTaskStarting)

	// Callback
	t.onStart(taskCtx, cancel, t.t.NewSubTask)

	// Running
	t.setStatus(StatusRunning, eventNameTaskRunning)

	// Status must only switch to done once every sub task has returned, which is why
	// t.t.Do() can't be used here
	go func() {
		// Wait for context
		<-taskCtx.Done()

		// Stopping
		t.setStatus(StatusStopping, eventNameTaskStopping)

		// Wait for sub tasks
		t.t.Wait()

		// Close task
		t.c.Close()

		// Done
		t.setStatus(StatusDone, eventNameTaskDone)

		// Unblock waiters
		close(t.done)

		// Task is done
		t.t.Done()
	}()
	return nil
}

// wait blocks until the task is done. A task that has never been started is considered done.
func (t *task) wait(ctx context.Context) error {
	if t.status() == StatusCreated {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
