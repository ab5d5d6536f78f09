package mediaflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/asticode/go-astikit"
	"github.com/stretchr/testify/require"
)

type taskEvents struct {
	m  sync.Mutex
	ns []astikit.EventName
}

func interceptTaskEvents(tk *task) *taskEvents {
	es := &taskEvents{}
	for _, n := range []astikit.EventName{
		eventNameTaskClosed,
		eventNameTaskDone,
		eventNameTaskRunning,
		eventNameTaskStarting,
		eventNameTaskStopping,
	} {
		ln := n
		tk.e.On(ln, func(payload interface{}) (delete bool) {
			es.m.Lock()
			defer es.m.Unlock()
			es.ns = append(es.ns, ln)
			return
		})
	}
	return es
}

func (es *taskEvents) names() []astikit.EventName {
	es.m.Lock()
	defer es.m.Unlock()
	return append([]astikit.EventName{}, es.ns...)
}

func TestTaskShouldRunProperly(t *testing.T) {
	c := astikit.NewCloser()
	defer c.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := astikit.NewWorker(astikit.WorkerOptions{})
	defer w.Stop()
	tk := newTask(c, func(_ context.Context, _ context.CancelFunc, tc astikit.TaskCreator) {
		tc().Do(func() { <-ctx.Done() })
	})
	es := interceptTaskEvents(tk)

	require.NoError(t, tk.start(ctx, w.NewTask))
	require.Equal(t, StatusRunning, tk.status())
	require.Equal(t, []astikit.EventName{
		eventNameTaskStarting,
		eventNameTaskRunning,
	}, es.names())
	require.Error(t, tk.start(ctx, w.NewTask))

	cancel()

	require.NoError(t, tk.wait(context.Background()))
	require.Equal(t, StatusDone, tk.status())
	require.True(t, c.IsClosed())
	require.Equal(t, []astikit.EventName{
		eventNameTaskStarting,
		eventNameTaskRunning,
		eventNameTaskStopping,
		eventNameTaskClosed,
		eventNameTaskDone,
	}, es.names())
}

func TestTaskShouldStopWhenParentIsStopped(t *testing.T) {
	c := astikit.NewCloser()
	defer c.Close()
	w := astikit.NewWorker(astikit.WorkerOptions{})
	tk := newTask(c, func(ctx context.Context, _ context.CancelFunc, tc astikit.TaskCreator) {
		tc().Do(func() { <-ctx.Done() })
	})

	require.NoError(t, tk.start(w.Context(), w.NewTask))
	w.Stop()

	require.Eventually(t, func() bool { return tk.status() == StatusDone }, time.Second, 10*time.Millisecond)
}

func TestTaskShouldStopWhenClosed(t *testing.T) {
	c := astikit.NewCloser()
	w := astikit.NewWorker(astikit.WorkerOptions{})
	defer w.Stop()
	tk := newTask(c, func(ctx context.Context, _ context.CancelFunc, tc astikit.TaskCreator) {
		tc().Do(func() { <-ctx.Done() })
	})

	require.NoError(t, tk.start(w.Context(), w.NewTask))
	require.NoError(t, c.Close())
	require.NoError(t, tk.wait(context.Background()))
	require.Equal(t, StatusDone, tk.status())
}

func TestTaskShouldNotStartIfContextIsDone(t *testing.T) {
	c := astikit.NewCloser()
	defer c.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := astikit.NewWorker(astikit.WorkerOptions{})
	defer w.Stop()
	tk := newTask(c, nil)
	require.Error(t, tk.start(ctx, w.NewTask))
	require.Equal(t, StatusCreated, tk.status())
	require.NoError(t, tk.wait(context.Background()))
}

func TestTaskShouldStopWhenCancelIsCalled(t *testing.T) {
	c := astikit.NewCloser()
	defer c.Close()
	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	tk := newTask(c, func(_ context.Context, cancel context.CancelFunc, tc astikit.TaskCreator) {
		tc().Do(func() {
			<-ctx1.Done()
			cancel()
		})
	})

	w := astikit.NewWorker(astikit.WorkerOptions{})
	defer w.Stop()

	require.NoError(t, tk.start(context.Background(), w.NewTask))
	require.Equal(t, StatusRunning, tk.status())

	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel2()
	require.ErrorIs(t, tk.wait(ctx2), context.DeadlineExceeded)

	cancel1()

	require.NoError(t, tk.wait(context.Background()))
	require.Equal(t, StatusDone, tk.status())
}
