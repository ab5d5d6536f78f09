package mediaflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEpochs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	es := newEpochs(ctx)
	defer es.close()
	es.register()
	es.register()

	e0, err := es.enter(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(0), e0.id)
	require.Nil(t, e0.trim)

	// Begin a seek
	trim := time.Second
	id1 := es.begin(&trim)
	require.Equal(t, uint64(1), id1)
	require.Error(t, e0.ctx.Err())

	// Workers park
	entered := make(chan *epoch, 2)
	for i := 0; i < 2; i++ {
		go func() {
			e, err := es.enter(ctx)
			if err == nil {
				entered <- e
			}
		}()
	}
	require.NoError(t, es.waitParked(ctx, id1))
	select {
	case <-entered:
		t.Fatal("workers should be parked")
	case <-time.After(10 * time.Millisecond):
	}

	// Supersede
	id2 := es.begin(nil)
	require.ErrorIs(t, es.waitParked(ctx, id1), errEpochSuperseded)
	require.False(t, es.release(id1))
	require.NoError(t, es.waitParked(ctx, id2))
	require.True(t, es.release(id2))
	require.False(t, es.release(id2))

	for i := 0; i < 2; i++ {
		e := <-entered
		require.Equal(t, id2, e.id)
		require.NoError(t, e.ctx.Err())
	}
	require.Equal(t, id2, es.current().id)
	require.Equal(t, 0, es.parked)
}

func TestEpochsShouldHandleUnregisteredWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	es := newEpochs(ctx)
	es.register()
	es.register()

	id := es.begin(nil)
	errs := make(chan error, 1)
	go func() { errs <- es.waitParked(ctx, id) }()

	go es.enter(ctx) //nolint: errcheck
	select {
	case <-errs:
		t.Fatal("waitParked should block")
	case <-time.After(10 * time.Millisecond):
	}
	es.unregister()
	require.NoError(t, <-errs)

	cancel()
	_, err := es.enter(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
