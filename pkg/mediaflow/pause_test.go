package mediaflow

import (
	"context"
	"testing"
	"time"

	"github.com/asticode/go-astikit"
	"github.com/stretchr/testify/require"
)

func TestPause(t *testing.T) {
	now := time.Unix(1, 0)
	defer astikit.MockNow(func() time.Time { return now }).Close()

	p := newPause()
	defer p.close()
	require.False(t, p.paused())
	require.NoError(t, p.wait(context.Background()))

	p.pause()
	require.True(t, p.paused())
	errs := make(chan error, 1)
	go func() { errs <- p.wait(context.Background()) }()
	select {
	case <-errs:
		t.Fatal("wait should block")
	case <-time.After(10 * time.Millisecond):
	}

	now = now.Add(time.Second)
	var d time.Duration
	p.resume(func(delta time.Duration) { d = delta })
	require.NoError(t, <-errs)
	require.Equal(t, time.Second, d)
	require.False(t, p.paused())

	p.pause()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.wait(ctx), context.Canceled)
}
