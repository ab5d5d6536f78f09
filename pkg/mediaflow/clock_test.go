package mediaflow

import (
	"testing"
	"time"

	"github.com/asticode/go-astikit"
	"github.com/stretchr/testify/require"
)

type mockedAudioPositioner struct {
	ok bool
	p  time.Duration
}

func (m *mockedAudioPositioner) ConsumedPosition() (time.Duration, bool) {
	return m.p, m.ok
}

func TestClockWallMode(t *testing.T) {
	now := time.Unix(1, 0)
	defer astikit.MockNow(func() time.Time { return now }).Close()

	c := NewClock()
	require.Equal(t, time.Duration(0), c.Position())
	now = now.Add(time.Second)
	require.Equal(t, time.Duration(0), c.Position())

	c.Start()
	require.True(t, c.Running())
	now = now.Add(100 * time.Millisecond)
	require.Equal(t, 100*time.Millisecond, c.Position())

	c.Pause()
	require.False(t, c.Running())
	now = now.Add(time.Second)
	require.Equal(t, 100*time.Millisecond, c.Position())
	now = now.Add(time.Second)
	require.Equal(t, 100*time.Millisecond, c.Position())

	c.Start()
	now = now.Add(50 * time.Millisecond)
	require.Equal(t, 150*time.Millisecond, c.Position())

	c.SetRate(2)
	require.Equal(t, float64(2), c.Rate())
	now = now.Add(50 * time.Millisecond)
	require.Equal(t, 250*time.Millisecond, c.Position())

	c.Seek(50 * time.Millisecond)
	require.Equal(t, 50*time.Millisecond, c.Position())
	now = now.Add(10 * time.Millisecond)
	require.Equal(t, 70*time.Millisecond, c.Position())
}

func TestClockAudioMode(t *testing.T) {
	now := time.Unix(1, 0)
	defer astikit.MockNow(func() time.Time { return now }).Close()

	a := &mockedAudioPositioner{}
	c := NewClock()
	c.SetAudio(a)
	require.True(t, c.audioMode())
	c.Start()

	require.Equal(t, time.Duration(0), c.Position())
	a.ok = true
	a.p = 500 * time.Millisecond
	now = now.Add(time.Hour)
	require.Equal(t, 500*time.Millisecond, c.Position())

	a.p = 400 * time.Millisecond
	require.Equal(t, 500*time.Millisecond, c.Position())

	c.Pause()
	a.p = 600 * time.Millisecond
	require.Equal(t, 500*time.Millisecond, c.Position())
	c.Start()
	require.Equal(t, 600*time.Millisecond, c.Position())

	c.Seek(100 * time.Millisecond)
	a.ok = false
	require.Equal(t, 100*time.Millisecond, c.Position())
	a.ok = true
	a.p = 120 * time.Millisecond
	require.Equal(t, 120*time.Millisecond, c.Position())

	c.SetAudio(nil)
	require.False(t, c.audioMode())
	now = now.Add(30 * time.Millisecond)
	require.Equal(t, 150*time.Millisecond, c.Position())
}

type reentrantAudioPositioner struct {
	c *Clock
	p time.Duration
}

func (r *reentrantAudioPositioner) ConsumedPosition() (time.Duration, bool) {
	// Only valid if the clock mutex is not held
	_ = r.c.Rate()
	_ = r.c.Running()
	return r.p, true
}

func TestClockShouldNotHoldLockWhileReadingAudioPosition(t *testing.T) {
	c := NewClock()
	a := &reentrantAudioPositioner{c: c, p: 200 * time.Millisecond}
	c.SetAudio(a)
	c.Start()

	done := make(chan time.Duration, 1)
	go func() {
		c.SetRate(1)
		c.Pause()
		c.Start()
		done <- c.Position()
	}()
	select {
	case p := <-done:
		require.Equal(t, 200*time.Millisecond, p)
	case <-time.After(time.Second):
		require.FailNow(t, "clock is deadlocked")
	}
}

func TestClockShouldIgnoreAudioPositionReadBeforeSeek(t *testing.T) {
	a := &mockedAudioPositioner{ok: true, p: 2 * time.Second}
	c := NewClock()
	c.SetAudio(a)
	c.Start()

	s := c.sampleAudio()
	c.Seek(500 * time.Millisecond)
	c.m.Lock()
	p := c.positionUnsafe(s)
	c.m.Unlock()
	require.Equal(t, 500*time.Millisecond, p)
}
