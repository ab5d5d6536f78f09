package mediaflow

import (
	"testing"
	"time"

	"github.com/asticode/go-astikit"
	"github.com/stretchr/testify/require"
)

func TestDecide(t *testing.T) {
	const threshold = 40 * time.Millisecond
	for _, v := range []struct {
		clock, pts time.Duration
		d          SyncDecision
	}{
		{clock: time.Second, pts: time.Second, d: SyncDecision{Action: SyncActionDisplay}},
		{clock: time.Second, pts: time.Second + threshold, d: SyncDecision{Action: SyncActionDisplay, Drift: threshold}},
		{clock: time.Second, pts: time.Second - threshold, d: SyncDecision{Action: SyncActionDisplay, Drift: -threshold}},
		{clock: time.Second, pts: time.Second - threshold - 1, d: SyncDecision{Action: SyncActionDrop, Drift: -threshold - 1}},
		{clock: time.Second, pts: time.Second + 100*time.Millisecond, d: SyncDecision{Action: SyncActionWait, Drift: 100 * time.Millisecond, Wait: 60 * time.Millisecond}},
		{clock: 0, pts: time.Second, d: SyncDecision{Action: SyncActionWait, Drift: time.Second, Wait: 250 * time.Millisecond}},
	} {
		require.Equal(t, v.d, Decide(v.pts, v.clock, threshold, 250*time.Millisecond), "pts %s clock %s", v.pts, v.clock)
	}
	require.Equal(t, SyncDecision{Action: SyncActionWait, Drift: time.Second, Wait: 960 * time.Millisecond}, Decide(time.Second, 0, threshold, 0))
}

func TestSyncControllerWithAudioClock(t *testing.T) {
	a := &mockedAudioPositioner{}
	c := NewClock()
	c.SetAudio(a)
	c.Start()
	s := NewSyncController(c, 40*time.Millisecond, 250*time.Millisecond)

	// Audio output reports 500ms have been played
	a.ok = true
	a.p = 500 * time.Millisecond

	d := s.SyncFrame(&VideoFrame{Timing: Timing{PTS: 505 * time.Millisecond}})
	require.Equal(t, SyncActionDisplay, d.Action)
	d = s.SyncFrame(&VideoFrame{Timing: Timing{PTS: 440 * time.Millisecond}})
	require.Equal(t, SyncActionDrop, d.Action)
	d = s.SyncFrame(&VideoFrame{Timing: Timing{PTS: 600 * time.Millisecond}})
	require.Equal(t, SyncActionWait, d.Action)
	require.InDelta(t, float64(60*time.Millisecond), float64(d.Wait), float64(time.Millisecond))

	require.Equal(t, SyncControllerCumulativeStats{Displayed: 1, Dropped: 1, Waits: 1}, s.CumulativeStats())
	require.Len(t, s.DeltaStats(), 3)
}

func TestSyncControllerWithWallClock(t *testing.T) {
	now := time.Unix(1, 0)
	defer astikit.MockNow(func() time.Time { return now }).Close()

	c := NewClock()
	c.Start()
	s := NewSyncController(c, 40*time.Millisecond, 250*time.Millisecond)
	now = now.Add(500 * time.Millisecond)
	require.Equal(t, SyncActionDisplay, s.SyncFrame(&VideoFrame{Timing: Timing{PTS: 505 * time.Millisecond}}).Action)

	c.SetRate(2)
	d := s.SyncFrame(&VideoFrame{Timing: Timing{PTS: 600 * time.Millisecond}})
	require.Equal(t, SyncActionWait, d.Action)
	require.Equal(t, 30*time.Millisecond, d.Wait)
}
