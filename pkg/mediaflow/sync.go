package mediaflow

import (
	"sync/atomic"
	"time"

	"github.com/asticode/go-astikit"
)

type SyncAction int

const (
	SyncActionDisplay SyncAction = iota
	SyncActionDrop
	SyncActionWait
)

func (a SyncAction) String() string {
	switch a {
	case SyncActionDisplay:
		return "display"
	case SyncActionDrop:
		return "drop"
	default:
		return "wait"
	}
}

type SyncDecision struct {
	Action SyncAction
	// Frame PTS minus clock position
	Drift time.Duration
	// Only set when action is wait
	Wait time.Duration
}

// Decide compares a frame's PTS with the clock position. An early frame waits for its drift
// beyond the threshold, capped by maxWait when it is positive.
func Decide(pts, clock, threshold, maxWait time.Duration) SyncDecision {
	d := SyncDecision{Drift: pts - clock}
	switch {
	case d.Drift < -threshold:
		d.Action = SyncActionDrop
	case d.Drift > threshold:
		d.Action = SyncActionWait
		d.Wait = d.Drift - threshold
		if maxWait > 0 && d.Wait > maxWait {
			d.Wait = maxWait
		}
	default:
		d.Action = SyncActionDisplay
	}
	return d
}

type SyncController struct {
	c         *Clock
	cs        *syncControllerCumulativeStats
	maxWait   time.Duration
	threshold time.Duration
}

type syncControllerCumulativeStats struct {
	displayed uint64
	dropped   uint64
	waits     uint64
}

func NewSyncController(c *Clock, threshold, maxWait time.Duration) *SyncController {
	return &SyncController{
		c:         c,
		cs:        &syncControllerCumulativeStats{},
		maxWait:   maxWait,
		threshold: threshold,
	}
}

// configure must not be called while frames are being synced
func (s *SyncController) configure(threshold, maxWait time.Duration) {
	s.maxWait = maxWait
	s.threshold = threshold
}

// SyncFrame decides what to do with a video frame given the current clock position.
// The wait duration is converted to wall clock time using the playback rate.
func (s *SyncController) SyncFrame(f *VideoFrame) SyncDecision {
	// Decide
	d := Decide(f.PTS, s.c.Position(), s.threshold, s.maxWait)

	// Process action
	switch d.Action {
	case SyncActionDisplay:
		atomic.AddUint64(&s.cs.displayed, 1)
	case SyncActionDrop:
		atomic.AddUint64(&s.cs.dropped, 1)
	case SyncActionWait:
		atomic.AddUint64(&s.cs.waits, 1)
		if r := s.c.Rate(); r > 0 && r != 1 {
			d.Wait = time.Duration(float64(d.Wait) / r)
		}
	}
	return d
}

type SyncControllerCumulativeStats struct {
	Displayed uint64
	Dropped   uint64
	Waits     uint64
}

func (s *SyncController) CumulativeStats() SyncControllerCumulativeStats {
	return SyncControllerCumulativeStats{
		Displayed: atomic.LoadUint64(&s.cs.displayed),
		Dropped:   atomic.LoadUint64(&s.cs.dropped),
		Waits:     atomic.LoadUint64(&s.cs.waits),
	}
}

func (s *SyncController) DeltaStats() []astikit.DeltaStat {
	return []astikit.DeltaStat{
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of video frames displayed per second",
				Label:       "Displayed rate",
				Name:        DeltaStatNameDisplayedRate,
				Unit:        "fps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&s.cs.displayed),
		},
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of late video frames dropped per second",
				Label:       "Dropped rate",
				Name:        DeltaStatNameDroppedRate,
				Unit:        "fps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&s.cs.dropped),
		},
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of early video frames waited for per second",
				Label:       "Wait rate",
				Name:        DeltaStatNameWaitRate,
				Unit:        "ps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&s.cs.waits),
		},
	}
}
