package mediaflow

import (
	"fmt"
	"time"
)

type TrackID int

type MediaType int

const (
	MediaTypeUnknown MediaType = iota
	MediaTypeAudio
	MediaTypeVideo
)

func (t MediaType) String() string {
	switch t {
	case MediaTypeAudio:
		return "audio"
	case MediaTypeVideo:
		return "video"
	default:
		return "unknown"
	}
}

type TrackInfo struct {
	Channels    int
	Codec       string
	Duration    time.Duration
	Height      int
	ID          TrackID
	MediaType   MediaType
	PixelFormat string
	// Demuxer specific data needed by decoders of the same family, opaque to the pipeline
	Private    interface{}
	SampleRate int
	Width      int
}

func (i TrackInfo) String() string {
	switch i.MediaType {
	case MediaTypeAudio:
		return fmt.Sprintf("track %d: %s %s %dHz %dch", i.ID, i.MediaType, i.Codec, i.SampleRate, i.Channels)
	case MediaTypeVideo:
		return fmt.Sprintf("track %d: %s %s %dx%d", i.ID, i.MediaType, i.Codec, i.Width, i.Height)
	default:
		return fmt.Sprintf("track %d: %s %s", i.ID, i.MediaType, i.Codec)
	}
}

// Packet must not be modified once it has been returned by a demuxer
type Packet struct {
	DTS      time.Duration
	Data     []byte
	Duration time.Duration
	Keyframe bool
	PTS      time.Duration
	TrackID  TrackID
}

type Timing struct {
	Duration time.Duration
	PTS      time.Duration
}

func (t Timing) End() time.Duration {
	return t.PTS + t.Duration
}

func (t Timing) FrameTiming() Timing {
	return t
}

// Frame is either a *VideoFrame or an *AudioBlock
type Frame interface {
	FrameTiming() Timing
}

var (
	_ Frame = (*VideoFrame)(nil)
	_ Frame = (*AudioBlock)(nil)
)

type VideoFrame struct {
	Timing
	// One slice per plane
	Data        [][]byte
	Height      int
	PixelFormat string
	// Monotonic per track
	Sequence uint64
	Width    int
}

type AudioBlock struct {
	Timing
	Channels int
	// One slice per channel when planar, a single slice otherwise
	Data         [][]byte
	Planar       bool
	SampleFormat string
	SampleRate   int
	// Number of samples per channel
	Samples  int
	Sequence uint64
}

type TimeRange struct {
	End   time.Duration
	Start time.Duration
}

func (r TimeRange) Duration() time.Duration {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

func (r TimeRange) Contains(t time.Duration) bool {
	return t >= r.Start && t < r.End
}

func (r TimeRange) intersect(i TimeRange) (TimeRange, bool) {
	o := TimeRange{
		End:   min(r.End, i.End),
		Start: max(r.Start, i.Start),
	}
	return o, o.End > o.Start
}

type SeekMode int

const (
	// Playback resumes at the nearest keyframe at or before the target
	SeekModeKeyframe SeekMode = iota
	// Playback resumes at the target, frames decoded before it are discarded
	SeekModeExact
)

func (m SeekMode) String() string {
	if m == SeekModeExact {
		return "exact"
	}
	return "keyframe"
}

func ParseSeekMode(s string) (SeekMode, error) {
	switch s {
	case "", "keyframe":
		return SeekModeKeyframe, nil
	case "exact":
		return SeekModeExact, nil
	default:
		return 0, fmt.Errorf("mediaflow: invalid seek mode %s", s)
	}
}
