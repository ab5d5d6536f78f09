package mediaflow

import (
	"sync"
	"time"

	"github.com/asticode/go-astikit"
)

// AudioPositioner reports the media position of the last sample actually played
type AudioPositioner interface {
	ConsumedPosition() (time.Duration, bool)
}

// Clock is the playback clock. It is derived from the audio output when there is one and from
// wall clock time scaled by the playback rate otherwise.
// Position never moves backward except through Seek.
type Clock struct {
	anchor   time.Duration
	anchorAt time.Time
	audio    AudioPositioner
	floor    time.Duration
	// Incremented whenever the audio positioner changes or a seek happens
	gen     uint64
	m       sync.Mutex
	rate    float64
	running bool
}

// audioSample is an audio position read without holding the clock mutex
type audioSample struct {
	gen uint64
	ok  bool
	p   time.Duration
}

func NewClock() *Clock {
	return &Clock{rate: 1}
}

func (c *Clock) Position() time.Duration {
	s := c.sampleAudio()
	c.m.Lock()
	defer c.m.Unlock()
	return c.positionUnsafe(s)
}

// sampleAudio reads the audio output position. The mutex is not held while the audio output is
// called.
func (c *Clock) sampleAudio() (s audioSample) {
	// Snapshot
	c.m.Lock()
	a := c.audio
	running := c.running
	s.gen = c.gen
	c.m.Unlock()

	// Get position
	if a != nil && running {
		s.p, s.ok = a.ConsumedPosition()
	}
	return
}

// Mutex should be locked
func (c *Clock) positionUnsafe(s audioSample) time.Duration {
	// Paused
	if !c.running {
		return c.floor
	}

	// Get raw position
	var p time.Duration
	if c.audio != nil {
		// Sample is stale when the positioner has changed or a seek has happened in the meantime
		if s.ok && s.gen == c.gen {
			p = s.p
		} else {
			p = c.floor
		}
	} else {
		p = c.anchor + time.Duration(float64(astikit.Now().Sub(c.anchorAt))*c.rate)
	}

	// Make sure position is monotonic
	if p < c.floor {
		p = c.floor
	}
	c.floor = p
	return p
}

// Mutex should be locked
func (c *Clock) reanchorUnsafe(s audioSample) {
	c.anchor = c.positionUnsafe(s)
	c.anchorAt = astikit.Now()
}

func (c *Clock) Start() {
	c.m.Lock()
	defer c.m.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.anchor = c.floor
	c.anchorAt = astikit.Now()
}

// Pause freezes the position until Start is called again
func (c *Clock) Pause() {
	s := c.sampleAudio()
	c.m.Lock()
	defer c.m.Unlock()
	if !c.running {
		return
	}
	c.floor = c.positionUnsafe(s)
	c.running = false
}

func (c *Clock) Running() bool {
	c.m.Lock()
	defer c.m.Unlock()
	return c.running
}

// Seek is the only way to move the position backward
func (c *Clock) Seek(t time.Duration) {
	c.m.Lock()
	defer c.m.Unlock()
	c.anchor = t
	c.anchorAt = astikit.Now()
	c.floor = t
	c.gen++
}

func (c *Clock) Rate() float64 {
	c.m.Lock()
	defer c.m.Unlock()
	return c.rate
}

func (c *Clock) SetRate(r float64) {
	s := c.sampleAudio()
	c.m.Lock()
	defer c.m.Unlock()
	c.reanchorUnsafe(s)
	c.rate = r
}

// SetAudio switches the clock to audio mode, or to wall clock mode when a is nil, without
// changing the current position
func (c *Clock) SetAudio(a AudioPositioner) {
	s := c.sampleAudio()
	c.m.Lock()
	defer c.m.Unlock()
	c.reanchorUnsafe(s)
	c.audio = a
	c.gen++
}

func (c *Clock) audioMode() bool {
	c.m.Lock()
	defer c.m.Unlock()
	return c.audio != nil
}
