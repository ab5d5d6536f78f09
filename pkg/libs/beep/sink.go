package beepmedia

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
)

var (
	_ beep.Streamer              = (*Sink)(nil)
	_ io.Closer                  = (*Sink)(nil)
	_ mediaflow.AudioSink        = (*Sink)(nil)
	_ mediaflow.AudioSinkFlusher = (*Sink)(nil)
	_ mediaflow.AudioSinkPauser  = (*Sink)(nil)
)

// Swapped in tests
var (
	speakerClear = speaker.Clear
	speakerInit  = speaker.Init
	speakerPlay  = speaker.Play
)

// Sink plays audio blocks through the speaker. The speaker pulls samples from the sink which is
// why the consumed position follows what has actually been played.
type Sink struct {
	bs       []*sinkBlock
	buffered time.Duration
	m        sync.Mutex // Locks everything
	o        SinkOptions
	ok       bool
	paused   bool
	position time.Duration
	signal   chan struct{}
	sr       beep.SampleRate
	started  bool
}

type sinkBlock struct {
	b       *mediaflow.AudioBlock
	offset  int
	samples [][2]float64
}

type SinkOptions struct {
	// Enqueue blocks while more than this duration is buffered. Defaults to 200ms.
	BufferDuration time.Duration
	// Size of the speaker buffer. Defaults to 100ms.
	SpeakerBufferDuration time.Duration
}

func NewSink(o SinkOptions) *Sink {
	if o.BufferDuration <= 0 {
		o.BufferDuration = 200 * time.Millisecond
	}
	if o.SpeakerBufferDuration <= 0 {
		o.SpeakerBufferDuration = 100 * time.Millisecond
	}
	return &Sink{
		o:      o,
		signal: make(chan struct{}),
	}
}

// Mutex should be locked
func (s *Sink) broadcastUnsafe() {
	close(s.signal)
	s.signal = make(chan struct{})
}

// Close stops the speaker
func (s *Sink) Close() error {
	s.m.Lock()
	started := s.started
	s.started = false
	s.m.Unlock()
	if started {
		speakerClear()
	}
	return nil
}

// start initializes the speaker with the sample rate of the first block
func (s *Sink) start(sr beep.SampleRate) error {
	// Lock
	s.m.Lock()

	// Already started
	if s.started {
		s.m.Unlock()
		if sr != s.sr {
			return fmt.Errorf("beepmedia: sample rate %d differs from speaker sample rate %d: %w", sr, s.sr, mediaflow.ErrUnsupported)
		}
		return nil
	}

	// Update
	s.sr = sr
	s.started = true

	// Unlock
	s.m.Unlock()

	//!\\ Mutex should be unlocked at this point since the speaker locks itself before pulling samples

	// Init speaker
	if err := speakerInit(sr, sr.N(s.o.SpeakerBufferDuration)); err != nil {
		s.m.Lock()
		s.started = false
		s.m.Unlock()
		return fmt.Errorf("beepmedia: initializing speaker failed: %w", err)
	}

	// Play
	speakerPlay(s)
	return nil
}

func (s *Sink) Enqueue(ctx context.Context, b *mediaflow.AudioBlock) error {
	// Convert samples
	sb, err := newSinkBlock(b)
	if err != nil {
		return err
	}

	// Start
	if err = s.start(beep.SampleRate(b.SampleRate)); err != nil {
		return err
	}

	for {
		// Lock
		s.m.Lock()

		// There's room for the block
		if s.buffered < s.o.BufferDuration {
			s.bs = append(s.bs, sb)
			s.buffered += b.Duration
			s.m.Unlock()
			return nil
		}

		// Get signal
		c := s.signal

		// Unlock
		s.m.Unlock()

		// Wait
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c:
		}
	}
}

func newSinkBlock(b *mediaflow.AudioBlock) (*sinkBlock, error) {
	// Get channels
	cs, err := b.Channels64()
	if err != nil {
		return nil, fmt.Errorf("beepmedia: getting samples failed: %w", err)
	}

	// Convert to stereo
	sb := &sinkBlock{
		b:       b,
		samples: make([][2]float64, len(cs[0])),
	}
	for i := range sb.samples {
		sb.samples[i][0] = cs[0][i]
		if len(cs) > 1 {
			sb.samples[i][1] = cs[1][i]
		} else {
			sb.samples[i][1] = cs[0][i]
		}
	}
	return sb, nil
}

// Stream is called by the speaker. Silence is streamed when paused or when no block is buffered.
func (s *Sink) Stream(samples [][2]float64) (n int, ok bool) {
	// Lock
	s.m.Lock()
	defer s.m.Unlock()

	// Loop
	var consumed bool
	for n < len(samples) && !s.paused && len(s.bs) > 0 {
		// Copy
		sb := s.bs[0]
		c := copy(samples[n:], sb.samples[sb.offset:])
		n += c
		sb.offset += c
		consumed = true

		// Update position
		s.ok = true
		s.position = sb.b.PTS + s.sr.D(sb.offset)

		// Block is done
		if sb.offset >= len(sb.samples) {
			s.bs = s.bs[1:]
			s.buffered -= sb.b.Duration
		}
	}

	// Silence
	for i := n; i < len(samples); i++ {
		samples[i] = [2]float64{}
	}

	// Signal
	if consumed {
		s.broadcastUnsafe()
	}
	return len(samples), true
}

func (s *Sink) Err() error {
	return nil
}

func (s *Sink) ConsumedPosition() (time.Duration, bool) {
	s.m.Lock()
	defer s.m.Unlock()
	return s.position, s.ok
}

func (s *Sink) Flush() {
	s.m.Lock()
	defer s.m.Unlock()
	s.bs = nil
	s.buffered = 0
	s.ok = false
	s.broadcastUnsafe()
}

func (s *Sink) Pause() {
	s.m.Lock()
	defer s.m.Unlock()
	s.paused = true
}

func (s *Sink) Resume() {
	s.m.Lock()
	defer s.m.Unlock()
	s.paused = false
}
