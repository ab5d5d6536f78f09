package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
	"github.com/asticode/go-astikit"
)

type MockedVideoSink struct {
	frames []*mediaflow.VideoFrame
	m      sync.Mutex
	// Returned by Display when not nil
	OnDisplay func(f *mediaflow.VideoFrame) error
}

var _ mediaflow.VideoSink = (*MockedVideoSink)(nil)

func NewMockedVideoSink() *MockedVideoSink {
	return &MockedVideoSink{}
}

func (s *MockedVideoSink) Display(ctx context.Context, f *mediaflow.VideoFrame) error {
	if s.OnDisplay != nil {
		if err := s.OnDisplay(f); err != nil {
			return err
		}
	}
	s.m.Lock()
	s.frames = append(s.frames, f)
	s.m.Unlock()
	return nil
}

func (s *MockedVideoSink) Frames() []*mediaflow.VideoFrame {
	s.m.Lock()
	defer s.m.Unlock()
	return append([]*mediaflow.VideoFrame{}, s.frames...)
}

func (s *MockedVideoSink) Reset() {
	s.m.Lock()
	defer s.m.Unlock()
	s.frames = nil
}

// MockedAudioSink plays blocks in real time: Enqueue returns once the block has been played
type MockedAudioSink struct {
	blocks   []*mediaflow.AudioBlock
	flushes  int
	m        sync.Mutex
	ok       bool
	paused   bool
	pauses   int
	position time.Duration
	resumes  int
}

var (
	_ mediaflow.AudioSink        = (*MockedAudioSink)(nil)
	_ mediaflow.AudioSinkFlusher = (*MockedAudioSink)(nil)
	_ mediaflow.AudioSinkPauser  = (*MockedAudioSink)(nil)
)

func NewMockedAudioSink() *MockedAudioSink {
	return &MockedAudioSink{}
}

func (s *MockedAudioSink) Enqueue(ctx context.Context, b *mediaflow.AudioBlock) error {
	// Play
	astikit.Sleep(ctx, b.Duration)
	if err := ctx.Err(); err != nil {
		return err
	}

	s.m.Lock()
	defer s.m.Unlock()
	s.blocks = append(s.blocks, b)
	s.ok = true
	s.position = b.End()
	return nil
}

func (s *MockedAudioSink) ConsumedPosition() (time.Duration, bool) {
	s.m.Lock()
	defer s.m.Unlock()
	return s.position, s.ok
}

func (s *MockedAudioSink) Flush() {
	s.m.Lock()
	defer s.m.Unlock()
	s.flushes++
	s.ok = false
}

func (s *MockedAudioSink) Pause() {
	s.m.Lock()
	defer s.m.Unlock()
	s.paused = true
	s.pauses++
}

func (s *MockedAudioSink) Resume() {
	s.m.Lock()
	defer s.m.Unlock()
	s.paused = false
	s.resumes++
}

func (s *MockedAudioSink) Blocks() []*mediaflow.AudioBlock {
	s.m.Lock()
	defer s.m.Unlock()
	return append([]*mediaflow.AudioBlock{}, s.blocks...)
}

func (s *MockedAudioSink) Flushes() int {
	s.m.Lock()
	defer s.m.Unlock()
	return s.flushes
}

func (s *MockedAudioSink) Paused() bool {
	s.m.Lock()
	defer s.m.Unlock()
	return s.paused
}

func (s *MockedAudioSink) Pauses() int {
	s.m.Lock()
	defer s.m.Unlock()
	return s.pauses
}
