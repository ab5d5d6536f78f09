package mediaflow

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/asticode/go-astikit"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Sessions is the registry of playback sessions. Its sessions share the same decode pool and
// capabilities.
type Sessions struct {
	caps *Capabilities
	l    astikit.CompleteLogger
	m    sync.Mutex // Locks ss
	o    SessionsOptions
	pool *Pool
	ss   map[string]*Session
}

type SessionsOptions struct {
	Capabilities    *Capabilities
	ContextAdapters PipelineContextAdaptersOptions
	// Size of the decode pool shared by every session. Defaults to the number of CPUs.
	DecodeWorkers int
	Logger        astikit.StdLogger
	// 0 means no limit
	MaxSessions int
	Worker      *astikit.Worker
}

type SessionConfig struct {
	AudioSink  AudioSink
	DeltaStats []astikit.DeltaStat
	Metadata   Metadata
	Plugins    []Plugin
	VideoSink  VideoSink
}

type Session struct {
	createdAt time.Time
	id        string
	p         *Pipeline
}

func NewSessions(o SessionsOptions) (*Sessions, error) {
	// Check options
	if o.Worker == nil {
		return nil, fmt.Errorf("mediaflow: worker is mandatory")
	}

	// Create sessions
	s := &Sessions{
		caps: o.Capabilities,
		l:    astikit.AdaptStdLogger(o.Logger),
		o:    o,
		pool: NewPool(o.DecodeWorkers),
		ss:   make(map[string]*Session),
	}
	if s.caps == nil {
		s.caps = NewCapabilities()
	}
	return s, nil
}

func (s *Sessions) Capabilities() *Capabilities {
	return s.caps
}

func (s *Sessions) Pool() *Pool {
	return s.pool
}

// Create creates a session and starts its pipeline
func (s *Sessions) Create(ctx context.Context, c SessionConfig) (*Session, error) {
	// Check context
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Lock
	s.m.Lock()
	defer s.m.Unlock()

	// Too many sessions
	if s.o.MaxSessions > 0 && len(s.ss) >= s.o.MaxSessions {
		return nil, fmt.Errorf("mediaflow: %d sessions are already running: %w", len(s.ss), ErrResourceExhausted)
	}

	// Create session
	ss := &Session{
		createdAt: astikit.Now(),
		id:        uuid.NewString(),
	}

	// Create metadata
	md := c.Metadata
	if md.Name == "" {
		md.Name = ss.id
	}

	// Create pipeline
	var err error
	if ss.p, err = NewPipeline(PipelineOptions{
		AudioSink:       c.AudioSink,
		Capabilities:    s.caps,
		ContextAdapters: s.o.ContextAdapters,
		DeltaStats:      c.DeltaStats,
		Logger:          s.o.Logger,
		Metadata:        md,
		Plugins:         c.Plugins,
		Pool:            s.pool,
		VideoSink:       c.VideoSink,
		Worker:          s.o.Worker,
	}); err != nil {
		return nil, fmt.Errorf("mediaflow: creating pipeline failed: %w", err)
	}

	// Start pipeline
	if err = ss.p.Start(s.o.Worker.Context()); err != nil {
		ss.p.Close()
		return nil, fmt.Errorf("mediaflow: starting pipeline failed: %w", err)
	}

	// Store
	s.ss[ss.id] = ss

	// Log
	s.l.InfoCf(ss.p.Context(), "mediaflow: session %s has been created", ss.id)
	return ss, nil
}

func (s *Sessions) Get(id string) (*Session, error) {
	s.m.Lock()
	defer s.m.Unlock()
	ss, ok := s.ss[id]
	if !ok {
		return nil, fmt.Errorf("mediaflow: session %s: %w", id, ErrSessionNotFound)
	}
	return ss, nil
}

// List returns sessions sorted by creation time
func (s *Sessions) List() (ss []*Session) {
	s.m.Lock()
	for _, v := range s.ss {
		ss = append(ss, v)
	}
	s.m.Unlock()
	slices.SortFunc(ss, func(a, b *Session) int {
		if c := a.createdAt.Compare(b.createdAt); c != 0 {
			return c
		}
		if a.id < b.id {
			return -1
		}
		return 1
	})
	return
}

// Destroy stops the session's playback and releases its pipeline
func (s *Sessions) Destroy(ctx context.Context, id string) error {
	// Remove session
	s.m.Lock()
	ss, ok := s.ss[id]
	delete(s.ss, id)
	s.m.Unlock()
	if !ok {
		return fmt.Errorf("mediaflow: session %s: %w", id, ErrSessionNotFound)
	}

	// Destroy
	if err := ss.destroy(ctx); err != nil {
		return err
	}

	// Log
	s.l.InfoCf(ss.p.Context(), "mediaflow: session %s has been destroyed", ss.id)
	return nil
}

// Close destroys every session concurrently
func (s *Sessions) Close() error {
	// Remove sessions
	s.m.Lock()
	ss := s.ss
	s.ss = make(map[string]*Session)
	s.m.Unlock()

	// Destroy
	var g errgroup.Group
	for _, v := range ss {
		g.Go(func() error { return v.destroy(context.Background()) })
	}
	return g.Wait()
}

func (ss *Session) destroy(ctx context.Context) error {
	// Stop playback
	if err := ss.p.Stop(ctx); err != nil && ss.p.Status() == StatusRunning {
		return fmt.Errorf("mediaflow: stopping session %s failed: %w", ss.id, err)
	}

	// Close pipeline
	if err := ss.p.Close(); err != nil {
		return fmt.Errorf("mediaflow: closing session %s failed: %w", ss.id, err)
	}
	return nil
}

func (ss *Session) CreatedAt() time.Time {
	return ss.createdAt
}

func (ss *Session) ID() string {
	return ss.id
}

func (ss *Session) Pipeline() *Pipeline {
	return ss.p
}

func (ss *Session) String() string {
	return ss.id
}
