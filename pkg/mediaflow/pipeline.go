package mediaflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astikit"
)

var (
	errPipelineDone    = errors.New("mediaflow: pipeline is done")
	errPlaybackStopped = errors.New("mediaflow: playback has been stopped")
	pipelineCount      uint64
)

// Pipeline plays one source at a time. Control operations are sent to a single control loop
// through a command channel, events are sent out through an event channel.
type Pipeline struct {
	activeWorkers int64
	caps          *Capabilities
	clock         *Clock
	cmds          chan pipelineCommand
	cs            *pipelineCumulativeStats
	ctx           context.Context
	dss           []astikit.DeltaStat
	e             *astikit.EventManager
	ec            *astikit.Chan
	err           error
	events        chan Event
	eventsClosed  bool
	id            uint64
	l             astikit.CompleteLogger
	loopCtx       context.Context
	loopDone      chan struct{}
	m             sync.Mutex // Locks err, r and s
	me            sync.Mutex // Locks events, eventsClosed and loopCtx
	o             PipelineOptions
	pool          *Pool
	ps            []Plugin
	r             *playback
	s             State
	sc            *SyncController
	t             *task
	tc            astikit.TaskCreator
	workerCount   uint64
}

type PipelineOptions struct {
	// Tracks of a media type are only played when there's a sink for it
	AudioSink       AudioSink
	Capabilities    *Capabilities
	ContextAdapters PipelineContextAdaptersOptions
	DeltaStats      []astikit.DeltaStat
	Logger          astikit.StdLogger
	Metadata        Metadata
	Plugins         []Plugin
	// Shared decode pool. Defaults to a pool sized by the load's decode workers.
	Pool      *Pool
	VideoSink VideoSink
	Worker    *astikit.Worker
}

type PipelineContextAdaptersOptions struct {
	Pipeline func(context.Context, *Pipeline) context.Context
	Plugin   func(context.Context, *Pipeline, Plugin) context.Context
	Worker   func(context.Context, *Pipeline, *Worker) context.Context
}

type pipelineCommand struct {
	fn  func() error
	res chan error
}

type pipelineCumulativeStats struct {
	decodeErrors    uint64
	decodedFrames   uint64
	incomingBytes   uint64
	incomingPackets uint64
	samples         uint64
	trimmedFrames   uint64
}

func NewPipeline(o PipelineOptions) (p *Pipeline, err error) {
	// Check options
	if o.Worker == nil {
		err = errors.New("mediaflow: worker is mandatory")
		return
	}

	// Create pipeline
	p = &Pipeline{
		caps:     o.Capabilities,
		clock:    NewClock(),
		cmds:     make(chan pipelineCommand),
		cs:       &pipelineCumulativeStats{},
		ctx:      context.Background(),
		e:        astikit.NewEventManager(),
		ec:       astikit.NewChan(astikit.ChanOptions{ProcessAll: true}),
		id:       atomic.AddUint64(&pipelineCount, 1),
		l:        astikit.AdaptStdLogger(o.Logger),
		loopDone: make(chan struct{}),
		o:        o,
		ps:       make([]Plugin, len(o.Plugins)),
		s:        StateIdle,
	}
	if p.caps == nil {
		p.caps = NewCapabilities()
	}
	p.sc = NewSyncController(p.clock, defaultSyncThreshold, defaultMaxSyncWait)

	// Adapt context
	if p.o.ContextAdapters.Pipeline != nil {
		p.ctx = p.o.ContextAdapters.Pipeline(p.ctx, p)
	}

	// Copy plugins
	copy(p.ps, o.Plugins)

	// Create stats
	p.dss = p.deltaStats(o.DeltaStats)

	// Create task
	p.t = newTask(astikit.NewCloser(), p.onTaskStart)

	// Listen to task events
	for _, v := range []struct {
		log  string
		name astikit.EventName
		on   astikit.EventName
	}{
		{log: "closed", name: EventNamePipelineClosed, on: eventNameTaskClosed},
		{log: "done", name: EventNamePipelineDone, on: eventNameTaskDone},
		{log: "running", name: EventNamePipelineRunning, on: eventNameTaskRunning},
		{log: "starting", name: EventNamePipelineStarting, on: eventNameTaskStarting},
		{log: "stopping", name: EventNamePipelineStopping, on: eventNameTaskStopping},
	} {
		lv := v
		p.t.e.On(lv.on, func(payload interface{}) (delete bool) {
			// Log
			p.l.InfoC(p.ctx, "mediaflow: pipeline is "+lv.log)

			// Close events channel
			if lv.on == eventNameTaskDone {
				p.closeEvents()
			}

			// Emit
			p.e.Emit(lv.name, nil)
			return lv.on == eventNameTaskClosed
		})
	}

	// Loop through plugins
	for idx, pl := range p.ps {
		// Create context
		ctx := context.Background()
		if p.o.ContextAdapters.Plugin != nil {
			ctx = p.o.ContextAdapters.Plugin(ctx, p, pl)
		}

		// Initialize plugin
		if err = pl.Init(ctx, p.t.c.NewChild(), p); err != nil {
			err = fmt.Errorf("mediaflow: initializing plugin #%d failed: %w", idx, err)
			return
		}
	}
	return
}

func (p *Pipeline) deltaStats(dss []astikit.DeltaStat) []astikit.DeltaStat {
	ss := append([]astikit.DeltaStat{}, dss...)
	ss = append(ss, p.sc.DeltaStats()...)
	ss = append(ss, p.ec.DeltaStats()...)
	ss = append(ss,
		astikit.DeltaStat{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of packets coming in per second",
				Label:       "Incoming rate",
				Name:        DeltaStatNameIncomingRate,
				Unit:        "pps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&p.cs.incomingPackets),
		},
		astikit.DeltaStat{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of bytes coming in per second",
				Label:       "Incoming byte rate",
				Name:        DeltaStatNameIncomingByteRate,
				Unit:        "Bps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&p.cs.incomingBytes),
		},
		astikit.DeltaStat{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of frames decoded per second",
				Label:       "Decoded rate",
				Name:        DeltaStatNameDecodedRate,
				Unit:        "fps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&p.cs.decodedFrames),
		},
		astikit.DeltaStat{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of decode errors",
				Label:       "Decode errors",
				Name:        DeltaStatNameDecodeErrors,
			},
			Valuer: astikit.NewAtomicUint64CumulativeDeltaStat(&p.cs.decodeErrors),
		},
		astikit.DeltaStat{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of frames trimmed after an exact seek",
				Label:       "Trimmed frames",
				Name:        DeltaStatNameTrimmedFrames,
			},
			Valuer: astikit.NewAtomicUint64CumulativeDeltaStat(&p.cs.trimmedFrames),
		},
		astikit.DeltaStat{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of audio samples sent to the audio sink per second",
				Label:       "Samples rate",
				Name:        DeltaStatNameSamplesRate,
				Unit:        "sps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&p.cs.samples),
		},
		astikit.DeltaStat{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Percentage of queue capacity in use",
				Label:       "Queue fill",
				Name:        DeltaStatNameQueueFill,
				Unit:        "%",
			},
			Valuer: astikit.DeltaStatValuerFunc(func(d time.Duration) interface{} { return p.queueFill() * 100 }),
		},
	)
	return ss
}

func (p *Pipeline) ID() uint64 {
	return p.id
}

func (p *Pipeline) String() string {
	if p.Metadata().Name != "" {
		return fmt.Sprintf("%s (pipeline_%d)", p.Metadata().Name, p.id)
	}
	return fmt.Sprintf("pipeline_%d", p.id)
}

func (p *Pipeline) Capabilities() *Capabilities {
	return p.caps
}

func (p *Pipeline) Context() context.Context {
	return p.ctx
}

func (p *Pipeline) DeltaStats() []astikit.DeltaStat {
	dst := make([]astikit.DeltaStat, len(p.dss))
	copy(dst, p.dss)
	return dst
}

func (p *Pipeline) Logger() astikit.CompleteLogger {
	return p.l
}

func (p *Pipeline) Metadata() Metadata {
	return p.o.Metadata
}

func (p *Pipeline) Status() Status {
	return p.t.status()
}

// ActiveWorkers is the number of workers whose run function hasn't returned yet
func (p *Pipeline) ActiveWorkers() int {
	return int(atomic.LoadInt64(&p.activeWorkers))
}

func (p *Pipeline) On(n astikit.EventName, h astikit.EventHandler) astikit.EventRemover {
	return p.e.On(n, h)
}

// Events returns a channel receiving playback events. It is closed once the pipeline is done.
// Consumers must keep up since On handlers are called in the same goroutine.
func (p *Pipeline) Events() <-chan Event {
	p.me.Lock()
	defer p.me.Unlock()
	if p.events == nil {
		p.events = make(chan Event, 64)
		if p.eventsClosed {
			close(p.events)
		}
	}
	return p.events
}

func (p *Pipeline) closeEvents() {
	p.me.Lock()
	defer p.me.Unlock()
	if p.eventsClosed {
		return
	}
	p.eventsClosed = true
	if p.events != nil {
		close(p.events)
	}
}

// emit dispatches playback events asynchronously and in order
func (p *Pipeline) emit(n astikit.EventName, payload interface{}) {
	p.ec.Add(func() {
		// Emit
		p.e.Emit(n, payload)

		// Send to channel
		p.me.Lock()
		ch, ctx := p.events, p.loopCtx
		if p.eventsClosed {
			ch = nil
		}
		p.me.Unlock()
		if ch != nil && ctx != nil {
			select {
			case ch <- Event{Name: n, Payload: payload}:
			case <-ctx.Done():
			}
		}
	})
}

func (p *Pipeline) Start(ctx context.Context) error {
	// Start task
	if err := p.t.start(ctx, p.o.Worker.NewTask); err != nil {
		return fmt.Errorf("mediaflow: starting task failed: %w", err)
	}
	return nil
}

func (p *Pipeline) onTaskStart(ctx context.Context, cancel context.CancelFunc, tc astikit.TaskCreator) {
	// Store
	p.tc = tc
	p.me.Lock()
	p.loopCtx = ctx
	p.me.Unlock()

	// Loop through plugins
	for _, pl := range p.ps {
		// Start plugin
		pl.Start(ctx, tc)
	}

	// Events are dispatched until the control loop is done
	ecCtx, ecCancel := context.WithCancel(context.Background())
	tc().Do(func() {
		defer p.ec.Stop()
		p.ec.Start(ecCtx)
	})

	// Start control loop
	tc().Do(func() {
		defer ecCancel()
		p.loop(ctx)
	})
}

// Close stops the pipeline, unloads the current media and waits for everything to be done
func (p *Pipeline) Close() error {
	err := p.t.c.Close()
	if werr := p.t.wait(context.Background()); werr != nil && err == nil {
		err = werr
	}
	return err
}

func (p *Pipeline) loop(ctx context.Context) {
	// Make sure everything is released
	defer close(p.loopDone)
	defer p.teardown()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-p.cmds:
			err := c.fn()
			if c.res != nil {
				c.res <- err
			}
		}
	}
}

func (p *Pipeline) teardown() {
	// Nothing to do
	if p.State().Terminal() || p.State() == StateIdle {
		return
	}

	// Stop
	p.stopPlayback()
	p.setState(StateStopped, nil)
}

// exec executes fn in the control loop and waits for its result
func (p *Pipeline) exec(ctx context.Context, fn func() error) error {
	// Invalid status
	if s := p.Status(); s != StatusRunning {
		return fmt.Errorf("mediaflow: invalid status %s", s)
	}

	// Send command
	c := pipelineCommand{
		fn:  fn,
		res: make(chan error, 1),
	}
	select {
	case p.cmds <- c:
	case <-p.loopDone:
		return errPipelineDone
	case <-ctx.Done():
		return ctx.Err()
	}

	// Wait for result
	select {
	case err := <-c.res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post executes fn in the control loop without waiting for it. It gives up when ctx is done and
// reports whether fn has been handed to the control loop.
func (p *Pipeline) post(ctx context.Context, fn func()) bool {
	select {
	case p.cmds <- pipelineCommand{fn: func() error {
		fn()
		return nil
	}}:
		return true
	case <-p.loopDone:
		return false
	case <-ctx.Done():
		return false
	}
}

// report surfaces a classified error. Only track degrading and fatal errors reach the control loop.
func (p *Pipeline) report(r *playback, err *Error) {
	switch err.Kind {
	case ErrorKindTransient:
		p.l.WarnC(p.ctx, err)
		p.emit(EventNameError, err)
	default:
		p.post(r.ctx, func() { p.onError(r, err) })
	}
}

func (p *Pipeline) State() State {
	p.m.Lock()
	defer p.m.Unlock()
	return p.s
}

// Err returns the cause of the errored state
func (p *Pipeline) Err() error {
	p.m.Lock()
	defer p.m.Unlock()
	return p.err
}

func (p *Pipeline) playback() *playback {
	p.m.Lock()
	defer p.m.Unlock()
	return p.r
}

// Only called in the control loop
func (p *Pipeline) setState(to State, err error) {
	// Update
	p.m.Lock()
	from := p.s
	p.s = to
	if to == StateErrored {
		p.err = err
	}
	p.m.Unlock()

	// Log
	if err != nil {
		p.l.ErrorC(p.ctx, fmt.Errorf("mediaflow: state changed from %s to %s: %w", from, to, err))
	} else {
		p.l.InfoCf(p.ctx, "mediaflow: state changed from %s to %s", from, to)
	}

	// Emit
	p.emit(EventNameStateChanged, EventStateChanged{
		Err:  err,
		From: from,
		To:   to,
	})
}

// Only called in the control loop
func (p *Pipeline) transition(op string, to State) error {
	if s := p.State(); !s.canTransitionTo(to) {
		return &TransitionError{
			From: s,
			Op:   op,
			To:   to,
		}
	}
	return nil
}

// Load allocates queues, opens the source, the demuxer and the decoders. It returns once the
// pipeline is ready or has errored.
func (p *Pipeline) Load(ctx context.Context, src Source, cfg PipelineConfig) error {
	// Check config
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Start loading
	var r *playback
	if err := p.exec(ctx, func() (err error) {
		r, err = p.load(src, cfg)
		return
	}); err != nil {
		return err
	}

	// Wait for load to be done
	select {
	case <-r.loaded:
		return r.loadErr
	case <-r.ctx.Done():
		select {
		case <-r.loaded:
			return r.loadErr
		default:
			return fmt.Errorf("mediaflow: loading has been interrupted: %w", r.ctx.Err())
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Only called in the control loop
func (p *Pipeline) load(src Source, cfg PipelineConfig) (*playback, error) {
	// Check transition
	if err := p.transition("load", StateLoading); err != nil {
		return nil, err
	}

	// Get pool
	pool := p.o.Pool
	if pool == nil {
		pool = NewPool(cfg.DecodeWorkers)
	}

	// Create playback
	r := newPlayback(p.loopCtx, p.tc(), src, cfg, pool)
	p.m.Lock()
	p.r = r
	p.m.Unlock()

	// Reset clock
	p.clock.Pause()
	p.clock.SetAudio(nil)
	p.clock.Seek(0)
	p.clock.SetRate(cfg.PlaybackRate)
	p.sc.configure(cfg.SyncThreshold, cfg.MaxSyncWait)

	// Update state
	p.setState(StateLoading, nil)

	// Get sinks
	sinks := make(map[MediaType]bool)
	if p.o.AudioSink != nil {
		sinks[MediaTypeAudio] = true
	}
	if p.o.VideoSink != nil {
		sinks[MediaTypeVideo] = true
	}

	// Open in the background
	r.t.NewSubTask().Do(func() {
		err := r.open(r.ctx, p.caps, sinks, func(err *Error) {
			p.l.WarnC(p.ctx, err)
			p.emit(EventNameError, err)
		})
		p.post(r.ctx, func() { p.onLoaded(r, err) })
	})
	return r, nil
}

// Only called in the control loop
func (p *Pipeline) onLoaded(r *playback, err error) {
	// Make sure to unblock Load
	defer close(r.loaded)

	// Playback is not current anymore
	if p.playback() != r || p.State() != StateLoading {
		r.loadErr = errors.New("mediaflow: playback has been replaced")
		return
	}

	// Load failed
	if err != nil {
		r.loadErr = err
		p.fail(err)
		return
	}

	// Log
	for _, tr := range r.tracks {
		p.l.InfoCf(p.ctx, "mediaflow: playing %s", tr.info)
	}

	// Audio is the master clock
	for _, tr := range r.tracks {
		if tr.info.MediaType == MediaTypeAudio {
			p.clock.SetAudio(p.o.AudioSink)
		}
	}

	// Update state
	r.ready.Store(true)
	p.setState(StateReady, nil)
}

func (p *Pipeline) Play(ctx context.Context) error {
	return p.exec(ctx, func() error {
		r := p.playback()
		switch p.State() {
		case StateReady:
			// Start workers
			if err := p.startWorkers(r); err != nil {
				p.fail(err)
				return err
			}

			// Start clock
			p.clock.Start()

			// Update state
			p.setState(StateRunning, nil)
		case StatePaused:
			// Resume
			p.resume(r)

			// Update state
			p.setState(StateRunning, nil)

			// Tracks may have ended while paused
			p.checkEnded(r)
		case StateSeeking:
			// Running will be restored once seeking is done
			r.prev = StateRunning
		default:
			return p.transition("play", StateRunning)
		}
		return nil
	})
}

// Only called in the control loop
func (p *Pipeline) resume(r *playback) {
	r.pa.resume(func(d time.Duration) { p.l.DebugCf(p.ctx, "mediaflow: resuming after %s", d) })
	p.clock.Start()
	if ps, ok := p.o.AudioSink.(AudioSinkPauser); ok {
		ps.Resume()
	}
}

// Only called in the control loop
func (p *Pipeline) startWorkers(r *playback) error {
	// Create options
	os := []WorkerOptions{{
		Metadata: Metadata{Name: "demux"},
		Run:      p.runDemux(r),
	}}
	for _, tr := range r.tracks {
		os = append(os, WorkerOptions{
			DeltaStats: []astikit.DeltaStat{queueFillDeltaStat(DeltaStatNamePacketQueueFill, "Packet queue fill", tr.packets.Fill)},
			Metadata:   Metadata{Name: fmt.Sprintf("decode %s %d", tr.info.MediaType, tr.info.ID)},
			Run:        p.runDecode(r, tr),
		})
		o := WorkerOptions{
			DeltaStats: []astikit.DeltaStat{queueFillDeltaStat(DeltaStatNameFrameQueueFill, "Frame queue fill", tr.frames.Fill)},
			Metadata:   Metadata{Name: fmt.Sprintf("output %s %d", tr.info.MediaType, tr.info.ID)},
		}
		switch tr.info.MediaType {
		case MediaTypeAudio:
			o.Run = p.runAudioOutput(r, tr)
		case MediaTypeVideo:
			o.Run = p.runVideoOutput(r, tr)
		default:
			continue
		}
		os = append(os, o)
	}

	// Register workers before any of them starts
	for range os {
		r.es.register()
	}

	// Loop through options
	for idx, o := range os {
		// Start worker
		w := p.newWorker(r.c.NewChild(), o)
		if err := w.start(r.ctx, r.t.NewSubTask); err != nil {
			for i := idx; i < len(os); i++ {
				r.es.unregister()
			}
			return fmt.Errorf("mediaflow: starting worker %s failed: %w", w, err)
		}
	}
	return nil
}

func (p *Pipeline) Pause(ctx context.Context) error {
	return p.exec(ctx, func() error {
		r := p.playback()
		switch p.State() {
		case StateRunning:
			// Pause
			r.pa.pause()
			p.clock.Pause()
			if ps, ok := p.o.AudioSink.(AudioSinkPauser); ok {
				ps.Pause()
			}

			// Update state
			p.setState(StatePaused, nil)
		case StateSeeking:
			// Paused will be restored once seeking is done
			r.pa.pause()
			r.prev = StatePaused
		default:
			return p.transition("pause", StatePaused)
		}
		return nil
	})
}

// Stop cancels and joins every worker and releases the loaded media. Stopping a pipeline that
// is already stopped or errored is a no-op.
func (p *Pipeline) Stop(ctx context.Context) error {
	return p.exec(ctx, func() error {
		// Already stopped
		if s := p.State(); s.Terminal() {
			return nil
		}

		// Stop
		p.stopPlayback()

		// Update state
		p.setState(StateStopped, nil)
		return nil
	})
}

// Only called in the control loop
func (p *Pipeline) stopPlayback() {
	// Get playback
	p.m.Lock()
	r := p.r
	p.r = nil
	p.m.Unlock()
	if r == nil {
		return
	}

	// Stop clock
	p.clock.Pause()

	// Close playback
	if err := r.close(); err != nil {
		p.l.WarnC(p.ctx, fmt.Errorf("mediaflow: closing playback failed: %w", err))
	}

	// Flush audio sink
	if f, ok := p.o.AudioSink.(AudioSinkFlusher); ok {
		f.Flush()
	}
}

// Only called in the control loop
func (p *Pipeline) fail(err error) {
	p.stopPlayback()
	p.setState(StateErrored, err)
}

type seekRequest struct {
	done   chan struct{}
	err    error
	id     uint64
	target time.Duration
}

// Seek repositions playback to t. A seek requested while another one is in flight supersedes it.
// It returns once the seek is done or has been superseded.
func (p *Pipeline) Seek(ctx context.Context, t time.Duration) error {
	// Start seeking
	if t < 0 {
		t = 0
	}
	var req *seekRequest
	if err := p.exec(ctx, func() (err error) {
		req, err = p.seek(t)
		return
	}); err != nil {
		return err
	}

	// Wait for seek to be done
	select {
	case <-req.done:
		return req.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Only called in the control loop
func (p *Pipeline) seek(t time.Duration) (*seekRequest, error) {
	// Check transition
	s := p.State()
	if s != StateRunning && s != StatePaused && s != StateSeeking {
		return nil, p.transition("seek", StateSeeking)
	}

	// Store previous state
	r := p.playback()
	if s != StateSeeking {
		r.prev = s
	}

	// Freeze
	p.clock.Pause()
	if ps, ok := p.o.AudioSink.(AudioSinkPauser); ok && s == StateRunning {
		ps.Pause()
	}

	// Begin new epoch
	var trim *time.Duration
	if r.cfg.SeekMode == SeekModeExact {
		trim = &t
	}
	req := &seekRequest{
		done:   make(chan struct{}),
		id:     r.es.begin(trim),
		target: t,
	}

	// Update state
	if s != StateSeeking {
		p.setState(StateSeeking, nil)
	}

	// Apply in the background
	r.t.NewSubTask().Do(func() { p.applySeek(r, req) })
	return req, nil
}

// applySeek is executed outside the control loop
func (p *Pipeline) applySeek(r *playback, req *seekRequest) {
	// Wait for workers to park
	if err := r.es.waitParked(r.ctx, req.id); err != nil {
		p.endSeek(req, err)
		return
	}

	// Lock
	r.seekMu.Lock()
	defer r.seekMu.Unlock()

	// Seek has been superseded
	if r.es.current().id != req.id {
		p.endSeek(req, errEpochSuperseded)
		return
	}

	// Reposition
	err := r.reposition(req.target, p.o.AudioSink)
	if err == nil {
		p.clock.Seek(req.target)
	}

	// Release workers
	if !r.es.release(req.id) {
		p.endSeek(req, errEpochSuperseded)
		return
	}

	// Seek is done
	if !p.post(r.ctx, func() { p.onSeekDone(r, req, err) }) {
		// Playback has been stopped in the meantime
		p.endSeek(req, errPlaybackStopped)
	}
}

func (p *Pipeline) endSeek(req *seekRequest, err error) {
	if errors.Is(err, errEpochSuperseded) {
		err = nil
	} else if err != nil {
		err = fmt.Errorf("mediaflow: seeking to %s has been interrupted: %w", req.target, err)
	}
	req.err = err
	close(req.done)
}

// Only called in the control loop
func (p *Pipeline) onSeekDone(r *playback, req *seekRequest, err error) {
	// Playback is not seeking anymore
	if p.playback() != r || p.State() != StateSeeking {
		p.endSeek(req, err)
		return
	}

	// Seek failed
	if err != nil {
		var e *Error
		if !errors.As(err, &e) {
			e = newError(ErrorKindTransient, "seek", nil, err)
		}
		p.l.WarnC(p.ctx, e)
		p.emit(EventNameError, e)
	}

	// Audio is the master clock again
	for _, tr := range r.healthyTracks() {
		if tr.info.MediaType == MediaTypeAudio {
			p.clock.SetAudio(p.o.AudioSink)
		}
	}

	// Restore previous state
	if r.prev == StateRunning {
		p.resume(r)
	} else {
		r.pa.pause()
	}
	p.setState(r.prev, nil)
	p.endSeek(req, err)

	// Tracks may have ended already
	p.checkEnded(r)
}

// Only called in the control loop
func (p *Pipeline) onError(r *playback, err *Error) {
	// Playback is not current anymore
	if p.playback() != r {
		return
	}

	// Log
	p.l.WarnC(p.ctx, err)

	switch err.Kind {
	case ErrorKindTrackDegrading:
		// Get track
		var tr *track
		if err.Track != nil {
			tr = r.track(*err.Track)
		}
		if tr == nil || !tr.healthy {
			return
		}

		// Disable track
		tr.healthy = false
		p.emit(EventNameError, err)

		// No track left
		if len(r.healthyTracks()) == 0 {
			p.fail(fmt.Errorf("mediaflow: no healthy track left: %w", err))
			return
		}

		// Switch to wall clock
		if tr.info.MediaType == MediaTypeAudio {
			p.clock.SetAudio(nil)
		}

		// Remaining tracks may have ended already
		p.checkEnded(r)
	default:
		p.emit(EventNameError, err)
		p.fail(err)
	}
}

// Only called in the control loop
func (p *Pipeline) onTrackEnded(r *playback, epochID uint64, tr *track) {
	// Playback or epoch is not current anymore
	if p.playback() != r || r.es.current().id != epochID {
		return
	}

	// Store
	r.ended[tr.info.ID] = epochID

	// Video may outlast audio
	if tr.info.MediaType == MediaTypeAudio {
		p.clock.SetAudio(nil)
	}

	// Check
	p.checkEnded(r)
}

// Only called in the control loop
func (p *Pipeline) checkEnded(r *playback) {
	// Only running playbacks can end
	if p.State() != StateRunning {
		return
	}

	// Loop through healthy tracks
	id := r.es.current().id
	for _, tr := range r.healthyTracks() {
		if v, ok := r.ended[tr.info.ID]; !ok || v != id {
			return
		}
	}

	// Stop
	p.l.InfoC(p.ctx, "mediaflow: playback has ended")
	p.stopPlayback()
	p.setState(StateStopped, nil)
}

// SetRate changes the playback rate of the loaded media
func (p *Pipeline) SetRate(ctx context.Context, rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("mediaflow: invalid rate %f", rate)
	}
	return p.exec(ctx, func() error {
		if s := p.State(); s == StateIdle || s == StateLoading || s.Terminal() {
			return &TransitionError{From: s, Op: "set rate", To: s}
		}
		p.clock.SetRate(rate)
		return nil
	})
}

func (p *Pipeline) CurrentPosition() time.Duration {
	return p.clock.Position()
}

// Tracks returns the tracks being played
func (p *Pipeline) Tracks() []TrackInfo {
	r := p.playback()
	if r == nil || !r.ready.Load() {
		return nil
	}
	return r.trackInfos()
}

// BufferedRanges returns the time range that is buffered for every enabled track
func (p *Pipeline) BufferedRanges() []TimeRange {
	// Get playback
	r := p.playback()
	if r == nil {
		return nil
	}
	select {
	case <-r.loaded:
	default:
		return nil
	}

	// Loop through tracks
	var o *TimeRange
	for _, tr := range r.tracks {
		// Track is disabled
		if tr.packets.Closed() {
			continue
		}

		// Get range
		br, ok := trackBufferedRange(tr)
		if !ok {
			continue
		}

		// Intersect
		if o == nil {
			o = &br
		} else if i, ok := o.intersect(br); ok {
			o = &i
		} else {
			return nil
		}
	}
	if o == nil {
		return nil
	}
	return []TimeRange{*o}
}

func trackBufferedRange(tr *track) (TimeRange, bool) {
	var o TimeRange
	var ok bool

	// Frames
	if fh, ft, fok := tr.frames.Bounds(); fok {
		o = TimeRange{Start: fh.FrameTiming().PTS, End: ft.FrameTiming().End()}
		ok = true
	}

	// Packets
	if ph, pt, pok := tr.packets.Bounds(); pok {
		if !ok {
			o.Start = ph.PTS
		}
		o.End = max(o.End, pt.PTS+pt.Duration)
		ok = true
	}
	return o, ok
}

func queueFillDeltaStat(name, label string, fill func() float64) astikit.DeltaStat {
	return astikit.DeltaStat{
		Metadata: astikit.DeltaStatMetadata{
			Description: "Percentage of queue capacity in use",
			Label:       label,
			Name:        name,
			Unit:        "%",
		},
		Valuer: astikit.DeltaStatValuerFunc(func(d time.Duration) interface{} { return fill() * 100 }),
	}
}

func (p *Pipeline) queueFill() float64 {
	r := p.playback()
	if r == nil {
		return 0
	}
	select {
	case <-r.loaded:
	default:
		return 0
	}
	var count int
	var sum float64
	for _, tr := range r.tracks {
		sum += tr.packets.Fill() + tr.frames.Fill()
		count += 2
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
