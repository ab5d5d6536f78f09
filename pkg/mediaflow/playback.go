package mediaflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astikit"
)

// playback holds everything allocated by a load. It is exclusively owned by the pipeline.
type playback struct {
	c       *astikit.Closer
	cancel  context.CancelFunc
	cfg     PipelineConfig
	ctx     context.Context
	demuxer Demuxer
	// Indexed by track id, value is the id of the epoch the track has ended in. Only accessed in
	// the control loop.
	ended   map[TrackID]uint64
	es      *epochs
	loadErr error
	loaded  chan struct{}
	pa      *pause
	pool    *Pool
	// State to return to once seeking is done. Only accessed in the control loop.
	prev   State
	reader SourceReader
	// Set once tracks are final and the load has succeeded
	ready  atomic.Bool
	seekMu sync.Mutex // Makes sure seeks are applied one at a time
	src    Source
	t      *astikit.Task
	tracks []*track
}

type track struct {
	decoder Decoder
	frames  *Queue[Frame]
	// Only accessed in the control loop
	healthy bool
	info    TrackInfo
	packets *Queue[Packet]
}

func newPlayback(ctx context.Context, t *astikit.Task, src Source, cfg PipelineConfig, pool *Pool) *playback {
	r := &playback{
		c:      astikit.NewCloser(),
		cfg:    cfg,
		ended:  make(map[TrackID]uint64),
		loaded: make(chan struct{}),
		pa:     newPause(),
		pool:   pool,
		src:    src,
		t:      t,
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.es = newEpochs(r.ctx)
	return r
}

func (r *playback) track(id TrackID) *track {
	for _, t := range r.tracks {
		if t.info.ID == id {
			return t
		}
	}
	return nil
}

func (r *playback) trackInfos() (is []TrackInfo) {
	for _, t := range r.tracks {
		is = append(is, t.info)
	}
	return
}

// Only called in the control loop
func (r *playback) healthyTracks() (ts []*track) {
	for _, t := range r.tracks {
		if t.healthy {
			ts = append(ts, t)
		}
	}
	return
}

func (r *playback) addCloser(i interface{}) {
	if c, ok := i.(io.Closer); ok {
		r.c.AddWithError(c.Close)
	}
}

// open is executed outside the control loop. It opens the source, the demuxer and one decoder
// per selected track.
func (r *playback) open(ctx context.Context, caps *Capabilities, sinks map[MediaType]bool, onSkip func(*Error)) (err error) {
	// Open source
	if r.reader, err = caps.OpenSource(ctx, r.src); err != nil {
		return ClassifyDemuxError("open source", err)
	}
	r.addCloser(r.reader)

	// Create demuxer
	if r.demuxer, err = caps.NewDemuxer(r.src); err != nil {
		return ClassifyDemuxError("create demuxer", err)
	}
	r.addCloser(r.demuxer)

	// Open demuxer
	var is []TrackInfo
	if is, err = r.demuxer.Open(ctx, r.reader); err != nil {
		return ClassifyDemuxError("open demuxer", err)
	}

	// Loop through tracks
	selected := make(map[MediaType]bool)
	for _, i := range is {
		// Only the first track of a media type with a sink is played
		if !sinks[i.MediaType] || selected[i.MediaType] {
			continue
		}

		// Create decoder
		d, err := caps.NewDecoder(i)
		if err != nil {
			id := i.ID
			onSkip(newError(ErrorKindTrackDegrading, "create decoder", &id, err))
			continue
		}
		r.addCloser(d)

		// Add track
		selected[i.MediaType] = true
		r.tracks = append(r.tracks, &track{
			decoder: d,
			frames:  NewQueue[Frame](r.cfg.BufferSize),
			healthy: true,
			info:    i,
			packets: NewQueue[Packet](r.cfg.BufferSize),
		})
	}

	// No track
	if len(r.tracks) == 0 {
		return newError(ErrorKindFatal, "open", nil, fmt.Errorf("mediaflow: no playable track among %d: %w", len(is), ErrUnsupported))
	}
	return nil
}

// reposition is executed once every worker is parked
func (r *playback) reposition(t time.Duration, sink AudioSink) error {
	// Flush queues
	for _, tr := range r.tracks {
		tr.packets.Flush()
		tr.frames.Flush()
	}

	// Seek demuxer
	if err := r.demuxer.Seek(r.ctx, t, r.cfg.SeekMode); err != nil {
		return ClassifyDemuxError("seek", err)
	}

	// Flush and reset decoders of tracks that are still enabled
	var errs []error
	for _, tr := range r.tracks {
		if tr.packets.Closed() {
			continue
		}
		if err := r.pool.Do(r.ctx, func() {
			if _, err := tr.decoder.Flush(); err != nil {
				errs = append(errs, fmt.Errorf("mediaflow: flushing decoder of track %d failed: %w", tr.info.ID, err))
			}
			if err := tr.decoder.Reset(); err != nil {
				errs = append(errs, fmt.Errorf("mediaflow: resetting decoder of track %d failed: %w", tr.info.ID, err))
			}
		}); err != nil {
			return err
		}
	}

	// Flush audio sink
	if f, ok := sink.(AudioSinkFlusher); ok {
		f.Flush()
	}

	if len(errs) > 0 {
		return newError(ErrorKindTransient, "seek", nil, errors.Join(errs...))
	}
	return nil
}

// close must be called once every worker has been started or never will be
func (r *playback) close() error {
	// Cancel context so that blocked workers return
	r.cancel()
	r.pa.close()
	r.es.close()

	// Wait for workers
	r.t.Wait()
	r.t.Done()

	// Close queues
	for _, tr := range r.tracks {
		tr.packets.Close()
		tr.frames.Close()
	}

	// Close collaborators
	return r.c.Close()
}
