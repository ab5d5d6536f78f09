package mediaflow

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

type decodeState struct {
	failures int
	// Monotonic per track, across epochs
	sequence uint64
}

func (p *Pipeline) runDecode(r *playback, tr *track) func(ctx context.Context) {
	return func(ctx context.Context) {
		s := &decodeState{}
		r.es.run(ctx, func(e *epoch) bool {
			s.failures = 0
			return p.decode(r, tr, e, s)
		})
	}
}

// decode pulls packets of one track and pushes decoded frames until the epoch is over
func (p *Pipeline) decode(r *playback, tr *track, e *epoch, s *decodeState) (done bool) {
	for {
		// Pop packet
		pkt, err := tr.packets.Pop(e.ctx)
		if err != nil {
			// Epoch is over
			if e.ctx.Err() != nil || !errors.Is(err, ErrEndOfQueue) {
				return false
			}

			// Track has been disabled
			if tr.packets.Closed() {
				return true
			}

			// Drain decoder
			p.drain(r, tr, e, s)
			<-e.ctx.Done()
			return false
		}

		// Decode
		var fs []Frame
		var derr error
		if err = r.pool.Do(e.ctx, func() { fs, derr = tr.decoder.Decode(pkt) }); err != nil {
			return false
		}

		// Decode failed
		if derr != nil {
			// Update stats
			s.failures++
			atomic.AddUint64(&p.cs.decodeErrors, 1)

			// Classify
			ce := ClassifyDecodeError(tr.info.ID, "decode", derr)
			if ce.Kind == ErrorKindTransient && s.failures > r.cfg.MaxConsecutiveDecodeErrors {
				ce = newError(ErrorKindTrackDegrading, ce.Op, &tr.info.ID, fmt.Errorf("mediaflow: %d consecutive decode errors: %w", s.failures, derr))
			}

			// Disable track
			if ce.Kind != ErrorKindTransient {
				tr.packets.Close()
				tr.frames.End()
				p.report(r, ce)
				return true
			}

			// Skip packet
			p.report(r, ce)
			continue
		}
		s.failures = 0

		// Push frames
		if !p.pushFrames(tr, e, s, fs) {
			return false
		}
	}
}

// drain pushes frames buffered by the decoder and ends the frame queue
func (p *Pipeline) drain(r *playback, tr *track, e *epoch, s *decodeState) {
	// Flush decoder
	var fs []Frame
	var derr error
	if err := r.pool.Do(e.ctx, func() { fs, derr = tr.decoder.Flush() }); err != nil {
		return
	}
	if derr != nil {
		p.report(r, newError(ErrorKindTransient, "flush", &tr.info.ID, derr))
	}

	// Push frames
	if !p.pushFrames(tr, e, s, fs) {
		return
	}

	// End frames
	tr.frames.End()
}

func (p *Pipeline) pushFrames(tr *track, e *epoch, s *decodeState, fs []Frame) bool {
	for _, f := range fs {
		// Trim frames decoded before the exact seek target
		if e.trim != nil && trimmed(f, *e.trim) {
			atomic.AddUint64(&p.cs.trimmedFrames, 1)
			continue
		}

		// Update sequence
		s.sequence++
		switch v := f.(type) {
		case *AudioBlock:
			v.Sequence = s.sequence
		case *VideoFrame:
			v.Sequence = s.sequence
		}

		// Update stats
		atomic.AddUint64(&p.cs.decodedFrames, 1)

		// Push
		if _, err := tr.frames.Push(e.ctx, f); err != nil {
			return false
		}
	}
	return true
}

// Video frames are trimmed when they start before the target, audio blocks when they end before it
func trimmed(f Frame, target time.Duration) bool {
	t := f.FrameTiming()
	if _, ok := f.(*AudioBlock); ok {
		return t.End() <= target
	}
	return t.PTS < target
}
