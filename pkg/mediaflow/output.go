package mediaflow

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/asticode/go-astikit"
)

func (p *Pipeline) runVideoOutput(r *playback, tr *track) func(ctx context.Context) {
	return func(ctx context.Context) {
		r.es.run(ctx, func(e *epoch) bool {
			for {
				// Pop frame
				f, err := tr.frames.Pop(e.ctx)
				if err != nil {
					return p.onOutputEnd(r, tr, e, err)
				}

				// Present
				if vf, ok := f.(*VideoFrame); ok && !p.present(r, tr, e, vf) {
					return false
				}
			}
		})
	}
}

// present acts on the sync decision until the frame has been displayed or dropped. It returns
// false when the epoch is over.
func (p *Pipeline) present(r *playback, tr *track, e *epoch, f *VideoFrame) bool {
	for {
		// Wait while paused
		if err := r.pa.wait(e.ctx); err != nil {
			return false
		}

		// Sync
		d := p.sc.SyncFrame(f)
		switch d.Action {
		case SyncActionDisplay:
			if err := p.o.VideoSink.Display(e.ctx, f); err != nil {
				if e.ctx.Err() != nil {
					return false
				}
				p.report(r, newError(ErrorKindTransient, "display", &tr.info.ID, err))
				return true
			}
			p.emit(EventNameFrameReady, EventFrameReady{Frame: f, Track: tr.info.ID})
			return true
		case SyncActionDrop:
			p.emit(EventNameFrameDropped, EventFrameDropped{Drift: d.Drift, Frame: f, Track: tr.info.ID})
			return true
		default:
			astikit.Sleep(e.ctx, d.Wait)
			if e.ctx.Err() != nil {
				return false
			}
		}
	}
}

func (p *Pipeline) runAudioOutput(r *playback, tr *track) func(ctx context.Context) {
	return func(ctx context.Context) {
		r.es.run(ctx, func(e *epoch) bool {
			for {
				// Pop block
				f, err := tr.frames.Pop(e.ctx)
				if err != nil {
					return p.onOutputEnd(r, tr, e, err)
				}
				b, ok := f.(*AudioBlock)
				if !ok {
					continue
				}

				// Wait while paused
				if err = r.pa.wait(e.ctx); err != nil {
					return false
				}

				// Enqueue
				if err = p.o.AudioSink.Enqueue(e.ctx, b); err != nil {
					if e.ctx.Err() != nil {
						return false
					}
					p.report(r, newError(ErrorKindTransient, "enqueue", &tr.info.ID, err))
					continue
				}

				// Update stats
				atomic.AddUint64(&p.cs.samples, uint64(b.Samples))

				// Emit
				p.emit(EventNameSamplesReady, EventSamplesReady{Block: b, Track: tr.info.ID})
			}
		})
	}
}

func (p *Pipeline) onOutputEnd(r *playback, tr *track, e *epoch, err error) (done bool) {
	// Epoch is over
	if e.ctx.Err() != nil || !errors.Is(err, ErrEndOfQueue) {
		return false
	}

	// Track has been disabled
	if tr.packets.Closed() || tr.frames.Closed() {
		return true
	}

	// Track has ended
	p.post(e.ctx, func() { p.onTrackEnded(r, e.id, tr) })
	<-e.ctx.Done()
	return false
}
