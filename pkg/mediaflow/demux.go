package mediaflow

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/asticode/go-astikit"
)

const bufferingProgressSteps = 20

func (p *Pipeline) runDemux(r *playback) func(ctx context.Context) {
	return func(ctx context.Context) {
		r.es.run(ctx, func(e *epoch) bool { return p.demux(r, e) })
	}
}

// demux routes packets to their track's packet queue until the epoch is over
func (p *Pipeline) demux(r *playback, e *epoch) (done bool) {
	bucket := -1
	var retries int
	for {
		// Read packet
		pkt, err := r.demuxer.NextPacket(e.ctx)
		if err != nil {
			// Epoch is over
			if e.ctx.Err() != nil {
				return false
			}

			// End of stream
			if errors.Is(err, ErrEndOfStream) {
				p.l.InfoC(p.ctx, "mediaflow: end of stream reached")
				for _, tr := range r.tracks {
					tr.packets.End()
				}
				p.emit(EventNameBufferingProgress, EventBufferingProgress{Fraction: 1})
				<-e.ctx.Done()
				return false
			}

			// Retry transient errors
			ce := ClassifyDemuxError("read packet", err)
			if ce.Kind == ErrorKindTransient && retries < r.cfg.DemuxRetries {
				retries++
				p.l.WarnC(p.ctx, fmt.Errorf("mediaflow: reading packet failed, retrying (%d/%d): %w", retries, r.cfg.DemuxRetries, err))
				astikit.Sleep(e.ctx, r.cfg.DemuxRetry)
				continue
			}

			// Give up
			if ce.Kind == ErrorKindTransient {
				ce = newError(ErrorKindFatal, ce.Op, nil, fmt.Errorf("mediaflow: giving up after %d retries: %w", retries, ce.Err))
			}
			p.report(r, ce)
			<-e.ctx.Done()
			return false
		}
		retries = 0

		// Track is not played
		tr := r.track(pkt.TrackID)
		if tr == nil {
			continue
		}

		// Update stats
		atomic.AddUint64(&p.cs.incomingBytes, uint64(len(pkt.Data)))
		atomic.AddUint64(&p.cs.incomingPackets, 1)

		// Push
		if _, err := tr.packets.Push(e.ctx, pkt); err != nil {
			// Track has been disabled
			if errors.Is(err, ErrEndOfQueue) && e.ctx.Err() == nil {
				continue
			}
			return false
		}

		// Buffering progress
		if b := int(r.packetsFill() * bufferingProgressSteps); b != bucket {
			bucket = b
			p.emit(EventNameBufferingProgress, EventBufferingProgress{Fraction: float64(b) / bufferingProgressSteps})
		}
	}
}

// packetsFill is the mean fill of the packet queues of enabled tracks
func (r *playback) packetsFill() float64 {
	var count int
	var sum float64
	for _, tr := range r.tracks {
		if tr.packets.Closed() {
			continue
		}
		count++
		sum += tr.packets.Fill()
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
