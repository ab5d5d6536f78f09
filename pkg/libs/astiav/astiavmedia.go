package astiavmedia

import (
	"context"
	"fmt"
	"time"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
	"github.com/asticode/go-astiav"
)

var (
	NanosecondRational = astiav.NewRational(1, 1e9)
)

const (
	DeltaStatNameAllocatedFrames  = "astiavmedia.allocated.frames"
	DeltaStatNameAllocatedPackets = "astiavmedia.allocated.packets"
	DeltaStatNameDemuxerByteRate  = "astiavmedia.demuxer.byte_rate"
)

type Options struct {
	Decoder DecoderOptions
	Demuxer DemuxerOptions
}

// Register registers the libav demuxer, decoder and network sources. The demuxer accepts every
// source, which is why it should be registered after more specific demuxers.
func Register(c *mediaflow.Capabilities, o Options) {
	c.RegisterSource(mediaflow.SourceCapability{
		Name: "astiav",
		Open: func(ctx context.Context, s mediaflow.Source) (mediaflow.SourceReader, error) {
			return &urlReader{url: s.URL}, nil
		},
		Schemes: []string{"http", "https", "rtmp", "rtsp", "tcp", "udp"},
	})
	c.RegisterDemuxer(mediaflow.DemuxerCapability{
		Name: "astiav",
		New: func(s mediaflow.Source) (mediaflow.Demuxer, error) {
			return NewDemuxer(o.Demuxer), nil
		},
	})
	c.RegisterDecoder(mediaflow.DecoderCapability{
		Accepts: func(i mediaflow.TrackInfo) bool {
			_, ok := i.Private.(Stream)
			return ok
		},
		Name: "astiav",
		New: func(i mediaflow.TrackInfo) (mediaflow.Decoder, error) {
			return NewDecoder(i, o.Decoder)
		},
	})
}

var _ mediaflow.SourceReader = (*urlReader)(nil)

// urlReader is a placeholder for urls libav opens itself
type urlReader struct {
	url string
}

func (r *urlReader) Read(ctx context.Context, max int) ([]byte, error) {
	return nil, fmt.Errorf("astiavmedia: %s must be read by libav: %w", r.url, mediaflow.ErrUnsupported)
}

func durationToTimeBase(d time.Duration, t astiav.Rational) (i int64, r time.Duration) {
	// Get duration expressed in stream timebase
	// We need to make sure it's rounded to the nearest smaller int
	i = astiav.RescaleQRnd(d.Nanoseconds(), NanosecondRational, t, astiav.RoundingDown)

	// Update remainder
	r = d - time.Duration(astiav.RescaleQ(i, t, NanosecondRational))
	return
}

func timeBaseToDuration(i int64, t astiav.Rational) time.Duration {
	return time.Duration(astiav.RescaleQ(i, t, NanosecondRational))
}

func mediaType(t astiav.MediaType) mediaflow.MediaType {
	switch t {
	case astiav.MediaTypeAudio:
		return mediaflow.MediaTypeAudio
	case astiav.MediaTypeVideo:
		return mediaflow.MediaTypeVideo
	default:
		return mediaflow.MediaTypeUnknown
	}
}
