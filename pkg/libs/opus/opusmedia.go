package opusmedia

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
	"github.com/hraban/opus"
)

const (
	defaultChannels   = 2
	defaultSampleRate = 48000
	// 120ms is the longest opus frame
	maxFrameDuration = 120 * time.Millisecond
)

func Register(c *mediaflow.Capabilities) {
	c.RegisterDecoder(mediaflow.DecoderCapability{
		Accepts: func(i mediaflow.TrackInfo) bool {
			return i.MediaType == mediaflow.MediaTypeAudio && strings.EqualFold(i.Codec, "opus")
		},
		Name: "opus",
		New: func(i mediaflow.TrackInfo) (mediaflow.Decoder, error) {
			return NewDecoder(i)
		},
	})
}

var _ mediaflow.Decoder = (*Decoder)(nil)

// Decoder outputs interleaved signed 16 bits samples
type Decoder struct {
	channels   int
	d          *opus.Decoder
	pcm        []int16
	sampleRate int
}

func NewDecoder(i mediaflow.TrackInfo) (d *Decoder, err error) {
	// Create decoder
	d = &Decoder{
		channels:   i.Channels,
		sampleRate: i.SampleRate,
	}

	// Default values
	if d.channels <= 0 {
		d.channels = defaultChannels
	}
	if d.sampleRate <= 0 {
		d.sampleRate = defaultSampleRate
	}

	// Opus only supports mono and stereo outputs
	if d.channels > 2 {
		err = fmt.Errorf("opusmedia: %d channels: %w", d.channels, mediaflow.ErrUnsupported)
		return
	}

	// Create opus decoder
	if d.d, err = opus.NewDecoder(d.sampleRate, d.channels); err != nil {
		err = fmt.Errorf("opusmedia: creating opus decoder failed: %w: %w", mediaflow.ErrUnsupported, err)
		return
	}

	// Allocate pcm buffer
	d.pcm = make([]int16, int(maxFrameDuration.Seconds()*float64(d.sampleRate))*d.channels)
	return
}

func (d *Decoder) Decode(p mediaflow.Packet) ([]mediaflow.Frame, error) {
	// Decode
	n, err := d.d.Decode(p.Data, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opusmedia: decoding failed: %w: %w", mediaflow.ErrTransient, err)
	}

	// Nothing decoded
	if n <= 0 {
		return nil, nil
	}

	// Convert samples
	b := make([]byte, n*d.channels*2)
	for idx, s := range d.pcm[:n*d.channels] {
		binary.LittleEndian.PutUint16(b[idx*2:], uint16(s))
	}

	return []mediaflow.Frame{&mediaflow.AudioBlock{
		Channels:     d.channels,
		Data:         [][]byte{b},
		SampleFormat: "s16",
		SampleRate:   d.sampleRate,
		Samples:      n,
		Timing: mediaflow.Timing{
			Duration: time.Duration(n) * time.Second / time.Duration(d.sampleRate),
			PTS:      p.PTS,
		},
	}}, nil
}

// Flush is a no-op since opus decoders don't buffer frames
func (d *Decoder) Flush() ([]mediaflow.Frame, error) {
	return nil, nil
}

func (d *Decoder) Reset() (err error) {
	if d.d, err = opus.NewDecoder(d.sampleRate, d.channels); err != nil {
		return fmt.Errorf("opusmedia: creating opus decoder failed: %w: %w", mediaflow.ErrUnrecoverable, err)
	}
	return nil
}
