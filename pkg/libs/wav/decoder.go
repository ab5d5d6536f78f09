package wavmedia

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
	"github.com/go-audio/audio"
)

var _ mediaflow.Decoder = (*Decoder)(nil)

// Decoder outputs interleaved s16 samples for 16 bits pcm and interleaved s32 samples otherwise
type Decoder struct {
	f Format
}

func NewDecoder(i mediaflow.TrackInfo) (*Decoder, error) {
	f, ok := i.Private.(Format)
	if !ok {
		return nil, fmt.Errorf("wavmedia: %s was not created by a wav demuxer: %w", i, mediaflow.ErrUnsupported)
	}
	switch f.BitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("wavmedia: bit depth %d: %w", f.BitDepth, mediaflow.ErrUnsupported)
	}
	return &Decoder{f: f}, nil
}

func (d *Decoder) Decode(p mediaflow.Packet) ([]mediaflow.Frame, error) {
	// Decode samples
	buf, err := decodeSamples(p.Data, d.f)
	if err != nil {
		return nil, err
	}

	// Nothing to decode
	n := buf.NumFrames()
	if n == 0 {
		return nil, nil
	}

	// Create block
	b := &mediaflow.AudioBlock{
		Channels:   d.f.Channels,
		SampleRate: d.f.SampleRate,
		Samples:    n,
		Timing: mediaflow.Timing{
			Duration: time.Duration(n) * time.Second / time.Duration(d.f.SampleRate),
			PTS:      p.PTS,
		},
	}

	// Encode samples
	if d.f.BitDepth == 16 {
		b.SampleFormat = "s16"
		b.Data = [][]byte{encodeSamples(buf.Data, 16)}
	} else {
		b.SampleFormat = "s32"
		s := make([]byte, len(buf.Data)*4)
		for idx, v := range buf.Data {
			binary.LittleEndian.PutUint32(s[idx*4:], uint32(int32(v<<(32-d.f.BitDepth))))
		}
		b.Data = [][]byte{s}
	}
	return []mediaflow.Frame{b}, nil
}

// Flush is a no-op since pcm is never buffered
func (d *Decoder) Flush() ([]mediaflow.Frame, error) {
	return nil, nil
}

func (d *Decoder) Reset() error {
	return nil
}

// decodeSamples parses little endian samples, unsigned for 8 bits, signed otherwise. Incomplete
// trailing frames are an error.
func decodeSamples(b []byte, f Format) (*audio.IntBuffer, error) {
	// Invalid size
	if len(b)%f.frameSize() != 0 {
		return nil, fmt.Errorf("wavmedia: %d bytes is not a multiple of frame size %d: %w", len(b), f.frameSize(), mediaflow.ErrTransient)
	}

	// Create buffer
	bs := f.BitDepth / 8
	buf := &audio.IntBuffer{
		Data:           make([]int, len(b)/bs),
		Format:         &audio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		SourceBitDepth: f.BitDepth,
	}

	// Loop through samples
	for idx := range buf.Data {
		p := b[idx*bs : (idx+1)*bs]
		switch f.BitDepth {
		case 8:
			buf.Data[idx] = int(p[0]) - 128
		case 16:
			buf.Data[idx] = int(int16(binary.LittleEndian.Uint16(p)))
		case 24:
			buf.Data[idx] = int(int32(uint32(p[0])|uint32(p[1])<<8|uint32(p[2])<<16) << 8 >> 8)
		default:
			buf.Data[idx] = int(int32(binary.LittleEndian.Uint32(p)))
		}
	}
	return buf, nil
}
