package mediaflow

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Channels64 returns the block's samples per channel, normalized between -1 and 1. Supported sample
// formats are u8, s16, s32 and flt, planar or not.
func (b *AudioBlock) Channels64() ([][]float64, error) {
	// Get sample size
	var size int
	switch b.SampleFormat {
	case "u8", "u8p":
		size = 1
	case "s16", "s16p":
		size = 2
	case "s32", "s32p", "flt", "fltp":
		size = 4
	default:
		return nil, fmt.Errorf("mediaflow: sample format %s: %w", b.SampleFormat, ErrUnsupported)
	}

	// Invalid channels
	if b.Channels <= 0 {
		return nil, fmt.Errorf("mediaflow: invalid channels %d", b.Channels)
	}

	// Not enough data
	if b.Samples < 0 {
		return nil, fmt.Errorf("mediaflow: invalid samples %d", b.Samples)
	}
	if b.Planar {
		if len(b.Data) < b.Channels {
			return nil, fmt.Errorf("mediaflow: %d planes for %d channels", len(b.Data), b.Channels)
		}
		for c := 0; c < b.Channels; c++ {
			if l := len(b.Data[c]); l < b.Samples*size {
				return nil, fmt.Errorf("mediaflow: plane %d is %d bytes long, %d samples of %d bytes expected", c, l, b.Samples, size)
			}
		}
	} else {
		var l int
		if len(b.Data) > 0 {
			l = len(b.Data[0])
		}
		if l < b.Samples*b.Channels*size {
			return nil, fmt.Errorf("mediaflow: data is %d bytes long, %d samples of %d channels of %d bytes expected", l, b.Samples, b.Channels, size)
		}
	}

	// Create channels
	cs := make([][]float64, b.Channels)
	for c := range cs {
		cs[c] = make([]float64, 0, b.Samples)
	}

	// Loop through samples
	for s := 0; s < b.Samples; s++ {
		for c := range cs {
			// Get bytes
			var p []byte
			if b.Planar {
				p = b.Data[c][s*size : (s+1)*size]
			} else {
				o := (s*b.Channels + c) * size
				p = b.Data[0][o : o+size]
			}

			// Convert
			var v float64
			switch b.SampleFormat {
			case "u8", "u8p":
				v = (float64(p[0]) - 128) / 128
			case "s16", "s16p":
				v = float64(int16(binary.LittleEndian.Uint16(p))) / (1 << 15)
			case "s32", "s32p":
				v = float64(int32(binary.LittleEndian.Uint32(p))) / (1 << 31)
			default:
				v = float64(math.Float32frombits(binary.LittleEndian.Uint32(p)))
			}
			cs[c] = append(cs[c], v)
		}
	}
	return cs, nil
}
