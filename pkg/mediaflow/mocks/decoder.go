package mocks

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
)

type MockedDecoder struct {
	concurrent atomic.Bool
	decoded    atomic.Uint64
	// Returned by Decode when not nil
	Fail     func(p mediaflow.Packet) error
	flushes  atomic.Uint64
	inFlight atomic.Int64
	Info     mediaflow.TrackInfo
	resets   atomic.Uint64
}

var _ mediaflow.Decoder = (*MockedDecoder)(nil)

func NewMockedDecoder(i mediaflow.TrackInfo) *MockedDecoder {
	return &MockedDecoder{Info: i}
}

// Decode returns one frame per packet with the packet's timing
func (d *MockedDecoder) Decode(p mediaflow.Packet) ([]mediaflow.Frame, error) {
	// Detect concurrent calls
	if d.inFlight.Add(1) > 1 {
		d.concurrent.Store(true)
	}
	defer d.inFlight.Add(-1)

	// Fail
	if d.Fail != nil {
		if err := d.Fail(p); err != nil {
			return nil, err
		}
	}
	d.decoded.Add(1)

	// Create frame
	t := mediaflow.Timing{Duration: p.Duration, PTS: p.PTS}
	switch d.Info.MediaType {
	case mediaflow.MediaTypeAudio:
		return []mediaflow.Frame{&mediaflow.AudioBlock{
			Channels:   d.Info.Channels,
			Data:       [][]byte{p.Data},
			SampleRate: d.Info.SampleRate,
			Samples:    int(int64(d.Info.SampleRate) * int64(p.Duration) / int64(time.Second)),
			Timing:     t,
		}}, nil
	default:
		return []mediaflow.Frame{&mediaflow.VideoFrame{
			Data:   [][]byte{p.Data},
			Height: d.Info.Height,
			Timing: t,
			Width:  d.Info.Width,
		}}, nil
	}
}

func (d *MockedDecoder) Flush() ([]mediaflow.Frame, error) {
	d.flushes.Add(1)
	return nil, nil
}

func (d *MockedDecoder) Reset() error {
	d.resets.Add(1)
	return nil
}

// Concurrent indicates whether Decode has ever been called concurrently
func (d *MockedDecoder) Concurrent() bool { return d.concurrent.Load() }

func (d *MockedDecoder) Decoded() uint64 { return d.decoded.Load() }

func (d *MockedDecoder) Flushes() uint64 { return d.flushes.Load() }

func (d *MockedDecoder) Resets() uint64 { return d.resets.Load() }

// MockedDecoders creates and keeps track of mocked decoders
type MockedDecoders struct {
	ds    map[mediaflow.TrackID]*MockedDecoder
	m     sync.Mutex
	OnNew func(d *MockedDecoder)
	// Tracks of this codec are not supported
	Unsupported string
}

func NewMockedDecoders() *MockedDecoders {
	return &MockedDecoders{ds: make(map[mediaflow.TrackID]*MockedDecoder)}
}

func (ds *MockedDecoders) Capability() mediaflow.DecoderCapability {
	return mediaflow.DecoderCapability{
		Accepts: func(i mediaflow.TrackInfo) bool { return ds.Unsupported == "" || i.Codec != ds.Unsupported },
		Name:    "mocked",
		New: func(i mediaflow.TrackInfo) (mediaflow.Decoder, error) {
			d := NewMockedDecoder(i)
			if ds.OnNew != nil {
				ds.OnNew(d)
			}
			ds.m.Lock()
			ds.ds[i.ID] = d
			ds.m.Unlock()
			return d, nil
		},
	}
}

func (ds *MockedDecoders) Decoder(id mediaflow.TrackID) *MockedDecoder {
	ds.m.Lock()
	defer ds.m.Unlock()
	return ds.ds[id]
}
