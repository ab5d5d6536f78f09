package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
)

type MockedDemuxer struct {
	// Returned by NextPacket instead of the next packet as long as it returns a non nil error
	Fail func() error
	m    sync.Mutex
	// Called at the start of Seek, a non nil error is returned as is
	OnSeek  func(ctx context.Context, t time.Duration) error
	OpenErr error
	Packets []mediaflow.Packet
	pos     int
	seeks   []time.Duration
	Tracks  []mediaflow.TrackInfo
}

var _ mediaflow.Demuxer = (*MockedDemuxer)(nil)

// NewMockedDemuxer creates packets for every track until d. Video packets last 40ms with a
// keyframe every 500ms, audio packets last 20ms.
func NewMockedDemuxer(d time.Duration, tracks ...mediaflow.TrackInfo) *MockedDemuxer {
	m := &MockedDemuxer{Tracks: tracks}
	next := make([]time.Duration, len(tracks))
	for {
		// Get earliest track
		idx := -1
		for i, t := range next {
			if t < d && (idx < 0 || t < next[idx]) {
				idx = i
			}
		}
		if idx < 0 {
			break
		}

		// Create packet
		pkt := mediaflow.Packet{
			Data:     []byte{byte(len(m.Packets))},
			DTS:      next[idx],
			Keyframe: true,
			PTS:      next[idx],
			TrackID:  tracks[idx].ID,
		}
		switch tracks[idx].MediaType {
		case mediaflow.MediaTypeVideo:
			pkt.Duration = 40 * time.Millisecond
			pkt.Keyframe = pkt.PTS%(500*time.Millisecond) == 0
		default:
			pkt.Duration = 20 * time.Millisecond
		}
		m.Packets = append(m.Packets, pkt)
		next[idx] += pkt.Duration
	}
	return m
}

func (m *MockedDemuxer) Capability() mediaflow.DemuxerCapability {
	return mediaflow.DemuxerCapability{
		Accepts: func(s mediaflow.Source) bool { return true },
		Name:    "mocked",
		New:     func(s mediaflow.Source) (mediaflow.Demuxer, error) { return m, nil },
	}
}

func (m *MockedDemuxer) Open(ctx context.Context, r mediaflow.SourceReader) ([]mediaflow.TrackInfo, error) {
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	return m.Tracks, nil
}

func (m *MockedDemuxer) NextPacket(ctx context.Context) (mediaflow.Packet, error) {
	if err := ctx.Err(); err != nil {
		return mediaflow.Packet{}, err
	}

	m.m.Lock()
	defer m.m.Unlock()

	if m.Fail != nil {
		if err := m.Fail(); err != nil {
			return mediaflow.Packet{}, err
		}
	}
	if m.pos >= len(m.Packets) {
		return mediaflow.Packet{}, mediaflow.ErrEndOfStream
	}
	pkt := m.Packets[m.pos]
	m.pos++
	return pkt, nil
}

// Seek repositions to the latest keyframe at or before t
func (m *MockedDemuxer) Seek(ctx context.Context, t time.Duration, _ mediaflow.SeekMode) error {
	if m.OnSeek != nil {
		if err := m.OnSeek(ctx, t); err != nil {
			return err
		}
	}

	m.m.Lock()
	defer m.m.Unlock()
	m.seeks = append(m.seeks, t)
	m.pos = 0

	// Video keyframes take precedence
	var video bool
	for _, t := range m.Tracks {
		if t.MediaType == mediaflow.MediaTypeVideo {
			video = true
		}
	}

	for idx, pkt := range m.Packets {
		if pkt.PTS > t {
			break
		}
		if !pkt.Keyframe {
			continue
		}
		if tr := m.track(pkt.TrackID); !video || (tr != nil && tr.MediaType == mediaflow.MediaTypeVideo) {
			m.pos = idx
		}
	}
	return nil
}

func (m *MockedDemuxer) track(id mediaflow.TrackID) *mediaflow.TrackInfo {
	for idx := range m.Tracks {
		if m.Tracks[idx].ID == id {
			return &m.Tracks[idx]
		}
	}
	return nil
}

func (m *MockedDemuxer) Seeks() []time.Duration {
	m.m.Lock()
	defer m.m.Unlock()
	return append([]time.Duration{}, m.seeks...)
}
