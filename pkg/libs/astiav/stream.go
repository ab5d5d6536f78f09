package astiavmedia

import (
	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
	"github.com/asticode/go-astiav"
)

// Stream is stored in the private data of the tracks created by the demuxer so that the decoder
// can be initialized with the stream's codec parameters
type Stream struct {
	CodecParameters *astiav.CodecParameters
	FrameRate       astiav.Rational
	ID              int
	Index           int
	TimeBase        astiav.Rational
}

func newStream(s *astiav.Stream) Stream {
	return Stream{
		CodecParameters: s.CodecParameters(),
		FrameRate:       s.AvgFrameRate(),
		ID:              s.ID(),
		Index:           s.Index(),
		TimeBase:        s.TimeBase(),
	}
}

func (s Stream) trackInfo() mediaflow.TrackInfo {
	cp := s.CodecParameters
	i := mediaflow.TrackInfo{
		Codec:     cp.CodecID().String(),
		ID:        mediaflow.TrackID(s.Index),
		MediaType: mediaType(cp.MediaType()),
		Private:   s,
	}
	switch i.MediaType {
	case mediaflow.MediaTypeAudio:
		i.Channels = cp.ChannelLayout().Channels()
		i.SampleRate = cp.SampleRate()
	case mediaflow.MediaTypeVideo:
		i.Height = cp.Height()
		i.PixelFormat = cp.PixelFormat().String()
		i.Width = cp.Width()
	}
	return i
}
