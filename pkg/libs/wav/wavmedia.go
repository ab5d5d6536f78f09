package wavmedia

import (
	"fmt"
	"path"
	"strings"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
)

// Format is stored in the private data of tracks created by the demuxer
type Format struct {
	BitDepth   int
	Channels   int
	SampleRate int
}

func (f Format) codec() string {
	if f.BitDepth == 8 {
		return "pcm_u8"
	}
	return fmt.Sprintf("pcm_s%dle", f.BitDepth)
}

func (f Format) frameSize() int {
	return f.Channels * f.BitDepth / 8
}

// Register registers the wav demuxer and the pcm decoder. The demuxer only accepts sources whose
// mime type or url designates a wav file.
func Register(c *mediaflow.Capabilities, o DemuxerOptions) {
	c.RegisterDemuxer(mediaflow.DemuxerCapability{
		Accepts: func(s mediaflow.Source) bool {
			switch strings.ToLower(s.MIMEType) {
			case "audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave":
				return true
			}
			return strings.EqualFold(path.Ext(s.URL), ".wav")
		},
		Name: "wav",
		New: func(s mediaflow.Source) (mediaflow.Demuxer, error) {
			return NewDemuxer(o), nil
		},
	})
	c.RegisterDecoder(mediaflow.DecoderCapability{
		Accepts: func(i mediaflow.TrackInfo) bool {
			_, ok := i.Private.(Format)
			return ok
		},
		Name: "pcm",
		New: func(i mediaflow.TrackInfo) (mediaflow.Decoder, error) {
			return NewDecoder(i)
		},
	})
}
