package mediaflow

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAudioBlockChannels64(t *testing.T) {
	s16 := make([]byte, 8)
	binary.LittleEndian.PutUint16(s16[0:], uint16(1<<14))
	v := int16(-1 << 14)
	binary.LittleEndian.PutUint16(s16[2:], uint16(v))
	binary.LittleEndian.PutUint16(s16[4:], 0)
	binary.LittleEndian.PutUint16(s16[6:], uint16(1<<13))
	cs, err := (&AudioBlock{Channels: 2, Data: [][]byte{s16}, SampleFormat: "s16", Samples: 2}).Channels64()
	require.NoError(t, err)
	require.Equal(t, [][]float64{{0.5, 0}, {-0.5, 0.25}}, cs)

	l, r := make([]byte, 4), make([]byte, 4)
	binary.LittleEndian.PutUint32(l, math.Float32bits(0.75))
	binary.LittleEndian.PutUint32(r, math.Float32bits(-1))
	cs, err = (&AudioBlock{Channels: 2, Data: [][]byte{l, r}, Planar: true, SampleFormat: "fltp", Samples: 1}).Channels64()
	require.NoError(t, err)
	require.Equal(t, [][]float64{{0.75}, {-1}}, cs)

	cs, err = (&AudioBlock{Channels: 1, Data: [][]byte{{128, 192}}, SampleFormat: "u8", Samples: 2}).Channels64()
	require.NoError(t, err)
	require.Equal(t, [][]float64{{0, 0.5}}, cs)

	// Truncated data
	_, err = (&AudioBlock{Channels: 2, Data: [][]byte{s16[:6]}, SampleFormat: "s16", Samples: 2}).Channels64()
	require.Error(t, err)
	_, err = (&AudioBlock{Channels: 2, SampleFormat: "s16", Samples: 2}).Channels64()
	require.Error(t, err)
	_, err = (&AudioBlock{Channels: 2, Data: [][]byte{l, r[:2]}, Planar: true, SampleFormat: "fltp", Samples: 1}).Channels64()
	require.Error(t, err)
	_, err = (&AudioBlock{Channels: 2, Data: [][]byte{l}, Planar: true, SampleFormat: "fltp", Samples: 1}).Channels64()
	require.Error(t, err)

	_, err = (&AudioBlock{Channels: 1, SampleFormat: "dbl"}).Channels64()
	require.True(t, errors.Is(err, ErrUnsupported))
	_, err = (&AudioBlock{SampleFormat: "s16"}).Channels64()
	require.Error(t, err)
}
