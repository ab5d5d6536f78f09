package astiavmedia

import (
	"testing"

	"github.com/asticode/go-astikit"
	"github.com/stretchr/testify/require"
)

func TestPool(t *testing.T) {
	c := astikit.NewCloser()
	pp := newPacketPool(c)
	p1 := pp.get()
	require.NoError(t, p1.AllocPayload(2))
	p1.SetStreamIndex(1)
	p2 := pp.get()
	require.Equal(t, uint64(2), pp.allocated)
	pp.put(p1)
	require.Len(t, pp.is, 1)
	require.Equal(t, 0, pp.is[0].StreamIndex())
	require.Equal(t, 0, pp.is[0].Size())
	p3 := pp.get()
	require.Same(t, p1, p3)
	require.Len(t, pp.is, 0)
	require.Equal(t, uint64(2), pp.allocated)
	pp.put(p2)
	pp.put(p3)

	fp := newFramePool(c)
	f1 := fp.get()
	f1.SetPts(10)
	fp.put(f1)
	f2 := fp.get()
	require.Same(t, f1, f2)
	require.Equal(t, uint64(1), fp.allocated)

	ds := fp.deltaStat()
	require.Equal(t, DeltaStatNameAllocatedFrames, ds.Metadata.Name)
	require.NoError(t, c.Close())
}
