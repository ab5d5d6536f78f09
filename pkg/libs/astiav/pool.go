package astiavmedia

import (
	"sync"
	"sync/atomic"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
)

type poolItem interface {
	Free()
	Unref()
}

// pool recycles libav packets and frames. Items are freed when the closer is closed.
type pool[T poolItem] struct {
	alloc     func() T
	allocated uint64
	c         *astikit.Closer
	is        []T
	m         sync.Mutex // Locks is
	name      string
}

func newPacketPool(c *astikit.Closer) *pool[*astiav.Packet] {
	return &pool[*astiav.Packet]{
		alloc: astiav.AllocPacket,
		c:     c,
		name:  DeltaStatNameAllocatedPackets,
	}
}

func newFramePool(c *astikit.Closer) *pool[*astiav.Frame] {
	return &pool[*astiav.Frame]{
		alloc: astiav.AllocFrame,
		c:     c,
		name:  DeltaStatNameAllocatedFrames,
	}
}

func (p *pool[T]) get() (i T) {
	// Lock
	p.m.Lock()
	defer p.m.Unlock()

	// Pool is empty
	if len(p.is) == 0 {
		// Allocate
		i = p.alloc()

		// Increment allocated items
		atomic.AddUint64(&p.allocated, 1)

		// Make sure item is freed properly
		p.c.Add(i.Free)
		return
	}

	// Use last item in pool
	i = p.is[len(p.is)-1]
	p.is = p.is[:len(p.is)-1]
	return
}

func (p *pool[T]) put(i T) {
	// Lock
	p.m.Lock()
	defer p.m.Unlock()

	// Unref
	i.Unref()

	// Append
	p.is = append(p.is, i)
}

func (p *pool[T]) deltaStat() astikit.DeltaStat {
	return astikit.DeltaStat{
		Metadata: astikit.DeltaStatMetadata{
			Description: "Number of libav items allocated by the pool",
			Label:       "Allocated items",
			Name:        p.name,
			Unit:        "i",
		},
		Valuer: astikit.NewAtomicUint64CumulativeDeltaStat(&p.allocated),
	}
}
