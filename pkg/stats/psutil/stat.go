package psutil

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
	"github.com/asticode/go-astikit"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/process"
)

// New returns the host usage stat of the current process. Its first value has no process CPU
// usage since it needs two samples.
func New() (astikit.DeltaStat, error) {
	// Create valuer
	vr, err := newValuer(int32(os.Getpid()))
	if err != nil {
		return astikit.DeltaStat{}, fmt.Errorf("psutil: creating valuer failed: %w", err)
	}

	// Create delta stat
	return astikit.DeltaStat{
		Metadata: astikit.DeltaStatMetadata{
			Description: "CPU, memory and threads used by the host and the player process",
			Label:       "Host usage",
			Name:        mediaflow.DeltaStatNameHostUsage,
		},
		Valuer: vr,
	}, nil
}

var _ astikit.DeltaStatValuer = (*valuer)(nil)

type valuer struct {
	lastBusy *float64
	p        *process.Process
}

func newValuer(pid int32) (*valuer, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("psutil: creating process %d failed: %w", pid, err)
	}
	return &valuer{p: p}, nil
}

func (vr *valuer) processCPU(delta time.Duration) *float64 {
	// Get times
	t, err := vr.p.Times()
	if err != nil {
		return nil
	}

	// First sample
	busy := t.Total() - t.Idle
	defer func() { vr.lastBusy = &busy }()
	if vr.lastBusy == nil || delta <= 0 {
		return nil
	}
	return astikit.Float64Ptr((busy - *vr.lastBusy) / delta.Seconds() * 100)
}

func (vr *valuer) Value(delta time.Duration) interface{} {
	// Get process
	v := mediaflow.DeltaStatHostUsageValue{
		CPU:     mediaflow.DeltaStatHostCPUUsageValue{Process: vr.processCPU(delta)},
		Process: mediaflow.DeltaStatHostProcessUsageValue{Goroutines: runtime.NumGoroutine()},
	}
	if n, err := vr.p.NumThreads(); err == nil {
		v.Process.Threads = int(n)
	}

	// Get global CPU
	if ps, err := cpu.Percent(0, true); err == nil {
		v.CPU.Individual = ps
	}
	if ps, err := cpu.Percent(0, false); err == nil && len(ps) > 0 {
		v.CPU.Total = ps[0]
	}

	// Get memory
	if i, err := vr.p.MemoryInfo(); err == nil {
		v.Memory.Resident = i.RSS
		v.Memory.Virtual = i.VMS
	}
	if s, err := mem.VirtualMemory(); err == nil {
		v.Memory.Total = s.Total
		v.Memory.Used = s.Used
	}
	return v
}
