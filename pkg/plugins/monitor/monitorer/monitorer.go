package monitorer

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
	"github.com/asticode/go-astikit"
)

type Delta struct {
	At             astikit.Timestamp      `json:"at"`
	DoneWorkers    []uint64               `json:"done_workers,omitempty"`
	NewStats       []DeltaStat            `json:"new_stats,omitempty"`
	Playback       *DeltaPlayback         `json:"playback,omitempty"`
	StartedWorkers []DeltaWorker          `json:"started_workers,omitempty"`
	States         []DeltaState           `json:"states,omitempty"`
	StatValues     map[uint64]interface{} `json:"stat_values,omitempty"`
}

func newDelta() *Delta {
	return &Delta{StatValues: make(map[uint64]interface{})}
}

func (d Delta) empty() bool {
	return len(d.DoneWorkers) == 0 && len(d.NewStats) == 0 &&
		d.Playback == nil && len(d.StartedWorkers) == 0 &&
		len(d.States) == 0 && len(d.StatValues) == 0
}

func (d Delta) copy() *Delta {
	dst := newDelta()
	dst.At = d.At
	dst.DoneWorkers = slices.Clone(d.DoneWorkers)
	dst.NewStats = slices.Clone(d.NewStats)
	if d.Playback != nil {
		p := *d.Playback
		dst.Playback = &p
	}
	dst.StartedWorkers = slices.Clone(d.StartedWorkers)
	dst.States = slices.Clone(d.States)
	for k, v := range d.StatValues {
		dst.StatValues[k] = v
	}
	return dst
}

type DeltaPlayback struct {
	// In milliseconds
	Position int64  `json:"position"`
	State    string `json:"state"`
}

type DeltaState struct {
	Error string `json:"error,omitempty"`
	From  string `json:"from"`
	To    string `json:"to"`
}

type DeltaStat struct {
	ID       uint64            `json:"id"`
	Metadata DeltaStatMetadata `json:"metadata"`
	WorkerID *uint64           `json:"worker_id,omitempty"`
}

type DeltaStatMetadata struct {
	Description string `json:"description,omitempty"`
	Label       string `json:"label,omitempty"`
	Name        string `json:"name,omitempty"`
	Unit        string `json:"unit,omitempty"`
}

func newDeltaStatMetadata(i astikit.DeltaStatMetadata) DeltaStatMetadata {
	return DeltaStatMetadata{
		Description: i.Description,
		Label:       i.Label,
		Name:        i.Name,
		Unit:        i.Unit,
	}
}

type DeltaWorker struct {
	ID       uint64             `json:"id"`
	Metadata mediaflow.Metadata `json:"metadata"`
}

// Monitorer turns pipeline events and stats into deltas. The catch up delta is the state a new
// consumer needs before applying deltas.
type Monitorer struct {
	cd      *Delta // Catchup Delta
	d       *Delta
	ds      *astikit.DeltaStater
	mc      *sync.Mutex // Locks cd
	md      *sync.Mutex // Locks d and statIDs
	o       MonitorerOptions
	statIDs map[uint64][]uint64 // Indexed by worker id
}

type OnDelta func(d Delta)

type MonitorerOptions struct {
	OnDelta  OnDelta
	Period   time.Duration
	Pipeline *mediaflow.Pipeline
}

func New(o MonitorerOptions) *Monitorer {
	// Create monitorer
	m := &Monitorer{
		cd:      newDelta(),
		d:       newDelta(),
		mc:      &sync.Mutex{},
		md:      &sync.Mutex{},
		o:       o,
		statIDs: make(map[uint64][]uint64),
	}

	// Create Delta stater
	m.ds = astikit.NewDeltaStater(astikit.DeltaStaterOptions{
		OnStats: m.onStats,
		Period:  o.Period,
	})

	// Monitor pipeline
	m.monitorPipeline()
	return m
}

func (m *Monitorer) addStats(dss []astikit.DeltaStat, workerID *uint64) (ids []uint64) {
	for _, ds := range dss {
		// Add to stater
		id := m.ds.Add(ds.Valuer)
		ids = append(ids, id)

		// Create Delta stat
		s := DeltaStat{
			ID:       id,
			Metadata: newDeltaStatMetadata(ds.Metadata),
			WorkerID: workerID,
		}

		// Store stat
		m.mc.Lock()
		m.cd.NewStats = append(m.cd.NewStats, s)
		m.mc.Unlock()
		m.md.Lock()
		m.d.NewStats = append(m.d.NewStats, s)
		m.md.Unlock()
	}
	return
}

func (m *Monitorer) monitorPipeline() {
	// Add pipeline stats
	m.addStats(m.o.Pipeline.DeltaStats(), nil)

	// Listen to pipeline
	m.o.Pipeline.On(mediaflow.EventNameWorkerCreated, func(payload interface{}) (delete bool) {
		// Assert payload
		w, ok := payload.(*mediaflow.Worker)
		if !ok {
			return
		}

		// Add worker stats
		ids := m.addStats(w.DeltaStats(), astikit.UInt64Ptr(w.ID()))
		m.md.Lock()
		m.statIDs[w.ID()] = ids
		m.md.Unlock()
		return
	})
	m.o.Pipeline.On(mediaflow.EventNameWorkerRunning, func(payload interface{}) (delete bool) {
		// Assert payload
		w, ok := payload.(*mediaflow.Worker)
		if !ok {
			return
		}

		// Create Delta worker
		dw := DeltaWorker{
			ID:       w.ID(),
			Metadata: w.Metadata(),
		}

		// Store worker
		m.mc.Lock()
		m.cd.StartedWorkers = append(m.cd.StartedWorkers, dw)
		m.mc.Unlock()
		m.md.Lock()
		m.d.StartedWorkers = append(m.d.StartedWorkers, dw)
		m.md.Unlock()
		return
	})
	m.o.Pipeline.On(mediaflow.EventNameWorkerDone, func(payload interface{}) (delete bool) {
		// Assert payload
		w, ok := payload.(*mediaflow.Worker)
		if !ok {
			return
		}

		// Get stat ids
		m.md.Lock()
		statIDs := m.statIDs[w.ID()]
		delete(m.statIDs, w.ID())
		m.md.Unlock()

		// Remove stats
		m.mc.Lock()
		m.cd.NewStats = slices.DeleteFunc(m.cd.NewStats, func(s DeltaStat) bool { return slices.Contains(statIDs, s.ID) })
		m.mc.Unlock()
		m.ds.Remove(statIDs...)

		// Store worker
		m.mc.Lock()
		m.cd.StartedWorkers = slices.DeleteFunc(m.cd.StartedWorkers, func(dw DeltaWorker) bool { return dw.ID == w.ID() })
		m.mc.Unlock()
		m.md.Lock()
		m.d.DoneWorkers = append(m.d.DoneWorkers, w.ID())
		m.md.Unlock()
		return
	})
	m.o.Pipeline.On(mediaflow.EventNameStateChanged, func(payload interface{}) (delete bool) {
		// Assert payload
		e, ok := payload.(mediaflow.EventStateChanged)
		if !ok {
			return
		}

		// Create Delta state
		ds := DeltaState{
			From: e.From.String(),
			To:   e.To.String(),
		}
		if e.Err != nil {
			ds.Error = e.Err.Error()
		}

		// Store state
		m.md.Lock()
		m.d.States = append(m.d.States, ds)
		m.md.Unlock()
		return
	})
}

func (m *Monitorer) Start(ctx context.Context) {
	// Start stater
	m.ds.Start(ctx)
}

func (m *Monitorer) Close() {
	// Stop stater
	m.ds.Stop()
}

func (m *Monitorer) onStats(stats []astikit.DeltaStatValue) {
	// Swap Delta
	m.md.Lock()
	d := *m.d
	m.d = newDelta()
	m.md.Unlock()

	// Update at
	d.At = *astikit.NewTimestamp(astikit.Now())

	// Lock
	m.mc.Lock()

	// Update playback
	pb := DeltaPlayback{
		Position: m.o.Pipeline.CurrentPosition().Milliseconds(),
		State:    m.o.Pipeline.State().String(),
	}
	if m.cd.Playback == nil || *m.cd.Playback != pb {
		m.cd.Playback = &pb
		d.Playback = &pb
	}

	// Loop through stats
	m.cd.StatValues = map[uint64]interface{}{}
	for _, s := range stats {
		// Add
		d.StatValues[s.ID] = s.Value
		m.cd.StatValues[s.ID] = s.Value
	}

	// Unlock
	m.mc.Unlock()

	// Callback
	if !d.empty() {
		m.o.OnDelta(d)
	}
}

func (m *Monitorer) CatchUp() Delta {
	// Lock
	m.mc.Lock()
	defer m.mc.Unlock()

	// Copy Delta
	d := m.cd.copy()

	// Update at
	d.At = *astikit.NewTimestamp(astikit.Now())
	return *d
}
