package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
	"github.com/Corten-Browser/Corten-MediaEngine/pkg/plugins/monitor/monitorer"
	"github.com/asticode/go-astikit"
)

var _ mediaflow.Plugin = (*Plugin)(nil)

// Plugin records a pipeline in a file, one json object per line: first the pipeline description,
// then its deltas, plus the tracks every time a load succeeds.
type Plugin struct {
	ctx context.Context
	m   *monitorer.Monitorer
	mw  *sync.Mutex // Locks w
	o   PluginOptions
	p   *mediaflow.Pipeline
	w   io.Writer
}

type PluginOptions struct {
	DeltaPeriod time.Duration
	Path        string
}

func New(o PluginOptions) *Plugin {
	return &Plugin{
		mw: &sync.Mutex{},
		o:  o,
	}
}

type linePipeline struct {
	Pipeline linePipelineDescription `json:"pipeline"`
}

type linePipelineDescription struct {
	Description string `json:"description,omitempty"`
	ID          uint64 `json:"id"`
	Name        string `json:"name,omitempty"`
}

type lineTracks struct {
	// In milliseconds
	At     int64       `json:"at"`
	Tracks []lineTrack `json:"tracks"`
}

type lineTrack struct {
	Codec     string `json:"codec"`
	Duration  int64  `json:"duration,omitempty"`
	ID        int    `json:"id"`
	MediaType string `json:"media_type"`
}

func (p *Plugin) Metadata() mediaflow.Metadata {
	return mediaflow.Metadata{Name: "monitor.replay"}
}

func (p *Plugin) Init(ctx context.Context, c *astikit.Closer, pl *mediaflow.Pipeline) error {
	// Create dir
	if err := os.MkdirAll(filepath.Dir(p.o.Path), 0755); err != nil {
		return fmt.Errorf("replay: creating dir of %s failed: %w", p.o.Path, err)
	}

	// Create file
	file, err := os.Create(p.o.Path)
	if err != nil {
		return fmt.Errorf("replay: creating %s failed: %w", p.o.Path, err)
	}

	// Make sure to close file
	c.AddWithError(file.Close)

	// Create monitorer
	p.m = monitorer.New(monitorer.MonitorerOptions{
		OnDelta:  p.onDelta,
		Period:   p.o.DeltaPeriod,
		Pipeline: pl,
	})

	// Make sure to close monitorer
	c.Add(p.m.Close)

	// Update plugin
	p.ctx = ctx
	p.p = pl
	p.w = file

	// Write pipeline
	p.write(linePipeline{Pipeline: linePipelineDescription{
		Description: pl.Metadata().Description,
		ID:          pl.ID(),
		Name:        pl.Metadata().Name,
	}})

	// Write tracks once loaded
	c.Add(pl.On(mediaflow.EventNameStateChanged, p.onStateChanged))
	return nil
}

func (p *Plugin) Start(ctx context.Context, tc astikit.TaskCreator) {
	// Start monitorer
	tc().Do(func() { p.m.Start(ctx) })
}

func (p *Plugin) onDelta(d monitorer.Delta) {
	p.write(d)
}

func (p *Plugin) onStateChanged(payload interface{}) (delete bool) {
	// Only a successful load is recorded
	v, ok := payload.(mediaflow.EventStateChanged)
	if !ok || v.From != mediaflow.StateLoading || v.To != mediaflow.StateReady {
		return false
	}

	// Create line
	l := lineTracks{
		At:     astikit.Now().UnixMilli(),
		Tracks: []lineTrack{},
	}
	for _, t := range p.p.Tracks() {
		l.Tracks = append(l.Tracks, lineTrack{
			Codec:     t.Codec,
			Duration:  t.Duration.Milliseconds(),
			ID:        int(t.ID),
			MediaType: t.MediaType.String(),
		})
	}

	// Write
	p.write(l)
	return false
}

func (p *Plugin) write(i interface{}) {
	// Marshal
	b, err := json.Marshal(i)
	if err != nil {
		p.p.Logger().WarnC(p.ctx, fmt.Errorf("replay: marshaling failed: %w", err))
		return
	}

	// Append new line
	b = append(b, '\n')

	// Lock
	p.mw.Lock()
	defer p.mw.Unlock()

	// Write
	if _, err = p.w.Write(b); err != nil {
		p.p.Logger().WarnC(p.ctx, fmt.Errorf("replay: writing in file failed: %w", err))
		return
	}
}
