package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
	"github.com/Corten-Browser/Corten-MediaEngine/pkg/plugins/monitor/monitorer"
	"github.com/asticode/go-astikit"
)

var _ mediaflow.Plugin = (*Plugin)(nil)

type Plugin struct {
	ctx context.Context
	m   *monitorer.Monitorer
	o   PluginOptions
	p   *mediaflow.Pipeline
	ps  Pusher
	s   *http.Server
}

type PluginOptions struct {
	Addr        string
	API         PluginAPIOptions
	DeltaPeriod time.Duration
	Push        PluginPushOptions
}

type PluginAPIOptions struct {
	URL string
}

type PluginPushOptions struct {
	Pusher Pusher
	URL    string
}

func New(o PluginOptions) *Plugin {
	return &Plugin{o: o}
}

func (p *Plugin) Metadata() mediaflow.Metadata {
	return mediaflow.Metadata{Name: "monitor.server"}
}

func (p *Plugin) Init(ctx context.Context, c *astikit.Closer, pl *mediaflow.Pipeline) error {
	// Store pipeline
	p.ctx = ctx
	p.p = pl

	// Create monitorer
	p.m = monitorer.New(monitorer.MonitorerOptions{
		OnDelta:  p.onDelta,
		Period:   p.o.DeltaPeriod,
		Pipeline: pl,
	})

	// Make sure monitorer is stopped
	c.Add(p.m.Close)

	// Get pusher
	p.ps = p.o.Push.Pusher
	if p.ps == nil {
		p.ps = p.newWebsocketPusher()
	}

	// Make sure pusher is properly closed
	if v, ok := p.ps.(io.Closer); ok {
		c.AddWithError(v.Close)
	}

	// Push errors
	c.Add(pl.On(mediaflow.EventNameError, p.onError))

	// Addr was provided
	// We need the pusher at that point
	if p.o.Addr != "" {
		// Create http server
		p.s = &http.Server{
			Addr:    p.o.Addr,
			Handler: p.handler(),
		}

		// Make sure http server is closed properly
		c.AddWithError(p.s.Close)
	}
	return nil
}

func (p *Plugin) Start(ctx context.Context, tc astikit.TaskCreator) {
	// Start http server
	if p.s != nil {
		// Do
		tc().Do(func() {
			// Log
			p.p.Logger().InfoCf(p.ctx, "server: serving on %s", p.o.Addr)

			// Serve
			var done = make(chan error, 1)
			go func() {
				if err := p.s.ListenAndServe(); err != nil {
					done <- err
				}
			}()

			// Wait
			select {
			case <-ctx.Done():
			case err := <-done:
				if err != nil {
					p.p.Logger().WarnC(p.ctx, fmt.Errorf("server: serving on %s failed: %w", p.o.Addr, err))
				}
			}

			// Shutdown
			p.p.Logger().InfoCf(p.ctx, "server: shutting down server on %s", p.o.Addr)
			if err := p.s.Shutdown(context.Background()); err != nil {
				p.p.Logger().WarnC(p.ctx, fmt.Errorf("server: shutting down server on %s failed: %w", p.o.Addr, err))
			}
		})
	}

	// Start monitorer
	tc().Do(func() { p.m.Start(ctx) })
}

func (p *Plugin) handler() http.Handler {
	// Create mux
	m := http.NewServeMux()

	// Add api routes
	if strings.HasPrefix(p.o.API.URL, "/") {
		m.Handle(p.o.API.URL+"/catch-up", p.ServeAPICatchUp())
		m.Handle(p.o.API.URL+"/tracks", p.ServeAPITracks())
	}

	// Add push route
	if strings.HasPrefix(p.o.Push.URL, "/") {
		m.Handle(p.o.Push.URL, p.ServePush())
	}
	return m
}

type apiCatchUp struct {
	monitorer.Delta
	Pipeline apiCatchUpPipeline `json:"pipeline"`
}

type apiCatchUpPipeline struct {
	Description string `json:"description,omitempty"`
	ID          uint64 `json:"id"`
	Name        string `json:"name,omitempty"`
}

func (p *Plugin) catchUp() apiCatchUp {
	return apiCatchUp{
		Delta: p.m.CatchUp(),
		Pipeline: apiCatchUpPipeline{
			Description: p.p.Metadata().Description,
			ID:          p.p.ID(),
			Name:        p.p.Metadata().Name,
		},
	}
}

func (p *Plugin) ServeAPICatchUp() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Write
		if err := json.NewEncoder(w).Encode(p.catchUp()); err != nil {
			p.p.Logger().WarnC(p.ctx, fmt.Errorf("server: writing api catch up body failed: %w", err))
			return
		}
	})
}

type apiTrack struct {
	Channels   int    `json:"channels,omitempty"`
	Codec      string `json:"codec"`
	Height     int    `json:"height,omitempty"`
	ID         int    `json:"id"`
	MediaType  string `json:"media_type"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Width      int    `json:"width,omitempty"`
}

type apiRange struct {
	// In milliseconds
	End   int64 `json:"end"`
	Start int64 `json:"start"`
}

type apiTracks struct {
	BufferedRanges []apiRange `json:"buffered_ranges"`
	Tracks         []apiTrack `json:"tracks"`
}

func (p *Plugin) ServeAPITracks() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Create body
		b := apiTracks{
			BufferedRanges: []apiRange{},
			Tracks:         []apiTrack{},
		}
		for _, t := range p.p.Tracks() {
			b.Tracks = append(b.Tracks, apiTrack{
				Channels:   t.Channels,
				Codec:      t.Codec,
				Height:     t.Height,
				ID:         int(t.ID),
				MediaType:  t.MediaType.String(),
				SampleRate: t.SampleRate,
				Width:      t.Width,
			})
		}
		for _, r := range p.p.BufferedRanges() {
			b.BufferedRanges = append(b.BufferedRanges, apiRange{
				End:   r.End.Milliseconds(),
				Start: r.Start.Milliseconds(),
			})
		}

		// Write
		if err := json.NewEncoder(w).Encode(b); err != nil {
			p.p.Logger().WarnC(p.ctx, fmt.Errorf("server: writing api tracks body failed: %w", err))
			return
		}
	})
}

func (p *Plugin) ServePush() http.Handler {
	if h, ok := p.ps.(http.Handler); ok {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
}

func (p *Plugin) onDelta(d monitorer.Delta) {
	p.push(pushEventNameDelta, d)
}

func (p *Plugin) onError(payload interface{}) (delete bool) {
	// Only fatal and track degrading errors are pushed right away
	if e, ok := payload.(*mediaflow.Error); ok && e.Kind != mediaflow.ErrorKindTransient {
		p.push(pushEventNameError, newPushError(e))
	}
	return false
}
