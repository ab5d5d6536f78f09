package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	astiavmedia "github.com/Corten-Browser/Corten-MediaEngine/pkg/libs/astiav"
	beepmedia "github.com/Corten-Browser/Corten-MediaEngine/pkg/libs/beep"
	opusmedia "github.com/Corten-Browser/Corten-MediaEngine/pkg/libs/opus"
	quicmedia "github.com/Corten-Browser/Corten-MediaEngine/pkg/libs/quic"
	srtmedia "github.com/Corten-Browser/Corten-MediaEngine/pkg/libs/srt"
	wavmedia "github.com/Corten-Browser/Corten-MediaEngine/pkg/libs/wav"
	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
	"github.com/Corten-Browser/Corten-MediaEngine/pkg/plugins/monitor/replay"
	"github.com/Corten-Browser/Corten-MediaEngine/pkg/plugins/monitor/server"
	"github.com/Corten-Browser/Corten-MediaEngine/pkg/stats/psutil"
	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/asticode/go-astilog"
	"github.com/chzyer/readline"
)

var (
	buffer        = flag.Int("buffer", 0, "the max number of items per queue")
	input         = flag.String("i", "", "the input path or url")
	monitor       = flag.String("monitor", "", "the monitor server address")
	monitorReplay = flag.String("monitor-replay", "", "the path where monitor deltas are recorded")
	seekMode      = flag.String("seek-mode", "keyframe", "the seek mode: keyframe or exact")
	wavOut        = flag.String("wav-out", "", "the wav path where audio is recorded instead of being played")
)

func main() {
	// Parse flags
	flag.Parse()

	// Usage
	if *input == "" {
		log.Println("Usage: <binary path> -i <input path or url>")
		return
	}

	// Create logger
	l := astilog.New(astilog.Configuration{})

	// Run
	if err := run(l); err != nil {
		l.Error(err)
	}
}

func run(l astikit.StdLogger) error {
	// Adapt logger
	cl := astikit.AdaptStdLogger(l)

	// Create config
	cfg := mediaflow.PipelineConfig{BufferSize: *buffer}
	var err error
	if cfg.SeekMode, err = mediaflow.ParseSeekMode(*seekMode); err != nil {
		return fmt.Errorf("main: parsing seek mode failed: %w", err)
	}
	cfg = cfg.WithDefaults()
	if err = cfg.Validate(); err != nil {
		return fmt.Errorf("main: validating config failed: %w", err)
	}

	// Create psutil delta stat
	ds, err := psutil.New()
	if err != nil {
		return fmt.Errorf("main: creating psutil delta stat failed: %w", err)
	}

	// Create worker
	w := astikit.NewWorker(astikit.WorkerOptions{Logger: l})
	w.HandleSignals(astikit.TermSignalHandler(w.Stop))
	defer w.Wait()
	defer w.Stop()

	// Create capabilities
	// The wav demuxer must be registered before the astiav one since the latter accepts everything
	c := mediaflow.NewCapabilities()
	wavmedia.Register(c, wavmedia.DemuxerOptions{})
	opusmedia.Register(c)
	astiavmedia.Register(c, astiavmedia.Options{})
	srtmedia.Register(c, srtmedia.Options{})
	quicmedia.Register(c, quicmedia.Options{})

	// Create audio sink
	var as interface {
		mediaflow.AudioSink
		io.Closer
	}
	if *wavOut != "" {
		if as, err = wavmedia.NewFileSink(*wavOut, wavmedia.SinkOptions{RealTime: true}); err != nil {
			return fmt.Errorf("main: creating wav sink failed: %w", err)
		}
	} else {
		as = beepmedia.NewSink(beepmedia.SinkOptions{})
	}
	defer as.Close()

	// Create sessions
	ss, err := mediaflow.NewSessions(mediaflow.SessionsOptions{
		Capabilities: c,
		ContextAdapters: mediaflow.PipelineContextAdaptersOptions{
			Pipeline: func(ctx context.Context, p *mediaflow.Pipeline) context.Context {
				return astilog.ContextWithFields(ctx, map[string]interface{}{
					"pipeline": p.String(),
				})
			},
			Plugin: func(ctx context.Context, p *mediaflow.Pipeline, pl mediaflow.Plugin) context.Context {
				return astilog.ContextWithFields(ctx, map[string]interface{}{
					"pipeline": p.String(),
					"plugin":   pl.Metadata().Name,
				})
			},
			Worker: func(ctx context.Context, p *mediaflow.Pipeline, wk *mediaflow.Worker) context.Context {
				return astilog.ContextWithFields(ctx, map[string]interface{}{
					"pipeline": p.String(),
					"worker":   wk.String(),
				})
			},
		},
		Logger:      l,
		MaxSessions: 1,
		Worker:      w,
	})
	if err != nil {
		return fmt.Errorf("main: creating sessions failed: %w", err)
	}
	defer ss.Close()

	// Create plugins
	ps := []mediaflow.Plugin{
		astiavmedia.NewLogInterceptor(astiavmedia.LogInterceptorOptions{
			Level: astiav.LogLevelInfo,
			Merge: astiavmedia.LogInterceptorMergeOptions{
				AllowedCount: 5,
				Buffer:       10 * time.Second,
			},
		}),
	}
	if *monitor != "" {
		ps = append(ps, server.New(server.PluginOptions{
			Addr:        *monitor,
			API:         server.PluginAPIOptions{URL: "/api"},
			DeltaPeriod: 2 * time.Second,
			Push:        server.PluginPushOptions{URL: "/push"},
		}))
	}
	if *monitorReplay != "" {
		ps = append(ps, replay.New(replay.PluginOptions{
			DeltaPeriod: 2 * time.Second,
			Path:        *monitorReplay,
		}))
	}

	// Create session
	s, err := ss.Create(w.Context(), mediaflow.SessionConfig{
		AudioSink:  as,
		DeltaStats: []astikit.DeltaStat{ds},
		Metadata:   mediaflow.Metadata{Name: "dev"},
		Plugins:    ps,
		VideoSink:  newVideoSink(l),
	})
	if err != nil {
		return fmt.Errorf("main: creating session failed: %w", err)
	}
	p := s.Pipeline()

	// Log events
	go logEvents(cl, p)

	// Load
	if err = p.Load(w.Context(), mediaflow.Source{URL: *input}, cfg); err != nil {
		return fmt.Errorf("main: loading %s failed: %w", *input, err)
	}
	for _, t := range p.Tracks() {
		cl.Infof("main: %s", t)
	}

	// Create player
	pl := newPlayer(p, cfg, nil)

	// Create readline
	rl, err := readline.NewEx(&readline.Config{
		AutoComplete:    pl.completer(),
		InterruptPrompt: "^C",
		Prompt:          "> ",
	})
	if err != nil {
		return fmt.Errorf("main: creating readline failed: %w", err)
	}
	defer rl.Close()
	pl.w = rl.Stdout()

	// Make sure readline returns once worker is stopped
	go func() {
		<-w.Context().Done()
		rl.Close()
	}()

	// Read commands
	for {
		// Read line
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("main: reading line failed: %w", err)
		}

		// Handle
		if err = pl.handle(w.Context(), line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintln(rl.Stderr(), err)
		}
	}
}

func logEvents(l astikit.CompleteLogger, p *mediaflow.Pipeline) {
	for e := range p.Events() {
		switch e.Name {
		case mediaflow.EventNameBufferingProgress:
			if v, ok := e.Payload.(mediaflow.EventBufferingProgress); ok {
				l.Debugf("main: buffering %.0f%%", v.Fraction*100)
			}
		case mediaflow.EventNameError:
			if v, ok := e.Payload.(*mediaflow.Error); ok {
				l.Warn(v)
			}
		case mediaflow.EventNameStateChanged:
			if v, ok := e.Payload.(mediaflow.EventStateChanged); ok && v.To == mediaflow.StateStopped {
				l.Info("main: playback is stopped, type load <input> to play something else")
			}
		}
	}
}

var _ mediaflow.VideoSink = (*videoSink)(nil)

// videoSink logs frames since the dev binary has no display
type videoSink struct {
	count uint64
	l     astikit.CompleteLogger
}

func newVideoSink(l astikit.StdLogger) *videoSink {
	return &videoSink{l: astikit.AdaptStdLogger(l)}
}

func (s *videoSink) Display(ctx context.Context, f *mediaflow.VideoFrame) error {
	// Only log one frame out of 25
	if n := atomic.AddUint64(&s.count, 1); n%25 == 1 {
		s.l.InfoCf(ctx, "main: frame #%d displayed at %s (%dx%d)", f.Sequence, f.PTS, f.Width, f.Height)
	}
	return nil
}
