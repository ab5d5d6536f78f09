package srtmedia

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
	srtgo "github.com/zsiec/srtgo"
)

// 7 MPEG-TS packets
const payloadSize = 1316

// 120ms
const latencyNs = 120_000_000

type Options struct {
	// Defaults to 10s
	DialTimeout time.Duration
}

// Register registers the "srt" source capability. The url's "streamid" query parameter is
// sent to the listener.
func Register(c *mediaflow.Capabilities, o Options) {
	c.RegisterSource(mediaflow.SourceCapability{
		Name: "srt",
		Open: func(ctx context.Context, s mediaflow.Source) (mediaflow.SourceReader, error) {
			return Dial(ctx, s.URL, o)
		},
		Schemes: []string{"srt"},
	})
}

var dial = func(addr, streamID string) (io.ReadCloser, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = latencyNs
	cfg.StreamID = streamID
	c, err := srtgo.Dial(addr, cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

type dialResult struct {
	c   io.ReadCloser
	err error
}

// Dial connects to an SRT listener in caller mode
func Dial(ctx context.Context, rawURL string, o Options) (*mediaflow.StreamReader, error) {
	// Default options
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}

	// Parse url
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("srtmedia: parsing url failed: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("srtmedia: no host in %s", rawURL)
	}

	// Dial in the background since it can't be cancelled
	ch := make(chan dialResult, 1)
	fn := dial
	go func() {
		c, err := fn(u.Host, u.Query().Get("streamid"))
		ch <- dialResult{c: c, err: err}
	}()

	// Create timer
	t := time.NewTimer(o.DialTimeout)
	defer t.Stop()

	// Drains dial result and closes leaked connection
	drain := func() {
		go func() {
			if res := <-ch; res.c != nil {
				res.c.Close()
			}
		}()
	}

	// Wait
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("srtmedia: dialing %s failed: %w", u.Host, res.err)
		}
		return mediaflow.NewStreamReader(res.c, mediaflow.StreamReaderOptions{BufferSize: payloadSize * 10}), nil
	case <-t.C:
		drain()
		return nil, fmt.Errorf("srtmedia: dialing %s timed out after %s", u.Host, o.DialTimeout)
	case <-ctx.Done():
		drain()
		return nil, ctx.Err()
	}
}
