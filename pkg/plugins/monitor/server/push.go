package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
	"github.com/asticode/go-astiws"
)

type Pusher interface {
	io.Writer
}

type pushEventName string

const (
	pushEventNameCatchUp pushEventName = "catch_up"
	pushEventNameDelta   pushEventName = "delta"
	pushEventNameError   pushEventName = "error"
	pushEventNamePing    pushEventName = "ping"
)

type pushEvent struct {
	Name    pushEventName `json:"name"`
	Payload interface{}   `json:"payload,omitempty"`
}

type pushError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Op      string `json:"op"`
	Track   *int   `json:"track,omitempty"`
}

func newPushError(e *mediaflow.Error) pushError {
	pe := pushError{
		Kind:    e.Kind.String(),
		Message: e.Error(),
		Op:      e.Op,
	}
	if e.Track != nil {
		t := int(*e.Track)
		pe.Track = &t
	}
	return pe
}

func (p *Plugin) push(n pushEventName, payload interface{}) {
	// Marshal
	b, err := json.Marshal(pushEvent{
		Name:    n,
		Payload: payload,
	})
	if err != nil {
		p.p.Logger().WarnC(p.ctx, fmt.Errorf("server: marshaling %s push event failed: %w", n, err))
		return
	}

	// Push
	if _, err := p.ps.Write(b); err != nil {
		p.p.Logger().WarnC(p.ctx, fmt.Errorf("server: pushing %s failed: %w", n, err))
		return
	}
}

// websocketPusher broadcasts push events to every connected websocket client. Clients can send a
// ping to keep their connection alive and a catch up to receive the current pipeline snapshot.
type websocketPusher struct {
	p *Plugin
	s *astiws.Server
}

func (p *Plugin) newWebsocketPusher() *websocketPusher {
	w := &websocketPusher{p: p}
	w.s = astiws.NewServer(astiws.ServerOptions{
		ClientAdapter:  w.clientAdapter,
		Logger:         p.p.Logger(),
		MaxMessageSize: 1e6,
	})
	return w
}

func (w *websocketPusher) Close() error {
	return w.s.Close()
}

func (w *websocketPusher) clientAdapter(c *astiws.Client) error {
	// Replace context
	*c = *c.WithContext(w.p.ctx)

	// Set message handler
	c.SetMessageHandler(func(m []byte) error {
		// Unmarshal
		var e pushEvent
		if err := json.Unmarshal(m, &e); err != nil {
			return fmt.Errorf("server: unmarshaling message failed: %w", err)
		}

		// Switch
		switch e.Name {
		case pushEventNameCatchUp:
			// Marshal
			b, err := json.Marshal(pushEvent{
				Name:    pushEventNameCatchUp,
				Payload: w.p.catchUp(),
			})
			if err != nil {
				return fmt.Errorf("server: marshaling catch up failed: %w", err)
			}

			// Write
			if err = c.WriteText(b); err != nil {
				return fmt.Errorf("server: writing catch up failed: %w", err)
			}
		case pushEventNamePing:
			// Extend connection
			if err := c.ExtendConnection(); err != nil {
				return fmt.Errorf("server: extending push connection failed: %w", err)
			}
		}
		return nil
	})
	return nil
}

func (w *websocketPusher) Write(b []byte) (int, error) {
	// Loop through clients
	for _, c := range w.s.Clients() {
		// Write
		if err := c.WriteText(b); err != nil {
			return 0, fmt.Errorf("server: writing to websocket client failed: %w", err)
		}
	}
	return len(b), nil
}

func (w *websocketPusher) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	w.s.ServeHTTP(rw, r)
}
