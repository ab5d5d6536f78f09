package mocks

import (
	"context"
	"errors"
	"sync"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
	"github.com/asticode/go-astikit"
)

var _ mediaflow.Plugin = (*MockedPlugin)(nil)

// MockedPlugin records its lifecycle and the state changes of its pipeline
type MockedPlugin struct {
	Closed      bool
	Context     context.Context
	Initialized bool
	Pipeline    *mediaflow.Pipeline
	Started     bool
	m           sync.Mutex
	states      []mediaflow.State
}

func NewMockedPlugin() *MockedPlugin {
	return &MockedPlugin{}
}

func (p *MockedPlugin) Init(ctx context.Context, c *astikit.Closer, pp *mediaflow.Pipeline) error {
	p.Context = ctx
	if p.Initialized {
		return errors.New("mocks: plugin is already initialized")
	}
	p.Initialized = true
	p.Pipeline = pp
	c.Add(func() { p.Closed = true })
	c.Add(pp.On(mediaflow.EventNameStateChanged, func(payload interface{}) (delete bool) {
		if v, ok := payload.(mediaflow.EventStateChanged); ok {
			p.m.Lock()
			p.states = append(p.states, v.To)
			p.m.Unlock()
		}
		return false
	}))
	return nil
}

func (p *MockedPlugin) Metadata() mediaflow.Metadata {
	return mediaflow.Metadata{Name: "mocked"}
}

func (p *MockedPlugin) Start(ctx context.Context, tc astikit.TaskCreator) {
	p.Started = true
}

func (p *MockedPlugin) States() []mediaflow.State {
	p.m.Lock()
	defer p.m.Unlock()
	return append([]mediaflow.State{}, p.states...)
}
