package astiavmedia

import (
	"sync"

	"github.com/asticode/go-astiav"
)

// classers maps libav classers to the name of the demuxer or decoder owning them so that libav
// logs can be attributed
var classers = newClasserPool()

type classerPool struct {
	m sync.Mutex
	p map[astiav.Classer]string
}

func newClasserPool() *classerPool {
	return &classerPool{p: make(map[astiav.Classer]string)}
}

func (p *classerPool) set(c astiav.Classer, name string) {
	p.m.Lock()
	defer p.m.Unlock()
	p.p[c] = name
}

func (p *classerPool) del(c astiav.Classer) {
	p.m.Lock()
	defer p.m.Unlock()
	delete(p.p, c)
}

func (p *classerPool) get(c astiav.Classer) (string, bool) {
	p.m.Lock()
	defer p.m.Unlock()
	n, ok := p.p[c]
	return n, ok
}
