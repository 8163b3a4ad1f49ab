package enginetest

import (
	"sync"

	"github.com/go-drift/videoplayer/pkg/engine"
	"github.com/go-drift/videoplayer/pkg/source"
)

// Pool is a factory that builds a fresh Engine per session.
type Pool struct {
	mu      sync.Mutex
	engines []*Engine
	// Configure, when set, runs on each engine before it is returned.
	Configure func(*Engine)
}

// Factory implements engine.Factory over the pool.
func (p *Pool) Factory() engine.Factory {
	return func(desc source.Description) (engine.Engine, error) {
		e := New()
		e.desc = desc
		if p.Configure != nil {
			p.Configure(e)
		}
		p.mu.Lock()
		p.engines = append(p.engines, e)
		p.mu.Unlock()
		return e, nil
	}
}

// Engines returns every engine built so far, oldest first.
func (p *Pool) Engines() []*Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Engine(nil), p.engines...)
}

// Last returns the most recently built engine, or nil.
func (p *Pool) Last() *Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.engines) == 0 {
		return nil
	}
	return p.engines[len(p.engines)-1]
}
