package engine

import "sync"

// Guarded serializes access to an Engine for callers that share it between
// goroutines. All order mutation must go through Do.
type Guarded struct {
	mu sync.Mutex
	e  *Engine
}

func NewGuarded(e *Engine) *Guarded {
	return &Guarded{e: e}
}

// Do runs fn with exclusive access to the engine.
func (g *Guarded) Do(fn func(e *Engine) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(g.e)
}
