package scheduler

import (
	"sync"
	"sync/atomic"
)

// frameGate brackets recording. Workers hold it shared while they claim and
// record an item; BeginFrame and EndFrame hold it exclusively while they
// touch every context.
type frameGate struct {
	mu    sync.RWMutex
	open  bool
	frame atomic.Uint64
}

// enter takes the gate shared and reports whether a frame is open. When it
// returns false the gate is not held.
func (g *frameGate) enter() bool {
	g.mu.RLock()
	if !g.open {
		g.mu.RUnlock()
		return false
	}
	return true
}

func (g *frameGate) leave() {
	g.mu.RUnlock()
}
