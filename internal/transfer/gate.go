package transfer

import "sync"

// Gate is the cooperative pause checkpoint for a streaming loop. The loop
// calls Wait before each chunk; Pause makes Wait block until Resume is
// called. Pausing never interrupts a chunk already in flight.
type Gate struct {
	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

func NewGate() *Gate {
	return &Gate{}
}

// Pause closes the gate. Idempotent.
func (g *Gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return
	}
	g.paused = true
	g.resume = make(chan struct{})
}

// Resume reopens the gate, releasing every goroutine blocked in Wait.
// Idempotent.
func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	close(g.resume)
}

// Wait blocks while the gate is paused.
func (g *Gate) Wait() {
	g.mu.Lock()
	if !g.paused {
		g.mu.Unlock()
		return
	}
	ch := g.resume
	g.mu.Unlock()
	<-ch
}

// Paused reports the current gate state.
func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}
