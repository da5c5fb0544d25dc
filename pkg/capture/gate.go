package capture

import "sync"

// GateSnapshot is a consistent view of the [Gate].
type GateSnapshot struct {
	Open         bool
	Epoch        uint64
	EndRequested bool
}

// Gate is the push-to-talk switch. A trigger source opens it with Begin and
// asks for it to be closed with RequestEnd; the assembler closes it once the
// utterance has been handed off. Every Begin starts a new epoch so work that
// belongs to a superseded session can be recognised and discarded.
//
// All methods are safe for concurrent use.
type Gate struct {
	mu           sync.Mutex
	open         bool
	epoch        uint64
	endRequested bool
	changed      chan struct{}
}

// NewGate returns a closed gate at epoch 0.
func NewGate() *Gate {
	return &Gate{changed: make(chan struct{})}
}

// Begin opens the gate, clears any pending end request, and starts a new
// epoch, which it returns. Calling Begin while open supersedes the current
// epoch.
func (g *Gate) Begin() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.epoch++
	g.open = true
	g.endRequested = false
	g.broadcast()
	return g.epoch
}

// RequestEnd marks the current epoch as released. The gate stays open until
// the assembler has drained trailing audio. It is a no-op while closed or
// when an end is already pending. It returns the current epoch.
func (g *Gate) RequestEnd() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open && !g.endRequested {
		g.endRequested = true
		g.broadcast()
	}
	return g.epoch
}

// Close closes the gate immediately, whatever epoch is current.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		g.open = false
		g.endRequested = false
		g.broadcast()
	}
}

// CloseEpoch closes the gate only if epoch is still current. It reports
// whether the gate was closed by this call.
func (g *Gate) CloseEpoch(epoch uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open || g.epoch != epoch {
		return false
	}
	g.open = false
	g.endRequested = false
	g.broadcast()
	return true
}

// Snapshot returns the current state.
func (g *Gate) Snapshot() GateSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GateSnapshot{Open: g.open, Epoch: g.epoch, EndRequested: g.endRequested}
}

// Changed returns a channel that is closed on the next state transition.
// Callers must fetch a fresh channel after each wake-up.
func (g *Gate) Changed() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.changed
}

// broadcast wakes all waiters. Caller holds g.mu.
func (g *Gate) broadcast() {
	close(g.changed)
	g.changed = make(chan struct{})
}
