package arena

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
)

// lifecycle owns the background work of one session: its clock driver and at
// most one pending disconnection. Closing it cancels both.
type lifecycle struct {
	mu      sync.Mutex
	run     *clockRun
	pending *pendingDisconnect
	closed  bool
}

type clockRun struct {
	cancel context.CancelFunc
}

type pendingDisconnect struct {
	participant string
	timer       clockwork.Timer
}

func (lc *lifecycle) clearRun(r *clockRun) {
	lc.mu.Lock()
	if lc.run == r {
		lc.run = nil
	}
	lc.mu.Unlock()
}

// cancelPending drops the pending disconnection, if any.
func (lc *lifecycle) cancelPending() bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.pending == nil {
		return false
	}
	lc.pending.timer.Stop()
	lc.pending = nil
	return true
}

// claim takes ownership of p for firing. It fails if p was cancelled or
// replaced in the meantime.
func (lc *lifecycle) claim(p *pendingDisconnect) bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.pending != p {
		return false
	}
	lc.pending = nil
	return true
}

func (lc *lifecycle) shutdown() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.closed = true
	if lc.run != nil {
		lc.run.cancel()
		lc.run = nil
	}
	if lc.pending != nil {
		lc.pending.timer.Stop()
		lc.pending = nil
	}
}

type registry struct {
	mu sync.Mutex
	m  map[string]*lifecycle
}

func newRegistry() *registry {
	return &registry{m: make(map[string]*lifecycle)}
}

func (r *registry) acquire(id string) *lifecycle {
	r.mu.Lock()
	defer r.mu.Unlock()
	lc, ok := r.m[id]
	if !ok {
		lc = &lifecycle{}
		r.m[id] = lc
	}
	return lc
}

// acquireLocked returns the open lifecycle of id with its mutex held. A
// lifecycle closed between lookup and lock has already left the registry,
// so the lookup is repeated.
func (r *registry) acquireLocked(id string) *lifecycle {
	for {
		lc := r.acquire(id)
		lc.mu.Lock()
		if !lc.closed {
			return lc
		}
		lc.mu.Unlock()
	}
}

// dropIdle removes lc once it owns neither a clock driver nor a pending
// disconnection, so sessions that concluded elsewhere leave nothing behind.
func (r *registry) dropIdle(id string, lc *lifecycle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.m[id] != lc {
		return
	}
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.run != nil || lc.pending != nil {
		return
	}
	lc.closed = true
	delete(r.m, id)
}

func (r *registry) lookup(id string) (*lifecycle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lc, ok := r.m[id]
	return lc, ok
}

// release removes and shuts down the lifecycle of id.
func (r *registry) release(id string) {
	r.mu.Lock()
	lc, ok := r.m[id]
	delete(r.m, id)
	r.mu.Unlock()
	if ok {
		lc.shutdown()
	}
}

func (r *registry) releaseAll() {
	r.mu.Lock()
	all := r.m
	r.m = make(map[string]*lifecycle)
	r.mu.Unlock()
	for _, lc := range all {
		lc.shutdown()
	}
}

func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}
