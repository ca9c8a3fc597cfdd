package mediagraph

import (
	"sync"
	"weak"
)

// lifetime counts outstanding strong references to a graph. Once killed it
// refuses new references without blocking, and kill waits for the
// outstanding ones to be released.
type lifetime struct {
	mu   sync.Mutex
	cond *sync.Cond
	refs int
	dead bool
}

func newLifetime() *lifetime {
	l := &lifetime{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *lifetime) acquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dead {
		return false
	}
	l.refs++
	return true
}

func (l *lifetime) release() {
	l.mu.Lock()
	l.refs--
	if l.refs == 0 {
		l.cond.Broadcast()
	}
	l.mu.Unlock()
}

// kill marks the graph dead and waits until no strong reference remains.
// It reports false if the graph was already dead.
func (l *lifetime) kill() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dead {
		return false
	}
	l.dead = true
	for l.refs > 0 {
		l.cond.Wait()
	}
	return true
}

func (l *lifetime) alive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.dead
}

// GraphHandle is a non-owning reference to a graph. It does not keep the
// graph reachable and is safe to capture in callbacks.
type GraphHandle struct {
	ptr weak.Pointer[Graph]
}

// GraphRef is a strong reference obtained from GraphHandle.Upgrade. While
// held, the graph cannot be destroyed. Release it before returning from the
// callback that upgraded it.
type GraphRef struct {
	*Graph
	once sync.Once
}

// Upgrade returns a strong reference, or false if the graph is gone or
// being destroyed.
func (h GraphHandle) Upgrade() (*GraphRef, bool) {
	g := h.ptr.Value()
	if g == nil {
		return nil, false
	}
	if !g.life.acquire() {
		return nil, false
	}
	return &GraphRef{Graph: g}, true
}

// Release drops the strong reference. Extra calls are no-ops.
func (r *GraphRef) Release() {
	r.once.Do(r.Graph.life.release)
}

// NodeHandle is a non-owning reference to a node.
type NodeHandle struct {
	ptr weak.Pointer[Node]
}

// Upgrade returns the node, or false once it has been removed from its
// graph or the graph was destroyed.
func (h NodeHandle) Upgrade() (*Node, bool) {
	n := h.ptr.Value()
	if n == nil || n.removed.Load() {
		return nil, false
	}
	return n, true
}
