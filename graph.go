package mediagraph

import (
	"sync"
	"weak"

	"github.com/pkg/errors"
)

// Link records a connection between two nodes. Pad is empty for static
// links.
type Link struct {
	Src string
	Pad string
	Dst string
}

// Graph owns a set of nodes, the links between them, an execution state
// and an event bus.
//
// Structural changes (Add, Link, LinkPad, SyncStateWithParent) are
// serialised by one lock. SetState does not hold that lock while elements
// change state, so element goroutines may keep mutating the graph while a
// state change waits for them.
type Graph struct {
	name string
	life *lifetime
	bus  *Bus

	stateMu sync.Mutex // Serialises SetState

	mu    sync.Mutex
	nodes map[string]*Node
	order []*Node
	links []Link
	state ExecState
}

// NewGraph creates an empty graph in StateNull.
func NewGraph(name string) *Graph {
	return &Graph{
		name:  name,
		life:  newLifetime(),
		bus:   NewBus(),
		nodes: make(map[string]*Node),
		state: StateNull,
	}
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// Bus returns the graph's event bus.
func (g *Graph) Bus() *Bus { return g.bus }

// Handle returns a non-owning reference to the graph.
func (g *Graph) Handle() GraphHandle {
	return GraphHandle{ptr: weak.Make(g)}
}

// Destroyed reports whether Destroy has been called.
func (g *Graph) Destroyed() bool {
	return !g.life.alive()
}

// State returns the target execution state of the graph.
func (g *Graph) State() ExecState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Add inserts a node. Names are unique, and a graph holds at most one
// decoder and one sink per media kind.
func (g *Graph) Add(n *Node) error {
	if g.Destroyed() {
		return ErrGraphDestroyed
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[n.name]; ok {
		return errors.Wrapf(ErrDuplicateNode, "name %s", n.name)
	}
	for _, other := range g.order {
		if n.kind == NodeKindDecoder && other.kind == NodeKindDecoder {
			return errors.Wrapf(ErrDuplicateNode, "second decoder %s", n.name)
		}
		if n.kind == NodeKindSink && other.kind == NodeKindSink && other.media == n.media {
			return errors.Wrapf(ErrDuplicateNode, "second %s sink %s", n.media, n.name)
		}
	}

	if p, ok := n.element.(BusPoster); ok {
		p.SetPoster(g.bus)
	}
	g.nodes[n.name] = n
	g.order = append(g.order, n)
	return nil
}

// remove takes a node back out of the graph. Only used to roll back a
// sink whose attachment failed.
func (g *Graph) remove(n *Node) {
	g.mu.Lock()
	if !g.contains(n) {
		g.mu.Unlock()
		return
	}
	delete(g.nodes, n.name)
	for i, other := range g.order {
		if other == n {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	links := g.links[:0]
	for _, l := range g.links {
		if l.Src != n.name && l.Dst != n.name {
			links = append(links, l)
		}
	}
	g.links = links
	g.mu.Unlock()

	n.removed.Store(true)
	n.element.SetState(StateNull)
	n.element.Close()
}

func (g *Graph) contains(n *Node) bool {
	m, ok := g.nodes[n.name]
	return ok && m == n
}

// Node looks a node up by name.
func (g *Graph) Node(name string) (*Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[name]
	return n, ok
}

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Node(nil), g.order...)
}

// Links returns the current links.
func (g *Graph) Links() []Link {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Link(nil), g.links...)
}

// Link connects the static output of src to the input of dst.
func (g *Graph) Link(src, dst *Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.contains(src) || !g.contains(dst) {
		return errors.Wrapf(ErrNodeNotInGraph, "link %s -> %s", src.name, dst.name)
	}
	p, ok := src.element.(Producer)
	if !ok {
		return errors.Wrapf(ErrLinkFailure, "%s has no static output", src.name)
	}
	c, ok := dst.element.(Consumer)
	if !ok {
		return errors.Wrapf(ErrLinkFailure, "%s has no input", dst.name)
	}
	if err := p.SetDownstream(c); err != nil {
		return errors.Wrapf(ErrLinkFailure, "link %s -> %s: %v", src.name, dst.name, err)
	}

	g.links = append(g.links, Link{Src: src.name, Dst: dst.name})
	return nil
}

// LinkPad connects a dynamic pad to the input of dst.
func (g *Graph) LinkPad(pad *Pad, dst *Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	owner, ok := g.nodes[pad.Parent()]
	if !ok {
		return errors.Wrapf(ErrNodeNotInGraph, "pad owner %s", pad.Parent())
	}
	if !g.contains(dst) {
		return errors.Wrapf(ErrNodeNotInGraph, "link %s:%s -> %s", owner.name, pad.Name(), dst.name)
	}
	c, ok := dst.element.(Consumer)
	if !ok {
		return errors.Wrapf(ErrLinkFailure, "%s has no input", dst.name)
	}
	if a, ok := dst.element.(CapsAcceptor); ok {
		if err := a.AcceptCaps(pad.Caps()); err != nil {
			return errors.Wrapf(ErrLinkFailure, "%s refused caps %s: %v", dst.name, pad.Caps(), err)
		}
	}
	if err := pad.Link(c); err != nil {
		return errors.Wrapf(ErrLinkFailure, "link %s:%s -> %s: %v", owner.name, pad.Name(), dst.name, err)
	}

	g.links = append(g.links, Link{Src: owner.name, Pad: pad.Name(), Dst: dst.name})
	return nil
}

// SetState moves every node to state. Nodes are changed downstream first
// when going up and upstream first when going down. The first element
// error is returned after all nodes have been visited.
func (g *Graph) SetState(state ExecState) error {
	g.stateMu.Lock()
	defer g.stateMu.Unlock()

	g.mu.Lock()
	old := g.state
	g.state = state
	nodes := append([]*Node(nil), g.order...)
	g.mu.Unlock()

	if state > old {
		for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
			nodes[i], nodes[j] = nodes[j], nodes[i]
		}
	}

	var firstErr error
	for _, n := range nodes {
		if err := g.changeNodeState(n, state); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	g.bus.Post(StateChangedEvent{Source: g.name, Old: old, New: state, Pending: StateVoidPending})
	return firstErr
}

// SyncStateWithParent brings a node to the graph's current state.
func (g *Graph) SyncStateWithParent(n *Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.contains(n) {
		return errors.Wrapf(ErrNodeNotInGraph, "sync %s", n.name)
	}
	return g.changeNodeState(n, g.state)
}

func (g *Graph) changeNodeState(n *Node, state ExecState) error {
	old := n.State()
	if old == state {
		return nil
	}
	if err := n.element.SetState(state); err != nil {
		return errors.Wrapf(err, "set %s to %s", n.name, state)
	}
	n.state.Store(int32(state))
	g.bus.Post(StateChangedEvent{Source: n.name, Old: old, New: state, Pending: StateVoidPending})
	return nil
}

// Destroy halts the graph, closes every element and the bus. It waits for
// outstanding GraphRefs and makes all handles fail to upgrade from then on.
func (g *Graph) Destroy() error {
	if !g.life.kill() {
		return nil
	}

	err := g.SetState(StateNull)

	g.mu.Lock()
	nodes := g.order
	g.order = nil
	g.nodes = make(map[string]*Node)
	g.links = nil
	g.mu.Unlock()

	for _, n := range nodes {
		n.removed.Store(true)
		if cerr := n.element.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "close %s", n.name)
		}
	}

	g.bus.Close()
	return err
}
