package mediagraph

import (
	"sync/atomic"
	"weak"

	"github.com/pkg/errors"
)

// NodeKind tags the role of a node in the graph.
type NodeKind int

const (
	NodeKindSource  NodeKind = iota // Network/media source
	NodeKindDecoder                 // Demultiplexer/decoder with dynamic pads
	NodeKindSink                    // Consumption point for one media kind
)

func (k NodeKind) String() string {
	switch k {
	case NodeKindSource:
		return "source"
	case NodeKindDecoder:
		return "decoder"
	case NodeKindSink:
		return "sink"
	default:
		return "unknown"
	}
}

// Node is a named element inside a graph. Names never change.
type Node struct {
	name       string
	kind       NodeKind
	media      MediaKind
	capability string
	element    Element

	state   atomic.Int32 // ExecState
	removed atomic.Bool
}

// NewNode creates a node backed by an element of the given capability.
func NewNode(capability, name string, kind NodeKind) (*Node, error) {
	el, err := MakeElement(capability, name)
	if err != nil {
		return nil, err
	}
	n := &Node{
		name:       name,
		kind:       kind,
		media:      MediaKindUnrecognized,
		capability: capability,
		element:    el,
	}
	n.state.Store(int32(StateNull))
	return n, nil
}

// NewSinkNode creates the sink node for a media kind, named after the kind.
func NewSinkNode(capability string, media MediaKind) (*Node, error) {
	n, err := NewNode(capability, media.SinkName(), NodeKindSink)
	if err != nil {
		return nil, err
	}
	n.media = media
	return n, nil
}

// Name returns the node name.
func (n *Node) Name() string { return n.name }

// Kind returns the node kind.
func (n *Node) Kind() NodeKind { return n.kind }

// MediaKind returns the media kind of a sink node.
func (n *Node) MediaKind() MediaKind { return n.media }

// Capability returns the capability the element was created from.
func (n *Node) Capability() string { return n.capability }

// Element returns the element behind the node.
func (n *Node) Element() Element { return n.element }

// State returns the last state the element reached.
func (n *Node) State() ExecState { return ExecState(n.state.Load()) }

// SetURI sets the target location of a source node.
func (n *Node) SetURI(uri string) error {
	h, ok := n.element.(URIHandler)
	if !ok {
		return errors.Errorf("%s (%s) does not accept a uri", n.name, n.capability)
	}
	return h.SetURI(uri)
}

// Handle returns a non-owning reference to the node.
func (n *Node) Handle() NodeHandle {
	return NodeHandle{ptr: weak.Make(n)}
}
