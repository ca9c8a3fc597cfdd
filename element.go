package mediagraph

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ExecState is the execution state of a node or graph.
type ExecState int

const (
	StateVoidPending ExecState = iota // No transition pending
	StateNull                         // Halted, resources released
	StateReady                        // Allocated, not processing
	StatePaused                       // Prerolled, data accepted but clock stopped
	StatePlaying                      // Processing media
)

func (s ExecState) String() string {
	switch s {
	case StateVoidPending:
		return "void-pending"
	case StateNull:
		return "null"
	case StateReady:
		return "ready"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// Element is the processing behind a node.
type Element interface {
	// SetState moves the element to the given execution state. Going to
	// StateNull must stop any goroutine the element runs.
	SetState(state ExecState) error

	// Close releases all resources.
	Close() error
}

// URIHandler is implemented by source elements.
type URIHandler interface {
	SetURI(uri string) error
	URI() string
}

// Consumer is the input port of an element.
type Consumer interface {
	// Consume receives one buffer. It must not block on downstream
	// consumers.
	Consume(buf *Buffer) error
}

// Producer is an element with a single static output port.
type Producer interface {
	SetDownstream(c Consumer) error
}

// PadAdder is an element whose output ports appear at runtime.
type PadAdder interface {
	// OnPadAdded registers a callback invoked once per new pad, from the
	// element's own goroutine.
	OnPadAdded(cb func(pad *Pad))
}

// BusPoster is implemented by elements that post lifecycle events.
// The graph wires its bus in when the node is added.
type BusPoster interface {
	SetPoster(p Poster)
}

// CapsAcceptor is implemented by elements that want the caps of the pad
// they get linked to.
type CapsAcceptor interface {
	AcceptCaps(caps *Caps) error
}

// StreamProvider is implemented by sink elements.
type StreamProvider interface {
	Stream() *StreamHandle
}

// ElementFactory creates an element with the given instance name.
type ElementFactory func(name string) (Element, error)

// elementRegistry holds registered element factories by capability name.
type elementRegistry struct {
	factories map[string]ElementFactory
	mu        sync.RWMutex
}

var globalElementRegistry = &elementRegistry{
	factories: make(map[string]ElementFactory),
}

// RegisterElement registers a factory for a capability name.
func RegisterElement(capability string, factory ElementFactory) {
	globalElementRegistry.mu.Lock()
	defer globalElementRegistry.mu.Unlock()
	globalElementRegistry.factories[capability] = factory
}

// MakeElement creates an element of the given capability.
// Unknown capabilities fail with ErrMissingCapability.
func MakeElement(capability, name string) (Element, error) {
	globalElementRegistry.mu.RLock()
	factory, ok := globalElementRegistry.factories[capability]
	globalElementRegistry.mu.RUnlock()

	if !ok {
		return nil, errors.Wrap(ErrMissingCapability, capability)
	}

	el, err := factory(name)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", capability)
	}
	return el, nil
}

// IsElementAvailable checks if a capability is registered.
func IsElementAvailable(capability string) bool {
	globalElementRegistry.mu.RLock()
	defer globalElementRegistry.mu.RUnlock()
	_, ok := globalElementRegistry.factories[capability]
	return ok
}

// AvailableElements returns the registered capability names, sorted.
func AvailableElements() []string {
	globalElementRegistry.mu.RLock()
	defer globalElementRegistry.mu.RUnlock()

	names := make([]string, 0, len(globalElementRegistry.factories))
	for name := range globalElementRegistry.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
