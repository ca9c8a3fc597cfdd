package mediagraph

import (
	"sync"

	"github.com/pkg/errors"
)

type slotState int

const (
	slotEmpty slotState = iota
	slotReserved
	slotFilled
)

type sinkSlot struct {
	state  slotState
	stream *StreamHandle
}

// SinkRegistry maps each attachable media kind to at most one stream
// handle. The first discovery of a kind wins; a filled slot is never
// overwritten.
type SinkRegistry struct {
	mu    sync.Mutex
	slots map[MediaKind]*sinkSlot
}

// NewSinkRegistry creates a registry with every slot empty.
func NewSinkRegistry() *SinkRegistry {
	r := &SinkRegistry{slots: make(map[MediaKind]*sinkSlot)}
	for _, k := range AttachableKinds {
		r.slots[k] = &sinkSlot{}
	}
	return r
}

// Reserve claims the slot for kind. It returns false when the slot is
// already filled or claimed by an attachment in progress, or when kind is
// not attachable.
func (r *SinkRegistry) Reserve(kind MediaKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.slots[kind]
	if !ok || slot.state != slotEmpty {
		return false
	}
	slot.state = slotReserved
	return true
}

// Fill publishes the stream of a reserved slot.
func (r *SinkRegistry) Fill(kind MediaKind, stream *StreamHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.slots[kind]
	if !ok || slot.state != slotReserved {
		return errors.Wrap(ErrSlotNotReserved, kind.String())
	}
	slot.state = slotFilled
	slot.stream = stream
	return nil
}

// Abandon releases a reservation after a failed attachment. Filled slots
// are left alone.
func (r *SinkRegistry) Abandon(kind MediaKind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if slot, ok := r.slots[kind]; ok && slot.state == slotReserved {
		slot.state = slotEmpty
	}
}

// Get returns the published stream for kind.
func (r *SinkRegistry) Get(kind MediaKind) (*StreamHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.slots[kind]
	if !ok || slot.state != slotFilled {
		return nil, false
	}
	return slot.stream, true
}

// Kinds returns the kinds with a published stream, in AttachableKinds
// order.
func (r *SinkRegistry) Kinds() []MediaKind {
	r.mu.Lock()
	defer r.mu.Unlock()

	var kinds []MediaKind
	for _, k := range AttachableKinds {
		if r.slots[k].state == slotFilled {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
