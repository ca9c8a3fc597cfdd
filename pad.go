package mediagraph

import "sync"

// Pad is an output port created by an element at runtime.
type Pad struct {
	parent string
	name   string

	mu   sync.RWMutex
	caps *Caps
	peer Consumer
}

// NewPad creates an unlinked pad owned by the named element.
func NewPad(parent, name string, caps *Caps) *Pad {
	return &Pad{parent: parent, name: name, caps: caps}
}

// Name returns the pad name.
func (p *Pad) Name() string {
	return p.name
}

// Parent returns the name of the element that owns the pad.
func (p *Pad) Parent() string {
	return p.parent
}

// Caps returns the current caps, nil until negotiated.
func (p *Pad) Caps() *Caps {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.caps
}

// SetCaps replaces the current caps.
func (p *Pad) SetCaps(caps *Caps) {
	p.mu.Lock()
	p.caps = caps
	p.mu.Unlock()
}

// Descriptor snapshots the pad for classification.
func (p *Pad) Descriptor() StreamDescriptor {
	return StreamDescriptor{Pad: p.name, Caps: p.Caps()}
}

// IsLinked reports whether the pad has a peer.
func (p *Pad) IsLinked() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.peer != nil
}

// Link connects the pad to a consumer.
func (p *Pad) Link(c Consumer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.peer != nil {
		return ErrPadLinked
	}
	p.peer = c
	return nil
}

// Unlink disconnects the pad.
func (p *Pad) Unlink() {
	p.mu.Lock()
	p.peer = nil
	p.mu.Unlock()
}

// Push hands a buffer to the peer. Unlinked pads drop the buffer and
// return ErrNotLinked.
func (p *Pad) Push(buf *Buffer) error {
	p.mu.RLock()
	peer := p.peer
	p.mu.RUnlock()

	if peer == nil {
		return ErrNotLinked
	}
	return peer.Consume(buf)
}
