package mediagraph

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DiscoveryStats counts the outcomes of stream discoveries.
type DiscoveryStats struct {
	Discovered    uint64 // Pads announced by the decoder
	Attached      uint64 // Sinks attached and published
	Duplicate     uint64 // Kind already published or being attached
	Unrecognized  uint64 // Neither raw audio nor raw video
	Indeterminate uint64 // No negotiated caps
	Failed        uint64 // Attachment errors
	Aborted       uint64 // Graph or decoder gone
}

// discoveryHandler reacts to pads announced by the decoder node. It only
// holds weak handles, so it never keeps the graph alive, and every
// invocation aborts silently once the graph is being destroyed.
//
// Graph edits are serialised by the graph's structure lock; slot
// reservation in the registry keeps concurrent discoveries of one kind
// from both attaching.
type discoveryHandler struct {
	graph          GraphHandle
	decoder        NodeHandle
	registry       *SinkRegistry
	sinkCapability string
	sinkBuffers    int
	logger         zerolog.Logger

	discovered    atomic.Uint64
	attached      atomic.Uint64
	duplicate     atomic.Uint64
	unrecognized  atomic.Uint64
	indeterminate atomic.Uint64
	failed        atomic.Uint64
	aborted       atomic.Uint64
}

func newDiscoveryHandler(g *Graph, decoder *Node, registry *SinkRegistry, sinkCapability string, sinkBuffers int, logger zerolog.Logger) *discoveryHandler {
	return &discoveryHandler{
		graph:          g.Handle(),
		decoder:        decoder.Handle(),
		registry:       registry,
		sinkCapability: sinkCapability,
		sinkBuffers:    sinkBuffers,
		logger:         logger,
	}
}

func (h *discoveryHandler) stats() DiscoveryStats {
	return DiscoveryStats{
		Discovered:    h.discovered.Load(),
		Attached:      h.attached.Load(),
		Duplicate:     h.duplicate.Load(),
		Unrecognized:  h.unrecognized.Load(),
		Indeterminate: h.indeterminate.Load(),
		Failed:        h.failed.Load(),
		Aborted:       h.aborted.Load(),
	}
}

// handlePad is registered as the decoder's pad-added callback.
func (h *discoveryHandler) handlePad(pad *Pad) {
	h.discovered.Add(1)

	g, ok := h.graph.Upgrade()
	if !ok {
		h.aborted.Add(1)
		return
	}
	defer g.Release()

	decoder, ok := h.decoder.Upgrade()
	if !ok {
		h.aborted.Add(1)
		return
	}

	desc := pad.Descriptor()
	logger := h.logger.With().Str("pad", desc.Pad).Str("caps", desc.Caps.String()).Logger()

	kind, err := Classify(desc)
	if err != nil {
		h.indeterminate.Add(1)
		g.Bus().Post(WarningEvent{
			Source: decoder.Name(),
			Err:    errors.Wrapf(err, "pad %s", desc.Pad),
			Debug:  "stream not attached",
		})
		logger.Warn().Err(err).Msg("cannot classify stream")
		return
	}

	if !kind.Attachable() {
		h.unrecognized.Add(1)
		logger.Debug().Msg("ignoring unrecognized stream")
		return
	}

	if !h.registry.Reserve(kind) {
		h.duplicate.Add(1)
		logger.Debug().Str("kind", kind.String()).Msg("stream kind already attached")
		return
	}

	stream, err := h.attach(g.Graph, pad, kind)
	if err != nil {
		h.registry.Abandon(kind)
		h.failed.Add(1)
		g.Bus().Post(WarningEvent{
			Source: decoder.Name(),
			Err:    err,
			Debug:  desc.Caps.String(),
		})
		logger.Error().Err(err).Str("kind", kind.String()).Msg("failed to attach sink")
		return
	}

	if err := h.registry.Fill(kind, stream); err != nil {
		logger.Error().Err(err).Msg("registry refused stream")
		return
	}
	h.attached.Add(1)
	logger.Info().Str("kind", kind.String()).Str("stream", stream.ID()).Msg("stream attached")
}

// attach creates the sink for kind, links pad to it and starts it. On
// failure the sink is taken back out of the graph.
func (h *discoveryHandler) attach(g *Graph, pad *Pad, kind MediaKind) (*StreamHandle, error) {
	fail := func(stage string, err error) error {
		return &AttachmentError{Kind: kind, Pad: pad.Name(), Stage: stage, Err: err}
	}

	sink, err := NewSinkNode(h.sinkCapability, kind)
	if err != nil {
		return nil, fail("create", err)
	}
	provider, ok := sink.Element().(StreamProvider)
	if !ok {
		sink.Element().Close()
		return nil, fail("create", errors.Errorf("%s does not provide a stream", h.sinkCapability))
	}
	if s, ok := sink.Element().(interface{ SetMaxBuffers(n int) }); ok && h.sinkBuffers > 0 {
		s.SetMaxBuffers(h.sinkBuffers)
	}

	if err := g.Add(sink); err != nil {
		sink.Element().Close()
		return nil, fail("add", err)
	}
	if err := g.LinkPad(pad, sink); err != nil {
		g.remove(sink)
		return nil, fail("link", err)
	}
	if err := g.SyncStateWithParent(sink); err != nil {
		pad.Unlink()
		g.remove(sink)
		return nil, fail("sync", err)
	}
	return provider.Stream(), nil
}
