package mediagraph

import (
	"context"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Default capabilities used by a controller.
const (
	DefaultDecoderCapability = "decodebin"
	DefaultSinkCapability    = "appsink"
)

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	URI         string          // Source location
	Source      string          // Source capability (default: chosen from the URI scheme)
	Decoder     string          // Decoder capability (default: decodebin)
	Sink        string          // Sink capability (default: appsink)
	SinkBuffers int             // Queue depth of each stream (default: DefaultSinkBuffers)
	GraphName   string          // Name of the graph (default: pipeline)
	Observer    Observer        // Receives lifecycle events besides the log
	Logger      *zerolog.Logger // Base logger (default: global logger)
}

func (c *ControllerConfig) applyDefaults() {
	if c.Decoder == "" {
		c.Decoder = DefaultDecoderCapability
	}
	if c.Sink == "" {
		c.Sink = DefaultSinkCapability
	}
	if c.SinkBuffers <= 0 {
		c.SinkBuffers = DefaultSinkBuffers
	}
	if c.GraphName == "" {
		c.GraphName = "pipeline"
	}
}

// SourceForURI returns the source capability that handles the URI scheme.
func SourceForURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidURI, "%s: %v", uri, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "rtsp", "rtsps":
		return "rtspsrc", nil
	case "rtmp":
		return "rtmpsrc", nil
	case "udp", "rtp":
		return "rtpsrc", nil
	case "test":
		return "testsrc", nil
	case "":
		return "", errors.Wrapf(ErrInvalidURI, "%s: no scheme", uri)
	default:
		return "", errors.Wrapf(ErrInvalidURI, "%s: unsupported scheme %s", uri, u.Scheme)
	}
}

// Controller owns a graph made of a source and a decoder, grows it with
// one sink per discovered media kind and publishes the sinks' streams.
type Controller struct {
	id     string
	uri    string
	logger zerolog.Logger

	graph     atomic.Pointer[Graph]
	registry  *SinkRegistry
	discovery *discoveryHandler
	monitor   *LifecycleMonitor
	cancel    context.CancelFunc

	closing  atomic.Bool
	closed   chan struct{}
	closeErr error
}

// Open creates a controller for uri with the default configuration.
func Open(uri string) (*Controller, error) {
	return NewController(ControllerConfig{URI: uri})
}

// NewController builds source -> decoder, starts monitoring and discovery
// and sets the graph playing. Failures are returned as
// *ConstructionError and leave nothing running.
func NewController(config ControllerConfig) (*Controller, error) {
	config.applyDefaults()

	id := uuid.NewString()
	logger := newLogger(config.Logger, "controller").With().Str("controller_id", id).Logger()

	if config.URI == "" {
		return nil, &ConstructionError{Reason: ReasonInvalidURI, Err: errors.Wrap(ErrInvalidURI, "empty uri")}
	}
	if config.Source == "" {
		source, err := SourceForURI(config.URI)
		if err != nil {
			return nil, &ConstructionError{Reason: ReasonInvalidURI, Err: err}
		}
		config.Source = source
	}

	src, err := NewNode(config.Source, "source", NodeKindSource)
	if err != nil {
		return nil, &ConstructionError{Reason: ReasonMissingCapability, Capability: config.Source, Err: err}
	}
	dec, err := NewNode(config.Decoder, "decoder", NodeKindDecoder)
	if err != nil {
		src.Element().Close()
		return nil, &ConstructionError{Reason: ReasonMissingCapability, Capability: config.Decoder, Err: err}
	}
	padAdder, ok := dec.Element().(PadAdder)
	if !ok {
		src.Element().Close()
		dec.Element().Close()
		return nil, &ConstructionError{
			Reason:     ReasonMissingCapability,
			Capability: config.Decoder,
			Err:        errors.Errorf("%s has no dynamic pads", config.Decoder),
		}
	}

	if err := src.SetURI(config.URI); err != nil {
		src.Element().Close()
		dec.Element().Close()
		return nil, &ConstructionError{Reason: ReasonInvalidURI, Capability: config.Source, Err: err}
	}

	g := NewGraph(config.GraphName)
	if err := g.Add(src); err != nil {
		src.Element().Close()
		dec.Element().Close()
		return nil, &ConstructionError{Reason: ReasonLinkFailure, Err: err}
	}
	if err := g.Add(dec); err != nil {
		dec.Element().Close()
		g.Destroy()
		return nil, &ConstructionError{Reason: ReasonLinkFailure, Err: err}
	}
	if err := g.Link(src, dec); err != nil {
		g.Destroy()
		return nil, &ConstructionError{Reason: ReasonLinkFailure, Err: err}
	}

	c := &Controller{
		id:       id,
		uri:      config.URI,
		logger:   logger,
		registry: NewSinkRegistry(),
		closed:   make(chan struct{}),
	}
	c.graph.Store(g)

	c.discovery = newDiscoveryHandler(g, dec, c.registry, config.Sink, config.SinkBuffers,
		newLogger(config.Logger, "discovery").With().Str("controller_id", id).Logger())
	padAdder.OnPadAdded(c.discovery.handlePad)

	monitorLogger := newLogger(config.Logger, "monitor").With().Str("controller_id", id).Logger()
	c.monitor = NewLifecycleMonitor(g,
		MultiObserver(NewLogObserver(monitorLogger, g.Name()), config.Observer),
		monitorLogger)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.monitor.Run(ctx)

	if err := g.SetState(StatePlaying); err != nil {
		c.Close()
		return nil, &ConstructionError{Reason: ReasonStateChange, Err: err}
	}

	names := make([]string, 0, 2)
	for _, n := range g.Nodes() {
		names = append(names, n.Name())
	}
	logger.Debug().
		Str("uri", config.URI).
		Str("source", config.Source).
		Strs("children", names).
		Msg("graph playing")

	return c, nil
}

// ID returns the unique identifier for this controller.
func (c *Controller) ID() string {
	return c.id
}

// URI returns the source location.
func (c *Controller) URI() string {
	return c.uri
}

// Stream returns the stream of kind if it has been discovered and
// attached. Absence is not final: discovery is asynchronous. Repeated
// calls return the same handle.
func (c *Controller) Stream(kind MediaKind) (*StreamHandle, bool) {
	return c.registry.Get(kind)
}

// Streams returns every published stream by kind.
func (c *Controller) Streams() map[MediaKind]*StreamHandle {
	streams := make(map[MediaKind]*StreamHandle)
	for _, k := range c.registry.Kinds() {
		if s, ok := c.registry.Get(k); ok {
			streams[k] = s
		}
	}
	return streams
}

// Graph returns the owned graph, or nil after Close.
func (c *Controller) Graph() *Graph {
	return c.graph.Load()
}

// State returns the graph's execution state. A closed controller reports
// StateNull.
func (c *Controller) State() ExecState {
	g := c.graph.Load()
	if g == nil {
		return StateNull
	}
	return g.State()
}

// Monitor returns the lifecycle monitor of the graph.
func (c *Controller) Monitor() *LifecycleMonitor {
	return c.monitor
}

// DiscoveryStats returns discovery counters.
func (c *Controller) DiscoveryStats() DiscoveryStats {
	return c.discovery.stats()
}

// Wait blocks until the monitor stops and returns the fatal error, if any.
func (c *Controller) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.monitor.Done():
		return c.monitor.Err()
	}
}

// Close destroys the graph. Discovery callbacks still in flight either
// finish before the graph goes away or abort. Published stream handles end
// once drained.
//
// Close may be called from an observer callback. It then returns without
// waiting for the monitor, which stops once the callback returns.
func (c *Controller) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		if c.monitor.InCallback() {
			return nil
		}
		<-c.closed
		return c.closeErr
	}

	if g := c.graph.Swap(nil); g != nil {
		c.closeErr = g.Destroy()
	}
	c.cancel()
	if !c.monitor.InCallback() {
		<-c.monitor.Done()
	}
	c.logger.Debug().Err(c.closeErr).Msg("controller closed")
	close(c.closed)
	return c.closeErr
}
