package mediagraph

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// newMockController builds a controller on mocksrc and mockdecoder. The
// controller is closed when the test ends.
func newMockController(t *testing.T, cfg ControllerConfig) (*Controller, *mockSource, *mockDecoder) {
	t.Helper()

	if cfg.URI == "" {
		cfg.URI = "mock://stream"
	}
	if cfg.Source == "" {
		cfg.Source = "mocksrc"
	}
	if cfg.Decoder == "" {
		cfg.Decoder = "mockdecoder"
	}
	if cfg.Logger == nil {
		nop := zerolog.Nop()
		cfg.Logger = &nop
	}

	c, err := NewController(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	src, ok := c.Graph().Node("source")
	require.True(t, ok)
	dec, ok := c.Graph().Node("decoder")
	require.True(t, ok)
	return c, src.Element().(*mockSource), dec.Element().(*mockDecoder)
}

// mockSource is a source that produces nothing on its own.
type mockSource struct {
	name string

	mu         sync.Mutex
	uri        string
	downstream Consumer
	poster     Poster
	state      ExecState
}

func (s *mockSource) SetURI(uri string) error {
	if strings.Contains(uri, "bad") {
		return errors.Wrap(ErrInvalidURI, uri)
	}
	s.mu.Lock()
	s.uri = uri
	s.mu.Unlock()
	return nil
}

func (s *mockSource) URI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uri
}

func (s *mockSource) SetDownstream(c Consumer) error {
	s.mu.Lock()
	s.downstream = c
	s.mu.Unlock()
	return nil
}

func (s *mockSource) SetPoster(p Poster) {
	s.mu.Lock()
	s.poster = p
	s.mu.Unlock()
}

func (s *mockSource) SetState(state ExecState) error {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	return nil
}

func (s *mockSource) Close() error { return nil }

// post posts an event as the source would.
func (s *mockSource) post(ev Event) {
	s.mu.Lock()
	p := s.poster
	s.mu.Unlock()
	p.Post(ev)
}

// mockDecoder announces pads on demand.
type mockDecoder struct {
	name string

	mu  sync.Mutex
	cbs []func(*Pad)
	seq int
}

func (d *mockDecoder) OnPadAdded(cb func(*Pad)) {
	d.mu.Lock()
	d.cbs = append(d.cbs, cb)
	d.mu.Unlock()
}

func (d *mockDecoder) Consume(*Buffer) error          { return nil }
func (d *mockDecoder) SetState(state ExecState) error { return nil }
func (d *mockDecoder) Close() error                   { return nil }

// emit announces a new pad with the given caps and runs the callbacks.
func (d *mockDecoder) emit(caps *Caps) *Pad {
	d.mu.Lock()
	pad := NewPad(d.name, fmt.Sprintf("src_%d", d.seq), caps)
	d.seq++
	cbs := slices.Clone(d.cbs)
	d.mu.Unlock()

	for _, cb := range cbs {
		cb(pad)
	}
	return pad
}

// staticDecoder has no dynamic pads.
type staticDecoder struct{}

func (staticDecoder) Consume(*Buffer) error    { return nil }
func (staticDecoder) SetState(ExecState) error { return nil }
func (staticDecoder) Close() error             { return nil }

// deadEndSource cannot be linked to anything.
type deadEndSource struct{}

func (deadEndSource) SetURI(string) error      { return nil }
func (deadEndSource) URI() string              { return "" }
func (deadEndSource) SetState(ExecState) error { return nil }
func (deadEndSource) Close() error             { return nil }

// refusingSink rejects every caps.
type refusingSink struct{ *AppSink }

func (refusingSink) AcceptCaps(*Caps) error { return errors.New("caps refused") }

// stuckSink cannot change state.
type stuckSink struct{ *AppSink }

func (stuckSink) SetState(ExecState) error { return errors.New("state change refused") }

var (
	testCaps = map[string]*Caps{
		"audio":   NewCaps("audio/x-raw", "format", "S16LE", "rate", "8000", "channels", "1"),
		"video":   NewCaps("video/x-raw", "format", "I420", "width", "32", "height", "24"),
		"opaque":  NewCaps("video/x-vp8"),
		"unknown": nil,
	}
)

func init() {
	RegisterElement("mocksrc", func(name string) (Element, error) {
		return &mockSource{name: name, state: StateNull}, nil
	})
	RegisterElement("mockdecoder", func(name string) (Element, error) {
		return &mockDecoder{name: name}, nil
	})
	RegisterElement("staticdecoder", func(string) (Element, error) {
		return staticDecoder{}, nil
	})
	RegisterElement("deadendsrc", func(string) (Element, error) {
		return deadEndSource{}, nil
	})
	RegisterElement("brokensink", func(string) (Element, error) {
		return nil, errors.New("out of sinks")
	})
	RegisterElement("refusingsink", func(name string) (Element, error) {
		return refusingSink{NewAppSink(name, DefaultSinkBuffers)}, nil
	})
	RegisterElement("stucksink", func(name string) (Element, error) {
		return stuckSink{NewAppSink(name, DefaultSinkBuffers)}, nil
	})
}
