package mediagraph

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// AppSink is a sink element that exposes what it receives as a
// StreamHandle.
type AppSink struct {
	name   string
	stream *StreamHandle
	state  atomic.Int32
}

// NewAppSink creates an app sink with the given queue depth.
func NewAppSink(name string, maxBuffers int) *AppSink {
	s := &AppSink{
		name:   name,
		stream: newStreamHandle(maxBuffers),
	}
	s.state.Store(int32(StateNull))
	return s
}

// Name returns the element name.
func (s *AppSink) Name() string { return s.name }

// Stream returns the consumable handle. The same handle is returned on
// every call.
func (s *AppSink) Stream() *StreamHandle { return s.stream }

// SetMaxBuffers changes the queue depth.
func (s *AppSink) SetMaxBuffers(n int) {
	s.stream.setCapacity(n)
}

// AcceptCaps records the caps of the linked pad. Caps must be set.
func (s *AppSink) AcceptCaps(caps *Caps) error {
	if caps == nil {
		return errors.New("caps not negotiated")
	}
	kind, err := Classify(StreamDescriptor{Caps: caps})
	if err != nil {
		return err
	}
	s.stream.setCaps(kind, caps)
	return nil
}

// Consume queues a buffer. Buffers arriving before the sink is paused or
// playing are refused with ErrFlushing.
func (s *AppSink) Consume(buf *Buffer) error {
	switch ExecState(s.state.Load()) {
	case StatePaused, StatePlaying:
	default:
		return ErrFlushing
	}
	if !s.stream.push(buf) {
		return ErrFlushing
	}
	return nil
}

// SetState changes the sink state. Returning to StateNull after having run
// ends the stream.
func (s *AppSink) SetState(state ExecState) error {
	old := ExecState(s.state.Swap(int32(state)))
	if state == StateNull && old > StateNull {
		s.stream.close()
	}
	return nil
}

// Close ends the stream.
func (s *AppSink) Close() error {
	s.state.Store(int32(StateNull))
	s.stream.close()
	return nil
}

func init() {
	RegisterElement("appsink", func(name string) (Element, error) {
		return NewAppSink(name, DefaultSinkBuffers), nil
	})
}
