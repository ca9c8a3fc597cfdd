package mediagraph

import (
	"context"
	"fmt"
	"io"
	"iter"
	"sync"

	"github.com/google/uuid"
)

// DefaultSinkBuffers is the queue depth of a stream handle.
const DefaultSinkBuffers = 64

// StreamStats provides stream handle statistics.
type StreamStats struct {
	BuffersReceived uint64
	BuffersDropped  uint64
	BuffersPulled   uint64
	BytesReceived   uint64
}

// StreamHandle is the consumable end of an attached sink: a lazy,
// pull-based sequence of media buffers. The producing side never blocks;
// when the queue is full the oldest buffer is dropped.
type StreamHandle struct {
	id string

	mu       sync.Mutex
	kind     MediaKind
	caps     *Caps
	queue    []*Buffer
	capacity int
	closed   bool
	stats    StreamStats

	notify chan struct{}
	done   chan struct{}
}

func newStreamHandle(capacity int) *StreamHandle {
	if capacity <= 0 {
		capacity = DefaultSinkBuffers
	}
	return &StreamHandle{
		id:       uuid.NewString(),
		kind:     MediaKindUnrecognized,
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// ID returns the unique identifier for this stream.
func (s *StreamHandle) ID() string {
	return s.id
}

// Kind returns the media kind of the stream.
func (s *StreamHandle) Kind() MediaKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind
}

// Caps returns the negotiated caps of the stream.
func (s *StreamHandle) Caps() *Caps {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// Stats returns stream statistics.
func (s *StreamHandle) Stats() StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Len returns the number of queued buffers.
func (s *StreamHandle) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Closed reports whether the producing sink has shut down.
func (s *StreamHandle) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *StreamHandle) setCaps(kind MediaKind, caps *Caps) {
	s.mu.Lock()
	s.kind = kind
	s.caps = caps
	s.mu.Unlock()
}

func (s *StreamHandle) setCapacity(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.capacity = n
	for len(s.queue) > n {
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.stats.BuffersDropped++
	}
	s.mu.Unlock()
}

func (s *StreamHandle) push(buf *Buffer) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if len(s.queue) >= s.capacity {
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.stats.BuffersDropped++
	}
	s.queue = append(s.queue, buf)
	s.stats.BuffersReceived++
	s.stats.BytesReceived += uint64(len(buf.Data))
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

func (s *StreamHandle) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

// TryPull returns the next queued buffer without waiting.
func (s *StreamHandle) TryPull() (*Buffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.popLocked()
}

func (s *StreamHandle) popLocked() (*Buffer, bool) {
	if len(s.queue) == 0 {
		return nil, false
	}
	buf := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	s.stats.BuffersPulled++
	return buf, true
}

// Pull blocks until a buffer is available. Queued buffers are still
// returned after the sink shut down; then Pull returns io.EOF.
func (s *StreamHandle) Pull(ctx context.Context) (*Buffer, error) {
	for {
		s.mu.Lock()
		if buf, ok := s.popLocked(); ok {
			s.mu.Unlock()
			return buf, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return nil, io.EOF
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.notify:
		case <-s.done:
		}
	}
}

// Samples returns an iterator over the stream. It ends when the stream is
// closed and drained or ctx is done.
func (s *StreamHandle) Samples(ctx context.Context) iter.Seq[*Buffer] {
	return func(yield func(*Buffer) bool) {
		for {
			buf, err := s.Pull(ctx)
			if err != nil {
				return
			}
			if !yield(buf) {
				return
			}
		}
	}
}

func (s *StreamHandle) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("StreamHandle{id: %s, kind: %s, caps: %s, queued: %d}", s.id, s.kind, s.caps, len(s.queue))
}
