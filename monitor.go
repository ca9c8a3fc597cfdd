package mediagraph

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// MonitorState is the state of a LifecycleMonitor.
type MonitorState int32

const (
	MonitorRunning  MonitorState = iota // Consuming events
	MonitorStopping                     // Halting the graph after a fatal error
	MonitorStopped                      // Terminal, no more events are consumed
)

func (s MonitorState) String() string {
	switch s {
	case MonitorRunning:
		return "running"
	case MonitorStopping:
		return "stopping"
	case MonitorStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// LifecycleMonitor consumes a graph's bus in order. State changes and
// warnings are surfaced to the observer. An error halts the graph and
// stops the monitor; end of stream stops it without touching the graph.
type LifecycleMonitor struct {
	graph    GraphHandle
	bus      *Bus
	observer Observer
	logger   zerolog.Logger

	state     atomic.Int32
	processed atomic.Uint64
	halted    atomic.Bool
	notifying atomic.Bool // an observer callback is running

	mu    sync.Mutex
	fatal *ErrorEvent

	runOnce sync.Once
	done    chan struct{}
}

// NewLifecycleMonitor creates a monitor for g. A nil observer logs through
// a LogObserver.
func NewLifecycleMonitor(g *Graph, observer Observer, logger zerolog.Logger) *LifecycleMonitor {
	if observer == nil {
		observer = NewLogObserver(logger, g.Name())
	}
	m := &LifecycleMonitor{
		graph:    g.Handle(),
		bus:      g.Bus(),
		observer: observer,
		logger:   logger,
		done:     make(chan struct{}),
	}
	m.state.Store(int32(MonitorRunning))
	return m
}

// State returns the monitor state.
func (m *LifecycleMonitor) State() MonitorState {
	return MonitorState(m.state.Load())
}

// Processed returns the number of events handled.
func (m *LifecycleMonitor) Processed() uint64 {
	return m.processed.Load()
}

// Halted reports whether the monitor forced the graph to StateNull.
func (m *LifecycleMonitor) Halted() bool {
	return m.halted.Load()
}

// Err returns the fatal error that stopped the monitor, if any.
func (m *LifecycleMonitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fatal == nil {
		return nil
	}
	return errors.Wrapf(m.fatal.Err, "%s", m.fatal.Source)
}

// Done is closed when Run returns.
func (m *LifecycleMonitor) Done() <-chan struct{} {
	return m.done
}

// Run consumes events until the monitor stops, the bus is closed or ctx is
// done. It may only be called once; later calls return immediately.
func (m *LifecycleMonitor) Run(ctx context.Context) {
	m.runOnce.Do(func() {
		defer close(m.done)
		m.run(ctx)
	})
}

func (m *LifecycleMonitor) run(ctx context.Context) {
	for m.State() == MonitorRunning {
		ev, err := m.bus.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrBusClosed) {
				m.logger.Debug().Msg("bus closed")
			}
			m.state.Store(int32(MonitorStopped))
			return
		}
		m.Dispatch(ev)
	}
}

// Dispatch handles one event. It returns false, without handling the
// event, once the monitor has left MonitorRunning.
func (m *LifecycleMonitor) Dispatch(ev Event) bool {
	if m.State() != MonitorRunning {
		return false
	}
	m.processed.Add(1)

	switch e := ev.(type) {
	case StateChangedEvent:
		m.notify(func() { m.observer.StateChanged(e) })

	case WarningEvent:
		m.notify(func() { m.observer.Warning(e) })

	case ErrorEvent:
		m.state.Store(int32(MonitorStopping))
		m.halt()
		m.mu.Lock()
		m.fatal = &e
		m.mu.Unlock()
		m.notify(func() { m.observer.Fatal(e) })
		m.state.Store(int32(MonitorStopped))

	case EOSEvent:
		m.notify(func() { m.observer.EndOfStream(e) })
		m.state.Store(int32(MonitorStopped))
	}
	return true
}

func (m *LifecycleMonitor) notify(fn func()) {
	m.notifying.Store(true)
	defer m.notifying.Store(false)
	fn()
}

// InCallback reports whether an observer callback is running on the
// monitor goroutine.
func (m *LifecycleMonitor) InCallback() bool {
	return m.notifying.Load()
}

// halt forces the graph to StateNull if it still exists.
func (m *LifecycleMonitor) halt() {
	g, ok := m.graph.Upgrade()
	if !ok {
		return
	}
	defer g.Release()

	if err := g.SetState(StateNull); err != nil {
		m.logger.Warn().Err(err).Msg("error while halting graph")
	}
	m.halted.Store(true)
}
