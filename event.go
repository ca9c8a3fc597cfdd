package mediagraph

import "fmt"

// Event is a graph-wide lifecycle message. The set of implementations is
// closed: StateChangedEvent, WarningEvent, ErrorEvent and EOSEvent.
type Event interface {
	// EventSource returns the name of the graph or node that posted the event.
	EventSource() string
	event()
}

// StateChangedEvent reports an execution state transition of a node or of
// the graph itself.
type StateChangedEvent struct {
	Source  string
	Old     ExecState
	New     ExecState
	Pending ExecState
}

// WarningEvent reports a recoverable problem.
type WarningEvent struct {
	Source string
	Err    error
	Debug  string // Additional diagnostic detail
}

// ErrorEvent reports a fatal problem. The graph is halted when the
// lifecycle monitor sees it.
type ErrorEvent struct {
	Source string
	Err    error
	Debug  string
}

// EOSEvent reports that the graph has no more data to produce.
type EOSEvent struct {
	Source string
}

func (e StateChangedEvent) EventSource() string { return e.Source }
func (e WarningEvent) EventSource() string      { return e.Source }
func (e ErrorEvent) EventSource() string        { return e.Source }
func (e EOSEvent) EventSource() string          { return e.Source }

func (StateChangedEvent) event() {}
func (WarningEvent) event()      {}
func (ErrorEvent) event()        {}
func (EOSEvent) event()          {}

func (e StateChangedEvent) String() string {
	return fmt.Sprintf("%s: state changed %s -> %s (pending %s)", e.Source, e.Old, e.New, e.Pending)
}

func (e WarningEvent) String() string {
	return fmt.Sprintf("%s: warning: %v", e.Source, e.Err)
}

func (e ErrorEvent) String() string {
	return fmt.Sprintf("%s: error: %v", e.Source, e.Err)
}

func (e EOSEvent) String() string {
	return e.Source + ": end of stream"
}
