package mediagraph

import "github.com/rs/zerolog"

// Observer receives the events surfaced by a LifecycleMonitor. Calls come
// from the monitor's goroutine, in bus order.
type Observer interface {
	StateChanged(ev StateChangedEvent)
	Warning(ev WarningEvent)
	Fatal(ev ErrorEvent)
	EndOfStream(ev EOSEvent)
}

// ObserverFuncs adapts functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnStateChanged func(ev StateChangedEvent)
	OnWarning      func(ev WarningEvent)
	OnFatal        func(ev ErrorEvent)
	OnEndOfStream  func(ev EOSEvent)
}

func (f ObserverFuncs) StateChanged(ev StateChangedEvent) {
	if f.OnStateChanged != nil {
		f.OnStateChanged(ev)
	}
}

func (f ObserverFuncs) Warning(ev WarningEvent) {
	if f.OnWarning != nil {
		f.OnWarning(ev)
	}
}

func (f ObserverFuncs) Fatal(ev ErrorEvent) {
	if f.OnFatal != nil {
		f.OnFatal(ev)
	}
}

func (f ObserverFuncs) EndOfStream(ev EOSEvent) {
	if f.OnEndOfStream != nil {
		f.OnEndOfStream(ev)
	}
}

// LogObserver writes lifecycle events to a zerolog logger. State changes
// of the graph itself are logged at info level, those of its nodes at
// debug level.
type LogObserver struct {
	logger zerolog.Logger
	graph  string
}

// NewLogObserver creates a LogObserver for the named graph.
func NewLogObserver(logger zerolog.Logger, graph string) *LogObserver {
	return &LogObserver{logger: logger, graph: graph}
}

func (o *LogObserver) StateChanged(ev StateChangedEvent) {
	e := o.logger.Debug()
	if ev.Source == o.graph {
		e = o.logger.Info()
	}
	e.Str("source", ev.Source).
		Str("old", ev.Old.String()).
		Str("new", ev.New.String()).
		Str("pending", ev.Pending.String()).
		Msg("state changed")
}

func (o *LogObserver) Warning(ev WarningEvent) {
	o.logger.Warn().
		Str("source", ev.Source).
		Err(ev.Err).
		Str("debug", ev.Debug).
		Msg("warning")
}

func (o *LogObserver) Fatal(ev ErrorEvent) {
	o.logger.Error().
		Str("source", ev.Source).
		Err(ev.Err).
		Str("debug", ev.Debug).
		Msg("fatal error, graph halted")
}

func (o *LogObserver) EndOfStream(ev EOSEvent) {
	o.logger.Info().
		Str("source", ev.Source).
		Msg("end of stream")
}

type multiObserver []Observer

// MultiObserver fans events out to several observers in order.
func MultiObserver(observers ...Observer) Observer {
	var m multiObserver
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

func (m multiObserver) StateChanged(ev StateChangedEvent) {
	for _, o := range m {
		o.StateChanged(ev)
	}
}

func (m multiObserver) Warning(ev WarningEvent) {
	for _, o := range m {
		o.Warning(ev)
	}
}

func (m multiObserver) Fatal(ev ErrorEvent) {
	for _, o := range m {
		o.Fatal(ev)
	}
}

func (m multiObserver) EndOfStream(ev EOSEvent) {
	for _, o := range m {
		o.EndOfStream(ev)
	}
}
