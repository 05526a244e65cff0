package stage

import (
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/centuri-olf/olfcontrol/logging"
)

// EventKind names something observable that happened to a stage.
type EventKind string

// The events a stage emits.
const (
	EventHomed             EventKind = "homed"
	EventOriginSet         EventKind = "origin_set"
	EventMoveIssued        EventKind = "move_issued"
	EventMoveCompleted     EventKind = "move_completed"
	EventFaultDetected     EventKind = "fault_detected"
	EventFaultRecovered    EventKind = "fault_recovered"
	EventTransportFallback EventKind = "transport_fallback"
)

// An Event describes one state change. Only the fields relevant to Kind are set.
type Event struct {
	Kind         EventKind
	Time         time.Time
	Path         string
	Position     []float64
	Displacement []float64
	Mode         MoveMode
	Dwell        time.Duration
	Line         string
	Recoveries   int
}

// An EventSink receives events. Emit must not block for long; it runs on the caller's goroutine.
type EventSink interface {
	Emit(ev Event)
}

// EventSinkFunc adapts a function to an EventSink.
type EventSinkFunc func(ev Event)

// Emit calls f.
func (f EventSinkFunc) Emit(ev Event) {
	f(ev)
}

// MultiSink fans events out to every non-nil sink.
func MultiSink(sinks ...EventSink) EventSink {
	sinks = lo.Filter(sinks, func(s EventSink, _ int) bool { return s != nil })
	return EventSinkFunc(func(ev Event) {
		for _, s := range sinks {
			s.Emit(ev)
		}
	})
}

type loggingSink struct {
	logger logging.Logger
}

// NewLoggingSink writes every event as a structured log entry. Faults are logged as warnings,
// everything else at debug level.
func NewLoggingSink(logger logging.Logger) EventSink {
	return &loggingSink{logger: logger}
}

func (s *loggingSink) Emit(ev Event) {
	fields := []interface{}{"kind", string(ev.Kind)}
	if ev.Path != "" {
		fields = append(fields, "path", ev.Path)
	}
	if ev.Position != nil {
		fields = append(fields, "position", ev.Position)
	}
	if ev.Displacement != nil {
		fields = append(fields, "displacement", ev.Displacement, "mode", ev.Mode.String())
	}
	if ev.Dwell > 0 {
		fields = append(fields, "dwell", ev.Dwell)
	}
	if ev.Line != "" {
		fields = append(fields, "line", ev.Line)
	}
	if ev.Recoveries > 0 {
		fields = append(fields, "recoveries", ev.Recoveries)
	}
	if ev.Kind == EventFaultDetected || ev.Kind == EventTransportFallback {
		s.logger.Warnw("stage event", fields...)
		return
	}
	s.logger.Debugw("stage event", fields...)
}

// Recorder is an EventSink that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit stores ev.
func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the recorded event kinds in order.
func (r *Recorder) Kinds() []EventKind {
	return lo.Map(r.Events(), func(ev Event, _ int) EventKind { return ev.Kind })
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind EventKind) int {
	return lo.CountBy(r.Events(), func(ev Event) bool { return ev.Kind == kind })
}
