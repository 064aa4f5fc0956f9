package auditlog

import "time"

// QueryFilter specifies criteria for querying audit events.
type QueryFilter struct {
	Project string
	TaskID  string
	Branch  string
	Kinds   []EventKind
	Limit   int
	Before  time.Time
	After   time.Time
}

// Logger is the interface for emitting and querying audit events.
type Logger interface {
	Emit(event Event)
	Query(filter QueryFilter) ([]Event, error)
	Close() error
}

// EventOption is a functional option for configuring optional Event fields.
type EventOption func(*Event)

// WithTask sets the TaskID and TaskTitle fields on the event.
func WithTask(id, title string) EventOption {
	return func(e *Event) {
		e.TaskID = id
		e.TaskTitle = title
	}
}

// WithBranch sets the Branch field on the event.
func WithBranch(branch string) EventOption {
	return func(e *Event) { e.Branch = branch }
}

// WithTransition sets the FromState and ToState fields on the event.
func WithTransition(from, to string) EventOption {
	return func(e *Event) {
		e.FromState = from
		e.ToState = to
	}
}

// WithQaAttempt sets the QaAttempt field on the event.
func WithQaAttempt(attempt int) EventOption {
	return func(e *Event) { e.QaAttempt = attempt }
}

// WithDetail sets the Detail field on the event (JSON-encoded extra data).
func WithDetail(detail string) EventOption {
	return func(e *Event) { e.Detail = detail }
}

// WithLevel sets the Level field on the event (info, warn, error).
func WithLevel(level string) EventOption {
	return func(e *Event) { e.Level = level }
}

// NewEvent builds an Event from a kind, project, message, and options.
func NewEvent(kind EventKind, project, message string, opts ...EventOption) Event {
	e := Event{
		Kind:    kind,
		Project: project,
		Message: message,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// nopLogger is a no-op Logger used when auditing is disabled.
type nopLogger struct{}

// NopLogger returns a Logger that discards all events.
func NopLogger() Logger {
	return &nopLogger{}
}

func (n *nopLogger) Emit(_ Event) {}

func (n *nopLogger) Query(_ QueryFilter) ([]Event, error) {
	return nil, nil
}

func (n *nopLogger) Close() error {
	return nil
}
