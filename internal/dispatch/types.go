// Package dispatch defines the message contract between a requesting context
// and the background workers that turn a raw buffer plus options into a
// processed output buffer, reporting progress and completion asynchronously.
package dispatch

import "context"

// Task is one unit of processing work. Input is owned by the task once
// dispatched; the sender must not touch the slice afterwards.
type Task struct {
	ID      string
	Op      OpKind
	Input   []byte
	Options Options
}

type EventType string

const (
	EventProgress EventType = "progress"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

// Event is one message in a task's stream: zero or more progress events
// followed by exactly one terminal done or error, correlated by TaskID.
type Event struct {
	TaskID   string
	Type     EventType
	Progress int
	Result   []byte
	Message  string
}

func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Processor performs one operation class. Implementations call report at
// stage boundaries and must return promptly once ctx is cancelled.
type Processor interface {
	Process(ctx context.Context, task Task, report func(progress int)) ([]byte, error)
}
