package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Limits are hard input-size ceilings per operation class, in bytes. The
// worker fails fast instead of risking an out-of-memory crash on an input it
// was never going to finish.
type Limits struct {
	Image    int64
	Document int64
	Media    int64
}

func DefaultLimits() Limits {
	return Limits{
		Image:    100 << 20,
		Document: 256 << 20,
		Media:    1 << 30,
	}
}

func (l Limits) For(class Class) int64 {
	switch class {
	case ClassImage:
		return l.Image
	case ClassDocument:
		return l.Document
	case ClassMedia:
		return l.Media
	default:
		return 0
	}
}

// CancelChecker reports whether cancellation was requested for a task.
type CancelChecker func(taskID string) bool

// Runner executes tasks against the registered processors and guarantees the
// protocol invariants: ceiling enforced before any work, progress events only
// before the terminal one, exactly one terminal event per task. No retries
// happen here; a failed task is re-dispatched by the caller under a new ID.
type Runner struct {
	procs      map[Class]Processor
	limits     Limits
	cancelled  CancelChecker
	cancelPoll time.Duration
}

func NewRunner(procs map[Class]Processor, limits Limits, cancelled CancelChecker) *Runner {
	return &Runner{
		procs:      procs,
		limits:     limits,
		cancelled:  cancelled,
		cancelPoll: 250 * time.Millisecond,
	}
}

// Run processes one task to its terminal event and returns that event.
func (r *Runner) Run(ctx context.Context, task Task, sink Sink) Event {
	em := newEmitter(task.ID, sink)

	if err := task.Options.Validate(); err != nil {
		return em.error(ctx, err.Error())
	}

	class, ok := task.Op.Class()
	if !ok {
		return em.error(ctx, fmt.Sprintf("unknown operation %q", task.Op))
	}

	if limit := r.limits.For(class); limit > 0 && int64(len(task.Input)) > limit {
		return em.error(ctx, fmt.Sprintf(
			"input of %d bytes exceeds the %d byte ceiling for %s operations",
			len(task.Input), limit, class,
		))
	}

	proc, ok := r.procs[class]
	if !ok {
		return em.error(ctx, fmt.Sprintf("no processor for %s operations", class))
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if r.cancelled != nil {
		stopPolling := make(chan struct{})
		defer close(stopPolling)
		go r.pollCancel(runCtx, cancel, task.ID, stopPolling)
	}

	result, err := proc.Process(runCtx, task, func(p int) {
		em.progress(ctx, p)
	})
	if err != nil {
		if context.Cause(runCtx) == errCancelRequested {
			// Buffers for a cancelled task are dropped here, never
			// delivered for the caller to filter out.
			return em.error(ctx, "task cancelled")
		}
		return em.error(ctx, err.Error())
	}

	return em.done(ctx, result)
}

var errCancelRequested = fmt.Errorf("cancel requested")

func (r *Runner) pollCancel(ctx context.Context, cancel context.CancelCauseFunc, taskID string, stop <-chan struct{}) {
	ticker := time.NewTicker(r.cancelPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if r.cancelled(taskID) {
				cancel(errCancelRequested)
				return
			}
		}
	}
}

// emitter serializes a task's event stream: progress values are clamped and
// monotonically non-decreasing, and nothing is published after the terminal
// event.
type emitter struct {
	taskID string
	sink   Sink

	mu       sync.Mutex
	last     int
	terminal bool
}

func newEmitter(taskID string, sink Sink) *emitter {
	return &emitter{taskID: taskID, sink: sink, last: -1}
}

func (e *emitter) progress(ctx context.Context, p int) {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}

	e.mu.Lock()
	if e.terminal || p <= e.last {
		e.mu.Unlock()
		return
	}
	e.last = p
	e.mu.Unlock()

	e.publish(ctx, Event{TaskID: e.taskID, Type: EventProgress, Progress: p})
}

func (e *emitter) done(ctx context.Context, result []byte) Event {
	ev := Event{TaskID: e.taskID, Type: EventDone, Progress: 100, Result: result}
	e.finish(ctx, ev)
	return ev
}

func (e *emitter) error(ctx context.Context, message string) Event {
	ev := Event{TaskID: e.taskID, Type: EventError, Message: message}
	e.finish(ctx, ev)
	return ev
}

func (e *emitter) finish(ctx context.Context, ev Event) {
	e.mu.Lock()
	if e.terminal {
		e.mu.Unlock()
		return
	}
	e.terminal = true
	e.mu.Unlock()

	e.publish(ctx, ev)
}

func (e *emitter) publish(ctx context.Context, ev Event) {
	if err := e.sink.Publish(ctx, ev); err != nil {
		slog.Warn("dispatch: publish event",
			slog.String("task_id", ev.TaskID),
			slog.String("event", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}
