package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Publish(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

type procFunc func(ctx context.Context, task Task, report func(int)) ([]byte, error)

func (f procFunc) Process(ctx context.Context, task Task, report func(int)) ([]byte, error) {
	return f(ctx, task, report)
}

func compressOptions() Options {
	return Options{Op: OpImageCompress, Image: &ImageOptions{Quality: 80}}
}

func imageRunner(proc Processor) *Runner {
	return NewRunner(map[Class]Processor{ClassImage: proc}, DefaultLimits(), nil)
}

func TestRunnerEmitsProgressThenDone(t *testing.T) {
	proc := procFunc(func(ctx context.Context, task Task, report func(int)) ([]byte, error) {
		report(10)
		report(60)
		return []byte("result"), nil
	})

	sink := &recordingSink{}
	ev := imageRunner(proc).Run(context.Background(), Task{
		ID:      "t1",
		Op:      OpImageCompress,
		Input:   []byte("data"),
		Options: compressOptions(),
	}, sink)

	if ev.Type != EventDone {
		t.Fatalf("terminal = %s, want done", ev.Type)
	}
	if string(ev.Result) != "result" {
		t.Errorf("Result = %q, want %q", ev.Result, "result")
	}
	if ev.Progress != 100 {
		t.Errorf("done Progress = %d, want 100", ev.Progress)
	}

	events := sink.all()
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Progress != 10 || events[1].Progress != 60 {
		t.Errorf("progress sequence = %d, %d, want 10, 60", events[0].Progress, events[1].Progress)
	}
	terminals := 0
	for _, e := range events {
		if e.Terminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("got %d terminal events, want exactly 1", terminals)
	}
	if !events[len(events)-1].Terminal() {
		t.Error("terminal event must be the last one published")
	}
}

func TestRunnerProgressMonotonicAndClamped(t *testing.T) {
	proc := procFunc(func(ctx context.Context, task Task, report func(int)) ([]byte, error) {
		report(30)
		report(20)  // regression, dropped
		report(30)  // duplicate, dropped
		report(-5)  // clamps to 0, below 30, dropped
		report(150) // clamps to 100
		return nil, nil
	})

	sink := &recordingSink{}
	imageRunner(proc).Run(context.Background(), Task{
		ID:      "t2",
		Op:      OpImageCompress,
		Input:   []byte("data"),
		Options: compressOptions(),
	}, sink)

	var progress []int
	for _, e := range sink.all() {
		if e.Type == EventProgress {
			progress = append(progress, e.Progress)
		}
	}

	want := []int{30, 100}
	if len(progress) != len(want) {
		t.Fatalf("progress events = %v, want %v", progress, want)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Fatalf("progress events = %v, want %v", progress, want)
		}
	}
}

func TestRunnerNoEventsAfterTerminal(t *testing.T) {
	var lateReport func(int)
	proc := procFunc(func(ctx context.Context, task Task, report func(int)) ([]byte, error) {
		lateReport = report
		return []byte("ok"), nil
	})

	sink := &recordingSink{}
	imageRunner(proc).Run(context.Background(), Task{
		ID:      "t3",
		Op:      OpImageCompress,
		Input:   []byte("data"),
		Options: compressOptions(),
	}, sink)

	before := len(sink.all())
	lateReport(99)
	if after := len(sink.all()); after != before {
		t.Errorf("event published after the terminal one: %d -> %d", before, after)
	}
}

func TestRunnerEnforcesSizeCeiling(t *testing.T) {
	called := false
	proc := procFunc(func(ctx context.Context, task Task, report func(int)) ([]byte, error) {
		called = true
		return nil, nil
	})

	runner := NewRunner(map[Class]Processor{ClassImage: proc}, Limits{Image: 8}, nil)

	sink := &recordingSink{}
	ev := runner.Run(context.Background(), Task{
		ID:      "t4",
		Op:      OpImageCompress,
		Input:   []byte("123456789"),
		Options: compressOptions(),
	}, sink)

	if ev.Type != EventError {
		t.Fatalf("terminal = %s, want error", ev.Type)
	}
	if !strings.Contains(ev.Message, "ceiling") {
		t.Errorf("Message = %q, want a ceiling violation", ev.Message)
	}
	if called {
		t.Error("processor must not run for an oversized input")
	}
	if events := sink.all(); len(events) != 1 {
		t.Errorf("got %d events, want only the terminal", len(events))
	}
}

func TestRunnerRejectsInvalidOptions(t *testing.T) {
	proc := procFunc(func(ctx context.Context, task Task, report func(int)) ([]byte, error) {
		t.Error("processor must not run for invalid options")
		return nil, nil
	})

	sink := &recordingSink{}
	ev := imageRunner(proc).Run(context.Background(), Task{
		ID:      "t5",
		Op:      OpKind("bogus.op"),
		Input:   []byte("data"),
		Options: Options{Op: OpKind("bogus.op")},
	}, sink)

	if ev.Type != EventError {
		t.Fatalf("terminal = %s, want error", ev.Type)
	}
}

func TestRunnerMissingProcessor(t *testing.T) {
	runner := NewRunner(map[Class]Processor{}, DefaultLimits(), nil)

	sink := &recordingSink{}
	ev := runner.Run(context.Background(), Task{
		ID:      "t6",
		Op:      OpImageCompress,
		Input:   []byte("data"),
		Options: compressOptions(),
	}, sink)

	if ev.Type != EventError {
		t.Fatalf("terminal = %s, want error", ev.Type)
	}
	if !strings.Contains(ev.Message, "no processor") {
		t.Errorf("Message = %q, want a missing-processor report", ev.Message)
	}
}

func TestRunnerCancellation(t *testing.T) {
	proc := procFunc(func(ctx context.Context, task Task, report func(int)) ([]byte, error) {
		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		case <-time.After(5 * time.Second):
			return nil, errors.New("cancellation never arrived")
		}
	})

	runner := imageRunner(proc)
	runner.cancelled = func(taskID string) bool { return true }
	runner.cancelPoll = time.Millisecond

	sink := &recordingSink{}
	ev := runner.Run(context.Background(), Task{
		ID:      "t7",
		Op:      OpImageCompress,
		Input:   []byte("data"),
		Options: compressOptions(),
	}, sink)

	if ev.Type != EventError {
		t.Fatalf("terminal = %s, want error", ev.Type)
	}
	if ev.Message != "task cancelled" {
		t.Errorf("Message = %q, want %q", ev.Message, "task cancelled")
	}
}

func TestRunnerProcessorError(t *testing.T) {
	proc := procFunc(func(ctx context.Context, task Task, report func(int)) ([]byte, error) {
		report(40)
		return nil, errors.New("decode failed")
	})

	sink := &recordingSink{}
	ev := imageRunner(proc).Run(context.Background(), Task{
		ID:      "t8",
		Op:      OpImageCompress,
		Input:   []byte("data"),
		Options: compressOptions(),
	}, sink)

	if ev.Type != EventError {
		t.Fatalf("terminal = %s, want error", ev.Type)
	}
	if ev.Message != "decode failed" {
		t.Errorf("Message = %q, want %q", ev.Message, "decode failed")
	}
}
