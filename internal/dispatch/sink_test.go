package dispatch

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/halodocs/workbench/internal/domain"
)

type fakeTaskStore struct {
	mu       sync.Mutex
	progress map[string]int
	status   map[string]domain.TaskStatus
	errMsg   map[string]string
	results  map[string]string
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{
		progress: make(map[string]int),
		status:   make(map[string]domain.TaskStatus),
		errMsg:   make(map[string]string),
		results:  make(map[string]string),
	}
}

func (s *fakeTaskStore) Task(id string) (domain.Task, bool) { return domain.Task{}, false }

func (s *fakeTaskStore) UpdateStatus(id string, newStatus domain.TaskStatus, errReason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[id] = newStatus
	s.errMsg[id] = errReason
}

func (s *fakeTaskStore) SetProgress(id string, progress int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[id] = progress
}

func (s *fakeTaskStore) SetResult(id string, resultFilename string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[id] = domain.StatusDone
	s.results[id] = resultFilename
}

func (s *fakeTaskStore) CancelRequested(id string) bool            { return false }
func (s *fakeTaskStore) ExpiredTasks(now time.Time) []string       { return nil }
func (s *fakeTaskStore) DeleteExpired(time.Time, time.Duration) int { return 0 }

type fakeFileStore struct {
	mu      sync.Mutex
	saved   map[string][]byte
	saveErr error
}

func newFakeFileStore() *fakeFileStore {
	return &fakeFileStore{saved: make(map[string][]byte)}
}

func (f *fakeFileStore) Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return 0, "", f.saveErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return 0, "", err
	}
	f.saved[filename] = data
	return int64(len(data)), "fakehash", nil
}

func (f *fakeFileStore) Open(ctx context.Context, filename string) (io.ReadCloser, int64, error) {
	return nil, 0, errors.New("not implemented")
}

func (f *fakeFileStore) Delete(ctx context.Context, filename string) error { return nil }

func (f *fakeFileStore) CleanupOlderThan(ctx context.Context, maxAge time.Duration) error {
	return nil
}

func TestStoreSinkProgress(t *testing.T) {
	tasks := newFakeTaskStore()
	sink := NewStoreSink(tasks, newFakeFileStore(), "results/out.pdf")

	if err := sink.Publish(context.Background(), Event{TaskID: "t1", Type: EventProgress, Progress: 42}); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	if got := tasks.progress["t1"]; got != 42 {
		t.Errorf("progress = %d, want 42", got)
	}
}

func TestStoreSinkDone(t *testing.T) {
	tasks := newFakeTaskStore()
	files := newFakeFileStore()
	sink := NewStoreSink(tasks, files, "results/out.pdf")

	err := sink.Publish(context.Background(), Event{
		TaskID: "t1", Type: EventDone, Progress: 100, Result: []byte("merged pdf"),
	})
	if err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	if string(files.saved["results/out.pdf"]) != "merged pdf" {
		t.Error("result bytes were not persisted")
	}
	if tasks.status["t1"] != domain.StatusDone {
		t.Errorf("status = %s, want done", tasks.status["t1"])
	}
	if tasks.results["t1"] != "results/out.pdf" {
		t.Errorf("result filename = %q", tasks.results["t1"])
	}
}

func TestStoreSinkDoneSaveFailure(t *testing.T) {
	tasks := newFakeTaskStore()
	files := newFakeFileStore()
	files.saveErr = errors.New("disk full")
	sink := NewStoreSink(tasks, files, "results/out.pdf")

	err := sink.Publish(context.Background(), Event{
		TaskID: "t1", Type: EventDone, Result: []byte("data"),
	})
	if err == nil {
		t.Fatal("expected a save error")
	}

	if tasks.status["t1"] != domain.StatusFailed {
		t.Errorf("status = %s, want failed", tasks.status["t1"])
	}
}

func TestStoreSinkError(t *testing.T) {
	tasks := newFakeTaskStore()
	sink := NewStoreSink(tasks, newFakeFileStore(), "results/out.pdf")

	if err := sink.Publish(context.Background(), Event{
		TaskID: "t1", Type: EventError, Message: "decode failed",
	}); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	if tasks.status["t1"] != domain.StatusFailed {
		t.Errorf("status = %s, want failed", tasks.status["t1"])
	}
	if tasks.errMsg["t1"] != "decode failed" {
		t.Errorf("error reason = %q", tasks.errMsg["t1"])
	}
}
