package workspace

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// fakeFiles tracks which stored objects are live, so tests can assert that at
// most one derived URL exists at any time.
type fakeFiles struct {
	mu      sync.Mutex
	live    map[string][]byte
	saves   int
	deletes int
	saveErr error
	urlErr  error
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{live: make(map[string][]byte)}
}

func (f *fakeFiles) Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return 0, "", f.saveErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return 0, "", err
	}
	f.live[filename] = data
	f.saves++
	return int64(len(data)), "fakehash", nil
}

func (f *fakeFiles) Delete(ctx context.Context, filename string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, filename)
	f.deletes++
	return nil
}

func (f *fakeFiles) PresignedURL(ctx context.Context, filename string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.urlErr != nil {
		return "", f.urlErr
	}
	if _, ok := f.live[filename]; !ok {
		return "", errors.New("object not stored")
	}
	return "https://files.test/" + filename, nil
}

func (f *fakeFiles) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

func upload(name string, data string) Upload {
	return Upload{
		Name:         name,
		MIME:         "application/octet-stream",
		LastModified: time.Now(),
		Data:         []byte(data),
	}
}

func TestSetActiveFile(t *testing.T) {
	files := newFakeFiles()
	w := New(files, nil, time.Minute, time.Second)
	ctx := context.Background()

	view, err := w.SetActiveFile(ctx, upload("report.pdf", "pdfdata"), nil)
	if err != nil {
		t.Fatalf("SetActiveFile error: %v", err)
	}

	if view.ID == "" {
		t.Error("expected a generated file ID")
	}
	if view.Name != "report.pdf" {
		t.Errorf("Name = %q, want %q", view.Name, "report.pdf")
	}
	if view.Size != int64(len("pdfdata")) {
		t.Errorf("Size = %d, want %d", view.Size, len("pdfdata"))
	}
	if view.URL == "" {
		t.Error("expected a derived URL")
	}
	if files.liveCount() != 1 {
		t.Errorf("live objects = %d, want 1", files.liveCount())
	}
}

func TestSetActiveFileRejectsEmpty(t *testing.T) {
	w := New(newFakeFiles(), nil, time.Minute, time.Second)

	if _, err := w.SetActiveFile(context.Background(), upload("empty.bin", ""), nil); err == nil {
		t.Fatal("expected an error for an empty file")
	}
}

func TestReplacementKeepsOneLiveURL(t *testing.T) {
	files := newFakeFiles()
	w := New(files, nil, time.Minute, time.Second)
	ctx := context.Background()

	var lastID string
	for _, name := range []string{"a.bin", "b.bin", "c.bin", "d.bin"} {
		view, err := w.SetActiveFile(ctx, upload(name, "data-"+name), nil)
		if err != nil {
			t.Fatalf("SetActiveFile(%s) error: %v", name, err)
		}
		if view.ID == lastID {
			t.Error("replacement must mint a fresh ID")
		}
		lastID = view.ID

		if got := files.liveCount(); got != 1 {
			t.Fatalf("after %s: live objects = %d, want 1", name, got)
		}
	}
}

func TestValidationFailureLeavesStateUnchanged(t *testing.T) {
	files := newFakeFiles()
	w := New(files, nil, time.Minute, time.Second)
	ctx := context.Background()

	first, err := w.SetActiveFile(ctx, upload("keep.bin", "keep"), nil)
	if err != nil {
		t.Fatalf("SetActiveFile error: %v", err)
	}

	rejected := Upload{
		Name: "nope.txt", MIME: "text/plain",
		LastModified: time.Now(), Data: []byte("x"),
	}
	_, err = w.SetActiveFile(ctx, rejected, []string{"image/*", ".pdf"})

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error = %v, want a ValidationError", err)
	}

	active, ok := w.Active()
	if !ok || active.ID != first.ID {
		t.Error("a rejected upload must not disturb the active file")
	}
	if _, err := w.RestorePrevious(ctx); !errors.Is(err, ErrNoPreviousFile) {
		t.Error("a rejected upload must not park anything in the previous register")
	}
}

func TestRestorePrevious(t *testing.T) {
	files := newFakeFiles()
	w := New(files, nil, time.Minute, time.Second)
	ctx := context.Background()

	first, err := w.SetActiveFile(ctx, upload("first.bin", "one"), nil)
	if err != nil {
		t.Fatalf("SetActiveFile error: %v", err)
	}
	if _, err := w.SetActiveFile(ctx, upload("second.bin", "two"), nil); err != nil {
		t.Fatalf("SetActiveFile error: %v", err)
	}

	restored, err := w.RestorePrevious(ctx)
	if err != nil {
		t.Fatalf("RestorePrevious error: %v", err)
	}

	if restored.Name != "first.bin" {
		t.Errorf("restored Name = %q, want %q", restored.Name, "first.bin")
	}
	if restored.ID == first.ID {
		t.Error("restore must mint a fresh ID")
	}
	if got := files.liveCount(); got != 1 {
		t.Errorf("live objects = %d, want 1", got)
	}

	buf, ok := w.CloneBuffer()
	if !ok || string(buf) != "one" {
		t.Errorf("restored buffer = %q, want %q", buf, "one")
	}

	// The register is consumed; a second restore has nothing to reinstate.
	if _, err := w.RestorePrevious(ctx); !errors.Is(err, ErrNoPreviousFile) {
		t.Errorf("second restore error = %v, want ErrNoPreviousFile", err)
	}
}

func TestRestoreWithoutPrevious(t *testing.T) {
	w := New(newFakeFiles(), nil, time.Minute, time.Second)

	if _, err := w.RestorePrevious(context.Background()); !errors.Is(err, ErrNoPreviousFile) {
		t.Fatalf("error = %v, want ErrNoPreviousFile", err)
	}
}

func TestClearActiveFile(t *testing.T) {
	files := newFakeFiles()
	w := New(files, nil, time.Minute, time.Second)
	ctx := context.Background()

	w.SetActiveFile(ctx, upload("a.bin", "one"), nil)
	w.SetActiveFile(ctx, upload("b.bin", "two"), nil)

	w.ClearActiveFile(ctx)

	if _, ok := w.Active(); ok {
		t.Error("active file must be gone after clear")
	}
	if _, err := w.RestorePrevious(ctx); !errors.Is(err, ErrNoPreviousFile) {
		t.Error("previous register must be gone after clear")
	}
	if got := files.liveCount(); got != 0 {
		t.Errorf("live objects = %d, want 0", got)
	}
}

func TestCloneBufferIsIndependent(t *testing.T) {
	w := New(newFakeFiles(), nil, time.Minute, time.Second)
	ctx := context.Background()

	w.SetActiveFile(ctx, upload("a.bin", "original"), nil)

	buf, ok := w.CloneBuffer()
	if !ok {
		t.Fatal("expected an active buffer")
	}
	for i := range buf {
		buf[i] = 'x'
	}

	again, _ := w.CloneBuffer()
	if string(again) != "original" {
		t.Errorf("workspace buffer corrupted by a caller: %q", again)
	}
}

func TestUploadDataIsCopied(t *testing.T) {
	w := New(newFakeFiles(), nil, time.Minute, time.Second)
	ctx := context.Background()

	data := []byte("caller-owned")
	w.SetActiveFile(ctx, Upload{
		Name: "a.bin", MIME: "application/octet-stream",
		LastModified: time.Now(), Data: data,
	}, nil)

	data[0] = 'X'

	buf, _ := w.CloneBuffer()
	if string(buf) != "caller-owned" {
		t.Errorf("workspace buffer aliases the caller's slice: %q", buf)
	}
}

func TestMaterializeFailureLeavesNoActiveFile(t *testing.T) {
	files := newFakeFiles()
	w := New(files, nil, time.Minute, time.Second)
	ctx := context.Background()

	files.saveErr = errors.New("storage down")
	if _, err := w.SetActiveFile(ctx, upload("a.bin", "one"), nil); err == nil {
		t.Fatal("expected a storage error")
	}
	if _, ok := w.Active(); ok {
		t.Error("no active file should be installed after a failed save")
	}
}

func TestPresignFailureReleasesStoredObject(t *testing.T) {
	files := newFakeFiles()
	w := New(files, nil, time.Minute, time.Second)
	ctx := context.Background()

	files.urlErr = errors.New("presign down")
	if _, err := w.SetActiveFile(ctx, upload("a.bin", "one"), nil); err == nil {
		t.Fatal("expected a presign error")
	}
	if got := files.liveCount(); got != 0 {
		t.Errorf("live objects = %d, want 0 after a failed presign", got)
	}
}
