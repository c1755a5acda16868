// Package workspace owns the lifecycle of the single file a user is
// currently working with: its buffer, its derived download URL, extracted
// metadata and a one-slot undo register holding the file it replaced.
package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNoPreviousFile = errors.New("no previous file to restore")

type FileStore interface {
	Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error)
	Delete(ctx context.Context, filename string) error
	PresignedURL(ctx context.Context, filename string, ttl time.Duration) (string, error)
}

// Upload is an incoming user file. Data is copied on admission, so the
// caller keeps ownership of its slice.
type Upload struct {
	Name         string
	MIME         string
	LastModified time.Time
	Data         []byte
}

// FileView is a read-only snapshot of the active file.
type FileView struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MIME         string    `json:"mime"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	Width        int       `json:"width,omitempty"`
	Height       int       `json:"height,omitempty"`
	DurationMs   int64     `json:"duration_ms,omitempty"`
	URL          string    `json:"url"`
}

type managedFile struct {
	id           string
	name         string
	mime         string
	size         int64
	lastModified time.Time
	meta         Metadata

	data       []byte
	storageKey string
	url        string
}

func (mf *managedFile) view() FileView {
	return FileView{
		ID:           mf.id,
		Name:         mf.name,
		MIME:         mf.mime,
		Size:         mf.size,
		LastModified: mf.lastModified,
		Width:        mf.meta.Width,
		Height:       mf.meta.Height,
		DurationMs:   mf.meta.Duration.Milliseconds(),
		URL:          mf.url,
	}
}

// Workspace is the single source of truth for the active file. At most one
// derived URL is live at any time; replacement releases the old file's
// resources strictly before the new state is installed.
type Workspace struct {
	files        FileStore
	prober       Prober
	urlTTL       time.Duration
	probeTimeout time.Duration

	mu       sync.Mutex
	active   *managedFile
	previous *managedFile
}

func New(files FileStore, prober Prober, urlTTL, probeTimeout time.Duration) *Workspace {
	if urlTTL <= 0 {
		urlTTL = 15 * time.Minute
	}
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}

	return &Workspace{
		files:        files,
		prober:       prober,
		urlTTL:       urlTTL,
		probeTimeout: probeTimeout,
	}
}

// SetActiveFile validates, admits and publishes a new active file. On a type
// mismatch nothing changes. On success the replaced file's derived URL is
// revoked and its descriptor parked in the one-slot previous register.
func (w *Workspace) SetActiveFile(ctx context.Context, up Upload, acceptedTypes []string) (FileView, error) {
	if len(up.Data) == 0 {
		return FileView{}, fmt.Errorf("empty file %q", up.Name)
	}
	if !matchesAccepted(up.Name, up.MIME, acceptedTypes) {
		return FileView{}, &ValidationError{Accepted: acceptedTypes, Name: up.Name, MIME: up.MIME}
	}

	meta := w.extractMetadata(ctx, up)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active != nil {
		w.releaseLocked(ctx, w.active)
		w.previous = w.active
		w.active = nil
	}

	mf := &managedFile{
		id:           uuid.NewString(),
		name:         filepath.Base(up.Name),
		mime:         up.MIME,
		size:         int64(len(up.Data)),
		lastModified: up.LastModified,
		meta:         meta,
		data:         bytes.Clone(up.Data),
	}

	if err := w.materializeLocked(ctx, mf); err != nil {
		// The old file was already released; it stays restorable from
		// the previous register, but the workspace has no active file.
		return FileView{}, err
	}

	w.active = mf
	return mf.view(), nil
}

// ClearActiveFile releases everything, including the previous register.
func (w *Workspace) ClearActiveFile(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active != nil {
		w.releaseLocked(ctx, w.active)
		w.active = nil
	}
	if w.previous != nil {
		w.releaseLocked(ctx, w.previous)
		w.previous = nil
	}
}

// RestorePrevious reinstates the replaced file as active. Only one restore is
// possible: the register is consumed, and restore-after-restore fails until a
// new replacement parks another file there.
func (w *Workspace) RestorePrevious(ctx context.Context) (FileView, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.previous == nil {
		return FileView{}, ErrNoPreviousFile
	}

	if w.active != nil {
		w.releaseLocked(ctx, w.active)
		w.active = nil
	}

	prev := w.previous
	w.previous = nil

	// Re-admission mints a fresh identifier; IDs are never reused.
	prev.id = uuid.NewString()

	if err := w.materializeLocked(ctx, prev); err != nil {
		return FileView{}, err
	}

	w.active = prev
	return prev.view(), nil
}

// CloneBuffer returns an independent copy of the active buffer, safe to hand
// to a worker without invalidating the workspace's own copy.
func (w *Workspace) CloneBuffer() ([]byte, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active == nil {
		return nil, false
	}
	return bytes.Clone(w.active.data), true
}

func (w *Workspace) Active() (FileView, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active == nil {
		return FileView{}, false
	}
	return w.active.view(), true
}

// Close releases all held resources. Used on provider teardown.
func (w *Workspace) Close(ctx context.Context) {
	w.ClearActiveFile(ctx)
}

func (w *Workspace) materializeLocked(ctx context.Context, mf *managedFile) error {
	key := fmt.Sprintf("workspace/%s/%s", mf.id, mf.name)

	if _, _, err := w.files.Save(ctx, bytes.NewReader(mf.data), key, mf.size); err != nil {
		return fmt.Errorf("store active file: %w", err)
	}

	url, err := w.files.PresignedURL(ctx, key, w.urlTTL)
	if err != nil {
		_ = w.files.Delete(ctx, key)
		return fmt.Errorf("derive file url: %w", err)
	}

	mf.storageKey = key
	mf.url = url
	return nil
}

func (w *Workspace) releaseLocked(ctx context.Context, mf *managedFile) {
	if mf.storageKey != "" {
		if err := w.files.Delete(ctx, mf.storageKey); err != nil {
			slog.Warn("workspace: release stored file",
				slog.String("key", mf.storageKey),
				slog.String("error", err.Error()),
			)
		}
	}
	mf.storageKey = ""
	mf.url = ""
}
