// Package engine loads the heavyweight WebAssembly processing modules
// (media transcoder, PDF toolkit) and caches the initialized instances so
// repeated tool invocations do not pay the multi-megabyte compile cost again.
package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type Kind string

const (
	KindTranscoder Kind = "transcoder"
	KindPDF        Kind = "pdf"
)

var ErrUnknownKind = errors.New("unknown engine kind")

// Engine is an initialized processing module. Run feeds the input through the
// module and writes the transformed output; what happens inside is opaque.
type Engine interface {
	Run(ctx context.Context, stdin io.Reader, stdout io.Writer, args ...string) error
	Close(ctx context.Context) error
}

type Factory interface {
	New(ctx context.Context, kind Kind) (Engine, error)
}

type Status struct {
	Cached    bool
	ExpiresIn time.Duration
}

type entry struct {
	eng      Engine
	loadedAt time.Time
}

// Loader memoizes one initialized engine per kind. A cached instance older
// than the freshness window is reloaded instead of reused, and concurrent
// loads of the same kind are coalesced onto a single initialization.
type Loader struct {
	factory Factory
	window  time.Duration
	now     func() time.Time

	mu    sync.Mutex
	cache map[Kind]entry
	gen   uint64
	group singleflight.Group
}

const DefaultFreshnessWindow = 30 * time.Minute

func NewLoader(factory Factory, window time.Duration) *Loader {
	if window <= 0 {
		window = DefaultFreshnessWindow
	}

	return &Loader{
		factory: factory,
		window:  window,
		now:     time.Now,
		cache:   make(map[Kind]entry),
	}
}

// Load returns a ready engine for kind. Every caller that arrives while an
// initialization for the same kind is in flight gets the same outcome; a
// failed initialization caches nothing, so the next call retries.
func (l *Loader) Load(ctx context.Context, kind Kind) (Engine, error) {
	if eng, ok := l.cached(kind); ok {
		return eng, nil
	}

	v, err, _ := l.group.Do(string(kind), func() (any, error) {
		// A waiter queued behind a finished load may land here after the
		// cache was already populated.
		if eng, ok := l.cached(kind); ok {
			return eng, nil
		}

		l.mu.Lock()
		gen := l.gen
		l.mu.Unlock()

		eng, err := l.factory.New(ctx, kind)
		if err != nil {
			return nil, err
		}

		l.mu.Lock()
		// A clear issued while this initialization ran invalidates its
		// result for everyone but the waiters already coalesced onto it.
		if l.gen == gen {
			l.cache[kind] = entry{eng: eng, loadedAt: l.now()}
		}
		l.mu.Unlock()

		return eng, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(Engine), nil
}

// ClearCache drops all cached instances and in-flight bookkeeping. Running
// initializations are not cancelled, but their results are discarded: callers
// arriving after the clear start a fresh flight and initialize anew.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.gen++
	for kind := range l.cache {
		l.group.Forget(string(kind))
		delete(l.cache, kind)
	}
	for _, kind := range []Kind{KindTranscoder, KindPDF} {
		l.group.Forget(string(kind))
	}
}

// Status reports, per known kind, whether a fresh instance is cached and how
// long it stays fresh. Diagnostics only.
func (l *Loader) Status() map[Kind]Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[Kind]Status, 2)
	for _, kind := range []Kind{KindTranscoder, KindPDF} {
		e, ok := l.cache[kind]
		if !ok {
			out[kind] = Status{}
			continue
		}
		remaining := l.window - l.now().Sub(e.loadedAt)
		if remaining <= 0 {
			out[kind] = Status{}
			continue
		}
		out[kind] = Status{Cached: true, ExpiresIn: remaining}
	}

	return out
}

// Close releases every cached engine. Used on service shutdown.
func (l *Loader) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for kind, e := range l.cache {
		if err := e.eng.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(l.cache, kind)
	}

	return firstErr
}

func (l *Loader) cached(kind Kind) (Engine, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.cache[kind]
	if !ok {
		return nil, false
	}
	if l.now().Sub(e.loadedAt) >= l.window {
		// Stale instances must not be served; leave the reload to the
		// singleflight path.
		delete(l.cache, kind)
		return nil, false
	}

	return e.eng, true
}
