// Package reconcile connects the offline cache to the code that loads
// remote data: a uniform load protocol with cache fallback, and a trigger
// that force-reloads everything mounted when the connection comes back.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/offlinecache"
	"golang.org/x/sync/singleflight"
)

// ErrNoData means neither a live fetch nor the cache produced data.
var ErrNoData = errors.New("no live or cached data available")

// StatusSource reports connectivity; *connectivity.Monitor satisfies it.
type StatusSource interface {
	IsOnline() bool
}

// Fetcher loads live data from the backend.
type Fetcher[T any] func(ctx context.Context) (T, error)

// View is the data a Loader hands to its consumer.
type View[T any] struct {
	Data         T
	FromCache    bool
	IsStale      bool
	StoredAt     time.Time // zero for live data
	RelativeTime string    // age of cached data, e.g. "3 hours ago"
}

// Option configures a Loader or Trigger.
type Option func(*options)

type options struct {
	notifier    Notifier
	logger      *slog.Logger
	concurrency int
}

// WithNotifier sets where user-facing notices go. Defaults to a LogNotifier.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithConcurrency caps how many reloads a Trigger runs at once.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

func buildOptions(opts []Option) options {
	o := options{concurrency: 4}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.notifier == nil {
		o.notifier = LogNotifier{Logger: o.logger}
	}
	return o
}

// Loader loads one cache key with the offline fallback protocol:
// online, fetch live, cache it and return it; if offline or the fetch
// fails, serve the cached copy and raise a notice; with neither, fail.
//
// A Loader loads once and then serves its last view until forced.
// Every load gets a generation; a result never replaces the view of a
// newer load.
type Loader[T any] struct {
	cache    *offlinecache.Cache
	status   StatusSource
	key      string
	meta     offlinecache.Meta
	fetch    Fetcher[T]
	notifier Notifier
	logger   *slog.Logger
	group    singleflight.Group

	mu     sync.Mutex
	loaded bool
	view   View[T]
	gen    uint64 // last generation handed out
	shared uint64 // generation of the unforced flight in progress, 0 if none
	floor  uint64 // oldest generation whose result may still be installed
}

// NewLoader returns a Loader for key.
func NewLoader[T any](c *offlinecache.Cache, status StatusSource, key string, meta offlinecache.Meta, fetch Fetcher[T], opts ...Option) *Loader[T] {
	o := buildOptions(opts)
	return &Loader[T]{
		cache:    c,
		status:   status,
		key:      key,
		meta:     meta,
		fetch:    fetch,
		notifier: o.notifier,
		logger:   o.logger,
	}
}

// Load returns the loader's view, loading it on first use.
// force skips the loaded guard and always starts a new load with the
// caller's ctx, never joining one already in flight. Concurrent unforced
// calls share one load; each caller stops waiting when its own ctx ends.
func (l *Loader[T]) Load(ctx context.Context, force bool) (View[T], error) {
	l.mu.Lock()
	if l.loaded && !force {
		v := l.view
		l.mu.Unlock()
		return v, nil
	}
	if force {
		l.gen++
		gen := l.gen
		l.mu.Unlock()
		return l.load(ctx, gen)
	}
	if l.shared == 0 {
		l.gen++
		l.shared = l.gen
	}
	gen := l.shared
	l.mu.Unlock()

	ch := l.group.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		defer l.endShared(gen)
		return l.load(context.WithoutCancel(ctx), gen)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return View[T]{}, r.Err
		}
		return r.Val.(View[T]), nil //nolint:forcetypeassert // load only returns View[T]
	case <-ctx.Done():
		return View[T]{}, fmt.Errorf("load %s: %w", l.key, ctx.Err())
	}
}

// Reload forces a load, discarding the view.
func (l *Loader[T]) Reload(ctx context.Context) error {
	_, err := l.Load(ctx, true)
	return err
}

// Loaded reports whether a load has succeeded since creation or the last Reset.
func (l *Loader[T]) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

// Reset clears the loaded guard so the next Load runs. Loads already in
// flight finish for their callers but no longer install their view.
func (l *Loader[T]) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded = false
	l.view = View[T]{}
	l.floor = l.gen + 1
}

// Key returns the cache key this loader serves.
func (l *Loader[T]) Key() string { return l.key }

func (l *Loader[T]) endShared(gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shared == gen {
		l.shared = 0
	}
}

// superseded reports whether a newer load has already installed its view.
func (l *Loader[T]) superseded(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return gen < l.floor
}

func (l *Loader[T]) load(ctx context.Context, gen uint64) (View[T], error) {
	online := l.status.IsOnline()

	var fetchErr error
	if online {
		data, err := l.fetch(ctx)
		if err == nil {
			if l.superseded(gen) {
				l.logger.Debug("discarding superseded live fetch", "key", l.key)
			} else if serr := offlinecache.Set(ctx, l.cache, l.key, data, l.meta); serr != nil {
				l.logger.Debug("cache write skipped", "key", l.key, "error", serr)
			}
			v, _ := l.settle(View[T]{Data: data}, gen)
			return v, nil
		}
		fetchErr = err
		l.logger.Warn("live fetch failed, falling back to cache", "key", l.key, "error", err)
	}

	lr := offlinecache.LoadFromCache[T](ctx, l.cache, l.key)
	if lr.Data == nil {
		if fetchErr != nil {
			return View[T]{}, fmt.Errorf("load %s: %w", l.key, fetchErr)
		}
		return View[T]{}, fmt.Errorf("load %s: %w", l.key, ErrNoData)
	}

	v, current := l.settle(View[T]{
		Data:         *lr.Data,
		FromCache:    true,
		IsStale:      lr.IsStale,
		StoredAt:     *lr.Timestamp,
		RelativeTime: lr.RelativeTime,
	}, gen)
	if !current {
		return v, nil
	}
	switch {
	case !online:
		l.notifier.Notify(Notice{Kind: NoticeOffline, Key: l.key, RelativeTime: v.RelativeTime})
	case fetchErr != nil || v.IsStale:
		l.notifier.Notify(Notice{Kind: NoticeCachedData, Key: l.key, RelativeTime: v.RelativeTime, Err: fetchErr})
	}
	return v, nil
}

// settle installs v unless a newer load already did, in which case the
// newer view is returned and current is false.
func (l *Loader[T]) settle(v View[T], gen uint64) (_ View[T], current bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen < l.floor {
		if l.loaded {
			return l.view, false
		}
		return v, false
	}
	l.floor = gen
	l.loaded = true
	l.view = v
	return v, true
}
