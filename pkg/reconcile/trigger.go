package reconcile

import (
	"context"
	"sync"

	"github.com/codeGROOVE-dev/offlinecache/pkg/connectivity"
	"golang.org/x/sync/errgroup"
)

// Reloader is anything a Trigger can force-reload; *Loader satisfies it.
type Reloader interface {
	Reload(ctx context.Context) error
}

// ReloaderFunc adapts a function to Reloader.
type ReloaderFunc func(ctx context.Context) error

// Reload implements Reloader.
func (f ReloaderFunc) Reload(ctx context.Context) error { return f(ctx) }

// Subscriber delivers connectivity changes; *connectivity.Monitor satisfies it.
type Subscriber interface {
	Subscribe(fn func(connectivity.Status)) *connectivity.Subscription
}

// Trigger force-reloads every mounted Reloader when connectivity goes from
// offline to online, so nothing keeps showing cached data after reconnecting.
type Trigger struct {
	monitor  Subscriber
	notifier Notifier
	opts     options
	spawn    func(func())

	mu      sync.Mutex
	mounted map[uint64]Reloader
	next    uint64
	sub     *connectivity.Subscription
	ctx     context.Context //nolint:containedctx // lifetime of reconnect reloads
	cancel  context.CancelFunc
	known   bool
	online  bool
}

// NewTrigger returns a stopped trigger listening to m.
func NewTrigger(m Subscriber, opts ...Option) *Trigger {
	o := buildOptions(opts)
	return &Trigger{
		monitor:  m,
		notifier: o.notifier,
		opts:     o,
		spawn:    func(f func()) { go f() },
		mounted:  make(map[uint64]Reloader),
	}
}

// Start subscribes to the monitor. The first status seen is the baseline.
func (t *Trigger) Start(ctx context.Context) {
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		return
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.mu.Unlock()

	sub := t.monitor.Subscribe(t.onStatus)

	t.mu.Lock()
	t.sub = sub
	t.mu.Unlock()
}

// Stop unsubscribes and cancels reloads in flight.
func (t *Trigger) Stop() {
	t.mu.Lock()
	sub := t.sub
	t.sub = nil
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.ctx = nil
	t.known = false
	t.mu.Unlock()

	sub.Unsubscribe()
}

// Mount registers r for reconnect reloads. The returned func unmounts it and,
// for loaders, clears their loaded guard.
func (t *Trigger) Mount(r Reloader) (unmount func()) {
	t.mu.Lock()
	id := t.next
	t.next++
	t.mounted[id] = r
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.mounted, id)
			t.mu.Unlock()
			if rs, ok := r.(interface{ Reset() }); ok {
				rs.Reset()
			}
		})
	}
}

// Mounted returns the number of mounted reloaders.
func (t *Trigger) Mounted() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.mounted)
}

// Reconcile force-reloads every mounted Reloader concurrently. Each failure
// raises a NoticeSyncFailed; the first error is returned.
func (t *Trigger) Reconcile(ctx context.Context) error {
	t.mu.Lock()
	rs := make([]Reloader, 0, len(t.mounted))
	for _, r := range t.mounted {
		rs = append(rs, r)
	}
	t.mu.Unlock()

	var g errgroup.Group
	if t.opts.concurrency > 0 {
		g.SetLimit(t.opts.concurrency)
	}
	for _, r := range rs {
		g.Go(func() error {
			if err := r.Reload(ctx); err != nil {
				n := Notice{Kind: NoticeSyncFailed, Err: err}
				if k, ok := r.(interface{ Key() string }); ok {
					n.Key = k.Key()
				}
				t.notifier.Notify(n)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func (t *Trigger) onStatus(st connectivity.Status) {
	t.mu.Lock()
	reconnected := t.known && !t.online && st.Online
	t.known, t.online = true, st.Online
	ctx := t.ctx
	n := len(t.mounted)
	t.mu.Unlock()

	if !reconnected || ctx == nil {
		return
	}
	t.opts.logger.Info("connection restored, reloading", "mounted", n)
	t.spawn(func() {
		if err := t.Reconcile(ctx); err != nil {
			t.opts.logger.Warn("reconnect reload failed", "error", err)
		}
	})
}
