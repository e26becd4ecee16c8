package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/offlinecache"
	"github.com/codeGROOVE-dev/offlinecache/pkg/connectivity"
	"github.com/codeGROOVE-dev/offlinecache/pkg/store/memory"
)

var discard = slog.New(slog.DiscardHandler)

// stubMonitor is a StatusSource and Subscriber flipped by hand.
type stubMonitor struct {
	mu     sync.Mutex
	online bool
	fns    []func(connectivity.Status)
}

func (s *stubMonitor) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *stubMonitor) Subscribe(fn func(connectivity.Status)) *connectivity.Subscription {
	s.mu.Lock()
	s.fns = append(s.fns, fn)
	online := s.online
	s.mu.Unlock()
	fn(connectivity.Status{Online: online})
	return nil
}

func (s *stubMonitor) set(online bool) {
	s.mu.Lock()
	s.online = online
	fns := slices.Clone(s.fns)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(connectivity.Status{Online: online})
	}
}

type noticeLog struct {
	mu  sync.Mutex
	got []Notice
}

func (n *noticeLog) Notify(x Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, x)
}

func (n *noticeLog) all() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.got)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newCache(t *testing.T) (*offlinecache.Cache, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)}
	c, err := offlinecache.New(context.Background(), memory.New(),
		offlinecache.WithClock(clk.Now), offlinecache.WithLogger(discard))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, clk
}

// countingFetcher returns value and counts calls; err, when set, is returned instead.
type countingFetcher struct {
	calls atomic.Int32
	value []string
	err   atomic.Pointer[error]
}

func (f *countingFetcher) fetch(context.Context) ([]string, error) {
	f.calls.Add(1)
	if e := f.err.Load(); e != nil {
		return nil, *e
	}
	return f.value, nil
}

func (f *countingFetcher) fail(err error) { f.err.Store(&err) }

var errBackend = errors.New("backend down")

func newLoader(c *offlinecache.Cache, status StatusSource, f *countingFetcher, n Notifier) *Loader[[]string] {
	return NewLoader(c, status, "reservations:u1",
		offlinecache.Meta{DataType: "reservations", OwnerID: "u1"},
		f.fetch, WithNotifier(n), WithLogger(discard))
}

func TestLoader_OnlineFetchesAndCaches(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()
	f := &countingFetcher{value: []string{"A-12"}}
	l := newLoader(c, &stubMonitor{online: true}, f, &noticeLog{})

	v, err := l.Load(ctx, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v.FromCache || !slices.Equal(v.Data, []string{"A-12"}) {
		t.Errorf("view = %+v; want live [A-12]", v)
	}
	if got, ok := offlinecache.Get[[]string](ctx, c, "reservations:u1").Value(); !ok || got[0] != "A-12" {
		t.Errorf("cache = %v, %v; want live data written through", got, ok)
	}
}

func TestLoader_GuardAndForce(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()
	f := &countingFetcher{value: []string{"A-12"}}
	l := newLoader(c, &stubMonitor{online: true}, f, &noticeLog{})

	l.Load(ctx, false) //nolint:errcheck // counted below
	l.Load(ctx, false) //nolint:errcheck // counted below
	if got := f.calls.Load(); got != 1 {
		t.Errorf("fetches = %d; want 1 (guarded)", got)
	}
	if !l.Loaded() {
		t.Error("Loaded should be true after a successful load")
	}
	if err := l.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := f.calls.Load(); got != 2 {
		t.Errorf("fetches = %d; want 2 (force bypasses guard)", got)
	}

	l.Reset()
	l.Load(ctx, false) //nolint:errcheck // counted below
	if got := f.calls.Load(); got != 3 {
		t.Errorf("fetches after Reset = %d; want 3", got)
	}
}

func TestLoader_OfflineServesCacheWithNotice(t *testing.T) {
	c, clk := newCache(t)
	ctx := context.Background()
	mon := &stubMonitor{online: true}
	f := &countingFetcher{value: []string{"A-12", "B-03"}}

	if _, err := newLoader(c, mon, f, &noticeLog{}).Load(ctx, false); err != nil {
		t.Fatalf("seed Load: %v", err)
	}

	mon.set(false)
	clk.Advance(3 * time.Hour)
	notes := &noticeLog{}
	v, err := newLoader(c, mon, f, notes).Load(ctx, false)
	if err != nil {
		t.Fatalf("offline Load: %v", err)
	}
	if !v.FromCache || v.IsStale || !slices.Equal(v.Data, []string{"A-12", "B-03"}) {
		t.Errorf("view = %+v; want fresh cached data", v)
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("fetches = %d; offline load must not fetch", got)
	}
	got := notes.all()
	if len(got) != 1 || got[0].Kind != NoticeOffline || got[0].RelativeTime != "3 hours ago" {
		t.Errorf("notices = %+v; want one offline notice from 3 hours ago", got)
	}
}

func TestLoader_FetchFailureFallsBackToStaleCache(t *testing.T) {
	c, clk := newCache(t)
	ctx := context.Background()
	mon := &stubMonitor{online: true}
	f := &countingFetcher{value: []string{"A-12"}}
	newLoader(c, mon, f, &noticeLog{}).Load(ctx, false) //nolint:errcheck // seed

	clk.Advance(25 * time.Hour)
	f.fail(errBackend)
	notes := &noticeLog{}
	v, err := newLoader(c, mon, f, notes).Load(ctx, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !v.FromCache || !v.IsStale {
		t.Errorf("view = %+v; want stale cached data", v)
	}
	got := notes.all()
	if len(got) != 1 || got[0].Kind != NoticeCachedData || !errors.Is(got[0].Err, errBackend) {
		t.Errorf("notices = %+v; want one cached-data notice carrying the fetch error", got)
	}
}

func TestLoader_NoData(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	offline := newLoader(c, &stubMonitor{}, &countingFetcher{}, &noticeLog{})
	if _, err := offline.Load(ctx, false); !errors.Is(err, ErrNoData) {
		t.Errorf("offline Load with empty cache = %v; want ErrNoData", err)
	}
	if offline.Loaded() {
		t.Error("failed load must not set the guard")
	}

	f := &countingFetcher{}
	f.fail(errBackend)
	online := newLoader(c, &stubMonitor{online: true}, f, &noticeLog{})
	if _, err := online.Load(ctx, false); !errors.Is(err, errBackend) {
		t.Errorf("Load = %v; want the fetch error", err)
	}
}

// hangingFetch blocks its first call until gate closes, then fails it with
// firstErr; later calls return live immediately.
func hangingFetch(started, gate chan struct{}, calls *atomic.Int32, firstErr error, live []string) Fetcher[[]string] {
	return func(ctx context.Context) ([]string, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-gate
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, firstErr
		}
		return live, nil
	}
}

func TestLoader_ForceDoesNotJoinHungLoad(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()
	offlinecache.Set(ctx, c, "spots:u1", []string{"cached"}, offlinecache.Meta{}) //nolint:errcheck // seed

	started, gate := make(chan struct{}), make(chan struct{})
	var calls atomic.Int32
	notes := &noticeLog{}
	l := NewLoader(c, &stubMonitor{online: true}, "spots:u1", offlinecache.Meta{},
		hangingFetch(started, gate, &calls, errBackend, []string{"live"}),
		WithNotifier(notes), WithLogger(discard))

	hung := make(chan View[[]string], 1)
	go func() {
		v, _ := l.Load(ctx, true) //nolint:errcheck // view checked below
		hung <- v
	}()
	<-started

	v, err := l.Load(ctx, true)
	if err != nil {
		t.Fatalf("forced Load: %v", err)
	}
	if v.FromCache || !slices.Equal(v.Data, []string{"live"}) {
		t.Errorf("forced view = %+v; want its own live fetch", v)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("fetches = %d; want 2", got)
	}

	close(gate)
	if old := <-hung; !slices.Equal(old.Data, []string{"live"}) {
		t.Errorf("superseded load returned %v; want the newer live view", old.Data)
	}
	if v, _ := l.Load(ctx, false); v.FromCache || !slices.Equal(v.Data, []string{"live"}) { //nolint:errcheck // guarded
		t.Errorf("view after both loads = %+v; want live data kept", v)
	}
	if got := notes.all(); len(got) != 0 {
		t.Errorf("notices = %+v; a superseded fallback must stay silent", got)
	}
}

func TestLoader_CanceledCallerDoesNotFailJoiners(t *testing.T) {
	c, _ := newCache(t)
	started, gate := make(chan struct{}), make(chan struct{})
	fetch := func(ctx context.Context) ([]string, error) {
		close(started)
		<-gate
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []string{"live"}, nil
	}
	l := NewLoader(c, &stubMonitor{online: true}, "spots:u1", offlinecache.Meta{}, fetch, WithLogger(discard))

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := l.Load(first, false)
		firstErr <- err
	}()
	<-started

	second := make(chan View[[]string], 1)
	go func() {
		v, _ := l.Load(context.Background(), false) //nolint:errcheck // view checked below
		second <- v
	}()

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("canceled caller got %v; want context.Canceled", err)
	}
	close(gate)
	if v := <-second; !slices.Equal(v.Data, []string{"live"}) {
		t.Errorf("joined caller got %+v; want the live view", v)
	}
}

func TestTrigger_ReconnectOverlapsHungLoad(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()
	offlinecache.Set(ctx, c, "spots:u1", []string{"cached"}, offlinecache.Meta{}) //nolint:errcheck // seed
	mon := &stubMonitor{online: true}

	started, gate := make(chan struct{}), make(chan struct{})
	var calls atomic.Int32
	l := NewLoader(c, mon, "spots:u1", offlinecache.Meta{},
		hangingFetch(started, gate, &calls, errBackend, []string{"live"}), WithLogger(discard))

	notes := &noticeLog{}
	tr := NewTrigger(mon, WithNotifier(notes), WithLogger(discard))
	tr.spawn = func(f func()) { f() }
	tr.Mount(l)
	tr.Start(ctx)
	defer tr.Stop()

	hung := make(chan struct{})
	go func() {
		l.Load(ctx, false) //nolint:errcheck // outcome checked through the view
		close(hung)
	}()
	<-started

	mon.set(false)
	mon.set(true)
	if got := calls.Load(); got != 2 {
		t.Fatalf("fetches = %d; reconnect must fetch again instead of joining the hung load", got)
	}

	close(gate)
	<-hung
	v, err := l.Load(ctx, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v.FromCache || !slices.Equal(v.Data, []string{"live"}) {
		t.Errorf("view = %+v; the hung load must not replace the reconnect's live data", v)
	}
	if got := notes.all(); len(got) != 0 {
		t.Errorf("notices = %+v; want none", got)
	}
}

func TestTrigger_ReconnectForceReloadsLoaders(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()
	mon := &stubMonitor{online: true}

	fa := &countingFetcher{value: []string{"A"}}
	fb := &countingFetcher{value: []string{"B"}}
	la := NewLoader(c, mon, "a", offlinecache.Meta{}, fa.fetch, WithLogger(discard))
	lb := NewLoader(c, mon, "b", offlinecache.Meta{}, fb.fetch, WithLogger(discard))
	la.Load(ctx, false) //nolint:errcheck // sets guard
	lb.Load(ctx, false) //nolint:errcheck // sets guard

	tr := NewTrigger(mon, WithLogger(discard))
	tr.spawn = func(f func()) { f() }
	tr.Mount(la)
	tr.Mount(lb)
	tr.Start(ctx)
	defer tr.Stop()

	mon.set(true) // online -> online: nothing to reconcile
	if fa.calls.Load() != 1 || fb.calls.Load() != 1 {
		t.Fatal("no reload expected without an offline period")
	}

	mon.set(false)
	mon.set(true)
	if fa.calls.Load() != 2 || fb.calls.Load() != 2 {
		t.Errorf("fetches = %d, %d; want 2, 2 after reconnect", fa.calls.Load(), fb.calls.Load())
	}
	if !la.Loaded() || !lb.Loaded() {
		t.Error("loaders should stay loaded after the forced reload")
	}
}

func TestTrigger_BaselineOffline(t *testing.T) {
	mon := &stubMonitor{}
	var reloads atomic.Int32
	tr := NewTrigger(mon, WithLogger(discard))
	tr.spawn = func(f func()) { f() }
	tr.Mount(ReloaderFunc(func(context.Context) error { reloads.Add(1); return nil }))
	tr.Start(context.Background())
	defer tr.Stop()

	mon.set(true)
	if got := reloads.Load(); got != 1 {
		t.Errorf("reloads = %d; want 1", got)
	}
}

func TestTrigger_SyncFailedNotice(t *testing.T) {
	c, _ := newCache(t)
	mon := &stubMonitor{}
	notes := &noticeLog{}
	f := &countingFetcher{}
	f.fail(errBackend)
	l := NewLoader(c, mon, "spots:u1", offlinecache.Meta{}, f.fetch, WithLogger(discard))

	tr := NewTrigger(mon, WithNotifier(notes), WithLogger(discard))
	tr.Mount(l)
	mon.set(true)

	if err := tr.Reconcile(context.Background()); !errors.Is(err, errBackend) {
		t.Errorf("Reconcile = %v; want the fetch error", err)
	}
	got := notes.all()
	if len(got) != 1 || got[0].Kind != NoticeSyncFailed || got[0].Key != "spots:u1" {
		t.Errorf("notices = %+v; want one sync-failed notice for spots:u1", got)
	}
}

func TestTrigger_UnmountAndStop(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()
	mon := &stubMonitor{online: true}
	f := &countingFetcher{value: []string{"A"}}
	l := NewLoader(c, mon, "a", offlinecache.Meta{}, f.fetch, WithLogger(discard))
	l.Load(ctx, false) //nolint:errcheck // sets guard

	tr := NewTrigger(mon, WithLogger(discard))
	tr.spawn = func(f func()) { f() }
	unmount := tr.Mount(l)
	tr.Start(ctx)

	unmount()
	unmount()
	if tr.Mounted() != 0 {
		t.Errorf("Mounted = %d; want 0", tr.Mounted())
	}
	if l.Loaded() {
		t.Error("unmount should clear the loader's guard")
	}

	tr.Mount(l)
	tr.Stop()
	mon.set(false)
	mon.set(true)
	if got := f.calls.Load(); got != 1 {
		t.Errorf("fetches = %d; stopped trigger must not reload", got)
	}
}

func TestTrigger_WithMonitor(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	prober := connectivity.ProberFunc(func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errBackend
	})
	m := connectivity.New(prober,
		connectivity.WithFailureThreshold(1),
		connectivity.WithProbeInterval(0),
		connectivity.WithLogger(discard))
	ctx := context.Background()
	m.Start(ctx)
	defer m.Stop()

	reloaded := make(chan struct{}, 1)
	tr := NewTrigger(m, WithLogger(discard))
	tr.Mount(ReloaderFunc(func(context.Context) error {
		reloaded <- struct{}{}
		return nil
	}))
	tr.Start(ctx)
	defer tr.Stop()

	healthy.Store(false)
	m.Check(ctx) //nolint:errcheck // failure expected
	if m.IsOnline() {
		t.Fatal("monitor should be offline after a failed probe")
	}
	healthy.Store(true)
	m.Check(ctx) //nolint:errcheck // success expected

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect did not trigger a reload")
	}
}

func TestMutate_OfflineRejected(t *testing.T) {
	notes := &noticeLog{}
	called := false
	err := Mutate(context.Background(), &stubMonitor{}, notes, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, connectivity.ErrRequiresConnection) {
		t.Errorf("Mutate = %v; want ErrRequiresConnection", err)
	}
	if called {
		t.Error("mutation must not run offline")
	}
	if got := notes.all(); len(got) != 1 || got[0].Kind != NoticeRequiresConnection {
		t.Errorf("notices = %+v; want one requires-connection notice", got)
	}
}

func TestMutator_InvalidatesAfterSuccess(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()
	offlinecache.Set(ctx, c, "blocked:2024-03-04", []string{"A-1"}, offlinecache.Meta{}) //nolint:errcheck // seed

	m := Mutator{Status: &stubMonitor{online: true}, Notifier: &noticeLog{}, Cache: c}
	if err := m.Do(ctx, func(context.Context) error { return nil }, "blocked:2024-03-04"); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if r := offlinecache.Get[[]string](ctx, c, "blocked:2024-03-04"); r.Outcome != offlinecache.Miss {
		t.Errorf("outcome = %v; want miss after invalidation", r.Outcome)
	}

	offlinecache.Set(ctx, c, "blocked:2024-03-04", []string{"A-1"}, offlinecache.Meta{}) //nolint:errcheck // seed
	err := m.Do(ctx, func(context.Context) error { return errBackend }, "blocked:2024-03-04")
	if !errors.Is(err, errBackend) {
		t.Errorf("Do = %v; want the mutation error", err)
	}
	if _, ok := offlinecache.Get[[]string](ctx, c, "blocked:2024-03-04").Value(); !ok {
		t.Error("failed mutation must not invalidate")
	}
}

func TestNotice_Message(t *testing.T) {
	tests := []struct {
		n    Notice
		want string
	}{
		{Notice{Kind: NoticeCachedData, RelativeTime: "2 hours ago"}, "Showing cached data from 2 hours ago"},
		{Notice{Kind: NoticeOffline, RelativeTime: "now"}, "You are offline. Showing data from now"},
		{Notice{Kind: NoticeSyncFailed}, "Could not refresh data after reconnecting"},
		{Notice{Kind: NoticeRequiresConnection}, "This action requires a connection"},
	}
	for _, tt := range tests {
		if got := tt.n.Message(); got != tt.want {
			t.Errorf("%v.Message() = %q; want %q", tt.n.Kind, got, tt.want)
		}
	}
}
