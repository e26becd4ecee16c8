// Package connectivity decides whether the application is online.
//
// The platform's own online flag is treated as a hint. Offline signals are
// debounced so brief flaps stay silent, and going back online requires a
// successful reachability probe. Repeated probe failures force the offline
// state even when the platform still claims to be connected.
package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultDebounce is how long an offline signal must persist before it is reported.
	DefaultDebounce = 5 * time.Second

	// DefaultProbeTimeout bounds a single reachability probe.
	DefaultProbeTimeout = 5 * time.Second

	// DefaultProbeInterval is the period of background probes.
	DefaultProbeInterval = 30 * time.Second

	// DefaultFailureThreshold is the number of consecutive probe failures that forces offline.
	DefaultFailureThreshold = 3
)

var (
	// ErrRequiresConnection is returned for actions that cannot run offline.
	ErrRequiresConnection = errors.New("this action requires a connection")

	// ErrProbeBusy means a probe slot could not be obtained before the context ended.
	ErrProbeBusy = errors.New("connectivity probe already in flight")
)

// State is the monitor's internal connectivity state.
type State int

const (
	StateOnline State = iota
	StatePendingOffline
	StateOffline
)

func (s State) String() string {
	switch s {
	case StateOnline:
		return "online"
	case StatePendingOffline:
		return "pending_offline"
	default:
		return "offline"
	}
}

// Status is the externally visible connectivity state.
// PendingOffline still reports Online.
type Status struct {
	Online              bool
	State               State
	ConsecutiveFailures int
	LastCheckedAt       time.Time // zero until the first probe completes
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithSource sets the platform signal source. Defaults to an online ManualSource.
func WithSource(s Source) Option {
	return func(m *Monitor) { m.source = s }
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithDebounce sets how long an offline signal must persist.
func WithDebounce(d time.Duration) Option {
	return func(m *Monitor) { m.debounce = d }
}

// WithProbeTimeout bounds each probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.probeTimeout = d }
}

// WithProbeInterval sets the background probe period; 0 disables background probes.
func WithProbeInterval(d time.Duration) Option {
	return func(m *Monitor) { m.probeInterval = d }
}

// WithFailureThreshold sets how many consecutive failures force offline.
func WithFailureThreshold(n int) Option {
	return func(m *Monitor) { m.threshold = n }
}

// Monitor tracks connectivity and notifies subscribers of online/offline changes.
// Create one per application and share it; it holds a single source listener
// and at most one debounce timer however many subscribers there are.
type Monitor struct {
	source        Source
	prober        Prober
	clock         Clock
	logger        *slog.Logger
	debounce      time.Duration
	probeTimeout  time.Duration
	probeInterval time.Duration
	threshold     int

	probeSlot chan struct{}
	spawn     func(func())

	mu            sync.Mutex
	running       bool
	ctx           context.Context //nolint:containedctx // lifetime of background probes
	cancel        context.CancelFunc
	state         State
	failures      int
	lastChecked   time.Time
	debounceTimer Timer
	debounceGen   uint64
	intervalTimer Timer
	unwatch       func()
	subs          map[uint64]*Subscription
	nextSub       uint64
	reported      bool // Online value subscribers last saw
	seq           uint64

	deliverMu sync.Mutex
	delivered uint64
}

// New returns a stopped monitor that confirms reachability with p.
func New(p Prober, opts ...Option) *Monitor {
	m := &Monitor{
		source:        NewManualSource(true),
		prober:        p,
		clock:         realClock{},
		logger:        slog.Default(),
		debounce:      DefaultDebounce,
		probeTimeout:  DefaultProbeTimeout,
		probeInterval: DefaultProbeInterval,
		threshold:     DefaultFailureThreshold,
		probeSlot:     make(chan struct{}, 1),
		spawn:         func(f func()) { go f() },
		state:         StateOnline,
		reported:      true,
		subs:          make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.threshold < 1 {
		m.threshold = 1
	}
	return m
}

// Start begins watching the source. The initial state is the platform flag,
// confirmed by one probe. Calling Start on a running monitor does nothing.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	online := m.source.Online()
	m.state = StateOffline
	if online {
		m.state = StateOnline
	}
	m.reported = online
	m.failures = 0
	m.unwatch = m.source.Watch(m.handleEvent)
	m.armIntervalLocked()
	pctx := m.ctx
	m.mu.Unlock()

	m.logger.Debug("connectivity monitor started", "online", online)
	m.spawn(func() { m.Check(pctx) }) //nolint:errcheck // outcome lands in Status
}

// Stop cancels the source listener, timers and pending probes and drops every subscriber.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	if m.unwatch != nil {
		m.unwatch()
		m.unwatch = nil
	}
	m.stopDebounceLocked()
	if m.intervalTimer != nil {
		m.intervalTimer.Stop()
		m.intervalTimer = nil
	}
	for _, s := range m.subs {
		s.active.Store(false)
	}
	m.subs = make(map[uint64]*Subscription)
	m.cancel()
}

// Check probes reachability now and returns the resulting status.
// Probes are serialized; if another probe holds the slot until ctx ends,
// ErrProbeBusy is returned and nothing is counted.
func (m *Monitor) Check(ctx context.Context) (Status, error) {
	select {
	case m.probeSlot <- struct{}{}:
	case <-ctx.Done():
		return m.Status(), ErrProbeBusy
	}
	pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	err := m.prober.Probe(pctx)
	cancel()
	<-m.probeSlot

	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return m.Status(), err
	}
	return m.record(err), err
}

// Status returns the current status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// IsOnline reports whether the application should treat itself as online.
func (m *Monitor) IsOnline() bool {
	return m.Status().Online
}

// RequireOnline returns ErrRequiresConnection when offline.
func (m *Monitor) RequireOnline() error {
	if !m.IsOnline() {
		return ErrRequiresConnection
	}
	return nil
}

// Subscription is a handle to a registered subscriber.
type Subscription struct {
	m      *Monitor
	id     uint64
	fn     func(Status)
	active atomic.Bool
}

// Unsubscribe stops future deliveries. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.active.Store(false)
	s.m.mu.Lock()
	delete(s.m.subs, s.id)
	s.m.mu.Unlock()
}

// Subscribe registers fn for online/offline changes. When the monitor is
// running fn is called immediately, on the calling goroutine, with the current status.
func (m *Monitor) Subscribe(fn func(Status)) *Subscription {
	m.mu.Lock()
	sub := &Subscription{m: m, id: m.nextSub, fn: fn}
	sub.active.Store(true)
	m.nextSub++
	m.subs[sub.id] = sub
	running := m.running
	st := m.statusLocked()
	m.mu.Unlock()

	if running {
		m.deliver(sub, st)
	}
	return sub
}

func (m *Monitor) handleEvent(ev Event) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.logger.Debug("connectivity event", "event", ev, "state", m.state)

	if ev == EventOffline {
		if m.state == StateOnline {
			m.state = StatePendingOffline
			m.debounceGen++
			gen := m.debounceGen
			m.debounceTimer = m.clock.AfterFunc(m.debounce, func() { m.debounceExpired(gen) })
		}
		m.mu.Unlock()
		return
	}

	m.stopDebounceLocked()
	if m.state == StatePendingOffline {
		m.state = StateOnline
	}
	ctx := m.ctx
	m.mu.Unlock()
	m.spawn(func() { m.Check(ctx) }) //nolint:errcheck // outcome lands in Status
}

func (m *Monitor) debounceExpired(gen uint64) {
	m.mu.Lock()
	if !m.running || gen != m.debounceGen || m.state != StatePendingOffline {
		m.mu.Unlock()
		return
	}
	m.debounceTimer = nil
	m.state = StateOffline
	n := m.transitionLocked()
	m.mu.Unlock()
	m.publish(n)
}

func (m *Monitor) record(err error) Status {
	m.mu.Lock()
	m.lastChecked = m.clock.Now()
	if err == nil {
		m.failures = 0
		m.stopDebounceLocked()
		m.state = StateOnline
	} else {
		m.failures++
		if m.failures >= m.threshold {
			m.stopDebounceLocked()
			m.state = StateOffline
		}
	}
	var n notification
	if m.running {
		n = m.transitionLocked()
	}
	st := m.statusLocked()
	m.mu.Unlock()

	if err != nil {
		m.logger.Debug("connectivity probe failed", "failures", st.ConsecutiveFailures, "error", err)
	}
	m.publish(n)
	return st
}

// stopDebounceLocked cancels the debounce timer, including a callback already in flight.
func (m *Monitor) stopDebounceLocked() {
	if m.debounceTimer != nil {
		m.debounceTimer.Stop()
		m.debounceTimer = nil
	}
	m.debounceGen++
}

func (m *Monitor) armIntervalLocked() {
	if m.probeInterval <= 0 {
		return
	}
	ctx := m.ctx
	m.intervalTimer = m.clock.AfterFunc(m.probeInterval, func() {
		m.spawn(func() {
			m.Check(ctx) //nolint:errcheck // outcome lands in Status
			m.mu.Lock()
			if m.running && m.ctx == ctx {
				m.armIntervalLocked()
			}
			m.mu.Unlock()
		})
	})
}

func (m *Monitor) statusLocked() Status {
	return Status{
		Online:              m.state != StateOffline,
		State:               m.state,
		ConsecutiveFailures: m.failures,
		LastCheckedAt:       m.lastChecked,
	}
}

type notification struct {
	seq    uint64
	status Status
	subs   []*Subscription
}

// transitionLocked returns a notification when the reported online value changed.
func (m *Monitor) transitionLocked() notification {
	online := m.state != StateOffline
	if online == m.reported {
		return notification{}
	}
	m.reported = online
	m.seq++
	subs := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.logger.Info("connectivity changed", "online", online, "failures", m.failures)
	return notification{seq: m.seq, status: m.statusLocked(), subs: subs}
}

// publish delivers n unless a newer notification already went out.
func (m *Monitor) publish(n notification) {
	if n.seq == 0 {
		return
	}
	m.deliverMu.Lock()
	if n.seq <= m.delivered {
		m.deliverMu.Unlock()
		return
	}
	m.delivered = n.seq
	m.deliverMu.Unlock()

	for _, s := range n.subs {
		m.mu.Lock()
		superseded := m.seq != n.seq
		m.mu.Unlock()
		if superseded {
			return
		}
		m.deliver(s, n.status)
	}
}

func (m *Monitor) deliver(s *Subscription, st Status) {
	if !s.active.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("connectivity subscriber panicked", "panic", r)
		}
	}()
	s.fn(st)
}
