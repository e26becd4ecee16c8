package connectivity

import "sync"

// Event is a platform connectivity signal.
type Event int

const (
	EventOffline Event = iota
	EventOnline
)

func (e Event) String() string {
	if e == EventOnline {
		return "online"
	}
	return "offline"
}

// Source is the platform's own view of connectivity. Its flag is a hint only:
// the Monitor confirms it with probes before reporting it.
type Source interface {
	// Online returns the platform's current flag.
	Online() bool
	// Watch registers fn for future events until cancel is called.
	Watch(fn func(Event)) (cancel func())
}

// ManualSource is a Source driven by the host application.
type ManualSource struct {
	mu        sync.Mutex
	online    bool
	listeners map[uint64]func(Event)
	next      uint64
}

// NewManualSource returns a source reporting online initially.
func NewManualSource(online bool) *ManualSource {
	return &ManualSource{online: online, listeners: make(map[uint64]func(Event))}
}

// Online implements Source.
func (s *ManualSource) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Watch implements Source.
func (s *ManualSource) Watch(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Emit records ev and delivers it to every listener on the calling goroutine.
func (s *ManualSource) Emit(ev Event) {
	s.mu.Lock()
	s.online = ev == EventOnline
	fns := make([]func(Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Listeners returns the number of registered listeners.
func (s *ManualSource) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}
