package offlinecache

import (
	"log/slog"
	"time"
)

const (
	// StaleAfter is the age past which cached data is flagged stale.
	StaleAfter = 24 * time.Hour

	// DefaultRetention is how long entries survive startup cleanup.
	DefaultRetention = 30 * 24 * time.Hour

	// DefaultMemorySize is the hot tier capacity in entries.
	DefaultMemorySize = 256

	// DefaultEmergencyEvictions is how many of the oldest entries are dropped
	// when the store reports it is out of space.
	DefaultEmergencyEvictions = 5
)

// DefaultBudget suits a browser-sized client store.
var DefaultBudget = Budget{
	MaxBytes:      50 << 20,
	MaxEntries:    1000,
	MaxEntryBytes: 5 << 20,
}

// Options configures a Cache instance.
type Options struct {
	Budget             Budget        // storage ceilings enforced on every write
	MemorySize         int           // hot tier entries (0 disables the hot tier)
	Retention          time.Duration // startup cleanup deletes entries older than this
	EmergencyEvictions int           // oldest entries dropped before retrying a write rejected for quota
	Logger             *slog.Logger
	Now                func() time.Time
}

// Option is a functional option for configuring a Cache.
type Option func(*Options)

// WithBudget sets all storage ceilings at once.
func WithBudget(b Budget) Option {
	return func(o *Options) {
		o.Budget = b
	}
}

// WithMaxBytes caps the total encoded size of all entries.
func WithMaxBytes(n int64) Option {
	return func(o *Options) {
		o.Budget.MaxBytes = n
	}
}

// WithMaxEntries caps the number of entries.
func WithMaxEntries(n int) Option {
	return func(o *Options) {
		o.Budget.MaxEntries = n
	}
}

// WithMaxEntryBytes caps the encoded size of a single entry.
func WithMaxEntryBytes(n int64) Option {
	return func(o *Options) {
		o.Budget.MaxEntryBytes = n
	}
}

// WithMemorySize sets the maximum number of decoded entries held in memory.
func WithMemorySize(n int) Option {
	return func(o *Options) {
		o.MemorySize = n
	}
}

// WithRetention sets the age ceiling applied by CleanupOnStartup.
func WithRetention(d time.Duration) Option {
	return func(o *Options) {
		o.Retention = d
	}
}

// WithEmergencyEvictions sets how many oldest entries go when the store is full.
func WithEmergencyEvictions(n int) Option {
	return func(o *Options) {
		o.EmergencyEvictions = n
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Now = now
	}
}

func defaultOptions() *Options {
	return &Options{
		Budget:             DefaultBudget,
		MemorySize:         DefaultMemorySize,
		Retention:          DefaultRetention,
		EmergencyEvictions: DefaultEmergencyEvictions,
		Now:                time.Now,
	}
}

func buildOptions(options []Option) *Options {
	opts := defaultOptions()
	for _, opt := range options {
		opt(opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return opts
}
