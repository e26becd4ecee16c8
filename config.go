package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/codeGROOVE-dev/offlinecache/pkg/connectivity"
	"github.com/codeGROOVE-dev/offlinecache/pkg/store"
	"github.com/codeGROOVE-dev/offlinecache/pkg/store/cloudrun"
	"github.com/codeGROOVE-dev/offlinecache/pkg/store/compress"
	"github.com/codeGROOVE-dev/offlinecache/pkg/store/datastore"
	"github.com/codeGROOVE-dev/offlinecache/pkg/store/localfs"
	"github.com/codeGROOVE-dev/offlinecache/pkg/store/memory"
	"github.com/codeGROOVE-dev/offlinecache/pkg/store/null"
	"github.com/codeGROOVE-dev/offlinecache/pkg/store/sqlite"
	"github.com/codeGROOVE-dev/offlinecache/pkg/store/valkey"
)

// Config is the environment-driven configuration for a cache and its monitor.
type Config struct {
	Backend     string `env:"OFFLINECACHE_BACKEND"     envDefault:"localfs"`
	CacheID     string `env:"OFFLINECACHE_ID"          envDefault:"offlinecache"`
	Dir         string `env:"OFFLINECACHE_DIR"`
	Compression string `env:"OFFLINECACHE_COMPRESSION" envDefault:"none"`
	ValkeyAddr  string `env:"OFFLINECACHE_VALKEY_ADDR" envDefault:"localhost:6379"`
	StoreQuota  int64  `env:"OFFLINECACHE_STORE_QUOTA"`

	MaxBytes           int64         `env:"OFFLINECACHE_MAX_BYTES"           envDefault:"52428800"`
	MaxEntries         int           `env:"OFFLINECACHE_MAX_ENTRIES"         envDefault:"1000"`
	MaxEntryBytes      int64         `env:"OFFLINECACHE_MAX_ENTRY_BYTES"     envDefault:"5242880"`
	MemorySize         int           `env:"OFFLINECACHE_MEMORY_SIZE"         envDefault:"256"`
	Retention          time.Duration `env:"OFFLINECACHE_RETENTION"           envDefault:"720h"`
	EmergencyEvictions int           `env:"OFFLINECACHE_EMERGENCY_EVICTIONS" envDefault:"5"`

	ProbeURL         string        `env:"OFFLINECACHE_PROBE_URL"`
	ProbeTimeout     time.Duration `env:"OFFLINECACHE_PROBE_TIMEOUT"     envDefault:"5s"`
	ProbeInterval    time.Duration `env:"OFFLINECACHE_PROBE_INTERVAL"    envDefault:"30s"`
	OfflineDebounce  time.Duration `env:"OFFLINECACHE_OFFLINE_DEBOUNCE"  envDefault:"5s"`
	FailureThreshold int           `env:"OFFLINECACHE_FAILURE_THRESHOLD" envDefault:"3"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Options translates the config into cache options.
func (c Config) Options() []Option {
	return []Option{
		WithBudget(Budget{MaxBytes: c.MaxBytes, MaxEntries: c.MaxEntries, MaxEntryBytes: c.MaxEntryBytes}),
		WithMemorySize(c.MemorySize),
		WithRetention(c.Retention),
		WithEmergencyEvictions(c.EmergencyEvictions),
	}
}

// MonitorOptions translates the config into connectivity monitor options.
func (c Config) MonitorOptions() []connectivity.Option {
	return []connectivity.Option{
		connectivity.WithDebounce(c.OfflineDebounce),
		connectivity.WithProbeTimeout(c.ProbeTimeout),
		connectivity.WithProbeInterval(c.ProbeInterval),
		connectivity.WithFailureThreshold(c.FailureThreshold),
	}
}

// NewMonitor builds a connectivity monitor probing ProbeURL.
func (c Config) NewMonitor(opts ...connectivity.Option) (*connectivity.Monitor, error) {
	if c.ProbeURL == "" {
		return nil, errors.New("OFFLINECACHE_PROBE_URL is required for connectivity probing")
	}
	return connectivity.New(connectivity.NewHTTPProber(c.ProbeURL), append(c.MonitorOptions(), opts...)...), nil
}

// OpenStore opens the configured backend.
func (c Config) OpenStore(ctx context.Context) (store.Store, error) {
	comp, err := compress.ByName(c.Compression)
	if err != nil {
		return nil, err
	}

	switch c.Backend {
	case "", "localfs":
		return localfs.New(c.CacheID, c.Dir, localfs.WithCompression(comp), localfs.WithQuota(c.StoreQuota))
	case "sqlite":
		dir := c.Dir
		if dir == "" {
			dir = "."
		}
		return sqlite.Open(ctx, filepath.Join(dir, c.CacheID+".db"), sqlite.WithCompression(comp), sqlite.WithQuota(c.StoreQuota))
	case "valkey":
		return valkey.New(ctx, c.CacheID, c.ValkeyAddr, comp)
	case "datastore":
		return datastore.New(ctx, c.CacheID, comp)
	case "cloudrun":
		return cloudrun.New(ctx, c.CacheID, c.Dir, comp)
	case "memory":
		return memory.New(memory.WithQuota(c.StoreQuota)), nil
	case "none":
		return null.New(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", c.Backend)
	}
}

// Open opens the configured store and a cache over it. A store that is
// unavailable yields a degraded cache instead of an error.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Cache, error) {
	opts = append(cfg.Options(), opts...)
	s, err := cfg.OpenStore(ctx)
	if err != nil {
		if !store.IsUnavailable(err) {
			return nil, fmt.Errorf("open %s store: %w", cfg.Backend, err)
		}
		buildOptions(opts).Logger.Warn("cache store unavailable", "backend", cfg.Backend, "error", err)
		s = nil
	}
	return New(ctx, s, opts...)
}
