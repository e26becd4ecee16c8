package reconcile

import (
	"context"
	"log/slog"

	"github.com/codeGROOVE-dev/offlinecache"
	"github.com/codeGROOVE-dev/offlinecache/pkg/connectivity"
)

// Mutator guards actions that must not run offline.
type Mutator struct {
	Status   StatusSource
	Notifier Notifier            // nil means a LogNotifier on slog.Default()
	Cache    *offlinecache.Cache // optional; keys passed to Do are invalidated here
}

// Do runs fn only when online, then invalidates the given cache keys so the
// next load refetches. Offline it raises NoticeRequiresConnection and returns
// connectivity.ErrRequiresConnection without calling fn.
func (m Mutator) Do(ctx context.Context, fn func(context.Context) error, invalidate ...string) error {
	if !m.Status.IsOnline() {
		n := m.Notifier
		if n == nil {
			n = LogNotifier{}
		}
		n.Notify(Notice{Kind: NoticeRequiresConnection, Err: connectivity.ErrRequiresConnection})
		return connectivity.ErrRequiresConnection
	}
	if err := fn(ctx); err != nil {
		return err
	}
	if m.Cache == nil {
		return nil
	}
	for _, k := range invalidate {
		if err := m.Cache.Invalidate(ctx, k); err != nil {
			slog.Debug("invalidate after mutation", "key", k, "error", err)
		}
	}
	return nil
}

// Mutate runs fn only when status reports online.
func Mutate(ctx context.Context, status StatusSource, n Notifier, fn func(context.Context) error) error {
	return Mutator{Status: status, Notifier: n}.Do(ctx, fn)
}
