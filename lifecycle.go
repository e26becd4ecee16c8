package offlinecache

import (
	"context"
	"fmt"
)

// CleanupReport counts what CleanupOnStartup found and removed.
type CleanupReport struct {
	Scanned    int // stored keys examined
	Corrupt    int // undecodable entries deleted
	Unreadable int // entries the store failed to read; left in place
	Expired    int // entries past the retention ceiling deleted
	Evicted    int // oldest entries deleted to fit the budget
}

// CleanupOnStartup rescans storage, deleting corrupt entries and entries older
// than the retention ceiling, then trims the cache to its budget.
// Call it once when the application starts.
func (c *Cache) CleanupOnStartup(ctx context.Context) (CleanupReport, error) {
	if c.degraded.Load() {
		return CleanupReport{}, nil
	}

	st, err := c.rescan(ctx)
	rep := CleanupReport{Scanned: st.scanned, Corrupt: st.corrupt, Unreadable: st.unreadable}
	if err != nil {
		return rep, fmt.Errorf("startup cleanup: %w", err)
	}
	if c.degraded.Load() {
		return rep, nil
	}

	c.scanMu.RLock()
	if c.opts.Retention > 0 {
		cutoff := c.opts.Now().Add(-c.opts.Retention)
		rep.Expired = c.evict(ctx, c.budget.olderThan(cutoff), "expired")
	}
	rep.Evicted = c.evict(ctx, c.budget.overflow(), "budget")
	c.scanMu.RUnlock()

	c.logger.Info("cache startup cleanup complete",
		"scanned", rep.Scanned, "corrupt", rep.Corrupt, "unreadable", rep.Unreadable,
		"expired", rep.Expired, "evicted", rep.Evicted)
	return rep, nil
}

// CleanupOnLogout wipes entries owned by ownerID (every entry when ownerID is
// empty) so the next user never sees them. Failures are logged, never returned.
func (c *Cache) CleanupOnLogout(ctx context.Context, ownerID string) int {
	n, err := c.InvalidateAll(ctx, ownerID)
	if err != nil {
		c.logger.Warn("logout cache wipe incomplete", "owner_id", ownerID, "removed", n, "error", err)
		return n
	}
	c.logger.Info("wiped cache on logout", "owner_id", ownerID, "removed", n)
	return n
}

// AuthEvent is an authentication state change reported by the host application.
type AuthEvent int

const (
	AuthSignedIn AuthEvent = iota
	AuthSignedOut
	AuthTokenRefreshed
)

func (e AuthEvent) String() string {
	switch e {
	case AuthSignedIn:
		return "signed_in"
	case AuthSignedOut:
		return "signed_out"
	case AuthTokenRefreshed:
		return "token_refreshed"
	default:
		return fmt.Sprintf("AuthEvent(%d)", int(e))
	}
}

// HandleAuthEvent reacts to auth changes; signing out wipes the owner's entries.
func (c *Cache) HandleAuthEvent(ctx context.Context, ev AuthEvent, ownerID string) {
	c.logger.Debug("auth event", "event", ev, "owner_id", ownerID)
	if ev == AuthSignedOut {
		c.CleanupOnLogout(ctx, ownerID)
	}
}
