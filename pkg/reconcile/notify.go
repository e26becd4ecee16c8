package reconcile

import (
	"fmt"
	"log/slog"
)

// NoticeKind selects the user-facing message for a Notice.
type NoticeKind int

const (
	// NoticeCachedData: showing cached data because it is stale or the live fetch failed.
	NoticeCachedData NoticeKind = iota
	// NoticeOffline: showing cached data because the application is offline.
	NoticeOffline
	// NoticeSyncFailed: a reload after reconnecting failed.
	NoticeSyncFailed
	// NoticeRequiresConnection: a mutation was refused while offline.
	NoticeRequiresConnection
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeCachedData:
		return "cached_data"
	case NoticeOffline:
		return "offline"
	case NoticeSyncFailed:
		return "sync_failed"
	case NoticeRequiresConnection:
		return "requires_connection"
	default:
		return fmt.Sprintf("NoticeKind(%d)", int(k))
	}
}

// Notice is a transient message for the user.
type Notice struct {
	Kind         NoticeKind
	Key          string // cache key involved, if any
	RelativeTime string // age of the cached data, e.g. "3 hours ago"
	Err          error
}

// Message renders the notice as user-facing text.
func (n Notice) Message() string {
	switch n.Kind {
	case NoticeCachedData:
		return "Showing cached data from " + n.RelativeTime
	case NoticeOffline:
		return "You are offline. Showing data from " + n.RelativeTime
	case NoticeSyncFailed:
		return "Could not refresh data after reconnecting"
	case NoticeRequiresConnection:
		return "This action requires a connection"
	default:
		return ""
	}
}

// Notifier receives notices. Implementations must not block.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notice) { f(n) }

// LogNotifier writes notices to a slog.Logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(n Notice) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"kind", n.Kind, "key", n.Key}
	if n.Err != nil {
		attrs = append(attrs, "error", n.Err)
		logger.Warn(n.Message(), attrs...)
		return
	}
	logger.Info(n.Message(), attrs...)
}
