package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "mailqueue/pkg/logx"
)

// Store is the persistence API used by the delivery, notification and housekeeping services.
type Store interface {
	AppendHistory(ctx context.Context, rec HistoryRecord) error
	// ListHistory returns up to limit records, newest first.
	ListHistory(ctx context.Context, limit int) ([]HistoryRecord, error)
	// PruneHistory keeps at most keep newest records and drops records created before olderThan
	// (zero olderThan disables the age rule). It returns the number of removed records.
	PruneHistory(ctx context.Context, keep int, olderThan time.Time) (int, error)

	PutNotification(ctx context.Context, n Notification) error
	// ListNotifications returns up to limit notifications for userID, newest first.
	ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error)
	// MarkNotificationRead sets ReadAt once and returns the effective read time.
	MarkNotificationRead(ctx context.Context, userID, id string, at time.Time) (time.Time, error)

	GetSettings(ctx context.Context, userID string) (NotificationSettings, bool, error)
	PutSettings(ctx context.Context, userID string, s NotificationSettings) error

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
