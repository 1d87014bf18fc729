package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "mailqueue/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendHistory(ctx context.Context, rec HistoryRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mail_history(id, category, recipient, subject, status, err, created_at)
		 VALUES(?,?,?,?,?,?,?)`,
		rec.ID, rec.Category, rec.To, rec.Subject, rec.Status, nullStr(rec.Error), rec.CreatedAt.UnixNano(),
	)
	return err
}

func (s *sqliteStore) ListHistory(ctx context.Context, limit int) ([]HistoryRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, category, recipient, subject, status, err, created_at
		 FROM mail_history ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryRecord
	for rows.Next() {
		var (
			rec   HistoryRecord
			errS  sql.NullString
			nanos int64
		)
		if err := rows.Scan(&rec.ID, &rec.Category, &rec.To, &rec.Subject, &rec.Status, &errS, &nanos); err != nil {
			return nil, err
		}
		rec.Error = errS.String
		rec.CreatedAt = time.Unix(0, nanos)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneHistory(ctx context.Context, keep int, olderThan time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	removed := 0
	if !olderThan.IsZero() {
		res, err := s.db.ExecContext(ctx, `DELETE FROM mail_history WHERE created_at < ?`, olderThan.UnixNano())
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}
	if keep > 0 {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM mail_history WHERE rowid NOT IN (
			   SELECT rowid FROM mail_history ORDER BY created_at DESC, rowid DESC LIMIT ?)`, keep)
		if err != nil {
			return removed, err
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}
	return removed, nil
}

func (s *sqliteStore) PutNotification(ctx context.Context, n Notification) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	var readAt any
	if n.ReadAt != nil {
		readAt = n.ReadAt.UnixNano()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications(user_id, id, subject, body, category, channels, recipient_email, created_at, read_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		n.UserID, n.ID, n.Subject, n.Body, nullStr(n.Category), strings.Join(n.Channels, ","),
		nullStr(n.RecipientEmail), n.CreatedAt.UnixNano(), readAt,
	)
	return err
}

func (s *sqliteStore) ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, id, subject, body, category, channels, recipient_email, created_at, read_at
		 FROM notifications WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var (
			n         Notification
			category  sql.NullString
			channels  string
			recipient sql.NullString
			created   int64
			readAt    sql.NullInt64
		)
		if err := rows.Scan(&n.UserID, &n.ID, &n.Subject, &n.Body, &category, &channels, &recipient, &created, &readAt); err != nil {
			return nil, err
		}
		n.Category = category.String
		n.RecipientEmail = recipient.String
		if channels != "" {
			n.Channels = strings.Split(channels, ",")
		}
		n.CreatedAt = time.Unix(0, created)
		if readAt.Valid {
			t := time.Unix(0, readAt.Int64)
			n.ReadAt = &t
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MarkNotificationRead(ctx context.Context, userID, id string, at time.Time) (time.Time, error) {
	if s == nil || s.db == nil {
		return time.Time{}, ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read_at = ? WHERE user_id = ? AND id = ? AND read_at IS NULL`,
		at.UnixNano(), userID, id)
	if err != nil {
		return time.Time{}, err
	}
	var readAt sql.NullInt64
	err = s.db.QueryRowContext(ctx, `SELECT read_at FROM notifications WHERE user_id = ? AND id = ?`, userID, id).Scan(&readAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, readAt.Int64), nil
}

func (s *sqliteStore) GetSettings(ctx context.Context, userID string) (NotificationSettings, bool, error) {
	if s == nil || s.db == nil {
		return NotificationSettings{}, false, ErrDisabled
	}
	var (
		st      NotificationSettings
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT receive_email, receive_site, updated_at FROM notification_settings WHERE user_id = ?`, userID,
	).Scan(&st.ReceiveEmail, &st.ReceiveSite, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return NotificationSettings{}, false, nil
	}
	if err != nil {
		return NotificationSettings{}, false, err
	}
	st.UpdatedAt = time.Unix(0, updated)
	return st, true, nil
}

func (s *sqliteStore) PutSettings(ctx context.Context, userID string, st NotificationSettings) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_settings(user_id, receive_email, receive_site, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET receive_email=excluded.receive_email,
		   receive_site=excluded.receive_site, updated_at=excluded.updated_at`,
		userID, st.ReceiveEmail, st.ReceiveSite, st.UpdatedAt.UnixNano(),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
