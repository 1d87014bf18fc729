package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "mailqueue/pkg/logx"
)

func openTestStores(t *testing.T) map[string]func() Store {
	t.Helper()
	dir := t.TempDir()
	open := func(driver, name string) func() Store {
		return func() Store {
			st, err := Open(Config{Driver: driver, Path: filepath.Join(dir, name)}, logx.Nop())
			if err != nil {
				t.Fatalf("open %s: %v", driver, err)
			}
			return st
		}
	}
	return map[string]func() Store{
		"file":   open("file", "state.json"),
		"sqlite": open("sqlite", "state.db"),
	}
}

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", "  NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Logger{})
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestHistoryNewestFirstAndPrune(t *testing.T) {
	ctx := context.Background()
	for name, open := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			st := open()
			defer st.Close()

			base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			for i, id := range []string{"a", "b", "c", "d"} {
				rec := HistoryRecord{ID: id, Category: "test", To: "x@example.com", Subject: "s", Status: "sent", CreatedAt: base.Add(time.Duration(i) * time.Hour)}
				if err := st.AppendHistory(ctx, rec); err != nil {
					t.Fatalf("append: %v", err)
				}
			}

			got, err := st.ListHistory(ctx, 2)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != 2 || got[0].ID != "d" || got[1].ID != "c" {
				t.Fatalf("list = %+v", got)
			}

			removed, err := st.PruneHistory(ctx, 0, base.Add(time.Hour))
			if err != nil || removed != 1 {
				t.Fatalf("prune by age = %d, %v; want 1", removed, err)
			}
			removed, err = st.PruneHistory(ctx, 2, time.Time{})
			if err != nil || removed != 1 {
				t.Fatalf("prune by count = %d, %v; want 1", removed, err)
			}

			got, _ = st.ListHistory(ctx, 0)
			if len(got) != 2 || got[0].ID != "d" || got[1].ID != "c" {
				t.Fatalf("after prune = %+v", got)
			}
		})
	}
}

func TestNotificationFeed(t *testing.T) {
	ctx := context.Background()
	for name, open := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			st := open()
			defer st.Close()

			base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
			for i, id := range []string{"n1", "n2"} {
				n := Notification{UserID: "u1", ID: id, Subject: "Hello", Body: "body", Channels: []string{"email", "site"}, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
				if err := st.PutNotification(ctx, n); err != nil {
					t.Fatalf("put: %v", err)
				}
			}

			list, err := st.ListNotifications(ctx, "u1", 10)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(list) != 2 || list[0].ID != "n2" {
				t.Fatalf("list = %+v", list)
			}
			if len(list[0].Channels) != 2 || list[0].Channels[1] != "site" {
				t.Fatalf("channels = %v", list[0].Channels)
			}
			if other, _ := st.ListNotifications(ctx, "u2", 10); len(other) != 0 {
				t.Fatalf("feed leaked across users: %+v", other)
			}

			first := base.Add(time.Hour)
			at, err := st.MarkNotificationRead(ctx, "u1", "n1", first)
			if err != nil || !at.Equal(first) {
				t.Fatalf("mark read = %v, %v", at, err)
			}
			at, err = st.MarkNotificationRead(ctx, "u1", "n1", first.Add(time.Hour))
			if err != nil || !at.Equal(first) {
				t.Fatalf("second mark read = %v, %v; want original time", at, err)
			}
			if _, err := st.MarkNotificationRead(ctx, "u1", "missing", first); !errors.Is(err, ErrNotFound) {
				t.Fatalf("missing id err = %v", err)
			}
		})
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, open := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			st := open()
			defer st.Close()

			if _, ok, err := st.GetSettings(ctx, "u1"); ok || err != nil {
				t.Fatalf("unexpected settings: ok=%v err=%v", ok, err)
			}
			want := NotificationSettings{ReceiveEmail: false, ReceiveSite: true, UpdatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
			if err := st.PutSettings(ctx, "u1", want); err != nil {
				t.Fatalf("put settings: %v", err)
			}
			want.ReceiveEmail = true
			if err := st.PutSettings(ctx, "u1", want); err != nil {
				t.Fatalf("overwrite settings: %v", err)
			}
			got, ok, err := st.GetSettings(ctx, "u1")
			if err != nil || !ok {
				t.Fatalf("get settings: ok=%v err=%v", ok, err)
			}
			if !got.ReceiveEmail || !got.ReceiveSite || !got.UpdatedAt.Equal(want.UpdatedAt) {
				t.Fatalf("settings = %+v", got)
			}
		})
	}
}

func TestFileStoreReplaysJournal(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	_ = st.AppendHistory(ctx, HistoryRecord{ID: "h1", Status: "sent", CreatedAt: now})
	_ = st.PutNotification(ctx, Notification{UserID: "u1", ID: "n1", Subject: "s", Body: "b", CreatedAt: now})
	_, _ = st.MarkNotificationRead(ctx, "u1", "n1", now.Add(time.Minute))
	_ = st.PutSettings(ctx, "u1", NotificationSettings{ReceiveSite: true, UpdatedAt: now})
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	hist, _ := st.ListHistory(ctx, 10)
	if len(hist) != 1 || hist[0].ID != "h1" {
		t.Fatalf("history = %+v", hist)
	}
	list, _ := st.ListNotifications(ctx, "u1", 10)
	if len(list) != 1 || list[0].ReadAt == nil || !list[0].ReadAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("notifications = %+v", list)
	}
	if s, ok, _ := st.GetSettings(ctx, "u1"); !ok || s.ReceiveEmail || !s.ReceiveSite {
		t.Fatalf("settings = %+v ok=%v", s, ok)
	}
}
