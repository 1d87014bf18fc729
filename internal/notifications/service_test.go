package notifications

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"mailqueue/internal/delivery"
	"mailqueue/internal/storage"
	logx "mailqueue/pkg/logx"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "feed.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	svc := New(st, logx.Nop())
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return svc
}

func TestMirrorAndList(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, subj := range []string{"first", "second", "third"} {
		err := svc.Mirror(ctx, delivery.MirrorRequest{UserID: "u1", Subject: subj, Body: "b", Channels: []string{"site", "SITE", "email"}})
		if err != nil {
			t.Fatalf("mirror: %v", err)
		}
	}

	list, err := svc.List(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Subject != "third" || list[1].Subject != "second" {
		t.Fatalf("list = %+v", list)
	}
	if got := list[0].Channels; len(got) != 2 || got[0] != "site" || got[1] != "email" {
		t.Fatalf("channels = %v", got)
	}
}

func TestMirrorDefaultsChannels(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if err := svc.Mirror(ctx, delivery.MirrorRequest{UserID: "u1", Subject: "s"}); err != nil {
		t.Fatalf("mirror: %v", err)
	}
	list, _ := svc.List(ctx, "u1", 0)
	if len(list) != 1 || len(list[0].Channels) != 2 || list[0].Channels[0] != delivery.ChannelEmail {
		t.Fatalf("list = %+v", list)
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_ = svc.Mirror(ctx, delivery.MirrorRequest{UserID: "u1", Subject: "s"})
	list, _ := svc.List(ctx, "u1", 1)

	first, err := svc.MarkRead(ctx, "u1", list[0].ID)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	again, err := svc.MarkRead(ctx, "u1", list[0].ID)
	if err != nil || !again.Equal(first) {
		t.Fatalf("second mark read = %v, %v; want %v", again, err, first)
	}
	if _, err := svc.MarkRead(ctx, "u1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSettingsDefaultsAndPatch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	st, err := svc.Settings(ctx, "u1")
	if err != nil || !st.ReceiveEmail || !st.ReceiveSite {
		t.Fatalf("defaults = %+v, %v", st, err)
	}

	off := false
	st, err = svc.SaveSettings(ctx, "u1", SettingsPatch{ReceiveEmail: &off})
	if err != nil || st.ReceiveEmail || !st.ReceiveSite {
		t.Fatalf("after patch = %+v, %v", st, err)
	}
	st, _ = svc.SaveSettings(ctx, "u1", SettingsPatch{})
	if st.ReceiveEmail {
		t.Fatal("empty patch must keep stored values")
	}
}

func TestUnavailableWithoutStore(t *testing.T) {
	svc := New(nil, logx.Nop())
	ctx := context.Background()
	if err := svc.Mirror(ctx, delivery.MirrorRequest{UserID: "u1"}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("mirror err = %v", err)
	}
	if _, err := svc.List(ctx, "u1", 1); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("list err = %v", err)
	}
}

func TestRequiresUser(t *testing.T) {
	svc := newTestService(t)
	if err := svc.Mirror(context.Background(), delivery.MirrorRequest{UserID: "  "}); !errors.Is(err, ErrNoUser) {
		t.Fatalf("err = %v", err)
	}
}
