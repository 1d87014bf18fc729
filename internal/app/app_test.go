package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mailqueue/internal/config"
	"mailqueue/internal/delivery"
	logx "mailqueue/pkg/logx"
)

func TestMapPolicy(t *testing.T) {
	cfg := &config.Config{Delivery: config.DeliveryConfig{
		MaxAttempts:       5,
		GlobalWindow:      "2s",
		RecipientInterval: "0s",
		SendTimeout:       "45s",
	}}
	p, err := mapPolicy(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if p.MaxAttempts != 5 || p.GlobalWindow != 2*time.Second || p.SendTimeout != 45*time.Second {
		t.Fatalf("policy = %+v", p)
	}
	if p.RecipientInterval >= 0 {
		t.Fatalf("explicit 0s should disable the interval, got %v", p.RecipientInterval)
	}

	p, err = mapPolicy(&config.Config{})
	if err != nil || p.RecipientInterval != 0 {
		t.Fatalf("omitted interval should stay zero (default), got %v, %v", p.RecipientInterval, err)
	}

	if _, err := mapPolicy(&config.Config{Delivery: config.DeliveryConfig{SendTimeout: "later"}}); err == nil {
		t.Fatal("expected duration error")
	}
}

func TestMapStorageConfig(t *testing.T) {
	cases := []struct {
		name    string
		in      *config.StorageConfig
		enabled bool
		wantErr bool
	}{
		{"absent", nil, false, false},
		{"none", &config.StorageConfig{Driver: "none"}, false, false},
		{"file", &config.StorageConfig{Driver: "file", Path: "./data/mq.json"}, true, false},
		{"sqlite", &config.StorageConfig{Driver: "SQLite", Path: "./data/mq.db", BusyTimeout: "3s"}, true, false},
		{"sqlite no path", &config.StorageConfig{Driver: "sqlite"}, false, true},
		{"unknown", &config.StorageConfig{Driver: "redis"}, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sc, enabled, err := mapStorageConfig(&config.Config{Storage: tc.in})
			if (err != nil) != tc.wantErr || enabled != tc.enabled {
				t.Fatalf("mapStorageConfig = %+v, %v, %v", sc, enabled, err)
			}
			if tc.name == "sqlite" && (sc.Driver != "sqlite" || sc.BusyTimeout != 3*time.Second) {
				t.Fatalf("sqlite config = %+v", sc)
			}
		})
	}
}

func TestTransportModes(t *testing.T) {
	tr := &transport{}
	if _, err := tr.Send(context.Background(), delivery.MailPayload{}); !delivery.IsNoRetry(err) {
		t.Fatalf("empty transport Send = %v", err)
	}

	if err := tr.rebuild(&config.Config{}, logx.Nop()); err != nil {
		t.Fatal(err)
	}
	if tr.Configured() || tr.Mode() != "unconfigured" {
		t.Fatalf("mode = %s configured = %v", tr.Mode(), tr.Configured())
	}

	dry := &config.Config{Mail: config.MailConfig{DryRun: true}, SMTP: config.SMTPConfig{From: "noreply@example.com"}}
	if err := tr.rebuild(dry, logx.Nop()); err != nil {
		t.Fatal(err)
	}
	if !tr.Configured() || tr.Mode() != "dry_run" {
		t.Fatalf("mode = %s", tr.Mode())
	}
	if r, err := tr.Send(context.Background(), delivery.MailPayload{To: "a@example.com", Subject: "s", Text: "t"}); err != nil || r.MessageID == "" {
		t.Fatalf("dry-run Send = %+v, %v", r, err)
	}

	smtp := &config.Config{SMTP: config.SMTPConfig{Host: "relay.example.com", User: "u", Pass: "p", From: "noreply@example.com"}}
	if err := tr.rebuild(smtp, logx.Nop()); err != nil || tr.Mode() != "smtp" {
		t.Fatalf("rebuild smtp = %v mode %s", err, tr.Mode())
	}

	bad := &config.Config{SMTP: config.SMTPConfig{Host: "relay", User: "u", Pass: "p", From: "not an address"}}
	if err := tr.rebuild(bad, logx.Nop()); err == nil {
		t.Fatal("expected invalid from error")
	}
	if tr.Mode() != "smtp" {
		t.Fatal("failed rebuild must keep the previous carrier")
	}
}

func TestNewStartStop(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	body := `
logging:
  level: error
http:
  addr: 127.0.0.1:0
mail:
  brand: Test
  dry_run: true
smtp:
  from: noreply@example.com
storage:
  driver: sqlite
  path: ` + filepath.Join(dir, "mq.db") + `
housekeeping:
  enabled: true
  keep: 10
`
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	a, err := New(cfgPath, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	wctx, wcancel := context.WithTimeout(ctx, 10*time.Second)
	defer wcancel()
	out, err := a.flows.TestMail(wctx, "full", "user@example.com")
	if err != nil || out.Simulated {
		t.Fatalf("TestMail = %+v, %v", out, err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done should be closed after Stop")
	}
	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("Err = %v", err)
	}
}
