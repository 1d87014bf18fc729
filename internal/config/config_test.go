package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseYAMLWithEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", `
smtp:
  host: relay.example.com
  from: noreply@example.com
delivery:
  max_attempts: 4
  recipient_interval: 5s
mail:
  brand: Example Hall
  timezone: UTC
housekeeping:
  enabled: true
  schedule: "@daily"
  keep: 100
`)
	envPath := writeFile(t, dir, ".env", "SMTP_USER=mailer\nSMTP_PASS=' s3cret '\nSMTP_PORT=465\n")

	cfg, err := NewConfigManager(cfgPath, envPath).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.SMTP.Host != "relay.example.com" || cfg.SMTP.User != "mailer" || cfg.SMTP.Port != 465 {
		t.Fatalf("unexpected smtp section: %+v", cfg.SMTP)
	}
	if cfg.SMTP.Pass != " s3cret " {
		t.Fatalf("password should be taken verbatim, got %q", cfg.SMTP.Pass)
	}
	if cfg.Delivery.MaxAttempts != 4 || cfg.Delivery.RecipientInterval != "5s" {
		t.Fatalf("unexpected delivery section: %+v", cfg.Delivery)
	}
	if cfg.Housekeeping == nil || cfg.Housekeeping.Keep != 100 {
		t.Fatalf("housekeeping not parsed: %+v", cfg.Housekeeping)
	}
}

func TestParseYAMLAnchorsAndMerge(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yml", `
timeouts: &timeouts
  read_timeout: 5s
  write_timeout: 1m
http:
  <<: *timeouts
  addr: 127.0.0.1:9000
  write_timeout: 30s
`)
	jb, format, err := coerceToJSONBytes(p, mustRead(t, p))
	if err != nil || format != "yaml" {
		t.Fatalf("coerce: %s, %v", format, err)
	}
	for _, want := range []string{`"read_timeout":"5s"`, `"write_timeout":"30s"`, `"addr":"127.0.0.1:9000"`} {
		if !strings.Contains(string(jb), want) {
			t.Fatalf("json %s missing %s", jb, want)
		}
	}
}

func TestParseYAMLErrorNamesFile(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "mail.yaml", "delivery:\n  ? [a, b]\n  : 1\n")
	_, err := NewConfigManager(p, "").Parse()
	if err == nil || !strings.Contains(err.Error(), "mail.yaml") || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("err = %v", err)
	}
}

func TestEmptyYAMLIsDefaults(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", "# nothing yet\n")
	if _, err := NewConfigManager(p, "").Parse(); err != nil {
		t.Fatalf("Parse: %v", err)
	}
}

func mustRead(t *testing.T, p string) []byte {
	t.Helper()
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestParseDurationField(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"", 0},
		{"1500ms", 1500 * time.Millisecond},
		{"90d", 90 * 24 * time.Hour},
		{"1d12h", 36 * time.Hour},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("housekeeping.retention", tc.raw)
		if err != nil || got != tc.want {
			t.Fatalf("%q = %v, %v; want %v", tc.raw, got, err, tc.want)
		}
	}

	_, err := ParseDurationField("delivery.global_window", "-2s")
	var fe *FieldError
	if !errors.As(err, &fe) || fe.Path != "delivery.global_window" || fe.Value != "-2s" {
		t.Fatalf("err = %#v", err)
	}
	if _, err := ParseDurationField("housekeeping.retention", "xd"); err == nil {
		t.Fatal("expected day count error")
	}
}

func TestParseSpacing(t *testing.T) {
	for raw, want := range map[string]time.Duration{"": 0, "0s": -1, " 0 ": -1, "3s": 3 * time.Second} {
		got, err := ParseSpacing("delivery.recipient_interval", raw)
		if err != nil || got != want {
			t.Fatalf("%q = %v, %v; want %v", raw, got, err, want)
		}
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"smtp":{"host":"x"},"bogus":1}`)
	if _, err := NewConfigManager(p, "").Parse(); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestParseMissingEnvFileIsFine(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"mail":{"brand":"B"}}`)
	cfg, err := NewConfigManager(p, filepath.Join(dir, "missing.env")).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Mail.Brand != "B" {
		t.Fatalf("brand = %q", cfg.Mail.Brand)
	}
}

func TestApplyEnvInvalidPort(t *testing.T) {
	var cfg Config
	if err := ApplyEnv(&cfg, map[string]string{EnvSMTPPort: "abc"}); err == nil {
		t.Fatal("expected port error")
	}
}

func TestApplyEnvKeepsFileValuesForEmptyVars(t *testing.T) {
	cfg := Config{SMTP: SMTPConfig{Host: "file.example.com"}}
	if err := ApplyEnv(&cfg, map[string]string{EnvSMTPHost: "  "}); err != nil {
		t.Fatal(err)
	}
	if cfg.SMTP.Host != "file.example.com" {
		t.Fatalf("host = %q", cfg.SMTP.Host)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"port", Config{SMTP: SMTPConfig{Port: 70000}}, "smtp.port"},
		{"duration", Config{Delivery: DeliveryConfig{GlobalWindow: "soon"}}, "delivery.global_window"},
		{"timezone", Config{Mail: MailConfig{Timezone: "Mars/Olympus"}}, "mail.timezone"},
		{"cron", Config{Housekeeping: &HousekeepingConfig{Schedule: "every now and then"}}, "housekeeping.schedule"},
		{"driver", Config{Storage: &StorageConfig{Driver: "mongo"}}, "storage.driver"},
		{"dkim", Config{SMTP: SMTPConfig{DKIM: DKIMConfig{Selector: "s1"}}}, "smtp.dkim"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate = %v, want error mentioning %q", err, tc.want)
			}
		})
	}
	if err := Validate(&Config{}); err != nil {
		t.Fatalf("empty config should validate: %v", err)
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	oldCfg := &Config{SMTP: SMTPConfig{Host: "a", Pass: "old"}}
	newCfg := &Config{SMTP: SMTPConfig{Host: "a", Pass: "new"}, Delivery: DeliveryConfig{HistorySize: 10}}

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "smtp,delivery" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}

	changed, _ = SummarizeConfigChange(newCfg, newCfg)
	if len(changed) != 0 {
		t.Fatalf("identical configs reported %v", changed)
	}
}

func TestMailLocationFallback(t *testing.T) {
	if got := (MailConfig{Timezone: "nowhere"}).Location(); got != time.UTC {
		t.Fatalf("Location = %v", got)
	}
}
