package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// CronParser accepts standard five-field specs and descriptors such as "@hourly".
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks field syntax. Missing SMTP settings are not an error:
// the service runs in simulated mode until they are supplied.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		check(err)
	}

	if p := cfg.SMTP.Port; p < 0 || p > 65535 {
		check(fmt.Errorf("smtp.port: %d out of range", p))
	}
	dur("smtp.dial_timeout", cfg.SMTP.DialTimeout)
	if (cfg.SMTP.DKIM.Selector == "") != (cfg.SMTP.DKIM.Domain == "") {
		check(errors.New("smtp.dkim: selector and domain must be set together"))
	}

	d := cfg.Delivery
	if d.MaxAttempts < 0 || d.GlobalLimit < 0 || d.BlockThreshold < 0 || d.HistorySize < 0 {
		check(errors.New("delivery: counts must be >= 0"))
	}
	dur("delivery.global_window", d.GlobalWindow)
	dur("delivery.recipient_interval", d.RecipientInterval)
	dur("delivery.send_timeout", d.SendTimeout)

	if tz := strings.TrimSpace(cfg.Mail.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			check(fmt.Errorf("mail.timezone: %w", err))
		}
	}

	dur("http.read_timeout", cfg.HTTP.ReadTimeout)
	dur("http.write_timeout", cfg.HTTP.WriteTimeout)
	if cfg.HTTP.TestMailPerMinute < 0 {
		check(errors.New("http.test_mail_per_minute must be >= 0"))
	}

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			check(fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		dur("storage.busy_timeout", st.BusyTimeout)
	}

	if hk := cfg.Housekeeping; hk != nil {
		if s := strings.TrimSpace(hk.Schedule); s != "" {
			if _, err := CronParser.Parse(s); err != nil {
				check(fmt.Errorf("housekeeping.schedule: %w", err))
			}
		}
		if hk.Keep < 0 {
			check(errors.New("housekeeping.keep must be >= 0"))
		}
		dur("housekeeping.retention", hk.Retention)
	}

	return errors.Join(errs...)
}

// Location resolves mail.timezone, falling back to UTC.
func (c MailConfig) Location() *time.Location {
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.UTC
}
