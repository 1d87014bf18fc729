package config

import (
	"reflect"
	"strings"

	logx "mailqueue/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and safe structured
// attrs for logging. Secrets (SMTP password, DKIM key, tokens) are only ever
// reported as "<name>_set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}

	// SMTP (never log pass or private key)
	if !reflect.DeepEqual(oldCfg.SMTP, newCfg.SMTP) {
		changed = append(changed, "smtp")
		attrs = append(attrs,
			logx.String("smtp.host", strings.TrimSpace(newCfg.SMTP.Host)),
			logx.Int("smtp.port", newCfg.SMTP.Port),
			logx.String("smtp.from", strings.TrimSpace(newCfg.SMTP.From)),
			logx.Bool("smtp.user_set", strings.TrimSpace(newCfg.SMTP.User) != ""),
			logx.Bool("smtp.pass_set", newCfg.SMTP.Pass != ""),
			logx.Bool("smtp.dkim_set", newCfg.SMTP.DKIM.Selector != "" && newCfg.SMTP.DKIM.Domain != ""),
		)
	}

	if oldCfg.Delivery != newCfg.Delivery {
		d := newCfg.Delivery
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.Int("delivery.max_attempts", d.MaxAttempts),
			logx.Int("delivery.global_limit", d.GlobalLimit),
			logx.String("delivery.global_window", d.GlobalWindow),
			logx.String("delivery.recipient_interval", d.RecipientInterval),
			logx.String("delivery.send_timeout", d.SendTimeout),
		)
		if oldCfg.Delivery.BlockThreshold != d.BlockThreshold || oldCfg.Delivery.HistorySize != d.HistorySize {
			attrs = append(attrs, logx.Bool("delivery.restart_required", true))
		}
	}

	if oldCfg.Mail != newCfg.Mail {
		changed = append(changed, "mail")
		attrs = append(attrs,
			logx.String("mail.brand", newCfg.Mail.Brand),
			logx.String("mail.timezone", newCfg.Mail.Timezone),
			logx.Bool("mail.dry_run", newCfg.Mail.DryRun),
		)
	}

	// HTTP (never log admin token)
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.admin_token_set", newCfg.HTTP.AdminToken != ""),
			logx.Int("http.test_mail_per_minute", newCfg.HTTP.TestMailPerMinute),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}

	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", newCfg.Telegram.Token != ""),
			logx.Int64("telegram.alert_chat_id", newCfg.Telegram.AlertChatID),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs,
				logx.String("storage.driver", newCfg.Storage.Driver),
				logx.String("storage.path", newCfg.Storage.Path),
			)
		}
		attrs = append(attrs, logx.Bool("storage.restart_required", true))
	}

	if !reflect.DeepEqual(oldCfg.Housekeeping, newCfg.Housekeeping) {
		changed = append(changed, "housekeeping")
		if hk := newCfg.Housekeeping; hk != nil {
			attrs = append(attrs,
				logx.Bool("housekeeping.enabled", hk.Enabled),
				logx.String("housekeeping.schedule", hk.Schedule),
				logx.Int("housekeeping.keep", hk.Keep),
				logx.String("housekeeping.retention", hk.Retention),
			)
		}
	}

	return changed, attrs
}
