package app

import (
	"fmt"
	"strings"
	"time"

	"mailqueue/internal/config"
	"mailqueue/internal/delivery"
	"mailqueue/internal/housekeeping"
	"mailqueue/internal/httpapi"
	"mailqueue/internal/mailflows"
	"mailqueue/internal/sender"
	"mailqueue/internal/storage"
	logx "mailqueue/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    cfg.Logging.Alert.Enabled,
			MinLevel:   cfg.Logging.Alert.MinLevel,
			RatePerSec: cfg.Logging.Alert.RatePerSec,
		},
	}
}

// mapPolicy leaves zero fields to delivery's defaults.
func mapPolicy(cfg *config.Config) (delivery.Policy, error) {
	d := cfg.Delivery
	window, err := config.ParseDurationField("delivery.global_window", d.GlobalWindow)
	if err != nil {
		return delivery.Policy{}, err
	}
	interval, err := config.ParseSpacing("delivery.recipient_interval", d.RecipientInterval)
	if err != nil {
		return delivery.Policy{}, err
	}
	sendTimeout, err := config.ParseDurationField("delivery.send_timeout", d.SendTimeout)
	if err != nil {
		return delivery.Policy{}, err
	}
	return delivery.Policy{
		MaxAttempts:       d.MaxAttempts,
		GlobalLimit:       d.GlobalLimit,
		GlobalWindow:      window,
		RecipientInterval: interval,
		BlockThreshold:    d.BlockThreshold,
		HistorySize:       d.HistorySize,
		SendTimeout:       sendTimeout,
	}, nil
}

func mapSMTPConfig(cfg *config.Config) (sender.Config, error) {
	s := cfg.SMTP
	dial, err := config.ParseDurationField("smtp.dial_timeout", s.DialTimeout)
	if err != nil {
		return sender.Config{}, err
	}
	return sender.Config{
		Host:        s.Host,
		Port:        s.Port,
		User:        s.User,
		Pass:        s.Pass,
		From:        s.From,
		HelloName:   s.HelloName,
		DialTimeout: dial,
		DKIM: sender.DKIMConfig{
			Selector:   s.DKIM.Selector,
			Domain:     s.DKIM.Domain,
			KeyPath:    s.DKIM.KeyPath,
			PrivateKey: s.DKIM.PrivateKey,
		},
	}, nil
}

func mapFlowsConfig(cfg *config.Config) mailflows.Config {
	return mailflows.Config{
		Brand:    cfg.Mail.Brand,
		ReplyTo:  cfg.Mail.ReplyTo,
		Location: cfg.Mail.Location(),
	}
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	h := cfg.HTTP
	rt, err := config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 15*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	// Test mail waits for delivery, so the write timeout must cover retries.
	wt, err := config.ParseDurationOrDefault("http.write_timeout", h.WriteTimeout, 2*time.Minute)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:              h.Addr,
		AdminToken:        h.AdminToken,
		ReadTimeout:       rt,
		WriteTimeout:      wt,
		TestMailPerMinute: h.TestMailPerMinute,
		Pprof:             h.Pprof,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapHousekeepingConfig(cfg *config.Config) (housekeeping.Config, error) {
	hk := cfg.Housekeeping
	if hk == nil {
		return housekeeping.Config{}, nil
	}
	retention, err := config.ParseDurationField("housekeeping.retention", hk.Retention)
	if err != nil {
		return housekeeping.Config{}, err
	}
	return housekeeping.Config{
		Enabled:   hk.Enabled,
		Schedule:  hk.Schedule,
		Keep:      hk.Keep,
		Retention: retention,
		Location:  cfg.Mail.Location(),
	}, nil
}
