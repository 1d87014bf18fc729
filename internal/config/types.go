package config

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	SMTP     SMTPConfig     `json:"smtp"`
	Delivery DeliveryConfig `json:"delivery"`
	Mail     MailConfig     `json:"mail"`
	HTTP     HTTPConfig     `json:"http"`
	Telegram TelegramConfig `json:"telegram"`

	Storage      *StorageConfig      `json:"storage,omitempty"`
	Housekeeping *HousekeepingConfig `json:"housekeeping,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards high-severity lines to the Telegram alert chat.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SMTPConfig is the relay used for outbound mail.
// Secrets are usually supplied through the environment (.env): SMTP_USER, SMTP_PASS.
type SMTPConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port,omitempty"` // default 587; 465 uses implicit TLS
	User      string `json:"user"`
	Pass      string `json:"pass,omitempty"`
	From      string `json:"from"`
	HelloName string `json:"hello_name,omitempty"`
	// DialTimeout is a Go duration string (default "30s").
	DialTimeout string     `json:"dial_timeout,omitempty"`
	DKIM        DKIMConfig `json:"dkim"`
}

type DKIMConfig struct {
	Selector   string `json:"selector,omitempty"`
	Domain     string `json:"domain,omitempty"`
	KeyPath    string `json:"key_path,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
}

// DeliveryConfig tunes the delivery queue.
//
// All durations are Go duration strings. Omitted fields use the defaults:
//   - max_attempts: 3
//   - global_limit / global_window: 5 per "1s"
//   - recipient_interval: "10s"
//   - block_threshold: 3 (not hot-reloadable)
//   - history_size: 500 (not hot-reloadable)
//   - send_timeout: "30s"
type DeliveryConfig struct {
	MaxAttempts       int    `json:"max_attempts,omitempty"`
	GlobalLimit       int    `json:"global_limit,omitempty"`
	GlobalWindow      string `json:"global_window,omitempty"`
	RecipientInterval string `json:"recipient_interval,omitempty"`
	BlockThreshold    int    `json:"block_threshold,omitempty"`
	HistorySize       int    `json:"history_size,omitempty"`
	SendTimeout       string `json:"send_timeout,omitempty"`
}

type MailConfig struct {
	Brand    string `json:"brand"`
	ReplyTo  string `json:"reply_to,omitempty"`
	Timezone string `json:"timezone,omitempty"` // IANA name, default UTC
	// DryRun logs messages instead of relaying them.
	DryRun bool `json:"dry_run,omitempty"`
}

type HTTPConfig struct {
	Addr string `json:"addr"` // default "127.0.0.1:8080"
	// AdminToken guards /admin routes (do not log). Empty disables the check.
	AdminToken   string `json:"admin_token,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	// TestMailPerMinute throttles POST /admin/test-mail (default 6).
	TestMailPerMinute int `json:"test_mail_per_minute,omitempty"`
	// Pprof mounts /debug/pprof/ behind the admin token.
	Pprof bool `json:"pprof,omitempty"`
}

// TelegramConfig enables the operator alert chat.
type TelegramConfig struct {
	Token       string `json:"token,omitempty"`
	AlertChatID int64  `json:"alert_chat_id,omitempty"`
}

// StorageConfig controls the optional persistence layer (history archive, notification feed).
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/mailqueue.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// HousekeepingConfig prunes the archived history on a cron schedule.
type HousekeepingConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // cron spec or descriptor, default "@hourly"
	Keep     int    `json:"keep,omitempty"`     // newest rows to keep, 0 = no count limit
	// Retention drops rows older than this Go duration (e.g. "720h"); empty disables it.
	Retention string `json:"retention,omitempty"`
}
