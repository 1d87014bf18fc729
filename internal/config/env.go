package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment keys that override the config file.
const (
	EnvSMTPHost       = "SMTP_HOST"
	EnvSMTPPort       = "SMTP_PORT"
	EnvSMTPUser       = "SMTP_USER"
	EnvSMTPPass       = "SMTP_PASS"
	EnvMailFrom       = "MAIL_FROM"
	EnvDKIMSelector   = "SMTP_DKIM_SELECTOR"
	EnvDKIMDomain     = "SMTP_DKIM_DOMAIN"
	EnvDKIMKeyPath    = "SMTP_DKIM_KEY_PATH"
	EnvDKIMPrivateKey = "SMTP_DKIM_PRIVATE_KEY"
	EnvAdminToken     = "ADMIN_TOKEN"
	EnvTelegramToken  = "TELEGRAM_TOKEN"
)

// ReadEnv returns the .env file at path merged with the process environment.
// Process variables win, as with godotenv.Load. A missing file is not an error.
func ReadEnv(path string) (map[string]string, error) {
	env := map[string]string{}
	if strings.TrimSpace(path) != "" {
		m, err := godotenv.Read(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		for k, v := range m {
			env[k] = v
		}
	}
	for _, key := range []string{
		EnvSMTPHost, EnvSMTPPort, EnvSMTPUser, EnvSMTPPass, EnvMailFrom,
		EnvDKIMSelector, EnvDKIMDomain, EnvDKIMKeyPath, EnvDKIMPrivateKey,
		EnvAdminToken, EnvTelegramToken,
	} {
		if v, ok := os.LookupEnv(key); ok {
			env[key] = v
		}
	}
	return env, nil
}

// ApplyEnv overlays non-empty environment values onto cfg.
func ApplyEnv(cfg *Config, env map[string]string) error {
	if cfg == nil {
		return nil
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(env[key]); v != "" {
			*dst = v
		}
	}
	set(&cfg.SMTP.Host, EnvSMTPHost)
	set(&cfg.SMTP.User, EnvSMTPUser)
	set(&cfg.SMTP.From, EnvMailFrom)
	set(&cfg.SMTP.DKIM.Selector, EnvDKIMSelector)
	set(&cfg.SMTP.DKIM.Domain, EnvDKIMDomain)
	set(&cfg.SMTP.DKIM.KeyPath, EnvDKIMKeyPath)
	set(&cfg.HTTP.AdminToken, EnvAdminToken)
	set(&cfg.Telegram.Token, EnvTelegramToken)

	// Passwords and keys are taken verbatim.
	if v := env[EnvSMTPPass]; v != "" {
		cfg.SMTP.Pass = v
	}
	if v := env[EnvDKIMPrivateKey]; v != "" {
		cfg.SMTP.DKIM.PrivateKey = v
	}
	if v := strings.TrimSpace(env[EnvSMTPPort]); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.New(EnvSMTPPort + ": invalid port " + strconv.Quote(v))
		}
		cfg.SMTP.Port = port
	}
	return nil
}
