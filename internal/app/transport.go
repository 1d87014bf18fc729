package app

import (
	"context"
	"errors"
	"sync/atomic"

	"mailqueue/internal/config"
	"mailqueue/internal/delivery"
	"mailqueue/internal/sender"
	logx "mailqueue/pkg/logx"
)

// transport is the queue's Sender. The carrier behind it is rebuilt when the
// smtp or mail config sections change, so credentials can be rotated live.
type transport struct {
	cur atomic.Pointer[carrier]
}

type carrier struct {
	sender     delivery.Sender
	configured bool
	mode       string // smtp | dry_run | unconfigured
}

var _ delivery.Sender = (*transport)(nil)

func (t *transport) Send(ctx context.Context, p delivery.MailPayload) (delivery.Receipt, error) {
	c := t.cur.Load()
	if c == nil || c.sender == nil {
		return delivery.Receipt{}, delivery.NoRetry(delivery.ErrConfigurationMissing)
	}
	return c.sender.Send(ctx, p)
}

// Configured feeds mailflows: an unconfigured transport makes flows record a skip.
func (t *transport) Configured() bool {
	c := t.cur.Load()
	return c != nil && c.configured
}

func (t *transport) Mode() string {
	if c := t.cur.Load(); c != nil {
		return c.mode
	}
	return "unconfigured"
}

// rebuild swaps in a carrier for cfg. On error the previous carrier stays.
func (t *transport) rebuild(cfg *config.Config, log logx.Logger) error {
	c, err := newCarrier(cfg, log)
	if err != nil {
		return err
	}
	t.cur.Store(c)
	return nil
}

func newCarrier(cfg *config.Config, log logx.Logger) (*carrier, error) {
	if cfg.Mail.DryRun {
		return &carrier{sender: sender.NewLog(cfg.SMTP.From, log), configured: true, mode: "dry_run"}, nil
	}
	sc, err := mapSMTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	s, err := sender.NewSMTP(sc, log)
	if errors.Is(err, delivery.ErrConfigurationMissing) {
		return &carrier{mode: "unconfigured"}, nil
	}
	if err != nil {
		return nil, err
	}
	return &carrier{sender: s, configured: true, mode: "smtp"}, nil
}
