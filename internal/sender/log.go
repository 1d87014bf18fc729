package sender

import (
	"context"
	"time"

	"mailqueue/internal/delivery"
	logx "mailqueue/pkg/logx"
)

// Log is a dry-run sender: it accepts every message and only logs it.
type Log struct {
	log  logx.Logger
	from string
	now  func() time.Time
}

func NewLog(from string, log logx.Logger) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{log: log.With(logx.String("comp", "sender.log")), from: from, now: time.Now}
}

func (l *Log) Send(ctx context.Context, p delivery.MailPayload) (delivery.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return delivery.Receipt{}, &delivery.TransportError{Op: "send", Err: err}
	}
	id := newMessageID(l.from)
	l.log.Info("mail (dry run)",
		logx.String("to", p.To),
		logx.String("subject", p.Subject),
		logx.String("category", string(p.Category)),
		logx.Int("text_len", len(p.Text)),
		logx.Bool("html", p.HTML != ""),
		logx.String("message_id", id),
	)
	return delivery.Receipt{MessageID: id, Response: "dry run", AcceptedAt: l.now()}, nil
}
