// Package alert posts operator alerts (error-level log lines) to a Telegram chat.
package alert

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"

	logx "mailqueue/pkg/logx"
)

const textLimit = 4096

// messenger is the subset of *tele.Bot used here.
type messenger interface {
	Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error)
}

type Alerter struct {
	bot  messenger
	chat tele.ChatID
}

var _ logx.Alerter = (*Alerter)(nil)

// New builds an offline bot (no getMe round-trip, no polling); it only sends.
func New(token string, chatID int64) (*Alerter, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram alert chat id is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Alerter{bot: b, chat: tele.ChatID(chatID)}, nil
}

func (a *Alerter) Alert(ctx context.Context, text string) error {
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(a.chat, chunk, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
			return err
		}
	}
	return nil
}

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries that leave chunks at least a third full.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
