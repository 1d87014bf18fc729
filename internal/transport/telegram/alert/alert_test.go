package alert

import (
	"context"
	"errors"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"
)

type fakeBot struct {
	to    []tele.Recipient
	texts []string
	err   error
}

func (f *fakeBot) Send(to tele.Recipient, what any, _ ...any) (*tele.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.to = append(f.to, to)
	f.texts = append(f.texts, what.(string))
	return &tele.Message{ID: len(f.texts)}, nil
}

func TestNewRequiresTokenAndChat(t *testing.T) {
	if _, err := New("", 1); err == nil {
		t.Fatal("expected token error")
	}
	if _, err := New("123:abc", 0); err == nil {
		t.Fatal("expected chat id error")
	}
}

func TestAlertSendsToChat(t *testing.T) {
	fb := &fakeBot{}
	a := &Alerter{bot: fb, chat: tele.ChatID(-100123)}
	if err := a.Alert(context.Background(), "[ERROR] mail delivery failed"); err != nil {
		t.Fatal(err)
	}
	if len(fb.texts) != 1 || fb.to[0].Recipient() != "-100123" {
		t.Fatalf("unexpected sends: %v %v", fb.to, fb.texts)
	}
}

func TestAlertPropagatesError(t *testing.T) {
	a := &Alerter{bot: &fakeBot{err: errors.New("flood")}, chat: 1}
	if err := a.Alert(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestAlertStopsOnCanceledContext(t *testing.T) {
	fb := &fakeBot{}
	a := &Alerter{bot: fb, chat: 1}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Alert(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Alert = %v", err)
	}
	if len(fb.texts) != 0 {
		t.Fatal("nothing should be sent")
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	line := strings.Repeat("a", 40)
	text := line + "\n" + line + "\n" + line
	chunks := splitText(text, 90)
	if len(chunks) != 2 || chunks[0] != line+"\n"+line || chunks[1] != line {
		t.Fatalf("chunks = %q", chunks)
	}
	if got := splitText("short", 90); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text split: %q", got)
	}
}

func TestSplitTextHardCut(t *testing.T) {
	chunks := splitText(strings.Repeat("x", 250), 100)
	if len(chunks) != 3 || len(chunks[2]) != 50 {
		t.Fatalf("unexpected chunks %d", len(chunks))
	}
}
