package delivery

import (
	"context"
	"strings"
	"time"
)

type Category string

const (
	CategoryProvisionalRegistration Category = "provisional-registration"
	CategoryFullRegistration        Category = "full-registration"
	CategoryReservationComplete     Category = "reservation-complete"
	CategoryOther                   Category = "other"
)

// ParseCategory maps unknown or empty values to CategoryOther.
func ParseCategory(s string) Category {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryProvisionalRegistration, CategoryFullRegistration, CategoryReservationComplete:
		return c
	default:
		return CategoryOther
	}
}

// MailPayload is one outbound message as submitted by a caller flow.
type MailPayload struct {
	To       string
	Subject  string
	Text     string
	HTML     string
	ReplyTo  string
	Category Category

	// UserID selects the notification feed the message is mirrored into.
	// Empty means no mirror.
	UserID     string
	MirrorBody string
	SkipMirror bool
}

func (p MailPayload) wantsMirror() bool {
	return strings.TrimSpace(p.UserID) != "" && !p.SkipMirror
}

func (p MailPayload) mirrorBody() string {
	if strings.TrimSpace(p.MirrorBody) != "" {
		return p.MirrorBody
	}
	return p.Text
}

// Receipt is what a Sender returns for an accepted message.
type Receipt struct {
	MessageID  string    `json:"message_id"`
	Response   string    `json:"response,omitempty"`
	AcceptedAt time.Time `json:"accepted_at"`
}

type Status string

const (
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// HistoryEntry is an immutable record of one terminal delivery outcome.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Category  Category  `json:"category"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Sender hands one message to a carrier.
// Failures should be *TransportError (retryable) or wrapped with NoRetry.
type Sender interface {
	Send(ctx context.Context, p MailPayload) (Receipt, error)
}

// Default mirror channels.
const (
	ChannelEmail = "email"
	ChannelSite  = "site"
)

type MirrorRequest struct {
	UserID         string
	Subject        string
	Body           string
	Category       Category
	Channels       []string
	RecipientEmail string
}

// Mirror copies a delivered message into a user-visible feed.
type Mirror interface {
	Mirror(ctx context.Context, req MirrorRequest) error
}

// NormalizeRecipient is the key used by the limiter and the breaker.
func NormalizeRecipient(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
