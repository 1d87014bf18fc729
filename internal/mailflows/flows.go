// Package mailflows builds the transactional messages used by the registration,
// verification and reservation pages and hands them to the delivery queue.
//
// Skips (missing transport configuration, blocked recipient, reservation without
// an email) are reported as Outcome.Simulated so page flows can still complete.
// Terminal delivery failures are returned as errors.
package mailflows

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"mailqueue/internal/delivery"
	logx "mailqueue/pkg/logx"
)

const (
	NoEmailRecipient = "(no email)"

	skipReasonConfig  = "transport configuration missing"
	skipReasonNoEmail = "member email not set"
)

var ErrInvalidEmail = errors.New("a valid email address is required")

// Submitter is the part of delivery.Queue the flows need.
type Submitter interface {
	Submit(p delivery.MailPayload) *delivery.Pending
}

// Recorder records outcomes that never reach the queue.
type Recorder interface {
	Record(e delivery.HistoryEntry) delivery.HistoryEntry
}

type Config struct {
	// Brand prefixes subjects ("[Brand] ...") and signs bodies.
	Brand string
	// ReplyTo is used on registration mail; empty means the sender's From.
	ReplyTo  string
	Location *time.Location
}

type Outcome struct {
	Simulated bool             `json:"simulated"`
	Receipt   delivery.Receipt `json:"receipt"`
}

type Service struct {
	queue      Submitter
	history    Recorder
	configured func() bool
	cfg        Config
	log        logx.Logger
	now        func() time.Time
}

// New wires the flows. configured reports whether the transport can send; nil means always.
func New(queue Submitter, history Recorder, configured func() bool, cfg Config, log logx.Logger) *Service {
	if configured == nil {
		configured = func() bool { return true }
	}
	if strings.TrimSpace(cfg.Brand) == "" {
		cfg.Brand = "mailqueue"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		queue:      queue,
		history:    history,
		configured: configured,
		cfg:        cfg,
		log:        log.With(logx.String("comp", "mailflows")),
		now:        time.Now,
	}
}

func (s *Service) subject(text string) string {
	return "[" + s.cfg.Brand + "] " + text
}

// deliver submits p and waits for the outcome, mapping skips onto Simulated.
func (s *Service) deliver(ctx context.Context, p delivery.MailPayload) (Outcome, error) {
	if !s.configured() {
		s.history.Record(delivery.HistoryEntry{Category: p.Category, To: p.To, Subject: p.Subject, Status: delivery.StatusSkipped, Error: skipReasonConfig})
		s.log.Info("mail not sent: transport not configured", logx.String("to", p.To), logx.String("category", string(p.Category)))
		return Outcome{Simulated: true}, nil
	}

	r, err := s.queue.Submit(p).Wait(ctx)
	switch {
	case err == nil:
		return Outcome{Receipt: r}, nil
	case errors.Is(err, delivery.ErrRecipientBlocked), errors.Is(err, delivery.ErrConfigurationMissing):
		return Outcome{Simulated: true}, nil
	default:
		return Outcome{}, err
	}
}

func (s *Service) ProvisionalRegistration(ctx context.Context, email string) (Outcome, error) {
	email, err := cleanEmail(email)
	if err != nil {
		return Outcome{}, err
	}
	lines := []string{
		"Your provisional registration is complete.",
		"Please log in to your account page and enter the remaining details to finish registering.",
		"This message was sent automatically. Replies to this address are not answered.",
	}
	return s.deliver(ctx, s.registrationPayload(email, "Provisional registration complete", delivery.CategoryProvisionalRegistration, lines))
}

func (s *Service) FullRegistration(ctx context.Context, email string) (Outcome, error) {
	email, err := cleanEmail(email)
	if err != nil {
		return Outcome{}, err
	}
	lines := []string{
		"Your registration is complete.",
		"Your details have been saved and your account is ready to use.",
		"Thank you for joining us.",
		"This message was sent automatically. Replies to this address are not answered.",
	}
	return s.deliver(ctx, s.registrationPayload(email, "Registration complete", delivery.CategoryFullRegistration, lines))
}

func (s *Service) registrationPayload(email, subject string, cat delivery.Category, lines []string) delivery.MailPayload {
	text := strings.Join(lines, "\n")
	return delivery.MailPayload{
		To:         email,
		Subject:    s.subject(subject),
		Text:       text,
		HTML:       paragraphsHTML(lines),
		ReplyTo:    s.cfg.ReplyTo,
		Category:   cat,
		UserID:     email,
		MirrorBody: text,
	}
}

type VerificationRequest struct {
	Email     string
	Code      string
	URL       string
	ExpiresAt time.Time
}

// Verification sends the sign-up code. It is not mirrored: the user has no feed yet.
func (s *Service) Verification(ctx context.Context, req VerificationRequest) (Outcome, error) {
	email, err := cleanEmail(req.Email)
	if err != nil {
		return Outcome{}, err
	}
	expires := s.formatTime(req.ExpiresAt)
	lines := []string{
		"Thank you for signing up. Your registration is not complete yet.",
		"Open the link below to finish registering. The link is valid for 24 hours.",
		req.URL,
		"",
		"Verification code: " + req.Code,
		"Email: " + email,
		"",
		"If you did not request this, you can ignore this message.",
		"Expires: " + expires,
	}
	return s.deliver(ctx, delivery.MailPayload{
		To:         email,
		Subject:    s.subject("Please confirm your registration"),
		Text:       strings.Join(lines, "\n"),
		HTML:       paragraphsHTML(lines),
		Category:   delivery.CategoryOther,
		SkipMirror: true,
	})
}

// Reservation is the subset of a booking used in the confirmation mail.
type Reservation struct {
	ID            string
	StoreName     string
	VehicleModel  string
	VehiclePlate  string
	VehicleCode   string
	PickupAt      time.Time
	ReturnAt      time.Time
	PaymentAmount string
	PaymentID     string
	MemberID      string
	MemberName    string
	MemberPhone   string
	MemberEmail   string
}

func (s *Service) ReservationCompletion(ctx context.Context, r Reservation) (Outcome, error) {
	subject := s.subject("Your reservation is confirmed")
	email := strings.TrimSpace(r.MemberEmail)
	if email == "" {
		s.history.Record(delivery.HistoryEntry{Category: delivery.CategoryReservationComplete, To: NoEmailRecipient, Subject: subject, Status: delivery.StatusSkipped, Error: skipReasonNoEmail})
		s.log.Info("reservation mail skipped: no member email", logx.String("reservation", r.ID))
		return Outcome{Simulated: true}, nil
	}

	vehicle := r.VehiclePlate
	if vehicle == "" {
		vehicle = r.VehicleCode
	}
	lines := []string{
		"Thank you for your reservation. Booking and payment are complete.",
		"",
		"Reservation",
		"Store: " + r.StoreName,
		fmt.Sprintf("Vehicle: %s (%s)", r.VehicleModel, vehicle),
		"Pickup: " + s.formatTime(r.PickupAt),
		"Return: " + s.formatTime(r.ReturnAt),
		"Amount: " + r.PaymentAmount,
	}
	if r.PaymentID != "" {
		lines = append(lines, "Payment ID: "+r.PaymentID)
	}
	lines = append(lines, "", "Customer")
	for _, kv := range [][2]string{{"Name", r.MemberName}, {"Phone", r.MemberPhone}, {"Email", r.MemberEmail}} {
		if kv[1] != "" {
			lines = append(lines, kv[0]+": "+kv[1])
		}
	}
	lines = append(lines, "", "If you have any questions, reply to this message.", s.cfg.Brand)

	userID := strings.TrimSpace(r.MemberID)
	if userID == "" {
		userID = email
	}
	text := strings.Join(lines, "\n")
	return s.deliver(ctx, delivery.MailPayload{
		To:         email,
		Subject:    subject,
		Text:       text,
		HTML:       paragraphsHTML(lines),
		Category:   delivery.CategoryReservationComplete,
		UserID:     userID,
		MirrorBody: text,
	})
}

type TestKind string

const (
	TestProvisional TestKind = "provisional"
	TestFull        TestKind = "full"
	TestReservation TestKind = "reservation"
)

func ParseTestKind(s string) (TestKind, bool) {
	switch k := TestKind(strings.ToLower(strings.TrimSpace(s))); k {
	case TestProvisional, TestFull, TestReservation:
		return k, true
	default:
		return "", false
	}
}

// TestMail sends one of the templates to an admin-chosen address.
// The reservation variant uses a sample booking starting tomorrow.
func (s *Service) TestMail(ctx context.Context, kind TestKind, email string) (Outcome, error) {
	switch kind {
	case TestProvisional:
		return s.ProvisionalRegistration(ctx, email)
	case TestFull:
		return s.FullRegistration(ctx, email)
	case TestReservation:
		email, err := cleanEmail(email)
		if err != nil {
			return Outcome{}, err
		}
		now := s.now()
		return s.ReservationCompletion(ctx, Reservation{
			ID:            "TEST-RESERVATION-001",
			StoreName:     "Test store",
			VehicleModel:  "PCX 125",
			VehicleCode:   "PCX125",
			VehiclePlate:  "TEST 12-34",
			PickupAt:      now.Add(24 * time.Hour),
			ReturnAt:      now.Add(48 * time.Hour),
			PaymentAmount: "8,900",
			PaymentID:     "PAYMENT-TEST",
			MemberID:      "TEST-MEMBER-001",
			MemberName:    "Test User",
			MemberPhone:   "090-0000-0000",
			MemberEmail:   email,
		})
	default:
		return Outcome{}, fmt.Errorf("unknown test mail kind %q", kind)
	}
}

func (s *Service) formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(s.cfg.Location).Format("2006-01-02 15:04")
}

func paragraphsHTML(lines []string) string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><body style="font-family:Arial, sans-serif; color:#111;">`)
	for _, line := range lines {
		if line == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(line))
		b.WriteString("</p>")
	}
	b.WriteString("</body></html>")
	return b.String()
}

func cleanEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t\r\n") || !strings.Contains(email[at+1:], ".") {
		return "", ErrInvalidEmail
	}
	return email, nil
}
