package sender

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"mailqueue/internal/delivery"
	logx "mailqueue/pkg/logx"
)

const DefaultPort = 587

// Config is the SMTP relay configuration.
type Config struct {
	Host      string
	Port      int
	User      string
	Pass      string
	From      string
	HelloName string
	// DialTimeout bounds the TCP connect; the send deadline comes from ctx.
	DialTimeout time.Duration
	DKIM        DKIMConfig
}

// Configured reports whether host, credentials and sender are present.
// Missing configuration is surfaced as a skip by the mail flows, not as an error.
func (c Config) Configured() bool {
	return strings.TrimSpace(c.Host) != "" &&
		strings.TrimSpace(c.User) != "" &&
		c.Pass != "" &&
		strings.TrimSpace(c.From) != ""
}

// Dialer abstracts net.Dialer for tests.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type SMTPOption func(*SMTP)

func WithDialer(d Dialer) SMTPOption {
	return func(s *SMTP) {
		if d != nil {
			s.dialer = d
		}
	}
}

func WithTLSConfig(cfg *tls.Config) SMTPOption {
	return func(s *SMTP) { s.tlsConfig = cfg }
}

func WithAuth(a smtp.Auth) SMTPOption {
	return func(s *SMTP) { s.auth = a }
}

func WithNow(now func() time.Time) SMTPOption {
	return func(s *SMTP) {
		if now != nil {
			s.now = now
		}
	}
}

// SMTP delivers one message per connection.
type SMTP struct {
	log       logx.Logger
	host      string
	port      int
	from      string
	helloName string
	auth      smtp.Auth
	tlsConfig *tls.Config
	dialer    Dialer
	dkim      *dkimSigner
	now       func() time.Time
}

var _ delivery.Sender = (*SMTP)(nil)

// NewSMTP returns delivery.ErrConfigurationMissing when cfg is incomplete.
func NewSMTP(cfg Config, log logx.Logger, opts ...SMTPOption) (*SMTP, error) {
	if !cfg.Configured() {
		return nil, delivery.ErrConfigurationMissing
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("smtp: invalid port %d", port)
	}
	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("smtp: invalid from address: %w", err)
	}
	signer, err := newDKIMSigner(cfg.DKIM)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}
	hello := strings.TrimSpace(cfg.HelloName)
	if hello == "" {
		hello = "localhost"
	}

	s := &SMTP{
		log:       log.With(logx.String("comp", "smtp")),
		host:      strings.TrimSpace(cfg.Host),
		port:      port,
		from:      strings.TrimSpace(cfg.From),
		helloName: hello,
		auth:      smtp.PlainAuth("", cfg.User, cfg.Pass, strings.TrimSpace(cfg.Host)),
		tlsConfig: &tls.Config{ServerName: strings.TrimSpace(cfg.Host), MinVersion: tls.VersionTLS12},
		dialer:    &net.Dialer{Timeout: dialTimeout},
		dkim:      signer,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Send builds, signs and relays p.
// Malformed addresses and 5xx replies are permanent (delivery.NoRetry);
// everything else is a *delivery.TransportError.
func (s *SMTP) Send(ctx context.Context, p delivery.MailPayload) (delivery.Receipt, error) {
	envelopeFrom, err := envelopeAddress(s.from)
	if err != nil {
		return delivery.Receipt{}, delivery.NoRetry(fmt.Errorf("smtp: invalid from address: %w", err))
	}
	rcpt, err := envelopeAddress(p.To)
	if err != nil {
		return delivery.Receipt{}, delivery.NoRetry(fmt.Errorf("smtp: invalid recipient %q: %w", p.To, err))
	}

	msg := messageFromPayload(p, s.from, s.now())
	raw, err := msg.build()
	if err != nil {
		return delivery.Receipt{}, delivery.NoRetry(fmt.Errorf("smtp: build message: %w", err))
	}
	if raw, err = s.dkim.sign(raw, s.from); err != nil {
		return delivery.Receipt{}, delivery.NoRetry(err)
	}

	resp, err := s.deliver(ctx, envelopeFrom, rcpt, raw)
	if err != nil {
		return delivery.Receipt{}, classify(err)
	}
	s.log.Debug("smtp accepted", logx.String("to", rcpt), logx.String("message_id", msg.MessageID))
	return delivery.Receipt{MessageID: msg.MessageID, Response: resp, AcceptedAt: s.now()}, nil
}

type smtpStepError struct {
	step string
	err  error
}

func (e *smtpStepError) Error() string { return e.step + ": " + e.err.Error() }
func (e *smtpStepError) Unwrap() error { return e.err }

func step(name string, err error) error {
	if err == nil {
		return nil
	}
	return &smtpStepError{step: name, err: err}
}

func (s *SMTP) deliver(ctx context.Context, from, rcpt string, raw []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	netConn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", step("dial", err)
	}
	defer netConn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = netConn.SetDeadline(deadline)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = netConn.Close()
		case <-done:
		}
	}()
	defer close(done)

	conn := netConn

	// Port 465 expects TLS from the first byte.
	if s.port == 465 && s.tlsConfig != nil {
		tconn := tls.Client(conn, s.sessionTLSConfig())
		if err := tconn.HandshakeContext(ctx); err != nil {
			return "", step("tls", err)
		}
		conn = tconn
	}

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		return "", step("greeting", err)
	}
	defer client.Close()

	if err := client.Hello(s.helloName); err != nil {
		return "", step("hello", err)
	}
	if s.port != 465 && s.tlsConfig != nil {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(s.sessionTLSConfig()); err != nil {
				return "", step("starttls", err)
			}
		}
	}
	if s.auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(s.auth); err != nil {
				return "", step("auth", err)
			}
		}
	}
	if err := client.Mail(from); err != nil {
		return "", step("mail", err)
	}
	if err := client.Rcpt(rcpt); err != nil {
		return "", step("rcpt", err)
	}
	w, err := client.Data()
	if err != nil {
		return "", step("data", err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return "", step("data", err)
	}
	if err := w.Close(); err != nil {
		return "", step("data", err)
	}
	if err := client.Quit(); err != nil && !errors.Is(err, io.EOF) {
		s.log.Debug("smtp quit failed", logx.Err(err))
	}
	return "250 message accepted", nil
}

func (s *SMTP) sessionTLSConfig() *tls.Config {
	cfg := s.tlsConfig.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = s.host
	}
	return cfg
}

// classify maps SMTP failures onto the delivery error taxonomy.
func classify(err error) error {
	op := "send"
	var se *smtpStepError
	if errors.As(err, &se) {
		op = se.step
	}
	var tp *textproto.Error
	if errors.As(err, &tp) && tp.Code >= 500 && tp.Code < 600 && op != "auth" {
		return delivery.NoRetry(&delivery.TransportError{Op: op, Err: err})
	}
	return &delivery.TransportError{Op: op, Err: err}
}

func envelopeAddress(value string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(value))
	if err != nil {
		return "", err
	}
	if addr.Address == "" {
		return "", errors.New("empty address")
	}
	return addr.Address, nil
}
