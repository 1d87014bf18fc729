package sender

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"mailqueue/internal/delivery"
)

type message struct {
	From      string
	To        string
	ReplyTo   string
	Subject   string
	Text      string
	HTML      string
	MessageID string
	Date      time.Time
}

// newMessageID returns "<uuid@domain>" using the sender's domain.
func newMessageID(from string) string {
	domain := extractDomain(from)
	if domain == "" {
		domain = "localhost"
	}
	return "<" + uuid.NewString() + "@" + domain + ">"
}

func messageFromPayload(p delivery.MailPayload, from string, now time.Time) message {
	replyTo := strings.TrimSpace(p.ReplyTo)
	if replyTo == "" {
		replyTo = from
	}
	return message{
		From:      from,
		To:        strings.TrimSpace(p.To),
		ReplyTo:   replyTo,
		Subject:   p.Subject,
		Text:      p.Text,
		HTML:      p.HTML,
		MessageID: newMessageID(from),
		Date:      now,
	}
}

// build renders the RFC 5322 message. Text-only mail is a single
// quoted-printable part; with HTML it becomes multipart/alternative.
func (m message) build() ([]byte, error) {
	headers := map[string]string{
		"From":         sanitizeHeaderValue(m.From),
		"To":           sanitizeHeaderValue(m.To),
		"Subject":      mime.QEncoding.Encode("utf-8", sanitizeHeaderValue(m.Subject)),
		"Date":         m.Date.UTC().Format(time.RFC1123Z),
		"Message-Id":   m.MessageID,
		"Mime-Version": "1.0",
	}
	if m.ReplyTo != "" {
		headers["Reply-To"] = sanitizeHeaderValue(m.ReplyTo)
	}

	var body bytes.Buffer
	if strings.TrimSpace(m.HTML) == "" {
		headers["Content-Type"] = "text/plain; charset=UTF-8"
		headers["Content-Transfer-Encoding"] = "quoted-printable"
		if err := writeQP(&body, m.Text); err != nil {
			return nil, err
		}
	} else {
		mw := multipart.NewWriter(&body)
		headers["Content-Type"] = "multipart/alternative; boundary=" + mw.Boundary()
		for _, part := range []struct{ ctype, content string }{
			{"text/plain; charset=UTF-8", m.Text},
			{"text/html; charset=UTF-8", m.HTML},
		} {
			w, err := mw.CreatePart(textproto.MIMEHeader{
				"Content-Type":              {part.ctype},
				"Content-Transfer-Encoding": {"quoted-printable"},
			})
			if err != nil {
				return nil, err
			}
			if err := writeQP(w, part.content); err != nil {
				return nil, err
			}
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out bytes.Buffer
	for _, k := range keys {
		if headers[k] == "" {
			continue
		}
		fmt.Fprintf(&out, "%s: %s\r\n", k, headers[k])
	}
	out.WriteString("\r\n")
	out.Write(normalizeCRLF(body.Bytes()))
	return out.Bytes(), nil
}

func writeQP(w interface{ Write([]byte) (int, error) }, s string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(normalizeBody(s))); err != nil {
		return err
	}
	return qp.Close()
}

func normalizeBody(body string) string {
	if body == "" {
		return ""
	}
	normalized := strings.ReplaceAll(body, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	return strings.ReplaceAll(normalized, "\n", "\r\n")
}

func normalizeCRLF(b []byte) []byte {
	b = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(b, []byte("\n"), []byte("\r\n"))
}

func sanitizeHeaderValue(value string) string {
	clean := strings.ReplaceAll(value, "\r", " ")
	clean = strings.ReplaceAll(clean, "\n", " ")
	return strings.TrimSpace(clean)
}

func extractDomain(address string) string {
	address = strings.TrimSpace(address)
	if i := strings.LastIndex(address, "<"); i >= 0 {
		address = strings.TrimSuffix(address[i+1:], ">")
	}
	if i := strings.LastIndex(address, "@"); i >= 0 && i+1 < len(address) {
		return strings.ToLower(address[i+1:])
	}
	return ""
}
