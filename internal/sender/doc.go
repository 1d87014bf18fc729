// Package sender contains delivery.Sender implementations.
//
// SMTP speaks to a relay over STARTTLS (or implicit TLS on port 465), authenticates
// with PLAIN auth and optionally DKIM-signs the message. Log is a dry-run sender that
// only writes the message to the log.
package sender
