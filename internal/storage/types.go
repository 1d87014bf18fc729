package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("storage: record not found")
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// HistoryRecord is the archived form of one delivery outcome.
type HistoryRecord struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification is one entry of a user's notification feed.
type Notification struct {
	UserID         string     `json:"user_id"`
	ID             string     `json:"id"`
	Subject        string     `json:"subject"`
	Body           string     `json:"body"`
	Category       string     `json:"category,omitempty"`
	Channels       []string   `json:"channels"`
	RecipientEmail string     `json:"recipient_email,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

// NotificationSettings are per-user delivery preferences.
type NotificationSettings struct {
	ReceiveEmail bool      `json:"receive_email"`
	ReceiveSite  bool      `json:"receive_site"`
	UpdatedAt    time.Time `json:"updated_at"`
}
