package delivery

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mailqueue/internal/storage"
	logx "mailqueue/pkg/logx"
)

const DefaultHistorySize = 500

// Archive receives a copy of every recorded entry. Implemented by storage.Store.
type Archive interface {
	AppendHistory(ctx context.Context, rec storage.HistoryRecord) error
}

// History is the bounded in-memory log of delivery outcomes, newest first.
type History struct {
	mu       sync.RWMutex
	entries  []HistoryEntry
	capacity int

	clock   Clock
	archive Archive
	log     logx.Logger
}

func NewHistory(capacity int, clock Clock) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &History{capacity: capacity, clock: clock, log: logx.Nop()}
}

// SetArchive enables best-effort write-through. nil disables it.
func (h *History) SetArchive(a Archive, log logx.Logger) {
	h.mu.Lock()
	h.archive = a
	if !log.IsZero() {
		h.log = log
	}
	h.mu.Unlock()
}

func (h *History) Capacity() int { return h.capacity }

// Record assigns ID and CreatedAt (when zero), prepends the entry and
// evicts the oldest entries beyond capacity.
func (h *History) Record(e HistoryEntry) HistoryEntry {
	e.ID = uuid.NewString()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = h.clock.Now()
	}
	e.Category = ParseCategory(string(e.Category))

	h.mu.Lock()
	h.entries = append(h.entries, HistoryEntry{})
	copy(h.entries[1:], h.entries)
	h.entries[0] = e
	if len(h.entries) > h.capacity {
		clear(h.entries[h.capacity:])
		h.entries = h.entries[:h.capacity]
	}
	archive := h.archive
	log := h.log
	h.mu.Unlock()

	if archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := archive.AppendHistory(ctx, toRecord(e)); err != nil {
			log.Warn("history archive write failed", logx.String("id", e.ID), logx.Err(err))
		}
		cancel()
	}
	return e
}

// List returns up to limit entries, newest first. limit is clamped to [1, capacity].
func (h *History) List(limit int) []HistoryEntry {
	if limit < 1 {
		limit = 1
	}
	if limit > h.capacity {
		limit = h.capacity
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if limit > len(h.entries) {
		limit = len(h.entries)
	}
	out := make([]HistoryEntry, limit)
	copy(out, h.entries[:limit])
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

func toRecord(e HistoryEntry) storage.HistoryRecord {
	return storage.HistoryRecord{
		ID:        e.ID,
		Category:  string(e.Category),
		To:        e.To,
		Subject:   e.Subject,
		Status:    string(e.Status),
		Error:     e.Error,
		CreatedAt: e.CreatedAt,
	}
}

// FromRecord converts an archived row back into an entry.
func FromRecord(r storage.HistoryRecord) HistoryEntry {
	return HistoryEntry{
		ID:        r.ID,
		Category:  ParseCategory(r.Category),
		To:        r.To,
		Subject:   r.Subject,
		Status:    Status(strings.ToLower(r.Status)),
		Error:     r.Error,
		CreatedAt: r.CreatedAt,
	}
}
