package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "mailqueue/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.history.jsonl            (append-only JSON Lines, rewritten on prune)
//   - <prefix>.feed.snapshot.json       (periodic snapshot of notifications + settings)
//   - <prefix>.feed.journal.jsonl       (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	historyPath string
	historyFile *os.File
	history     []HistoryRecord // oldest first

	feedSnapshotPath string
	feedJournalFile  *os.File
	feed             feedState

	feedWrites int
}

type feedState struct {
	Notifications map[string][]Notification       `json:"notifications"`
	Settings      map[string]NotificationSettings `json:"settings"`
}

type feedOp struct {
	Op           string                `json:"op"` // put | read | settings
	UserID       string                `json:"user_id"`
	Notification *Notification         `json:"notification,omitempty"`
	ID           string                `json:"id,omitempty"`
	At           time.Time             `json:"at,omitempty"`
	Settings     *NotificationSettings `json:"settings,omitempty"`
}

const feedCompactEvery = 500

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	historyPath := prefix + ".history.jsonl"
	snapPath := prefix + ".feed.snapshot.json"
	journalPath := prefix + ".feed.journal.jsonl"

	history, _ := loadHistory(historyPath)
	hf, err := os.OpenFile(historyPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	feed := newFeedState()
	_ = loadFeedSnapshot(snapPath, &feed)
	_ = replayFeedJournal(journalPath, &feed)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = hf.Close()
		return nil, err
	}

	return &fileStore{
		log:              log,
		historyPath:      historyPath,
		historyFile:      hf,
		history:          history,
		feedSnapshotPath: snapPath,
		feedJournalFile:  jf,
		feed:             feed,
	}, nil
}

func newFeedState() feedState {
	return feedState{
		Notifications: map[string][]Notification{},
		Settings:      map[string]NotificationSettings{},
	}
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.historyFile != nil {
		err1 = s.historyFile.Close()
		s.historyFile = nil
	}
	if s.feedJournalFile != nil {
		err2 = s.feedJournalFile.Close()
		s.feedJournalFile = nil
	}
	return errors.Join(err1, err2)
}

func (s *fileStore) AppendHistory(_ context.Context, rec HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyFile == nil {
		return errors.New("history file closed")
	}
	if err := json.NewEncoder(s.historyFile).Encode(rec); err != nil {
		return err
	}
	s.history = append(s.history, rec)
	return nil
}

func (s *fileStore) ListHistory(_ context.Context, limit int) ([]HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]HistoryRecord, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.history[i])
	}
	return out, nil
}

func (s *fileStore) PruneHistory(_ context.Context, keep int, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyFile == nil {
		return 0, errors.New("history file closed")
	}

	kept := s.history
	if !olderThan.IsZero() {
		i := 0
		for i < len(kept) && kept[i].CreatedAt.Before(olderThan) {
			i++
		}
		kept = kept[i:]
	}
	if keep > 0 && len(kept) > keep {
		kept = kept[len(kept)-keep:]
	}
	removed := len(s.history) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	tmp := s.historyPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(f)
	for _, rec := range kept {
		if err := enc.Encode(rec); err != nil {
			_ = f.Close()
			return 0, err
		}
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	_ = s.historyFile.Close()
	if err := os.Rename(tmp, s.historyPath); err != nil {
		return 0, err
	}
	hf, err := os.OpenFile(s.historyPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.historyFile = nil
		return 0, err
	}
	s.historyFile = hf
	s.history = append([]HistoryRecord(nil), kept...)
	return removed, nil
}

func (s *fileStore) PutNotification(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := feedOp{Op: "put", UserID: n.UserID, Notification: &n}
	return s.journalLocked(op)
}

func (s *fileStore) ListNotifications(_ context.Context, userID string, limit int) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.feed.Notifications[userID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]Notification, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

func (s *fileStore) MarkNotificationRead(_ context.Context, userID, id string, at time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.feed.find(userID, id)
	if n == nil {
		return time.Time{}, ErrNotFound
	}
	if n.ReadAt != nil {
		return *n.ReadAt, nil
	}
	op := feedOp{Op: "read", UserID: userID, ID: id, At: at}
	if err := s.journalLocked(op); err != nil {
		return time.Time{}, err
	}
	return at, nil
}

func (s *fileStore) GetSettings(_ context.Context, userID string) (NotificationSettings, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.feed.Settings[userID]
	return st, ok, nil
}

func (s *fileStore) PutSettings(_ context.Context, userID string, st NotificationSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := feedOp{Op: "settings", UserID: userID, Settings: &st}
	return s.journalLocked(op)
}

// journalLocked appends op to the journal and applies it to the in-memory state.
func (s *fileStore) journalLocked(op feedOp) error {
	if s.feedJournalFile == nil {
		return errors.New("feed journal closed")
	}
	if err := json.NewEncoder(s.feedJournalFile).Encode(op); err != nil {
		return err
	}
	s.feed.apply(op)
	s.feedWrites++
	if s.feedWrites%feedCompactEvery == 0 {
		// Best-effort compact; the journal stays authoritative on failure.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("feed compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.feedSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.feed); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.feedSnapshotPath); err != nil {
		return err
	}
	if err := s.feedJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.feedJournalFile.Seek(0, 2)
	return err
}

func (f *feedState) find(userID, id string) *Notification {
	list := f.Notifications[userID]
	for i := range list {
		if list[i].ID == id {
			return &list[i]
		}
	}
	return nil
}

func (f *feedState) apply(op feedOp) {
	switch op.Op {
	case "put":
		if op.Notification == nil {
			return
		}
		list := append(f.Notifications[op.UserID], *op.Notification)
		sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
		f.Notifications[op.UserID] = list
	case "read":
		if n := f.find(op.UserID, op.ID); n != nil && n.ReadAt == nil {
			at := op.At
			n.ReadAt = &at
		}
	case "settings":
		if op.Settings != nil {
			f.Settings[op.UserID] = *op.Settings
		}
	}
}

func loadHistory(path string) ([]HistoryRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []HistoryRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec HistoryRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil || rec.ID == "" {
			continue
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

func loadFeedSnapshot(path string, out *feedState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var st feedState
	if err := json.NewDecoder(f).Decode(&st); err != nil {
		return err
	}
	for k, v := range st.Notifications {
		out.Notifications[k] = v
	}
	for k, v := range st.Settings {
		out.Settings[k] = v
	}
	return nil
}

func replayFeedJournal(path string, out *feedState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var op feedOp
		if err := json.Unmarshal(sc.Bytes(), &op); err != nil || op.UserID == "" {
			continue
		}
		out.apply(op)
	}
	return sc.Err()
}
