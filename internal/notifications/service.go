// Package notifications keeps the per-user notification feed that delivered
// mail is mirrored into, together with each user's channel preferences.
package notifications

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"mailqueue/internal/delivery"
	"mailqueue/internal/storage"
	logx "mailqueue/pkg/logx"
)

const (
	DefaultListLimit = 30
	MaxListLimit     = 100
)

var (
	ErrUnavailable = errors.New("notification feed unavailable")
	ErrNotFound    = errors.New("notification not found")
	ErrNoUser      = errors.New("user id is required")
)

// Settings are a user's channel preferences. Both default to true.
type Settings = storage.NotificationSettings

// SettingsPatch updates only the non-nil fields.
type SettingsPatch struct {
	ReceiveEmail *bool `json:"receiveEmail,omitempty"`
	ReceiveSite  *bool `json:"receiveSite,omitempty"`
}

type Service struct {
	store storage.Store
	log   logx.Logger
	now   func() time.Time
}

var _ delivery.Mirror = (*Service)(nil)

// New returns a Service; a nil store makes every call fail with ErrUnavailable.
func New(store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, log: log.With(logx.String("comp", "notifications")), now: time.Now}
}

func (s *Service) Available() bool { return s != nil && s.store != nil }

// Mirror stores a delivered message in the user's feed.
func (s *Service) Mirror(ctx context.Context, req delivery.MirrorRequest) error {
	if !s.Available() {
		return ErrUnavailable
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return ErrNoUser
	}
	n := storage.Notification{
		UserID:         userID,
		ID:             uuid.NewString(),
		Subject:        req.Subject,
		Body:           req.Body,
		Category:       string(req.Category),
		Channels:       normalizeChannels(req.Channels),
		RecipientEmail: req.RecipientEmail,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.PutNotification(ctx, n); err != nil {
		return err
	}
	s.log.Debug("notification stored", logx.String("user_id", userID), logx.String("id", n.ID))
	return nil
}

// List returns the newest notifications; limit <= 0 means the default, larger values are capped.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]storage.Notification, error) {
	if !s.Available() {
		return nil, ErrUnavailable
	}
	if strings.TrimSpace(userID) == "" {
		return nil, ErrNoUser
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	list, err := s.store.ListNotifications(ctx, strings.TrimSpace(userID), limit)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Channels = normalizeChannels(list[i].Channels)
	}
	return list, nil
}

// MarkRead sets the read time once; repeated calls return the first one.
func (s *Service) MarkRead(ctx context.Context, userID, id string) (time.Time, error) {
	if !s.Available() {
		return time.Time{}, ErrUnavailable
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return time.Time{}, ErrNoUser
	}
	at, err := s.store.MarkNotificationRead(ctx, userID, strings.TrimSpace(id), s.now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		return time.Time{}, ErrNotFound
	}
	return at, err
}

func defaultSettings() Settings {
	return Settings{ReceiveEmail: true, ReceiveSite: true, UpdatedAt: time.Unix(0, 0).UTC()}
}

func (s *Service) Settings(ctx context.Context, userID string) (Settings, error) {
	if !s.Available() {
		return Settings{}, ErrUnavailable
	}
	if strings.TrimSpace(userID) == "" {
		return Settings{}, ErrNoUser
	}
	st, ok, err := s.store.GetSettings(ctx, strings.TrimSpace(userID))
	if err != nil {
		return Settings{}, err
	}
	if !ok {
		return defaultSettings(), nil
	}
	return st, nil
}

func (s *Service) SaveSettings(ctx context.Context, userID string, patch SettingsPatch) (Settings, error) {
	cur, err := s.Settings(ctx, userID)
	if err != nil {
		return Settings{}, err
	}
	if patch.ReceiveEmail != nil {
		cur.ReceiveEmail = *patch.ReceiveEmail
	}
	if patch.ReceiveSite != nil {
		cur.ReceiveSite = *patch.ReceiveSite
	}
	cur.UpdatedAt = s.now().UTC()
	if err := s.store.PutSettings(ctx, strings.TrimSpace(userID), cur); err != nil {
		return Settings{}, err
	}
	return cur, nil
}

func normalizeChannels(in []string) []string {
	if len(in) == 0 {
		return []string{delivery.ChannelEmail, delivery.ChannelSite}
	}
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, c := range in {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	if len(out) == 0 {
		return []string{delivery.ChannelEmail, delivery.ChannelSite}
	}
	return out
}
